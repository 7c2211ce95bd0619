// Package envelope wraps compressed archives in gpg or age encryption and
// unwraps them again on restore.
package envelope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/rs/zerolog"
)

// SecretFunc supplies a passphrase on demand. It is only called when the
// envelope actually needs one.
type SecretFunc func() (string, error)

// Service defines the interface for archive encryption.
type Service interface {
	// CheckRecipient fails fast when keyID cannot be resolved locally.
	CheckRecipient(format models.EnvelopeFormat, keyID string) error
	// Seal encrypts path into path+suffix and removes path.
	Seal(ctx context.Context, path string, format models.EnvelopeFormat, spec models.EncryptionSpec) (string, error)
	// Unwrapper returns a reader transform that decrypts the stored bytes.
	Unwrapper(format models.EnvelopeFormat, secret SecretFunc) func(io.Reader) (io.Reader, error)
}

// Impl implements the envelope Service interface.
type Impl struct {
	settings models.EncryptionSettings
	logger   zerolog.Logger

	// scryptWorkFactor overrides the age scrypt cost when non-zero.
	scryptWorkFactor int
}

// New creates a new envelope service.
func New(logger zerolog.Logger, settings models.EncryptionSettings) *Impl {
	return &Impl{
		settings: settings,
		logger:   logger,
	}
}

// CheckRecipient verifies that the recipient key is usable before any
// remote work starts.
func (s *Impl) CheckRecipient(format models.EnvelopeFormat, keyID string) error {
	switch format {
	case models.EnvelopeAge:
		_, err := parseAgeRecipient(keyID)
		return err
	case models.EnvelopeGPG, "":
		return s.checkGPGRecipient(keyID)
	default:
		return models.ConfigErrorf("unsupported encryption format %q", format)
	}
}

// Seal writes the encrypted copy of path next to it and deletes the
// plaintext once the envelope is complete. On failure the partial
// envelope is removed and the plaintext is left alone.
func (s *Impl) Seal(ctx context.Context, path string, format models.EnvelopeFormat, spec models.EncryptionSpec) (string, error) {
	if !spec.Enabled() {
		return path, nil
	}
	if format == "" {
		format = models.EnvelopeGPG
	}
	dst := path + format.Suffix()

	s.logger.Info().
		Str("archive", path).
		Str("format", string(format)).
		Str("mode", spec.String()).
		Msg("encrypting archive")

	in, err := os.Open(path) //nolint:gosec // path comes from the resolved plan
	if err != nil {
		return "", models.PipelineErrorf("failed to open archive for encryption: %w", err)
	}
	defer func() { _ = in.Close() }()

	//nolint:gosec // path comes from the resolved plan
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", models.PipelineErrorf("failed to create encrypted archive: %w", err)
	}

	sealErr := s.sealTo(ctx, out, in, format, spec, filepath.Base(path))
	if sealErr == nil {
		sealErr = out.Sync()
	}
	if err := out.Close(); err != nil && sealErr == nil {
		sealErr = err
	}
	if sealErr != nil {
		_ = os.Remove(dst)
		if ctx.Err() != nil {
			return "", models.InterruptedError(ctx.Err())
		}
		if models.KindOf(sealErr) != models.KindUnknown {
			return "", sealErr
		}
		return "", models.PipelineErrorf("encryption failed: %w", sealErr)
	}

	if err := os.Remove(path); err != nil {
		return "", models.PipelineErrorf("failed to remove unencrypted archive: %w", err)
	}

	s.logger.Debug().Str("archive", dst).Msg("encryption completed")
	return dst, nil
}

func (s *Impl) sealTo(ctx context.Context, out io.Writer, in io.Reader, format models.EnvelopeFormat, spec models.EncryptionSpec, name string) error {
	var (
		w   io.WriteCloser
		err error
	)
	switch format {
	case models.EnvelopeGPG:
		w, err = s.gpgEncrypt(out, spec, name)
	case models.EnvelopeAge:
		w, err = s.ageEncrypt(out, spec)
	default:
		err = models.ConfigErrorf("unsupported encryption format %q", format)
	}
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, &ctxReader{ctx: ctx, r: in}); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Unwrapper returns the decrypting transform for format.
func (s *Impl) Unwrapper(format models.EnvelopeFormat, secret SecretFunc) func(io.Reader) (io.Reader, error) {
	return func(r io.Reader) (io.Reader, error) {
		switch format {
		case models.EnvelopeGPG:
			return s.gpgDecrypt(r, secret)
		case models.EnvelopeAge:
			return s.ageDecrypt(r, secret)
		default:
			return nil, models.ConfigErrorf("unsupported encryption format %q", format)
		}
	}
}

// ErrNoSecret is returned by a SecretFunc that has nothing to offer.
var ErrNoSecret = errors.New("no passphrase available")

// StaticSecret returns a SecretFunc that always yields passphrase.
func StaticSecret(passphrase string) SecretFunc {
	return func() (string, error) {
		if passphrase == "" {
			return "", ErrNoSecret
		}
		return passphrase, nil
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, fmt.Errorf("encryption aborted: %w", err)
	}
	return c.r.Read(p)
}
