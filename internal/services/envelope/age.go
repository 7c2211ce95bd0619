package envelope

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/agessh"
	"github.com/fgeck/gotar-homelab/internal/models"
)

const scryptStanza = "scrypt"

func parseAgeRecipient(value string) (age.Recipient, error) {
	v := strings.TrimSpace(value)
	var (
		r   age.Recipient
		err error
	)
	switch {
	case strings.HasPrefix(v, "age1"):
		r, err = age.ParseX25519Recipient(v)
	case strings.HasPrefix(strings.ToLower(v), "ssh-"):
		r, err = agessh.ParseRecipient(v)
	default:
		return nil, models.ConfigErrorf("%w: unsupported age recipient %q (expected age1... or an ssh public key)", models.ErrKeyNotFound, v)
	}
	if err != nil {
		return nil, models.ConfigErrorf("%w: invalid age recipient: %v", models.ErrKeyNotFound, err)
	}
	return r, nil
}

func (s *Impl) ageEncrypt(out io.Writer, spec models.EncryptionSpec) (io.WriteCloser, error) {
	switch spec.Kind {
	case models.EncryptionRecipient:
		r, err := parseAgeRecipient(spec.KeyID)
		if err != nil {
			return nil, err
		}
		return age.Encrypt(out, r)
	case models.EncryptionPassphrase:
		if spec.Passphrase == "" {
			return nil, models.ConfigErrorf("passphrase encryption requires a passphrase")
		}
		r, err := age.NewScryptRecipient(spec.Passphrase)
		if err != nil {
			return nil, models.ConfigErrorf("invalid passphrase: %w", err)
		}
		if s.scryptWorkFactor > 0 {
			r.SetWorkFactor(s.scryptWorkFactor)
		}
		return age.Encrypt(out, r)
	default:
		return nil, models.ConfigErrorf("encryption is not enabled")
	}
}

// ageIdentities loads the configured identity file. A missing file only
// means that recipient-encrypted archives cannot be opened.
func (s *Impl) ageIdentities() ([]age.Identity, error) {
	path := s.settings.AgeIdentityFile
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // identity path is user configuration
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug().Str("path", path).Msg("age identity file not found")
		return nil, nil
	}
	if err != nil {
		return nil, models.ConfigErrorf("failed to read age identity file: %w", err)
	}

	if bytes.Contains(data, []byte("PRIVATE KEY")) {
		id, err := agessh.ParseIdentity(data)
		if err != nil {
			return nil, models.ConfigErrorf("failed to parse ssh identity %s: %w", path, err)
		}
		return []age.Identity{id}, nil
	}

	ids, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, models.ConfigErrorf("failed to parse age identity file %s: %w", path, err)
	}
	return ids, nil
}

func (s *Impl) ageDecrypt(r io.Reader, secret SecretFunc) (io.Reader, error) {
	identities, err := s.ageIdentities()
	if err != nil {
		return nil, err
	}
	identities = append(identities, &lazyScryptIdentity{secret: secret})

	plain, err := age.Decrypt(r, identities...)
	if err != nil {
		if models.KindOf(err) != models.KindUnknown {
			return nil, err
		}
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, models.ConfigErrorf("%w: no age identity can decrypt this archive", models.ErrKeyNotFound)
		}
		return nil, models.PipelineErrorf("decrypting archive: %w", err)
	}
	return plain, nil
}

// lazyScryptIdentity asks for the passphrase only when the file header
// carries a scrypt stanza.
type lazyScryptIdentity struct {
	secret SecretFunc
}

func (l *lazyScryptIdentity) Unwrap(stanzas []*age.Stanza) ([]byte, error) {
	found := false
	for _, st := range stanzas {
		if st.Type == scryptStanza {
			found = true
		}
	}
	if !found {
		return nil, age.ErrIncorrectIdentity
	}

	pass, err := l.secret()
	if err != nil {
		return nil, models.ConfigErrorf("passphrase required to decrypt archive: %w", err)
	}
	id, err := age.NewScryptIdentity(pass)
	if err != nil {
		return nil, models.ConfigErrorf("invalid passphrase: %w", err)
	}

	key, err := id.Unwrap(stanzas)
	if errors.Is(err, age.ErrIncorrectIdentity) {
		return nil, models.PipelineErrorf("decryption failed: wrong passphrase")
	}
	return key, err
}
