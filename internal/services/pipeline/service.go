// Package pipeline moves archive bytes between the remote archiver, the
// compressor, the local disk and the local extractor.
package pipeline

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/fgeck/gotar-homelab/internal/services/remotecmd"
	"github.com/fgeck/gotar-homelab/internal/services/ssh"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ExitFilesChanged is the archiver status for "file changed as we read it".
const ExitFilesChanged = 1

const writeBufferSize = 1 << 20

// Service defines the interface for the archive pipelines.
type Service interface {
	Backup(ctx context.Context, req BackupRequest) (*models.BackupArtifact, error)
	Restore(ctx context.Context, req RestoreRequest) error
}

// BackupRequest describes one remote archive → compress → disk run.
type BackupRequest struct {
	Target           models.Target
	SSH              models.SSHConfig
	Command          remotecmd.Command
	ArchivePath      string
	Compression      models.CompressionSettings
	ContinueOnChange bool
}

// Unwrapper turns the stored bytes into the compressed stream, for example
// by decrypting them.
type Unwrapper func(r io.Reader) (io.Reader, error)

// Sink consumes a plain tar stream.
type Sink interface {
	Consume(ctx context.Context, r io.Reader) error
}

// RestoreRequest describes one disk → unwrap → decompress → sink run.
type RestoreRequest struct {
	ArchivePath string
	Compression models.CompressionFormat
	Unwrap      Unwrapper // nil when the archive is not encrypted
	Sink        Sink
}

// Impl implements the pipeline Service interface.
type Impl struct {
	sshSvc ssh.Service
	logger zerolog.Logger
}

// New creates a new pipeline service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		sshSvc: ssh.New(logger),
		logger: logger,
	}
}

// NewWithSSH creates a new pipeline service with a custom transport (for testing).
func NewWithSSH(logger zerolog.Logger, sshSvc ssh.Service) *Impl {
	return &Impl{
		sshSvc: sshSvc,
		logger: logger,
	}
}

// Backup streams the remote archive through the compressor into
// req.ArchivePath. The caller owns removal of the file on failure.
//
//nolint:gocognit // every stage has its own failure path
func (s *Impl) Backup(ctx context.Context, req BackupRequest) (*models.BackupArtifact, error) {
	start := time.Now()

	s.logger.Info().
		Str("host", req.Target.Host).
		Str("archive", req.ArchivePath).
		Str("compression", string(req.Compression.Format)).
		Bool("elevated", req.Command.Elevated()).
		Msg("starting archive stream")

	//nolint:gosec // archive path is derived from the resolved plan
	f, err := os.OpenFile(req.ArchivePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, models.PipelineErrorf("failed to create archive file: %w", err)
	}

	buf := bufio.NewWriterSize(f, writeBufferSize)
	compressor, err := NewCompressor(buf, req.Compression)
	if err != nil {
		_ = f.Close()
		return nil, models.PipelineErrorf("compressor: %w", err)
	}

	result, streamErr := s.sshSvc.Stream(ctx, req.Target, req.SSH, req.Command.String(), compressor)

	closeErr := compressor.Close()
	if closeErr == nil {
		closeErr = buf.Flush()
	}
	if closeErr == nil {
		closeErr = f.Sync()
	}
	if err := f.Close(); err != nil && closeErr == nil {
		closeErr = err
	}

	if streamErr != nil {
		if ctx.Err() != nil {
			return nil, models.InterruptedError(ctx.Err())
		}
		return nil, models.PipelineErrorf("remote archiver: %w", streamErr)
	}

	artifact := &models.BackupArtifact{
		Path:         req.ArchivePath,
		BytesRead:    result.BytesWritten,
		ArchiverExit: result.ExitCode,
	}

	switch {
	case result.ExitCode == 0:
	case result.ExitCode == ExitFilesChanged && req.ContinueOnChange:
		warning := "archiver exited with status 1: some files changed while being read"
		s.logger.Warn().
			Int("exit_code", result.ExitCode).
			Str("stderr", result.Stderr).
			Msg("continuing despite changed files")
		artifact.Warnings = append(artifact.Warnings, warning)
	case result.ExitCode == ExitFilesChanged:
		return nil, &models.Error{
			Kind: models.KindPipeline,
			Err:  fmt.Errorf("%w (exit 1, use --continue-on-change to tolerate): %s", models.ErrFilesChanged, result.Stderr),
		}
	default:
		return nil, models.PipelineErrorf("archiver exited with status %d: %s", result.ExitCode, result.Stderr)
	}

	if closeErr != nil {
		return nil, models.PipelineErrorf("compressor failed: %w", closeErr)
	}

	s.logger.Info().
		Int64("bytes_read", artifact.BytesRead).
		Int("exit_code", artifact.ArchiverExit).
		Dur("duration", time.Since(start)).
		Msg("archive stream completed")

	return artifact, nil
}

// Restore decodes req.ArchivePath and feeds the tar stream to req.Sink.
// The archive file is only read.
func (s *Impl) Restore(ctx context.Context, req RestoreRequest) error {
	f, err := os.Open(req.ArchivePath)
	if err != nil {
		return models.PipelineErrorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	var stored io.Reader = bufio.NewReaderSize(f, writeBufferSize)
	if req.Unwrap != nil {
		stored, err = req.Unwrap(stored)
		if err != nil {
			return err
		}
	}

	dec, err := NewDecompressor(stored, req.Compression)
	if err != nil {
		return models.PipelineErrorf("decompressor: %w", err)
	}
	defer func() { _ = dec.Close() }()

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		src := &trackingReader{r: dec}
		// A write error means the sink stopped; the sink reports why.
		_, _ = io.Copy(pw, src)
		_ = pw.CloseWithError(src.err)
		if src.err != nil {
			return models.PipelineErrorf("decoding archive: %w", src.err)
		}
		return nil
	})

	g.Go(func() error {
		err := req.Sink.Consume(gctx, pr)
		if err == nil {
			// Read what the consumer left so truncation and trailing
			// corruption still surface.
			_, err = io.Copy(io.Discard, pr)
		}
		_ = pr.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return models.InterruptedError(ctx.Err())
		}
		return err
	}
	return nil
}

// ListSink reads the tar table of contents without writing to disk.
type ListSink struct {
	Entry func(hdr *tar.Header) error
}

// Consume implements Sink.
func (l *ListSink) Consume(ctx context.Context, r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return models.PipelineErrorf("reading archive contents: %w", err)
		}
		if l.Entry != nil {
			if err := l.Entry(hdr); err != nil {
				return err
			}
		}
	}
}

type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}
