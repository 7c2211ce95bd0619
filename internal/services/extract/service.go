// Package extract unpacks tar streams with the local archiver.
package extract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Extractor is the local archiver binary.
const Extractor = "tar"

// maxOutput bounds the extractor output kept for error messages.
const maxOutput = 4096

// Options selects where and what to extract.
type Options struct {
	Destination string
	Elevate     bool
	Members     []string
}

// Service defines the interface for local extraction.
type Service interface {
	Prepare(ctx context.Context, opts Options) error
	Extract(ctx context.Context, r io.Reader, opts Options) error
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
	ExecuteWithStdin(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// ExecuteWithStdin runs a command reading stdin and returns its output.
func (e *DefaultExecutor) ExecuteWithStdin(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	return cmd.CombinedOutput()
}

// Impl implements the Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new extract service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new extract service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

func wrap(elevate bool, name string, args ...string) (string, []string) {
	if !elevate {
		return name, args
	}
	return "sudo", append([]string{"-n", "--", name}, args...)
}

// Prepare creates the destination directory.
func (s *Impl) Prepare(ctx context.Context, opts Options) error {
	if !opts.Elevate {
		if err := os.MkdirAll(opts.Destination, 0o750); err != nil {
			return models.PreflightErrorf("failed to create destination %s: %w", opts.Destination, err)
		}
		return nil
	}

	name, args := wrap(true, "mkdir", "-p", "--", opts.Destination)
	output, err := s.executor.Execute(ctx, name, args...)
	if err != nil {
		return models.PreflightErrorf("failed to create destination %s: %w, output: %s",
			opts.Destination, err, truncate(output))
	}
	return nil
}

// Args returns the extractor argument vector for opts.
func Args(opts Options) []string {
	args := []string{"--extract", "--file=-", "--numeric-owner", "--directory=" + opts.Destination}
	members := Members(opts.Members)
	if len(members) > 0 {
		args = append(args, "--")
		args = append(args, members...)
	}
	return args
}

// Members maps absolute paths to archive member names.
func Members(paths []string) []string {
	var out []string
	for _, p := range paths {
		m := strings.TrimLeft(p, "/")
		if m == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Extract feeds r to the local extractor.
func (s *Impl) Extract(ctx context.Context, r io.Reader, opts Options) error {
	name, args := wrap(opts.Elevate, Extractor, Args(opts)...)

	s.logger.Info().
		Str("destination", opts.Destination).
		Bool("elevated", opts.Elevate).
		Strs("members", opts.Members).
		Msg("extracting archive")

	output, err := s.executor.ExecuteWithStdin(ctx, r, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return models.InterruptedError(ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return models.PipelineErrorf("extractor exited with status %d: %s", exitErr.ExitCode(), truncate(output))
		}
		return models.PipelineErrorf("failed to run extractor: %w", err)
	}

	if len(output) > 0 {
		s.logger.Debug().Str("output", truncate(output)).Msg("extractor output")
	}
	return nil
}

// Sink adapts the extractor to a pipeline sink.
type Sink struct {
	Service Service
	Options Options
}

// Consume implements pipeline.Sink.
func (k *Sink) Consume(ctx context.Context, r io.Reader) error {
	return k.Service.Extract(ctx, r, k.Options)
}

func truncate(output []byte) string {
	out := bytes.TrimSpace(output)
	if len(out) > maxOutput {
		out = out[len(out)-maxOutput:]
	}
	return string(out)
}
