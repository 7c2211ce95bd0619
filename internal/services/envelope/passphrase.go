package envelope

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// StdinPath selects standard input as the passphrase file.
const StdinPath = "-"

// MaxConfirmAttempts bounds the interactive confirmation loop.
const MaxConfirmAttempts = 3

// Prompter reads a secret without echo.
type Prompter interface {
	ReadSecret(ctx context.Context, prompt string) (string, error)
}

// TerminalPrompter prompts on a terminal file descriptor.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

var readPassword = term.ReadPassword

// NewTerminalPrompter prompts on stdin and writes prompts to stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// ReadSecret implements Prompter.
func (p *TerminalPrompter) ReadSecret(ctx context.Context, prompt string) (string, error) {
	fd := int(p.In.Fd()) //nolint:gosec // file descriptors fit in int
	if !term.IsTerminal(fd) {
		return "", models.ConfigErrorf("no terminal available to prompt for a passphrase (use --passphrase-file)")
	}

	_, _ = fmt.Fprint(p.Out, prompt)
	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := readPassword(fd)
		ch <- result{b: b, err: err}
	}()

	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(p.Out)
		return "", models.InterruptedError(ctx.Err())
	case res := <-ch:
		_, _ = fmt.Fprintln(p.Out)
		if res.err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", res.err)
		}
		return string(res.b), nil
	}
}

// Source resolves passphrases from flags, files, stdin or a prompt.
type Source struct {
	Prompter Prompter
	Stdin    io.Reader
	logger   zerolog.Logger
}

// NewSource creates a passphrase source backed by the terminal.
func NewSource(logger zerolog.Logger) *Source {
	return &Source{
		Prompter: NewTerminalPrompter(),
		Stdin:    os.Stdin,
		logger:   logger,
	}
}

// NewSourceWith creates a passphrase source with custom input (for testing).
func NewSourceWith(logger zerolog.Logger, prompter Prompter, stdin io.Reader) *Source {
	return &Source{Prompter: prompter, Stdin: stdin, logger: logger}
}

// FromFile reads a passphrase from path, or from stdin when path is "-".
// One trailing line terminator is stripped.
func (s *Source) FromFile(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == StdinPath {
		data, err = io.ReadAll(s.Stdin)
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // passphrase file is user input
	}
	if err != nil {
		return "", models.ConfigErrorf("failed to read passphrase file: %w", err)
	}

	pass := StripLineTerminator(string(data))
	if pass == "" {
		return "", models.ConfigErrorf("passphrase file %s is empty", path)
	}
	return pass, nil
}

// StripLineTerminator removes one trailing "\n" or "\r\n".
func StripLineTerminator(s string) string {
	if strings.HasSuffix(s, "\r\n") {
		return s[:len(s)-2]
	}
	return strings.TrimSuffix(s, "\n")
}

// Confirm asks for a new passphrase twice and re-prompts on mismatch.
func (s *Source) Confirm(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= MaxConfirmAttempts; attempt++ {
		first, err := s.Prompter.ReadSecret(ctx, "Passphrase: ")
		if err != nil {
			return "", err
		}
		if first == "" {
			s.logger.Warn().Int("attempt", attempt).Msg("passphrase must not be empty")
			continue
		}
		second, err := s.Prompter.ReadSecret(ctx, "Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if first == second {
			return first, nil
		}
		s.logger.Warn().Int("attempt", attempt).Msg("passphrases do not match")
	}
	return "", models.ConfigErrorf("%w after %d attempts", models.ErrPassphraseMismatch, MaxConfirmAttempts)
}

// Once asks for an existing passphrase a single time.
func (s *Source) Once(ctx context.Context) (string, error) {
	pass, err := s.Prompter.ReadSecret(ctx, "Archive passphrase: ")
	if err != nil {
		return "", err
	}
	if pass == "" {
		return "", models.ConfigErrorf("empty passphrase")
	}
	return pass, nil
}

// Resolve returns the explicit passphrase, else the file contents, else
// the result of ask.
func (s *Source) Resolve(passphrase, file string, ask func() (string, error)) (string, error) {
	if passphrase != "" {
		return passphrase, nil
	}
	if file != "" {
		return s.FromFile(file)
	}
	return ask()
}

// Lazy memoizes Resolve as a SecretFunc for restore.
func (s *Source) Lazy(ctx context.Context, passphrase, file string) SecretFunc {
	var (
		cached string
		done   bool
	)
	return func() (string, error) {
		if done {
			return cached, nil
		}
		pass, err := s.Resolve(passphrase, file, func() (string, error) { return s.Once(ctx) })
		if err != nil {
			return "", err
		}
		cached, done = pass, true
		return cached, nil
	}
}
