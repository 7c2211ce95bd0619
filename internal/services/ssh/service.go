// Package ssh provides the remote-shell transport.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Probe commands. Both are fixed strings with no user input.
const (
	probeRootCommand = "id -u"
	probeSudoCommand = "sudo -n true"
)

// stderrTailSize bounds how much remote stderr is kept for error messages.
const stderrTailSize = 4096

// Service defines the interface for remote-shell operations.
type Service interface {
	Probe(ctx context.Context, target models.Target, cfg models.SSHConfig) (*models.RemoteCapability, error)
	Stream(ctx context.Context, target models.Target, cfg models.SSHConfig, cmd string, stdout io.Writer) (*models.StreamResult, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Stream(cmd string, stdout, stderr io.Writer) error
	Signal(sig ssh.Signal) error
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) CombinedOutput(cmd string) ([]byte, error) {
	return s.session.CombinedOutput(cmd)
}

func (s *defaultSSHSession) Stream(cmd string, stdout, stderr io.Writer) error {
	s.session.Stdout = stdout
	s.session.Stderr = stderr
	return s.session.Run(cmd)
}

func (s *defaultSSHSession) Signal(sig ssh.Signal) error {
	return s.session.Signal(sig)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
	home          string
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	home, _ := os.UserHomeDir()
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
		home:          home,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
	}
}

func (s *Impl) buildConfig(target models.Target, cfg models.SSHConfig) (*ssh.ClientConfig, func(), error) {
	var methods []ssh.AuthMethod
	cleanup := func() {}

	if cfg.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				s.logger.Debug().Err(err).Msg("ssh agent unavailable")
			} else {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
				cleanup = func() { _ = conn.Close() }
			}
		}
	}

	keyPath := cfg.KeyPath
	if keyPath == "" {
		keyPath = s.defaultKeyPath()
	}
	if keyPath != "" {
		key, err := os.ReadFile(keyPath) //nolint:gosec // path comes from configuration
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to read private key from %s: %w", keyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		switch {
		case err == nil:
			methods = append(methods, ssh.PublicKeys(signer))
		case cfg.KeyPath == "" && len(methods) > 0:
			// An encrypted default key is fine when the agent holds it.
			s.logger.Debug().Err(err).Str("path", keyPath).Msg("skipping default private key")
		default:
			cleanup()
			return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
		}
	}

	if len(methods) == 0 {
		cleanup()
		return nil, nil, fmt.Errorf("no private key or ssh agent available")
	}

	hostKeyCallback, err := s.hostKeyCallback(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return &ssh.ClientConfig{
		User:            target.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.ConnectTimeout,
	}, cleanup, nil
}

func (s *Impl) defaultKeyPath() string {
	if s.home == "" {
		return ""
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		p := filepath.Join(s.home, ".ssh", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (s *Impl) hostKeyCallback(cfg models.SSHConfig) (ssh.HostKeyCallback, error) {
	if !cfg.StrictHostKeyChecking {
		s.logger.Warn().Msg("host key checking disabled")
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicitly disabled in config
	}
	path := cfg.KnownHostsPath
	if path == "" && s.home != "" {
		path = filepath.Join(s.home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", path, err)
	}
	return callback, nil
}

func (s *Impl) connect(ctx context.Context, target models.Target, cfg models.SSHConfig) (SSHClient, error) {
	sshConfig, cleanup, err := s.buildConfig(target, cfg)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	port := target.Port
	if port == 0 {
		port = cfg.Port
	}
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(target.Host, strconv.Itoa(port))

	s.logger.Debug().
		Str("addr", addr).
		Str("user", target.User).
		Msg("connecting")

	// Create client with context timeout
	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-clientChan; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-clientChan:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, res.err)
		}
		return res.client, nil
	}
}

// Probe determines whether the remote session is root or can use
// passwordless sudo.
func (s *Impl) Probe(ctx context.Context, target models.Target, cfg models.SSHConfig) (*models.RemoteCapability, error) {
	client, err := s.connect(ctx, target, cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	uid, err := s.run(client, probeRootCommand)
	if err != nil {
		return nil, fmt.Errorf("root probe failed: %w", err)
	}

	capability := &models.RemoteCapability{IsRoot: strings.TrimSpace(uid.Output) == "0"}
	if !capability.IsRoot {
		sudo, err := s.run(client, probeSudoCommand)
		if err != nil {
			return nil, fmt.Errorf("sudo probe failed: %w", err)
		}
		capability.HasPasswordlessSudo = sudo.ExitCode == 0
	}

	s.logger.Info().
		Bool("root", capability.IsRoot).
		Bool("passwordless_sudo", capability.HasPasswordlessSudo).
		Msg("remote capability probed")

	return capability, nil
}

// run executes cmd and reports its exit code. Only transport failures are
// returned as errors.
func (s *Impl) run(client SSHClient, cmd string) (*models.SSHResult, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer func() { _ = session.Close() }()

	output, err := session.CombinedOutput(cmd)
	result := &models.SSHResult{CommandRun: true, Output: string(output)}
	if err != nil {
		code, ok := ExitStatus(err)
		if !ok {
			return nil, err
		}
		result.ExitCode = code
	}

	s.logger.Debug().
		Str("command", cmd).
		Int("exit_code", result.ExitCode).
		Msg("probe command completed")

	return result, nil
}

// Stream runs cmd remotely and copies its standard output into stdout.
// A non-zero exit status is reported in the result, not as an error.
func (s *Impl) Stream(
	ctx context.Context,
	target models.Target,
	cfg models.SSHConfig,
	cmd string,
	stdout io.Writer,
) (*models.StreamResult, error) {
	client, err := s.connect(ctx, target, cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer func() { _ = session.Close() }()

	s.logger.Debug().Str("command", cmd).Msg("starting remote stream")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = session.Signal(ssh.SIGTERM)
			_ = session.Close()
			_ = client.Close()
		case <-stop:
		}
	}()

	// A local write failure stops reading the channel, so the remote side
	// would block forever unless the session is torn down.
	counter := &countingWriter{w: stdout, onError: func() {
		_ = session.Close()
		_ = client.Close()
	}}
	stderr := &tailBuffer{max: stderrTailSize}
	runErr := session.Stream(cmd, counter, stderr)
	close(stop)
	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if counter.err != nil {
		return nil, fmt.Errorf("writing remote stream: %w", counter.err)
	}

	result := &models.StreamResult{
		BytesWritten: counter.n,
		Stderr:       strings.TrimSpace(stderr.String()),
	}
	if runErr != nil {
		code, ok := ExitStatus(runErr)
		if !ok {
			return nil, fmt.Errorf("remote stream failed: %w", runErr)
		}
		result.ExitCode = code
	}

	s.logger.Debug().
		Int("exit_code", result.ExitCode).
		Int64("bytes", result.BytesWritten).
		Msg("remote stream finished")

	return result, nil
}

// ExitStatus extracts a remote exit status from err.
func ExitStatus(err error) (int, bool) {
	var status interface{ ExitStatus() int }
	if errors.As(err, &status) {
		return status.ExitStatus(), true
	}
	return 0, false
}

type countingWriter struct {
	w       io.Writer
	n       int64
	err     error
	onError func()
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
		if c.onError != nil {
			c.onError()
		}
	}
	return n, err
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
