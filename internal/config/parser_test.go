package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_LoadReader_EmptyConfig(t *testing.T) {
	parser := NewParserWithHome("/home/op")
	cfg, err := parser.LoadReader("")

	require.NoError(t, err)
	assert.Empty(t, cfg.Defaults.Mode)
	assert.Equal(t, ".", cfg.Defaults.OutputDir)
	assert.False(t, cfg.Defaults.Verify)
	assert.Equal(t, models.EnvelopeGPG, cfg.Encryption.Format)
	assert.Equal(t, "/home/op/.gnupg/pubring.gpg", cfg.Encryption.Keyring)
	assert.Equal(t, "/home/op/.gnupg/secring.gpg", cfg.Encryption.SecretKeyring)
	assert.Equal(t, "/home/op/.config/gotar-homelab/age-identity.txt", cfg.Encryption.AgeIdentityFile)
	assert.Equal(t, models.CompressionZstd, cfg.Compression.Format)
	assert.Equal(t, "default", cfg.Compression.Level)
	assert.Equal(t, 22, cfg.SSH.Port)
	assert.Equal(t, "root", cfg.SSH.User)
	assert.True(t, cfg.SSH.StrictHostKeyChecking)
	assert.True(t, cfg.SSH.UseAgent)
	assert.Equal(t, 30*time.Second, cfg.SSH.ConnectTimeout)
	assert.Nil(t, cfg.WOL)
	assert.Nil(t, cfg.Telegram)
	assert.Nil(t, cfg.Metrics)
}

func TestParser_LoadReader_FullConfig(t *testing.T) {
	yaml := `
defaults:
  mode: home
  include:
    - /etc
  exclude:
    - "*.log"
    - /home/*/.cache
  include_only: no
  one_file_system: yes
  output_dir: ~/backups
  label: nightly
  compat: off
  skip_checksum: false
  continue_on_change: "on"
  skip_root_check: 0
  verify: true

encryption:
  enabled: true
  format: age
  recipient: age1qyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqs3290gq
  passphrase_file: /run/secrets/backup-pass
  age_identity_file: ~/.config/age/key.txt

compression:
  format: gzip
  level: best
  concurrency: 4

ssh:
  port: 2222
  user: backup
  key_path: ~/.ssh/backup_ed25519
  known_hosts: /etc/ssh/ssh_known_hosts
  strict_host_key_checking: true
  use_agent: false
  connect_timeout: 10s

wol:
  mac_address: "AA:BB:CC:DD:EE:FF"
  broadcast_ip: "192.168.1.255"
  timeout: 2m
  poll_interval: 5s
  stabilize_wait: 15s

telegram:
  bot_token: "123456:ABC"
  chat_id: "-100123"

metrics:
  textfile: /var/lib/node_exporter/textfile_collector/gotar.prom
`
	parser := NewParserWithHome("/home/op")
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)

	assert.Equal(t, models.ModeHome, cfg.Defaults.Mode)
	assert.Equal(t, []string{"/etc"}, cfg.Defaults.Include)
	assert.Equal(t, []string{"*.log", "/home/*/.cache"}, cfg.Defaults.Exclude)
	assert.False(t, cfg.Defaults.IncludeOnly)
	assert.True(t, cfg.Defaults.OneFileSystem)
	assert.Equal(t, "/home/op/backups", cfg.Defaults.OutputDir)
	assert.Equal(t, "nightly", cfg.Defaults.Label)
	assert.False(t, cfg.Defaults.Compat)
	assert.False(t, cfg.Defaults.SkipChecksum)
	assert.True(t, cfg.Defaults.ContinueOnChange)
	assert.False(t, cfg.Defaults.SkipRootCheck)
	assert.True(t, cfg.Defaults.Verify)

	assert.True(t, cfg.Encryption.Enabled)
	assert.Equal(t, models.EnvelopeAge, cfg.Encryption.Format)
	assert.Equal(t, "/run/secrets/backup-pass", cfg.Encryption.PassphraseFile)
	assert.Equal(t, "/home/op/.config/age/key.txt", cfg.Encryption.AgeIdentityFile)

	assert.Equal(t, models.CompressionGzip, cfg.Compression.Format)
	assert.Equal(t, "best", cfg.Compression.Level)
	assert.Equal(t, 4, cfg.Compression.Concurrency)

	assert.Equal(t, 2222, cfg.SSH.Port)
	assert.Equal(t, "backup", cfg.SSH.User)
	assert.Equal(t, "/home/op/.ssh/backup_ed25519", cfg.SSH.KeyPath)
	assert.Equal(t, "/etc/ssh/ssh_known_hosts", cfg.SSH.KnownHostsPath)
	assert.False(t, cfg.SSH.UseAgent)
	assert.Equal(t, 10*time.Second, cfg.SSH.ConnectTimeout)

	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.WOL.MACAddress)
	assert.Equal(t, 2*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 5*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.WOL.StabilizeWait)

	require.NotNil(t, cfg.Telegram)
	assert.Equal(t, "-100123", cfg.Telegram.ChatID)

	require.NotNil(t, cfg.Metrics)
	assert.Equal(t, "/var/lib/node_exporter/textfile_collector/gotar.prom", cfg.Metrics.TextfilePath)
}

func TestParser_LoadReader_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "env-token")
	t.Setenv("BACKUP_SECRETS", "/run/secrets")

	yaml := `
encryption:
  passphrase_file: ${BACKUP_SECRETS}/pass
telegram:
  bot_token: ${TEST_BOT_TOKEN}
  chat_id: "42"
`
	cfg, err := NewParserWithHome("/home/op").LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "/run/secrets/pass", cfg.Encryption.PassphraseFile)
	assert.Equal(t, "env-token", cfg.Telegram.BotToken)
}

func TestParser_LoadReader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad mode", "defaults:\n  mode: everything\n", "defaults.mode"},
		{"bad bool", "defaults:\n  verify: maybe\n", "defaults.verify"},
		{"bad encryption format", "encryption:\n  format: pgp\n", "encryption.format"},
		{"bad compression format", "compression:\n  format: xz\n", "compression.format"},
		{"bad compression level", "compression:\n  level: ultra\n", "compression.level"},
		{"negative concurrency", "compression:\n  concurrency: -1\n", "compression.concurrency"},
		{"bad port", "ssh:\n  port: 70000\n", "ssh.port"},
		{"wol without mac", "wol:\n  broadcast_ip: 10.0.0.255\n", "wol.mac_address is required"},
		{"telegram without token", "telegram:\n  chat_id: \"1\"\n", "telegram.bot_token is required"},
		{"telegram without chat", "telegram:\n  bot_token: \"t\"\n", "telegram.chat_id is required"},
		{"metrics without path", "metrics:\n  enabled: true\n", "metrics.textfile is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParserWithHome("/home/op").LoadReader(tt.yaml)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, models.KindConfig, models.KindOf(err))
		})
	}
}

func TestParser_LoadReader_WOL_Defaults(t *testing.T) {
	yaml := `
wol:
  mac_address: "AA:BB:CC:DD:EE:FF"
`
	cfg, err := NewParserWithHome("").LoadReader(yaml)

	require.NoError(t, err)
	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "255.255.255.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, 5*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 10*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.WOL.StabilizeWait)
}

func TestParser_LoadFile_SetsSourceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaults:\n  label: weekly\n"), 0o600))

	cfg, err := NewParserWithHome("/home/op").LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, path, cfg.SourceFile)
	assert.Equal(t, "weekly", cfg.Defaults.Label)
}

func TestParser_LoadFile_Missing(t *testing.T) {
	_, err := NewParserWithHome("/home/op").LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))

	require.Error(t, err)
	assert.Equal(t, models.KindConfig, models.KindOf(err))
}

func TestParser_Load_DiscoversHomeConfig(t *testing.T) {
	home := t.TempDir()
	t.Chdir(t.TempDir())
	dir := filepath.Join(home, ".config", "gotar-homelab")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("defaults:\n  mode: home\n"), 0o600))

	cfg, err := NewParserWithHome(home).Load("")

	require.NoError(t, err)
	assert.Equal(t, models.ModeHome, cfg.Defaults.Mode)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.SourceFile)
}

func TestParser_Load_WorkingDirectoryWins(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Chdir(work)
	dir := filepath.Join(home, ".config", "gotar-homelab")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("defaults:\n  mode: home\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(work, FileName), []byte("defaults:\n  mode: custom\n"), 0o600))

	cfg, err := NewParserWithHome(home).Load("")

	require.NoError(t, err)
	assert.Equal(t, models.ModeCustom, cfg.Defaults.Mode)
}

func TestSearchPaths(t *testing.T) {
	assert.Equal(t, []string{
		"gotar-homelab.yaml",
		"/home/op/.config/gotar-homelab/config.yaml",
		"/etc/gotar-homelab/config.yaml",
	}, SearchPaths("/home/op"))
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in     string
		want   bool
		wantOK bool
	}{
		{"yes", true, true},
		{"No", false, true},
		{"ON", true, true},
		{"off", false, true},
		{"1", true, true},
		{"0", false, true},
		{" true ", true, true},
		{"perhaps", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseBool(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	assert.Error(t, Validate(nil))

	cfg, err := NewParserWithHome("").LoadReader("")
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))

	cfg.Encryption.Format = "rot13"
	assert.Error(t, Validate(cfg))
}
