// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/fgeck/gotar-homelab/internal/services/pipeline"
	"github.com/spf13/viper"
)

// FileName is the config file name looked up in the working directory.
const FileName = "gotar-homelab.yaml"

// Parser handles configuration file parsing.
type Parser struct {
	v    *viper.Viper
	home string
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	home, _ := os.UserHomeDir()
	return NewParserWithHome(home)
}

// NewParserWithHome creates a parser resolving "~" against home (for testing).
func NewParserWithHome(home string) *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v, home: home}
}

// SearchPaths returns the config file candidates in lookup order.
func SearchPaths(home string) []string {
	paths := []string{FileName}
	if home != "" {
		paths = append(paths, filepath.Join(home, ".config", "gotar-homelab", "config.yaml"))
	}
	return append(paths, "/etc/gotar-homelab/config.yaml")
}

// Discover returns the first existing file of SearchPaths, or "".
func Discover(home string) string {
	for _, p := range SearchPaths(home) {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// Load reads path, or the first discovered file when path is empty.
// Without any file the built-in defaults are returned.
func (p *Parser) Load(path string) (*models.AppConfig, error) {
	if path == "" {
		path = Discover(p.home)
	}
	if path == "" {
		return p.parse()
	}
	return p.LoadFile(path)
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.AppConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, models.ConfigErrorf("reading config file: %w", err)
	}

	cfg, err := p.parse()
	if err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	cfg.SourceFile = path
	return cfg, nil
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.AppConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, models.ConfigErrorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.AppConfig, error) {
	cfg := &models.AppConfig{}
	var errs []error
	boolean := func(key string, def bool) bool {
		b, err := p.getBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return b
	}

	// Backup defaults.
	// An empty mode lets the resolver pick one.
	var mode models.Mode
	if raw := p.v.GetString("defaults.mode"); raw != "" {
		m, err := models.ParseMode(raw)
		if err != nil {
			return nil, models.ConfigErrorf("defaults.mode: %w", err)
		}
		mode = m
	}
	cfg.Defaults = models.BackupDefaults{
		Mode:             mode,
		Include:          p.v.GetStringSlice("defaults.include"),
		Exclude:          p.v.GetStringSlice("defaults.exclude"),
		IncludeOnly:      boolean("defaults.include_only", false),
		OneFileSystem:    boolean("defaults.one_file_system", false),
		OutputDir:        p.expandPath(p.v.GetString("defaults.output_dir")),
		Label:            p.v.GetString("defaults.label"),
		Compat:           boolean("defaults.compat", false),
		SkipChecksum:     boolean("defaults.skip_checksum", false),
		ContinueOnChange: boolean("defaults.continue_on_change", false),
		SkipRootCheck:    boolean("defaults.skip_root_check", false),
		Verify:           boolean("defaults.verify", false),
	}
	if cfg.Defaults.OutputDir == "" {
		cfg.Defaults.OutputDir = "."
	}

	// Encryption.
	cfg.Encryption = models.EncryptionSettings{
		Enabled:         boolean("encryption.enabled", false),
		Format:          models.EnvelopeFormat(strings.ToLower(p.v.GetString("encryption.format"))),
		Recipient:       p.expandEnv(p.v.GetString("encryption.recipient")),
		PassphraseFile:  p.expandPath(p.v.GetString("encryption.passphrase_file")),
		Keyring:         p.expandPath(p.v.GetString("encryption.keyring")),
		SecretKeyring:   p.expandPath(p.v.GetString("encryption.secret_keyring")),
		AgeIdentityFile: p.expandPath(p.v.GetString("encryption.age_identity_file")),
	}
	if cfg.Encryption.Format == "" {
		cfg.Encryption.Format = models.EnvelopeGPG
	}
	if cfg.Encryption.Keyring == "" {
		cfg.Encryption.Keyring = p.homePath(".gnupg", "pubring.gpg")
	}
	if cfg.Encryption.SecretKeyring == "" {
		cfg.Encryption.SecretKeyring = p.homePath(".gnupg", "secring.gpg")
	}
	if cfg.Encryption.AgeIdentityFile == "" {
		cfg.Encryption.AgeIdentityFile = p.homePath(".config", "gotar-homelab", "age-identity.txt")
	}

	// Compression.
	cfg.Compression = models.CompressionSettings{
		Format:      models.CompressionFormat(strings.ToLower(p.v.GetString("compression.format"))),
		Level:       strings.ToLower(p.v.GetString("compression.level")),
		Concurrency: p.v.GetInt("compression.concurrency"),
	}
	if cfg.Compression.Format == "" {
		cfg.Compression.Format = models.CompressionZstd
	}
	if cfg.Compression.Level == "" {
		cfg.Compression.Level = pipeline.LevelDefault
	}

	// SSH transport.
	cfg.SSH = models.SSHConfig{
		Port:                  p.v.GetInt("ssh.port"),
		User:                  p.v.GetString("ssh.user"),
		KeyPath:               p.expandPath(p.v.GetString("ssh.key_path")),
		KnownHostsPath:        p.expandPath(p.v.GetString("ssh.known_hosts")),
		StrictHostKeyChecking: boolean("ssh.strict_host_key_checking", true),
		UseAgent:              boolean("ssh.use_agent", true),
		ConnectTimeout:        p.v.GetDuration("ssh.connect_timeout"),
	}
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 22
	}
	if cfg.SSH.User == "" {
		cfg.SSH.User = "root"
	}
	if cfg.SSH.ConnectTimeout == 0 {
		cfg.SSH.ConnectTimeout = 30 * time.Second
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, models.ConfigErrorf("wol.mac_address is required when wol is configured")
		}

		// Set defaults.
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, models.ConfigErrorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, models.ConfigErrorf("telegram.chat_id is required when telegram is configured")
		}
	}

	// Parse optional metrics config.
	if p.v.IsSet("metrics") {
		cfg.Metrics = &models.MetricsConfig{
			TextfilePath: p.expandPath(p.v.GetString("metrics.textfile")),
		}
		if cfg.Metrics.TextfilePath == "" {
			return nil, models.ConfigErrorf("metrics.textfile is required when metrics is configured")
		}
	}

	if len(errs) > 0 {
		return nil, models.ConfigErrorf("%w", errors.Join(errs...))
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getBool accepts true/false, yes/no, on/off and 1/0.
func (p *Parser) getBool(key string, def bool) (bool, error) {
	if !p.v.IsSet(key) {
		return def, nil
	}
	switch v := p.v.Get(key).(type) {
	case bool:
		return v, nil
	case int:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case string:
		if b, ok := ParseBool(v); ok {
			return b, nil
		}
	case nil:
		return def, nil
	}
	return false, fmt.Errorf("%s: %v is not a boolean (use true/false, yes/no, on/off or 1/0)", key, p.v.Get(key))
}

// ParseBool parses the boolean words accepted in config files.
func ParseBool(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1", "y":
		return true, true
	case "false", "no", "off", "0", "n":
		return false, true
	}
	return false, false
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandPath expands environment variables and a leading "~/".
func (p *Parser) expandPath(s string) string {
	s = p.expandEnv(s)
	if p.home != "" && (s == "~" || strings.HasPrefix(s, "~/")) {
		return filepath.Join(p.home, strings.TrimPrefix(s, "~"))
	}
	return s
}

func (p *Parser) homePath(elem ...string) string {
	if p.home == "" {
		return ""
	}
	return filepath.Join(append([]string{p.home}, elem...)...)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.AppConfig) error {
	if cfg == nil {
		return models.ConfigErrorf("configuration is nil")
	}

	switch cfg.Encryption.Format {
	case models.EnvelopeGPG, models.EnvelopeAge:
	default:
		return models.ConfigErrorf("encryption.format must be one of: gpg, age")
	}

	switch cfg.Compression.Format {
	case models.CompressionZstd, models.CompressionGzip:
	default:
		return models.ConfigErrorf("compression.format must be one of: zstd, gzip")
	}

	if !pipeline.ValidLevel(cfg.Compression.Level) {
		return models.ConfigErrorf("compression.level must be one of: fastest, default, better, best")
	}

	if cfg.Compression.Concurrency < 0 {
		return models.ConfigErrorf("compression.concurrency must not be negative")
	}

	if cfg.SSH.Port < 1 || cfg.SSH.Port > 65535 {
		return models.ConfigErrorf("ssh.port must be between 1 and 65535")
	}

	return nil
}
