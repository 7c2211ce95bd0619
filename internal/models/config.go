// Package models contains the data structures used throughout gotar-homelab.
package models

import "time"

// AppConfig holds the defaults loaded from the configuration file.
type AppConfig struct {
	Defaults    BackupDefaults
	Encryption  EncryptionSettings
	Compression CompressionSettings
	SSH         SSHConfig
	WOL         *WOLConfig      // nil if not configured
	Telegram    *TelegramConfig // nil if not configured
	Metrics     *MetricsConfig  // nil if not configured
	SourceFile  string          // empty when no config file was found
}

// BackupDefaults are the default values for backup options.
type BackupDefaults struct {
	Mode             Mode
	Include          []string
	Exclude          []string
	IncludeOnly      bool
	OneFileSystem    bool
	OutputDir        string
	Label            string
	Compat           bool
	SkipChecksum     bool
	ContinueOnChange bool
	SkipRootCheck    bool
	Verify           bool
}

// EncryptionSettings holds encryption defaults and key store locations.
type EncryptionSettings struct {
	Enabled         bool
	Format          EnvelopeFormat
	Recipient       string
	PassphraseFile  string
	Keyring         string // public keyring used for gpg recipients
	SecretKeyring   string // secret keyring used for gpg decryption
	AgeIdentityFile string // identity file used for age decryption
}

// CompressionSettings holds compressor tuning.
type CompressionSettings struct {
	Format      CompressionFormat
	Level       string // "fastest", "default", "better", "best"
	Concurrency int    // 0 means all CPUs
}

// MetricsConfig holds the node_exporter textfile target.
type MetricsConfig struct {
	TextfilePath string
}

// SSHConfig holds remote-shell transport settings.
type SSHConfig struct {
	Port                  int
	User                  string // used when the target has no user@ part
	KeyPath               string
	KnownHostsPath        string
	StrictHostKeyChecking bool
	UseAgent              bool
	ConnectTimeout        time.Duration
}
