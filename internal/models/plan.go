package models

import "fmt"

// Mode selects which part of the remote filesystem is archived.
type Mode string

// Backup modes.
const (
	ModeFull   Mode = "full"
	ModeHome   Mode = "home"
	ModeCustom Mode = "custom"
)

// ParseMode converts a mode token into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeHome, ModeCustom:
		return Mode(s), nil
	default:
		return "", ConfigErrorf("unknown mode %q (expected full, home or custom)", s)
	}
}

// BackupOptions is the immutable options record produced by flag parsing
// merged over configuration defaults.
type BackupOptions struct {
	Target           string // user@host
	Positional       []string
	Mode             Mode
	ModeExplicit     bool // mode came from a flag or the config file
	Include          []string
	Exclude          []string
	IncludeOnly      bool
	OneFileSystem    bool
	OutputDir        string
	Label            string
	Compat           bool
	Encryption       EncryptionSpec
	EncryptionFormat EnvelopeFormat
	PassphraseFile   string
	SkipChecksum     bool
	ContinueOnChange bool
	SkipRootCheck    bool
	DryRun           bool
	Verify           bool
	ConfigFile       string
}

// BackupPlan is the resolved plan of a backup run. It is never mutated
// after resolution.
type BackupPlan struct {
	Host          string
	Mode          Mode
	IncludeOnly   bool
	IncludePaths  []string
	ExcludePaths  []string
	OneFileSystem bool
	Compat        bool
	Label         string
	OutputDir     string
}

// EncryptionKind selects the active EncryptionSpec variant.
type EncryptionKind int

// Encryption variants.
const (
	EncryptionNone EncryptionKind = iota
	EncryptionRecipient
	EncryptionPassphrase
)

// EncryptionSpec selects how the archive is wrapped. Exactly one variant
// is active.
type EncryptionSpec struct {
	Kind       EncryptionKind
	KeyID      string // recipient variant
	Passphrase string // passphrase variant, may be filled in by a prompt
}

// Enabled reports whether any encryption variant is active.
func (e EncryptionSpec) Enabled() bool {
	return e.Kind != EncryptionNone
}

// String returns a short description without secrets.
func (e EncryptionSpec) String() string {
	switch e.Kind {
	case EncryptionRecipient:
		return fmt.Sprintf("recipient(%s)", e.KeyID)
	case EncryptionPassphrase:
		return "passphrase"
	default:
		return "none"
	}
}

// NewEncryptionSpec derives the active variant. A recipient or passphrase
// enables encryption even when enabled is false.
func NewEncryptionSpec(enabled bool, recipient, passphrase, passphraseFile string) EncryptionSpec {
	switch {
	case recipient != "":
		return EncryptionSpec{Kind: EncryptionRecipient, KeyID: recipient}
	case passphrase != "" || passphraseFile != "":
		return EncryptionSpec{Kind: EncryptionPassphrase, Passphrase: passphrase}
	case enabled:
		return EncryptionSpec{Kind: EncryptionPassphrase}
	default:
		return EncryptionSpec{Kind: EncryptionNone}
	}
}

// EnvelopeFormat is the encryption container format.
type EnvelopeFormat string

// Envelope formats.
const (
	EnvelopeGPG EnvelopeFormat = "gpg"
	EnvelopeAge EnvelopeFormat = "age"
)

// Suffix returns the file suffix of the envelope format.
func (f EnvelopeFormat) Suffix() string {
	return "." + string(f)
}

// CompressionFormat is the stream compressor.
type CompressionFormat string

// Compression formats.
const (
	CompressionZstd CompressionFormat = "zstd"
	CompressionGzip CompressionFormat = "gzip"
)

// Suffix returns the archive suffix for the compression format.
func (f CompressionFormat) Suffix() string {
	if f == CompressionGzip {
		return ".tar.gz"
	}
	return ".tar.zst"
}
