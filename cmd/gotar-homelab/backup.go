package main

import (
	"fmt"
	"os"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/fgeck/gotar-homelab/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// backupFlags holds the raw flag values of the backup command.
type backupFlags struct {
	mode             string
	include          []string
	exclude          []string
	includeOnly      bool
	oneFileSystem    bool
	outputDir        string
	label            string
	compat           bool
	encrypt          bool
	recipient        string
	passphrase       string
	passphraseFile   string
	encryptionFormat string
	noChecksum       bool
	continueOnChange bool
	skipRootCheck    bool
	dryRun           bool
	verify           bool
}

var backupOpts backupFlags

var backupCmd = &cobra.Command{
	Use:   "backup user@host[:port] [path...]",
	Short: "Archive a remote host into a local file",
	Long: `Archive a remote host over SSH:
1. Resolve the path rules and check local preconditions
2. Wake-on-LAN (if configured)
3. Check remote privileges (root or passwordless sudo)
4. Stream tar over SSH, compress and write the archive
5. Encrypt (if requested)
6. Checksum, optional verification pass and report file
7. Metrics and Telegram notification (if configured)

Trailing paths are included (or excluded with --compat). In compat mode
the token "=" marks the next path as literal.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBackup,
}

func init() {
	f := backupCmd.Flags()
	f.StringVarP(&backupOpts.mode, "mode", "m", "", "backup mode: full, home or custom (default full)")
	f.StringArrayVarP(&backupOpts.include, "include", "i", nil, "path to include (repeatable)")
	f.StringArrayVarP(&backupOpts.exclude, "exclude", "e", nil, "path or pattern to exclude (repeatable)")
	f.BoolVar(&backupOpts.includeOnly, "include-only", false, "archive only the included paths")
	f.BoolVarP(&backupOpts.oneFileSystem, "one-file-system", "x", false, "stay on the file system of each starting path")
	f.StringVarP(&backupOpts.outputDir, "output-dir", "o", "", "local output directory (default .)")
	f.StringVarP(&backupOpts.label, "label", "l", "", "label added to the archive name")
	f.BoolVar(&backupOpts.compat, "compat", false, "treat trailing paths as excludes and widen them to path/*")
	f.BoolVarP(&backupOpts.encrypt, "encrypt", "E", false, "encrypt the archive (passphrase unless --recipient is given)")
	f.StringVarP(&backupOpts.recipient, "recipient", "r", "", "encrypt for this key id, user id or age recipient")
	f.StringVar(&backupOpts.passphrase, "passphrase", "", "encrypt with this passphrase")
	f.StringVar(&backupOpts.passphraseFile, "passphrase-file", "", "read the passphrase from a file (- for stdin)")
	f.StringVar(&backupOpts.encryptionFormat, "encryption-format", "", "encryption format: gpg or age")
	f.BoolVar(&backupOpts.noChecksum, "no-checksum", false, "skip the SHA-256 checksum")
	f.BoolVar(&backupOpts.continueOnChange, "continue-on-change", false, "keep the archive when files changed while being read")
	f.BoolVar(&backupOpts.skipRootCheck, "skip-root-check", false, "archive with the remote user's own permissions")
	f.BoolVarP(&backupOpts.dryRun, "dry-run", "n", false, "print the resolved plan and exit")
	f.BoolVar(&backupOpts.verify, "verify", false, "read the archive back after writing it")
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts, err := buildBackupOptions(backupOpts, cmd.Flags().Changed, *cfg, args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, cfg.Encryption, os.Stdout)
	result, err := runnerSvc.Backup(ctx, opts, *cfg)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}

	fmt.Fprintln(os.Stdout, result.ArchivePath)
	return nil
}

// buildBackupOptions merges explicitly set flags over the config defaults.
//
//nolint:gocognit,gocyclo // one branch per flag
func buildBackupOptions(f backupFlags, changed func(string) bool, cfg models.AppConfig, args []string) (models.BackupOptions, error) {
	d := cfg.Defaults
	opts := models.BackupOptions{
		Target:           args[0],
		Positional:       args[1:],
		Mode:             d.Mode,
		ModeExplicit:     d.Mode != "",
		Include:          d.Include,
		Exclude:          d.Exclude,
		IncludeOnly:      d.IncludeOnly,
		OneFileSystem:    d.OneFileSystem,
		OutputDir:        d.OutputDir,
		Label:            d.Label,
		Compat:           d.Compat,
		SkipChecksum:     d.SkipChecksum,
		ContinueOnChange: d.ContinueOnChange,
		SkipRootCheck:    d.SkipRootCheck,
		Verify:           d.Verify,
		EncryptionFormat: cfg.Encryption.Format,
		ConfigFile:       cfg.SourceFile,
	}

	if changed("mode") {
		mode, err := models.ParseMode(f.mode)
		if err != nil {
			return models.BackupOptions{}, err
		}
		opts.Mode = mode
		opts.ModeExplicit = true
	}
	if changed("include") {
		opts.Include = f.include
	}
	if changed("exclude") {
		opts.Exclude = f.exclude
	}
	if changed("include-only") {
		opts.IncludeOnly = f.includeOnly
	}
	if changed("one-file-system") {
		opts.OneFileSystem = f.oneFileSystem
	}
	if changed("output-dir") {
		opts.OutputDir = f.outputDir
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if changed("label") {
		opts.Label = f.label
	}
	if changed("compat") {
		opts.Compat = f.compat
	}
	if changed("no-checksum") {
		opts.SkipChecksum = f.noChecksum
	}
	if changed("continue-on-change") {
		opts.ContinueOnChange = f.continueOnChange
	}
	if changed("skip-root-check") {
		opts.SkipRootCheck = f.skipRootCheck
	}
	if changed("verify") {
		opts.Verify = f.verify
	}
	opts.DryRun = f.dryRun

	if changed("encryption-format") {
		switch format := models.EnvelopeFormat(f.encryptionFormat); format {
		case models.EnvelopeGPG, models.EnvelopeAge:
			opts.EncryptionFormat = format
		default:
			return models.BackupOptions{}, models.ConfigErrorf("unknown encryption format %q (expected gpg or age)", f.encryptionFormat)
		}
	}

	spec, passphraseFile, err := encryptionFromFlags(f, changed, cfg.Encryption)
	if err != nil {
		return models.BackupOptions{}, err
	}
	opts.Encryption = spec
	opts.PassphraseFile = passphraseFile

	return opts, nil
}

// encryptionFromFlags picks the encryption variant. Key flags replace the
// configured key material as a whole.
func encryptionFromFlags(f backupFlags, changed func(string) bool, settings models.EncryptionSettings) (models.EncryptionSpec, string, error) {
	explicit := changed("recipient") || changed("passphrase") || changed("passphrase-file")

	switch {
	case changed("encrypt") && !f.encrypt:
		if explicit {
			return models.EncryptionSpec{}, "", models.ConfigErrorf("--encrypt=false conflicts with --recipient, --passphrase and --passphrase-file")
		}
		return models.EncryptionSpec{}, "", nil
	case explicit:
		if f.recipient != "" && (f.passphrase != "" || f.passphraseFile != "") {
			return models.EncryptionSpec{}, "", models.ConfigErrorf("--recipient cannot be combined with --passphrase or --passphrase-file")
		}
		spec := models.NewEncryptionSpec(true, f.recipient, f.passphrase, f.passphraseFile)
		if spec.Kind != models.EncryptionPassphrase {
			return spec, "", nil
		}
		return spec, f.passphraseFile, nil
	case f.encrypt || settings.Enabled || settings.Recipient != "":
		spec := models.NewEncryptionSpec(true, settings.Recipient, "", settings.PassphraseFile)
		if spec.Kind != models.EncryptionPassphrase {
			return spec, "", nil
		}
		return spec, settings.PassphraseFile, nil
	default:
		return models.EncryptionSpec{}, "", nil
	}
}
