package main

import (
	"os"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/fgeck/gotar-homelab/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	restoreNoSubdir       bool
	restoreSudo           bool
	restoreList           bool
	restorePaths          []string
	restorePassphrase     string
	restorePassphraseFile string
)

var restoreCmd = &cobra.Command{
	Use:   "restore archive [destination]",
	Short: "Verify and extract a local archive",
	Long: `Restore a local archive:
1. Check the archive against the checksum in its report (if present)
2. Decrypt (.gpg or .age), prompting for a passphrase when needed
3. Decompress and extract into destination/<archive name>, or list with --list

The destination defaults to the current directory.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRestore,
}

func init() {
	f := restoreCmd.Flags()
	f.BoolVar(&restoreNoSubdir, "no-subdir", false, "extract directly into the destination")
	f.BoolVar(&restoreSudo, "sudo", false, "run the extractor through sudo -n")
	f.BoolVarP(&restoreList, "list", "t", false, "list the archive contents instead of extracting")
	f.StringArrayVarP(&restorePaths, "path", "p", nil, "only restore this member (repeatable)")
	f.StringVar(&restorePassphrase, "passphrase", "", "passphrase of an encrypted archive")
	f.StringVar(&restorePassphraseFile, "passphrase-file", "", "read the passphrase from a file (- for stdin)")
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := models.RestoreOptions{
		ArchivePath:    args[0],
		Destination:    ".",
		Subdirectory:   !restoreNoSubdir,
		Elevate:        restoreSudo,
		ListOnly:       restoreList,
		Paths:          restorePaths,
		Passphrase:     restorePassphrase,
		PassphraseFile: restorePassphraseFile,
	}
	if len(args) > 1 {
		opts.Destination = args[1]
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, cfg.Encryption, os.Stdout)
	result, err := runnerSvc.Restore(ctx, opts, *cfg)
	if err != nil {
		return err
	}

	if !opts.ListOnly {
		log.Info().
			Str("destination", result.Destination).
			Str("checksum", result.ChecksumStatus).
			Msg("restore completed successfully")
	}
	return nil
}
