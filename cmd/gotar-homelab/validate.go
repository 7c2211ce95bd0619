package main

import (
	"fmt"
	"strings"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without executing any backup operations.`,
	Args:  cobra.NoArgs,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, summary(cfg))
	return nil
}

func summary(cfg *models.AppConfig) string {
	var b strings.Builder
	source := cfg.SourceFile
	if source == "" {
		source = "(none, built-in defaults)"
	}

	mode := string(cfg.Defaults.Mode)
	if mode == "" {
		mode = "full (default)"
	}

	fmt.Fprintln(&b, "Configuration is valid!")
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Config file: %s\n", source)
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Defaults:")
	fmt.Fprintf(&b, "  Mode: %s\n", mode)
	fmt.Fprintf(&b, "  Output dir: %s\n", cfg.Defaults.OutputDir)
	fmt.Fprintf(&b, "  Includes: %v\n", cfg.Defaults.Include)
	fmt.Fprintf(&b, "  Excludes: %v\n", cfg.Defaults.Exclude)
	fmt.Fprintf(&b, "  Verify: %v\n", cfg.Defaults.Verify)
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Compression:")
	fmt.Fprintf(&b, "  Format: %s\n", cfg.Compression.Format)
	fmt.Fprintf(&b, "  Level: %s\n", cfg.Compression.Level)
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Encryption:")
	fmt.Fprintf(&b, "  Enabled: %v\n", cfg.Encryption.Enabled || cfg.Encryption.Recipient != "")
	fmt.Fprintf(&b, "  Format: %s\n", cfg.Encryption.Format)
	if cfg.Encryption.Recipient != "" {
		fmt.Fprintf(&b, "  Recipient: %s\n", cfg.Encryption.Recipient)
	}
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "SSH:")
	fmt.Fprintf(&b, "  User: %s\n", cfg.SSH.User)
	fmt.Fprintf(&b, "  Port: %d\n", cfg.SSH.Port)
	fmt.Fprintf(&b, "  Strict host key checking: %v\n", cfg.SSH.StrictHostKeyChecking)
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Optional Features:")
	fmt.Fprintf(&b, "  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Fprintf(&b, "  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Fprintf(&b, "  Metrics: %v\n", cfg.Metrics != nil)

	if cfg.WOL != nil {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "WOL Configuration:")
		fmt.Fprintf(&b, "  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Fprintf(&b, "  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
	}

	if cfg.Telegram != nil {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Telegram Configuration:")
		fmt.Fprintf(&b, "  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Fprintln(&b, "  Bot Token: (configured)")
	}

	if cfg.Metrics != nil {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Metrics Configuration:")
		fmt.Fprintf(&b, "  Textfile: %s\n", cfg.Metrics.TextfilePath)
	}

	return b.String()
}
