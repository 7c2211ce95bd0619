package integrity

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/gotar-homelab/internal/models"
	"gopkg.in/yaml.v3"
)

// Report is the key: value document written next to every archive.
type Report struct {
	RunID             string    `yaml:"run_id"`
	CreatedAt         time.Time `yaml:"created_at"`
	Hostname          string    `yaml:"hostname"`
	Mode              string    `yaml:"mode"`
	Label             string    `yaml:"label,omitempty"`
	IncludeOnly       bool      `yaml:"include_only"`
	OneFileSystem     bool      `yaml:"one_file_system"`
	Compat            bool      `yaml:"compat"`
	Includes          []string  `yaml:"includes"`
	Excludes          []string  `yaml:"excludes"`
	RemoteCommand     string    `yaml:"remote_command"`
	Compression       string    `yaml:"compression"`
	Encryption        string    `yaml:"encryption"`
	EncryptionFormat  string    `yaml:"encryption_format,omitempty"`
	Recipient         string    `yaml:"recipient,omitempty"`
	Output            string    `yaml:"output"`
	SizeBytes         int64     `yaml:"size_bytes"`
	Size              string    `yaml:"size"`
	ElapsedSeconds    int       `yaml:"elapsed_seconds"`
	ChecksumAlgorithm string    `yaml:"checksum_algorithm,omitempty"`
	Checksum          string    `yaml:"checksum,omitempty"`
	ChecksumSkipped   string    `yaml:"checksum_skipped,omitempty"`
	Verify            string    `yaml:"verify"`
	Warnings          []string  `yaml:"warnings,omitempty"`
	ConfigFile        string    `yaml:"config_file,omitempty"`
}

// NewReport builds the report of a finished backup.
func NewReport(result models.PipelineResult) Report {
	plan := result.SourcePlan
	r := Report{
		RunID:           result.RunID,
		CreatedAt:       result.CreatedAt.UTC(),
		Hostname:        plan.Host,
		Mode:            string(plan.Mode),
		Label:           plan.Label,
		IncludeOnly:     plan.IncludeOnly,
		OneFileSystem:   plan.OneFileSystem,
		Compat:          plan.Compat,
		Includes:        nonNil(plan.IncludePaths),
		Excludes:        nonNil(plan.ExcludePaths),
		RemoteCommand:   result.RemoteCommand,
		Compression:     string(result.Compression),
		Encryption:      encryptionName(result.Encryption),
		Output:          result.ArchivePath,
		SizeBytes:       result.SizeBytes,
		Size:            result.SizeHuman,
		ElapsedSeconds:  result.ElapsedSeconds,
		Checksum:        result.Checksum,
		ChecksumSkipped: result.ChecksumSkippedReason,
		Verify:          string(result.VerifyStatus),
		Warnings:        result.Warnings,
		ConfigFile:      result.ConfigFile,
	}
	if result.Encryption.Enabled() {
		r.EncryptionFormat = string(result.EncryptionFormat)
	}
	if result.Encryption.Kind == models.EncryptionRecipient {
		r.Recipient = result.Encryption.KeyID
	}
	if r.Checksum != "" {
		r.ChecksumAlgorithm = Algorithm
	}
	return r
}

func encryptionName(spec models.EncryptionSpec) string {
	switch spec.Kind {
	case models.EncryptionRecipient:
		return "recipient"
	case models.EncryptionPassphrase:
		return "passphrase"
	default:
		return "none"
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// WriteReport writes report to path. The file must not exist yet.
func WriteReport(path string, report Report) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	//nolint:gosec // reports are not secret
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}

// ReadReport parses a report file. The checksum key is matched without
// regard to case, and files that are not valid YAML still yield their
// checksum line when one is present.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path) //nolint:gosec // report path derives from the archive path
	if err != nil {
		return nil, err
	}

	var report Report
	if err := yaml.Unmarshal(data, &report); err == nil {
		if report.Checksum == "" {
			report.Checksum = foldedChecksum(data)
		}
		return &report, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(key), "checksum") {
			report.Checksum = strings.TrimSpace(value)
		}
	}
	return &report, scanner.Err()
}

// foldedChecksum returns the value of a top-level checksum key in any
// spelling, such as "Checksum" or "CHECKSUM".
func foldedChecksum(data []byte) string {
	var fields map[string]yaml.Node
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return ""
	}
	for key, node := range fields {
		// Scalars keep their literal text, so all-digit sums stay intact.
		if strings.EqualFold(strings.TrimSpace(key), "checksum") && node.Kind == yaml.ScalarNode {
			return strings.TrimSpace(node.Value)
		}
	}
	return ""
}
