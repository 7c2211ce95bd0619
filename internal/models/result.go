package models

import "time"

// VerifyStatus is the outcome of the post-write verification pass.
type VerifyStatus string

// Verification outcomes.
const (
	VerifySkipped VerifyStatus = "skipped"
	VerifyPassed  VerifyStatus = "passed"
	VerifyFailed  VerifyStatus = "failed"
)

// PipelineResult is produced once at the end of a successful backup.
type PipelineResult struct {
	RunID                 string
	ArchivePath           string
	SizeBytes             int64
	SizeHuman             string
	ElapsedSeconds        int
	Checksum              string
	ChecksumSkippedReason string
	VerifyStatus          VerifyStatus
	Warnings              []string
	RemoteCommand         string
	Compression           CompressionFormat
	Encryption            EncryptionSpec
	EncryptionFormat      EnvelopeFormat
	ConfigFile            string
	CreatedAt             time.Time
	SourcePlan            BackupPlan
}

// BackupArtifact describes the compressed archive before encryption.
type BackupArtifact struct {
	Path         string
	BytesRead    int64
	ArchiverExit int
	Warnings     []string
}

// RestoreOptions is the immutable options record of a restore run.
type RestoreOptions struct {
	ArchivePath    string
	Destination    string
	Subdirectory   bool
	Elevate        bool
	ListOnly       bool
	Paths          []string
	Passphrase     string
	PassphraseFile string
}

// RestoreResult summarizes a restore run.
type RestoreResult struct {
	ArchivePath    string
	Destination    string
	ChecksumStatus string // "verified", "no-report", "no-checksum"
	Entries        []string
	Duration       time.Duration
}
