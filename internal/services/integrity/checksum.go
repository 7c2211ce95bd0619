// Package integrity computes and checks archive checksums, runs the
// post-write verification pass and reads and writes the report file.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fgeck/gotar-homelab/internal/models"
)

// Algorithm names the checksum recorded in reports.
const Algorithm = "sha256"

// Restore-time checksum outcomes.
const (
	StatusVerified   = "verified"
	StatusNoReport   = "no-report"
	StatusNoChecksum = "no-checksum"
)

// Checksum returns the hex SHA-256 of the file at path.
func Checksum(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // archive path is user input
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: f}); err != nil {
		if ctx.Err() != nil {
			return "", models.InterruptedError(ctx.Err())
		}
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum recomputes the checksum of path and compares it to want.
func VerifyChecksum(ctx context.Context, path, want string) error {
	got, err := Checksum(ctx, path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, strings.TrimSpace(want)) {
		return models.IntegrityErrorf("%w: %s has %s, report says %s",
			models.ErrChecksumMismatch, path, got, want)
	}
	return nil
}

// VerifyAgainstReport checks archivePath against the checksum in the
// sibling report. A missing report or checksum is not an error.
func VerifyAgainstReport(ctx context.Context, archivePath, reportPath string) (string, error) {
	report, err := ReadReport(reportPath)
	if errors.Is(err, os.ErrNotExist) {
		return StatusNoReport, nil
	}
	if err != nil {
		return "", models.IntegrityErrorf("failed to read report %s: %w", reportPath, err)
	}
	if report.Checksum == "" {
		return StatusNoChecksum, nil
	}
	if err := VerifyChecksum(ctx, archivePath, report.Checksum); err != nil {
		return "", err
	}
	return StatusVerified, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
