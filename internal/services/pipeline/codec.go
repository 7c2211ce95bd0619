package pipeline

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Compression levels.
const (
	LevelFastest = "fastest"
	LevelDefault = "default"
	LevelBetter  = "better"
	LevelBest    = "best"
)

// pgzipBlockSize is the per-goroutine block size of the gzip encoder.
const pgzipBlockSize = 1 << 20

// ValidLevel reports whether level is a known compression level.
func ValidLevel(level string) bool {
	switch level {
	case "", LevelFastest, LevelDefault, LevelBetter, LevelBest:
		return true
	}
	return false
}

func concurrency(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// NewCompressor wraps w in a parallel stream compressor.
func NewCompressor(w io.Writer, settings models.CompressionSettings) (io.WriteCloser, error) {
	workers := concurrency(settings.Concurrency)

	switch settings.Format {
	case models.CompressionGzip:
		var lvl int
		switch settings.Level {
		case LevelFastest:
			lvl = pgzip.BestSpeed
		case LevelBetter:
			lvl = 7
		case LevelBest:
			lvl = pgzip.BestCompression
		default:
			lvl = pgzip.DefaultCompression
		}
		gz, err := pgzip.NewWriterLevel(w, lvl)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		if err := gz.SetConcurrency(pgzipBlockSize, workers); err != nil {
			return nil, fmt.Errorf("failed to configure gzip writer: %w", err)
		}
		return gz, nil
	case models.CompressionZstd, "":
		var encoderLevel zstd.EncoderLevel
		switch settings.Level {
		case LevelFastest:
			encoderLevel = zstd.SpeedFastest
		case LevelBetter:
			encoderLevel = zstd.SpeedBetterCompression
		case LevelBest:
			encoderLevel = zstd.SpeedBestCompression
		default:
			encoderLevel = zstd.SpeedDefault
		}
		enc, err := zstd.NewWriter(w,
			zstd.WithEncoderLevel(encoderLevel),
			zstd.WithEncoderConcurrency(workers),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unsupported compression format %q", settings.Format)
	}
}

// NewDecompressor wraps r in the decoder for format.
func NewDecompressor(r io.Reader, format models.CompressionFormat) (io.ReadCloser, error) {
	switch format {
	case models.CompressionGzip:
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, nil
	case models.CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression format %q", format)
	}
}

// ArchiveName is a parsed archive file name.
type ArchiveName struct {
	Dir         string
	Base        string // name without archive, compression and envelope suffixes
	Compression models.CompressionFormat
	Envelope    models.EnvelopeFormat // empty when not encrypted
}

// InfoPath returns the path of the sibling report file.
func (n ArchiveName) InfoPath() string {
	return filepath.Join(n.Dir, n.Base+".txt")
}

// ParseArchiveName recognizes <base>.tar.{zst,gz}[.gpg|.age].
func ParseArchiveName(path string) (ArchiveName, error) {
	name := ArchiveName{Dir: filepath.Dir(path)}
	file := filepath.Base(path)

	for _, env := range []models.EnvelopeFormat{models.EnvelopeGPG, models.EnvelopeAge} {
		if strings.HasSuffix(file, env.Suffix()) {
			name.Envelope = env
			file = strings.TrimSuffix(file, env.Suffix())
			break
		}
	}

	for _, format := range []models.CompressionFormat{models.CompressionZstd, models.CompressionGzip} {
		if strings.HasSuffix(file, format.Suffix()) {
			name.Compression = format
			name.Base = strings.TrimSuffix(file, format.Suffix())
			break
		}
	}
	if name.Compression == "" || name.Base == "" {
		return ArchiveName{}, models.ConfigErrorf("unrecognized archive name %q (expected .tar.zst or .tar.gz, optionally .gpg or .age)", filepath.Base(path))
	}
	return name, nil
}
