package metrics

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gotar.prom")
	svc := New(zerolog.New(io.Discard))

	err := svc.Write(path, Run{
		Host:      "nas.lan",
		Mode:      models.ModeFull,
		Success:   true,
		Duration:  90 * time.Second,
		SizeBytes: 4096,
		Finished:  time.Unix(1767225600, 0),
	})
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, `gotar_homelab_backup_last_success{host="nas.lan",mode="full"} 1`)
	assert.Contains(t, text, `gotar_homelab_backup_last_duration_seconds{host="nas.lan",mode="full"} 90`)
	assert.Contains(t, text, `gotar_homelab_backup_last_size_bytes{host="nas.lan",mode="full"} 4096`)
	assert.Contains(t, text, `gotar_homelab_backup_last_run_timestamp_seconds{host="nas.lan",mode="full"} 1.7672256e+09`)
	assert.NotContains(t, text, "failure_info{")
}

func TestWrite_Failure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gotar.prom")
	svc := New(zerolog.New(io.Discard))

	err := svc.Write(path, Run{
		Host:       "nas.lan",
		Mode:       models.ModeHome,
		FailedStep: "archive",
		Finished:   time.Now(),
	})
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, `gotar_homelab_backup_last_success{host="nas.lan",mode="home"} 0`)
	assert.Contains(t, text, `gotar_homelab_backup_last_failure_info{host="nas.lan",mode="home",step="archive"} 1`)
	assert.NotContains(t, text, "size_bytes{")
}

func TestWrite_BadDirectory(t *testing.T) {
	svc := New(zerolog.New(io.Discard))

	err := svc.Write(filepath.Join(t.TempDir(), "missing", "gotar.prom"), Run{Host: "h"})

	assert.Error(t, err)
}
