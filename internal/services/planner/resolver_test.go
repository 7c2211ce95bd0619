package planner

import (
	"testing"
	"time"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseOptions() models.BackupOptions {
	return models.BackupOptions{
		Target:    "root@nas.lan",
		Mode:      models.ModeFull,
		OutputDir: "/srv/backups",
	}
}

func requireConfigError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, models.KindConfig, models.KindOf(err))
}

func TestResolve_FullModeAddsDefaultExcludes(t *testing.T) {
	opts := baseOptions()
	opts.Exclude = []string{"/srv/media/"}

	plan, err := Resolve(opts)

	require.NoError(t, err)
	assert.Equal(t, "nas.lan", plan.Host)
	assert.False(t, plan.IncludeOnly)
	assert.Empty(t, plan.IncludePaths)
	assert.Equal(t, DefaultExcludes, plan.ExcludePaths[:len(DefaultExcludes)])
	assert.Equal(t, "/srv/media", plan.ExcludePaths[len(plan.ExcludePaths)-1])
}

func TestResolve_FullModeRejectsIncludes(t *testing.T) {
	for _, includes := range [][]string{{"/etc"}, {"/home", "/root"}} {
		opts := baseOptions()
		opts.Include = includes

		_, err := Resolve(opts)

		requireConfigError(t, err)
		assert.Contains(t, err.Error(), "full mode incompatible with includes")
	}
}

func TestResolve_FullModeRejectsExplicitPositionalIncludes(t *testing.T) {
	opts := baseOptions()
	opts.ModeExplicit = true
	opts.Positional = []string{"/etc"}

	_, err := Resolve(opts)

	requireConfigError(t, err)
}

func TestResolve_DefaultedModeWithPositionalBecomesCustom(t *testing.T) {
	opts := baseOptions()
	opts.Positional = []string{"/etc/", "/srv/data"}

	plan, err := Resolve(opts)

	require.NoError(t, err)
	assert.Equal(t, models.ModeCustom, plan.Mode)
	assert.True(t, plan.IncludeOnly)
	assert.Equal(t, []string{"/etc", "/srv/data"}, plan.IncludePaths)
	assert.Empty(t, plan.ExcludePaths)
}

func TestResolve_HomeModeDefaults(t *testing.T) {
	opts := baseOptions()
	opts.Mode = models.ModeHome

	plan, err := Resolve(opts)

	require.NoError(t, err)
	assert.True(t, plan.IncludeOnly)
	assert.Equal(t, []string{"/home"}, plan.IncludePaths)
}

func TestResolve_HomeModeIgnoresExcludes(t *testing.T) {
	opts := baseOptions()
	opts.Mode = models.ModeHome
	opts.Include = []string{"/home/alice"}
	opts.Exclude = []string{"/home/alice/.cache"}

	plan, err := Resolve(opts)

	require.NoError(t, err)
	assert.Equal(t, []string{"/home/alice"}, plan.IncludePaths)
	assert.Empty(t, plan.ExcludePaths)
}

func TestResolve_CustomRequiresRules(t *testing.T) {
	opts := baseOptions()
	opts.Mode = models.ModeCustom

	_, err := Resolve(opts)

	requireConfigError(t, err)
	assert.Contains(t, err.Error(), "custom mode requires")
}

func TestResolve_CustomWithExcludesOnly(t *testing.T) {
	opts := baseOptions()
	opts.Mode = models.ModeCustom
	opts.Exclude = []string{"/var/lib/docker"}

	plan, err := Resolve(opts)

	require.NoError(t, err)
	assert.False(t, plan.IncludeOnly)
	assert.Equal(t, []string{"/var/lib/docker"}, plan.ExcludePaths)
}

func TestResolve_CustomWithIncludesIsIncludeOnly(t *testing.T) {
	opts := baseOptions()
	opts.Mode = models.ModeCustom
	opts.Include = []string{"/etc", "/etc/"}
	opts.Exclude = []string{"/etc/ssl"}

	plan, err := Resolve(opts)

	require.NoError(t, err)
	assert.True(t, plan.IncludeOnly)
	assert.Equal(t, []string{"/etc"}, plan.IncludePaths)
	assert.Empty(t, plan.ExcludePaths)
}

func TestResolve_IncludeOnlyWithoutIncludes(t *testing.T) {
	opts := baseOptions()
	opts.Mode = models.ModeCustom
	opts.IncludeOnly = true
	opts.Exclude = []string{"/tmp"}

	_, err := Resolve(opts)

	requireConfigError(t, err)
	assert.Contains(t, err.Error(), "include-only")
}

func TestResolve_UnknownMode(t *testing.T) {
	opts := baseOptions()
	opts.Mode = models.Mode("partial")

	_, err := Resolve(opts)

	requireConfigError(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestResolve_MissingTarget(t *testing.T) {
	opts := baseOptions()
	opts.Target = ""

	_, err := Resolve(opts)

	requireConfigError(t, err)
}

func TestResolve_CompatPositionalExcludes(t *testing.T) {
	opts := baseOptions()
	opts.Compat = true
	opts.Positional = []string{LiteralMarker, "/etc/fstab", "/var/log"}

	plan, err := Resolve(opts)

	require.NoError(t, err)
	assert.False(t, plan.IncludeOnly)
	assert.Contains(t, plan.ExcludePaths, "/etc/fstab")
	assert.Contains(t, plan.ExcludePaths, "/var/log/*")
	assert.NotContains(t, plan.ExcludePaths, "/etc/fstab/*")
}

func TestResolve_CompatWidensExplicitExcludes(t *testing.T) {
	opts := baseOptions()
	opts.Compat = true
	opts.Exclude = []string{"/srv/cache/", "/srv/*.iso"}

	plan, err := Resolve(opts)

	require.NoError(t, err)
	assert.Contains(t, plan.ExcludePaths, "/srv/cache/*")
	assert.Contains(t, plan.ExcludePaths, "/srv/*.iso")
}

func TestResolve_CompatDanglingLiteralMarker(t *testing.T) {
	opts := baseOptions()
	opts.Compat = true
	opts.Positional = []string{"/var/log", LiteralMarker}

	_, err := Resolve(opts)

	requireConfigError(t, err)
}

func TestWiden(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/var/log", "/var/log/*"},
		{"/", "/*"},
		{"/var/log/*", "/var/log/*"},
		{"/home/*/.cache", "/home/*/.cache"},
		{"/data/file?.bin", "/data/file?.bin"},
		{"/srv/[ab]", "/srv/[ab]"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Widen(tt.in))
		})
	}
}

func TestNormalize(t *testing.T) {
	got, err := Normalize("/var/log///")
	require.NoError(t, err)
	assert.Equal(t, "/var/log", got)

	got, err = Normalize("///")
	require.NoError(t, err)
	assert.Equal(t, "/", got)

	_, err = Normalize("")
	requireConfigError(t, err)
}

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("backup@nas.lan:2222", "root", 22)
	require.NoError(t, err)
	assert.Equal(t, models.Target{User: "backup", Host: "nas.lan", Port: 2222}, target)

	target, err = ParseTarget("nas.lan", "root", 22)
	require.NoError(t, err)
	assert.Equal(t, models.Target{User: "root", Host: "nas.lan", Port: 22}, target)

	_, err = ParseTarget("@nas.lan", "root", 22)
	requireConfigError(t, err)

	_, err = ParseTarget("root@nas.lan:99999", "root", 22)
	requireConfigError(t, err)
}

func TestArchivePath(t *testing.T) {
	plan := models.BackupPlan{
		Host:      "nas.lan",
		Mode:      models.ModeHome,
		Label:     "weekly run",
		OutputDir: "/srv/backups",
	}
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	assert.Equal(t, "/srv/backups/nas.lan-home-weekly_run-20260314-150926.tar.zst",
		ArchivePath(plan, models.CompressionZstd, now))
	assert.Equal(t, "/srv/backups/nas.lan-home-weekly_run-20260314-150926.tar.gz",
		ArchivePath(plan, models.CompressionGzip, now))
}
