// Package planner resolves backup options into a concrete BackupPlan.
package planner

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/gotar-homelab/internal/models"
)

// HomeRoot is the default include of home mode.
const HomeRoot = "/home"

// LiteralMarker marks the following positional path as literal in
// compatibility mode: it is excluded as given, without the wildcard suffix.
const LiteralMarker = "="

// DefaultExcludes are always excluded in full mode.
var DefaultExcludes = []string{
	"/proc/*",
	"/sys/*",
	"/dev/*",
	"/run/*",
	"/tmp/*",
	"/mnt/*",
	"/media/*",
	"/var/tmp/*",
	"/var/cache/*",
	"/lost+found",
	"/swapfile",
}

// Resolve turns the options record into a BackupPlan. All failures are
// configuration errors.
//
//nolint:gocognit,gocyclo // each mode has its own rules
func Resolve(opts models.BackupOptions) (models.BackupPlan, error) {
	if opts.Target == "" {
		return models.BackupPlan{}, models.ConfigErrorf("target is required (user@host)")
	}
	target, err := ParseTarget(opts.Target, "", 0)
	if err != nil {
		return models.BackupPlan{}, err
	}

	mode := opts.Mode
	if mode == "" {
		mode = models.ModeFull
	}

	includes, err := normalizeAll(opts.Include)
	if err != nil {
		return models.BackupPlan{}, err
	}
	excludes, err := normalizeAll(opts.Exclude)
	if err != nil {
		return models.BackupPlan{}, err
	}
	if opts.Compat {
		for i, p := range excludes {
			excludes[i] = Widen(p)
		}
	}
	includeOnly := opts.IncludeOnly

	if opts.Compat {
		positional, err := positionalExcludes(opts.Positional)
		if err != nil {
			return models.BackupPlan{}, err
		}
		excludes = append(excludes, positional...)
	} else if len(opts.Positional) > 0 {
		positional, err := normalizeAll(opts.Positional)
		if err != nil {
			return models.BackupPlan{}, err
		}
		includes = append(includes, positional...)
		includeOnly = true
		if !opts.ModeExplicit && mode == models.ModeFull {
			mode = models.ModeCustom
		}
	}

	switch mode {
	case models.ModeFull:
		if len(includes) > 0 {
			return models.BackupPlan{}, models.ConfigErrorf("full mode incompatible with includes %v", includes)
		}
		excludes = append(append([]string{}, DefaultExcludes...), excludes...)
	case models.ModeHome:
		includeOnly = true
		if len(includes) == 0 {
			includes = []string{HomeRoot}
		}
	case models.ModeCustom:
		if len(includes) == 0 && len(excludes) == 0 {
			return models.BackupPlan{}, models.ConfigErrorf("custom mode requires at least one include or exclude")
		}
		if len(includes) > 0 {
			includeOnly = true
		}
	default:
		return models.BackupPlan{}, models.ConfigErrorf("unknown mode %q (expected full, home or custom)", mode)
	}

	if includeOnly && len(includes) == 0 {
		return models.BackupPlan{}, models.ConfigErrorf("include-only selected but no include paths resolved")
	}
	if includeOnly {
		excludes = nil
	}

	return models.BackupPlan{
		Host:          target.Host,
		Mode:          mode,
		IncludeOnly:   includeOnly,
		IncludePaths:  dedupe(includes),
		ExcludePaths:  dedupe(excludes),
		OneFileSystem: opts.OneFileSystem,
		Compat:        opts.Compat,
		Label:         opts.Label,
		OutputDir:     opts.OutputDir,
	}, nil
}

func positionalExcludes(tokens []string) ([]string, error) {
	var out []string
	literal := false
	for _, tok := range tokens {
		if tok == LiteralMarker {
			literal = true
			continue
		}
		p, err := Normalize(tok)
		if err != nil {
			return nil, err
		}
		if !literal {
			p = Widen(p)
		}
		out = append(out, p)
		literal = false
	}
	if literal {
		return nil, models.ConfigErrorf("literal marker %q must be followed by a path", LiteralMarker)
	}
	return out, nil
}

// Normalize strips trailing path separators. The root path stays "/".
func Normalize(p string) (string, error) {
	if p == "" {
		return "", models.ConfigErrorf("empty path")
	}
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return "/", nil
	}
	return trimmed, nil
}

func normalizeAll(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		n, err := Normalize(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// HasWildcard reports whether p contains a glob metacharacter.
func HasWildcard(p string) bool {
	return strings.ContainsAny(p, "*?[")
}

// Widen appends a wildcard segment so the exclusion matches directory
// contents. Paths that already contain a wildcard are returned unchanged.
func Widen(p string) string {
	if HasWildcard(p) {
		return p
	}
	if p == "/" {
		return "/*"
	}
	return p + "/*"
}

func dedupe(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// ParseTarget splits a user@host[:port] identity. Missing parts fall back to
// defaultUser and defaultPort.
func ParseTarget(s, defaultUser string, defaultPort int) (models.Target, error) {
	t := models.Target{User: defaultUser, Port: defaultPort}
	rest := s
	if i := strings.LastIndex(s, "@"); i >= 0 {
		t.User = s[:i]
		rest = s[i+1:]
		if t.User == "" {
			return models.Target{}, models.ConfigErrorf("invalid target %q: empty user", s)
		}
	}
	if host, port, err := net.SplitHostPort(rest); err == nil {
		n, convErr := strconv.Atoi(port)
		if convErr != nil || n <= 0 || n > 65535 {
			return models.Target{}, models.ConfigErrorf("invalid target %q: bad port %q", s, port)
		}
		rest = host
		t.Port = n
	}
	if rest == "" {
		return models.Target{}, models.ConfigErrorf("invalid target %q: empty host", s)
	}
	t.Host = rest
	return t, nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ArchiveBaseName derives the archive name without suffixes.
func ArchiveBaseName(plan models.BackupPlan, now time.Time) string {
	parts := []string{sanitize(plan.Host), string(plan.Mode)}
	if plan.Label != "" {
		parts = append(parts, sanitize(plan.Label))
	}
	parts = append(parts, now.Format("20060102-150405"))
	return strings.Join(parts, "-")
}

// ArchivePath returns the path of the compressed archive inside the plan's
// output directory.
func ArchivePath(plan models.BackupPlan, format models.CompressionFormat, now time.Time) string {
	return filepath.Join(plan.OutputDir, ArchiveBaseName(plan, now)+format.Suffix())
}

func sanitize(s string) string {
	out := strings.Trim(unsafeNameChars.ReplaceAllString(s, "_"), "_")
	if out == "" {
		return "unnamed"
	}
	return out
}

// Describe renders the plan for the preview output.
func Describe(plan models.BackupPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "host:            %s\n", plan.Host)
	fmt.Fprintf(&b, "mode:            %s\n", plan.Mode)
	fmt.Fprintf(&b, "include_only:    %t\n", plan.IncludeOnly)
	fmt.Fprintf(&b, "includes:        %s\n", strings.Join(plan.IncludePaths, " "))
	fmt.Fprintf(&b, "excludes:        %s\n", strings.Join(plan.ExcludePaths, " "))
	fmt.Fprintf(&b, "one_file_system: %t\n", plan.OneFileSystem)
	fmt.Fprintf(&b, "compat:          %t\n", plan.Compat)
	return b.String()
}
