// Package runner orchestrates the backup and restore workflows.
package runner

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/fgeck/gotar-homelab/internal/services/envelope"
	"github.com/fgeck/gotar-homelab/internal/services/extract"
	"github.com/fgeck/gotar-homelab/internal/services/integrity"
	"github.com/fgeck/gotar-homelab/internal/services/metrics"
	"github.com/fgeck/gotar-homelab/internal/services/pipeline"
	"github.com/fgeck/gotar-homelab/internal/services/planner"
	"github.com/fgeck/gotar-homelab/internal/services/remotecmd"
	"github.com/fgeck/gotar-homelab/internal/services/ssh"
	"github.com/fgeck/gotar-homelab/internal/services/telegram"
	"github.com/fgeck/gotar-homelab/internal/services/wol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Step names reported on failure.
const (
	StepPreflight = "preflight"
	StepWOL       = "wol"
	StepProbe     = "probe"
	StepArchive   = "archive"
	StepEncrypt   = "encrypt"
	StepChecksum  = "checksum"
	StepVerify    = "verify"
	StepReport    = "report"
)

const notifyTimeout = 30 * time.Second

// Service defines the interface for the backup runner.
type Service interface {
	Backup(ctx context.Context, opts models.BackupOptions, app models.AppConfig) (*models.PipelineResult, error)
	Restore(ctx context.Context, opts models.RestoreOptions, app models.AppConfig) (*models.RestoreResult, error)
}

// Secrets resolves passphrases.
type Secrets interface {
	Resolve(passphrase, file string, ask func() (string, error)) (string, error)
	Confirm(ctx context.Context) (string, error)
	Lazy(ctx context.Context, passphrase, file string) envelope.SecretFunc
}

// Services bundles the collaborators of the runner.
type Services struct {
	SSH      ssh.Service
	Pipeline pipeline.Service
	Envelope envelope.Service
	Secrets  Secrets
	Extract  extract.Service
	WOL      wol.Service
	Telegram telegram.Service
	Metrics  metrics.Service
}

// Impl implements the runner Service interface.
type Impl struct {
	sshSvc      ssh.Service
	pipelineSvc pipeline.Service
	envelopeSvc envelope.Service
	secrets     Secrets
	extractSvc  extract.Service
	wolSvc      wol.Service
	telegramSvc telegram.Service
	metricsSvc  metrics.Service
	logger      zerolog.Logger
	out         io.Writer
	now         func() time.Time
}

// New creates a new runner service. Previews and listings go to out.
func New(logger zerolog.Logger, encryption models.EncryptionSettings, out io.Writer) *Impl {
	sshSvc := ssh.New(logger)
	return NewWithServices(logger, Services{
		SSH:      sshSvc,
		Pipeline: pipeline.NewWithSSH(logger, sshSvc),
		Envelope: envelope.New(logger, encryption),
		Secrets:  envelope.NewSource(logger),
		Extract:  extract.New(logger),
		WOL:      wol.New(logger),
		Telegram: telegram.New(logger),
		Metrics:  metrics.New(logger),
	}, out, time.Now)
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(logger zerolog.Logger, svcs Services, out io.Writer, now func() time.Time) *Impl {
	return &Impl{
		sshSvc:      svcs.SSH,
		pipelineSvc: svcs.Pipeline,
		envelopeSvc: svcs.Envelope,
		secrets:     svcs.Secrets,
		extractSvc:  svcs.Extract,
		wolSvc:      svcs.WOL,
		telegramSvc: svcs.Telegram,
		metricsSvc:  svcs.Metrics,
		logger:      logger,
		out:         out,
		now:         now,
	}
}

// backupRun carries what the deferred notification needs.
type backupRun struct {
	start      time.Time
	plan       models.BackupPlan
	failedStep string
	result     *models.PipelineResult
}

// Backup executes the complete backup workflow.
//
//nolint:gocognit,gocyclo,funlen // backup workflow has one branch per step
func (s *Impl) Backup(ctx context.Context, opts models.BackupOptions, app models.AppConfig) (_ *models.PipelineResult, err error) {
	run := &backupRun{start: s.now()}

	plan, err := planner.Resolve(opts)
	if err != nil {
		return nil, err
	}
	run.plan = plan

	target, err := planner.ParseTarget(opts.Target, app.SSH.User, app.SSH.Port)
	if err != nil {
		return nil, err
	}

	compression := app.Compression
	if compression.Format == "" {
		compression.Format = models.CompressionZstd
	}
	envFormat := opts.EncryptionFormat
	if envFormat == "" {
		envFormat = app.Encryption.Format
	}
	if envFormat == "" {
		envFormat = models.EnvelopeGPG
	}

	base := planner.ArchiveBaseName(plan, run.start)
	archivePath := filepath.Join(plan.OutputDir, base+compression.Format.Suffix())
	reportPath := filepath.Join(plan.OutputDir, base+".txt")
	spec := opts.Encryption

	if opts.DryRun {
		s.preview(plan, archivePath, envFormat, spec)
		return nil, nil
	}

	runID := uuid.NewString()
	logger := s.logger.With().Str("run_id", runID).Str("host", plan.Host).Logger()
	logger.Info().
		Str("mode", string(plan.Mode)).
		Str("archive", archivePath).
		Str("encryption", spec.String()).
		Msg("starting backup run")

	defer func() {
		s.finish(ctx, app, run, err)
	}()

	// Step 1: local preconditions
	run.failedStep = StepPreflight
	if err := checkWritableDir(plan.OutputDir); err != nil {
		return nil, err
	}
	outputs := []string{archivePath, reportPath}
	if spec.Enabled() {
		outputs = append(outputs, archivePath+envFormat.Suffix())
	}
	for _, path := range outputs {
		if _, err := os.Lstat(path); err == nil {
			return nil, models.ConfigErrorf("%s already exists", path)
		}
	}
	switch spec.Kind {
	case models.EncryptionRecipient:
		if err := s.envelopeSvc.CheckRecipient(envFormat, spec.KeyID); err != nil {
			return nil, err
		}
	case models.EncryptionPassphrase:
		if spec.Passphrase == "" {
			pass, err := s.secrets.Resolve("", opts.PassphraseFile, func() (string, error) {
				return s.secrets.Confirm(ctx)
			})
			if err != nil {
				return nil, err
			}
			spec.Passphrase = pass
		}
	}

	// Step 2: Wake-on-LAN (if configured)
	if app.WOL != nil {
		run.failedStep = StepWOL
		if err := s.runWOL(ctx, *app.WOL, target, app.SSH); err != nil {
			return nil, err
		}
	}

	// Step 3: remote privilege probe
	var capability *models.RemoteCapability
	if opts.SkipRootCheck {
		logger.Warn().Msg("skipping remote privilege check, unreadable files will be missing from the archive")
	} else {
		run.failedStep = StepProbe
		capability, err = s.sshSvc.Probe(ctx, target, app.SSH)
		if err != nil {
			if ctx.Err() != nil {
				return nil, models.InterruptedError(ctx.Err())
			}
			return nil, models.PreflightErrorf("remote privilege probe failed: %w", err)
		}
		if !capability.IsRoot && !capability.HasPasswordlessSudo {
			return nil, models.PreflightErrorf(
				"remote user %s on %s is neither root nor allowed passwordless sudo (use --skip-root-check to archive with its own permissions)",
				target.User, target.Host)
		}
		logger.Info().
			Bool("root", capability.IsRoot).
			Bool("sudo", capability.NeedsElevation()).
			Msg("remote privileges checked")
	}

	cmd := remotecmd.Build(plan, capability)

	guard := pipeline.NewGuard(logger)
	defer guard.Cleanup()

	// Step 4: archive, compress, write
	run.failedStep = StepArchive
	guard.Track(archivePath)
	artifact, err := s.pipelineSvc.Backup(ctx, pipeline.BackupRequest{
		Target:           target,
		SSH:              app.SSH,
		Command:          cmd,
		ArchivePath:      archivePath,
		Compression:      compression,
		ContinueOnChange: opts.ContinueOnChange,
	})
	if err != nil {
		return nil, err
	}

	// Step 5: encryption envelope
	final := artifact.Path
	if spec.Enabled() {
		run.failedStep = StepEncrypt
		guard.Track(archivePath + envFormat.Suffix())
		final, err = s.envelopeSvc.Seal(ctx, archivePath, envFormat, spec)
		if err != nil {
			return nil, err
		}
	}

	// Step 6: checksum
	var checksum, skipReason string
	if opts.SkipChecksum {
		skipReason = "disabled by --no-checksum"
	} else {
		run.failedStep = StepChecksum
		checksum, err = integrity.Checksum(ctx, final)
		if err != nil {
			if models.KindOf(err) == models.KindUnknown {
				err = models.IntegrityErrorf("checksum: %w", err)
			}
			return nil, err
		}
	}

	// Step 7: post-write verification
	verify := models.VerifySkipped
	var verifyErr error
	if opts.Verify {
		run.failedStep = StepVerify
		var unwrap pipeline.Unwrapper
		if spec.Enabled() {
			unwrap = s.envelopeSvc.Unwrapper(envFormat, envelope.StaticSecret(spec.Passphrase))
		}
		entries, err := integrity.VerifyContents(ctx, s.pipelineSvc, final, compression.Format, unwrap)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, models.InterruptedError(ctx.Err())
		case err != nil:
			verify = models.VerifyFailed
			verifyErr = models.IntegrityErrorf("post-write verification failed: %w", err)
			logger.Error().Err(err).Msg("post-write verification failed")
		default:
			verify = models.VerifyPassed
			logger.Info().Int("entries", entries).Msg("post-write verification passed")
		}
	}

	var size int64
	if info, err := os.Stat(final); err == nil {
		size = info.Size()
	}

	result := &models.PipelineResult{
		RunID:                 runID,
		ArchivePath:           final,
		SizeBytes:             size,
		SizeHuman:             humanize.Bytes(uint64(size)), //nolint:gosec // sizes are never negative
		ElapsedSeconds:        int(s.now().Sub(run.start).Seconds()),
		Checksum:              checksum,
		ChecksumSkippedReason: skipReason,
		VerifyStatus:          verify,
		Warnings:              artifact.Warnings,
		RemoteCommand:         cmd.String(),
		Compression:           compression.Format,
		Encryption:            redact(spec),
		EncryptionFormat:      envFormat,
		ConfigFile:            opts.ConfigFile,
		CreatedAt:             run.start,
		SourcePlan:            plan,
	}
	run.result = result

	// Step 8: report
	run.failedStep = StepReport
	guard.Track(reportPath)
	if err := integrity.WriteReport(reportPath, integrity.NewReport(*result)); err != nil {
		return nil, models.PipelineErrorf("%w", err)
	}
	guard.Commit()

	if verifyErr != nil {
		run.failedStep = StepVerify
		return result, verifyErr
	}

	run.failedStep = ""
	logger.Info().
		Str("archive", result.ArchivePath).
		Str("size", result.SizeHuman).
		Int("elapsed_seconds", result.ElapsedSeconds).
		Str("verify", string(result.VerifyStatus)).
		Msg("backup run completed successfully")

	return result, nil
}

// redact drops the passphrase from results and reports.
func redact(spec models.EncryptionSpec) models.EncryptionSpec {
	spec.Passphrase = ""
	return spec
}

func (s *Impl) preview(plan models.BackupPlan, archivePath string, envFormat models.EnvelopeFormat, spec models.EncryptionSpec) {
	output := archivePath
	encryption := spec.String()
	if spec.Enabled() {
		output += envFormat.Suffix()
		encryption += " (" + string(envFormat) + ")"
	}

	var b strings.Builder
	b.WriteString(planner.Describe(plan))
	fmt.Fprintf(&b, "output:          %s\n", output)
	fmt.Fprintf(&b, "encryption:      %s\n", encryption)
	fmt.Fprintf(&b, "remote_command:  %s\n", remotecmd.Build(plan, nil))
	b.WriteString("(the remote command is prefixed with \"sudo -n --\" when the remote user is not root)\n")
	_, _ = io.WriteString(s.out, b.String())
}

// checkWritableDir verifies that files can be created in dir.
func checkWritableDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return models.ConfigErrorf("output directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return models.ConfigErrorf("output directory %s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".gotar-homelab-*")
	if err != nil {
		return models.ConfigErrorf("output directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

func (s *Impl) runWOL(ctx context.Context, cfg models.WOLConfig, target models.Target, sshCfg models.SSHConfig) error {
	port := target.Port
	if port == 0 {
		port = sshCfg.Port
	}
	if port == 0 {
		port = 22
	}
	address := fmt.Sprintf("%s:%d", target.Host, port)
	if strings.Contains(target.Host, ":") {
		address = fmt.Sprintf("[%s]:%d", target.Host, port)
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("target", address).
		Msg("sending Wake-on-LAN packet")

	result, err := s.wolSvc.Wake(ctx, cfg, address)
	if err != nil {
		return models.PreflightErrorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		if ctx.Err() != nil {
			return models.InterruptedError(ctx.Err())
		}
		return models.PreflightErrorf("WOL failed: %w", result.Error)
	}
	if !result.TargetReady {
		return models.PreflightErrorf("target did not become ready after WOL")
	}

	s.logger.Info().
		Bool("packet_sent", result.PacketSent).
		Bool("target_ready", result.TargetReady).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

// finish records metrics and sends the notification of a backup run.
func (s *Impl) finish(ctx context.Context, app models.AppConfig, run *backupRun, runErr error) {
	// Notifications still go out after an interrupt.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	duration := s.now().Sub(run.start)
	success := runErr == nil

	if app.Metrics != nil {
		m := metrics.Run{
			Host:       run.plan.Host,
			Mode:       run.plan.Mode,
			Success:    success,
			Duration:   duration,
			FailedStep: run.failedStep,
			Finished:   s.now(),
		}
		if run.result != nil {
			m.SizeBytes = run.result.SizeBytes
		}
		if err := s.metricsSvc.Write(app.Metrics.TextfilePath, m); err != nil {
			s.logger.Error().Err(err).Msg("failed to write metrics")
		}
	}

	if app.Telegram == nil {
		return
	}

	msg := models.TelegramMessage{
		Success:   success,
		Host:      run.plan.Host,
		Mode:      run.plan.Mode,
		StartTime: run.start,
		Duration:  duration,
	}
	if r := run.result; r != nil {
		msg.ArchivePath = r.ArchivePath
		msg.SizeHuman = r.SizeHuman
		msg.Checksum = r.Checksum
		msg.VerifyStatus = r.VerifyStatus
		msg.Warnings = r.Warnings
	}
	if runErr != nil {
		msg.FailedStep = run.failedStep
		msg.ErrorMessage = runErr.Error()
	}

	result, err := s.telegramSvc.SendNotification(nctx, *app.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}

// Restore verifies, decrypts, decompresses and extracts or lists an archive.
//
//nolint:gocognit // restore has list and extract variants
func (s *Impl) Restore(ctx context.Context, opts models.RestoreOptions, app models.AppConfig) (*models.RestoreResult, error) {
	start := s.now()

	name, err := pipeline.ParseArchiveName(opts.ArchivePath)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(opts.ArchivePath); err != nil || info.IsDir() {
		return nil, models.ConfigErrorf("archive %s not found or not a file", opts.ArchivePath)
	}

	status, err := integrity.VerifyAgainstReport(ctx, opts.ArchivePath, name.InfoPath())
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("archive", opts.ArchivePath).
		Str("checksum", status).
		Msg("archive integrity checked")

	var unwrap pipeline.Unwrapper
	if name.Envelope != "" {
		unwrap = s.envelopeSvc.Unwrapper(name.Envelope, s.secrets.Lazy(ctx, opts.Passphrase, opts.PassphraseFile))
	}

	result := &models.RestoreResult{
		ArchivePath:    opts.ArchivePath,
		ChecksumStatus: status,
	}
	req := pipeline.RestoreRequest{
		ArchivePath: opts.ArchivePath,
		Compression: name.Compression,
		Unwrap:      unwrap,
	}

	if opts.ListOnly {
		filter := extract.Members(opts.Paths)
		req.Sink = &pipeline.ListSink{Entry: func(hdr *tar.Header) error {
			if !selected(filter, hdr.Name) {
				return nil
			}
			result.Entries = append(result.Entries, hdr.Name)
			_, err := fmt.Fprintln(s.out, hdr.Name)
			return err
		}}
		if err := s.pipelineSvc.Restore(ctx, req); err != nil {
			return nil, err
		}
		result.Duration = s.now().Sub(start)
		return result, nil
	}

	dest := opts.Destination
	if dest == "" {
		dest = "."
	}
	if opts.Subdirectory {
		dest = filepath.Join(dest, name.Base)
	}
	xopts := extract.Options{Destination: dest, Elevate: opts.Elevate, Members: opts.Paths}

	if err := s.extractSvc.Prepare(ctx, xopts); err != nil {
		return nil, err
	}
	req.Sink = &extract.Sink{Service: s.extractSvc, Options: xopts}
	if err := s.pipelineSvc.Restore(ctx, req); err != nil {
		return nil, err
	}

	result.Destination = dest
	result.Duration = s.now().Sub(start)
	s.logger.Info().
		Str("destination", dest).
		Dur("duration", result.Duration).
		Msg("restore completed")
	return result, nil
}

// selected reports whether member is one of filter or lies below one.
func selected(filter []string, member string) bool {
	if len(filter) == 0 {
		return true
	}
	member = strings.TrimSuffix(strings.TrimPrefix(member, "./"), "/")
	for _, f := range filter {
		f = strings.TrimSuffix(f, "/")
		if member == f || strings.HasPrefix(member, f+"/") {
			return true
		}
	}
	return false
}
