package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cavaliba/backupconf/internal/backup"
	"github.com/cavaliba/backupconf/internal/checks"
	"github.com/cavaliba/backupconf/internal/config"
	"github.com/cavaliba/backupconf/internal/logging"
	"github.com/cavaliba/backupconf/internal/metrics"
	"github.com/cavaliba/backupconf/internal/types"
)

// BackupError represents a backup error with specific phase and exit code
type BackupError struct {
	Phase string         // "checks", "collection", "archive"
	Err   error          // Underlying error
	Code  types.ExitCode // Specific exit code
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}

// ExitCodeFor maps a RunBackup error to the process exit code.
func ExitCodeFor(err error) types.ExitCode {
	if err == nil {
		return types.ExitSuccess
	}
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Code
	}
	return types.ExitGenericError
}

// BackupStats contains the outcome of one run
type BackupStats struct {
	Instance  string
	RunID     string
	Hostname  string
	Version   string
	DryRun    bool
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Counters       *backup.RunCounters
	ArchivePath    string
	ArchiveSize    int64
	ArchiveEntries int
	Checksum       string
	Reaped         backup.ReapResult
	ExitCode       types.ExitCode
}

// Orchestrator drives one backup run: checks, pattern loop, archive and reap.
type Orchestrator struct {
	logger   *logging.Logger
	cfg      *config.Config
	checker  *checks.Checker
	matcher  backup.Matcher
	version  string
	dryRun   bool
	hostname func() (string, error)

	startTime time.Time
}

// New creates a new Orchestrator
func New(logger *logging.Logger, cfg *config.Config, dryRun bool) *Orchestrator {
	return &Orchestrator{
		logger:   logger,
		cfg:      cfg,
		dryRun:   dryRun,
		hostname: os.Hostname,
	}
}

// SetVersion sets the tool version recorded in the manifest
func (o *Orchestrator) SetVersion(version string) {
	o.version = version
}

// SetChecker sets the pre-run checker
func (o *Orchestrator) SetChecker(checker *checks.Checker) {
	o.checker = checker
}

// RunPreBackupChecks performs all pre-run validation checks
func (o *Orchestrator) RunPreBackupChecks(ctx context.Context) error {
	if o.checker == nil {
		o.logger.Debug("No checker configured, skipping pre-run checks")
		return nil
	}

	o.logger.Step("Pre-run validation checks")
	results, err := o.checker.RunAllChecks(ctx)
	for _, result := range results {
		if result.Passed {
			o.logger.Debug("OK %s: %s", result.Name, result.Message)
		} else {
			o.logger.Error("FAILED %s: %s", result.Name, result.Message)
		}
	}
	if err != nil {
		code := types.ExitConfigError
		if errors.Is(err, checks.ErrLocked) {
			code = types.ExitLockError
		}
		return &BackupError{Phase: "checks", Err: err, Code: code}
	}
	return nil
}

// ReleaseBackupLock releases the single-instance lock, if any
func (o *Orchestrator) ReleaseBackupLock() error {
	if o.checker == nil {
		return nil
	}
	return o.checker.ReleaseLock()
}

// RunBackup executes INIT, the pattern loop and, outside dry-run mode, the
// archive and reap steps. The whole run is bounded by max_execution_time;
// on expiry or cancellation of ctx the partial totals are reported, the
// staging directory is dropped and no archive is produced.
func (o *Orchestrator) RunBackup(ctx context.Context) (stats *BackupStats, err error) {
	start := o.startTime
	if start.IsZero() {
		start = time.Now()
	}

	hostname, _ := o.hostname()
	run := backup.NewRunContext(o.cfg.Prefix, o.cfg.BackupDir, o.cfg.TmpRootDir, o.dryRun, start)
	stats = &BackupStats{
		Instance:  run.Instance,
		RunID:     run.RunID,
		Hostname:  hostname,
		Version:   o.version,
		DryRun:    o.dryRun,
		StartTime: start,
	}

	defer func() {
		stats.EndTime = time.Now()
		stats.Duration = stats.EndTime.Sub(stats.StartTime)
		stats.ExitCode = ExitCodeFor(err)
		o.exportMetrics(stats)
	}()

	if err := o.RunPreBackupChecks(ctx); err != nil {
		return stats, err
	}
	defer func() {
		if relErr := o.ReleaseBackupLock(); relErr != nil {
			o.logger.Warning("Failed to release lock: %v", relErr)
		}
	}()

	timeout := o.cfg.MaxExecutionTime
	if timeout <= 0 {
		timeout = config.DefaultMaxExecutionTime
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	o.logger.Step("Collecting files for %s", run.Instance)
	if o.dryRun {
		o.logger.Info("[DRY RUN] Listing matches only, nothing will be copied")
	} else {
		o.logger.Debug("Staging root: %s", run.StagingRoot)
	}

	coordinator := backup.NewCoordinator(o.logger, run, o.matcher)
	counters := coordinator.Run(runCtx, o.cfg.Paths)
	stats.Counters = counters

	if counters.Aborted {
		return stats, o.abort(ctx, run, counters.AbortErr)
	}

	if o.dryRun {
		o.logger.Info("[DRY RUN] %d item(s) matched, %d pattern(s) skipped, %d error(s)",
			counters.Items, counters.SkippedPatterns, counters.Errors)
		o.logSummary(stats)
		return stats, nil
	}

	o.logger.Step("Creating archive")
	manifest := backup.NewManifest(run, counters, hostname, o.version)
	if path, mErr := backup.WriteManifest(run.StagingRoot, manifest); mErr != nil {
		o.logger.Warning("Failed to write manifest: %v", mErr)
	} else {
		o.logger.Debug("Manifest written to %s", path)
	}

	archiver := backup.NewArchiver(o.logger, 0)
	archive, buildErr := archiver.Build(runCtx, run.StagingRoot, run.ArchiveBase())
	if buildErr != nil {
		if runCtx.Err() != nil {
			return stats, o.abort(ctx, run, runCtx.Err())
		}
		o.logger.Critical("Archive creation failed: %v", buildErr)
		return stats, &BackupError{Phase: "archive", Err: buildErr, Code: types.ExitArchiveError}
	}
	stats.ArchivePath = archive.Path
	stats.ArchiveSize = archive.Size

	entries, verifyErr := archiver.VerifyArchive(archive)
	if verifyErr != nil {
		o.logger.Critical("Archive verification failed: %v", verifyErr)
		return stats, &BackupError{Phase: "archive", Err: verifyErr, Code: types.ExitArchiveError}
	}
	stats.ArchiveEntries = entries

	sum, sumErr := backup.WriteChecksumFile(runCtx, o.logger, archive.Path)
	if sumErr != nil {
		o.logger.Warning("Failed to write checksum for %s: %v", archive.Path, sumErr)
	} else {
		stats.Checksum = sum
		o.logger.Debug("Checksum written to %s%s", archive.Path, backup.ChecksumExtension)
	}

	o.logger.Step("Cleaning temporary root %s", o.cfg.TmpRootDir)
	stats.Reaped = backup.NewReaper(o.logger).Reap(o.cfg.TmpRootDir)
	if stats.Reaped.Failed > 0 {
		o.logger.Warning("%d entr(ies) could not be removed from %s", stats.Reaped.Failed, o.cfg.TmpRootDir)
	}

	o.logSummary(stats)
	return stats, nil
}

// abort handles a run stopped by the deadline or by a signal.
func (o *Orchestrator) abort(parent context.Context, run backup.RunContext, cause error) error {
	code := types.ExitTimeoutError
	if parent.Err() != nil {
		code = types.ExitInterrupted
		o.logger.Error("Run interrupted, no archive produced")
	} else {
		o.logger.Error("Timed out after %s (max_execution_time), no archive produced", o.cfg.MaxExecutionTime)
	}

	if !run.DryRun {
		if err := os.RemoveAll(run.StagingRoot); err != nil {
			o.logger.Warning("Failed to remove staging directory %s: %v", run.StagingRoot, err)
		}
	}
	return &BackupError{Phase: "collection", Err: cause, Code: code}
}

func (o *Orchestrator) logSummary(stats *BackupStats) {
	c := stats.Counters
	o.logger.Info("Summary: %s, %s copied", c.Summary(), humanize.IBytes(uint64(c.BytesCopied)))
	if stats.ArchivePath != "" {
		o.logger.Info("Archive: %s (%s, %d entries)", stats.ArchivePath,
			humanize.IBytes(uint64(stats.ArchiveSize)), stats.ArchiveEntries)
	}
	if c.Errors > 0 {
		o.logger.Warning("Completed with %d error(s)", c.Errors)
		return
	}
	o.logger.Info("Done")
}

func (o *Orchestrator) exportMetrics(stats *BackupStats) {
	if o.cfg.MetricsDir == "" || o.dryRun {
		return
	}
	m := &metrics.BackupMetrics{
		Hostname:    stats.Hostname,
		Version:     stats.Version,
		Instance:    stats.Instance,
		StartTime:   stats.StartTime,
		EndTime:     stats.EndTime,
		Duration:    stats.Duration,
		ExitCode:    stats.ExitCode.Int(),
		Warnings:    o.logger.WarningCount(),
		ArchiveSize: stats.ArchiveSize,
		Reaped:      stats.Reaped.Removed,
	}
	if c := stats.Counters; c != nil {
		m.Aborted = c.Aborted
		m.Items = c.Items
		m.Copied = c.Copied
		m.DirsCreated = c.DirsCreated
		m.SkippedPatterns = c.SkippedPatterns
		m.Errors = c.Errors
		m.BytesCopied = c.BytesCopied
	}
	if err := metrics.NewPrometheusExporter(o.cfg.MetricsDir, o.logger).Export(m); err != nil {
		o.logger.Warning("Failed to export Prometheus metrics: %v", err)
	}
}
