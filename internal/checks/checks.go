package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/cavaliba/backupconf/internal/logging"
)

// LockFileName is created in the backup directory when single_instance is set.
const LockFileName = ".backupconf.lock"

// ErrLocked is returned when another run holds the instance lock.
var ErrLocked = errors.New("another backupconf run holds the lock")

var (
	osStat      = os.Stat
	osRemove    = os.Remove
	osOpenFile  = os.OpenFile
	osWriteFile = os.WriteFile
	flock       = unix.Flock
	statfs      = unix.Statfs
)

// Checker performs pre-run validation checks
type Checker struct {
	logger   *logging.Logger
	config   *CheckerConfig
	lockFile *os.File
}

// CheckerConfig holds configuration for pre-run checks
type CheckerConfig struct {
	BackupDir      string
	TmpRootDir     string
	LockFilePath   string
	SingleInstance bool
	MinFreeBytes   uint64
	DryRun         bool
}

// Validate checks if the checker configuration is valid
func (c *CheckerConfig) Validate() error {
	if c.BackupDir == "" {
		return fmt.Errorf("backup directory cannot be empty")
	}
	if c.TmpRootDir == "" {
		return fmt.Errorf("temporary root directory cannot be empty")
	}
	if c.LockFilePath == "" {
		c.LockFilePath = filepath.Join(c.BackupDir, LockFileName)
	}
	return nil
}

// CheckResult holds the result of a validation check
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Error   error
}

// NewChecker creates a new pre-run checker
func NewChecker(logger *logging.Logger, config *CheckerConfig) *Checker {
	return &Checker{
		logger: logger,
		config: config,
	}
}

// RunAllChecks performs all pre-run validation checks.
// Directories come first, the lock is taken last so it is never created
// in a directory that failed validation.
func (c *Checker) RunAllChecks(ctx context.Context) ([]CheckResult, error) {
	c.logger.Debug("Running pre-run validation checks")

	var results []CheckResult
	steps := []struct {
		label string
		run   func() CheckResult
	}{
		{"directory", c.CheckDirectories},
		{"permissions", c.CheckPermissions},
		{"disk space", c.CheckDiskSpace},
		{"lock file", c.CheckLockFile},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result := step.run()
		results = append(results, result)
		if !result.Passed {
			if result.Error != nil {
				return results, fmt.Errorf("%s check failed: %w", step.label, result.Error)
			}
			return results, fmt.Errorf("%s check failed: %s", step.label, result.Message)
		}
	}

	c.logger.Debug("All pre-run checks passed")
	return results, nil
}

// CheckDirectories verifies the backup and temporary roots exist
func (c *Checker) CheckDirectories() CheckResult {
	result := CheckResult{Name: "Directories"}

	for _, dir := range []string{c.config.BackupDir, c.config.TmpRootDir} {
		c.logger.Debug("Checking directory: %s", dir)
		info, err := osStat(dir)
		if err != nil {
			result.Error = fmt.Errorf("required directory %s: %w", dir, err)
			result.Message = result.Error.Error()
			c.logger.Error("%s", result.Message)
			return result
		}
		if !info.IsDir() {
			result.Error = fmt.Errorf("required path is not a directory: %s", dir)
			result.Message = result.Error.Error()
			c.logger.Error("%s", result.Message)
			return result
		}
	}

	result.Passed = true
	result.Message = "All required directories exist"
	c.logger.Debug("%s", result.Message)
	return result
}

// CheckPermissions verifies both roots are writable. Dry runs write
// nothing and skip the probe.
func (c *Checker) CheckPermissions() CheckResult {
	result := CheckResult{Name: "Permissions"}

	if c.config.DryRun {
		result.Passed = true
		result.Message = "Skipped in dry-run mode"
		return result
	}

	for _, dir := range []string{c.config.BackupDir, c.config.TmpRootDir} {
		testFile := filepath.Join(dir, fmt.Sprintf(".backupconf-permission-test-%d", os.Getpid()))
		if err := osWriteFile(testFile, []byte("test"), 0o600); err != nil {
			result.Error = fmt.Errorf("directory %s is not writable: %w", dir, err)
			result.Message = result.Error.Error()
			c.logger.Error("%s", result.Message)
			return result
		}
		if err := osRemove(testFile); err != nil {
			c.logger.Warning("Failed to remove permission probe %s: %v", testFile, err)
		}
	}

	result.Passed = true
	result.Message = "All directories are writable"
	c.logger.Debug("%s", result.Message)
	return result
}

// CheckDiskSpace reports free space on the backup directory. Shortage is
// only a warning: the archive size is unknown before the run.
func (c *Checker) CheckDiskSpace() CheckResult {
	result := CheckResult{Name: "Disk Space", Passed: true}

	free, err := freeBytes(c.config.BackupDir)
	if err != nil {
		c.logger.Warning("Disk space check failed for %s (non-blocking): %v", c.config.BackupDir, err)
		result.Message = err.Error()
		return result
	}

	result.Message = fmt.Sprintf("%s free on %s", humanize.IBytes(free), c.config.BackupDir)
	if c.config.MinFreeBytes > 0 && free < c.config.MinFreeBytes {
		c.logger.Warning("Low disk space on %s: %s available, %s recommended",
			c.config.BackupDir, humanize.IBytes(free), humanize.IBytes(c.config.MinFreeBytes))
		return result
	}
	c.logger.Debug("%s", result.Message)
	return result
}

func freeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// CheckLockFile takes an exclusive flock on the lock file when
// single_instance is enabled. The lock lives until ReleaseLock or process
// exit, so a crashed run never leaves a stale lock behind.
func (c *Checker) CheckLockFile() CheckResult {
	result := CheckResult{Name: "Lock File"}

	if !c.config.SingleInstance {
		result.Passed = true
		result.Message = "Single-instance lock disabled"
		return result
	}

	lockPath := c.lockPath()
	if c.config.DryRun {
		c.logger.Info("[DRY RUN] Would lock %s", lockPath)
		result.Passed = true
		result.Message = "Lock skipped in dry-run mode"
		return result
	}

	c.logger.Debug("Lock file path: %s", lockPath)
	f, err := osOpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		result.Error = fmt.Errorf("failed to open lock file: %w", err)
		result.Message = result.Error.Error()
		return result
	}

	if err := flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			result.Error = fmt.Errorf("%w (%s)", ErrLocked, lockPath)
		} else {
			result.Error = fmt.Errorf("failed to lock %s: %w", lockPath, err)
		}
		result.Message = result.Error.Error()
		return result
	}

	hostname, _ := os.Hostname()
	content := fmt.Sprintf("pid=%d\nhost=%s\ntime=%s\n", os.Getpid(), hostname, time.Now().Format(time.RFC3339))
	if err := f.Truncate(0); err == nil {
		if _, err := f.WriteAt([]byte(content), 0); err != nil {
			c.logger.Warning("Failed to write lock file %s: %v", lockPath, err)
		}
	}

	c.lockFile = f
	result.Passed = true
	result.Message = "Lock file acquired successfully"
	c.logger.Debug("%s", result.Message)
	return result
}

// ReleaseLock drops the flock taken by CheckLockFile. The file itself is
// left in place.
func (c *Checker) ReleaseLock() error {
	if c.lockFile == nil {
		return nil
	}
	f := c.lockFile
	c.lockFile = nil

	if err := flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	c.logger.Debug("Lock released: %s", c.lockPath())
	return nil
}

func (c *Checker) lockPath() string {
	if c.config.LockFilePath != "" {
		return c.config.LockFilePath
	}
	return filepath.Join(c.config.BackupDir, LockFileName)
}
