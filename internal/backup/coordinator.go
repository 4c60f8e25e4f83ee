package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cavaliba/backupconf/internal/logging"
)

// ErrRelativePattern is recorded for patterns that are not absolute.
var ErrRelativePattern = errors.New("not an absolute path (should start with a /)")

// InstanceTimeFormat is the timestamp suffix of instance names.
const InstanceTimeFormat = "20060102_150405"

// RunContext holds the immutable data of one run.
type RunContext struct {
	Instance    string
	RunID       string
	StagingRoot string
	BackupDir   string
	TmpRootDir  string
	DryRun      bool
	StartedAt   time.Time
}

// NewRunContext derives the instance name <prefix>_<YYYYMMDD_HHMMSS> and
// the staging root tmprootdir/instance.
func NewRunContext(prefix, backupDir, tmpRootDir string, dryRun bool, now time.Time) RunContext {
	instance := prefix + "_" + now.Format(InstanceTimeFormat)
	return RunContext{
		Instance:    instance,
		RunID:       uuid.NewString(),
		StagingRoot: filepath.Join(tmpRootDir, instance),
		BackupDir:   backupDir,
		TmpRootDir:  tmpRootDir,
		DryRun:      dryRun,
		StartedAt:   now,
	}
}

// ArchiveBase is the archive path without extension.
func (r RunContext) ArchiveBase() string {
	return filepath.Join(r.BackupDir, r.Instance)
}

// PatternResult summarizes one configured pattern.
type PatternResult struct {
	Pattern     string `json:"pattern"`
	Matched     int    `json:"matched"`
	Copied      int    `json:"copied"`
	DirsCreated int    `json:"dirs_created"`
	Errors      int    `json:"errors"`
	Skipped     bool   `json:"skipped,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RunCounters aggregates the outcome of a whole pattern loop.
type RunCounters struct {
	Items           int64 `json:"items"`
	Copied          int64 `json:"copied"`
	DirsCreated     int64 `json:"dirs_created"`
	SkippedPatterns int64 `json:"skipped_patterns"`
	Errors          int64 `json:"errors"`
	BytesCopied     int64 `json:"bytes_copied"`
	Aborted         bool  `json:"aborted,omitempty"`

	Patterns []PatternResult `json:"patterns"`

	// AbortErr is the context error that stopped the loop.
	AbortErr error `json:"-"`
}

// Coordinator drives matcher and materializer over the configured patterns.
type Coordinator struct {
	logger       *logging.Logger
	run          RunContext
	matcher      Matcher
	materializer *Materializer
}

// NewCoordinator builds a coordinator for run. A nil matcher selects the
// filesystem PathMatcher.
func NewCoordinator(logger *logging.Logger, run RunContext, matcher Matcher) *Coordinator {
	if matcher == nil {
		matcher = NewPathMatcher()
	}
	return &Coordinator{
		logger:       logger,
		run:          run,
		matcher:      matcher,
		materializer: NewMaterializer(logger, run.StagingRoot),
	}
}

// Run processes patterns in order and returns the counters. Patterns are
// independent: a bad pattern or a failed entry is counted and the loop
// goes on. Cancellation of ctx is honoured between patterns and between
// entries; the partial counters are returned with Aborted set.
func (c *Coordinator) Run(ctx context.Context, patterns []string) *RunCounters {
	counters := &RunCounters{Patterns: make([]PatternResult, 0, len(patterns))}

	for _, pattern := range patterns {
		if err := ctx.Err(); err != nil {
			c.abort(counters, err)
			return counters
		}

		c.logger.Step("Path: %s", pattern)
		result := PatternResult{Pattern: pattern}

		if !strings.HasPrefix(pattern, "/") {
			c.logger.Error("  SKIPPED - %s: %v", pattern, ErrRelativePattern)
			counters.Errors++
			result.Errors = 1
			result.Error = ErrRelativePattern.Error()
			counters.Patterns = append(counters.Patterns, result)
			continue
		}

		matches, err := c.matcher.Expand(pattern)
		if err != nil {
			c.logger.Error("  SKIPPED - %v", err)
			counters.Errors++
			result.Errors = 1
			result.Error = err.Error()
			counters.Patterns = append(counters.Patterns, result)
			continue
		}

		aborted := false
		for _, path := range matches {
			if err := ctx.Err(); err != nil {
				aborted = true
				break
			}
			counters.Items++
			result.Matched++

			if c.run.DryRun {
				c.logger.Info("  LIST - %s", path)
				continue
			}

			out, err := c.materializer.Materialize(ctx, path)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
					aborted = true
					break
				}
				c.logger.Error("  FAILED - %v", err)
				counters.Errors++
				result.Errors++
				continue
			}

			switch out.Action {
			case ActionCopied:
				c.logger.Info("  COPIED - %s", path)
				counters.Copied++
				counters.BytesCopied += out.Bytes
				result.Copied++
			case ActionDirCreated:
				c.logger.Info("  MKDIR - %s", path)
				counters.DirsCreated++
				result.DirsCreated++
			}
		}

		if aborted {
			counters.Patterns = append(counters.Patterns, result)
			c.abort(counters, ctx.Err())
			return counters
		}

		if result.Matched == 0 {
			c.logger.Skip("  not found: %s", pattern)
			counters.SkippedPatterns++
			result.Skipped = true
		} else if c.run.DryRun {
			c.logger.Info("  %d matched", result.Matched)
		} else {
			c.logger.Info("  %d matched, %d copied", result.Matched, result.Copied+result.DirsCreated)
		}
		counters.Patterns = append(counters.Patterns, result)
	}

	return counters
}

func (c *Coordinator) abort(counters *RunCounters, err error) {
	counters.Aborted = true
	counters.AbortErr = err
	c.logger.Warning("Run interrupted: %v", err)
}

// Summary renders the counters as a single log line.
func (rc *RunCounters) Summary() string {
	return fmt.Sprintf("items=%d copied=%d dirs=%d skipped=%d errors=%d",
		rc.Items, rc.Copied, rc.DirsCreated, rc.SkippedPatterns, rc.Errors)
}
