package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cavaliba/backupconf/internal/types"
)

type bootstrapEntry struct {
	level   types.LogLevel
	message string
}

// BootstrapLogger prints and buffers messages emitted before the main logger
// exists (flag parsing, config loading), so they can be replayed into it.
type BootstrapLogger struct {
	mu       sync.Mutex
	entries  []bootstrapEntry
	flushed  bool
	minLevel types.LogLevel
	stdout   io.Writer
	stderr   io.Writer
}

// NewBootstrapLogger creates a bootstrap logger with INFO level.
func NewBootstrapLogger() *BootstrapLogger {
	return &BootstrapLogger{
		minLevel: types.LogLevelInfo,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
}

// SetOutputs redirects console writes; nil keeps the current writer.
func (b *BootstrapLogger) SetOutputs(stdout, stderr io.Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stdout != nil {
		b.stdout = stdout
	}
	if stderr != nil {
		b.stderr = stderr
	}
}

// SetLevel updates the minimum level replayed by Flush.
func (b *BootstrapLogger) SetLevel(level types.LogLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.minLevel = level
}

// Debug records a debug message without printing it.
func (b *BootstrapLogger) Debug(format string, args ...interface{}) {
	b.record(types.LogLevelDebug, fmt.Sprintf(format, args...))
}

// Info prints and records an informational message.
func (b *BootstrapLogger) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	b.print(false, msg)
	b.record(types.LogLevelInfo, msg)
}

// Warning prints to stderr and records a warning.
func (b *BootstrapLogger) Warning(format string, args ...interface{}) {
	msg := strings.TrimSuffix(fmt.Sprintf(format, args...), "\n")
	b.print(true, msg)
	b.record(types.LogLevelWarning, msg)
}

// Error prints to stderr and records an error.
func (b *BootstrapLogger) Error(format string, args ...interface{}) {
	msg := strings.TrimSuffix(fmt.Sprintf(format, args...), "\n")
	b.print(true, msg)
	b.record(types.LogLevelError, msg)
}

func (b *BootstrapLogger) print(toStderr bool, msg string) {
	b.mu.Lock()
	w := b.stdout
	if toStderr {
		w = b.stderr
	}
	b.mu.Unlock()
	fmt.Fprintln(w, msg)
}

func (b *BootstrapLogger) record(level types.LogLevel, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, bootstrapEntry{
		level:   level,
		message: message,
	})
}

// Flush replays the buffered entries into logger (only the first time).
func (b *BootstrapLogger) Flush(logger *Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushed || logger == nil {
		return
	}
	for _, entry := range b.entries {
		if entry.level > b.minLevel {
			continue
		}
		switch entry.level {
		case types.LogLevelDebug:
			logger.Debug("%s", entry.message)
		case types.LogLevelWarning:
			logger.Warning("%s", entry.message)
		case types.LogLevelError:
			logger.Error("%s", entry.message)
		default:
			logger.Info("%s", entry.message)
		}
	}
	b.flushed = true
	b.entries = nil
}
