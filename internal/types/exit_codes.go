// Package types defines shared application data types.
package types

// ExitCode represents the application's exit codes.
type ExitCode int

const (
	// ExitSuccess - Execution completed (item-level errors included).
	ExitSuccess ExitCode = 0

	// ExitGenericError - Unspecified generic error.
	ExitGenericError ExitCode = 1

	// ExitConfigError - Missing or invalid configuration, missing required directories.
	ExitConfigError ExitCode = 2

	// ExitBackupError - Error while preparing the staging area.
	ExitBackupError ExitCode = 4

	// ExitArchiveError - Error while creating the archive.
	ExitArchiveError ExitCode = 10

	// ExitPanicError - Unhandled panic caught.
	ExitPanicError ExitCode = 13

	// ExitTimeoutError - Run aborted by the max execution time.
	ExitTimeoutError ExitCode = 15

	// ExitLockError - Another instance holds the single-instance lock.
	ExitLockError ExitCode = 16

	// ExitInterrupted - Run aborted by SIGINT/SIGTERM.
	ExitInterrupted ExitCode = 130
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitGenericError:
		return "generic error"
	case ExitConfigError:
		return "configuration error"
	case ExitBackupError:
		return "backup error"
	case ExitArchiveError:
		return "archive error"
	case ExitPanicError:
		return "panic error"
	case ExitTimeoutError:
		return "timeout"
	case ExitLockError:
		return "lock error"
	case ExitInterrupted:
		return "interrupted"
	default:
		return "unknown error"
	}
}

// Int returns the exit code as an int.
func (e ExitCode) Int() int {
	return int(e)
}
