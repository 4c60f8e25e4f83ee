package types

// EntryKind tells how a matched path is materialized in the staging area.
type EntryKind int

const (
	// EntryFile - content copied into the mirrored parent directory
	EntryFile EntryKind = iota

	// EntryDirectory - mirrored as an empty directory
	EntryDirectory
)

// String returns the string representation of the entry kind.
func (k EntryKind) String() string {
	switch k {
	case EntryFile:
		return "file"
	case EntryDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// CompressionType represents the compression type.
type CompressionType string

const (
	// CompressionGzip - gzip compression
	CompressionGzip CompressionType = "gz"
)

// String returns the string representation of the compression type.
func (c CompressionType) String() string {
	return string(c)
}

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug - Debug logs (maximum detail)
	LogLevelDebug LogLevel = 5

	// LogLevelInfo - General information
	LogLevelInfo LogLevel = 4

	// LogLevelWarning - Warnings
	LogLevelWarning LogLevel = 3

	// LogLevelError - Errors
	LogLevelError LogLevel = 2

	// LogLevelCritical - Critical errors
	LogLevelCritical LogLevel = 1

	// LogLevelNone - No logs
	LogLevelNone LogLevel = 0
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}
