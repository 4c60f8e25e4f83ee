package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"

	"github.com/cavaliba/backupconf/internal/logging"
	"github.com/cavaliba/backupconf/internal/types"
)

// ErrUnsupportedType is returned for sources that are neither regular
// files nor directories (sockets, devices, fifos).
var ErrUnsupportedType = errors.New("unsupported file type")

// Action is what the materializer did with one entry.
type Action int

const (
	ActionFailed Action = iota
	ActionCopied
	ActionDirCreated
)

func (a Action) String() string {
	switch a {
	case ActionCopied:
		return "copied"
	case ActionDirCreated:
		return "dir-created"
	default:
		return "failed"
	}
}

// Outcome describes the result of materializing one entry.
type Outcome struct {
	Action      Action
	Entry       MatchedEntry
	Destination string
	Bytes       int64
}

// MaterializeError reports a failed entry with its source and destination.
type MaterializeError struct {
	Source      string
	Destination string
	Err         error
}

func (e *MaterializeError) Error() string {
	if e.Destination == "" {
		return fmt.Sprintf("%s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s -> %s: %v", e.Source, e.Destination, e.Err)
}

func (e *MaterializeError) Unwrap() error {
	return e.Err
}

// Materializer mirrors matched entries under a staging root.
type Materializer struct {
	logger      *logging.Logger
	stagingRoot string

	stat     func(string) (os.FileInfo, error)
	resolve  func(string) (string, error)
	copyFile func(src, dest string, opts ...copy.Options) error
}

// NewMaterializer returns a materializer writing under stagingRoot.
func NewMaterializer(logger *logging.Logger, stagingRoot string) *Materializer {
	return &Materializer{
		logger:      logger,
		stagingRoot: stagingRoot,
		stat:        os.Stat,
		resolve:     filepath.EvalSymlinks,
		copyFile:    copy.Copy,
	}
}

// Materialize stats path (following symlinks) and mirrors it under the
// staging root: directories are created, files are copied into their
// mirrored parent. An existing destination file is replaced, so running
// twice on the same entry yields the same staged content.
func (m *Materializer) Materialize(ctx context.Context, path string) (Outcome, error) {
	out := Outcome{Action: ActionFailed, Entry: MatchedEntry{Path: path}}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	info, err := m.stat(path)
	if err != nil {
		return out, &MaterializeError{Source: path, Err: err}
	}

	switch {
	case info.IsDir():
		out.Entry.Kind = types.EntryDirectory
		out.Destination = MapDestination(out.Entry, m.stagingRoot)
		m.logger.Debug("Creating directory %s", out.Destination)
		if err := os.MkdirAll(out.Destination, 0o700); err != nil {
			return out, &MaterializeError{Source: path, Destination: out.Destination, Err: err}
		}
		out.Action = ActionDirCreated
		return out, nil

	case info.Mode().IsRegular():
		out.Entry.Kind = types.EntryFile
		destDir := MapDestination(out.Entry, m.stagingRoot)
		out.Destination = StagedFilePath(out.Entry, m.stagingRoot)
		m.logger.Debug("Copying %s -> %s", path, out.Destination)
		if err := os.MkdirAll(destDir, 0o700); err != nil {
			return out, &MaterializeError{Source: path, Destination: out.Destination, Err: err}
		}
		if err := removeStaleFile(out.Destination); err != nil {
			return out, &MaterializeError{Source: path, Destination: out.Destination, Err: err}
		}
		// Relative link targets resolve against the link's directory, not
		// the working directory, so copy from the resolved path.
		src, err := m.resolve(path)
		if err != nil {
			return out, &MaterializeError{Source: path, Destination: out.Destination, Err: err}
		}
		if err := m.copyFile(src, out.Destination, copyOptions()); err != nil {
			return out, &MaterializeError{Source: path, Destination: out.Destination, Err: err}
		}
		out.Action = ActionCopied
		out.Bytes = info.Size()
		return out, nil

	default:
		return out, &MaterializeError{
			Source: path,
			Err:    fmt.Errorf("%w: %s", ErrUnsupportedType, info.Mode().Type()),
		}
	}
}

// copyOptions copies link targets instead of links and keeps timestamps.
func copyOptions() copy.Options {
	return copy.Options{
		OnSymlink: func(string) copy.SymlinkAction {
			return copy.Deep
		},
		PreserveTimes: true,
	}
}

// removeStaleFile drops a previous staged copy so read-only files can be
// overwritten.
func removeStaleFile(dest string) error {
	info, err := os.Lstat(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("destination %s is a directory", dest)
	}
	return os.Remove(dest)
}
