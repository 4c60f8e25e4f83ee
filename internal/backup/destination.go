package backup

import (
	"strings"

	"github.com/cavaliba/backupconf/internal/types"
)

// MatchedEntry is one absolute path produced by pattern expansion.
// Kind is only known once the materializer has stat'ed the path.
type MatchedEntry struct {
	Path string
	Kind types.EntryKind
}

// MapDestination returns the staging directory that receives entry.
// Files land in the mirror of their parent directory, directories are
// mirrored as themselves. Paths are concatenated verbatim, nothing is
// cleaned.
func MapDestination(entry MatchedEntry, stagingRoot string) string {
	if entry.Kind == types.EntryDirectory {
		return stagingRoot + entry.Path
	}
	return stagingRoot + parentDir(entry.Path)
}

// StagedFilePath returns where the content of a file entry is written.
func StagedFilePath(entry MatchedEntry, stagingRoot string) string {
	if entry.Kind == types.EntryDirectory {
		return MapDestination(entry, stagingRoot)
	}
	return MapDestination(entry, stagingRoot) + "/" + entry.Path[strings.LastIndex(entry.Path, "/")+1:]
}

// parentDir is filepath.Dir without the Clean step.
func parentDir(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "."
	}
	if dir := strings.TrimRight(path[:i], "/"); dir != "" {
		return dir
	}
	return "/"
}
