package backup

import (
	"os"
	"path/filepath"

	"github.com/cavaliba/backupconf/internal/logging"
)

// ReapResult counts the children removed from the temporary root.
type ReapResult struct {
	Removed int
	Failed  int
}

// Reaper empties the shared temporary root.
//
// Every direct child of tmprootdir is removed, whoever created it. The
// directory must be reserved to backupconf: a concurrent run staging there
// loses its staging directory.
type Reaper struct {
	logger    *logging.Logger
	removeAll func(string) error
	remove    func(string) error
}

// NewReaper returns a reaper acting on the real filesystem.
func NewReaper(logger *logging.Logger) *Reaper {
	return &Reaper{
		logger:    logger,
		removeAll: os.RemoveAll,
		remove:    os.Remove,
	}
}

// Reap removes directories recursively and unlinks everything else,
// symlinks included. A failure is logged and counted; siblings are still
// processed.
func (r *Reaper) Reap(tmprootdir string) ReapResult {
	var result ReapResult

	entries, err := os.ReadDir(tmprootdir)
	if err != nil {
		r.logger.Warning("Cannot list temporary root %s: %v", tmprootdir, err)
		result.Failed++
		return result
	}

	for _, entry := range entries {
		path := filepath.Join(tmprootdir, entry.Name())
		remove := r.remove
		if entry.IsDir() {
			remove = r.removeAll
		}
		if err := remove(path); err != nil {
			r.logger.Warning("Failed to remove %s: %v", path, err)
			result.Failed++
			continue
		}
		r.logger.Debug("Removed %s", path)
		result.Removed++
	}
	return result
}
