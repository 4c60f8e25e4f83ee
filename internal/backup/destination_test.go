package backup

import (
	"testing"

	"github.com/cavaliba/backupconf/internal/types"
)

func TestMapDestination(t *testing.T) {
	tests := []struct {
		name   string
		entry  MatchedEntry
		dest   string
		staged string
	}{
		{
			name:   "file mirrored into parent",
			entry:  MatchedEntry{Path: "/a/b/c.conf", Kind: types.EntryFile},
			dest:   "/tmp/stage/a/b",
			staged: "/tmp/stage/a/b/c.conf",
		},
		{
			name:   "directory mirrored as itself",
			entry:  MatchedEntry{Path: "/a/b/d", Kind: types.EntryDirectory},
			dest:   "/tmp/stage/a/b/d",
			staged: "/tmp/stage/a/b/d",
		},
		{
			name:   "file at filesystem root",
			entry:  MatchedEntry{Path: "/hosts", Kind: types.EntryFile},
			dest:   "/tmp/stage/",
			staged: "/tmp/stage//hosts",
		},
		{
			name:   "file parent is not cleaned",
			entry:  MatchedEntry{Path: "/a/../b/c.conf", Kind: types.EntryFile},
			dest:   "/tmp/stage/a/../b",
			staged: "/tmp/stage/a/../b/c.conf",
		},
		{
			name:   "dot segments are not cleaned",
			entry:  MatchedEntry{Path: "/a/../b/c", Kind: types.EntryDirectory},
			dest:   "/tmp/stage/a/../b/c",
			staged: "/tmp/stage/a/../b/c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapDestination(tt.entry, "/tmp/stage"); got != tt.dest {
				t.Errorf("MapDestination = %q, want %q", got, tt.dest)
			}
			if got := StagedFilePath(tt.entry, "/tmp/stage"); got != tt.staged {
				t.Errorf("StagedFilePath = %q, want %q", got, tt.staged)
			}
		})
	}
}
