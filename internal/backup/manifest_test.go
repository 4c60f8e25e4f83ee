package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestWriteManifest(t *testing.T) {
	stage := filepath.Join(t.TempDir(), "host_20240101_000000")
	run := NewRunContext("host", "/backups", filepath.Dir(stage), false, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	counters := &RunCounters{
		Items:  3,
		Copied: 2,
		Errors: 1,
		Patterns: []PatternResult{
			{Pattern: "/etc/*.conf", Matched: 3, Copied: 2, Errors: 1},
			{Pattern: "/none/*", Skipped: true},
		},
	}

	path, err := WriteManifest(stage, NewManifest(run, counters, "web01", "1.2.3"))
	if err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	if path != filepath.Join(stage, ManifestFileName) {
		t.Fatalf("path = %q", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("manifest perm = %o", perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.Instance != run.Instance || m.RunID != run.RunID || m.Hostname != "web01" || m.Version != "1.2.3" {
		t.Fatalf("unexpected manifest header %+v", m)
	}
	if m.Stats.Items != 3 || m.Stats.Errors != 1 || len(m.Patterns) != 2 || !m.Patterns[1].Skipped {
		t.Fatalf("unexpected manifest body %+v", m)
	}
}
