package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// ManifestFileName is written at the top of the staging root.
const ManifestFileName = "manifest.json"

// Manifest describes one run; it travels inside the archive.
type Manifest struct {
	Instance  string          `json:"instance"`
	RunID     string          `json:"run_id"`
	Hostname  string          `json:"hostname"`
	Version   string          `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Stats     ManifestStats   `json:"stats"`
	Patterns  []PatternResult `json:"patterns"`
}

// ManifestStats mirrors the run counters.
type ManifestStats struct {
	Items           int64 `json:"items"`
	Copied          int64 `json:"copied"`
	DirsCreated     int64 `json:"dirs_created"`
	SkippedPatterns int64 `json:"skipped_patterns"`
	Errors          int64 `json:"errors"`
	BytesCopied     int64 `json:"bytes_copied"`
}

// NewManifest builds the manifest of run from its counters.
func NewManifest(run RunContext, counters *RunCounters, hostname, version string) Manifest {
	return Manifest{
		Instance:  run.Instance,
		RunID:     run.RunID,
		Hostname:  hostname,
		Version:   version,
		CreatedAt: time.Now().UTC(),
		Stats: ManifestStats{
			Items:           counters.Items,
			Copied:          counters.Copied,
			DirsCreated:     counters.DirsCreated,
			SkippedPatterns: counters.SkippedPatterns,
			Errors:          counters.Errors,
			BytesCopied:     counters.BytesCopied,
		},
		Patterns: counters.Patterns,
	}
}

// WriteManifest stores m as manifest.json under stagingRoot.
func WriteManifest(stagingRoot string, m Manifest) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(stagingRoot, 0o700); err != nil {
		return "", fmt.Errorf("create staging root: %w", err)
	}
	path := filepath.Join(stagingRoot, ManifestFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}
