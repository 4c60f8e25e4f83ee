package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cavaliba/backupconf/internal/logging"
)

// TextfileName is the file node_exporter picks up from the textfile directory.
const TextfileName = "backupconf.prom"

// BackupMetrics is the snapshot of one run exported to Prometheus.
type BackupMetrics struct {
	Hostname string
	Version  string
	Instance string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	ExitCode        int
	Aborted         bool
	Items           int64
	Copied          int64
	DirsCreated     int64
	SkippedPatterns int64
	Errors          int64
	Warnings        int64
	BytesCopied     int64
	ArchiveSize     int64
	Reaped          int
}

// PrometheusExporter writes backup metrics in Prometheus textfile format for node_exporter.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

// NewPrometheusExporter creates a new PrometheusExporter using the provided directory.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

// Export writes the given snapshot to backupconf.prom in textfileDir.
func (pe *PrometheusExporter) Export(m *BackupMetrics) error {
	if pe == nil || m == nil {
		return nil
	}
	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}
	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	registry := prometheus.NewRegistry()
	gauge := func(name, help string, value float64) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "backupconf", Name: name, Help: help})
		g.Set(value)
		registry.MustRegister(g)
	}

	gauge("start_time_seconds", "Unix time the last run started.", float64(m.StartTime.Unix()))
	gauge("end_time_seconds", "Unix time the last run ended.", float64(m.EndTime.Unix()))
	gauge("duration_seconds", "Duration of the last run.", m.Duration.Seconds())
	gauge("exit_code", "Process exit code of the last run.", float64(m.ExitCode))
	gauge("aborted", "1 when the last run was cancelled before completion.", boolValue(m.Aborted))
	gauge("items", "Entries matched by the configured patterns.", float64(m.Items))
	gauge("copied_files", "Files copied into the staging area.", float64(m.Copied))
	gauge("dirs_created", "Directories mirrored into the staging area.", float64(m.DirsCreated))
	gauge("skipped_patterns", "Patterns that matched nothing.", float64(m.SkippedPatterns))
	gauge("errors", "Pattern and item errors of the last run.", float64(m.Errors))
	gauge("warnings", "Warnings logged during the last run.", float64(m.Warnings))
	gauge("bytes_copied", "Bytes copied into the staging area.", float64(m.BytesCopied))
	gauge("archive_size_bytes", "Size of the archive produced by the last run.", float64(m.ArchiveSize))
	gauge("reaped_entries", "Entries removed from the temporary root.", float64(m.Reaped))

	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backupconf",
		Name:      "info",
		Help:      "Static information about the last run.",
		ConstLabels: prometheus.Labels{
			"hostname": m.Hostname,
			"version":  m.Version,
			"instance": m.Instance,
		},
	})
	info.Set(1)
	registry.MustRegister(info)

	outputPath := filepath.Join(pe.textfileDir, TextfileName)
	if err := prometheus.WriteToTextfile(outputPath, registry); err != nil {
		return fmt.Errorf("write metrics file %s: %w", outputPath, err)
	}

	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics written to %s", outputPath)
	}
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
