package database

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storage-bench/internal/report"
)

// SpoolArtifact wraps a report for later upload when the database is
// unreachable at campaign end.
type SpoolArtifact struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`

	ConfigContent string `json:"config_content,omitempty"`

	Report *report.AggregatedReport `json:"report"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("STORAGE_BENCH_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// BuildSpoolArtifact wraps a finished report and the config it ran with.
func BuildSpoolArtifact(rep *report.AggregatedReport, configContent string) *SpoolArtifact {
	return &SpoolArtifact{
		Version:       1,
		CreatedAt:     time.Now(),
		ConfigContent: configContent,
		Report:        rep,
	}
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil || artifact.Report == nil {
		return "", fmt.Errorf("spool artifact is empty")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf(
		"campaign_%s_%s.json.gz",
		artifact.Report.Metadata.CampaignID,
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}
