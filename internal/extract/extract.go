// Package extract turns raw benchmark tool output into normalized metric
// records. Each extractor is a pure function from an artifact file to a
// record list; nothing here touches the device or the runtime.
package extract

import (
	"fmt"
	"os"
)

// Record statuses.
const (
	StatusOK      = "ok"
	StatusMissing = "missing"
	StatusFailed  = "failed"
)

// MetricRecord is one normalized measurement. Filesystem, workload and
// iteration are filled in by the aggregator; extractors only know the tool.
type MetricRecord struct {
	Tool       string  `json:"tool"`
	Filesystem string  `json:"filesystem,omitempty"`
	Workload   string  `json:"workload,omitempty"`
	Iteration  int     `json:"iteration,omitempty"`
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit,omitempty"`
	Status     string  `json:"status"`
}

type extractFunc func(content []byte) ([]MetricRecord, error)

var extractors = map[string]extractFunc{
	"fio":          parseFio,
	"sysbench":     parseSysbench,
	"pgbench":      parsePgbench,
	"wrk":          parseWrk,
	"iostat":       parseIostat,
	"docker-stats": parseDockerStats,
}

// Supported reports whether a tool has an extractor.
func Supported(tool string) bool {
	_, ok := extractors[tool]
	return ok
}

// Extract parses the raw output file of the named tool. Malformed output is
// an error; the aggregator records it as a missing-status placeholder and
// keeps going.
func Extract(tool, rawPath string) ([]MetricRecord, error) {
	fn, ok := extractors[tool]
	if !ok {
		return nil, fmt.Errorf("no extractor for tool %q", tool)
	}

	content, err := os.ReadFile(rawPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawPath, err)
	}

	records, err := fn(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s output: %w", tool, err)
	}

	for i := range records {
		records[i].Tool = tool
		records[i].Status = StatusOK
	}
	return records, nil
}

func record(name string, value float64, unit string) MetricRecord {
	return MetricRecord{Name: name, Value: value, Unit: unit}
}
