package extract

import (
	"encoding/json"
	"fmt"
)

type fioOutput struct {
	Jobs []fioJob `json:"jobs"`
}

type fioJob struct {
	Read  fioDirStats `json:"read"`
	Write fioDirStats `json:"write"`
}

type fioDirStats struct {
	IOBytes int64      `json:"io_bytes"`
	IOPS    float64    `json:"iops"`
	BWBytes float64    `json:"bw_bytes"`
	LatNs   fioLatency `json:"lat_ns"`
	ClatNs  fioLatency `json:"clat_ns"`
}

type fioLatency struct {
	Min        float64            `json:"min"`
	Max        float64            `json:"max"`
	Mean       float64            `json:"mean"`
	Percentile map[string]float64 `json:"percentile"`
}

// parseFio reads fio's --output-format=json result. The first job is taken
// as representative for latency; aggregating latency across jobs would need
// weighted averages.
func parseFio(content []byte) ([]MetricRecord, error) {
	var out fioOutput
	if err := json.Unmarshal(content, &out); err != nil {
		return nil, fmt.Errorf("invalid fio JSON: %w", err)
	}
	if len(out.Jobs) == 0 {
		return nil, fmt.Errorf("no jobs in fio result")
	}

	job := out.Jobs[0]
	var records []MetricRecord

	if job.Read.IOBytes > 0 {
		records = append(records,
			record("read_iops", job.Read.IOPS, "iops"),
			record("read_bw_bytes", job.Read.BWBytes, "B/s"),
			record("read_lat_ns_mean", job.Read.LatNs.Mean, "ns"),
			record("read_lat_ns_min", job.Read.LatNs.Min, "ns"),
			record("read_lat_ns_max", job.Read.LatNs.Max, "ns"),
			record("read_io_bytes", float64(job.Read.IOBytes), "B"),
		)
		if p95, ok := job.Read.ClatNs.Percentile["95.000000"]; ok {
			records = append(records, record("read_lat_ns_p95", p95, "ns"))
		}
		if p99, ok := job.Read.ClatNs.Percentile["99.000000"]; ok {
			records = append(records, record("read_lat_ns_p99", p99, "ns"))
		}
	}

	if job.Write.IOBytes > 0 {
		records = append(records,
			record("write_iops", job.Write.IOPS, "iops"),
			record("write_bw_bytes", job.Write.BWBytes, "B/s"),
			record("write_lat_ns_mean", job.Write.LatNs.Mean, "ns"),
			record("write_lat_ns_min", job.Write.LatNs.Min, "ns"),
			record("write_lat_ns_max", job.Write.LatNs.Max, "ns"),
			record("write_io_bytes", float64(job.Write.IOBytes), "B"),
		)
		if p95, ok := job.Write.ClatNs.Percentile["95.000000"]; ok {
			records = append(records, record("write_lat_ns_p95", p95, "ns"))
		}
		if p99, ok := job.Write.ClatNs.Percentile["99.000000"]; ok {
			records = append(records, record("write_lat_ns_p99", p99, "ns"))
		}
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("fio job performed no IO")
	}
	return records, nil
}
