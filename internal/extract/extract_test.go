package extract

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func findRecord(t *testing.T, records []MetricRecord, name string) MetricRecord {
	t.Helper()
	for _, r := range records {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("record %q not found in %v", name, records)
	return MetricRecord{}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

const fioSample = `{
  "jobs": [
    {
      "read": {
        "io_bytes": 1073741824,
        "iops": 52012.5,
        "bw_bytes": 213043200,
        "lat_ns": {"min": 1200, "max": 4500000, "mean": 18432.7},
        "clat_ns": {"min": 1100, "max": 4400000, "mean": 18000.1,
          "percentile": {"95.000000": 28032, "99.000000": 46336}}
      },
      "write": {
        "io_bytes": 0,
        "iops": 0,
        "bw_bytes": 0,
        "lat_ns": {"min": 0, "max": 0, "mean": 0},
        "clat_ns": {"min": 0, "max": 0, "mean": 0}
      }
    }
  ]
}`

func TestParseFio(t *testing.T) {
	records, err := parseFio([]byte(fioSample))
	if err != nil {
		t.Fatalf("parseFio failed: %v", err)
	}

	iops := findRecord(t, records, "read_iops")
	if !almostEqual(iops.Value, 52012.5) {
		t.Errorf("read_iops = %v, want 52012.5", iops.Value)
	}

	p95 := findRecord(t, records, "read_lat_ns_p95")
	if !almostEqual(p95.Value, 28032) {
		t.Errorf("read_lat_ns_p95 = %v, want 28032", p95.Value)
	}

	for _, r := range records {
		if r.Name == "write_iops" {
			t.Errorf("write metrics present for a job with no write IO")
		}
	}
}

func TestParseFioNoJobs(t *testing.T) {
	if _, err := parseFio([]byte(`{"jobs": []}`)); err == nil {
		t.Fatal("expected error for empty job list")
	}
}

const sysbenchSample = `
SQL statistics:
    queries performed:
        read:                            140000
        write:                           40000
    transactions:                        10000  (333.28 per sec.)
    queries:                             200000 (6665.57 per sec.)

General statistics:
    total time:                          30.0045s
    total number of events:              10000

Latency (ms):
         min:                                    1.91
         avg:                                    3.00
         max:                                   41.23
         95th percentile:                        4.57
         sum:                                29990.45
`

func TestParseSysbench(t *testing.T) {
	records, err := parseSysbench([]byte(sysbenchSample))
	if err != nil {
		t.Fatalf("parseSysbench failed: %v", err)
	}

	tps := findRecord(t, records, "tps")
	if !almostEqual(tps.Value, 333.28) {
		t.Errorf("tps = %v, want 333.28", tps.Value)
	}

	p95 := findRecord(t, records, "latency_p95")
	if !almostEqual(p95.Value, 4.57) {
		t.Errorf("latency_p95 = %v, want 4.57", p95.Value)
	}

	total := findRecord(t, records, "total_time_sec")
	if !almostEqual(total.Value, 30.0045) {
		t.Errorf("total_time_sec = %v, want 30.0045", total.Value)
	}
}

const pgbenchSample = `
pgbench (16.2)
transaction type: <builtin: TPC-B (sort of)>
scaling factor: 10
query mode: simple
number of clients: 8
number of threads: 4
maximum number of tries: 1
duration: 60 s
number of transactions actually processed: 123456
number of failed transactions: 0 (0.000%)
latency average = 3.887 ms
tps = 2057.731913 (without initial connection time)
`

func TestParsePgbench(t *testing.T) {
	records, err := parsePgbench([]byte(pgbenchSample))
	if err != nil {
		t.Fatalf("parsePgbench failed: %v", err)
	}

	tps := findRecord(t, records, "tps")
	if !almostEqual(tps.Value, 2057.731913) {
		t.Errorf("tps = %v, want 2057.731913", tps.Value)
	}

	trans := findRecord(t, records, "transactions_processed")
	if trans.Value != 123456 {
		t.Errorf("transactions_processed = %v, want 123456", trans.Value)
	}

	clients := findRecord(t, records, "clients")
	if clients.Value != 8 {
		t.Errorf("clients = %v, want 8", clients.Value)
	}
}

const wrkSample = `
Running 30s test @ http://app:80/
  4 threads and 100 connections
  Thread Stats   Avg      Stdev     Max   +/- Stdev
    Latency     2.28ms    1.51ms   28.90ms   74.61%
    Req/Sec    11.34k     1.26k    18.05k    71.42%
  1361367 requests in 30.06s, 1.08GB read
Requests/sec:  45288.79
Transfer/sec:     36.68MB
`

func TestParseWrk(t *testing.T) {
	records, err := parseWrk([]byte(wrkSample))
	if err != nil {
		t.Fatalf("parseWrk failed: %v", err)
	}

	rps := findRecord(t, records, "requests_per_sec")
	if !almostEqual(rps.Value, 45288.79) {
		t.Errorf("requests_per_sec = %v, want 45288.79", rps.Value)
	}

	lat := findRecord(t, records, "latency_avg_ms")
	if !almostEqual(lat.Value, 2.28) {
		t.Errorf("latency_avg_ms = %v, want 2.28", lat.Value)
	}

	read := findRecord(t, records, "data_read_bytes")
	if !almostEqual(read.Value, 1.08*1024*1024*1024) {
		t.Errorf("data_read_bytes = %v, want %v", read.Value, 1.08*1024*1024*1024)
	}

	conns := findRecord(t, records, "connections")
	if conns.Value != 100 {
		t.Errorf("connections = %v, want 100", conns.Value)
	}
}

func TestWrkParseTime(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"2.28ms", 2.28},
		{"30.06s", 30060},
		{"850.00us", 0.85},
		{"1.50m", 90000},
	}
	for _, c := range cases {
		if got := wrkParseTime(c.in); !almostEqual(got, c.want) {
			t.Errorf("wrkParseTime(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

const iostatSampleJSON = `{
  "sysstat": {
    "hosts": [
      {
        "statistics": [
          {
            "avg-cpu": {"user": 10.0, "system": 5.0, "iowait": 20.0, "idle": 65.0},
            "disk": [{"disk_device": "sdb", "tps": 100.0, "kB_read/s": 2048.0, "kB_wrtn/s": 1024.0}]
          },
          {
            "avg-cpu": {"user": 20.0, "system": 15.0, "iowait": 40.0, "idle": 25.0},
            "disk": [{"disk_device": "sdb", "tps": 300.0, "kB_read/s": 4096.0, "kB_wrtn/s": 3072.0}]
          }
        ]
      }
    ]
  }
}`

func TestParseIostat(t *testing.T) {
	records, err := parseIostat([]byte(iostatSampleJSON))
	if err != nil {
		t.Fatalf("parseIostat failed: %v", err)
	}

	iowait := findRecord(t, records, "cpu_iowait_avg")
	if !almostEqual(iowait.Value, 30.0) {
		t.Errorf("cpu_iowait_avg = %v, want 30.0", iowait.Value)
	}

	tps := findRecord(t, records, "sdb_tps_avg")
	if !almostEqual(tps.Value, 200.0) {
		t.Errorf("sdb_tps_avg = %v, want 200.0", tps.Value)
	}
}

const dockerStatsSample = `{"time":"2026-01-01T00:00:00Z","name":"bench-1","cpu_perc":50.0,"mem_usage_bytes":1000,"mem_limit_bytes":4000,"block_read_bytes":100,"block_write_bytes":200,"net_rx_bytes":10,"net_tx_bytes":20}
{"time":"2026-01-01T00:00:01Z","name":"bench-1","cpu_perc":70.0,"mem_usage_bytes":3000,"mem_limit_bytes":4000,"block_read_bytes":400,"block_write_bytes":800,"net_rx_bytes":40,"net_tx_bytes":80}
{"time":"2026-01-01T00:00:01Z","name":"bench-2","cpu_perc":30.0,"mem_usage_bytes":2000,"mem_limit_bytes":4000,"block_read_bytes":50,"block_write_bytes":60,"net_rx_bytes":5,"net_tx_bytes":6}
`

func TestParseDockerStats(t *testing.T) {
	records, err := parseDockerStats([]byte(dockerStatsSample))
	if err != nil {
		t.Fatalf("parseDockerStats failed: %v", err)
	}

	cpuAvg := findRecord(t, records, "cpu_perc_avg")
	if !almostEqual(cpuAvg.Value, 50.0) {
		t.Errorf("cpu_perc_avg = %v, want 50.0", cpuAvg.Value)
	}

	cpuMax := findRecord(t, records, "cpu_perc_max")
	if !almostEqual(cpuMax.Value, 70.0) {
		t.Errorf("cpu_perc_max = %v, want 70.0", cpuMax.Value)
	}

	// Cumulative counters: max per container, summed across containers
	blockRead := findRecord(t, records, "block_read_bytes")
	if !almostEqual(blockRead.Value, 450.0) {
		t.Errorf("block_read_bytes = %v, want 450.0", blockRead.Value)
	}
}

func TestParseDockerStatsEmpty(t *testing.T) {
	if _, err := parseDockerStats([]byte("\n\n")); err == nil {
		t.Fatal("expected error for empty stats file")
	}
}

func TestExtractStampsToolAndStatus(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.txt")
	if err := os.WriteFile(path, []byte(sysbenchSample), 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := Extract("sysbench", path)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	for _, r := range records {
		if r.Tool != "sysbench" {
			t.Errorf("record %s has tool %q, want sysbench", r.Name, r.Tool)
		}
		if r.Status != StatusOK {
			t.Errorf("record %s has status %q, want %q", r.Name, r.Status, StatusOK)
		}
	}
}

func TestExtractUnknownTool(t *testing.T) {
	if _, err := Extract("perf", "/nonexistent"); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestExtractMissingFile(t *testing.T) {
	if _, err := Extract("fio", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
