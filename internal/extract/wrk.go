package extract

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	wrkThreads  = regexp.MustCompile(`(\d+) threads and (\d+) connections`)
	wrkLatency  = regexp.MustCompile(`Latency\s+([\d\.]+[a-z]+)\s+([\d\.]+[a-z]+)\s+([\d\.]+[a-z]+)`)
	wrkRequests = regexp.MustCompile(`(\d+) requests in ([\d\.]+[a-z]+), ([\d\.]+[A-Za-z]+) read`)
	wrkReqSec   = regexp.MustCompile(`Requests/sec:\s+([\d\.]+)`)
	wrkTransfer = regexp.MustCompile(`Transfer/sec:\s+([\d\.]+[A-Za-z]+)`)

	wrkSizeValue = regexp.MustCompile(`^([\d\.]+)([a-zA-Z]+)$`)
)

func parseWrk(content []byte) ([]MetricRecord, error) {
	text := string(content)
	var records []MetricRecord

	if m := wrkThreads.FindStringSubmatch(text); m != nil {
		threads, _ := strconv.ParseFloat(m[1], 64)
		conns, _ := strconv.ParseFloat(m[2], 64)
		records = append(records,
			record("threads", threads, ""),
			record("connections", conns, ""),
		)
	}

	if m := wrkLatency.FindStringSubmatch(text); m != nil {
		records = append(records,
			record("latency_avg_ms", wrkParseTime(m[1]), "ms"),
			record("latency_stdev_ms", wrkParseTime(m[2]), "ms"),
			record("latency_max_ms", wrkParseTime(m[3]), "ms"),
		)
	}

	if m := wrkRequests.FindStringSubmatch(text); m != nil {
		total, _ := strconv.ParseFloat(m[1], 64)
		records = append(records,
			record("total_requests", total, "requests"),
			record("data_read_bytes", wrkParseSize(m[3]), "B"),
		)
	}

	if m := wrkReqSec.FindStringSubmatch(text); m != nil {
		rps, _ := strconv.ParseFloat(m[1], 64)
		records = append(records, record("requests_per_sec", rps, "requests/s"))
	}

	if m := wrkTransfer.FindStringSubmatch(text); m != nil {
		records = append(records, record("transfer_per_sec_bytes", wrkParseSize(m[1]), "B/s"))
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no wrk metrics found")
	}
	return records, nil
}

// wrkParseSize parses wrk size strings like "1.08GB" or "36.68MB". wrk
// prints binary units, so 1024-based multipliers apply.
func wrkParseSize(s string) float64 {
	m := wrkSizeValue.FindStringSubmatch(s)
	if m == nil {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}

	value, _ := strconv.ParseFloat(m[1], 64)
	switch m[2] {
	case "KB", "kB":
		return value * 1024
	case "MB":
		return value * 1024 * 1024
	case "GB":
		return value * 1024 * 1024 * 1024
	case "TB":
		return value * 1024 * 1024 * 1024 * 1024
	default:
		return value
	}
}

// wrkParseTime parses wrk durations like "2.28ms" or "30.06s" into
// milliseconds.
func wrkParseTime(s string) float64 {
	m := wrkSizeValue.FindStringSubmatch(s)
	if m == nil {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}

	value, _ := strconv.ParseFloat(m[1], 64)
	switch m[2] {
	case "us":
		return value * 0.001
	case "ms":
		return value
	case "s":
		return value * 1000
	case "m":
		return value * 60 * 1000
	case "h":
		return value * 60 * 60 * 1000
	default:
		return value
	}
}
