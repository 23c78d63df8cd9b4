package extract

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	sysbenchTPS     = regexp.MustCompile(`transactions:\s+(\d+)\s+\(([\d\.]+) per sec\.\)`)
	sysbenchQPS     = regexp.MustCompile(`queries:\s+(\d+)\s+\(([\d\.]+) per sec\.\)`)
	sysbenchLatency = regexp.MustCompile(`Latency \(ms\):\s+min:\s+([\d\.]+)\s+avg:\s+([\d\.]+)\s+max:\s+([\d\.]+)\s+95th percentile:\s+([\d\.]+)`)
	sysbenchTime    = regexp.MustCompile(`total time:\s+([\d\.]+)s`)
)

func parseSysbench(content []byte) ([]MetricRecord, error) {
	text := string(content)
	var records []MetricRecord

	if m := sysbenchTPS.FindStringSubmatch(text); m != nil {
		total, _ := strconv.ParseFloat(m[1], 64)
		tps, _ := strconv.ParseFloat(m[2], 64)
		records = append(records,
			record("total_transactions", total, "transactions"),
			record("tps", tps, "transactions/s"),
		)
	}

	if m := sysbenchQPS.FindStringSubmatch(text); m != nil {
		total, _ := strconv.ParseFloat(m[1], 64)
		qps, _ := strconv.ParseFloat(m[2], 64)
		records = append(records,
			record("total_queries", total, "queries"),
			record("qps", qps, "queries/s"),
		)
	}

	if m := sysbenchLatency.FindStringSubmatch(text); m != nil {
		min, _ := strconv.ParseFloat(m[1], 64)
		avg, _ := strconv.ParseFloat(m[2], 64)
		max, _ := strconv.ParseFloat(m[3], 64)
		p95, _ := strconv.ParseFloat(m[4], 64)
		records = append(records,
			record("latency_min", min, "ms"),
			record("latency_avg", avg, "ms"),
			record("latency_max", max, "ms"),
			record("latency_p95", p95, "ms"),
		)
	}

	if m := sysbenchTime.FindStringSubmatch(text); m != nil {
		total, _ := strconv.ParseFloat(m[1], 64)
		records = append(records, record("total_time_sec", total, "s"))
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no sysbench metrics found")
	}
	return records, nil
}
