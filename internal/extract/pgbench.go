package extract

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	pgbenchTPS     = regexp.MustCompile(`tps = ([\d\.]+)`)
	pgbenchLatency = regexp.MustCompile(`latency average = ([\d\.]+) ms`)
	pgbenchTrans   = regexp.MustCompile(`number of transactions actually processed: (\d+)`)
	pgbenchFailed  = regexp.MustCompile(`number of failed transactions: (\d+)`)
	pgbenchClients = regexp.MustCompile(`number of clients: (\d+)`)
	pgbenchThreads = regexp.MustCompile(`number of threads: (\d+)`)
	pgbenchScale   = regexp.MustCompile(`scaling factor: (\d+)`)
)

func parsePgbench(content []byte) ([]MetricRecord, error) {
	text := string(content)
	var records []MetricRecord

	appendMatch := func(re *regexp.Regexp, name, unit string) {
		if m := re.FindStringSubmatch(text); m != nil {
			v, _ := strconv.ParseFloat(m[1], 64)
			records = append(records, record(name, v, unit))
		}
	}

	appendMatch(pgbenchTPS, "tps", "transactions/s")
	appendMatch(pgbenchLatency, "latency_avg", "ms")
	appendMatch(pgbenchTrans, "transactions_processed", "transactions")
	appendMatch(pgbenchFailed, "failed_transactions", "transactions")
	appendMatch(pgbenchClients, "clients", "")
	appendMatch(pgbenchThreads, "threads", "")
	appendMatch(pgbenchScale, "scaling_factor", "")

	if len(records) == 0 {
		return nil, fmt.Errorf("no pgbench metrics found")
	}
	return records, nil
}
