// Package database exports aggregated campaign reports to InfluxDB, with a
// local spool fallback for runs on hosts without database connectivity.
package database

import (
	"context"
	"fmt"
	"time"

	"storage-bench/internal/config"
	"storage-bench/internal/extract"
	"storage-bench/internal/logging"
	"storage-bench/internal/report"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

func NewInfluxDBClient(cfg config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Password)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}
	if health.Status != "pass" {
		logger.WithFields(logrus.Fields{
			"host":   cfg.Host,
			"status": health.Status,
		}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("influxdb health status %q", health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Name,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Name),
		bucket:   cfg.Name,
		org:      cfg.Org,
	}, nil
}

// WriteReport pushes every ok-status record plus one metadata point. Records
// are timestamped with the campaign finish time so a campaign queries as one
// coherent slice.
func (idb *InfluxDBClient) WriteReport(ctx context.Context, rep *report.AggregatedReport) error {
	meta := rep.Metadata

	var points []*write.Point
	for _, rec := range rep.Records {
		if rec.Status != extract.StatusOK {
			continue
		}
		point := influxdb2.NewPoint("storage_bench_metrics",
			map[string]string{
				"campaign_id": meta.CampaignID,
				"campaign":    meta.Name,
				"filesystem":  rec.Filesystem,
				"workload":    rec.Workload,
				"iteration":   fmt.Sprintf("%d", rec.Iteration),
				"tool":        rec.Tool,
				"metric":      rec.Name,
			},
			map[string]interface{}{
				"value": rec.Value,
				"unit":  rec.Unit,
			},
			meta.FinishedAt)
		points = append(points, point)
	}

	if len(points) > 0 {
		if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
			return fmt.Errorf("failed to write metric points: %w", err)
		}
	}

	metaPoint := influxdb2.NewPoint("storage_bench_meta",
		map[string]string{
			"campaign_id": meta.CampaignID,
		},
		map[string]interface{}{
			"campaign_name":     meta.Name,
			"description":       meta.Description,
			"started":           meta.StartedAt.Format(time.RFC3339),
			"finished":          meta.FinishedAt.Format(time.RFC3339),
			"duration_seconds":  int64(meta.FinishedAt.Sub(meta.StartedAt).Seconds()),
			"hostname":          meta.Host.Hostname,
			"os_info":           meta.Host.OSInfo,
			"kernel_version":    meta.Host.KernelVersion,
			"cpu_vendor":        meta.Host.CPUVendor,
			"cpu_model":         meta.Host.CPUModel,
			"cpu_cores":         meta.Host.CPUCores,
			"total_records":     len(rep.Records),
		},
		time.Now())

	if err := idb.writeAPI.WritePoint(ctx, metaPoint); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	return nil
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}
