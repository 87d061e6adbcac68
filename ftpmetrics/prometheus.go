// Package ftpmetrics exports FTP client metrics to Prometheus.
//
// Register a Collector with a registry and pass it to the client:
//
//	reg := prometheus.NewRegistry()
//	collector := ftpmetrics.NewCollector(reg)
//	client, err := ftp.Dial(ctx, addr, ftp.WithMetrics(collector))
package ftpmetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ftp.MetricsCollector with Prometheus counters and
// histograms. It is safe for concurrent use by a client and its clones.
type Collector struct {
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	transferBytes    *prometheus.CounterVec
	transfersTotal   *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
}

// NewCollector creates the metrics and registers them with reg.
// A nil reg registers with the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftp_client_commands_total",
				Help: "Total number of FTP commands sent, by verb and outcome",
			},
			[]string{"command", "success"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ftp_client_command_duration_seconds",
				Help:    "Time from sending an FTP command to receiving its reply",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftp_client_transfer_bytes_total",
				Help: "Total bytes moved over data connections",
			},
			[]string{"operation"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftp_client_transfers_total",
				Help: "Total number of data transfers",
			},
			[]string{"operation"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ftp_client_transfer_duration_seconds",
				Help:    "Duration of data transfers",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"operation"},
		),
	}
}

// RecordCommand implements ftp.MetricsCollector.
func (c *Collector) RecordCommand(cmd string, success bool, duration time.Duration) {
	c.commandsTotal.WithLabelValues(cmd, strconv.FormatBool(success)).Inc()
	c.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

// RecordTransfer implements ftp.MetricsCollector.
func (c *Collector) RecordTransfer(operation string, bytes int64, duration time.Duration) {
	c.transfersTotal.WithLabelValues(operation).Inc()
	c.transferBytes.WithLabelValues(operation).Add(float64(bytes))
	c.transferDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
