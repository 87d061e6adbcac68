package ftp

import "time"

// MetricsCollector is an optional interface for collecting client metrics.
// Implementations can send metrics to monitoring systems like Prometheus
// (see the ftpmetrics package), StatsD, DataDog, etc.
//
// Methods are called synchronously from the goroutine issuing commands and
// should not block. A collector may be shared by a client and its clones,
// so implementations must be safe for concurrent use.
type MetricsCollector interface {
	// RecordCommand records one command/reply exchange.
	// cmd is the command verb (e.g., "RMD", "RETR", "USER").
	// success reports whether the reply was a 1xx or 2xx reply.
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordTransfer records a completed or aborted data transfer.
	// operation is the transfer command (e.g., "RETR").
	RecordTransfer(operation string, bytes int64, duration time.Duration)
}
