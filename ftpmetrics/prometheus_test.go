package ftpmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ftpkit/ftp"
)

var _ ftp.MetricsCollector = (*Collector)(nil)

func TestCollector_RecordCommand(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCommand("RMD", true, 10*time.Millisecond)
	c.RecordCommand("RMD", true, 20*time.Millisecond)
	c.RecordCommand("RMD", false, 5*time.Millisecond)

	if got := testutil.ToFloat64(c.commandsTotal.WithLabelValues("RMD", "true")); got != 2 {
		t.Errorf("successful RMD count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.commandsTotal.WithLabelValues("RMD", "false")); got != 1 {
		t.Errorf("failed RMD count = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.commandDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestCollector_RecordTransfer(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTransfer("RETR", 1024, time.Second)
	c.RecordTransfer("RETR", 512, time.Second)

	if got := testutil.ToFloat64(c.transferBytes.WithLabelValues("RETR")); got != 1536 {
		t.Errorf("transferred bytes = %v, want 1536", got)
	}
	if got := testutil.ToFloat64(c.transfersTotal.WithLabelValues("RETR")); got != 2 {
		t.Errorf("transfer count = %v, want 2", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 3 {
		t.Errorf("gathered %d metric families, want 3", len(families))
	}
}
