package observability

import (
	"testing"
	"time"

	"github.com/danmuck/trustedbroker/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("broker-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordSession("complete", 40*time.Millisecond)
	RecordPackage("main", "in", "RA_MSG1")
	RecordHeartbeatStream("revoked")

	before := testutil.ToFloat64(acceptErrors.WithLabelValues("heartbeat"))
	RecordAcceptError("heartbeat")
	if got := testutil.ToFloat64(acceptErrors.WithLabelValues("heartbeat")); got != before+1 {
		t.Fatalf("accept error counter=%v want %v", got, before+1)
	}
}
