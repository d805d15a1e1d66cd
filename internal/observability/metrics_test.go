package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("endpoint-a", "POST", "/messages", 202, 12*time.Millisecond)
	RecordAcknowledgment("endpoint-a", true)
	RecordCallbackError("endpoint-a")
	RecordSend("endpoint-a", SendAcknowledged, 24*time.Millisecond)

	log.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}

func TestRecordInboundCountsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(inboundMessages.WithLabelValues("endpoint-b", InboundMalformed))
	RecordInbound("endpoint-b", InboundMalformed)
	RecordInbound("endpoint-b", InboundMalformed)
	after := testutil.ToFloat64(inboundMessages.WithLabelValues("endpoint-b", InboundMalformed))
	if after-before != 2 {
		t.Fatalf("expected two malformed records, got %v", after-before)
	}
}
