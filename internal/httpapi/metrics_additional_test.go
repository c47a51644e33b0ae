package httpapi

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"episoded/internal/sim"
)

func TestIncrementBackpressure_IncrementsCounter(t *testing.T) {
	baseline := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue"))
	IncrementBackpressure("queue")
	IncrementBackpressure("queue")
	if got := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue")); got != baseline+2 {
		t.Fatalf("expected backpressure counter %v, got %v", baseline+2, got)
	}

	before := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified"))
	IncrementBackpressure("")
	if after := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified")); after != before+1 {
		t.Fatalf("empty reason not counted as unspecified: before=%v after=%v", before, after)
	}
}

func TestQueueFullCountsBackpressure(t *testing.T) {
	before := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue_full"))
	serve(NewMux(&mockService{endErr: sim.ErrQueueFull}, Options{}), http.MethodPost, "/episode/end")
	if after := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue_full")); after != before+1 {
		t.Fatalf("queue_full not counted: before=%v after=%v", before, after)
	}
}
