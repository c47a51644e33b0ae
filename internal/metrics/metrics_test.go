package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegistered(t *testing.T) {
	SavesTotal.WithLabelValues("train", "saved")
	EpisodesEnded.WithLabelValues("ManualTrigger")
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"episoded_persist_saves_total",
		"episoded_episode_ended_total",
		"episoded_persist_inflight_saves",
		"episoded_bus_dropped_total",
	} {
		if !names[want] {
			t.Fatalf("%s not registered", want)
		}
	}
}

func TestSavesTotalLabels(t *testing.T) {
	before := testutil.ToFloat64(SavesTotal.WithLabelValues("val", "error"))
	SavesTotal.WithLabelValues("val", "error").Inc()
	if got := testutil.ToFloat64(SavesTotal.WithLabelValues("val", "error")); got != before+1 {
		t.Fatalf("saves_total=%v want %v", got, before+1)
	}
	if err := testutil.CollectAndCompare(CatalogErrors, strings.NewReader(`
# HELP episoded_catalog_errors_total Total number of catalog write failures
# TYPE episoded_catalog_errors_total counter
episoded_catalog_errors_total 0
`)); err != nil {
		t.Fatalf("catalog errors: %v", err)
	}
}
