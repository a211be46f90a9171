package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOneHotState(t *testing.T) {
	m := New()
	all := []string{"stopped", "running", "failed"}
	m.SetPipelineState("running", all)
	if got := testutil.ToFloat64(m.pipelineState.WithLabelValues("running")); got != 1 {
		t.Fatalf("running = %v", got)
	}
	m.SetPipelineState("failed", all)
	if got := testutil.ToFloat64(m.pipelineState.WithLabelValues("running")); got != 0 {
		t.Fatalf("running should reset, got %v", got)
	}
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.IncSegment("closed")
	m.IncSegment("closed")
	m.IncSegment("archived")
	m.IncArchiveErrors()
	m.IncRestarts()

	if got := testutil.ToFloat64(m.segmentsTotal.WithLabelValues("closed")); got != 2 {
		t.Fatalf("closed = %v", got)
	}

	refreshed := false
	srv := httptest.NewServer(m.Handler(func() {
		refreshed = true
		m.SetSpoolPending(4)
	}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !refreshed {
		t.Fatal("gauge refresh hook not called")
	}
	for _, want := range []string{"picam_spool_pending_segments 4", "picam_archive_write_errors_total 1", "picam_encoder_restarts_total 1"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("scrape missing %q:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncRestarts()
	m.SetStoragePresent(true)
	m.SetPipelineState("running", []string{"running"})
}
