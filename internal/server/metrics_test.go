package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	_, reg := newTestServerWith(&fakeEngine{ready: true}, &fakeUploader{})

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_QueryCounterIncremented(t *testing.T) {
	t.Parallel()
	s, reg := newTestServerWith(&fakeEngine{ready: true}, &fakeUploader{})

	// Simulate a successful query via the counter directly.
	s.metrics.queryRequestsTotal.WithLabelValues(outcomeOK).Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "docqa_query_requests_total" {
			for _, m := range mf.GetMetric() {
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "outcome" && lp.GetValue() == "ok" {
						if m.GetCounter().GetValue() != 1 {
							t.Errorf("want counter=1, got %v", m.GetCounter().GetValue())
						}
						found = true
					}
				}
			}
		}
	}
	if !found {
		t.Error("docqa_query_requests_total{outcome=\"ok\"} not found in gathered metrics")
	}
}

func Test_Metrics_ActiveStreamsGauge(t *testing.T) {
	t.Parallel()
	s, reg := newTestServerWith(&fakeEngine{ready: true}, &fakeUploader{})

	s.metrics.queryActiveStreams.Inc()
	s.metrics.queryActiveStreams.Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, mf := range mfs {
		if mf.GetName() == "docqa_query_active_streams" {
			v := mf.GetMetric()[0].GetGauge().GetValue()
			if v != 2 {
				t.Errorf("want active_streams=2, got %v", v)
			}
			return
		}
	}
	t.Error("docqa_query_active_streams not found in gathered metrics")
}

func Test_Metrics_DocumentsRegisteredGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	newServerMetrics(reg, func() float64 { return 3 })

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, mf := range mfs {
		if mf.GetName() == "docqa_documents_registered" {
			v := mf.GetMetric()[0].GetGauge().GetValue()
			if v != 3 {
				t.Errorf("want documents_registered=3, got %v", v)
			}
			return
		}
	}
	t.Error("docqa_documents_registered not found in gathered metrics")
}

func Test_Metrics_UploadCounterPartitionedByOutcome(t *testing.T) {
	t.Parallel()
	s, reg := newTestServerWith(&fakeEngine{ready: true}, &fakeUploader{})

	s.metrics.uploadsTotal.WithLabelValues(outcomeOK).Inc()
	s.metrics.uploadsTotal.WithLabelValues(outcomeError).Inc()
	s.metrics.uploadsTotal.WithLabelValues(outcomeError).Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	got := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "docqa_documents_uploads_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" {
					got[lp.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	if got["ok"] != 1 || got["error"] != 2 {
		t.Errorf("want ok=1 error=2, got %v", got)
	}
}
