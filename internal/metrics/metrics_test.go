package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveFetch(t *testing.T) {
	m := New()
	m.ObserveFetch("licenses", "licenses", 10*time.Millisecond, nil)
	m.ObserveFetch("licenses", "licenses", 10*time.Millisecond, errors.New("x"))
	m.ObserveFetch("licenses", "licenses", 10*time.Millisecond, nil)

	if got := testutil.ToFloat64(m.SourceFetches.WithLabelValues("licenses", "licenses", ResultOK)); got != 2 {
		t.Errorf("ok fetches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SourceFetches.WithLabelValues("licenses", "licenses", ResultError)); got != 1 {
		t.Errorf("error fetches = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveFetch("v", "s", time.Second, nil)
	m.AddDetails("v", 1, 2, 3)
	m.IncEpoch("v")
	m.IncLateDropped("v", "s")
	m.IncQuery("v", "ok")
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.IncEpoch("leads")
	m.AddDetails("licenses", 3, 1, 0)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	for _, want := range []string{
		`eduops_dataset_epochs_total{view="leads"} 1`,
		`eduops_detail_lookups_total{result="ok",view="licenses"} 3`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
