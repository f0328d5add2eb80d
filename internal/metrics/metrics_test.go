package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestCountersExposed(t *testing.T) {
	hit := ExplanationCache.WithLabelValues("hit")
	before := value(t, hit)
	hit.Inc()
	if got := value(t, hit); got != before+1 {
		t.Fatalf("counter = %v, want %v", got, before+1)
	}

	SessionGeneration.Set(3)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"churnlens_explanation_cache_total", "churnlens_session_generation 3"} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics output missing %q", name)
		}
	}
}
