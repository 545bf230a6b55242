package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterRender(t *testing.T) {
	r := New()
	c := r.Counter("obi2_chat_turns_total", "Total chat turns processed")
	c.Inc()
	c.Add(2)

	out := r.Render()
	if !strings.Contains(out, "# TYPE obi2_chat_turns_total counter") {
		t.Fatal("missing TYPE line")
	}
	if !strings.Contains(out, "# HELP obi2_chat_turns_total Total chat turns processed") {
		t.Fatal("missing HELP line")
	}
	if !strings.Contains(out, "obi2_chat_turns_total 3") {
		t.Fatalf("missing counter value:\n%s", out)
	}
}

func TestCounterIsSingleton(t *testing.T) {
	r := New()
	a := r.Counter("x_total", "")
	b := r.Counter("x_total", "")
	if a != b {
		t.Fatal("same name should return the same counter")
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("obi2_active_sessions", "Active chat sessions")
	g.Set(5)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 4 {
		t.Fatalf("gauge = %d, want 4", g.Value())
	}
	if !strings.Contains(r.Render(), "obi2_active_sessions 4") {
		t.Fatal("gauge not rendered")
	}
}

func TestLabeledSeries(t *testing.T) {
	r := New()
	r.Counter(WithLabels("obi2_provider_calls_total", "outcome", "ok"), "Provider calls").Inc()
	r.Counter(WithLabels("obi2_provider_calls_total", "outcome", "error"), "Provider calls").Add(2)

	out := r.Render()
	if strings.Count(out, "# TYPE obi2_provider_calls_total counter") != 1 {
		t.Fatalf("TYPE line should appear once:\n%s", out)
	}
	if !strings.Contains(out, `obi2_provider_calls_total{outcome="ok"} 1`) {
		t.Fatalf("missing ok series:\n%s", out)
	}
	if !strings.Contains(out, `obi2_provider_calls_total{outcome="error"} 2`) {
		t.Fatalf("missing error series:\n%s", out)
	}
}

func TestHistogramCumulativeBuckets(t *testing.T) {
	r := New()
	h := r.Histogram("obi2_turn_seconds", "Turn latency", []float64{0.1, 1, 10})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(0.7)
	h.Observe(100)

	out := r.Render()
	for _, want := range []string{
		`obi2_turn_seconds_bucket{le="0.1"} 1`,
		`obi2_turn_seconds_bucket{le="1"} 3`,
		`obi2_turn_seconds_bucket{le="10"} 3`,
		`obi2_turn_seconds_bucket{le="+Inf"} 4`,
		`obi2_turn_seconds_count 4`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("hits_total", "").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "hits_total 1") {
		t.Fatal("body missing counter")
	}
}

func TestWithLabelsOddPairs(t *testing.T) {
	if got := WithLabels("m", "only-key"); got != "m" {
		t.Fatalf("odd label pairs should return base name, got %q", got)
	}
}
