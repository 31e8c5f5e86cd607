package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatsCounters(t *testing.T) {
	s := New()
	s.SessionStarted("both")
	s.CaptureFinished("mic", 10, 2)
	s.CaptureFinished("mic", 5, 0)
	s.CaptureFinished("system", 7, 1)
	s.ArtifactWritten(1000, 2.5, true)
	s.ArtifactWritten(500, 1, false)
	s.SessionFailed("no_audio")

	if got := testutil.ToFloat64(s.blocksCaptured.WithLabelValues("mic")); got != 15 {
		t.Fatalf("unexpected mic blocks %v", got)
	}
	if got := testutil.ToFloat64(s.blocksDropped.WithLabelValues("system")); got != 1 {
		t.Fatalf("unexpected system drops %v", got)
	}
	if got := testutil.ToFloat64(s.encodeFallbacks); got != 1 {
		t.Fatalf("unexpected fallbacks %v", got)
	}
	if got := testutil.ToFloat64(s.artifactBytes); got != 1500 {
		t.Fatalf("unexpected bytes %v", got)
	}
	if got := testutil.ToFloat64(s.recording); got != 1 {
		t.Fatalf("unexpected recording gauge %v", got)
	}
	s.SessionEnded()
	if got := testutil.ToFloat64(s.recording); got != 0 {
		t.Fatalf("unexpected recording gauge %v", got)
	}
	if got := testutil.ToFloat64(s.sessionsFailed.WithLabelValues("no_audio")); got != 1 {
		t.Fatalf("unexpected failures %v", got)
	}
}

func TestNilStats(t *testing.T) {
	var s *Stats
	s.SessionStarted("both")
	s.CaptureFinished("mic", 1, 1)
	s.ArtifactWritten(1, 1, true)
	s.SessionFailed("x")
	s.SessionEnded()
	if s.Registry() != nil {
		t.Fatal("nil stats returned a registry")
	}
}

func TestHandler(t *testing.T) {
	s := New()
	s.SessionStarted("microphone")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `loopmix_sessions_started_total{mode="microphone"} 1`) {
		t.Fatalf("metric missing from output:\n%s", body)
	}
}
