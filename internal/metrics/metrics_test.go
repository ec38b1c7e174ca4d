package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTranscript(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordTranscript("deepgram-nova", false, 0)
	m.RecordTranscript("deepgram-nova", true, 300*time.Millisecond)
	m.RecordTranscript("deepgram-nova", true, 500*time.Millisecond)

	if got := testutil.ToFloat64(m.TranscriptsPartial.WithLabelValues("deepgram-nova")); got != 1 {
		t.Errorf("partial count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TranscriptsFinal.WithLabelValues("deepgram-nova")); got != 2 {
		t.Errorf("final count = %v, want 2", got)
	}
}

func TestRecordPublish(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordPublish("kafka", "final", nil)
	m.RecordPublish("kafka", "final", errors.New("broker down"))

	if got := testutil.ToFloat64(m.EventsPublished.WithLabelValues("kafka", "final")); got != 1 {
		t.Errorf("published = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EventsFailed.WithLabelValues("kafka", "final")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordTranscript("x", true, time.Second)
	m.RecordPublish("log", "final", nil)
}
