package observability

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("completed")
	m.ObserveChunk(12)
	m.ObserveSentence("flush")
	m.ObserveSpeech("cancelled")
	m.ObserveCapture("started")
	m.ObserveSessionIDUpdate()
	m.ObserveFirstChunkLatency(time.Millisecond)
	m.ObserveFirstSpeechLatency(time.Millisecond)
	m.ObserveStage(StageTurnTotal, time.Second)
	m.ObserveWSMessage("outbound", "display_text")
	if got := len(m.LatencySnapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) = %d, want 0", got)
	}
}

func TestMetricsCountAndWindow(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("tars_test_metrics_%d", time.Now().UnixNano()))
	m.ObserveChunk(5)
	m.ObserveChunk(7)
	m.ObserveTurn("completed")
	m.ObserveFirstChunkLatency(300 * time.Millisecond)
	m.ObserveSpeech("queued")
	m.ObserveSpeech("interrupted")

	if got := testutil.ToFloat64(m.StreamChunks); got != 2 {
		t.Fatalf("StreamChunks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StreamBytes); got != 12 {
		t.Fatalf("StreamBytes = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.Turns.WithLabelValues("completed")); got != 1 {
		t.Fatalf("Turns{completed} = %v, want 1", got)
	}
	snap := m.LatencySnapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != StageFirstChunk {
		t.Fatalf("Stages = %+v, want request_to_first_chunk", snap.Stages)
	}
	if snap.Speech.Queued != 1 || snap.Speech.Interrupted != 1 {
		t.Fatalf("Speech = %+v, want one queued and one interrupted", snap.Speech)
	}
}
