package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Stage names one measured span of a voice turn.
type Stage string

const (
	// StageReleaseToRequest runs from releasing the talk control to submitting the transcript.
	StageReleaseToRequest Stage = "release_to_request"
	// StageFirstChunk runs from opening the chat stream to the first reply text.
	StageFirstChunk Stage = "request_to_first_chunk"
	// StageFirstSentence runs from opening the chat stream to the first sentence handed to speech.
	StageFirstSentence Stage = "request_to_first_sentence"
	// StageTurnTotal runs from opening the chat stream to its end.
	StageTurnTotal Stage = "turn_total"
)

// stageBudgets are the p95 targets shown next to each stage; a turn feels sluggish past them.
var stageBudgets = map[Stage]time.Duration{
	StageReleaseToRequest: 150 * time.Millisecond,
	StageFirstChunk:       900 * time.Millisecond,
	StageFirstSentence:    1400 * time.Millisecond,
	StageTurnTotal:        8 * time.Second,
}

type StageStats struct {
	Stage      Stage   `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	AvgMS      float64 `json:"avg_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	BudgetMS   float64 `json:"budget_ms,omitempty"`
	OverBudget bool    `json:"over_budget"`
}

// SpeechCounts tallies speech scheduler events since start.
type SpeechCounts struct {
	Queued      int `json:"queued"`
	Spoken      int `json:"spoken"`
	Cancelled   int `json:"cancelled"`
	Interrupted int `json:"interrupted"`
	Failed      int `json:"failed"`
}

// LatencySnapshot is what the inspector serves on /v1/perf/latency.
type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Speech      SpeechCounts `json:"speech"`
}

// latencyWindow keeps the last size samples of every stage.
type latencyWindow struct {
	mu     sync.Mutex
	size   int
	rings  map[Stage]*ring
	speech SpeechCounts
}

type ring struct {
	samples []time.Duration
	next    int
	last    time.Duration
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{size: size, rings: make(map[Stage]*ring)}
}

func (w *latencyWindow) observe(stage Stage, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[stage]
	if r == nil {
		r = &ring{samples: make([]time.Duration, 0, w.size)}
		w.rings[stage] = r
	}
	if len(r.samples) < w.size {
		r.samples = append(r.samples, d)
	} else {
		r.samples[r.next] = d
	}
	r.next = (r.next + 1) % w.size
	r.last = d
}

// speechEvent counts one scheduler event; unknown events are ignored.
func (w *latencyWindow) speechEvent(event string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch event {
	case "queued":
		w.speech.Queued++
	case "spoken":
		w.speech.Spoken++
	case "cancelled":
		w.speech.Cancelled++
	case "interrupted":
		w.speech.Interrupted++
	case "failed":
		w.speech.Failed++
	}
}

func (w *latencyWindow) snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.rings)),
		Speech:      w.speech,
	}
	for stage, r := range w.rings {
		sorted := append([]time.Duration(nil), r.samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		var sum time.Duration
		for _, d := range sorted {
			sum += d
		}
		st := StageStats{
			Stage:   stage,
			Samples: len(sorted),
			LastMS:  millis(r.last),
			AvgMS:   millis(sum / time.Duration(len(sorted))),
			P50MS:   millis(nearestRank(sorted, 0.50)),
			P95MS:   millis(nearestRank(sorted, 0.95)),
		}
		if budget, ok := stageBudgets[stage]; ok {
			st.BudgetMS = millis(budget)
			st.OverBudget = nearestRank(sorted, 0.95) > budget
		}
		snap.Stages = append(snap.Stages, st)
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].Stage < snap.Stages[j].Stage })
	return snap
}

func nearestRank(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}
