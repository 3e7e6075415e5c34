package capture

import (
	"context"
	"strings"
	"sync"

	"github.com/ent0n29/tars/internal/transcript"
)

// TextEngine is a recognizer for terminals: every typed line becomes a final result.
type TextEngine struct {
	mu      sync.Mutex
	events  chan Event
	results []transcript.Result
}

func NewTextEngine() *TextEngine { return &TextEngine{} }

func (e *TextEngine) Start(_ context.Context) (<-chan Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.events != nil {
		return nil, ErrBusy
	}
	e.events = make(chan Event, 64)
	e.results = nil
	return e.events, nil
}

// Listening reports whether typed lines are currently captured.
func (e *TextEngine) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events != nil
}

// Interim shows text as provisional without confirming it.
func (e *TextEngine) Interim(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.events == nil {
		return
	}
	results := append(append([]transcript.Result(nil), e.results...), transcript.Result{Text: text})
	e.send(Event{Type: EventResult, ResultIndex: len(e.results), Results: results})
}

// Type confirms one line of input.
func (e *TextEngine) Type(text string) {
	text = strings.TrimSpace(text)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.events == nil || text == "" {
		return
	}
	e.results = append(e.results, transcript.Result{Text: text, Final: true})
	results := append([]transcript.Result(nil), e.results...)
	e.send(Event{Type: EventResult, ResultIndex: len(results) - 1, Results: results})
}

func (e *TextEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.events == nil {
		return nil
	}
	e.send(Event{Type: EventEnd})
	close(e.events)
	e.events = nil
	return nil
}

// send drops events when nobody drains the channel rather than blocking typed input.
func (e *TextEngine) send(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}
