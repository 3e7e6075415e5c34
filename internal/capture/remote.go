package capture

import (
	"context"
	"sync"

	"github.com/ent0n29/tars/internal/protocol"
	"github.com/ent0n29/tars/internal/transcript"
)

// Publisher sends a protocol message to connected viewers.
type Publisher interface {
	Publish(msg any)
}

// viewerCounter is implemented by publishers that know how many viewers are connected.
type viewerCounter interface {
	Subscribers() int
}

// RemoteEngine delegates recognition to a connected viewer. Start and Stop are sent as
// capture commands; the viewer's capture messages come back through Feed.
type RemoteEngine struct {
	pub  Publisher
	lang string

	mu     sync.Mutex
	events chan Event
}

func NewRemoteEngine(pub Publisher, lang string) *RemoteEngine {
	return &RemoteEngine{pub: pub, lang: lang}
}

// Start fails with ErrNoViewer when the publisher reports no connected viewer, since nobody
// could ever confirm the capture.
func (r *RemoteEngine) Start(_ context.Context) (<-chan Event, error) {
	if vc, ok := r.pub.(viewerCounter); ok && vc.Subscribers() == 0 {
		return nil, ErrNoViewer
	}
	r.mu.Lock()
	if r.events != nil {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.events = make(chan Event, 64)
	events := r.events
	r.mu.Unlock()

	r.pub.Publish(protocol.CaptureCommand{Type: protocol.TypeCaptureStart, Lang: r.lang})
	return events, nil
}

func (r *RemoteEngine) Stop() error {
	r.pub.Publish(protocol.CaptureCommand{Type: protocol.TypeCaptureStop})
	return nil
}

// Abort forgets the running capture. Messages the viewer still sends for it are dropped.
func (r *RemoteEngine) Abort() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Feed converts a viewer capture message into an engine event. It reports whether msg was a
// capture message; such messages are dropped when no capture is running.
func (r *RemoteEngine) Feed(ctx context.Context, msg any) bool {
	var ev Event
	switch m := msg.(type) {
	case protocol.ClientCaptureResult:
		results := make([]transcript.Result, 0, len(m.Results))
		for _, e := range m.Results {
			results = append(results, transcript.Result{Text: e.Transcript, Final: e.IsFinal})
		}
		ev = Event{Type: EventResult, ResultIndex: m.ResultIndex, Results: results}
	case protocol.ClientCaptureError:
		ev = Event{Type: EventError, Code: m.Code}
	case protocol.ClientCaptureEnd:
		ev = Event{Type: EventEnd}
	default:
		return false
	}

	r.mu.Lock()
	events := r.events
	terminal := ev.Type != EventResult
	if terminal {
		r.events = nil
	}
	r.mu.Unlock()
	if events == nil {
		return true
	}

	select {
	case events <- ev:
	case <-ctx.Done():
	}
	if terminal {
		close(events)
	}
	return true
}
