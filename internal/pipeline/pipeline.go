// Package pipeline owns one conversation: it serializes push-to-talk controls, capture
// events and streamed replies through a single event loop.
package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/tars/internal/capture"
	"github.com/ent0n29/tars/internal/chatstream"
	"github.com/ent0n29/tars/internal/display"
	"github.com/ent0n29/tars/internal/observability"
	"github.com/ent0n29/tars/internal/protocol"
)

// Control is a user action.
type Control string

const (
	Press        Control = protocol.ActionPress
	Release      Control = protocol.ActionRelease
	StopSpeaking Control = protocol.ActionStopSpeaking
	Clear        Control = protocol.ActionClear
)

// Canceller interrupts speech output.
type Canceller interface {
	Cancel()
}

type eventKind int

const (
	evControl eventKind = iota
	evSubmit
	evCapture
	evTurnOpened
	evChunk
	evStreamEnd
	evStreamFailed
)

type event struct {
	kind    eventKind
	control Control
	text    string
	capture capture.Event
	turn    *chatstream.Turn
	chunk   string
	err     error
	epoch   uint64
}

// Pipeline is the context object shared by the capture session, the reply consumer and the
// speech scheduler. All transcript and reply state changes happen on the Run goroutine;
// network reads happen on per-turn pump goroutines that only forward chunks in order.
type Pipeline struct {
	capture  *capture.Session
	consumer *chatstream.Consumer
	speech   Canceller
	surface  display.Surface
	metrics  *observability.Metrics
	log      zerolog.Logger

	events chan event

	stopMu   sync.RWMutex
	stopped  bool
	stopping chan struct{}

	// Loop-owned. epoch advances on every barge-in and every new submission; a turn opened
	// under an older epoch starts silenced.
	epoch uint64
	open  map[*chatstream.Turn]struct{}

	mu       sync.Mutex
	inflight int
	idle     chan struct{}
}

type Option func(*Pipeline)

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func New(session *capture.Session, consumer *chatstream.Consumer, speech Canceller, surface display.Surface, opts ...Option) *Pipeline {
	p := &Pipeline{
		capture:  session,
		consumer: consumer,
		speech:   speech,
		surface:  surface,
		log:      zerolog.Nop(),
		events:   make(chan event, 256),
		stopping: make(chan struct{}),
		open:     make(map[*chatstream.Turn]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Control queues a user action for the loop.
func (p *Pipeline) Control(ctx context.Context, c Control) error {
	return p.send(ctx, event{kind: evControl, control: c})
}

// Submit sends typed text as if it had been captured.
func (p *Pipeline) Submit(ctx context.Context, text string) error {
	return p.send(ctx, event{kind: evSubmit, text: text})
}

// ErrStopped is returned for events sent after Run has returned.
var ErrStopped = errors.New("pipeline stopped")

// send holds the read side of stopMu so that anything it queues is either handled by Run or
// seen by Run's final drain.
func (p *Pipeline) send(ctx context.Context, ev event) error {
	p.stopMu.RLock()
	defer p.stopMu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopping:
		return ErrStopped
	case p.events <- ev:
		return nil
	}
}

// Run processes events until ctx is cancelled. It must be called once.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.stop()
			return ctx.Err()
		case ev := <-p.events:
			p.handle(ctx, ev)
		}
	}
}

// stop refuses further events and releases replies whose end was queued but never handled.
func (p *Pipeline) stop() {
	close(p.stopping)
	p.stopMu.Lock()
	p.stopped = true
	p.stopMu.Unlock()
	for {
		select {
		case ev := <-p.events:
			if ev.kind == evStreamEnd || ev.kind == evStreamFailed {
				if err := ev.turn.Close(); err != nil {
					p.log.Debug().Err(err).Str("turnId", ev.turn.ID()).Msg("close stream at shutdown")
				}
				p.settle()
			}
		default:
			return
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evControl:
		p.handleControl(ctx, ev.control)
	case evSubmit:
		p.submit(ctx, ev.text)
	case evCapture:
		if text, ok := p.capture.Handle(ev.capture); ok {
			p.metrics.ObserveStage(observability.StageReleaseToRequest, time.Since(p.capture.ReleasedAt()))
			p.submit(ctx, text)
		}
	case evTurnOpened:
		if ev.epoch != p.epoch {
			ev.turn.Silence()
		}
		p.open[ev.turn] = struct{}{}
		p.log.Debug().Str("turnId", ev.turn.ID()).Bool("silenced", ev.turn.Silenced()).Msg("turn streaming")
	case evChunk:
		ev.turn.Apply(ev.chunk)
	case evStreamEnd:
		delete(p.open, ev.turn)
		ev.turn.Finish()
		p.settle()
	case evStreamFailed:
		delete(p.open, ev.turn)
		ev.turn.Abort(ev.err)
		p.settle()
	}
}

func (p *Pipeline) handleControl(ctx context.Context, c Control) {
	switch c {
	case Press:
		events, err := p.capture.Start(ctx)
		if err != nil {
			if !errors.Is(err, capture.ErrBusy) {
				p.log.Warn().Err(err).Msg("capture start failed")
			}
			return
		}
		p.silenceOpen()
		go p.forward(ctx, events)
	case Release:
		if err := p.capture.Release(); err != nil {
			p.log.Warn().Err(err).Msg("capture release failed")
		}
	case StopSpeaking:
		p.silenceOpen()
		p.speech.Cancel()
	case Clear:
		p.surface.Clear()
	default:
		p.log.Debug().Str("control", string(c)).Msg("unknown control ignored")
	}
}

func (p *Pipeline) forward(ctx context.Context, events <-chan capture.Event) {
	for ev := range events {
		if p.send(ctx, event{kind: evCapture, capture: ev}) != nil {
			return
		}
	}
}

// silenceOpen mutes every reply still streaming and any reply whose request is in flight.
// Their bubbles keep rendering; only speech stops.
func (p *Pipeline) silenceOpen() {
	p.epoch++
	for turn := range p.open {
		turn.Silence()
	}
}

// submit opens a reply on a pump goroutine. Replies already streaming are left running but
// silenced, so two replies never share the speech queue.
func (p *Pipeline) submit(ctx context.Context, text string) {
	p.silenceOpen()

	p.mu.Lock()
	if p.inflight == 0 {
		p.idle = make(chan struct{})
	}
	p.inflight++
	p.mu.Unlock()

	go p.pump(ctx, text, p.epoch)
}

func (p *Pipeline) pump(ctx context.Context, text string, epoch uint64) {
	turn, err := p.consumer.Begin(ctx, text)
	if err != nil {
		p.settle()
		return
	}
	// Once the terminal event reaches the loop, Finish or Abort closes the stream and settles.
	handedOff := false
	defer func() {
		if handedOff {
			return
		}
		if err := turn.Close(); err != nil {
			p.log.Debug().Err(err).Str("turnId", turn.ID()).Msg("close abandoned stream")
		}
		p.settle()
	}()

	if p.send(ctx, event{kind: evTurnOpened, turn: turn, epoch: epoch}) != nil {
		return
	}
	for {
		chunk, err := turn.Recv()
		if errors.Is(err, io.EOF) {
			handedOff = p.send(ctx, event{kind: evStreamEnd, turn: turn}) == nil
			return
		}
		if err != nil {
			handedOff = p.send(ctx, event{kind: evStreamFailed, turn: turn, err: err}) == nil
			return
		}
		if p.send(ctx, event{kind: evChunk, turn: turn, chunk: chunk}) != nil {
			return
		}
	}
}

// settle marks one submitted reply as done and wakes WaitIdle once none remain.
func (p *Pipeline) settle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight == 0 {
		return
	}
	p.inflight--
	if p.inflight == 0 {
		close(p.idle)
		p.idle = nil
	}
}

// Streaming reports how many submitted replies have not finished yet.
func (p *Pipeline) Streaming() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}

// WaitIdle blocks until every submitted reply has finished or failed.
func (p *Pipeline) WaitIdle(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}
