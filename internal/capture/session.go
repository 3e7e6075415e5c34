package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/tars/internal/display"
	"github.com/ent0n29/tars/internal/observability"
	"github.com/ent0n29/tars/internal/transcript"
)

type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateStopping  State = "stopping"
)

const (
	StatusListening   = "listening..."
	MetaRelease       = "release to send"
	StatusThinking    = "thinking..."
	StatusNoInput     = "no input"
	StatusUnsupported = "speech capture unsupported"
)

// DefaultStopTimeout bounds how long a released capture waits for the engine to confirm.
const DefaultStopTimeout = 5 * time.Second

// Canceller interrupts speech output. Starting a capture always calls it first.
type Canceller interface {
	Cancel()
}

// Session drives one engine through Idle -> Listening -> Stopping -> Idle and keeps the
// transcript and user bubble of the current capture. Start, Release and Handle must be called
// from a single goroutine.
type Session struct {
	engine  Engine
	speech  Canceller
	surface display.Surface
	metrics *observability.Metrics
	log     zerolog.Logger

	stopTimeout time.Duration

	mu         sync.Mutex
	state      State
	seq        uint64
	transcript *transcript.Transcript
	bubble     display.Bubble
	releasedAt time.Time
	abort      chan string
	stopTimer  *time.Timer
}

type Option func(*Session)

func WithCanceller(c Canceller) Option {
	return func(s *Session) { s.speech = c }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithStopTimeout sets how long Release waits for the engine before the capture fails with
// code "stop".
func WithStopTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// NewSession wires a session. engine may be nil when the platform has no recognizer.
func NewSession(engine Engine, surface display.Surface, opts ...Option) *Session {
	s := &Session{
		engine:  engine,
		surface: surface,
		log:     zerolog.Nop(),
		state:   StateIdle,

		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReleasedAt is when the current or last capture was released.
func (s *Session) ReleasedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releasedAt
}

// Start begins a capture. Speech output is cancelled before anything else so the assistant
// never talks over the user. The returned channel delivers this capture's events, always
// terminated by an EventEnd or EventError, and closes when the capture is over.
func (s *Session) Start(ctx context.Context) (<-chan Event, error) {
	if s.engine == nil {
		s.surface.SetStatus(StatusUnsupported)
		return nil, ErrUnsupported
	}
	if s.speech != nil {
		s.speech.Cancel()
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.mu.Unlock()

	raw, err := s.engine.Start(ctx)
	if err != nil {
		s.surface.SetStatus("STT error: start")
		s.metrics.ObserveCapture("start_failed")
		return nil, fmt.Errorf("start capture engine: %w", err)
	}

	abort := make(chan string, 1)
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.state = StateListening
	s.transcript = transcript.New()
	s.releasedAt = time.Time{}
	s.abort = abort
	s.mu.Unlock()

	s.bubble = s.surface.AppendMessage(display.RoleUser, "")
	s.surface.SetStatus(StatusListening)
	s.surface.SetMeta(MetaRelease)
	s.metrics.ObserveCapture("started")
	s.log.Debug().Uint64("capture", seq).Msg("capture started")

	out := make(chan Event, 16)
	go relay(ctx, seq, raw, out, abort)
	return out, nil
}

// relay stamps engine events with the capture sequence and guarantees a terminal event. A
// code received on abort ends the capture with an EventError carrying it.
func relay(ctx context.Context, seq uint64, in <-chan Event, out chan<- Event, abort <-chan string) {
	defer close(out)
	send := func(ev Event) bool {
		ev.seq = seq
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case code := <-abort:
			send(Event{Type: EventError, Code: code})
			return
		case ev, ok := <-in:
			if !ok {
				send(Event{Type: EventEnd})
				return
			}
			if !send(ev) {
				return
			}
			if ev.Type == EventEnd || ev.Type == EventError {
				return
			}
		}
	}
}

// Release asks the engine to stop. The transcript is submitted once the engine confirms; an
// engine that does not confirm within the stop timeout fails the capture with code "stop".
// Releasing while not listening does nothing.
func (s *Session) Release() error {
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	s.releasedAt = time.Now()
	s.mu.Unlock()

	s.surface.SetStatus(StatusThinking)
	s.surface.SetMeta("")
	if err := s.engine.Stop(); err != nil {
		s.fail("stop")
		return fmt.Errorf("stop capture engine: %w", err)
	}

	s.mu.Lock()
	if s.state == StateStopping {
		abort := s.abort
		s.stopTimer = time.AfterFunc(s.stopTimeout, func() {
			select {
			case abort <- "stop":
			default:
			}
		})
	}
	s.mu.Unlock()
	return nil
}

// Handle applies one event from the channel returned by Start. It returns the text to submit
// when the capture ended with a non-empty transcript. Events of earlier captures and events
// arriving while idle are ignored.
func (s *Session) Handle(ev Event) (string, bool) {
	s.mu.Lock()
	if s.state == StateIdle || ev.seq != s.seq {
		s.mu.Unlock()
		return "", false
	}
	t := s.transcript
	s.mu.Unlock()

	switch ev.Type {
	case EventResult:
		t.Apply(ev.ResultIndex, ev.Results)
		s.bubble.SetText(t.Display())
		s.metrics.ObserveCapture("result")
		return "", false
	case EventError:
		s.fail(ev.Code)
		if err := s.engine.Stop(); err != nil {
			s.log.Debug().Err(err).Msg("stop after capture error")
		}
		return "", false
	case EventEnd:
		s.mu.Lock()
		s.state = StateIdle
		s.stopTimerLocked()
		if s.releasedAt.IsZero() {
			s.releasedAt = time.Now()
		}
		s.mu.Unlock()

		text := t.Freeze()
		s.bubble.SetText(text)
		s.metrics.ObserveCapture("ended")
		if text == "" {
			s.surface.SetStatus(StatusNoInput)
			s.surface.SetMeta("")
			return "", false
		}
		s.log.Debug().Int("chars", len(text)).Msg("capture submitted")
		return text, true
	default:
		return "", false
	}
}

// fail returns to idle and releases the relay and the engine from the current capture.
func (s *Session) fail(code string) {
	s.mu.Lock()
	s.state = StateIdle
	s.stopTimerLocked()
	if s.abort != nil {
		select {
		case s.abort <- code:
		default:
		}
	}
	s.mu.Unlock()
	if a, ok := s.engine.(Aborter); ok {
		a.Abort()
	}
	if s.transcript != nil {
		s.transcript.Freeze()
	}
	s.surface.SetStatus(fmt.Sprintf("STT error: %s", code))
	s.surface.SetMeta("")
	s.metrics.ObserveCapture("error")
	s.log.Warn().Str("code", code).Msg("speech capture failed")
}

func (s *Session) stopTimerLocked() {
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
}
