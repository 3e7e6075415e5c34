// Package speech schedules sentences into a speech synthesizer and handles barge-in.
package speech

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ent0n29/tars/internal/observability"
)

// Utterance is one unit of text submitted to the synthesizer.
type Utterance struct {
	Text   string
	Voice  string
	Lang   string
	Volume float64
	Rate   float64
	Pitch  float64
}

// Synthesizer speaks one utterance and returns when it has finished or ctx is cancelled.
// Implementations must stop producing audio as soon as ctx is done.
type Synthesizer interface {
	Speak(ctx context.Context, u Utterance) error
}

// Settings are the voice parameters applied to every new utterance.
type Settings struct {
	Voice  string
	Lang   string
	Volume float64
	Rate   float64
	Pitch  float64
}

func DefaultSettings() Settings {
	return Settings{Lang: "es-ES", Volume: 1, Rate: 1, Pitch: 1}
}

// Scheduler serializes utterances into one synthesizer. Speak never blocks; Cancel drops
// everything queued and interrupts the utterance being spoken.
type Scheduler struct {
	synth    Synthesizer
	sanitize bool
	metrics  *observability.Metrics
	log      zerolog.Logger

	mu       sync.Mutex
	settings Settings
	queue    []Utterance
	inflight context.CancelFunc
	done     chan struct{}
	closed   bool
	wake     chan struct{}
	stopped  chan struct{}
}

type Option func(*Scheduler)

// WithSanitize strips markup from text before it is spoken.
func WithSanitize(enabled bool) Option {
	return func(s *Scheduler) { s.sanitize = enabled }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func WithSettings(settings Settings) Option {
	return func(s *Scheduler) { s.settings = settings }
}

// NewScheduler starts the worker. A nil synth yields a scheduler whose Speak is a no-op.
func NewScheduler(synth Synthesizer, opts ...Option) *Scheduler {
	s := &Scheduler{
		synth:    synth,
		settings: DefaultSettings(),
		log:      zerolog.Nop(),
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if synth == nil {
		close(s.stopped)
		return s
	}
	go s.run()
	return s
}

// Available reports whether a synthesizer is attached.
func (s *Scheduler) Available() bool { return s.synth != nil }

// Speak queues text with the current settings.
func (s *Scheduler) Speak(text string) {
	if s.synth == nil {
		return
	}
	text = strings.TrimSpace(text)
	if s.sanitize {
		text = Sanitize(text)
	}
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	st := s.settings
	s.queue = append(s.queue, Utterance{
		Text:   text,
		Voice:  st.Voice,
		Lang:   st.Lang,
		Volume: st.Volume,
		Rate:   st.Rate,
		Pitch:  st.Pitch,
	})
	s.mu.Unlock()
	s.metrics.ObserveSpeech("queued")

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel drops queued utterances and interrupts the current one. It returns after the
// synthesizer has given up the interrupted utterance, so no audio from it follows.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	dropped := len(s.queue)
	s.queue = nil
	cancel := s.inflight
	done := s.done
	s.mu.Unlock()

	if cancel == nil && dropped == 0 {
		return
	}
	s.metrics.ObserveSpeech("cancelled")
	s.log.Debug().Int("dropped", dropped).Bool("interrupted", cancel != nil).Msg("speech cancelled")
	if cancel != nil {
		cancel()
		<-done
	}
}

// Speaking reports whether an utterance is playing or waiting.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight != nil || len(s.queue) > 0
}

func (s *Scheduler) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetVoice changes the voice for utterances queued from now on.
func (s *Scheduler) SetVoice(v Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Voice = v.Name
	if v.Lang != "" {
		s.settings.Lang = v.Lang
	}
}

func (s *Scheduler) SetVolume(volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Volume = clamp(volume, 0, 1)
}

// Close cancels pending speech and stops the worker.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Cancel()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.stopped
}

func (s *Scheduler) run() {
	defer close(s.stopped)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.mu.Unlock()
			<-s.wake
			s.mu.Lock()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		u := s.queue[0]
		s.queue = s.queue[1:]
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		s.inflight = cancel
		s.done = done
		s.mu.Unlock()

		err := s.synth.Speak(ctx, u)
		interrupted := ctx.Err() != nil
		cancel()

		s.mu.Lock()
		s.inflight = nil
		s.done = nil
		s.mu.Unlock()
		close(done)

		switch {
		case interrupted:
			s.metrics.ObserveSpeech("interrupted")
		case err != nil && !errors.Is(err, context.Canceled):
			s.metrics.ObserveSpeech("failed")
			s.log.Warn().Err(err).Msg("speech synthesis failed")
		default:
			s.metrics.ObserveSpeech("spoken")
		}
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
