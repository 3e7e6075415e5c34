package chatstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/tars/internal/display"
	"github.com/ent0n29/tars/internal/observability"
	"github.com/ent0n29/tars/internal/segment"
)

const (
	StatusReady       = "ready"
	StatusInterrupted = "stream interrupted"
	// ConnectErrorText replaces the reply bubble when no stream could be opened.
	ConnectErrorText = "Error connecting to server."
)

// Identity provides and records the conversation's session id.
type Identity interface {
	Ensure(ctx context.Context) (string, error)
	Update(id string) bool
}

// Speaker is the speech output the consumer feeds sentences into.
type Speaker interface {
	Speak(text string)
	Cancel()
}

// Consumer renders streamed replies and speaks them sentence by sentence.
type Consumer struct {
	client   *Client
	identity Identity
	speech   Speaker
	surface  display.Surface
	metrics  *observability.Metrics
	log      zerolog.Logger
}

type Option func(*Consumer)

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Consumer) { c.log = l }
}

func NewConsumer(client *Client, identity Identity, speech Speaker, surface display.Surface, opts ...Option) *Consumer {
	c := &Consumer{
		client:   client,
		identity: identity,
		speech:   speech,
		surface:  surface,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Turn is one assistant reply in progress. Apply, Silence, Finish and Abort must be called
// from one goroutine; Recv may be called from another.
type Turn struct {
	c       *Consumer
	id      string
	stream  *Stream
	bubble  display.Bubble
	text    strings.Builder
	seg     *segment.Segmenter
	log     zerolog.Logger
	started time.Time

	chunks        int
	sentences     int
	firstChunkAt  time.Time
	firstSpeechAt time.Time
	done          bool
	muted         bool
}

// Begin opens the reply for message. On failure the reply bubble shows ConnectErrorText, the
// surface returns to ready and the returned error wraps ErrConnect. There is no retry.
func (c *Consumer) Begin(ctx context.Context, message string) (*Turn, error) {
	sessionID, err := c.identity.Ensure(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("no session id, backend will assign one")
	}
	c.speech.Cancel()

	turnID := uuid.NewString()
	log := c.log.With().Str("turnId", turnID).Str("sessionId", sessionID).Logger()
	bubble := c.surface.AppendMessage(display.RoleAssistant, "")
	c.surface.SetTyping(true)

	started := time.Now()
	stream, err := c.client.Open(ctx, message, sessionID)
	if err != nil {
		bubble.SetText(ConnectErrorText)
		c.surface.SetStatus(StatusReady)
		c.surface.SetTyping(false)
		c.metrics.ObserveTurn("connect_failed")
		log.Error().Err(err).Msg("chat stream open failed")
		return nil, err
	}
	if id := stream.SessionID(); id != "" && c.identity.Update(id) {
		log.Info().Str("newSessionId", id).Msg("session id adopted from reply header")
	}
	log.Info().Int("message_chars", len(message)).Msg("turn opened")

	return &Turn{
		c:       c,
		id:      turnID,
		stream:  stream,
		bubble:  bubble,
		seg:     segment.New(),
		log:     log,
		started: started,
	}, nil
}

func (t *Turn) ID() string { return t.id }

// Recv reads the next chunk from the network. It is safe to call from a pump goroutine.
func (t *Turn) Recv() (string, error) { return t.stream.Recv() }

// Close releases the network stream of a turn that will never be finished, for example when
// the conversation shuts down mid-reply. Safe to call from the goroutine that calls Recv.
func (t *Turn) Close() error { return t.stream.Close() }

// Text is everything received so far.
func (t *Turn) Text() string { return t.text.String() }

// Apply renders chunk and speaks every sentence it completes, in that order.
func (t *Turn) Apply(chunk string) {
	if t.done || chunk == "" {
		return
	}
	now := time.Now()
	if t.chunks == 0 {
		t.firstChunkAt = now
		t.c.metrics.ObserveFirstChunkLatency(now.Sub(t.started))
	}
	t.chunks++
	t.c.metrics.ObserveChunk(len(chunk))

	t.text.WriteString(chunk)
	t.bubble.SetText(t.text.String())

	for _, sentence := range t.seg.Push(chunk) {
		t.speak(sentence, "sentence")
	}
	t.log.Debug().Int("chunk", t.chunks).Int("bytes", len(chunk)).Msg("chunk applied")
}

// Silence stops the turn from handing any further sentence to speech. The bubble keeps
// updating until the stream ends.
func (t *Turn) Silence() {
	if t.muted {
		return
	}
	t.muted = true
	t.log.Debug().Int("sentences", t.sentences).Msg("turn silenced")
}

// Silenced reports whether Silence was called.
func (t *Turn) Silenced() bool { return t.muted }

func (t *Turn) speak(text, kind string) {
	if t.muted {
		t.c.metrics.ObserveSentence("muted")
		return
	}
	if t.firstSpeechAt.IsZero() {
		t.firstSpeechAt = time.Now()
		t.c.metrics.ObserveFirstSpeechLatency(t.firstSpeechAt.Sub(t.started))
	}
	t.sentences++
	t.c.metrics.ObserveSentence(kind)
	t.c.speech.Speak(text)
}

// Finish completes the turn at end of stream: the unterminated remainder is spoken as one
// utterance and the surface returns to ready.
func (t *Turn) Finish() {
	if !t.end() {
		return
	}
	t.c.surface.SetStatus(StatusReady)
	t.c.metrics.ObserveTurn("completed")
	t.log.Info().
		Int("chunks", t.chunks).
		Int("sentences", t.sentences).
		Dur("elapsed", time.Since(t.started)).
		Msg("turn completed")
}

// Abort ends the turn after a transport failure in the middle of the reply. Text already
// received is kept and its remainder spoken like at a normal end.
func (t *Turn) Abort(err error) {
	if !t.end() {
		return
	}
	t.c.surface.SetStatus(StatusInterrupted)
	t.c.metrics.ObserveTurn("interrupted")
	t.log.Warn().Err(err).Int("chunks", t.chunks).Msg("turn interrupted")
}

func (t *Turn) end() bool {
	if t.done {
		return false
	}
	t.done = true
	if rest, ok := t.seg.Flush(); ok {
		t.speak(rest, "flush")
	}
	t.c.surface.SetTyping(false)
	if id := t.stream.SessionID(); id != "" {
		t.c.identity.Update(id)
	}
	t.c.metrics.ObserveStage(observability.StageTurnTotal, time.Since(t.started))
	if err := t.stream.Close(); err != nil {
		t.log.Debug().Err(err).Msg("close chat stream")
	}
	return true
}

// Run drives one full turn on the calling goroutine.
func (c *Consumer) Run(ctx context.Context, message string) error {
	turn, err := c.Begin(ctx, message)
	if err != nil {
		return err
	}
	for {
		chunk, err := turn.Recv()
		if errors.Is(err, io.EOF) {
			turn.Finish()
			return nil
		}
		if err != nil {
			turn.Abort(err)
			return fmt.Errorf("turn %s: %w", turn.ID(), err)
		}
		turn.Apply(chunk)
	}
}
