package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/tars/internal/capture"
	"github.com/ent0n29/tars/internal/chatstream"
	"github.com/ent0n29/tars/internal/display"
	"github.com/ent0n29/tars/internal/identity"
	"github.com/ent0n29/tars/internal/protocol"
	"github.com/ent0n29/tars/internal/speech"
)

type recordingSynth struct {
	mu     sync.Mutex
	spoken []string
	hold   time.Duration
	frames atomic.Int64
}

func (r *recordingSynth) Speak(ctx context.Context, u speech.Utterance) error {
	deadline := time.Now().Add(r.hold)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
			r.frames.Add(1)
		}
	}
	r.mu.Lock()
	r.spoken = append(r.spoken, u.Text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSynth) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spoken...)
}

type harness struct {
	p      *Pipeline
	engine *capture.TextEngine
	synth  *recordingSynth
	rec    *display.Recorder
	cancel context.CancelFunc
}

func newHarness(t *testing.T, base string, hold time.Duration) *harness {
	t.Helper()
	rec := display.NewRecorder()
	synth := &recordingSynth{hold: hold}
	sched := speech.NewScheduler(synth)
	t.Cleanup(sched.Close)

	engine := capture.NewTextEngine()
	session := capture.NewSession(engine, rec, capture.WithCanceller(sched))
	client := chatstream.NewClient(base, time.Second)
	ids := identity.NewManager(identity.NewInMemoryStore(), client, rec, identity.WithRetry(1, time.Millisecond, time.Millisecond))
	consumer := chatstream.NewConsumer(client, ids, sched, rec)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	p := New(session, consumer, sched, rec)
	go p.Run(ctx)
	return &harness{p: p, engine: engine, synth: synth, rec: rec, cancel: cancel}
}

func backend(t *testing.T, reply []string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session":
			_ = json.NewEncoder(w).Encode(map[string]string{"sessionId": "boot-1"})
		case "/chat/stream":
			requests.Add(1)
			w.Header().Set(chatstream.SessionHeader, "boot-1")
			for _, c := range reply {
				_, _ = io.WriteString(w, c)
				w.(http.Flusher).Flush()
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) say(t *testing.T, lines ...string) {
	t.Helper()
	ctx := context.Background()
	if err := h.p.Control(ctx, Press); err != nil {
		t.Fatalf("Control(press) error = %v", err)
	}
	eventually(t, "capture start", h.engine.Listening)
	for _, l := range lines {
		h.engine.Type(l)
	}
	if err := h.p.Control(ctx, Release); err != nil {
		t.Fatalf("Control(release) error = %v", err)
	}
}

func TestPushToTalkRoundTrip(t *testing.T) {
	srv, requests := backend(t, []string{"Hola. Qué", " tal"})
	h := newHarness(t, srv.URL, time.Millisecond)

	h.say(t, "hola", "tars")
	eventually(t, "reply spoken", func() bool { return len(h.synth.texts()) == 2 })

	if got, want := h.synth.texts(), []string{"Hola.", "Qué tal"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("spoken = %q, want %q", got, want)
	}
	if err := h.p.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	snap := h.rec.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("messages = %+v, want user and assistant bubbles", snap.Messages)
	}
	if snap.Messages[0].Text != "hola tars" || snap.Messages[1].Text != "Hola. Qué tal" {
		t.Fatalf("bubbles = %q / %q", snap.Messages[0].Text, snap.Messages[1].Text)
	}
	if snap.SessionID != "boot-1" || requests.Load() != 1 {
		t.Fatalf("session = %q requests = %d, want boot-1 and 1", snap.SessionID, requests.Load())
	}
	if h.rec.LastStatus() != chatstream.StatusReady {
		t.Fatalf("status = %q, want ready", h.rec.LastStatus())
	}
}

func TestEmptyCaptureSendsNothing(t *testing.T) {
	srv, requests := backend(t, []string{"nunca"})
	h := newHarness(t, srv.URL, time.Millisecond)

	h.say(t)
	eventually(t, "no input status", func() bool { return h.rec.LastStatus() == capture.StatusNoInput })
	if requests.Load() != 0 {
		t.Fatalf("requests = %d, want 0", requests.Load())
	}
}

func TestBargeInSilencesReply(t *testing.T) {
	srv, _ := backend(t, []string{"Una respuesta larguísima. Y otra frase más."})
	h := newHarness(t, srv.URL, time.Hour)

	h.say(t, "cuéntame algo")
	eventually(t, "speech started", func() bool { return h.synth.frames.Load() > 3 })
	if err := h.p.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}

	if err := h.p.Control(context.Background(), Press); err != nil {
		t.Fatalf("Control(press) error = %v", err)
	}
	eventually(t, "capture start", h.engine.Listening)
	frames := h.synth.frames.Load()
	time.Sleep(30 * time.Millisecond)
	if got := h.synth.frames.Load(); got != frames {
		t.Fatalf("frames after barge-in = %d, want %d", got, frames)
	}
	if len(h.synth.texts()) != 0 {
		t.Fatalf("interrupted utterances completed: %q", h.synth.texts())
	}
}

func TestStopSpeakingAndClear(t *testing.T) {
	srv, _ := backend(t, []string{"Larga. Frase."})
	h := newHarness(t, srv.URL, time.Hour)

	if err := h.p.Submit(context.Background(), "hola"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	eventually(t, "speech started", func() bool { return h.synth.frames.Load() > 0 })
	h.p.Control(context.Background(), StopSpeaking)
	h.p.Control(context.Background(), Clear)

	eventually(t, "history cleared", func() bool { return len(h.rec.Snapshot().Messages) == 0 })
	frames := h.synth.frames.Load()
	time.Sleep(20 * time.Millisecond)
	if got := h.synth.frames.Load(); got != frames {
		t.Fatalf("frames after stop = %d, want %d", got, frames)
	}
}

func TestConnectionFailureReturnsToIdle(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	h := newHarness(t, base, time.Millisecond)

	h.say(t, "hola")
	eventually(t, "error bubble", func() bool {
		msgs := h.rec.Snapshot().Messages
		return len(msgs) == 2 && msgs[1].Text == chatstream.ConnectErrorText
	})
	if err := h.p.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if h.p.Streaming() != 0 {
		t.Fatalf("Streaming() = %d, want 0", h.p.Streaming())
	}

	h.say(t, "otra vez")
	eventually(t, "second capture submitted", func() bool { return len(h.rec.Snapshot().Messages) == 4 })
}

func TestServeInboundRoutesControls(t *testing.T) {
	srv, _ := backend(t, nil)
	h := newHarness(t, srv.URL, time.Millisecond)

	in := make(chan any, 4)
	in <- protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionPress}
	close(in)
	if err := h.p.ServeInbound(context.Background(), in, nil); err != nil {
		t.Fatalf("ServeInbound() error = %v", err)
	}
	eventually(t, "capture started from viewer", h.engine.Listening)
}

// gatedBackend streams first, then waits for gate before streaming rest. Messages other than
// gatedMessage get quick as the whole reply.
func gatedBackend(t *testing.T, gatedMessage, first, rest, quick string, gate <-chan struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session":
			_ = json.NewEncoder(w).Encode(map[string]string{"sessionId": "boot-1"})
		case "/chat/stream":
			var body struct {
				Message string `json:"message"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.Header().Set(chatstream.SessionHeader, "boot-1")
			if body.Message != gatedMessage {
				_, _ = io.WriteString(w, quick)
				return
			}
			_, _ = io.WriteString(w, first)
			w.(http.Flusher).Flush()
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
			_, _ = io.WriteString(w, rest)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func assistantText(rec *display.Recorder, i int) string {
	var n int
	for _, m := range rec.Snapshot().Messages {
		if m.Role != display.RoleAssistant {
			continue
		}
		if n == i {
			return m.Text
		}
		n++
	}
	return ""
}

func TestBargeInSilencesReplyStillStreaming(t *testing.T) {
	gate := make(chan struct{})
	srv := gatedBackend(t, "hola", "Primera frase. ", "Segunda frase de la respuesta vieja.", "", gate)
	h := newHarness(t, srv.URL, time.Hour)

	if err := h.p.Submit(context.Background(), "hola"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	eventually(t, "first sentence playing", func() bool { return h.synth.frames.Load() > 3 })

	if err := h.p.Control(context.Background(), Press); err != nil {
		t.Fatalf("Control(press) error = %v", err)
	}
	eventually(t, "capture start", h.engine.Listening)
	close(gate)

	eventually(t, "rest of the reply rendered", func() bool {
		return assistantText(h.rec, 0) == "Primera frase. Segunda frase de la respuesta vieja."
	})
	if err := h.p.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}

	frames := h.synth.frames.Load()
	time.Sleep(30 * time.Millisecond)
	if got := h.synth.frames.Load(); got != frames {
		t.Fatalf("frames while the user holds the control = %d, want %d", got, frames)
	}
	if len(h.synth.texts()) != 0 {
		t.Fatalf("spoken = %q, want nothing after barge-in", h.synth.texts())
	}
	if !h.engine.Listening() {
		t.Fatalf("capture stopped by the old reply")
	}
}

func TestNewReplySilencesPreviousOne(t *testing.T) {
	gate := make(chan struct{})
	srv := gatedBackend(t, "a", "Uno de A. ", "Dos de A.", "Uno de B.", gate)
	h := newHarness(t, srv.URL, time.Millisecond)
	ctx := context.Background()

	if err := h.p.Submit(ctx, "a"); err != nil {
		t.Fatalf("Submit(a) error = %v", err)
	}
	eventually(t, "first reply spoken", func() bool { return len(h.synth.texts()) == 1 })
	if err := h.p.Submit(ctx, "b"); err != nil {
		t.Fatalf("Submit(b) error = %v", err)
	}
	eventually(t, "second reply spoken", func() bool { return len(h.synth.texts()) == 2 })
	close(gate)

	eventually(t, "first reply rendered", func() bool { return assistantText(h.rec, 0) == "Uno de A. Dos de A." })
	if err := h.p.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got, want := h.synth.texts(), []string{"Uno de A.", "Uno de B."}; !reflect.DeepEqual(got, want) {
		t.Fatalf("spoken = %q, want %q", got, want)
	}
}

func TestShutdownMidReplySettles(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	srv := gatedBackend(t, "hola", "Empieza", " y nunca acaba.", "", gate)
	h := newHarness(t, srv.URL, time.Millisecond)

	if err := h.p.Submit(context.Background(), "hola"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	eventually(t, "first chunk rendered", func() bool { return assistantText(h.rec, 0) == "Empieza" })
	if h.p.Streaming() != 1 {
		t.Fatalf("Streaming() = %d, want 1", h.p.Streaming())
	}

	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.p.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle() after shutdown error = %v", err)
	}
	if h.p.Streaming() != 0 {
		t.Fatalf("Streaming() = %d, want 0", h.p.Streaming())
	}
	eventually(t, "submit refused after stop", func() bool {
		return errors.Is(h.p.Submit(context.Background(), "otra"), ErrStopped)
	})
}
