package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/tars/internal/config"
	"github.com/ent0n29/tars/internal/display"
	"github.com/ent0n29/tars/internal/observability"
	"github.com/ent0n29/tars/internal/protocol"
	"github.com/ent0n29/tars/internal/speech"
)

// SessionSource exposes the conversation's session id.
type SessionSource interface {
	Current() string
}

// Activity reports whether replies are still streaming.
type Activity interface {
	Streaming() int
}

// VoiceControl is the speech output the inspector can tune.
type VoiceControl interface {
	Available() bool
	Settings() speech.Settings
	SetVoice(v speech.Voice)
	SetVolume(volume float64)
}

// VoiceLister enumerates installed synthesizer voices.
type VoiceLister interface {
	Voices(ctx context.Context) ([]speech.Voice, error)
}

// Server is the local inspector: health, metrics, session, voice settings and a websocket
// mirror of the display.
type Server struct {
	cfg      config.Config
	identity SessionSource
	activity Activity
	hub      *display.Hub
	voice    VoiceControl
	voices   VoiceLister
	metrics  *observability.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
	static   http.Handler
}

type Option func(*Server)

func WithActivity(a Activity) Option {
	return func(s *Server) { s.activity = a }
}

func WithVoice(control VoiceControl, lister VoiceLister) Option {
	return func(s *Server) {
		s.voice = control
		s.voices = lister
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func New(cfg config.Config, identity SessionSource, hub *display.Hub, metrics *observability.Metrics, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		identity: identity,
		hub:      hub,
		metrics:  metrics,
		log:      zerolog.Nop(),
		static:   newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the conversation.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/session", s.handleSession)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/voices", s.handleListVoices)
	r.Put("/v1/voice", s.handleSetVoice)
	r.Get("/v1/display/ws", s.handleDisplayWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"capture_mode": s.cfg.CaptureMode,
		"speech":       s.voice != nil && s.voice.Available(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	streaming := 0
	if s.activity != nil {
		streaming = s.activity.Streaming()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"session_id": s.currentSession(),
		"streaming":  streaming,
	})
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	APIBase   string `json:"api_base"`
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	id := s.currentSession()
	if id == "" {
		respondError(w, http.StatusNotFound, "session_not_found", "no session id yet")
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{SessionID: id, APIBase: s.cfg.APIBase})
}

func (s *Server) currentSession() string {
	if s.identity == nil {
		return ""
	}
	return s.identity.Current()
}

func (s *Server) handleDisplayWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "display hub not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()
	replies := make(chan any, 16)
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("display viewer connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case m, ok := <-updates:
				if !ok {
					return
				}
				msg = m
			case m := <-replies:
				msg = m
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.ObserveWSWriteError("write_json")
				cancel()
				return
			}
			if t, ok := protocol.TypeOf(msg); ok {
				s.metrics.ObserveWSMessage("outbound", string(t))
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	// ownsCapture is set while this viewer is answering a capture with recognizer results.
	ownsCapture := false

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}
			select {
			case replies <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if the reply queue is saturated.
			}
			continue
		}

		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		switch parsed.(type) {
		case protocol.ClientCaptureResult:
			ownsCapture = true
		case protocol.ClientCaptureError, protocol.ClientCaptureEnd:
			ownsCapture = false
		}
		if err := s.hub.Deliver(ctx, parsed); err != nil {
			break readLoop
		}
	}

	cancel()
	<-writerDone
	unsubscribe()
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("display viewer disconnected")

	// A capture driven by this viewer, or by nobody once the last viewer is gone, can no
	// longer be confirmed.
	if ownsCapture || s.hub.Subscribers() == 0 {
		deliverCtx, deliverCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer deliverCancel()
		if err := s.hub.Deliver(deliverCtx, protocol.ClientCaptureError{
			Type: protocol.TypeClientCaptureError,
			Code: "disconnected",
		}); err != nil {
			s.log.Warn().Err(err).Msg("capture disconnect not delivered")
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
