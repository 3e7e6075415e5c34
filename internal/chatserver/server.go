// Package chatserver is a local stand-in for the chat backend: it issues session ids and
// streams replies as chunked plain text.
package chatserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/tars/internal/session"
)

// Responder produces the full reply for one message.
type Responder interface {
	Reply(ctx context.Context, s *session.Session, message string) (string, error)
}

type Config struct {
	// ChunkBytes is the size of each streamed write. Writes may split multi-byte characters.
	ChunkBytes int
	ChunkDelay time.Duration
}

type Server struct {
	cfg       Config
	sessions  *session.Manager
	responder Responder
	log       zerolog.Logger
}

func New(cfg Config, sessions *session.Manager, responder Responder, log zerolog.Logger) *Server {
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = 16
	}
	if responder == nil {
		responder = EchoResponder{}
	}
	return &Server{cfg: cfg, sessions: sessions, responder: responder, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(allowAnyOrigin)
	r.Get("/healthz", s.handleHealth)
	r.Get("/session", s.handleNewSession)
	r.Post("/chat/stream", s.handleChatStream)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Expose-Headers", "X-Session-Id")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleNewSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Create()
	s.log.Info().Str("sessionId", sess.ID).Msg("session created")
	respondJSON(w, http.StatusOK, session.NewResponse{SessionID: sess.ID})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req session.ChatRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		respondError(w, http.StatusBadRequest, "message_required", "message is required")
		return
	}
	var requested string
	if req.SessionID != nil {
		requested = *req.SessionID
	}
	sess, created := s.sessions.Resolve(requested)
	turnID := uuid.NewString()
	log := s.log.With().Str("sessionId", sess.ID).Str("turnId", turnID).Logger()
	if created {
		log.Info().Msg("session started by chat request")
	}
	if err := s.sessions.StartTurn(sess.ID, turnID, message); err != nil {
		respondError(w, http.StatusInternalServerError, "session_unavailable", err.Error())
		return
	}
	if cur, err := s.sessions.Get(sess.ID); err == nil {
		sess = cur
	}

	reply, err := s.responder.Reply(r.Context(), sess, message)
	if err != nil {
		reply = fmt.Sprintf("\n[error] %v", err)
		log.Warn().Err(err).Msg("reply generation failed")
	}

	w.Header().Set("X-Session-Id", sess.ID)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	written, err := s.stream(r.Context(), w, reply)
	if err != nil {
		log.Warn().Err(err).Int("bytes", written).Msg("reply stream aborted")
	}
	if err := s.sessions.EndTurn(sess.ID, reply[:written]); err != nil {
		log.Warn().Err(err).Msg("end turn")
	}
	log.Info().Int("bytes", written).Msg("reply streamed")
}

// stream writes reply in fixed-size byte chunks, flushing each one.
func (s *Server) stream(ctx context.Context, w http.ResponseWriter, reply string) (int, error) {
	flusher, _ := w.(http.Flusher)
	written := 0
	for written < len(reply) {
		end := written + s.cfg.ChunkBytes
		if end > len(reply) {
			end = len(reply)
		}
		if _, err := io.WriteString(w, reply[written:end]); err != nil {
			return written, err
		}
		written = end
		if flusher != nil {
			flusher.Flush()
		}
		if s.cfg.ChunkDelay > 0 && written < len(reply) {
			select {
			case <-ctx.Done():
				return written, ctx.Err()
			case <-time.After(s.cfg.ChunkDelay):
			}
		}
	}
	return written, nil
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
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
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
