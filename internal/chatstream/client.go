// Package chatstream talks to the chat backend and turns its streamed reply into display
// updates and speech.
package chatstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/tars/internal/reliability"
)

// SessionHeader carries the server's session id on streamed replies.
const SessionHeader = "X-Session-Id"

// ErrConnect marks failures to open a reply stream: transport errors and non-2xx statuses.
var ErrConnect = errors.New("chat backend unreachable")

// StatusError is a non-2xx reply from the backend. It unwraps to ErrConnect.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrConnect }

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool { return reliability.IsRetryableHTTPStatus(e.Code) }

func statusError(op string, res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return &StatusError{Op: op, Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
}

// Client speaks the backend's HTTP protocol.
type Client struct {
	base   string
	client *http.Client
}

// NewClient targets base (e.g. http://localhost:8000). headerTimeout bounds the wait for
// response headers; the streamed body itself has no deadline.
func NewClient(base string, headerTimeout time.Duration) *Client {
	if headerTimeout <= 0 {
		headerTimeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ResponseHeaderTimeout: headerTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   4,
	}
	return &Client{
		base:   strings.TrimRight(strings.TrimSpace(base), "/"),
		client: &http.Client{Transport: transport},
	}
}

func (c *Client) Base() string { return c.base }

type chatRequest struct {
	Message   string  `json:"message"`
	SessionID *string `json:"sessionId"`
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
}

// NewSession asks the backend for a fresh session id.
func (c *Client) NewSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/session", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", statusError("new session", res)
	}
	var out sessionResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", errors.New("session response without sessionId")
	}
	return out.SessionID, nil
}

// Open posts message and returns the reply stream. An empty sessionID is sent as null so the
// backend assigns one.
func (c *Client) Open(ctx context.Context, message, sessionID string) (*Stream, error) {
	body := chatRequest{Message: message}
	if sessionID != "" {
		body.SessionID = &sessionID
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		return nil, statusError("open chat stream", res)
	}

	return &Stream{
		body:      res.Body,
		sessionID: strings.TrimSpace(res.Header.Get(SessionHeader)),
		buf:       make([]byte, 4096),
	}, nil
}

// Stream is one streamed reply body decoded as UTF-8.
type Stream struct {
	body      io.ReadCloser
	sessionID string
	buf       []byte
	pending   []byte
	eof       bool
}

// SessionID returns the X-Session-Id response header, empty when absent.
func (s *Stream) SessionID() string { return s.sessionID }

// Recv returns the next chunk of text in arrival order. A multi-byte character split across
// network reads is held back until it is complete. At the end of the body Recv returns io.EOF.
func (s *Stream) Recv() (string, error) {
	for {
		if s.eof {
			if len(s.pending) == 0 {
				return "", io.EOF
			}
			text := strings.ToValidUTF8(string(s.pending), string(utf8.RuneError))
			s.pending = nil
			return text, nil
		}

		n, err := s.body.Read(s.buf)
		if n > 0 {
			s.pending = append(s.pending, s.buf[:n]...)
			cut := completePrefix(s.pending)
			if cut > 0 {
				text := strings.ToValidUTF8(string(s.pending[:cut]), string(utf8.RuneError))
				s.pending = append(s.pending[:0], s.pending[cut:]...)
				if errors.Is(err, io.EOF) {
					s.eof = true
				}
				return text, nil
			}
		}
		if errors.Is(err, io.EOF) {
			s.eof = true
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read chat stream: %w", err)
		}
	}
}

func (s *Stream) Close() error { return s.body.Close() }

// completePrefix returns the length of b without a trailing incomplete UTF-8 sequence.
func completePrefix(b []byte) int {
	end := len(b)
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		c := b[len(b)-i]
		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[len(b)-i:]) {
				end = len(b) - i
			}
			break
		}
	}
	return end
}
