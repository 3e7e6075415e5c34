package session

// NewResponse is the body of GET /session.
type NewResponse struct {
	SessionID string `json:"sessionId"`
}

// ChatRequest is the body of POST /chat/stream. A null or unknown sessionId starts a session.
type ChatRequest struct {
	Message   string  `json:"message"`
	SessionID *string `json:"sessionId"`
}
