package display

import "sync"

// Recorder keeps the surface state in memory. It backs tests and the inspector snapshot.
type Recorder struct {
	mu        sync.Mutex
	messages  []*RecordedMessage
	statuses  []string
	meta      string
	typing    bool
	sessionID string
}

// RecordedMessage is a bubble with every text it was set to.
type RecordedMessage struct {
	Role    Role
	History []string

	mu *sync.Mutex
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) AppendMessage(role Role, text string) Bubble {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := &RecordedMessage{Role: role, History: []string{text}, mu: &r.mu}
	r.messages = append(r.messages, m)
	return m
}

func (m *RecordedMessage) SetText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.History = append(m.History, text)
}

func (r *Recorder) SetStatus(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, text)
}

func (r *Recorder) SetMeta(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta = text
}

func (r *Recorder) SetTyping(visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = visible
}

func (r *Recorder) SetSessionID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = id
}

func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

// Snapshot is a copy of the recorded state.
type Snapshot struct {
	Messages  []MessageSnapshot `json:"messages"`
	Statuses  []string          `json:"statuses"`
	Meta      string            `json:"meta"`
	Typing    bool              `json:"typing"`
	SessionID string            `json:"session_id"`
}

type MessageSnapshot struct {
	Role    Role     `json:"role"`
	Text    string   `json:"text"`
	History []string `json:"history"`
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Snapshot{
		Statuses:  append([]string(nil), r.statuses...),
		Meta:      r.meta,
		Typing:    r.typing,
		SessionID: r.sessionID,
	}
	for _, m := range r.messages {
		out.Messages = append(out.Messages, MessageSnapshot{
			Role:    m.Role,
			Text:    m.History[len(m.History)-1],
			History: append([]string(nil), m.History...),
		})
	}
	return out
}

// LastStatus returns the most recent status text.
func (r *Recorder) LastStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}
