package session

import (
	"context"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create()
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
}

func TestManagerResolve(t *testing.T) {
	m := NewManager(time.Minute)

	s, created := m.Resolve("")
	if !created || s.ID == "" {
		t.Fatalf("Resolve(\"\") = %+v, %v, want new session", s, created)
	}
	again, created := m.Resolve(s.ID)
	if created || again.ID != s.ID {
		t.Fatalf("Resolve(known) = %+v, %v, want existing session", again, created)
	}
	foreign, created := m.Resolve("client-chosen")
	if !created || foreign.ID != "client-chosen" {
		t.Fatalf("Resolve(unknown) = %+v, %v, want session under the given id", foreign, created)
	}

	m.End(s.ID)
	revived, created := m.Resolve(s.ID)
	if !created || revived.Status != StatusActive || revived.TurnCount != 0 {
		t.Fatalf("Resolve(ended) = %+v, %v, want fresh active session", revived, created)
	}
}

func TestManagerTurnsKeepHistory(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create()
	if err := m.StartTurn(s.ID, "turn-1", "hola"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	got, _ := m.Get(s.ID)
	if got.ActiveTurnID != "turn-1" || got.TurnCount != 1 {
		t.Fatalf("session = %+v, want active turn-1", got)
	}
	if err := m.EndTurn(s.ID, "¡Hola!"); err != nil {
		t.Fatalf("EndTurn() error = %v", err)
	}

	got, _ = m.Get(s.ID)
	if got.ActiveTurnID != "" {
		t.Fatalf("ActiveTurnID = %q, want empty", got.ActiveTurnID)
	}
	if len(got.History) != 2 || got.History[1].Role != "assistant" {
		t.Fatalf("History = %+v", got.History)
	}
	if err := m.StartTurn("missing", "t", "x"); err != ErrNotFound {
		t.Fatalf("StartTurn(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create()
	expired := make(chan string, 1)
	m.SetExpireHook(func(s *Session) { expired <- s.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired %q, want %q", id, s.ID)
		}
	default:
		t.Fatalf("expire hook not called")
	}
}
