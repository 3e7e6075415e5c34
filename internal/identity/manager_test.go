package identity

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/tars/internal/display"
)

type fakeBoot struct {
	mu    sync.Mutex
	ids   []string
	errs  []error
	calls int
}

func (f *fakeBoot) NewSession(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	return f.ids[i], nil
}

func TestEnsureRestoresStoredID(t *testing.T) {
	store := NewInMemoryStore()
	_ = store.Save(context.Background(), "stored-1")
	boot := &fakeBoot{ids: []string{"fresh"}}
	rec := display.NewRecorder()

	m := NewManager(store, boot, rec)
	id, err := m.Ensure(context.Background())
	if err != nil || id != "stored-1" {
		t.Fatalf("Ensure() = %q, %v, want stored-1", id, err)
	}
	if boot.calls != 0 {
		t.Fatalf("bootstrap calls = %d, want 0", boot.calls)
	}
	if got := rec.Snapshot().SessionID; got != "stored-1" {
		t.Fatalf("displayed session = %q, want stored-1", got)
	}
}

func TestEnsureBootstrapsAndPersists(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "session"))
	boot := &fakeBoot{ids: []string{"", "", "fresh-1"}, errs: []error{errors.New("refused"), errors.New("refused")}}

	m := NewManager(store, boot, nil, WithRetry(3, time.Millisecond, 2*time.Millisecond))
	id, err := m.Ensure(context.Background())
	if err != nil || id != "fresh-1" {
		t.Fatalf("Ensure() = %q, %v, want fresh-1", id, err)
	}
	if boot.calls != 3 {
		t.Fatalf("bootstrap calls = %d, want 3", boot.calls)
	}
	if got, _ := store.Load(context.Background()); got != "fresh-1" {
		t.Fatalf("stored id = %q, want fresh-1", got)
	}

	again, _ := m.Ensure(context.Background())
	if again != "fresh-1" || boot.calls != 3 {
		t.Fatalf("second Ensure() = %q after %d calls, want cached id", again, boot.calls)
	}
}

func TestEnsureFailureWrapsErrNoSession(t *testing.T) {
	boot := &fakeBoot{ids: []string{"", ""}, errs: []error{errors.New("down"), errors.New("down")}}
	m := NewManager(NewInMemoryStore(), boot, nil, WithRetry(2, time.Millisecond, time.Millisecond))

	id, err := m.Ensure(context.Background())
	if !errors.Is(err, ErrNoSession) || id != "" {
		t.Fatalf("Ensure() = %q, %v, want ErrNoSession", id, err)
	}

	m = NewManager(NewInMemoryStore(), nil, nil)
	if _, err := m.Ensure(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Ensure() without bootstrapper error = %v, want ErrNoSession", err)
	}
}

func TestUpdateAppliesOnce(t *testing.T) {
	store := NewInMemoryStore()
	rec := display.NewRecorder()
	m := NewManager(store, nil, rec)

	if !m.Update("srv-1") {
		t.Fatalf("Update(srv-1) = false, want true")
	}
	if m.Update("srv-1") || m.Update("  ") {
		t.Fatalf("repeated or blank Update() = true, want false")
	}
	if m.Current() != "srv-1" {
		t.Fatalf("Current() = %q, want srv-1", m.Current())
	}
	if got, _ := store.Load(context.Background()); got != "srv-1" {
		t.Fatalf("stored id = %q, want srv-1", got)
	}
	if got := rec.Snapshot().SessionID; got != "srv-1" {
		t.Fatalf("displayed session = %q, want srv-1", got)
	}
}

func TestFileStoreMissingAndBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session")
	s := NewFileStore(path)
	if _, err := s.Load(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Load() missing error = %v, want ErrNoSession", err)
	}
	if err := s.Save(context.Background(), " "); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := s.Load(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Load() blank error = %v, want ErrNoSession", err)
	}
}

func TestNewStoreSelection(t *testing.T) {
	s, err := NewStore(context.Background(), "", "-")
	if err != nil {
		t.Fatalf("NewStore(-) error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(-) = %T, want *InMemoryStore", s)
	}
	s, _ = NewStore(context.Background(), "", filepath.Join(t.TempDir(), "id"))
	if _, ok := s.(*FileStore); !ok {
		t.Fatalf("NewStore(path) = %T, want *FileStore", s)
	}
}

func TestClientKeyStable(t *testing.T) {
	if ClientKey("box") != ClientKey("box") || ClientKey("box") == ClientKey("other") {
		t.Fatalf("ClientKey() is not a stable per-host key")
	}
}
