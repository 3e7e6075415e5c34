// Package identity owns the conversation's session id: where it is persisted, how a missing
// one is obtained from the backend and when a server supplied one replaces it.
package identity

import (
	"context"
	"errors"
)

// ErrNoSession reports that no session id is stored or could be obtained.
var ErrNoSession = errors.New("no session id")

// Store persists the session id across runs.
type Store interface {
	// Load returns ErrNoSession when nothing is stored.
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, sessionID string) error
	Close() error
}
