package identity

import (
	"context"
	"os"
	"strings"
)

// NewStore picks postgres when a database URL is configured, otherwise the session file.
// An empty path falls back to DefaultPath; "-" keeps the id in memory only.
func NewStore(ctx context.Context, databaseURL, sessionFile string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "localhost"
		}
		return NewPostgresStore(ctx, databaseURL, ClientKey(host))
	}
	switch path := strings.TrimSpace(sessionFile); path {
	case "-":
		return NewInMemoryStore(), nil
	case "":
		return NewFileStore(DefaultPath()), nil
	default:
		return NewFileStore(path), nil
	}
}
