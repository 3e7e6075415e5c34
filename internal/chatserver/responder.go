package chatserver

import (
	"context"
	"fmt"

	"github.com/ent0n29/tars/internal/session"
)

// EchoResponder answers every message with a short deterministic reply. It exercises the
// client's sentence handling: several terminators and an unterminated tail.
type EchoResponder struct{}

func (EchoResponder) Reply(_ context.Context, s *session.Session, message string) (string, error) {
	return fmt.Sprintf("Soy TARS. Has dicho: %s. Es el turno %d de esta conversación… ¿Quieres algo más? Aquí sigo", message, s.TurnCount), nil
}
