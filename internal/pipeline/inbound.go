package pipeline

import (
	"context"

	"github.com/ent0n29/tars/internal/protocol"
)

// Feeder accepts viewer capture messages, reporting whether msg was one.
type Feeder interface {
	Feed(ctx context.Context, msg any) bool
}

// ServeInbound routes messages from remote viewers until in closes or ctx is done. Capture
// messages go to feeder, which may be nil when recognition runs locally.
func (p *Pipeline) ServeInbound(ctx context.Context, in <-chan any, feeder Feeder) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			if feeder != nil && feeder.Feed(ctx, msg) {
				continue
			}
			ctrl, ok := msg.(protocol.ClientControl)
			if !ok {
				p.log.Debug().Interface("msg", msg).Msg("inbound message ignored")
				continue
			}
			if err := p.Control(ctx, Control(ctrl.Action)); err != nil {
				return err
			}
		}
	}
}
