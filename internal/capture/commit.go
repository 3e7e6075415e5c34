package capture

import (
	"context"
	"strings"

	"github.com/ent0n29/tars/internal/transcript"
)

// CommitEvent is the event shape of recognizers that stream partial hypotheses and committed
// segments without result indices.
type CommitEvent struct {
	Committed bool
	Text      string
	Code      string
}

// FromCommitStream converts a partial/committed stream into indexed result events. Committed
// text is reduced to its unseen suffix, so engines that re-send the whole utterance or repeat
// the last segment do not duplicate words. A closed input ends the capture.
func FromCommitStream(ctx context.Context, in <-chan CommitEvent) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		var merger transcript.PrefixMerger
		var finals []transcript.Result
		emit := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			var ce CommitEvent
			var ok bool
			select {
			case <-ctx.Done():
				return
			case ce, ok = <-in:
			}
			if !ok {
				emit(Event{Type: EventEnd})
				return
			}
			switch {
			case ce.Code != "":
				emit(Event{Type: EventError, Code: ce.Code})
				return
			case ce.Committed:
				novel := merger.Novel(ce.Text)
				if novel == "" {
					continue
				}
				finals = append(finals, transcript.Result{Text: novel, Final: true})
				results := append([]transcript.Result(nil), finals...)
				if !emit(Event{Type: EventResult, ResultIndex: len(results) - 1, Results: results}) {
					return
				}
			default:
				text := strings.TrimSpace(ce.Text)
				results := append(append([]transcript.Result(nil), finals...), transcript.Result{Text: text})
				if !emit(Event{Type: EventResult, ResultIndex: len(finals), Results: results}) {
					return
				}
			}
		}
	}()
	return out
}

// CommitEngine adapts a partial/committed recognizer to Engine.
type CommitEngine struct {
	StartFunc func(ctx context.Context) (<-chan CommitEvent, error)
	StopFunc  func() error
}

func (c CommitEngine) Start(ctx context.Context) (<-chan Event, error) {
	in, err := c.StartFunc(ctx)
	if err != nil {
		return nil, err
	}
	return FromCommitStream(ctx, in), nil
}

func (c CommitEngine) Stop() error {
	if c.StopFunc == nil {
		return nil
	}
	return c.StopFunc()
}
