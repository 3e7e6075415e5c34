// Package capture runs push-to-talk speech capture sessions on top of a recognition engine.
package capture

import (
	"context"
	"errors"

	"github.com/ent0n29/tars/internal/transcript"
)

type EventType string

const (
	EventResult EventType = "result"
	EventError  EventType = "error"
	EventEnd    EventType = "end"
)

// Event is one notification from a recognition engine. For EventResult, Results is the
// engine's full result list for the capture and ResultIndex the first entry that changed.
type Event struct {
	Type        EventType
	ResultIndex int
	Results     []transcript.Result
	Code        string

	seq uint64
}

// Engine is a streaming speech recognizer. Start begins listening and returns the event
// channel for this capture; Stop requests a stop that the engine confirms with EventEnd.
// An engine may close the channel instead of sending EventEnd.
type Engine interface {
	Start(ctx context.Context) (<-chan Event, error)
	Stop() error
}

// Aborter is implemented by engines that must forget a capture the session gave up on, for
// example one whose stop was never confirmed.
type Aborter interface {
	Abort()
}

var (
	ErrBusy        = errors.New("capture already in progress")
	ErrUnsupported = errors.New("speech capture unsupported")
	ErrNoViewer    = errors.New("no viewer connected")
)
