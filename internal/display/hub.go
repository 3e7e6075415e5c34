package display

import (
	"context"
	"sync"

	"github.com/ent0n29/tars/internal/protocol"
)

// Hub is a Surface that republishes every change as protocol messages to remote viewers and
// collects the messages those viewers send back.
type Hub struct {
	mu      sync.Mutex
	subs    map[chan any]struct{}
	nextID  int
	buffer  int
	dropped int
	inbound chan any
}

type hubBubble struct {
	h  *Hub
	id int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		subs:    make(map[chan any]struct{}),
		buffer:  buffer,
		inbound: make(chan any, buffer),
	}
}

// Subscribe registers a viewer. The returned cancel func must be called when it goes away.
func (h *Hub) Subscribe() (<-chan any, func()) {
	ch := make(chan any, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish fans msg out without blocking; viewers that fall behind lose messages.
func (h *Hub) Publish(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.dropped++
		}
	}
}

// Subscribers reports how many viewers are connected.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped reports how many messages slow viewers missed.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Deliver queues a parsed client message for the pipeline.
func (h *Hub) Deliver(ctx context.Context, msg any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case h.inbound <- msg:
		return nil
	}
}

// Inbound carries client messages in arrival order.
func (h *Hub) Inbound() <-chan any { return h.inbound }

func (h *Hub) AppendMessage(role Role, text string) Bubble {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.mu.Unlock()
	h.Publish(protocol.DisplayMessage{
		Type:      protocol.TypeDisplayMessage,
		MessageID: id,
		Role:      string(role),
		Text:      text,
	})
	return &hubBubble{h: h, id: id}
}

func (b *hubBubble) SetText(text string) {
	b.h.Publish(protocol.DisplayText{Type: protocol.TypeDisplayText, MessageID: b.id, Text: text})
}

func (h *Hub) SetStatus(text string) {
	h.Publish(protocol.DisplayStatus{Type: protocol.TypeDisplayStatus, Text: text})
}

func (h *Hub) SetMeta(text string) {
	h.Publish(protocol.DisplayMeta{Type: protocol.TypeDisplayMeta, Text: text})
}

func (h *Hub) SetTyping(visible bool) {
	h.Publish(protocol.DisplayTyping{Type: protocol.TypeDisplayTyping, Visible: visible})
}

func (h *Hub) SetSessionID(id string) {
	h.Publish(protocol.DisplaySession{Type: protocol.TypeDisplaySession, SessionID: id})
}

func (h *Hub) Clear() {
	h.Publish(protocol.DisplayClear{Type: protocol.TypeDisplayClear})
}
