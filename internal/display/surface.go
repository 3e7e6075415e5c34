// Package display defines the rendering surface the pipeline writes to and its implementations.
package display

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "ai"
)

// Bubble is one message on the surface. SetText always carries the full text, never a diff.
type Bubble interface {
	SetText(text string)
}

// Surface is the conversation view: message bubbles plus status line, meta line, typing
// indicator and the current session id.
type Surface interface {
	AppendMessage(role Role, text string) Bubble
	SetStatus(text string)
	SetMeta(text string)
	SetTyping(visible bool)
	SetSessionID(id string)
	Clear()
}

// Multi fans every call out to all surfaces in order.
func Multi(surfaces ...Surface) Surface {
	out := make(multiSurface, 0, len(surfaces))
	for _, s := range surfaces {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multiSurface []Surface

type multiBubble []Bubble

func (m multiSurface) AppendMessage(role Role, text string) Bubble {
	bubbles := make(multiBubble, 0, len(m))
	for _, s := range m {
		bubbles = append(bubbles, s.AppendMessage(role, text))
	}
	return bubbles
}

func (m multiSurface) SetStatus(text string) {
	for _, s := range m {
		s.SetStatus(text)
	}
}

func (m multiSurface) SetMeta(text string) {
	for _, s := range m {
		s.SetMeta(text)
	}
}

func (m multiSurface) SetTyping(visible bool) {
	for _, s := range m {
		s.SetTyping(visible)
	}
}

func (m multiSurface) SetSessionID(id string) {
	for _, s := range m {
		s.SetSessionID(id)
	}
}

func (m multiSurface) Clear() {
	for _, s := range m {
		s.Clear()
	}
}

func (b multiBubble) SetText(text string) {
	for _, bb := range b {
		bb.SetText(text)
	}
}
