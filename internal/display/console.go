package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	aiStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Console renders the conversation as a terminal transcript. Text that only grows is written
// incrementally on the open line so streamed replies appear as they arrive.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	open    *consoleBubble
	printed string
	typing  bool
}

type consoleBubble struct {
	c    *Console
	role Role
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) AppendMessage(role Role, text string) Bubble {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := &consoleBubble{c: c, role: role}
	c.startLine(b, text)
	return b
}

func (b *consoleBubble) SetText(text string) {
	c := b.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == b && strings.HasPrefix(text, c.printed) {
		fmt.Fprint(c.out, text[len(c.printed):])
		c.printed = text
		return
	}
	c.startLine(b, text)
}

func (c *Console) startLine(b *consoleBubble, text string) {
	c.closeLine()
	label := userStyle.Render("you")
	if b.role == RoleAssistant {
		label = aiStyle.Render("tars")
	}
	fmt.Fprintf(c.out, "%s: %s", label, text)
	c.open = b
	c.printed = text
}

func (c *Console) closeLine() {
	if c.open != nil {
		fmt.Fprintln(c.out)
		c.open = nil
		c.printed = ""
	}
}

func (c *Console) SetStatus(text string) {
	c.line(statusStyle, text)
}

func (c *Console) SetMeta(text string) {
	c.line(statusStyle, text)
}

func (c *Console) SetTyping(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing = visible
}

func (c *Console) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

func (c *Console) SetSessionID(id string) {
	if id == "" {
		c.line(statusStyle, "session: (none)")
		return
	}
	c.line(statusStyle, "session: "+id)
}

func (c *Console) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLine()
	fmt.Fprintln(c.out, statusStyle.Render("-- history cleared --"))
}

// Error prints a highlighted line outside any bubble.
func (c *Console) Error(text string) {
	c.line(errorStyle, text)
}

func (c *Console) line(style lipgloss.Style, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLine()
	fmt.Fprintln(c.out, style.Render("· "+text))
}
