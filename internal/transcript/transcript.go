// Package transcript merges streaming speech recognition results into one transcript.
package transcript

import "strings"

// Result is one recognition entry of an event. Final entries are never revised by the engine.
type Result struct {
	Text  string
	Final bool
}

// Transcript accumulates confirmed text for one capture and tracks the latest provisional text.
type Transcript struct {
	final   []string
	interim string
	frozen  bool
}

func New() *Transcript { return &Transcript{} }

// Apply merges one recognition event. results is the engine's full result list and
// resultIndex the first entry that changed; entries before it were already delivered and are
// never re-read, so each final entry is appended exactly once. Interim text is replaced
// wholesale by the event's non-final entries.
func (t *Transcript) Apply(resultIndex int, results []Result) {
	if t.frozen {
		return
	}
	if resultIndex < 0 {
		resultIndex = 0
	}
	var interim strings.Builder
	for i := resultIndex; i < len(results); i++ {
		r := results[i]
		if r.Final {
			t.final = append(t.final, r.Text)
			continue
		}
		interim.WriteString(r.Text)
	}
	t.interim = interim.String()
}

// AppendFinal records confirmed text that did not come with an index.
func (t *Transcript) AppendFinal(text string) {
	if t.frozen || text == "" {
		return
	}
	t.final = append(t.final, text)
}

// SetInterim replaces the provisional text.
func (t *Transcript) SetInterim(text string) {
	if t.frozen {
		return
	}
	t.interim = text
}

// FinalText joins confirmed fragments, each followed by a single space.
func (t *Transcript) FinalText() string {
	var b strings.Builder
	for _, f := range t.final {
		b.WriteString(f)
		b.WriteByte(' ')
	}
	return b.String()
}

func (t *Transcript) Interim() string { return t.interim }

// Display renders confirmed text plus the provisional text in parentheses.
func (t *Transcript) Display() string {
	out := t.FinalText()
	if t.interim != "" {
		out += " (" + t.interim + ")"
	}
	return strings.TrimSpace(out)
}

// Freeze discards interim text, stops further merges and returns the trimmed final text.
func (t *Transcript) Freeze() string {
	t.interim = ""
	t.frozen = true
	return strings.TrimSpace(t.FinalText())
}

func (t *Transcript) Frozen() bool { return t.frozen }
