package transcript

import (
	"strings"
	"unicode"
)

// PrefixMerger removes already-confirmed text from committed results of engines that do not
// provide stable result indices. Some engines re-send the whole utterance on every commit,
// others repeat the last committed segment; both are reduced to their novel suffix.
type PrefixMerger struct {
	committed []string
}

// Novel returns the part of text that has not been confirmed yet and records it.
func (m *PrefixMerger) Novel(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	incoming := canonicalWords(words)

	var novel []string
	switch {
	case len(m.committed) > 0 && sharedWordPrefixCount(m.committed, incoming) == len(m.committed):
		novel = words[len(m.committed):]
	case hasWordSuffix(m.committed, incoming):
		novel = nil
	default:
		novel = words
	}
	if len(novel) == 0 {
		return ""
	}
	m.committed = append(m.committed, canonicalWords(novel)...)
	return strings.Join(novel, " ")
}

func (m *PrefixMerger) Reset() { m.committed = nil }

func canonicalWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, canonicalWord(w))
	}
	return out
}

// canonicalWord lowercases and drops punctuation so engine re-punctuation does not defeat matching.
func canonicalWord(w string) string {
	var b strings.Builder
	b.Grow(len(w))
	for _, r := range strings.ToLower(w) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sharedWordPrefixCount(a, b []string) int {
	limit := len(a)
	if len(b) < limit {
		limit = len(b)
	}
	count := 0
	for i := 0; i < limit; i++ {
		if a[i] != b[i] {
			break
		}
		count++
	}
	return count
}

func hasWordSuffix(all, suffix []string) bool {
	if len(suffix) == 0 || len(suffix) > len(all) {
		return false
	}
	offset := len(all) - len(suffix)
	for i := range suffix {
		if all[offset+i] != suffix[i] {
			return false
		}
	}
	return true
}
