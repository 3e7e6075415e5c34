// Package segment extracts complete sentences from incrementally arriving text.
package segment

import (
	"regexp"
	"strings"
)

// sentencePattern matches the shortest leading run of non-terminators followed by one or more
// terminators and optional whitespace. Stray terminators at the front of the buffer are folded
// into the following sentence so they can never block extraction.
var sentencePattern = regexp.MustCompile(`^[.!?…]*[^.!?…]+[.!?…]+\s*`)

// Extract appends fragment to carry and pulls every complete sentence off the front.
// Sentences are trimmed; whatever follows the last terminator is returned as the new carry.
func Extract(carry, fragment string) (sentences []string, remainder string) {
	buf := carry + fragment
	for {
		loc := sentencePattern.FindStringIndex(buf)
		if loc == nil {
			break
		}
		if s := strings.TrimSpace(buf[:loc[1]]); s != "" {
			sentences = append(sentences, s)
		}
		buf = buf[loc[1]:]
	}
	return sentences, buf
}

// Flush returns the trimmed carry as a final pseudo-sentence. ok is false when nothing but
// whitespace is left.
func Flush(carry string) (sentence string, ok bool) {
	sentence = strings.TrimSpace(carry)
	return sentence, sentence != ""
}

// Segmenter keeps the carry buffer for one streaming response.
type Segmenter struct {
	carry string
}

func New() *Segmenter { return &Segmenter{} }

// Push feeds a fragment and returns the sentences it completed, in order.
func (s *Segmenter) Push(fragment string) []string {
	var out []string
	out, s.carry = Extract(s.carry, fragment)
	return out
}

// Flush drains the carry at end of stream.
func (s *Segmenter) Flush() (string, bool) {
	sentence, ok := Flush(s.carry)
	s.carry = ""
	return sentence, ok
}

func (s *Segmenter) Reset() { s.carry = "" }

func (s *Segmenter) Carry() string { return s.carry }
