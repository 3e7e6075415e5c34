package speech

import "strings"

// Voice is one synthesizer voice as reported by the platform.
type Voice struct {
	Name string
	Lang string
}

// SelectVoice picks the first voice whose language starts with langPrefix, falling back to the
// first voice. ok is false when there are no voices at all.
func SelectVoice(voices []Voice, langPrefix string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	prefix := strings.ToLower(strings.TrimSpace(langPrefix))
	if prefix != "" {
		for _, v := range voices {
			if strings.HasPrefix(strings.ToLower(v.Lang), prefix) {
				return v, true
			}
		}
	}
	return voices[0], true
}

// LangPrefix reduces a BCP 47 tag such as "es-ES" to its primary subtag.
func LangPrefix(lang string) string {
	lang = strings.TrimSpace(lang)
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}
