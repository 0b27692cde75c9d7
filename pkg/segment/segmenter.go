package segment

import (
	"strings"
)

// Abbreviation stems whose trailing period does not end a sentence.
var abbreviations = []string{"Dr", "Mr", "Mrs", "Ms", "vs", "etc", "e.g", "i.e"}

// Segmenter incrementally splits streamed tokens into complete sentences so
// synthesis can start before the full response has arrived. Sentences close
// at terminal punctuation followed by whitespace or end of buffer, except
// after a known abbreviation stem.
type Segmenter struct {
	pending string
}

func New() *Segmenter {
	return &Segmenter{}
}

// Push appends one token and returns any sentences completed by it, trimmed
// and inclusive of their terminal punctuation.
func (s *Segmenter) Push(token string) []string {
	if token == "" {
		return nil
	}
	s.pending += token
	var out []string
	for {
		sentence, rest, ok := splitFirst(s.pending)
		if !ok {
			break
		}
		s.pending = rest
		if sentence != "" {
			out = append(out, sentence)
		}
	}
	return out
}

// Flush returns the trimmed remainder as a final sentence fragment and
// resets the segmenter. Returns "" when nothing is pending.
func (s *Segmenter) Flush() string {
	rest := strings.TrimSpace(s.pending)
	s.pending = ""
	return rest
}

// Pending reports whether unflushed text remains.
func (s *Segmenter) Pending() bool {
	return strings.TrimSpace(s.pending) != ""
}

func splitFirst(text string) (sentence, rest string, ok bool) {
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		// A terminator mid-word ("e.g", "3.14") is not sentence-final.
		if i+1 < len(text) && !isSpace(text[i+1]) {
			continue
		}
		if c == '.' && endsWithAbbreviation(text[:i]) {
			continue
		}
		return strings.TrimSpace(text[:i+1]), strings.TrimLeft(text[i+1:], " \t\r\n"), true
	}
	return "", text, false
}

func endsWithAbbreviation(prefix string) bool {
	for _, abbr := range abbreviations {
		if !strings.HasSuffix(prefix, abbr) {
			continue
		}
		// The stem must start a word, not be the tail of a longer one.
		boundary := len(prefix) - len(abbr) - 1
		if boundary < 0 || !isAlnum(prefix[boundary]) {
			return true
		}
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
