package chunk

import (
	"strings"
	"unicode"
)

type Segment struct {
	Index      int
	StartToken int
	EndToken   int
	Words      []string
}

func (s Segment) Text() string {
	return strings.Join(s.Words, " ")
}

// Words splits text into word and punctuation tokens. Punctuation marks are
// kept as their own tokens so extractors can count them.
func Words(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '’' || r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			out = append(out, string(r))
		}
	}
	flush()
	return out
}

// Split cuts a token stream into consecutive chunks of size tokens. Only
// chunks starting before len-size are kept, so the trailing remainder is
// dropped. In whole mode the full stream becomes a single segment.
func Split(words []string, size int, whole bool) []Segment {
	if len(words) == 0 {
		return nil
	}
	if whole {
		return []Segment{{Index: 0, StartToken: 0, EndToken: len(words), Words: words}}
	}
	if size <= 0 {
		return nil
	}

	segments := make([]Segment, 0, len(words)/size)
	for start := 0; start < len(words)-size; start += size {
		end := start + size
		segments = append(segments, Segment{
			Index:      len(segments),
			StartToken: start,
			EndToken:   end,
			Words:      words[start:end],
		})
	}
	return segments
}
