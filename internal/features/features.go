// Package features turns text chunks into stylometric vectors. A Vectorizer
// concatenates the output of its extractors; the component names it reports
// line up with vector positions and stay stable for a given extractor list.
package features

import (
	"fmt"
	"strings"

	"unmasking/internal/chunk"
)

type Extractor struct {
	Name string
	Fn   func(words []string) (values []float64, names []string)
}

type Vectorizer struct {
	extractors []Extractor
}

func New(extractors ...Extractor) *Vectorizer {
	return &Vectorizer{extractors: extractors}
}

// ByNames builds a vectorizer from extractor names such as "punctuation" or
// "function_words". An empty list selects every extractor.
func ByNames(names []string, language string) (*Vectorizer, error) {
	all := map[string]Extractor{
		"punctuation":    Punctuation(),
		"letters":        Letters(),
		"function_words": FunctionWords(language),
		"sentences":      SentenceLengths(),
		"richness":       LexicalRichness(100),
	}
	if len(names) == 0 {
		names = []string{"punctuation", "function_words", "letters", "sentences", "richness"}
	}
	out := make([]Extractor, 0, len(names))
	for _, n := range names {
		e, ok := all[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown extractor: %s", n)
		}
		out = append(out, e)
	}
	return New(out...), nil
}

func (v *Vectorizer) Names() []string {
	out := make([]string, len(v.extractors))
	for i, e := range v.extractors {
		out[i] = e.Name
	}
	return out
}

// Analyze returns the concatenated vector of seg and the component names.
func (v *Vectorizer) Analyze(seg chunk.Segment) ([]float64, []string) {
	var values []float64
	var names []string
	for _, e := range v.extractors {
		vals, ns := e.Fn(seg.Words)
		values = append(values, vals...)
		names = append(names, ns...)
	}
	return values, names
}
