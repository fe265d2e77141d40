package features

import (
	"strings"
	"unicode"

	"gonum.org/v1/gonum/stat"
)

var punctuationMarks = []string{",", ";", ":", ".", "!", "?", "…", "«", "»", "—", "(", ")", "\""}

var sentenceEnders = map[string]struct{}{".": {}, "!": {}, "?": {}, "…": {}}

var functionWords = map[string][]string{
	"fr": {
		"de", "la", "le", "et", "les", "des", "il", "un", "une", "que", "à", "qui", "dans", "en", "ne",
		"pas", "se", "elle", "du", "au", "pour", "sur", "son", "sa", "avec", "mais", "comme", "plus",
		"par", "on", "tout", "je", "vous", "nous", "ses", "était", "lui", "leur", "y", "si",
	},
	"en": {
		"the", "and", "of", "to", "a", "in", "that", "he", "was", "it", "his", "her", "i", "with", "as",
		"had", "for", "she", "not", "at", "but", "on", "you", "be", "him", "my", "by", "all", "have",
		"so", "which", "from", "they", "were", "this", "an", "or", "would", "when", "what",
	},
}

// Punctuation reports each mark's share of the chunk's tokens.
func Punctuation() Extractor {
	return Extractor{
		Name: "punctuation",
		Fn: func(words []string) ([]float64, []string) {
			counts := map[string]float64{}
			for _, w := range words {
				counts[w]++
			}
			values := make([]float64, len(punctuationMarks))
			names := make([]string, len(punctuationMarks))
			for i, p := range punctuationMarks {
				values[i] = ratio(counts[p], len(words))
				names[i] = "punct " + p
			}
			return values, names
		},
	}
}

// Letters reports the relative frequency of a–z among all letters.
func Letters() Extractor {
	return Extractor{
		Name: "letters",
		Fn: func(words []string) ([]float64, []string) {
			var counts [26]float64
			total := 0
			for _, w := range words {
				for _, r := range strings.ToLower(w) {
					if !unicode.IsLetter(r) {
						continue
					}
					total++
					if r >= 'a' && r <= 'z' {
						counts[r-'a']++
					}
				}
			}
			values := make([]float64, 26)
			names := make([]string, 26)
			for i := range counts {
				values[i] = ratio(counts[i], total)
				names[i] = "letter " + string(rune('a'+i))
			}
			return values, names
		},
	}
}

// FunctionWords reports the frequency of the language's most common
// function words among the chunk's word tokens.
func FunctionWords(language string) Extractor {
	list, ok := functionWords[strings.ToLower(language)]
	if !ok {
		list = functionWords["fr"]
	}
	return Extractor{
		Name: "function_words",
		Fn: func(words []string) ([]float64, []string) {
			counts := map[string]float64{}
			total := 0
			for _, w := range words {
				if !isWord(w) {
					continue
				}
				total++
				counts[strings.ToLower(w)]++
			}
			values := make([]float64, len(list))
			names := make([]string, len(list))
			for i, fw := range list {
				values[i] = ratio(counts[fw], total)
				names[i] = "word " + fw
			}
			return values, names
		},
	}
}

// SentenceLengths reports the mean and standard deviation of sentence length
// in words.
func SentenceLengths() Extractor {
	return Extractor{
		Name: "sentences",
		Fn: func(words []string) ([]float64, []string) {
			var lengths []float64
			current := 0
			for _, w := range words {
				if _, end := sentenceEnders[w]; end {
					if current > 0 {
						lengths = append(lengths, float64(current))
					}
					current = 0
					continue
				}
				if isWord(w) {
					current++
				}
			}
			if current > 0 {
				lengths = append(lengths, float64(current))
			}
			names := []string{"sentence length mean", "sentence length sd"}
			if len(lengths) == 0 {
				return []float64{0, 0}, names
			}
			mean, sd := stat.PopMeanStdDev(lengths, nil)
			return []float64{mean, sd}, names
		},
	}
}

// LexicalRichness reports the moving-average type/token ratio over windows
// of n word tokens, and the mean word length.
func LexicalRichness(n int) Extractor {
	return Extractor{
		Name: "richness",
		Fn: func(words []string) ([]float64, []string) {
			tokens := make([]string, 0, len(words))
			letters := 0
			for _, w := range words {
				if isWord(w) {
					tokens = append(tokens, strings.ToLower(w))
					letters += len([]rune(w))
				}
			}
			return []float64{mattr(tokens, n), ratio(float64(letters), len(tokens))},
				[]string{"mattr", "word length mean"}
		},
	}
}

func mattr(words []string, n int) float64 {
	if len(words) == 0 {
		return 0
	}
	if n <= 1 || len(words) <= n {
		seen := map[string]struct{}{}
		for _, w := range words {
			seen[w] = struct{}{}
		}
		return float64(len(seen)) / float64(len(words))
	}
	sum := 0.0
	count := 0
	for i := 0; i+n <= len(words); i += n / 2 {
		seen := map[string]struct{}{}
		for _, w := range words[i : i+n] {
			seen[w] = struct{}{}
		}
		sum += float64(len(seen)) / float64(n)
		count++
	}
	return sum / float64(count)
}

func isWord(w string) bool {
	for _, r := range w {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func ratio(count float64, total int) float64 {
	if total == 0 {
		return 0
	}
	return count / float64(total)
}
