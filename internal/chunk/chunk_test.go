package chunk

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitDropsRemainder(t *testing.T) {
	words := make([]string, 5000)
	for i := range words {
		words[i] = "word"
	}

	segments := Split(words, 1500, false)
	if len(segments) != 3 {
		t.Fatalf("expected 3 full segments, got %d", len(segments))
	}
	for i, s := range segments {
		if s.Index != i || s.StartToken != i*1500 || s.EndToken != (i+1)*1500 || len(s.Words) != 1500 {
			t.Fatalf("invalid segment bounds: %+v", s)
		}
	}
}

func TestSplitExactMultiple(t *testing.T) {
	words := strings.Fields("a b c d e f")
	segments := Split(words, 3, false)
	// The range stops before len-size, so an exact multiple loses its last chunk.
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if segments[0].Text() != "a b c" {
		t.Fatalf("unexpected text %q", segments[0].Text())
	}
}

func TestSplitShortWork(t *testing.T) {
	if got := Split(strings.Fields("a b"), 5, false); len(got) != 0 {
		t.Fatalf("expected no segments, got %d", len(got))
	}
}

func TestSplitWhole(t *testing.T) {
	words := strings.Fields("one two three")
	segments := Split(words, 500, true)
	if len(segments) != 1 || segments[0].EndToken != 3 {
		t.Fatalf("expected one whole segment, got %+v", segments)
	}
}

func TestWordsKeepsPunctuation(t *testing.T) {
	got := Words("Il pleuvait; l'homme entra — vite!")
	want := []string{"Il", "pleuvait", ";", "l'homme", "entra", "—", "vite", "!"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected tokens:\n got %q\nwant %q", got, want)
	}
}
