// Package ingest turns a work file into the token stream the segmenter cuts.
package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"unmasking/internal/chunk"
)

// Document is one work file reduced to cleaned prose and its tokens.
type Document struct {
	Title      string
	SourcePath string
	Format     string
	Text       string
	Words      []string
}

// WordCount counts word tokens, leaving punctuation out.
func (d *Document) WordCount() int {
	n := 0
	for _, w := range d.Words {
		if strings.IndexFunc(w, isWordRune) >= 0 {
			n++
		}
	}
	return n
}

func ParseFile(path string) (*Document, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	var (
		text string
		err  error
	)
	switch format {
	case "txt", "text", "md":
		text, err = readPlain(path)
	case "docx":
		text, err = readDOCX(path)
	case "pdf":
		text, err = readPDF(path)
	default:
		return nil, fmt.Errorf("unsupported file type: .%s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	text = clean(text)
	words := chunk.Words(text)
	if len(words) == 0 {
		return nil, fmt.Errorf("%s contains no text", filepath.Base(path))
	}
	return &Document{
		Title:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		SourcePath: path,
		Format:     format,
		Text:       text,
		Words:      words,
	}, nil
}

func readPlain(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))
	if !utf8.Valid(raw) {
		return "", errors.New("not valid utf-8")
	}
	return string(raw), nil
}

// readDOCX collects the runs of word/document.xml, one line per paragraph.
// Deleted revisions live in w:delText and are skipped.
func readDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()
	return docxText(&zr.Reader)
}

func docxText(zr *zip.Reader) (string, error) {
	rc, err := zr.Open("word/document.xml")
	if err != nil {
		return "", fmt.Errorf("word/document.xml: %w", err)
	}
	defer rc.Close()

	var (
		b         strings.Builder
		paragraph strings.Builder
		inRun     bool
	)
	endParagraph := func() {
		if line := strings.TrimSpace(paragraph.String()); line != "" {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		paragraph.Reset()
	}

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inRun = true
			case "tab":
				paragraph.WriteByte(' ')
			case "br", "cr":
				paragraph.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inRun = false
			case "p":
				endParagraph()
			}
		case xml.CharData:
			if inRun {
				paragraph.Write(t)
			}
		}
	}
	endParagraph()
	return b.String(), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", errors.New("no extractable text found in pdf")
	}
	return string(raw), nil
}

var (
	// Project Gutenberg wraps every e-text in a licence header and footer.
	gutenbergStart = regexp.MustCompile(`(?m)^\*\*\* ?START OF (THE|THIS) PROJECT GUTENBERG.*$`)
	gutenbergEnd   = regexp.MustCompile(`(?m)^\*\*\* ?END OF (THE|THIS) PROJECT GUTENBERG.*$`)
	// "exam-\nple" as left by typesetting line breaks.
	brokenWord = regexp.MustCompile(`(\p{L})-\n[ \t]*(\p{Ll})`)
)

// clean strips distribution boilerplate, rejoins words hyphenated across
// lines and collapses blank space, keeping one line per paragraph.
func clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if loc := gutenbergStart.FindStringIndex(text); loc != nil {
		text = text[loc[1]:]
	}
	if loc := gutenbergEnd.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	text = brokenWord.ReplaceAllString(text, "$1$2")

	var out []string
	for _, line := range strings.Split(text, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, strings.Join(fields, " "))
		}
	}
	return strings.Join(out, "\n")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
