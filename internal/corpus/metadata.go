package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"unmasking/internal/unit"
)

// Info is the catalogue entry of a work.
type Info struct {
	FullName string `json:"full_name"`
	Title    string `json:"title"`
	Year     string `json:"year"`
	Genre    string `json:"genre"`
}

// Metadata is a read-only catalogue keyed by work.
type Metadata struct {
	entries map[unit.WorkID]Info
}

// LoadMetadata reads a semicolon separated catalogue with the columns
// author;number;full name;title;year;genre. Rows with a non-numeric number
// (such as a header) are skipped.
func LoadMetadata(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer f.Close()
	return ReadMetadata(f)
}

func ReadMetadata(r io.Reader) (*Metadata, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	m := &Metadata{entries: map[unit.WorkID]Info{}}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read metadata: %w", err)
		}
		if len(row) < 2 {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			continue
		}
		id := unit.WorkID{Author: strings.TrimSpace(row[0]), Number: num}
		m.entries[id] = Info{
			FullName: field(row, 2),
			Title:    field(row, 3),
			Year:     field(row, 4),
			Genre:    field(row, 5),
		}
	}
	return m, nil
}

func (m *Metadata) Lookup(id unit.WorkID) (Info, bool) {
	if m == nil {
		return Info{}, false
	}
	info, ok := m.entries[id]
	return info, ok
}

// Describe renders a work for humans, falling back to its id.
func (m *Metadata) Describe(id unit.WorkID) string {
	info, ok := m.Lookup(id)
	if !ok || info.Title == "" {
		return id.String()
	}
	name := info.FullName
	if name == "" {
		name = id.Author
	}
	if info.Year != "" {
		return fmt.Sprintf("%s, %s (%s)", name, info.Title, info.Year)
	}
	return fmt.Sprintf("%s, %s", name, info.Title)
}

func field(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
