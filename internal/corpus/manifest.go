package corpus

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"unmasking/internal/unit"
)

// Manifest describes a study: where the works live, how they are cut and
// vectorized, and which works play which part.
type Manifest struct {
	Language    string        `yaml:"language" validate:"omitempty,oneof=fr en"`
	ChunkSize   int           `yaml:"chunk_size" validate:"required_unless=WholeText true,gte=0"`
	WholeText   bool          `yaml:"whole_text"`
	Extractors  []string      `yaml:"extractors"`
	Metadata    string        `yaml:"metadata"`
	Root        string        `yaml:"root"`
	Works       []WorkFile    `yaml:"works" validate:"dive"`
	Base        []unit.WorkID `yaml:"base" validate:"required,min=1,dive"`
	Calibration []unit.WorkID `yaml:"calibration" validate:"required,min=1,dive"`
	Disputed    []unit.WorkID `yaml:"disputed" validate:"dive"`

	dir string
}

type WorkFile struct {
	unit.WorkID `yaml:",inline"`
	Path        string `yaml:"path" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Language == "" {
		m.Language = "fr"
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	m.dir = filepath.Dir(path)
	return &m, nil
}

// Path resolves the file of a work. Works not listed explicitly are looked
// up as <root>/<author><number>.txt.
func (m *Manifest) Path(id unit.WorkID) string {
	for _, w := range m.Works {
		if w.WorkID == id {
			return m.resolve(w.Path)
		}
	}
	return m.resolve(filepath.Join(m.Root, id.String()+".txt"))
}

// MetadataPath is empty when the manifest names no metadata file.
func (m *Manifest) MetadataPath() string {
	if m.Metadata == "" {
		return ""
	}
	return m.resolve(m.Metadata)
}

// All lists every work the study touches, without duplicates.
func (m *Manifest) All() []unit.WorkID {
	seen := map[unit.WorkID]struct{}{}
	var out []unit.WorkID
	for _, set := range [][]unit.WorkID{m.Base, m.Calibration, m.Disputed} {
		for _, w := range set {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}
