package unit

import (
	"fmt"
	"sort"
	"strconv"
)

type Role int

const (
	RoleNone Role = iota
	RoleTraining
	RoleEval
)

func (r Role) String() string {
	switch r {
	case RoleTraining:
		return "training"
	case RoleEval:
		return "eval"
	default:
		return "none"
	}
}

// WorkID identifies one work of one author, e.g. {"zola", 3}.
type WorkID struct {
	Author string `yaml:"author" json:"author" validate:"required"`
	Number int    `yaml:"number" json:"number" validate:"gte=0"`
}

func (w WorkID) String() string {
	return w.Author + strconv.Itoa(w.Number)
}

// TextUnit is one vectorized chunk of a work.
type TextUnit struct {
	Work   WorkID
	Chunk  int
	Role   Role
	Vector []float64
}

func (u TextUnit) Author() string {
	return u.Work.Author
}

// ClassKey is the label a classifier separates: the author tagged with the
// side of the comparison the unit came from.
func (u TextUnit) ClassKey() string {
	if u.Role == RoleNone {
		return u.Work.Author
	}
	return u.Work.Author + "/" + u.Role.String()
}

func (u TextUnit) Clone() TextUnit {
	out := u
	out.Vector = append([]float64(nil), u.Vector...)
	return out
}

func CloneAll(units []TextUnit) []TextUnit {
	out := make([]TextUnit, len(units))
	for i, u := range units {
		out[i] = u.Clone()
	}
	return out
}

func WithRole(units []TextUnit, role Role) []TextUnit {
	for i := range units {
		units[i].Role = role
	}
	return units
}

// ShapeMismatchError reports vectors or curves that cannot be combined
// because their lengths differ.
type ShapeMismatchError struct {
	What string
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s shape mismatch: want %d, got %d", e.What, e.Want, e.Got)
}

// Dimensions returns the vector length shared by every unit.
func Dimensions(units []TextUnit) (int, error) {
	if len(units) == 0 {
		return 0, nil
	}
	dims := len(units[0].Vector)
	for _, u := range units[1:] {
		if len(u.Vector) != dims {
			return 0, &ShapeMismatchError{What: "vector " + u.Work.String(), Want: dims, Got: len(u.Vector)}
		}
	}
	return dims, nil
}

// Matrix copies the unit vectors into rows.
func Matrix(units []TextUnit) [][]float64 {
	out := make([][]float64, len(units))
	for i, u := range units {
		out[i] = append([]float64(nil), u.Vector...)
	}
	return out
}

// ByAuthor partitions units by author. The returned author list is sorted so
// that callers drawing random numbers per partition stay reproducible.
func ByAuthor(units []TextUnit) (map[string][]TextUnit, []string) {
	parts := map[string][]TextUnit{}
	for _, u := range units {
		parts[u.Author()] = append(parts[u.Author()], u)
	}
	authors := make([]string, 0, len(parts))
	for a := range parts {
		authors = append(authors, a)
	}
	sort.Strings(authors)
	return parts, authors
}
