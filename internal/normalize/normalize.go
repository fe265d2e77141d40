package normalize

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"unmasking/internal/unit"
)

type Method string

const (
	MethodNone   Method = "none"
	MethodZScore Method = "zscore"
	MethodMinMax Method = "minmax"
)

// ZeroRange selects how MinMax treats a column whose minimum equals its maximum.
type ZeroRange string

const (
	ZeroRangePropagate ZeroRange = "propagate"
	ZeroRangeZero      ZeroRange = "zero"
	ZeroRangeError     ZeroRange = "error"
)

var ErrZeroRange = errors.New("zero-range column")

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodNone, MethodZScore, MethodMinMax:
		return m, nil
	case "":
		return MethodZScore, nil
	default:
		return "", fmt.Errorf("unknown normalization method: %s", s)
	}
}

func ParseZeroRange(s string) (ZeroRange, error) {
	switch z := ZeroRange(strings.ToLower(strings.TrimSpace(s))); z {
	case ZeroRangePropagate, ZeroRangeZero, ZeroRangeError:
		return z, nil
	case "":
		return ZeroRangePropagate, nil
	default:
		return "", fmt.Errorf("unknown zero-range policy: %s", s)
	}
}

// ZScore centres and scales each column by its population mean and standard
// deviation. Constant columns and any non-finite result become 0.
func ZScore(m [][]float64) ([][]float64, error) {
	d, err := dense(m)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return emptyLike(m), nil
	}
	rows, cols := d.Dims()
	out := alloc(rows, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, d)
		mean, variance := stat.PopMeanVariance(col, nil)
		for i := 0; i < rows; i++ {
			if variance == 0 {
				continue
			}
			v := (col[i] - mean) / math.Sqrt(variance)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			out[i][j] = v
		}
	}
	return out, nil
}

// MinMax maps each column's empirical [min, max] onto [0, 1].
func MinMax(m [][]float64, policy ZeroRange) ([][]float64, error) {
	d, err := dense(m)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return emptyLike(m), nil
	}
	rows, cols := d.Dims()
	out := alloc(rows, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, d)
		lo, hi := floats.Min(col), floats.Max(col)
		if lo == hi {
			switch policy {
			case ZeroRangeZero:
				continue
			case ZeroRangeError:
				return nil, fmt.Errorf("minmax column %d: %w", j, ErrZeroRange)
			}
		}
		for i := 0; i < rows; i++ {
			out[i][j] = (col[i] - lo) / (hi - lo)
		}
	}
	return out, nil
}

// Apply normalizes the unit vectors jointly and writes the result back into
// the given units. Callers pass task-local clones.
func Apply(method Method, policy ZeroRange, units []unit.TextUnit) error {
	if method == MethodNone || len(units) == 0 {
		return nil
	}
	var (
		out [][]float64
		err error
	)
	switch method {
	case MethodZScore:
		out, err = ZScore(unit.Matrix(units))
	case MethodMinMax:
		out, err = MinMax(unit.Matrix(units), policy)
	default:
		return fmt.Errorf("unknown normalization method: %s", method)
	}
	if err != nil {
		return err
	}
	for i := range units {
		units[i].Vector = out[i]
	}
	return nil
}

func dense(m [][]float64) (*mat.Dense, error) {
	if len(m) == 0 || len(m[0]) == 0 {
		return nil, nil
	}
	cols := len(m[0])
	data := make([]float64, 0, len(m)*cols)
	for i, row := range m {
		if len(row) != cols {
			return nil, &unit.ShapeMismatchError{What: fmt.Sprintf("matrix row %d", i), Want: cols, Got: len(row)}
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(m), cols, data), nil
}

func alloc(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	return out
}

func emptyLike(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range out {
		out[i] = []float64{}
	}
	return out
}
