package curve

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"unmasking/internal/unit"
)

// ErrZeroBaseline is returned when a curve cannot be rescaled because its
// first precision is zero.
var ErrZeroBaseline = errors.New("curve baseline precision is zero")

// Point is the mean precision measured after removing Removed dimensions.
type Point struct {
	Removed   int     `json:"removed"`
	Precision float64 `json:"precision"`
}

// Curve is a precision degradation curve ordered by Removed.
type Curve struct {
	Points []Point `json:"points"`
}

func (c Curve) Len() int {
	return len(c.Points)
}

func (c Curve) Values() []float64 {
	out := make([]float64, len(c.Points))
	for i, p := range c.Points {
		out[i] = p.Precision
	}
	return out
}

func (c Curve) Schedule() []int {
	out := make([]int, len(c.Points))
	for i, p := range c.Points {
		out[i] = p.Removed
	}
	return out
}

func (c Curve) clone() Curve {
	return Curve{Points: append([]Point(nil), c.Points...)}
}

// Rescale divides every precision by the first one, keeping only the shape.
func Rescale(c Curve) (Curve, error) {
	if len(c.Points) == 0 {
		return Curve{}, nil
	}
	base := c.Points[0].Precision
	if base == 0 {
		return Curve{}, ErrZeroBaseline
	}
	out := c.clone()
	for i := range out.Points {
		out.Points[i].Precision /= base
	}
	return out, nil
}

// Smooth applies k passes of pairwise averaging. Each pass replaces point i
// with the mean of points i and i+1, so the curve loses its last point.
func Smooth(c Curve, k int) Curve {
	out := c.clone()
	for ; k > 0 && len(out.Points) > 1; k-- {
		next := make([]Point, len(out.Points)-1)
		for i := range next {
			next[i] = Point{
				Removed:   out.Points[i].Removed,
				Precision: (out.Points[i].Precision + out.Points[i+1].Precision) / 2,
			}
		}
		out.Points = next
	}
	return out
}

// Mean averages curves sharing one schedule. Curves are summed in slice order.
func Mean(curves []Curve) (Curve, error) {
	if len(curves) == 0 {
		return Curve{}, fmt.Errorf("mean of zero curves")
	}
	sum := curves[0].clone()
	for _, c := range curves[1:] {
		if err := sameSchedule(sum, c); err != nil {
			return Curve{}, err
		}
		for i := range sum.Points {
			sum.Points[i].Precision += c.Points[i].Precision
		}
	}
	for i := range sum.Points {
		sum.Points[i].Precision /= float64(len(curves))
	}
	return sum, nil
}

// Distance is the Euclidean norm of a−b over precisions.
func Distance(a, b Curve) (float64, error) {
	if err := sameSchedule(a, b); err != nil {
		return 0, err
	}
	if len(a.Points) == 0 {
		return 0, nil
	}
	return floats.Distance(a.Values(), b.Values(), 2), nil
}

func TotalVariation(c Curve) float64 {
	var tv float64
	for i := 1; i < len(c.Points); i++ {
		tv += math.Abs(c.Points[i].Precision - c.Points[i-1].Precision)
	}
	return tv
}

func sameSchedule(a, b Curve) error {
	if len(a.Points) != len(b.Points) {
		return &unit.ShapeMismatchError{What: "curve", Want: len(a.Points), Got: len(b.Points)}
	}
	for i := range a.Points {
		if a.Points[i].Removed != b.Points[i].Removed {
			return &unit.ShapeMismatchError{What: fmt.Sprintf("curve point %d schedule", i), Want: a.Points[i].Removed, Got: b.Points[i].Removed}
		}
	}
	return nil
}
