// Package classify defines the classifier contract the curve engine trains
// and evaluates on every trial, plus a small nearest-centroid implementation.
package classify

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"

	"unmasking/internal/unit"
)

// Classifier trains on the training units and reports the fraction of eval
// units it labels correctly. Implementations may keep per-call state; the
// engine builds a fresh one for every trial through a Factory.
type Classifier interface {
	Classify(training, eval []unit.TextUnit) (float64, error)
}

type Factory func() Classifier

func ByName(name string) (Factory, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "centroid", "nearest-centroid":
		return func() Classifier { return &NearestCentroid{} }, nil
	default:
		return nil, fmt.Errorf("unknown classifier: %s", name)
	}
}

// NearestCentroid assigns each eval unit to the class whose training centroid
// is closest in Euclidean distance.
type NearestCentroid struct {
	Precision float64
	centroids map[string][]float64
	keys      []string
}

func (c *NearestCentroid) Classify(training, eval []unit.TextUnit) (float64, error) {
	c.Precision = 0
	if len(eval) == 0 {
		return 0, fmt.Errorf("classify: empty eval set")
	}
	if len(training) == 0 {
		return 0, nil
	}
	if err := c.fit(training); err != nil {
		return 0, err
	}
	correct := 0
	for _, u := range eval {
		if len(u.Vector) != len(c.centroids[c.keys[0]]) {
			return 0, &unit.ShapeMismatchError{What: "eval vector", Want: len(c.centroids[c.keys[0]]), Got: len(u.Vector)}
		}
		if c.predict(u.Vector) == u.ClassKey() {
			correct++
		}
	}
	c.Precision = float64(correct) / float64(len(eval))
	return c.Precision, nil
}

func (c *NearestCentroid) fit(training []unit.TextUnit) error {
	dims, err := unit.Dimensions(training)
	if err != nil {
		return err
	}
	sums := map[string][]float64{}
	counts := map[string]float64{}
	for _, u := range training {
		k := u.ClassKey()
		if sums[k] == nil {
			sums[k] = make([]float64, dims)
		}
		floats.Add(sums[k], u.Vector)
		counts[k]++
	}
	c.centroids = make(map[string][]float64, len(sums))
	c.keys = c.keys[:0]
	for k, s := range sums {
		floats.Scale(1/counts[k], s)
		c.centroids[k] = s
		c.keys = append(c.keys, k)
	}
	sort.Strings(c.keys)
	return nil
}

func (c *NearestCentroid) predict(v []float64) string {
	best := ""
	bestDist := math.Inf(1)
	for _, k := range c.keys {
		d := floats.Distance(v, c.centroids[k], 2)
		if d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

// HalfConfidence reports half of the inner classifier's precision.
type HalfConfidence struct {
	Inner Classifier
}

func (h HalfConfidence) Classify(training, eval []unit.TextUnit) (float64, error) {
	p, err := h.Inner.Classify(training, eval)
	return p / 2, err
}
