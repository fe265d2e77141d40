package unmasking

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"unmasking/internal/balance"
	"unmasking/internal/curve"
	"unmasking/internal/normalize"
	"unmasking/internal/unit"
)

// Problem pairs the works on each side of one comparison.
type Problem struct {
	Kind     Kind
	Training []unit.WorkID
	Eval     []unit.WorkID
}

// BuildCurve loads the vectorized units of both sides, balances the training
// side by author, normalizes both sides jointly and returns the rescaled curve.
// The eval side keeps every unit of the works under test.
func (s *Session) BuildCurve(ctx context.Context, p Problem, rng *rand.Rand) (curve.Curve, error) {
	start := time.Now()
	c, err := s.buildCurve(ctx, p, rng)
	if s.metrics != nil {
		s.metrics.CurveSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.CurveFailures.WithLabelValues(string(p.Kind)).Inc()
		} else {
			s.metrics.CurvesBuilt.WithLabelValues(string(p.Kind)).Inc()
			s.metrics.ClassifierTrials.Add(float64(c.Len() * s.opts.Curve.Trials))
		}
	}
	return c, err
}

func (s *Session) buildCurve(ctx context.Context, p Problem, rng *rand.Rand) (curve.Curve, error) {
	training, err := s.load(ctx, p.Training)
	if err != nil {
		return curve.Curve{}, err
	}
	eval, err := s.load(ctx, p.Eval)
	if err != nil {
		return curve.Curve{}, err
	}
	training, n, err := balance.Apply(s.opts.Balance, training, rng)
	if err != nil {
		return curve.Curve{}, fmt.Errorf("balance training set: %w", err)
	}

	all := make([]unit.TextUnit, 0, len(training)+len(eval))
	all = append(append(all, training...), eval...)
	dims, err := unit.Dimensions(all)
	if err != nil {
		return curve.Curve{}, err
	}
	if err := s.checkDims(dims); err != nil {
		return curve.Curve{}, err
	}
	if err := normalize.Apply(s.opts.Normalize, s.opts.ZeroRange, all); err != nil {
		return curve.Curve{}, fmt.Errorf("normalize: %w", err)
	}

	s.log.Debug("problem assembled",
		zap.String("kind", string(p.Kind)),
		zap.Stringers("training", p.Training),
		zap.Stringers("eval", p.Eval),
		zap.Int("per_author", n),
		zap.Int("training_units", len(training)),
		zap.Int("eval_units", len(eval)),
		zap.Int("dims", dims))

	raw, err := curve.Build(ctx, all[:len(training)], all[len(training):], s.opts.Curve, s.newClassifier, rng)
	if err != nil {
		return curve.Curve{}, fmt.Errorf("build %s curve: %w", p.Kind, err)
	}
	scaled, err := curve.Rescale(raw)
	if err != nil {
		return curve.Curve{}, fmt.Errorf("rescale %s curve: %w", p.Kind, err)
	}
	return scaled, nil
}

func (s *Session) load(ctx context.Context, works []unit.WorkID) ([]unit.TextUnit, error) {
	var out []unit.TextUnit
	for _, w := range works {
		units, err := s.lib.Units(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", w, err)
		}
		out = append(out, unit.CloneAll(units)...)
	}
	return out, nil
}

// checkDims pins the vector length on first use so every curve of the
// session shares one step schedule. A restored reference must have as many
// points as curves over dims will have.
func (s *Session) checkDims(dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dims != 0 && s.dims != dims {
		return &unit.ShapeMismatchError{What: "session vector", Want: s.dims, Got: dims}
	}
	s.dims = dims
	if n := s.ref.Same.Len(); n > 0 {
		if got := s.expectedPoints(dims); n != got {
			return &unit.ShapeMismatchError{What: "reference curve points", Want: n, Got: got}
		}
	}
	return nil
}

// expectedPoints is the length of a smoothed mean curve over dims dimensions.
func (s *Session) expectedPoints(dims int) int {
	n := s.opts.Curve.Levels(dims)
	if n == 0 {
		return 0
	}
	return max(1, n-s.opts.Smoothing)
}

// checkSchedule requires c to remove Step more dimensions at each point.
func (s *Session) checkSchedule(c curve.Curve) error {
	for i, removed := range c.Schedule() {
		if want := i * s.opts.Curve.Step; removed != want {
			return &unit.ShapeMismatchError{What: fmt.Sprintf("reference schedule at point %d", i), Want: want, Got: removed}
		}
	}
	return nil
}
