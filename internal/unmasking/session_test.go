package unmasking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"unmasking/internal/balance"
	"unmasking/internal/classify"
	"unmasking/internal/curve"
	"unmasking/internal/metrics"
	"unmasking/internal/unit"
)

type memLibrary map[unit.WorkID][]unit.TextUnit

func (m memLibrary) Units(_ context.Context, id unit.WorkID) ([]unit.TextUnit, error) {
	units, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("unknown work %s", id)
	}
	return units, nil
}

func (m memLibrary) add(rng *rand.Rand, id unit.WorkID, chunks, dims int, style float64) {
	units := make([]unit.TextUnit, chunks)
	for i := range units {
		v := make([]float64, dims)
		for j := range v {
			v[j] = rng.NormFloat64() + style*float64(j%4)
		}
		units[i] = unit.TextUnit{Work: id, Chunk: i, Vector: v}
	}
	m[id] = units
}

func works(author string, numbers ...int) []unit.WorkID {
	out := make([]unit.WorkID, len(numbers))
	for i, n := range numbers {
		out[i] = unit.WorkID{Author: author, Number: n}
	}
	return out
}

type constant float64

func (c constant) Classify(_, _ []unit.TextUnit) (float64, error) { return float64(c), nil }

func constantFactory(p float64) classify.Factory {
	return func() classify.Classifier { return constant(p) }
}

func smallOptions() Options {
	o := DefaultOptions()
	o.Selections = 3
	o.Curve = curve.Options{Step: 3, Trials: 4, SampleSize: 6, Divisor: 4, Workers: 1}
	return o
}

func newLibrary() memLibrary {
	rng := rand.New(rand.NewPCG(100, 200))
	lib := memLibrary{}
	for _, w := range works("zola", 1, 2, 3, 4, 11) {
		lib.add(rng, w, 10, 9, 0)
	}
	for _, w := range works("proust", 1, 2) {
		lib.add(rng, w, 10, 9, 2)
	}
	lib.add(rng, unit.WorkID{Author: "hugo", Number: 1}, 10, 9, -2)
	return lib
}

func TestCalibrateNeedsTwoBaseWorks(t *testing.T) {
	s, err := NewSession(newLibrary(), constantFactory(1), smallOptions())
	require.NoError(t, err)

	_, err = s.Calibrate(context.Background(), works("zola", 1), works("proust", 1))
	var sampling *SamplingConstraintError
	require.ErrorAs(t, err, &sampling)
	assert.Equal(t, StateUncalibrated, s.State())
	assert.Zero(t, s.Reference().Same.Len())
}

func TestVerifyRequiresCalibration(t *testing.T) {
	s, err := NewSession(newLibrary(), constantFactory(1), smallOptions())
	require.NoError(t, err)
	_, err = s.Verify(context.Background(), works("zola", 1), works("zola", 11))
	assert.True(t, errors.Is(err, ErrNotCalibrated))
}

func TestVerifyIdenticalToSameCurve(t *testing.T) {
	s, err := NewSession(newLibrary(), constantFactory(0.8), smallOptions())
	require.NoError(t, err)

	ref := ReferencePair{
		Same:      curve.Curve{Points: []curve.Point{{Removed: 0, Precision: 1}, {Removed: 3, Precision: 1}, {Removed: 6, Precision: 1}}},
		Different: curve.Curve{Points: []curve.Point{{Removed: 0, Precision: 1}, {Removed: 3, Precision: 0.6}, {Removed: 6, Precision: 0.2}}},
	}
	require.NoError(t, s.SetReference(ref))
	assert.Equal(t, StateCalibrated, s.State())

	verdicts, err := s.Verify(context.Background(), works("zola", 1, 2), works("zola", 11))
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	v := verdicts[0]
	assert.True(t, v.AttributedToBase)
	assert.Equal(t, 0.0, v.DistanceToSame)
	assert.Greater(t, v.DistanceToDifferent, 0.0)
	assert.Equal(t, 1.0, v.Confidence)
	assert.Equal(t, StateVerified, s.State())
}

func TestDecideTieIsNotAttributed(t *testing.T) {
	c := curve.Curve{Points: []curve.Point{{Removed: 0, Precision: 1}}}
	v, err := Decide(ReferencePair{Same: c, Different: c}, unit.WorkID{Author: "x"}, c)
	require.NoError(t, err)
	assert.False(t, v.AttributedToBase)
	assert.Zero(t, v.Confidence)
}

func TestDecideShapeMismatch(t *testing.T) {
	two := curve.Curve{Points: []curve.Point{{Removed: 0, Precision: 1}, {Removed: 5, Precision: 1}}}
	one := curve.Curve{Points: []curve.Point{{Removed: 0, Precision: 1}}}
	_, err := Decide(ReferencePair{Same: two, Different: two}, unit.WorkID{Author: "x"}, one)
	var shape *unit.ShapeMismatchError
	require.ErrorAs(t, err, &shape)
}

func TestCalibrateAndVerifyEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t)

	opts := smallOptions()
	opts.Smoothing = 1
	opts.Workers = 3
	opts.Curve.Workers = 2
	m := metrics.New()
	s, err := NewSession(newLibrary(), func() classify.Classifier { return &classify.NearestCentroid{} }, opts,
		WithLogger(zaptest.NewLogger(t)), WithMetrics(m))
	require.NoError(t, err)

	ref, err := s.Calibrate(context.Background(), works("zola", 1, 2, 3, 4), works("proust", 1, 2))
	require.NoError(t, err)
	// 9 dims with step 3 gives 3 points, one smoothing pass drops one.
	assert.Equal(t, 2, ref.Same.Len())
	assert.Equal(t, 2, ref.Different.Len())
	assert.Equal(t, StateCalibrated, s.State())

	verdicts, err := s.Verify(context.Background(), works("zola", 1, 2, 3, 4), []unit.WorkID{{Author: "zola", Number: 11}, {Author: "hugo", Number: 1}})
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	for _, v := range verdicts {
		assert.Equal(t, 2, v.Curve.Len())
		assert.Equal(t, v.DistanceToSame < v.DistanceToDifferent, v.AttributedToBase)
	}
	assert.Len(t, s.Verdicts(), 2)
}

func TestCalibrationReproducibleAcrossWorkers(t *testing.T) {
	run := func(workers int) ReferencePair {
		opts := smallOptions()
		opts.Seed = 42
		opts.Workers = workers
		s, err := NewSession(newLibrary(), func() classify.Classifier { return &classify.NearestCentroid{} }, opts)
		require.NoError(t, err)
		ref, err := s.Calibrate(context.Background(), works("zola", 1, 2, 3, 4), works("proust", 1, 2))
		require.NoError(t, err)
		return ref
	}
	assert.Equal(t, run(1), run(4))
}

func TestVerifyRecordsFailuresAndContinues(t *testing.T) {
	s, err := NewSession(newLibrary(), constantFactory(0.5), smallOptions())
	require.NoError(t, err)
	_, err = s.Calibrate(context.Background(), works("zola", 1, 2), works("proust", 1))
	require.NoError(t, err)

	missing := unit.WorkID{Author: "ghost", Number: 9}
	verdicts, err := s.Verify(context.Background(), works("zola", 1, 2), []unit.WorkID{missing, {Author: "zola", Number: 11}})
	require.Error(t, err)
	require.Len(t, verdicts, 1)
	assert.Equal(t, unit.WorkID{Author: "zola", Number: 11}, verdicts[0].Work)

	failures := s.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, missing, failures[0].Work)
}

func TestSessionRejectsDimensionChange(t *testing.T) {
	lib := newLibrary()
	rng := rand.New(rand.NewPCG(1, 1))
	lib.add(rng, unit.WorkID{Author: "odd", Number: 1}, 10, 12, 0)
	lib.add(rng, unit.WorkID{Author: "odd", Number: 2}, 10, 12, 0)

	s, err := NewSession(lib, constantFactory(1), smallOptions())
	require.NoError(t, err)
	_, err = s.Calibrate(context.Background(), works("zola", 1, 2), works("proust", 1))
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), works("odd", 1), works("odd", 2))
	var shape *unit.ShapeMismatchError
	require.ErrorAs(t, err, &shape)
}

func TestMergeBalancing(t *testing.T) {
	lib := newLibrary()
	lib.add(rand.New(rand.NewPCG(8, 8)), unit.WorkID{Author: "hugo", Number: 2}, 6, 9, -2)

	opts := smallOptions()
	opts.Balance = balance.StrategyMerge
	opts.WorksPerGroup = 2
	s, err := NewSession(lib, constantFactory(0.9), opts)
	require.NoError(t, err)
	ref, err := s.Calibrate(context.Background(), []unit.WorkID{{Author: "zola", Number: 1}, {Author: "hugo", Number: 2}, {Author: "zola", Number: 3}, {Author: "hugo", Number: 1}}, works("proust", 1))
	require.NoError(t, err)
	for _, p := range ref.Same.Points {
		assert.InDelta(t, 1.0, p.Precision, 1e-12)
	}
}

// poolClassifier records how many units a trial saw in total.
type poolClassifier struct {
	pool *atomic.Int64
}

func (c poolClassifier) Classify(training, eval []unit.TextUnit) (float64, error) {
	c.pool.Store(int64(len(training) + len(eval)))
	return 1, nil
}

func TestBuildCurveBalancesTrainingSideOnly(t *testing.T) {
	rng := rand.New(rand.NewPCG(21, 21))
	lib := newLibrary()
	lib.add(rng, unit.WorkID{Author: "hugo", Number: 2}, 6, 9, -2)
	lib.add(rng, unit.WorkID{Author: "verne", Number: 1}, 4, 9, 1)

	for _, strategy := range []balance.Strategy{balance.StrategySubsample, balance.StrategyMerge} {
		t.Run(string(strategy), func(t *testing.T) {
			var pool atomic.Int64
			opts := smallOptions()
			opts.Balance = strategy
			s, err := NewSession(lib, func() classify.Classifier { return poolClassifier{pool: &pool} }, opts)
			require.NoError(t, err)

			p := Problem{
				Kind:     KindObserved,
				Training: []unit.WorkID{{Author: "zola", Number: 1}, {Author: "hugo", Number: 2}},
				Eval:     []unit.WorkID{{Author: "proust", Number: 1}, {Author: "verne", Number: 1}},
			}
			_, err = s.BuildCurve(context.Background(), p, rand.New(rand.NewPCG(3, 3)))
			require.NoError(t, err)
			// 6+6 balanced training units plus all 10+4 eval units.
			assert.Equal(t, int64(26), pool.Load())
		})
	}
}

func TestDisjointGroups(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	a, b, err := disjointGroups(rng, 4, 2, 100)
	require.NoError(t, err)
	for _, i := range a {
		assert.NotContains(t, b, i)
	}

	_, _, err = disjointGroups(rng, 3, 2, 10)
	var sampling *SamplingConstraintError
	require.ErrorAs(t, err, &sampling)
}

type countingClassifier struct {
	calls *atomic.Int64
}

func (c countingClassifier) Classify(_, _ []unit.TextUnit) (float64, error) {
	c.calls.Add(1)
	return 1, nil
}

func TestSetReferenceRejectsOtherStep(t *testing.T) {
	calibrating, err := NewSession(newLibrary(), constantFactory(0.7), smallOptions())
	require.NoError(t, err)
	ref, err := calibrating.Calibrate(context.Background(), works("zola", 1, 2), works("proust", 1))
	require.NoError(t, err)

	opts := smallOptions()
	opts.Curve.Step = 5
	s, err := NewSession(newLibrary(), constantFactory(0.7), opts)
	require.NoError(t, err)

	var shape *unit.ShapeMismatchError
	require.ErrorAs(t, s.SetReference(ref), &shape)
	assert.Equal(t, 5, shape.Want)
	assert.Equal(t, 3, shape.Got)
	assert.Equal(t, StateUncalibrated, s.State())
}

func TestVerifyRejectsReferenceOfOtherLengthBeforeBuilding(t *testing.T) {
	calibrating, err := NewSession(newLibrary(), constantFactory(0.7), smallOptions())
	require.NoError(t, err)
	ref, err := calibrating.Calibrate(context.Background(), works("zola", 1, 2), works("proust", 1))
	require.NoError(t, err)
	require.Equal(t, 3, ref.Same.Len())

	// Same step, but one smoothing pass makes every observed curve shorter.
	opts := smallOptions()
	opts.Smoothing = 1
	var calls atomic.Int64
	s, err := NewSession(newLibrary(), func() classify.Classifier { return countingClassifier{calls: &calls} }, opts)
	require.NoError(t, err)
	require.NoError(t, s.SetReference(ref))

	verdicts, err := s.Verify(context.Background(), works("zola", 1, 2), works("zola", 11, 3))
	var shape *unit.ShapeMismatchError
	require.ErrorAs(t, err, &shape)
	assert.Empty(t, verdicts)
	assert.Zero(t, calls.Load(), "no curve may be built against a mismatched reference")
	assert.Empty(t, s.Failures())
	assert.Equal(t, StateCalibrated, s.State())

	// Once the vector length is pinned, a mismatched reference is refused at once.
	assert.ErrorAs(t, s.SetReference(ref), &shape)
}
