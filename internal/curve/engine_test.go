package curve

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"unmasking/internal/classify"
	"unmasking/internal/unit"
)

func synthetic(rng *rand.Rand, author string, count, dims int, shift float64) []unit.TextUnit {
	out := make([]unit.TextUnit, count)
	for i := range out {
		v := make([]float64, dims)
		for j := range v {
			v[j] = rng.NormFloat64()
			if j%3 == 0 {
				v[j] += shift
			}
		}
		out[i] = unit.TextUnit{Work: unit.WorkID{Author: author, Number: 1}, Chunk: i, Vector: v}
	}
	return out
}

func centroid() classify.Classifier { return &classify.NearestCentroid{} }

func TestBuildTwoLevels(t *testing.T) {
	data := rand.New(rand.NewPCG(11, 12))
	training := append(synthetic(data, "zola", 9, 10, 0), synthetic(data, "balzac", 9, 10, 1)...)
	eval := append(synthetic(data, "proust", 9, 10, 2), synthetic(data, "hugo", 9, 10, 3)...)

	opts := DefaultOptions()
	c, err := Build(context.Background(), training, eval, opts, centroid, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())
	assert.Equal(t, []int{0, 5}, c.Schedule())
	for _, p := range c.Points {
		assert.GreaterOrEqual(t, p.Precision, 0.0)
		assert.LessOrEqual(t, p.Precision, 1.0)
	}
}

func TestBuildDoesNotMutateInputs(t *testing.T) {
	data := rand.New(rand.NewPCG(5, 6))
	training := synthetic(data, "zola", 6, 7, 0)
	eval := synthetic(data, "hugo", 6, 7, 4)
	before := unit.CloneAll(training)

	_, err := Build(context.Background(), training, eval, Options{Step: 2, Trials: 3, SampleSize: 4, Divisor: 3}, centroid, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	assert.Equal(t, before, training)
	for _, u := range eval {
		assert.Equal(t, unit.RoleNone, u.Role)
		assert.Len(t, u.Vector, 7)
	}
}

func TestBuildDeterministicAcrossWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	data := rand.New(rand.NewPCG(21, 22))
	training := synthetic(data, "zola", 12, 9, 0)
	eval := synthetic(data, "hugo", 12, 9, 1.5)

	serial := Options{Step: 2, Trials: 8, SampleSize: 5, Divisor: 4, Workers: 1}
	parallel := serial
	parallel.Workers = 4

	a, err := Build(context.Background(), training, eval, serial, centroid, rand.New(rand.NewPCG(9, 9)))
	require.NoError(t, err)
	b, err := Build(context.Background(), training, eval, parallel, centroid, rand.New(rand.NewPCG(9, 9)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRescaledCurveIgnoresClassifierScale(t *testing.T) {
	data := rand.New(rand.NewPCG(31, 32))
	training := synthetic(data, "zola", 10, 8, 0)
	eval := synthetic(data, "hugo", 10, 8, 2)
	opts := Options{Step: 2, Trials: 6, SampleSize: 6, Divisor: 3}

	full, err := Build(context.Background(), training, eval, opts, centroid, rand.New(rand.NewPCG(4, 4)))
	require.NoError(t, err)
	half, err := Build(context.Background(), training, eval, opts, func() classify.Classifier {
		return classify.HalfConfidence{Inner: &classify.NearestCentroid{}}
	}, rand.New(rand.NewPCG(4, 4)))
	require.NoError(t, err)

	rf, err := Rescale(full)
	require.NoError(t, err)
	rh, err := Rescale(half)
	require.NoError(t, err)
	if diff := cmp.Diff(rf, rh, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("rescaled curves differ (-full +half):\n%s", diff)
	}
}

type failing struct{ calls *int32 }

func (f failing) Classify(_, _ []unit.TextUnit) (float64, error) {
	atomic.AddInt32(f.calls, 1)
	return 0, errors.New("boom")
}

func TestBuildPropagatesClassifierError(t *testing.T) {
	data := rand.New(rand.NewPCG(1, 3))
	var calls int32
	_, err := Build(context.Background(), synthetic(data, "a", 4, 3, 0), synthetic(data, "b", 4, 3, 1),
		Options{Step: 1, Trials: 2, SampleSize: 2, Divisor: 2},
		func() classify.Classifier { return failing{calls: &calls} },
		rand.New(rand.NewPCG(1, 1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestBuildRejectsMismatchedVectors(t *testing.T) {
	data := rand.New(rand.NewPCG(2, 3))
	_, err := Build(context.Background(), synthetic(data, "a", 3, 4, 0), synthetic(data, "b", 3, 5, 0),
		DefaultOptions(), centroid, rand.New(rand.NewPCG(1, 1)))
	var shape *unit.ShapeMismatchError
	require.ErrorAs(t, err, &shape)
}

func TestImportanceRankingOrder(t *testing.T) {
	training := []unit.TextUnit{
		{Vector: []float64{0, 0, 1}},
		{Vector: []float64{0, 2, 3}},
	}
	eval := []unit.TextUnit{
		{Vector: []float64{10, 1, 1}},
		{Vector: []float64{10, 3, 3}},
	}
	r, err := ImportanceRanking(training, eval)
	require.NoError(t, err)
	// Dimension 2 has identical means (score 0), dimension 1 a unit gap over
	// unit spread, dimension 0 an infinite gap over zero spread.
	assert.Equal(t, []int{2, 1, 0}, r.Order)
	assert.Equal(t, 0.0, r.Scores[0])
	assert.InDelta(t, 1.0, r.Scores[1], 1e-12)
	assert.True(t, r.Scores[2] > 1e300)
	assert.Equal(t, []float64{3, 2, 0}, Reorder([]float64{0, 2, 3}, r.Order))
}

func TestEvalSizeClamps(t *testing.T) {
	o := Options{SampleSize: 20, Divisor: 10}
	assert.Equal(t, 3, o.EvalSize(36))
	assert.Equal(t, 1, o.EvalSize(5))
	assert.Equal(t, 20, o.EvalSize(1000))
	assert.Equal(t, 1, o.EvalSize(1))
}
