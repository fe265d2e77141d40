package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unmasking/internal/unit"
)

func labelled(author string, role unit.Role, vecs ...[]float64) []unit.TextUnit {
	out := make([]unit.TextUnit, len(vecs))
	for i, v := range vecs {
		out[i] = unit.TextUnit{Work: unit.WorkID{Author: author}, Chunk: i, Role: role, Vector: v}
	}
	return out
}

func TestNearestCentroidSeparable(t *testing.T) {
	training := append(
		labelled("zola", unit.RoleTraining, []float64{0, 0}, []float64{0, 1}, []float64{1, 0}),
		labelled("zola", unit.RoleEval, []float64{10, 10}, []float64{10, 11}, []float64{11, 10})...,
	)
	eval := append(
		labelled("zola", unit.RoleTraining, []float64{0.5, 0.5}),
		labelled("zola", unit.RoleEval, []float64{10.5, 10.5}, []float64{0.2, 0.1})...,
	)

	c := &NearestCentroid{}
	p, err := c.Classify(training, eval)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, p, 1e-12)
	assert.Equal(t, p, c.Precision)
}

func TestNearestCentroidEmptyTraining(t *testing.T) {
	p, err := (&NearestCentroid{}).Classify(nil, labelled("a", unit.RoleEval, []float64{1}))
	require.NoError(t, err)
	assert.Zero(t, p)
}

func TestNearestCentroidEmptyEval(t *testing.T) {
	_, err := (&NearestCentroid{}).Classify(labelled("a", unit.RoleEval, []float64{1}), nil)
	assert.Error(t, err)
}

func TestHalfConfidence(t *testing.T) {
	training := append(
		labelled("a", unit.RoleTraining, []float64{0}),
		labelled("a", unit.RoleEval, []float64{10})...,
	)
	eval := labelled("a", unit.RoleEval, []float64{9})
	p, err := HalfConfidence{Inner: &NearestCentroid{}}.Classify(training, eval)
	require.NoError(t, err)
	assert.Equal(t, 0.5, p)
}

func TestByName(t *testing.T) {
	f, err := ByName("centroid")
	require.NoError(t, err)
	assert.IsType(t, &NearestCentroid{}, f())

	_, err = ByName("svm")
	assert.Error(t, err)
}
