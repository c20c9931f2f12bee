package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceMetrics(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	d, err := Distance(Euclidean, a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.4142, d, 1e-3)

	d, err = Distance(Cosine, a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 1e-9)

	d, err = Distance(Manhattan, a, b)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, d, 1e-9)

	d, err = Distance(NegDot, a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, d, 1e-9)
}

func TestDistanceIdenticalVectorsAreZero(t *testing.T) {
	a := []float32{1, 2, 3}
	for _, m := range []Metric{Euclidean, Cosine, Manhattan} {
		d, err := Distance(m, a, a)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, d, 1e-6, "metric %s", m)
	}
}

func TestDistanceDimensionMismatch(t *testing.T) {
	_, err := Distance(Euclidean, []float32{1, 2}, []float32{1})
	require.Error(t, err)
}

func TestDistanceUnknownMetric(t *testing.T) {
	_, err := Distance(Metric("bogus"), []float32{1}, []float32{1})
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	n := Normalize(v)
	assert.InDelta(t, 0.6, n[0], 1e-6)
	assert.InDelta(t, 0.8, n[1], 1e-6)
	assert.Equal(t, []float32{3, 4}, v, "Normalize must not mutate input")
}

func TestNormalizeInPlace(t *testing.T) {
	v := []float32{3, 4}
	NormalizeInPlace(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestNormalizeZeroVector(t *testing.T) {
	v := []float32{0, 0}
	n := Normalize(v)
	assert.Equal(t, []float32{0, 0}, n)
	NormalizeInPlace(v)
	assert.Equal(t, []float32{0, 0}, v)
}
