package gan_power

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
)

func largestSingularValue(t *testing.T, rows, cols int, data []float64) float64 {
	t.Helper()
	var svd mat.SVD
	require.True(t, svd.Factorize(mat.NewDense(rows, cols, data), mat.SVDNone))
	return svd.Values(nil)[0]
}

func TestSpectralNormSigma(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	g := gorgonia.NewGraph()
	w := randomDense(rng, 6, 4)
	weight := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(6, 4), gorgonia.WithValue(w))

	sn, err := NewSpectralNorm(weight, rng)
	require.NoError(t, err)
	sn.Iterations = 500
	require.NoError(t, sn.PowerIterate(weight.Value()))

	expected := largestSingularValue(t, 6, 4, w.Data().([]float64))
	sigma, err := sn.Sigma(weight.Value())
	require.NoError(t, err)
	assert.InEpsilon(t, expected, sigma, 1e-6)
}

func TestSpectralNormalizeGraph(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	g := gorgonia.NewGraph()
	// Convolution-like weights are viewed as [out, in*kernel]
	w := randomDense(rng, 4, 3, 1, 5)
	weight := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(4, 3, 1, 5), gorgonia.WithValue(w))

	sn, err := NewSpectralNorm(weight, rng)
	require.NoError(t, err)
	sn.Iterations = 500
	require.NoError(t, sn.PowerIterate(weight.Value()))

	normalized, err := sn.Normalize(weight, "conv")
	require.NoError(t, err)
	assert.Equal(t, weight.Shape(), normalized.Shape())

	values := runGraph(t, g, normalized)
	assert.InDelta(t, 1.0, largestSingularValue(t, 4, 15, valueOf(t, values[0])), 1e-6)
}

func TestSpectralNormRejectsVectors(t *testing.T) {
	g := gorgonia.NewGraph()
	weight := gorgonia.NewVector(g, gorgonia.Float64, gorgonia.WithShape(5), gorgonia.WithInit(gorgonia.Ones()))
	_, err := NewSpectralNorm(weight, nil)
	assert.Error(t, err)
}
