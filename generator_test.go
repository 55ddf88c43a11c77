package gan_power

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func assertBounded(t *testing.T, data []float64) {
	t.Helper()
	for i, v := range data {
		if v < -1 || v > 1 {
			t.Fatalf("Sample #%d = %f is out of [-1, 1]", i, v)
		}
	}
}

func TestGeneratorLayers(t *testing.T) {
	g := gorgonia.NewGraph()
	gen, err := NewGenerator(g)
	require.NoError(t, err)
	// 3 x (W, b, gamma, beta) for linear stages, 3 x (W, b, gamma, beta) for normalized upsampling, (W, b) for the last one
	assert.Len(t, gen.Learnables(), 26)

	deconvs := 0
	for _, l := range gen.Layers() {
		if l.Type == LayerTransposedConvolutional {
			deconvs++
		}
	}
	assert.Equal(t, 4, deconvs)
}

func TestGeneratorGenerate(t *testing.T) {
	g := gorgonia.NewGraph()
	gen, err := NewGenerator(g)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(12))
	for _, batchSize := range []int{1, 3} {
		series, err := gen.Generate(NormRandDense(rng, batchSize, LatentSize))
		require.NoError(t, err)
		assert.Equal(t, tensor.Shape{batchSize, 1, SeriesLength}, series.Shape())
		assertBounded(t, series.Data().([]float64))
	}

	_, err = gen.Generate(NormRandDense(rng, 2, LatentSize+1))
	assert.Error(t, err)
}

func TestGeneratorTrainModeFeedforward(t *testing.T) {
	g := gorgonia.NewGraph()
	gen, err := NewGenerator(g)
	require.NoError(t, err)

	batchSize := 4
	input := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batchSize, LatentSize), gorgonia.WithValue(NormRandDense(rand.New(rand.NewSource(13)), batchSize, LatentSize)))
	require.NoError(t, gen.Fwd(input, batchSize, ModeTrain))
	assert.Equal(t, tensor.Shape{batchSize, 1, SeriesLength}, gen.Out().Shape())

	values := runGraph(t, g, gen.Out())
	assertBounded(t, valueOf(t, values[0]))

	first := gen.Layers()[0].BatchNorm
	require.NotNil(t, first)
	before := append([]float64{}, first.RunningMean.Data().([]float64)...)
	require.NoError(t, gen.CommitStatistics())
	assert.NotEqual(t, before, first.RunningMean.Data().([]float64))
}

func TestGeneratorFwdShapeCheck(t *testing.T) {
	g := gorgonia.NewGraph()
	gen, err := NewGenerator(g)
	require.NoError(t, err)
	input := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, LatentSize), gorgonia.WithInit(gorgonia.Zeroes()))
	assert.Error(t, gen.Fwd(input, 3, ModeTrain))
}

func TestGeneratorSeededWeights(t *testing.T) {
	weights := func(seed int64) []float64 {
		gen, err := NewGenerator(gorgonia.NewGraph(), WithGeneratorRand(rand.New(rand.NewSource(seed))))
		require.NoError(t, err)
		data := []float64{}
		for _, l := range gen.Layers() {
			if l.WeightNode != nil {
				data = append(data, l.WeightNode.Value().Data().([]float64)...)
			}
		}
		return data
	}
	assert.Equal(t, weights(3), weights(3))
	assert.NotEqual(t, weights(3), weights(4))
}
