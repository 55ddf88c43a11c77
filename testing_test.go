package gan_power

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// runGraph Runs whole graph once and returns values read from outputs
func runGraph(t *testing.T, g *gorgonia.ExprGraph, outputs ...*gorgonia.Node) []gorgonia.Value {
	t.Helper()
	values := make([]gorgonia.Value, len(outputs))
	for i := range outputs {
		gorgonia.Read(outputs[i], &values[i])
	}
	tm := gorgonia.NewTapeMachine(g)
	defer tm.Close()
	require.NoError(t, tm.RunAll())
	return values
}

func randomDense(rng *rand.Rand, shape ...int) *tensor.Dense {
	data := make([]float64, tensor.Shape(shape).TotalSize())
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func valueOf(t *testing.T, v gorgonia.Value) []float64 {
	t.Helper()
	data, err := denseData(v)
	require.NoError(t, err)
	return data
}
