package gan_power

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestFlattenReshapeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	original := randomDense(rng, 3, 32, 42)

	flat, err := FlattenDense(original)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 1344}, flat.Shape())

	restored, err := ReshapeDense(flat, []int{32, 42})
	require.NoError(t, err)
	assert.Equal(t, original.Shape(), restored.Shape())
	assert.Equal(t, original.Data(), restored.Data())
	// Source is untouched
	assert.Equal(t, tensor.Shape{3, 32, 42}, original.Shape())
}

func TestReshapeDenseMismatch(t *testing.T) {
	flat := tensor.New(tensor.WithShape(2, 10), tensor.WithBacking(make([]float64, 20)))
	_, err := ReshapeDense(flat, []int{3, 4})
	assert.Error(t, err)
}

func TestFlattenReshapeNodes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	g := gorgonia.NewGraph()
	value := randomDense(rng, 2, 32, 42)
	input := gorgonia.NewTensor(g, gorgonia.Float64, 3, gorgonia.WithShape(2, 32, 42), gorgonia.WithValue(value))

	flat, err := FlattenNode(input, 2)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 1344}, flat.Shape())

	structured, err := ReshapeNode(flat, 2, []int{32, 1, 42})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 32, 1, 42}, structured.Shape())

	values := runGraph(t, g, structured)
	assert.Equal(t, value.Data(), valueOf(t, values[0]))
}
