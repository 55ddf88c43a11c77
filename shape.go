package gan_power

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// FlattenNode Reshapes batch of multi-dimensional samples [B, ...] into batch of vectors [B, N]
func FlattenNode(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("Batch size should be positive, but got %d", batchSize)
	}
	return gorgonia.Reshape(input, tensor.Shape{batchSize, input.Shape().TotalSize() / batchSize})
}

// ReshapeNode Reshapes batch of flat vectors [B, N] into batch of samples [B, dims...]
func ReshapeNode(input *gorgonia.Node, batchSize int, dims []int) (*gorgonia.Node, error) {
	return gorgonia.Reshape(input, batchedShape(batchSize, dims))
}

// FlattenDense Value-level version of FlattenNode. Returns a reshaped copy.
func FlattenDense(t *tensor.Dense) (*tensor.Dense, error) {
	shp := t.Shape()
	if len(shp) < 1 {
		return nil, fmt.Errorf("Tensor should have batch dimension atleast")
	}
	flat := t.Clone().(*tensor.Dense)
	if err := flat.Reshape(shp[0], shp.TotalSize()/shp[0]); err != nil {
		return nil, errors.Wrap(err, "Can't flatten tensor")
	}
	return flat, nil
}

// ReshapeDense Value-level version of ReshapeNode. Returns a reshaped copy.
func ReshapeDense(t *tensor.Dense, dims []int) (*tensor.Dense, error) {
	shp := t.Shape()
	if len(shp) < 1 {
		return nil, fmt.Errorf("Tensor should have batch dimension atleast")
	}
	reshaped := t.Clone().(*tensor.Dense)
	if err := reshaped.Reshape(batchedShape(shp[0], dims)...); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't reshape tensor of shape %v to per-sample shape %v", shp, dims))
	}
	return reshaped, nil
}

func batchedShape(batchSize int, dims []int) tensor.Shape {
	shp := make(tensor.Shape, 0, len(dims)+1)
	shp = append(shp, batchSize)
	return append(shp, dims...)
}
