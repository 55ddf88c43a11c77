package gan_power

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Generate Runs generator with frozen batch statistics (ModeEval) on its own graph.
// Parameters are not modified.
//
// noise - [B, 42] latent vectors
// Returns [B, 1, 336] series in [-1, 1]
//
func (net *GeneratorNet) Generate(noise *tensor.Dense) (*tensor.Dense, error) {
	shp := noise.Shape()
	if len(shp) != 2 || shp[1] != LatentSize {
		return nil, fmt.Errorf("Noise must have shape [B, %d], but got %v", LatentSize, shp)
	}
	g := gorgonia.NewGraph()
	evalNet := net.Mirror(g, "_eval")
	input := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(shp...), gorgonia.WithName("generator_eval_input"))
	if err := evalNet.Fwd(input, shp[0], ModeEval); err != nil {
		return nil, errors.Wrap(err, "Can't initialize feedforward")
	}
	return runOnce(g, input, noise, evalNet.Out())
}

// Discriminate Runs discriminator with frozen batch statistics (ModeEval) on its own graph.
// Parameters (including spectral normalization vectors) are not modified.
//
// signals - [B, 1, 336] series
// Returns [B] scores
//
func (net *DiscriminatorNet) Discriminate(signals *tensor.Dense) (*tensor.Dense, error) {
	shp := signals.Shape()
	if len(shp) != 3 || shp[1] != 1 || shp[2] != SeriesLength {
		return nil, fmt.Errorf("Signals must have shape [B, 1, %d], but got %v", SeriesLength, shp)
	}
	g := gorgonia.NewGraph()
	evalNet := net.Mirror(g, "_eval")
	input := gorgonia.NewTensor(g, gorgonia.Float64, 3, gorgonia.WithShape(shp...), gorgonia.WithName("discriminator_eval_input"))
	if err := evalNet.Fwd(input, shp[0], ModeEval); err != nil {
		return nil, errors.Wrap(err, "Can't initialize feedforward")
	}
	return runOnce(g, input, signals, evalNet.Out())
}

// runOnce Feeds value into input node, runs the graph and returns copy of output value
func runOnce(g *gorgonia.ExprGraph, input *gorgonia.Node, value *tensor.Dense, output *gorgonia.Node) (*tensor.Dense, error) {
	var outValue gorgonia.Value
	gorgonia.Read(output, &outValue)
	tm := gorgonia.NewTapeMachine(g)
	defer tm.Close()
	if err := gorgonia.Let(input, value); err != nil {
		return nil, errors.Wrap(err, "Can't init input value")
	}
	if err := tm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run VM")
	}
	out, ok := outValue.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Output should be *tensor.Dense, but got %T", outValue)
	}
	return out.Clone().(*tensor.Dense), nil
}

// SynthesizeSeries Generates n series and maps them back to original units with scaler
//
// rng - source of latent noise. If nil then global math/rand source is used
// scaler - if nil then series are returned in [-1, 1]
//
func SynthesizeSeries(net *GeneratorNet, rng *rand.Rand, n int, scaler *MinMaxScaler) ([][]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("Number of series should be positive, but got %d", n)
	}
	generated, err := net.Generate(NormRandDense(rng, n, LatentSize))
	if err != nil {
		return nil, errors.Wrap(err, "Can't generate series")
	}
	return denseToSeries(generated, scaler)
}

// denseToSeries Splits [B, 1, L] tensor into B series optionally mapping them back with scaler
func denseToSeries(t *tensor.Dense, scaler *MinMaxScaler) ([][]float64, error) {
	data, err := denseData(t)
	if err != nil {
		return nil, err
	}
	batchSize := t.Shape()[0]
	length := t.Shape().TotalSize() / batchSize
	series := make([][]float64, batchSize)
	for b := range series {
		series[b] = make([]float64, length)
		copy(series[b], data[b*length:(b+1)*length])
		if scaler != nil {
			scaler.InverseTransform(series[b])
		}
	}
	return series, nil
}
