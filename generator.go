package gan_power

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

const (
	// LatentSize Width of generator's input noise
	LatentSize = 42
	// SeriesLength Number of samples in one series: one week with 30 minutes step
	SeriesLength = 336
	// SamplesPerDay Number of samples in one day of series
	SamplesPerDay = 48
)

// generatorChannels Structured view of the last fully-connected output: [32, 1, 42]
var generatorChannels = []int{32, 1, 42}

// upsamplingStage Parameters of single transposed convolution stage of generator
type upsamplingStage struct {
	In, Out       int
	Padding       int
	OutputPadding int
}

const (
	generatorKernel = 8
	generatorStride = 2
)

// generatorUpsampling First stage keeps length (42 => 42), the rest double it: 42 => 84 => 168 => 336
var generatorUpsampling = []upsamplingStage{
	{In: 32, Out: 32, Padding: 24},
	{In: 32, Out: 16, Padding: 3},
	{In: 16, Out: 8, Padding: 3},
	{In: 8, Out: 1, Padding: 3},
}

// GeneratorStageLengths Returns series length before the first upsampling stage and after each of them
func GeneratorStageLengths() []int {
	lengths := make([]int, 0, len(generatorUpsampling)+1)
	length := generatorChannels[2]
	lengths = append(lengths, length)
	for _, stage := range generatorUpsampling {
		length = TransposedConvOutputLength(length, generatorKernel, generatorStride, stage.Padding, stage.OutputPadding)
		lengths = append(lengths, length)
	}
	return lengths
}

// GeneratorNet Abstraction for generator part of GAN
type GeneratorNet struct {
	private *Network
}

// Generator Constructor for GeneratorNet with custom layers
func Generator(Layers ...*Layer) *GeneratorNet {
	return &GeneratorNet{private: &Network{
		Name:   "generator",
		Layers: Layers,
	}}
}

type generatorOptions struct {
	rng *rand.Rand
}

// GeneratorOption Option for NewGenerator
type GeneratorOption func(*generatorOptions)

// WithGeneratorRand Draws initial weights from rng instead of global math/rand source
func WithGeneratorRand(rng *rand.Rand) GeneratorOption {
	return func(opts *generatorOptions) {
		opts.rng = rng
	}
}

// NewGenerator Builds generator of power consumption series: [B, 42] => [B, 1, 336]
//
// Linear(42, 336)+BN+ReLU => Linear(336, 672)+BN+ReLU => Linear(672, 1344)+BN+ReLU =>
// Reshape(32, 1, 42) =>
// ConvT(32, 32)+BN+ReLU => ConvT(32, 16)+BN+ReLU => ConvT(16, 8)+BN+ReLU => ConvT(8, 1)+Tanh =>
// Reshape(1, 336)
//
func NewGenerator(g *gorgonia.ExprGraph, options ...GeneratorOption) (*GeneratorNet, error) {
	opts := generatorOptions{}
	for _, option := range options {
		option(&opts)
	}
	lengths := GeneratorStageLengths()
	if lengths[len(lengths)-1] != SeriesLength {
		return nil, fmt.Errorf("Generator's upsampling gives length %d instead of %d (stages: %v)", lengths[len(lengths)-1], SeriesLength, lengths)
	}
	flatSize := generatorChannels[0] * generatorChannels[1] * generatorChannels[2]
	fcSizes := []int{LatentSize, 336, 672, flatSize}

	layers := make([]*Layer, 0, len(fcSizes)+len(generatorUpsampling)+1)
	for i := 1; i < len(fcSizes); i++ {
		name := fmt.Sprintf("generator_fc%d", i-1)
		fc := NewLinearLayer(g, opts.rng, name, fcSizes[i-1], fcSizes[i], Rectify)
		fc.BatchNorm = NewBatchNorm(g, name, fcSizes[i], false)
		layers = append(layers, fc)
	}
	layers = append(layers, &Layer{
		Name:        "generator_reshape",
		Type:        LayerReshape,
		Activation:  NoActivation,
		ReshapeDims: generatorChannels,
	})
	for i, stage := range generatorUpsampling {
		name := fmt.Sprintf("generator_deconv%d", i)
		last := i == len(generatorUpsampling)-1
		activation := Rectify
		if last {
			activation = Tanh
		}
		deconv, err := NewTransposedConvLayer(g, opts.rng, name, stage.In, stage.Out, generatorKernel, generatorStride, stage.Padding, stage.OutputPadding, activation)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't prepare upsampling stage #%d", i))
		}
		if !last {
			deconv.BatchNorm = NewBatchNorm(g, name, stage.Out, true)
		}
		layers = append(layers, deconv)
	}
	layers = append(layers, &Layer{
		Name:        "generator_series",
		Type:        LayerReshape,
		Activation:  NoActivation,
		ReshapeDims: []int{1, SeriesLength},
	})
	return Generator(layers...), nil
}

// Out Returns reference to output node
func (net *GeneratorNet) Out() *gorgonia.Node {
	return net.private.out
}

// Learnables Returns learnables nodes
func (net *GeneratorNet) Learnables() gorgonia.Nodes {
	return net.private.Learnables()
}

// Layers Returns layers of generator
func (net *GeneratorNet) Layers() []*Layer {
	return net.private.Layers
}

// Fwd Initializates feedforward for provided input
//
// input - Input node [B, 42]
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
// mode - batch normalization mode
//
func (net *GeneratorNet) Fwd(input *gorgonia.Node, batchSize int, mode NormMode) error {
	shp := input.Shape()
	if len(shp) != 2 || shp[0] != batchSize {
		return fmt.Errorf("[Generator] Input must have shape [%d, N], but got %v", batchSize, shp)
	}
	if err := net.private.Fwd(input, batchSize, mode); err != nil {
		return errors.Wrap(err, "[Generator]")
	}
	return nil
}

// CommitStatistics Updates running statistics of batch normalizations by the last ModeTrain feedforward
func (net *GeneratorNet) CommitStatistics() error {
	return net.private.CommitStatistics()
}

// Mirror Creates generator on another graph sharing parameters with this one
func (net *GeneratorNet) Mirror(g *gorgonia.ExprGraph, suffix string) *GeneratorNet {
	return &GeneratorNet{private: net.private.Mirror(g, suffix)}
}
