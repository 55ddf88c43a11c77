package gan_power

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	discriminatorKernel  = 8
	discriminatorStride  = 2
	discriminatorPadding = 3
	// reducedLength Series length after the last downsampling stage
	reducedLength = 42
	// signalFeatures Width of signal branch output
	signalFeatures = 25
)

// discriminatorChannels Channels of signal branch convolutions: 1 => 8 => 16 => 32
var discriminatorChannels = []int{1, 8, 16, 32}

// DiscriminatorStageLengths Returns series length before the first downsampling stage and after each of them
func DiscriminatorStageLengths() []int {
	lengths := []int{SeriesLength}
	length := SeriesLength
	for i := 1; i < len(discriminatorChannels); i++ {
		length = ConvOutputLength(length, discriminatorKernel, discriminatorStride, discriminatorPadding)
		lengths = append(lengths, length)
	}
	return lengths
}

// DiscriminatorNet Abstraction for discriminator (critic) part of GAN.
//
// signal - convolutional branch over raw series
// indicators - branch over statistical indicators of series
// funnel - fusion head over concatenated outputs of both branches
// out - validity score [B]
//
type DiscriminatorNet struct {
	signal     *Network
	indicators *Network
	funnel     *Network
	extractor  IndicatorExtractor
	out        *gorgonia.Node
}

type discriminatorOptions struct {
	extractor IndicatorExtractor
	output    ActivationFunc
	rng       *rand.Rand
}

// DiscriminatorOption Option for NewDiscriminator
type DiscriminatorOption func(*discriminatorOptions)

// WithIndicatorExtractor Replaces default PowerIndicators
func WithIndicatorExtractor(extractor IndicatorExtractor) DiscriminatorOption {
	return func(opts *discriminatorOptions) {
		opts.extractor = extractor
	}
}

// WithDiscriminatorRand Draws initial weights and spectral normalization vectors from rng instead of global math/rand source
func WithDiscriminatorRand(rng *rand.Rand) DiscriminatorOption {
	return func(opts *discriminatorOptions) {
		opts.rng = rng
	}
}

// WithSigmoidOutput Squashes score into (0, 1) for probability-like output. By default score is unbounded.
func WithSigmoidOutput() DiscriminatorOption {
	return func(opts *discriminatorOptions) {
		opts.output = Sigmoid
	}
}

// NewDiscriminator Builds discriminator of power consumption series: [B, 1, 336] => [B]
//
// Signal branch: Reshape(1, 1, 336) => SN-Conv(1, 8)+ReLU => SN-Conv(8, 16)+ReLU => SN-Conv(16, 32)+ReLU =>
// Flatten(1344) => SN-Linear(1344, 672)+ReLU => SN-Linear(672, 336)+ReLU => SN-Linear(336, 25)+ReLU
//
// Indicator branch: Indicators(5) => BN(5) => (SN-Linear(5, 5)+ReLU) x 3
//
// Funnel: Concat(30) => SN-Linear(30, 10)+ReLU => SN-Linear(10, 5)+ReLU => SN-Linear(5, 1) => Reshape(B)
//
func NewDiscriminator(g *gorgonia.ExprGraph, options ...DiscriminatorOption) (*DiscriminatorNet, error) {
	opts := discriminatorOptions{
		extractor: PowerIndicators{},
		output:    NoActivation,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.extractor == nil {
		return nil, fmt.Errorf("Indicator extractor must be provided")
	}
	if opts.extractor.Size() != IndicatorsSize {
		return nil, fmt.Errorf("Indicator extractor gives %d indicators, but discriminator expects %d", opts.extractor.Size(), IndicatorsSize)
	}
	lengths := DiscriminatorStageLengths()
	lastLength := lengths[len(lengths)-1]
	if lastLength != reducedLength {
		return nil, fmt.Errorf("Discriminator's downsampling gives length %d instead of %d (stages: %v)", lastLength, reducedLength, lengths)
	}

	/* Signal branch */
	signalLayers := []*Layer{{
		Name:        "discriminator_signal_reshape",
		Type:        LayerReshape,
		Activation:  NoActivation,
		ReshapeDims: []int{1, 1, SeriesLength},
	}}
	for i := 1; i < len(discriminatorChannels); i++ {
		conv := NewConvLayer(g, opts.rng, fmt.Sprintf("discriminator_conv%d", i-1), discriminatorChannels[i-1], discriminatorChannels[i], discriminatorKernel, discriminatorStride, discriminatorPadding, Rectify)
		if err := spectralNormalized(conv, opts.rng); err != nil {
			return nil, err
		}
		signalLayers = append(signalLayers, conv)
	}
	signalLayers = append(signalLayers, &Layer{
		Name:       "discriminator_signal_flatten",
		Type:       LayerFlatten,
		Activation: NoActivation,
	})
	flatSize := discriminatorChannels[len(discriminatorChannels)-1] * lastLength
	signalFC, err := spectralStack(g, opts.rng, "discriminator_signal_fc", []int{flatSize, 672, 336, signalFeatures}, Rectify)
	if err != nil {
		return nil, err
	}
	signalLayers = append(signalLayers, signalFC...)

	/* Indicator branch */
	indicatorLayers := []*Layer{{
		Name:       "discriminator_indicators_bn",
		Type:       LayerBatchNorm,
		Activation: NoActivation,
		BatchNorm:  NewBatchNorm(g, "discriminator_indicators", IndicatorsSize, false),
	}}
	indicatorFC, err := spectralStack(g, opts.rng, "discriminator_indicators_fc", []int{IndicatorsSize, IndicatorsSize, IndicatorsSize, IndicatorsSize}, Rectify)
	if err != nil {
		return nil, err
	}
	indicatorLayers = append(indicatorLayers, indicatorFC...)

	/* Funnel */
	funnelLayers, err := spectralStack(g, opts.rng, "discriminator_funnel_fc", []int{signalFeatures + IndicatorsSize, 10, 5}, Rectify)
	if err != nil {
		return nil, err
	}
	score := NewLinearLayer(g, opts.rng, "discriminator_score", 5, 1, opts.output)
	if err := spectralNormalized(score, opts.rng); err != nil {
		return nil, err
	}
	funnelLayers = append(funnelLayers, score)

	return &DiscriminatorNet{
		signal:     &Network{Name: "discriminator_signal", Layers: signalLayers},
		indicators: &Network{Name: "discriminator_indicators", Layers: indicatorLayers},
		funnel:     &Network{Name: "discriminator_funnel", Layers: funnelLayers},
		extractor:  opts.extractor,
	}, nil
}

// spectralStack Creates sequence of spectral normalized fully-connected layers with sizes[i] => sizes[i+1]
func spectralStack(g *gorgonia.ExprGraph, rng *rand.Rand, name string, sizes []int, activation ActivationFunc) ([]*Layer, error) {
	layers := make([]*Layer, 0, len(sizes)-1)
	for i := 1; i < len(sizes); i++ {
		fc := NewLinearLayer(g, rng, fmt.Sprintf("%s%d", name, i-1), sizes[i-1], sizes[i], activation)
		if err := spectralNormalized(fc, rng); err != nil {
			return nil, err
		}
		layers = append(layers, fc)
	}
	return layers, nil
}

func spectralNormalized(l *Layer, rng *rand.Rand) error {
	sn, err := NewSpectralNorm(l.WeightNode, rng)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't apply spectral normalization to layer '%s'", l.Name))
	}
	l.Spectral = sn
	return nil
}

// Out Returns reference to output node
func (net *DiscriminatorNet) Out() *gorgonia.Node {
	return net.out
}

// Learnables Returns learnables nodes
func (net *DiscriminatorNet) Learnables() gorgonia.Nodes {
	learnables := net.signal.Learnables()
	learnables = append(learnables, net.indicators.Learnables()...)
	return append(learnables, net.funnel.Learnables()...)
}

// Fwd Initializates feedforward for provided input
//
// input - Input node [B, 1, 336]
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
// mode - batch normalization mode of indicator branch
//
func (net *DiscriminatorNet) Fwd(input *gorgonia.Node, batchSize int, mode NormMode) error {
	shp := input.Shape()
	if len(shp) != 3 || shp[0] != batchSize || shp[1] != 1 || shp[2] != SeriesLength {
		return fmt.Errorf("[Discriminator] Input must have shape [%d, 1, %d], but got %v", batchSize, SeriesLength, shp)
	}
	if err := net.signal.Fwd(input, batchSize, mode); err != nil {
		return errors.Wrap(err, "[Discriminator]")
	}
	indicators, err := net.extractor.Extract(input, batchSize)
	if err != nil {
		return errors.Wrap(err, "[Discriminator] Can't extract indicators")
	}
	if indShape := indicators.Shape(); len(indShape) != 2 || indShape[0] != batchSize || indShape[1] != IndicatorsSize {
		return fmt.Errorf("[Discriminator] Indicators must have shape [%d, %d], but got %v", batchSize, IndicatorsSize, indShape)
	}
	gorgonia.WithName(net.indicators.Name + "_input")(indicators)
	if err := net.indicators.Fwd(indicators, batchSize, mode); err != nil {
		return errors.Wrap(err, "[Discriminator]")
	}
	fused, err := gorgonia.Concat(1, net.signal.Out(), net.indicators.Out())
	if err != nil {
		return errors.Wrap(err, "[Discriminator] Can't concatenate signal and indicator features")
	}
	if fusedShape := fused.Shape(); fusedShape[1] != signalFeatures+IndicatorsSize {
		return fmt.Errorf("[Discriminator] Fused features must have width %d, but got %v", signalFeatures+IndicatorsSize, fusedShape)
	}
	if err := net.funnel.Fwd(fused, batchSize, mode); err != nil {
		return errors.Wrap(err, "[Discriminator]")
	}
	net.out, err = gorgonia.Reshape(net.funnel.Out(), tensor.Shape{batchSize})
	if err != nil {
		return errors.Wrap(err, "[Discriminator] Can't squeeze scores")
	}
	gorgonia.WithName(net.funnel.Name + "_score")(net.out)
	return nil
}

// PowerIterate Refines spectral normalization of every layer. Should be called before each training run.
func (net *DiscriminatorNet) PowerIterate() error {
	for _, part := range []*Network{net.signal, net.indicators, net.funnel} {
		if err := part.PowerIterate(); err != nil {
			return errors.Wrap(err, "[Discriminator]")
		}
	}
	return nil
}

// CommitStatistics Updates running statistics of batch normalization by the last ModeTrain feedforward
func (net *DiscriminatorNet) CommitStatistics() error {
	return net.indicators.CommitStatistics()
}

// Mirror Creates discriminator on another graph sharing parameters with this one
func (net *DiscriminatorNet) Mirror(g *gorgonia.ExprGraph, suffix string) *DiscriminatorNet {
	return &DiscriminatorNet{
		signal:     net.signal.Mirror(g, suffix),
		indicators: net.indicators.Mirror(g, suffix),
		funnel:     net.funnel.Mirror(g, suffix),
		extractor:  net.extractor,
	}
}
