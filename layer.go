package gan_power

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Layer Single stage of network: operation (+bias) => optional batch normalization => activation
//
// WeightNode - weights. Linear: [out, in]. Convolutional and transposed convolutional: [out, in, 1, kernel]
// BiasNode - optional bias. Linear: [1, out]. Convolutional: [1, out, 1, 1]
// KernelWidth, Padding, Stride, OutputPadding - parameters of 1D convolutions
// ReshapeDims - per-sample shape for LayerReshape (batch dimension is prepended)
// Spectral - optional spectral normalization of weights
// BatchNorm - optional batch normalization applied before activation
//
type Layer struct {
	Name       string
	WeightNode *gorgonia.Node
	BiasNode   *gorgonia.Node
	Activation ActivationFunc
	Type       LayerType

	KernelWidth   int
	Padding       int
	Stride        int
	OutputPadding int
	ReshapeDims   []int

	Spectral  *SpectralNorm
	BatchNorm *BatchNorm
}

// ActivationFunc Just an alias to Gorgonia'a api_gen.go - https://github.com/gorgonia/gorgonia/blob/master/api_gen.go#L1
type ActivationFunc func(a *gorgonia.Node) (*gorgonia.Node, error)

func NoActivation(a *gorgonia.Node) (*gorgonia.Node, error) { return a, nil }
func Tanh(a *gorgonia.Node) (*gorgonia.Node, error)         { return gorgonia.Tanh(a) }
func Sigmoid(a *gorgonia.Node) (*gorgonia.Node, error)      { return gorgonia.Sigmoid(a) }
func Rectify(a *gorgonia.Node) (*gorgonia.Node, error)      { return gorgonia.Rectify(a) }

type LayerType uint16

const (
	LayerLinear = LayerType(iota)
	LayerFlatten
	LayerConvolutional
	LayerTransposedConvolutional
	LayerReshape
	LayerBatchNorm
)

func (lt LayerType) String() string {
	switch lt {
	case LayerLinear:
		return "linear"
	case LayerFlatten:
		return "flatten"
	case LayerConvolutional:
		return "conv1d"
	case LayerTransposedConvolutional:
		return "conv_transpose1d"
	case LayerReshape:
		return "reshape"
	case LayerBatchNorm:
		return "batchnorm"
	default:
		return fmt.Sprintf("layer_type_%d", lt)
	}
}

var (
	allowedNoWeights = []LayerType{LayerFlatten, LayerReshape, LayerBatchNorm}
)

func noWeightsAllowed(checkType LayerType) bool {
	return checkLayerType(checkType, allowedNoWeights...)
}

func checkLayerType(checkType LayerType, t ...LayerType) bool {
	for _, typeOf := range t {
		if checkType == typeOf {
			return true
		}
	}
	return false
}

// NewLinearLayer Creates fully-connected layer with Glorot initialized weights and zero bias.
// Weights are drawn from rng (global math/rand source if rng is nil)
func NewLinearLayer(g *gorgonia.ExprGraph, rng *rand.Rand, name string, in, out int, activation ActivationFunc) *Layer {
	return &Layer{
		Name:       name,
		WeightNode: gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(out, in), gorgonia.WithName(name+"_w"), gorgonia.WithInit(GlorotNormal(rng, 1.0))),
		BiasNode:   gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, out), gorgonia.WithName(name+"_b"), gorgonia.WithInit(gorgonia.Zeroes())),
		Type:       LayerLinear,
		Activation: activation,
	}
}

// NewConvLayer Creates 1D convolution layer: [B, in, 1, L] => [B, out, 1, ConvOutputLength(L, ...)]
func NewConvLayer(g *gorgonia.ExprGraph, rng *rand.Rand, name string, in, out, kernel, stride, padding int, activation ActivationFunc) *Layer {
	return &Layer{
		Name:        name,
		WeightNode:  gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(out, in, 1, kernel), gorgonia.WithName(name+"_w"), gorgonia.WithInit(GlorotNormal(rng, 1.0))),
		BiasNode:    gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, out, 1, 1), gorgonia.WithName(name+"_b"), gorgonia.WithInit(gorgonia.Zeroes())),
		Type:        LayerConvolutional,
		Activation:  activation,
		KernelWidth: kernel,
		Stride:      stride,
		Padding:     padding,
	}
}

// NewTransposedConvLayer Creates 1D transposed convolution layer: [B, in, 1, L] => [B, out, 1, TransposedConvOutputLength(L, ...)]
// Weights are kept as equivalent correlation kernel, see TransposedKernelFromTorch
func NewTransposedConvLayer(g *gorgonia.ExprGraph, rng *rand.Rand, name string, in, out, kernel, stride, padding, outputPadding int, activation ActivationFunc) (*Layer, error) {
	if outputPadding < 0 || outputPadding >= stride {
		return nil, fmt.Errorf("Output padding must be in [0; stride), but got %d for stride %d", outputPadding, stride)
	}
	if padding < 0 {
		return nil, fmt.Errorf("Padding must be non-negative, but got %d", padding)
	}
	return &Layer{
		Name:          name,
		WeightNode:    gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(out, in, 1, kernel), gorgonia.WithName(name+"_w"), gorgonia.WithInit(GlorotNormal(rng, 1.0))),
		BiasNode:      gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, out, 1, 1), gorgonia.WithName(name+"_b"), gorgonia.WithInit(gorgonia.Zeroes())),
		Type:          LayerTransposedConvolutional,
		Activation:    activation,
		KernelWidth:   kernel,
		Stride:        stride,
		Padding:       padding,
		OutputPadding: outputPadding,
	}, nil
}

// weight Returns weights to be used in feedforward: raw or spectral normalized ones
func (l *Layer) weight() (*gorgonia.Node, error) {
	if l.Spectral == nil {
		return l.WeightNode, nil
	}
	return l.Spectral.Normalize(l.WeightNode, l.Name)
}

// Fwd Feedforward input through layer. Activation is not applied here.
//
// input - Input node
// batchSize - batch size. If it's >= 2 then broadcast function will be applied for bias
// mode - mode for batch normalization
//
func (l *Layer) Fwd(input *gorgonia.Node, batchSize int, mode NormMode) (*gorgonia.Node, error) {
	if l.WeightNode == nil && !noWeightsAllowed(l.Type) {
		return nil, fmt.Errorf("Layer '%s' of type '%s' has nil WeightNode", l.Name, l.Type)
	}
	if l.Type == LayerBatchNorm && l.BatchNorm == nil {
		return nil, fmt.Errorf("Layer '%s' of type '%s' has nil BatchNorm", l.Name, l.Type)
	}
	var err error
	var out *gorgonia.Node
	switch l.Type {
	case LayerLinear:
		weight, err := l.weight()
		if err != nil {
			return nil, errors.Wrap(err, "Can't prepare weights")
		}
		tOp, err := gorgonia.Transpose(weight)
		if err != nil {
			return nil, errors.Wrap(err, "Can't transpose weights")
		}
		out, err = gorgonia.Mul(input, tOp)
		if err != nil {
			return nil, errors.Wrap(err, "Can't multiply input and weights")
		}
		if l.BiasNode != nil {
			out, err = broadcastRight(out, l.BiasNode, batchSize, gorgonia.BroadcastAdd, gorgonia.Add, 0)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("Can't add bias [batch_size = %d]", batchSize))
			}
		}
	case LayerConvolutional, LayerTransposedConvolutional:
		weight, err := l.weight()
		if err != nil {
			return nil, errors.Wrap(err, "Can't prepare weights")
		}
		if l.Type == LayerConvolutional {
			out, err = conv1d(input, weight, l.KernelWidth, l.Stride, l.Padding)
			if err != nil {
				return nil, errors.Wrap(err, "Can't convolve[1D] input by kernel")
			}
		} else {
			out, err = transposedConv1d(input, weight, batchSize, l.KernelWidth, l.Stride, l.Padding, l.OutputPadding, l.Name)
			if err != nil {
				return nil, errors.Wrap(err, "Can't do transposed convolution[1D] of input by kernel")
			}
		}
		if l.BiasNode != nil {
			out, err = broadcastRight(out, l.BiasNode, batchSize, gorgonia.BroadcastAdd, gorgonia.Add, 0, 3)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("Can't add bias [batch_size = %d]", batchSize))
			}
		}
	case LayerFlatten:
		out, err = FlattenNode(input, batchSize)
		if err != nil {
			return nil, errors.Wrap(err, "Can't flatten input")
		}
	case LayerReshape:
		out, err = ReshapeNode(input, batchSize, l.ReshapeDims)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't reshape input of shape %v to per-sample shape %v", input.Shape(), l.ReshapeDims))
		}
	case LayerBatchNorm:
		out = input
	default:
		return nil, fmt.Errorf("Layer's type '%d' (uint16) is not handled", l.Type)
	}
	if l.BatchNorm != nil {
		out, err = l.BatchNorm.Fwd(out, batchSize, mode, l.Name)
		if err != nil {
			return nil, errors.Wrap(err, "Can't normalize output")
		}
	}
	return out, nil
}

// Learnables Returns learnables nodes of layer
func (l *Layer) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 4)
	if l.WeightNode != nil {
		learnables = append(learnables, l.WeightNode)
	}
	if l.BiasNode != nil {
		learnables = append(learnables, l.BiasNode)
	}
	if l.BatchNorm != nil {
		learnables = append(learnables, l.BatchNorm.Gamma, l.BatchNorm.Beta)
	}
	return learnables
}

// mirror Creates copy of layer on another graph. Parameter nodes share values with original ones
func (l *Layer) mirror(g *gorgonia.ExprGraph, suffix string) *Layer {
	m := &Layer{
		Name:          l.Name + suffix,
		Activation:    l.Activation,
		Type:          l.Type,
		KernelWidth:   l.KernelWidth,
		Padding:       l.Padding,
		Stride:        l.Stride,
		OutputPadding: l.OutputPadding,
		ReshapeDims:   l.ReshapeDims,
		Spectral:      l.Spectral,
	}
	if l.WeightNode != nil {
		m.WeightNode = mirrorNode(g, l.WeightNode, suffix)
	}
	if l.BiasNode != nil {
		m.BiasNode = mirrorNode(g, l.BiasNode, suffix)
	}
	if l.BatchNorm != nil {
		m.BatchNorm = l.BatchNorm.mirror(g, suffix)
	}
	return m
}

func mirrorNode(g *gorgonia.ExprGraph, n *gorgonia.Node, suffix string) *gorgonia.Node {
	return gorgonia.NewTensor(g, gorgonia.Float64, n.Dims(), gorgonia.WithShape(n.Shape()...), gorgonia.WithName(n.Name()+suffix), gorgonia.WithValue(n.Value()))
}
