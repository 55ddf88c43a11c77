package gan_power

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NormMode Mode of batch normalization
type NormMode uint8

const (
	// ModeTrain Normalize by statistics of current batch. Running statistics are updated on Commit()
	ModeTrain = NormMode(iota)
	// ModeEval Normalize by frozen running statistics
	ModeEval
)

func (m NormMode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeEval:
		return "eval"
	default:
		return fmt.Sprintf("norm_mode_%d", m)
	}
}

// BatchNorm Batch normalization for [B, F] matrices (per feature) or [B, C, 1, L] tensors (per channel)
//
// Gamma, Beta - learnable affine parameters
// RunningMean, RunningVar - statistics used in ModeEval. Shared by every mirror
//
type BatchNorm struct {
	Features int
	Spatial  bool
	Momentum float64
	Epsilon  float64

	Gamma *gorgonia.Node
	Beta  *gorgonia.Node

	RunningMean *tensor.Dense
	RunningVar  *tensor.Dense

	batchMean  gorgonia.Value
	batchVar   gorgonia.Value
	batchCount int
}

// NewBatchNorm Creates batch normalization for given number of features (or channels when spatial is true)
func NewBatchNorm(g *gorgonia.ExprGraph, name string, features int, spatial bool) *BatchNorm {
	shp := paramShape(features, spatial)
	ones := make([]float64, features)
	for i := range ones {
		ones[i] = 1
	}
	return &BatchNorm{
		Features:    features,
		Spatial:     spatial,
		Momentum:    0.1,
		Epsilon:     1e-5,
		Gamma:       gorgonia.NewTensor(g, gorgonia.Float64, len(shp), gorgonia.WithShape(shp...), gorgonia.WithName(name+"_bn_gamma"), gorgonia.WithInit(gorgonia.Ones())),
		Beta:        gorgonia.NewTensor(g, gorgonia.Float64, len(shp), gorgonia.WithShape(shp...), gorgonia.WithName(name+"_bn_beta"), gorgonia.WithInit(gorgonia.Zeroes())),
		RunningMean: tensor.New(tensor.WithShape(shp...), tensor.WithBacking(make([]float64, features))),
		RunningVar:  tensor.New(tensor.WithShape(shp...), tensor.WithBacking(ones)),
	}
}

func paramShape(features int, spatial bool) tensor.Shape {
	if spatial {
		return tensor.Shape{1, features, 1, 1}
	}
	return tensor.Shape{1, features}
}

// axes Axes statistics are computed along (and broadcasted along afterwards)
func (bn *BatchNorm) axes() []byte {
	if bn.Spatial {
		return []byte{0, 3}
	}
	return []byte{0}
}

// Fwd Normalizes input
//
// input - [B, Features] or [B, Features, 1, L] node
// batchSize - batch size
// mode - ModeTrain uses batch statistics, ModeEval uses running ones
// name - prefix for names of created nodes
//
func (bn *BatchNorm) Fwd(input *gorgonia.Node, batchSize int, mode NormMode, name string) (*gorgonia.Node, error) {
	shp := input.Shape()
	if bn.Spatial && (len(shp) != 4 || shp[1] != bn.Features || shp[2] != 1) {
		return nil, fmt.Errorf("Batch normalization expects [B, %d, 1, L], but got %v", bn.Features, shp)
	}
	if !bn.Spatial && (len(shp) != 2 || shp[1] != bn.Features) {
		return nil, fmt.Errorf("Batch normalization expects [B, %d], but got %v", bn.Features, shp)
	}
	g := input.Graph()
	pShape := paramShape(bn.Features, bn.Spatial)
	axes := bn.axes()

	var centered, variance *gorgonia.Node
	var err error
	switch mode {
	case ModeTrain:
		batchMean, err := meanAlong(input)
		if err != nil {
			return nil, errors.Wrap(err, "Can't evaluate batch mean")
		}
		gorgonia.WithName(name + "_bn_batch_mean")(batchMean)
		gorgonia.Read(batchMean, &bn.batchMean)
		mean, err := gorgonia.Reshape(batchMean, pShape)
		if err != nil {
			return nil, errors.Wrap(err, "Can't reshape batch mean")
		}
		centered, err = broadcastRight(input, mean, batchSize, gorgonia.BroadcastSub, gorgonia.Sub, axes...)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (X-mean)")
		}
		sqr, err := gorgonia.Square(centered)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (X-mean)^2")
		}
		batchVar, err := meanAlong(sqr)
		if err != nil {
			return nil, errors.Wrap(err, "Can't evaluate batch variance")
		}
		gorgonia.WithName(name + "_bn_batch_var")(batchVar)
		gorgonia.Read(batchVar, &bn.batchVar)
		variance, err = gorgonia.Reshape(batchVar, pShape)
		if err != nil {
			return nil, errors.Wrap(err, "Can't reshape batch variance")
		}
		bn.batchCount = shp.TotalSize() / bn.Features
	case ModeEval:
		mean := gorgonia.NewTensor(g, gorgonia.Float64, len(pShape), gorgonia.WithShape(pShape...), gorgonia.WithName(name+"_bn_running_mean"), gorgonia.WithValue(bn.RunningMean))
		variance = gorgonia.NewTensor(g, gorgonia.Float64, len(pShape), gorgonia.WithShape(pShape...), gorgonia.WithName(name+"_bn_running_var"), gorgonia.WithValue(bn.RunningVar))
		centered, err = broadcastRight(input, mean, batchSize, gorgonia.BroadcastSub, gorgonia.Sub, axes...)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (X-mean)")
		}
	default:
		return nil, fmt.Errorf("Normalization mode '%s' is not handled", mode)
	}

	shifted, err := gorgonia.Add(variance, gorgonia.NewConstant(bn.Epsilon))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (var+eps)")
	}
	std, err := gorgonia.Sqrt(shifted)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sqrt(var+eps)")
	}
	normalized, err := broadcastRight(centered, std, batchSize, gorgonia.BroadcastHadamardDiv, gorgonia.HadamardDiv, axes...)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (X-mean)/std")
	}
	scaled, err := broadcastRight(normalized, bn.Gamma, batchSize, gorgonia.BroadcastHadamardProd, gorgonia.HadamardProd, axes...)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (gamma*X)")
	}
	out, err := broadcastRight(scaled, bn.Beta, batchSize, gorgonia.BroadcastAdd, gorgonia.Add, axes...)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (X+beta)")
	}
	return out, nil
}

// Commit Folds statistics of the last ModeTrain batch into running statistics.
// Does nothing if there was no ModeTrain feedforward.
func (bn *BatchNorm) Commit() error {
	if bn.batchMean == nil || bn.batchVar == nil {
		return nil
	}
	mean, err := denseData(bn.batchMean)
	if err != nil {
		return errors.Wrap(err, "Can't access batch mean")
	}
	variance, err := denseData(bn.batchVar)
	if err != nil {
		return errors.Wrap(err, "Can't access batch variance")
	}
	runningMean := bn.RunningMean.Data().([]float64)
	runningVar := bn.RunningVar.Data().([]float64)
	if len(mean) != len(runningMean) || len(variance) != len(runningVar) {
		return fmt.Errorf("Batch statistics have %d/%d elements, but running ones have %d", len(mean), len(variance), len(runningMean))
	}
	unbias := 1.0
	if bn.batchCount > 1 {
		unbias = float64(bn.batchCount) / float64(bn.batchCount-1)
	}
	for i := range runningMean {
		runningMean[i] = (1-bn.Momentum)*runningMean[i] + bn.Momentum*mean[i]
		runningVar[i] = (1-bn.Momentum)*runningVar[i] + bn.Momentum*variance[i]*unbias
	}
	return nil
}

func (bn *BatchNorm) mirror(g *gorgonia.ExprGraph, suffix string) *BatchNorm {
	return &BatchNorm{
		Features:    bn.Features,
		Spatial:     bn.Spatial,
		Momentum:    bn.Momentum,
		Epsilon:     bn.Epsilon,
		Gamma:       mirrorNode(g, bn.Gamma, suffix),
		Beta:        mirrorNode(g, bn.Beta, suffix),
		RunningMean: bn.RunningMean,
		RunningVar:  bn.RunningVar,
	}
}

// meanAlong Reduces by mean along every axis except the feature one (axis 1).
// Reductions are done one axis at a time starting from the last one.
func meanAlong(input *gorgonia.Node) (*gorgonia.Node, error) {
	reduce := make([]int, 0, input.Dims())
	for axis := 0; axis < input.Dims(); axis++ {
		if axis != 1 {
			reduce = append(reduce, axis)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(reduce)))
	out := input
	var err error
	for _, axis := range reduce {
		out, err = gorgonia.Mean(out, axis)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't reduce along axis %d", axis))
		}
	}
	return out, nil
}
