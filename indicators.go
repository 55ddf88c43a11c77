package gan_power

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// IndicatorsSize Width of indicators vector
const IndicatorsSize = 5

// IndicatorExtractor Derives statistical summary of series inside of the graph
//
// Size - width of summary vector
// Extract - [B, 1, L] => [B, Size()]
//
type IndicatorExtractor interface {
	Size() int
	Extract(signals *gorgonia.Node, batchSize int) (*gorgonia.Node, error)
}

// PowerIndicators Default indicators of power consumption series:
// mean, standard deviation, maximum, minimum and mean absolute step between neighbour samples.
type PowerIndicators struct{}

// stdEpsilon Keeps gradient of sqrt finite for flat series
const stdEpsilon = 1e-8

// Size Returns IndicatorsSize
func (PowerIndicators) Size() int {
	return IndicatorsSize
}

// Extract Adds indicators evaluation to the graph of provided signals
func (PowerIndicators) Extract(signals *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	length := signals.Shape().TotalSize() / batchSize
	if length < 2 {
		return nil, fmt.Errorf("Series should have 2 samples atleast, but got %d", length)
	}
	flat, err := gorgonia.Reshape(signals, tensor.Shape{batchSize, length})
	if err != nil {
		return nil, errors.Wrap(err, "Can't flatten signals")
	}

	mean, err := gorgonia.Mean(flat, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate mean")
	}
	meanCol, err := gorgonia.Reshape(mean, tensor.Shape{batchSize, 1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape mean")
	}
	centered, err := gorgonia.BroadcastSub(flat, meanCol, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (X-mean)")
	}
	sqr, err := gorgonia.Square(centered)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (X-mean)^2")
	}
	variance, err := gorgonia.Mean(sqr, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate variance")
	}
	shifted, err := gorgonia.Add(variance, gorgonia.NewConstant(stdEpsilon))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (var+eps)")
	}
	std, err := gorgonia.Sqrt(shifted)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate standard deviation")
	}

	maxValue, err := gorgonia.Max(flat, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate maximum")
	}
	negated, err := gorgonia.Neg(flat)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	negatedMax, err := gorgonia.Max(negated, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate minimum")
	}
	minValue, err := gorgonia.Neg(negatedMax)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}

	stepsMatrix := gorgonia.NewConstant(stepsOperator(length), gorgonia.WithName(fmt.Sprintf("indicators_steps_%d", length)))
	steps, err := gorgonia.Mul(flat, stepsMatrix)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate steps between samples")
	}
	absSteps, err := gorgonia.Abs(steps)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do |x|")
	}
	ramp, err := gorgonia.Mean(absSteps, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate mean absolute step")
	}

	columns := make(gorgonia.Nodes, 0, IndicatorsSize)
	for i, indicator := range []*gorgonia.Node{mean, std, maxValue, minValue, ramp} {
		column, err := gorgonia.Reshape(indicator, tensor.Shape{batchSize, 1})
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't reshape indicator #%d", i))
		}
		columns = append(columns, column)
	}
	indicators, err := gorgonia.Concat(1, columns...)
	if err != nil {
		return nil, errors.Wrap(err, "Can't concatenate indicators")
	}
	return indicators, nil
}

// stepsOperator Returns [length, length-1] matrix D such that (x@D)[t] = x[t+1] - x[t]
func stepsOperator(length int) *tensor.Dense {
	width := length - 1
	data := make([]float64, length*width)
	for t := 0; t < width; t++ {
		data[t*width+t] = -1
		data[(t+1)*width+t] = 1
	}
	return tensor.New(tensor.WithShape(length, width), tensor.WithBacking(data))
}

// ComputeIndicators Value-level version of PowerIndicators for a single series
func ComputeIndicators(series []float64) []float64 {
	if len(series) == 0 {
		return make([]float64, IndicatorsSize)
	}
	mean, std := stat.PopMeanStdDev(series, nil)
	ramp := 0.0
	for t := 1; t < len(series); t++ {
		ramp += math.Abs(series[t] - series[t-1])
	}
	if len(series) > 1 {
		ramp /= float64(len(series) - 1)
	}
	return []float64{mean, std, floats.Max(series), floats.Min(series), ramp}
}

// ExtractIndicators Evaluates ComputeIndicators for every series of batch [B, ...] => [B, 5]
func ExtractIndicators(signals *tensor.Dense) (*tensor.Dense, error) {
	shp := signals.Shape()
	if len(shp) < 2 {
		return nil, fmt.Errorf("Signals should have shape [B, ...], but got %v", shp)
	}
	batchSize := shp[0]
	length := shp.TotalSize() / batchSize
	data, err := denseData(signals)
	if err != nil {
		return nil, errors.Wrap(err, "Can't access signals")
	}
	// Views (slices of bigger tensors) have to be materialized first
	if len(data) < batchSize*length || signals.IsView() {
		data = signals.Materialize().Data().([]float64)
	}
	out := make([]float64, 0, batchSize*IndicatorsSize)
	for b := 0; b < batchSize; b++ {
		out = append(out, ComputeIndicators(data[b*length:(b+1)*length])...)
	}
	return tensor.New(tensor.WithShape(batchSize, IndicatorsSize), tensor.WithBacking(out)), nil
}

// IndicatorsGap Mean absolute difference between batch means of indicators of two sets of series
func IndicatorsGap(real, fake *tensor.Dense) ([]float64, error) {
	realIndicators, err := ExtractIndicators(real)
	if err != nil {
		return nil, errors.Wrap(err, "Can't extract indicators of real series")
	}
	fakeIndicators, err := ExtractIndicators(fake)
	if err != nil {
		return nil, errors.Wrap(err, "Can't extract indicators of generated series")
	}
	gap := make([]float64, IndicatorsSize)
	realData := realIndicators.Data().([]float64)
	fakeData := fakeIndicators.Data().([]float64)
	column := func(data []float64, j int) []float64 {
		col := make([]float64, 0, len(data)/IndicatorsSize)
		for i := j; i < len(data); i += IndicatorsSize {
			col = append(col, data[i])
		}
		return col
	}
	for j := range gap {
		gap[j] = math.Abs(stat.Mean(column(realData, j), nil) - stat.Mean(column(fakeData, j), nil))
	}
	return gap, nil
}
