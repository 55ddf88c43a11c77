package gan_power

import (
	"fmt"
	"image/color"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NormRandDense Return reference to tensor.Dense filled with normally distributed float64 values
//
// rng - source of randomness. If nil then global math/rand source is used
// batchSize - Simply batch size
// n - Number of elements in each batch
// Resulting dense will have batchSize*n elements
//
func NormRandDense(rng *rand.Rand, batchSize, n int) *tensor.Dense {
	data := make([]float64, batchSize*n)
	for i := range data {
		if rng != nil {
			data[i] = rng.NormFloat64()
		} else {
			data[i] = rand.NormFloat64()
		}
	}
	return tensor.New(tensor.WithShape(batchSize, n), tensor.WithBacking(data))
}

// GlorotNormal Glorot (Xavier) normal initializer which draws from rng.
// Fans are evaluated the same way gorgonia.GlorotN does. If rng is nil then gorgonia.GlorotN is returned.
func GlorotNormal(rng *rand.Rand, gain float64) gorgonia.InitWFn {
	if rng == nil {
		return gorgonia.GlorotN(gain)
	}
	return func(dt tensor.Dtype, s ...int) interface{} {
		if len(s) == 0 {
			panic("Glorot initialization needs non-empty shape")
		}
		n1, n2 := 1, s[0]
		fieldSize := 1
		if len(s) >= 2 {
			n1, n2 = s[0], s[1]
			for _, v := range s[2:] {
				fieldSize *= v
			}
		}
		size := tensor.Shape(s).TotalSize()
		stdev := gain * math.Sqrt(2.0/float64((n1+n2)*fieldSize))
		switch dt {
		case tensor.Float32:
			data := make([]float32, size)
			for i := range data {
				data[i] = float32(rng.NormFloat64() * stdev)
			}
			return data
		case tensor.Float64:
			data := make([]float64, size)
			for i := range data {
				data[i] = rng.NormFloat64() * stdev
			}
			return data
		default:
			panic(fmt.Sprintf("Glorot initialization is not implemented for %v", dt))
		}
	}
}

// broadcastAxes Drops batch axis from broadcast pattern when there is nothing to broadcast along it
func broadcastAxes(batchSize int, axes ...byte) []byte {
	pattern := make([]byte, 0, len(axes))
	for _, axis := range axes {
		if axis == 0 && batchSize < 2 {
			continue
		}
		pattern = append(pattern, axis)
	}
	return pattern
}

// broadcastOp Signature shared by gorgonia.BroadcastAdd, gorgonia.BroadcastSub and others
type broadcastOp func(a, b *gorgonia.Node, leftPattern, rightPattern []byte) (*gorgonia.Node, error)

// plainOp Signature shared by gorgonia.Add, gorgonia.Sub and others
type plainOp func(a, b *gorgonia.Node) (*gorgonia.Node, error)

// broadcastRight Applies binary operation where right operand should be repeated along provided axes.
// When there are no axes to repeat along plain operation is used.
func broadcastRight(a, b *gorgonia.Node, batchSize int, bop broadcastOp, pop plainOp, axes ...byte) (*gorgonia.Node, error) {
	pattern := broadcastAxes(batchSize, axes...)
	if len(pattern) == 0 {
		return pop(a, b)
	}
	return bop(a, b, nil, pattern)
}

// denseData Extracts float64 backing slice from gorgonia's value
func denseData(v gorgonia.Value) ([]float64, error) {
	if v == nil {
		return nil, fmt.Errorf("Value is nil")
	}
	data, ok := v.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("Value should hold []float64, but got %T", v.Data())
	}
	return data, nil
}

// seriesPalette Colors for PlotSeries lines
var seriesPalette = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
	{R: 148, G: 103, B: 189, A: 255},
}

// PlotSeries Plot line chart for each provided series against its sample index
//
// title - chart title
// legend - names of series. Could be shorter than series
// fname - output file. Extension defines format (png, svg, pdf...)
//
func PlotSeries(title string, series [][]float64, legend []string, fname string) error {
	if len(series) == 0 {
		return fmt.Errorf("At least one series must be provided")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Step (30 min)"
	p.Y.Label.Text = "Consumption"
	p.Add(plotter.NewGrid())
	for i := range series {
		xys := make(plotter.XYs, len(series[i]))
		for j := range series[i] {
			xys[j].X = float64(j)
			xys[j].Y = series[i][j]
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't init line for series #%d", i))
		}
		line.LineStyle.Color = seriesPalette[i%len(seriesPalette)]
		line.LineStyle.Width = vg.Points(1)
		p.Add(line)
		if i < len(legend) {
			p.Legend.Add(legend[i], line)
		}
	}
	// Week long series are better to be wide
	if err := p.Save(12*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}
