package gan_power

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
)

func TestConvLengths(t *testing.T) {
	assert.Equal(t, 168, ConvOutputLength(336, 8, 2, 3))
	assert.Equal(t, 84, ConvOutputLength(168, 8, 2, 3))
	assert.Equal(t, 42, ConvOutputLength(84, 8, 2, 3))

	assert.Equal(t, 42, TransposedConvOutputLength(42, 8, 2, 24, 0))
	assert.Equal(t, 84, TransposedConvOutputLength(42, 8, 2, 3, 0))
	assert.Equal(t, 168, TransposedConvOutputLength(84, 8, 2, 3, 0))
	assert.Equal(t, 336, TransposedConvOutputLength(168, 8, 2, 3, 0))
	assert.Equal(t, 85, TransposedConvOutputLength(42, 8, 2, 3, 1))
}

func TestStageLengths(t *testing.T) {
	assert.Equal(t, []int{42, 42, 84, 168, 336}, GeneratorStageLengths())
	assert.Equal(t, []int{336, 168, 84, 42}, DiscriminatorStageLengths())
}

// naiveConv1d Direct loops: x [B, C, L], w [O, C, K]
func naiveConv1d(x []float64, batch, channels, length int, w []float64, out, kernel, stride, padding int) []float64 {
	outLength := ConvOutputLength(length, kernel, stride, padding)
	y := make([]float64, batch*out*outLength)
	for b := 0; b < batch; b++ {
		for o := 0; o < out; o++ {
			for t := 0; t < outLength; t++ {
				sum := 0.0
				for c := 0; c < channels; c++ {
					for j := 0; j < kernel; j++ {
						pos := t*stride + j - padding
						if pos < 0 || pos >= length {
							continue
						}
						sum += x[(b*channels+c)*length+pos] * w[(o*channels+c)*kernel+j]
					}
				}
				y[(b*out+o)*outLength+t] = sum
			}
		}
	}
	return y
}

// naiveTransposedConv1d Direct loops: x [B, C, L], w [C, O, K] (scatter form)
func naiveTransposedConv1d(x []float64, batch, channels, length int, w []float64, out, kernel, stride, padding, outputPadding int) []float64 {
	outLength := TransposedConvOutputLength(length, kernel, stride, padding, outputPadding)
	y := make([]float64, batch*out*outLength)
	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			for l := 0; l < length; l++ {
				for o := 0; o < out; o++ {
					for j := 0; j < kernel; j++ {
						pos := l*stride - padding + j
						if pos < 0 || pos >= outLength {
							continue
						}
						y[(b*out+o)*outLength+pos] += x[(b*channels+c)*length+l] * w[(c*out+o)*kernel+j]
					}
				}
			}
		}
	}
	return y
}

func TestConv1dMatchesDirectLoops(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	batch, channels, length := 2, 3, 10
	out, kernel, stride, padding := 4, 5, 2, 1

	g := gorgonia.NewGraph()
	x := randomDense(rng, batch, channels, 1, length)
	w := randomDense(rng, out, channels, 1, kernel)
	input := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(x.Shape()...), gorgonia.WithValue(x))
	filter := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(w.Shape()...), gorgonia.WithValue(w))

	y, err := conv1d(input, filter, kernel, stride, padding)
	require.NoError(t, err)
	outLength := ConvOutputLength(length, kernel, stride, padding)
	assert.Equal(t, []int{batch, out, 1, outLength}, []int(y.Shape()))

	values := runGraph(t, g, y)
	expected := naiveConv1d(x.Data().([]float64), batch, channels, length, w.Data().([]float64), out, kernel, stride, padding)
	assert.InDeltaSlice(t, expected, valueOf(t, values[0]), 1e-9)
}

func TestTransposedConv1dMatchesDirectLoops(t *testing.T) {
	cases := []struct {
		name                                     string
		batch, channels, length                  int
		out, kernel, stride, padding, outPadding int
	}{
		{name: "doubling", batch: 2, channels: 3, length: 5, out: 2, kernel: 4, stride: 2, padding: 1},
		{name: "output_padding", batch: 1, channels: 2, length: 5, out: 3, kernel: 4, stride: 2, padding: 1, outPadding: 1},
		{name: "length_keeping", batch: 2, channels: 2, length: 42, out: 3, kernel: 8, stride: 2, padding: 24},
		{name: "generator_stage", batch: 1, channels: 2, length: 42, out: 1, kernel: 8, stride: 2, padding: 3},
	}
	rng := rand.New(rand.NewSource(4))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := gorgonia.NewGraph()
			x := randomDense(rng, tc.batch, tc.channels, 1, tc.length)
			torchWeights := randomDense(rng, tc.channels, tc.out, tc.kernel).Data().([]float64)
			w, err := TransposedKernelFromTorch(torchWeights, tc.channels, tc.out, tc.kernel)
			require.NoError(t, err)

			input := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(x.Shape()...), gorgonia.WithValue(x))
			filter := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(w.Shape()...), gorgonia.WithValue(w))
			y, err := transposedConv1d(input, filter, tc.batch, tc.kernel, tc.stride, tc.padding, tc.outPadding, "deconv")
			require.NoError(t, err)
			outLength := TransposedConvOutputLength(tc.length, tc.kernel, tc.stride, tc.padding, tc.outPadding)
			assert.Equal(t, []int{tc.batch, tc.out, 1, outLength}, []int(y.Shape()))

			values := runGraph(t, g, y)
			expected := naiveTransposedConv1d(x.Data().([]float64), tc.batch, tc.channels, tc.length, torchWeights, tc.out, tc.kernel, tc.stride, tc.padding, tc.outPadding)
			assert.InDeltaSlice(t, expected, valueOf(t, values[0]), 1e-9)
		})
	}
}

func TestTransposedConvLayerValidation(t *testing.T) {
	g := gorgonia.NewGraph()
	_, err := NewTransposedConvLayer(g, nil, "bad_output_padding", 2, 2, 8, 2, 3, 2, Rectify)
	assert.Error(t, err)
	_, err = NewTransposedConvLayer(g, nil, "bad_padding", 2, 2, 8, 2, -1, 0, Rectify)
	assert.Error(t, err)
	_, err = TransposedKernelFromTorch(make([]float64, 5), 2, 2, 2)
	assert.Error(t, err)
}
