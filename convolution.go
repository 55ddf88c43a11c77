package gan_power

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ConvOutputLength Length of 1D convolution output
func ConvOutputLength(length, kernel, stride, padding int) int {
	return (length+2*padding-kernel)/stride + 1
}

// TransposedConvOutputLength Length of 1D transposed convolution output
func TransposedConvOutputLength(length, kernel, stride, padding, outputPadding int) int {
	return (length-1)*stride - 2*padding + kernel + outputPadding
}

// conv1d Convolves [B, C, 1, L] input with [out, C, 1, kernel] filter
func conv1d(input, kernel *gorgonia.Node, kernelWidth, stride, padding int) (*gorgonia.Node, error) {
	if input.Dims() != 4 {
		return nil, fmt.Errorf("Input for 1D convolution must have shape [B, C, 1, L], but got %v", input.Shape())
	}
	return gorgonia.Conv2d(input, kernel, tensor.Shape{1, kernelWidth}, []int{0, padding}, []int{1, stride}, []int{1, 1})
}

// transposedConv1d Transposed convolution of [B, C, 1, L] input.
//
// Input is spread by constant matrix: every sample lands on position (kernel-1) + l*stride - padding
// of a zero row of width Lout+kernel-1 (positions outside are cropped). Then stride 1 correlation
// with kernel gives exactly Lout samples.
//
func transposedConv1d(input, kernel *gorgonia.Node, batchSize, kernelWidth, stride, padding, outputPadding int, name string) (*gorgonia.Node, error) {
	shp := input.Shape()
	if len(shp) != 4 || shp[2] != 1 {
		return nil, fmt.Errorf("Input for transposed 1D convolution must have shape [B, C, 1, L], but got %v", shp)
	}
	channels, length := shp[1], shp[3]
	spread, err := transposedConvMatrix(length, kernelWidth, stride, padding, outputPadding)
	if err != nil {
		return nil, err
	}
	width := spread.Shape()[1]
	spreadNode := gorgonia.NewConstant(spread, gorgonia.WithName(fmt.Sprintf("%s_spread_%dx%d", name, length, width)))

	flat, err := gorgonia.Reshape(input, tensor.Shape{batchSize * channels, length})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape input to rows")
	}
	spreaded, err := gorgonia.Mul(flat, spreadNode)
	if err != nil {
		return nil, errors.Wrap(err, "Can't spread input")
	}
	spreaded, err = gorgonia.Reshape(spreaded, tensor.Shape{batchSize, channels, 1, width})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape spread input back to [B, C, 1, L]")
	}
	return gorgonia.Conv2d(spreaded, kernel, tensor.Shape{1, kernelWidth}, []int{0, 0}, []int{1, 1}, []int{1, 1})
}

// transposedConvMatrix Builds [length, Lout+kernel-1] matrix doing zero insertion, padding and cropping at once
func transposedConvMatrix(length, kernel, stride, padding, outputPadding int) (*tensor.Dense, error) {
	outLength := TransposedConvOutputLength(length, kernel, stride, padding, outputPadding)
	if outLength < 1 {
		return nil, fmt.Errorf("Transposed convolution of length %d gives non-positive length %d (kernel = %d, stride = %d, padding = %d, output padding = %d)", length, outLength, kernel, stride, padding, outputPadding)
	}
	width := outLength + kernel - 1
	data := make([]float64, length*width)
	for l := 0; l < length; l++ {
		j := kernel - 1 + l*stride - padding
		if j < 0 || j >= width {
			continue
		}
		data[l*width+j] = 1
	}
	return tensor.New(tensor.WithShape(length, width), tensor.WithBacking(data)), nil
}

// TransposedKernelFromTorch Converts transposed convolution weights laid out as [in, out, kernel]
// into correlation kernel [out, in, 1, kernel] used by LayerTransposedConvolutional
func TransposedKernelFromTorch(weights []float64, in, out, kernel int) (*tensor.Dense, error) {
	if len(weights) != in*out*kernel {
		return nil, fmt.Errorf("Expected %d weights for [%d, %d, %d], but got %d", in*out*kernel, in, out, kernel, len(weights))
	}
	data := make([]float64, len(weights))
	for i := 0; i < in; i++ {
		for o := 0; o < out; o++ {
			for j := 0; j < kernel; j++ {
				data[(o*in+i)*kernel+(kernel-1-j)] = weights[(i*out+o)*kernel+j]
			}
		}
	}
	return tensor.New(tensor.WithShape(out, in, 1, kernel), tensor.WithBacking(data)), nil
}
