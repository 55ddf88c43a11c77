package gan_power

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// SpectralNorm Spectral normalization of layer weights: W / σ(W).
//
// σ is estimated as uᵀ·W·v where W is viewed as [out, rest] matrix.
// Vectors u and v are persistent between feedforwards and refined by power iteration (see PowerIterate).
// They are shared by every mirror of the layer.
//
type SpectralNorm struct {
	Iterations int
	Epsilon    float64

	rows int
	cols int
	u    *tensor.Dense // [1, rows]
	v    *tensor.Dense // [cols, 1]
}

// NewSpectralNorm Prepares spectral normalization for provided weights node. Weights must have value already.
// Initial u is drawn from rng (global math/rand source if rng is nil)
func NewSpectralNorm(weight *gorgonia.Node, rng *rand.Rand) (*SpectralNorm, error) {
	shp := weight.Shape()
	if len(shp) < 2 {
		return nil, fmt.Errorf("Spectral normalization needs weights with 2 or more dimensions, but got %v", shp)
	}
	rows := shp[0]
	cols := shp.TotalSize() / rows
	sn := &SpectralNorm{
		Iterations: 1,
		Epsilon:    1e-12,
		rows:       rows,
		cols:       cols,
		u:          tensor.New(tensor.WithShape(1, rows), tensor.WithBacking(make([]float64, rows))),
		v:          tensor.New(tensor.WithShape(cols, 1), tensor.WithBacking(make([]float64, cols))),
	}
	u := sn.u.Data().([]float64)
	for i := range u {
		if rng != nil {
			u[i] = rng.NormFloat64()
		} else {
			u[i] = rand.NormFloat64()
		}
	}
	normalizeVec(mat.NewVecDense(rows, u), sn.Epsilon)
	if err := sn.PowerIterate(weight.Value()); err != nil {
		return nil, errors.Wrap(err, "Can't do initial power iteration")
	}
	return sn, nil
}

// PowerIterate Refines u and v with provided current weights value. Should be called before each training feedforward.
func (sn *SpectralNorm) PowerIterate(weight gorgonia.Value) error {
	w, err := sn.matrix(weight)
	if err != nil {
		return err
	}
	u := mat.NewVecDense(sn.rows, sn.u.Data().([]float64))
	v := mat.NewVecDense(sn.cols, sn.v.Data().([]float64))
	for i := 0; i < sn.Iterations; i++ {
		v.MulVec(w.T(), u)
		normalizeVec(v, sn.Epsilon)
		u.MulVec(w, v)
		normalizeVec(u, sn.Epsilon)
	}
	return nil
}

// Sigma Returns current estimation of the largest singular value of weights
func (sn *SpectralNorm) Sigma(weight gorgonia.Value) (float64, error) {
	w, err := sn.matrix(weight)
	if err != nil {
		return 0, err
	}
	u := mat.NewVecDense(sn.rows, sn.u.Data().([]float64))
	v := mat.NewVecDense(sn.cols, sn.v.Data().([]float64))
	return mat.Inner(u, w, v), nil
}

// Normalize Adds W / (uᵀ·W·v) to the graph of weight node
func (sn *SpectralNorm) Normalize(weight *gorgonia.Node, name string) (*gorgonia.Node, error) {
	g := weight.Graph()
	uNode := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, sn.rows), gorgonia.WithName(name+"_sn_u"), gorgonia.WithValue(sn.u))
	vNode := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(sn.cols, 1), gorgonia.WithName(name+"_sn_v"), gorgonia.WithValue(sn.v))
	w2 := weight
	var err error
	if weight.Dims() != 2 {
		w2, err = gorgonia.Reshape(weight, tensor.Shape{sn.rows, sn.cols})
		if err != nil {
			return nil, errors.Wrap(err, "Can't view weights as matrix")
		}
	}
	uw, err := gorgonia.Mul(uNode, w2)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (u@W)")
	}
	uwv, err := gorgonia.Mul(uw, vNode)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (u@W@v)")
	}
	sigma, err := gorgonia.Sum(uwv)
	if err != nil {
		return nil, errors.Wrap(err, "Can't reduce sigma to scalar")
	}
	gorgonia.WithName(name + "_sn_sigma")(sigma)
	normalized, err := gorgonia.Div(weight, sigma)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (W/sigma)")
	}
	return normalized, nil
}

func (sn *SpectralNorm) matrix(weight gorgonia.Value) (*mat.Dense, error) {
	data, err := denseData(weight)
	if err != nil {
		return nil, errors.Wrap(err, "Can't access weights")
	}
	if len(data) != sn.rows*sn.cols {
		return nil, fmt.Errorf("Weights should have %d elements, but got %d", sn.rows*sn.cols, len(data))
	}
	return mat.NewDense(sn.rows, sn.cols, data), nil
}

func normalizeVec(v *mat.VecDense, eps float64) {
	norm := mat.Norm(v, 2)
	v.ScaleVec(1/(norm+eps), v)
}
