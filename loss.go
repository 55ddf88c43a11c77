package gan_power

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

// logEpsilon Keeps log() away from zero for saturated probabilities
const logEpsilon = 1e-12

func reduce(a *gorgonia.Node, reduction []LossReduction) (*gorgonia.Node, error) {
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(a)
	case LossReductionMean:
		return gorgonia.Mean(a)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// MSELoss See ref. https://en.wikipedia.org/wiki/Mean_squared_error
// Default reduction is 'mean'
func MSELoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	sqr, err := gorgonia.Square(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	return reduce(sqr, reduction)
}

// BinaryCrossEntropyLoss See ref. https://en.wikipedia.org/wiki/Cross_entropy#Cross-entropy_loss_function_and_logistic_regression
// A - probabilities, B - labels (0 or 1)
// Default reduction is 'mean'
func BinaryCrossEntropyLoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	eps := gorgonia.NewConstant(logEpsilon)
	one := gorgonia.NewConstant(1.0)

	// -B*log(A)
	shiftedMain, err := gorgonia.Add(a, eps)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A+eps)")
	}
	logMain, err := gorgonia.Log(shiftedMain)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(A)")
	}
	hprodMain, err := gorgonia.HadamardProd(logMain, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*B)")
	}

	// -(1-B)*log(1-A)
	complement, err := gorgonia.Sub(one, a)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1-A)")
	}
	shiftedBin, err := gorgonia.Add(complement, eps)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1-A+eps)")
	}
	logBin, err := gorgonia.Log(shiftedBin)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(1-A)")
	}
	labelsBin, err := gorgonia.Sub(one, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1-B)")
	}
	hprodBin, err := gorgonia.HadamardProd(logBin, labelsBin)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*(1-B))")
	}

	sum, err := gorgonia.Add(hprodMain, hprodBin)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+y)")
	}
	neg, err := gorgonia.Neg(sum)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	return reduce(neg, reduction)
}

// WassersteinCriticLoss Critic's part of Wasserstein loss.
// Signs should be -1 for real samples and +1 for generated ones, so the loss is E[D(fake)] - E[D(real)]
// (scaled by share of each part in the batch).
// Default reduction is 'mean'
func WassersteinCriticLoss(scores, signs *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	hprod, err := gorgonia.HadamardProd(scores, signs)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (scores.*signs)")
	}
	return reduce(hprod, reduction)
}

// WassersteinGeneratorLoss Generator's part of Wasserstein loss: -E[D(G(z))]
// Default reduction is 'mean'
func WassersteinGeneratorLoss(scores *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	neg, err := gorgonia.Neg(scores)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	return reduce(neg, reduction)
}
