package gan_power

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// GAN Generator and discriminator composed on the same graph.
//
// generatorPart - reference to Generator
// discriminatorPart - reference to Discriminator
// modifiedDiscriminator - mirror of Discriminator on Generator's graph. Its parameters share values
// with discriminatorPart, so training of Discriminator is visible here. Its learnables should be ignored
// during the training of Generator.
//
type GAN struct {
	generatorPart     *GeneratorNet
	discriminatorPart *DiscriminatorNet

	modifiedDiscriminator *DiscriminatorNet

	out *gorgonia.Node
}

// NewGAN Composes generator (defined on graph g) with mirror of discriminator
func NewGAN(g *gorgonia.ExprGraph, definedGenerator *GeneratorNet, definedDiscriminator *DiscriminatorNet) (*GAN, error) {
	if definedGenerator == nil || definedDiscriminator == nil {
		return nil, fmt.Errorf("Both Generator and Discriminator must be provided")
	}
	return &GAN{
		generatorPart:         definedGenerator,
		discriminatorPart:     definedDiscriminator,
		modifiedDiscriminator: definedDiscriminator.Mirror(g, "_gan"),
	}, nil
}

// Out Returns reference to output node
func (net *GAN) Out() *gorgonia.Node {
	return net.out
}

// GeneratorOut Returns reference to output node of generator part
func (net *GAN) GeneratorOut() *gorgonia.Node {
	return net.generatorPart.Out()
}

// Learnables Returns learnables nodes of generator part and of mirrored discriminator
func (net *GAN) Learnables() gorgonia.Nodes {
	learnables := net.generatorPart.Learnables()
	return append(learnables, net.modifiedDiscriminator.Learnables()...)
}

// GeneratorLearnables Returns learnables nodes of generator part
func (net *GAN) GeneratorLearnables() gorgonia.Nodes {
	return net.generatorPart.Learnables()
}

// Fwd Initializates feedforward of generator's output through discriminator part of GAN
//
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
// mode - batch normalization mode of discriminator part
// Note: input node is not needed since input for Discriminator is just Generator's output.
// Generator's Fwd must be called before.
//
func (net *GAN) Fwd(batchSize int, mode NormMode) error {
	if net.generatorPart.Out() == nil {
		return fmt.Errorf("Generator's feedforward must be initialized before GAN's one")
	}
	if err := net.modifiedDiscriminator.Fwd(net.generatorPart.Out(), batchSize, mode); err != nil {
		return errors.Wrap(err, "[GAN]")
	}
	net.out = net.modifiedDiscriminator.Out()
	return nil
}
