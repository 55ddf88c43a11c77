package gan_power

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Network Abstraction for neural network.
//
// Layers - simple sequence of layers
// out - alias to activated output of last layer
//
type Network struct {
	Name   string
	Layers []*Layer
	out    *gorgonia.Node
}

// Out Returns reference to output node
func (net *Network) Out() *gorgonia.Node {
	return net.out
}

// Learnables Returns learnables nodes
func (net *Network) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 2*len(net.Layers))
	for _, l := range net.Layers {
		if l != nil {
			learnables = append(learnables, l.Learnables()...)
		}
	}
	return learnables
}

// Fwd Initializates feedforward for provided input
//
// input - Input node
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
// mode - batch normalization mode
//
func (net *Network) Fwd(input *gorgonia.Node, batchSize int, mode NormMode) error {
	networkName := "network"
	if net.Name != "" {
		networkName = net.Name
	}

	if len(net.Layers) == 0 {
		return fmt.Errorf("Network must have one layer atleast")
	}

	lastActivatedLayer := input
	for i := range net.Layers {
		if net.Layers[i] == nil {
			return fmt.Errorf("Network's layer #%d is nil", i)
		}
		if net.Layers[i].Activation == nil {
			return fmt.Errorf("Network's layer #%d has no activation function (use NoActivation explicitly)", i)
		}
		// Feedforward input through i-th layer
		layerNonActivated, err := net.Layers[i].Fwd(lastActivatedLayer, batchSize, mode)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("[%s, Layer #%d] Can't feedforward input before activation", networkName, i))
		}
		gorgonia.WithName(fmt.Sprintf("%s_%d", networkName, i))(layerNonActivated)
		// Activate i-th layer's output
		layerActivated, err := net.Layers[i].Activation(layerNonActivated)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't apply activation function to non-activated output of %s's layer #%d", networkName, i))
		}
		if layerActivated != layerNonActivated {
			gorgonia.WithName(fmt.Sprintf("%s_activated_%d", networkName, i))(layerActivated)
		}
		lastActivatedLayer = layerActivated
	}
	net.out = lastActivatedLayer
	return nil
}

// PowerIterate Does power iteration for every spectral normalized layer
func (net *Network) PowerIterate() error {
	for i, l := range net.Layers {
		if l == nil || l.Spectral == nil {
			continue
		}
		if err := l.Spectral.PowerIterate(l.WeightNode.Value()); err != nil {
			return errors.Wrap(err, fmt.Sprintf("[%s, Layer #%d] Can't do power iteration", net.Name, i))
		}
	}
	return nil
}

// CommitStatistics Updates running statistics of every batch normalization by the last ModeTrain feedforward
func (net *Network) CommitStatistics() error {
	for i, l := range net.Layers {
		if l == nil || l.BatchNorm == nil {
			continue
		}
		if err := l.BatchNorm.Commit(); err != nil {
			return errors.Wrap(err, fmt.Sprintf("[%s, Layer #%d] Can't commit batch statistics", net.Name, i))
		}
	}
	return nil
}

// Mirror Creates the same network on provided graph.
// Parameters of mirror share values with parameters of original network, so any solver step on one of them is visible by another.
func (net *Network) Mirror(g *gorgonia.ExprGraph, suffix string) *Network {
	mirrored := &Network{
		Name:   net.Name + suffix,
		Layers: make([]*Layer, len(net.Layers)),
	}
	for i, l := range net.Layers {
		if l != nil {
			mirrored.Layers[i] = l.mirror(g, suffix)
		}
	}
	return mirrored
}
