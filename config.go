package gan_power

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SolverKind Optimizer used for both networks
type SolverKind string

const (
	SolverRMSProp = SolverKind("rmsprop")
	SolverAdam    = SolverKind("adam")
)

// AdversarialLoss Objective of adversarial training
type AdversarialLoss string

const (
	// LossWasserstein Unbounded critic scores: critic minimizes E[D(fake)] - E[D(real)], generator minimizes -E[D(fake)]
	LossWasserstein = AdversarialLoss("wasserstein")
	// LossBCE Sigmoid critic output with binary cross entropy
	LossBCE = AdversarialLoss("bce")
	// LossLSGAN Unbounded critic output with squared error against 1 (real) and 0 (fake)
	LossLSGAN = AdversarialLoss("lsgan")
)

// TrainConfig Parameters of training
type TrainConfig struct {
	Epochs             int             `yaml:"epochs"`
	BatchSize          int             `yaml:"batch_size"`
	CriticSteps        int             `yaml:"critic_steps"`
	CriticLearnRate    float64         `yaml:"critic_learn_rate"`
	GeneratorLearnRate float64         `yaml:"generator_learn_rate"`
	Solver             SolverKind      `yaml:"solver"`
	Loss               AdversarialLoss `yaml:"loss"`
	Seed               int64           `yaml:"seed"`
	OutputDir          string          `yaml:"output_dir"`
	// PlotEvery Plot real and generated weeks every N epochs. Zero disables plotting.
	PlotEvery int `yaml:"plot_every"`
	// Samples Number of generated weeks to export after training
	Samples int `yaml:"samples"`
}

// DefaultTrainConfig Returns defaults
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:             100,
		BatchSize:          16,
		CriticSteps:        5,
		CriticLearnRate:    0.0001,
		GeneratorLearnRate: 0.0001,
		Solver:             SolverRMSProp,
		Loss:               LossWasserstein,
		Seed:               1337,
		OutputDir:          "./output",
		PlotEvery:          10,
		Samples:            16,
	}
}

// LoadTrainConfig Reads YAML file on top of DefaultTrainConfig
func LoadTrainConfig(path string) (TrainConfig, error) {
	cfg := DefaultTrainConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "Can't read config file")
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, errors.Wrap(err, fmt.Sprintf("Can't parse config file '%s'", path))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, fmt.Sprintf("Invalid config file '%s'", path))
	}
	return cfg, nil
}

// Validate Checks values ranges
func (cfg TrainConfig) Validate() error {
	if cfg.Epochs < 1 {
		return fmt.Errorf("epochs should be positive, but got %d", cfg.Epochs)
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("batch_size should be positive, but got %d", cfg.BatchSize)
	}
	if cfg.CriticSteps < 1 {
		return fmt.Errorf("critic_steps should be positive, but got %d", cfg.CriticSteps)
	}
	if cfg.CriticLearnRate <= 0 || cfg.GeneratorLearnRate <= 0 {
		return fmt.Errorf("learn rates should be positive, but got %g (critic) and %g (generator)", cfg.CriticLearnRate, cfg.GeneratorLearnRate)
	}
	switch cfg.Solver {
	case SolverRMSProp, SolverAdam:
	default:
		return fmt.Errorf("solver '%s' is not supported", cfg.Solver)
	}
	switch cfg.Loss {
	case LossWasserstein, LossBCE, LossLSGAN:
	default:
		return fmt.Errorf("loss '%s' is not supported", cfg.Loss)
	}
	if cfg.PlotEvery < 0 || cfg.Samples < 0 {
		return fmt.Errorf("plot_every and samples should not be negative")
	}
	return nil
}
