package gan_power

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTrainConfig(t *testing.T) {
	cfg := DefaultTrainConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, LossWasserstein, cfg.Loss)
	assert.Equal(t, SolverRMSProp, cfg.Solver)
}

func TestLoadTrainConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	content := `
epochs: 3
batch_size: 8
loss: lsgan
solver: adam
output_dir: /tmp/power_gan
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadTrainConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Epochs)
	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, LossLSGAN, cfg.Loss)
	assert.Equal(t, SolverAdam, cfg.Solver)
	assert.Equal(t, "/tmp/power_gan", cfg.OutputDir)
	// Untouched fields keep defaults
	assert.Equal(t, DefaultTrainConfig().CriticSteps, cfg.CriticSteps)
	assert.Equal(t, DefaultTrainConfig().Seed, cfg.Seed)
}

func TestLoadTrainConfigErrors(t *testing.T) {
	_, err := LoadTrainConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loss: hinge\n"), 0o644))
	_, err = LoadTrainConfig(path)
	assert.Error(t, err)

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("epochs: [1, 2\n"), 0o644))
	_, err = LoadTrainConfig(broken)
	assert.Error(t, err)
}

func TestTrainConfigValidate(t *testing.T) {
	cases := map[string]func(*TrainConfig){
		"epochs":       func(cfg *TrainConfig) { cfg.Epochs = 0 },
		"batch_size":   func(cfg *TrainConfig) { cfg.BatchSize = -1 },
		"critic_steps": func(cfg *TrainConfig) { cfg.CriticSteps = 0 },
		"learn_rate":   func(cfg *TrainConfig) { cfg.GeneratorLearnRate = 0 },
		"solver":       func(cfg *TrainConfig) { cfg.Solver = "sgd" },
		"plot_every":   func(cfg *TrainConfig) { cfg.PlotEvery = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultTrainConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
