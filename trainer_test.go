package gan_power

import (
	"context"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func tinyTrainConfig(t *testing.T, loss AdversarialLoss) TrainConfig {
	cfg := DefaultTrainConfig()
	cfg.Epochs = 1
	cfg.BatchSize = 2
	cfg.CriticSteps = 2
	cfg.Loss = loss
	cfg.PlotEvery = 0
	cfg.OutputDir = t.TempDir()
	return cfg
}

func TestTrainerFit(t *testing.T) {
	for _, loss := range []AdversarialLoss{LossWasserstein, LossBCE, LossLSGAN} {
		t.Run(string(loss), func(t *testing.T) {
			ts, err := NewTrainSet(SyntheticWeeks(rand.New(rand.NewSource(20)), 5))
			require.NoError(t, err)

			trainer, err := NewTrainer(tinyTrainConfig(t, loss), quietLogger())
			require.NoError(t, err)
			defer trainer.Close()

			stats, err := trainer.Fit(context.Background(), ts)
			require.NoError(t, err)
			require.Len(t, stats, 1)
			// 5 series with batch 2 give 2 batches: both train critic, the last one trains generator too
			assert.Equal(t, 2, stats[0].CriticSteps)
			assert.Equal(t, 1, stats[0].GeneratorSteps)
			assert.False(t, math.IsNaN(stats[0].CriticLoss) || math.IsInf(stats[0].CriticLoss, 0))
			assert.False(t, math.IsNaN(stats[0].GeneratorLoss) || math.IsInf(stats[0].GeneratorLoss, 0))

			series, err := SynthesizeSeries(trainer.Generator(), rand.New(rand.NewSource(21)), 2, ts.Scaler)
			require.NoError(t, err)
			require.Len(t, series, 2)
			for _, s := range series {
				require.Len(t, s, SeriesLength)
				for _, v := range s {
					assert.True(t, v >= ts.Scaler.Min-1e-9 && v <= ts.Scaler.Max+1e-9)
				}
			}
		})
	}
}

func TestTrainerUpdatesParameters(t *testing.T) {
	ts, err := NewTrainSet(SyntheticWeeks(rand.New(rand.NewSource(22)), 4))
	require.NoError(t, err)
	trainer, err := NewTrainer(tinyTrainConfig(t, LossWasserstein), quietLogger())
	require.NoError(t, err)
	defer trainer.Close()

	generatorWeights := trainer.Generator().Learnables()[0].Value().Data().([]float64)
	criticWeights := trainer.Discriminator().Learnables()[0].Value().Data().([]float64)
	generatorBefore := append([]float64{}, generatorWeights...)
	criticBefore := append([]float64{}, criticWeights...)

	_, err = trainer.Fit(context.Background(), ts)
	require.NoError(t, err)
	assert.NotEqual(t, generatorBefore, generatorWeights)
	assert.NotEqual(t, criticBefore, criticWeights)
}

func TestTrainerReport(t *testing.T) {
	ts, err := NewTrainSet(SyntheticWeeks(rand.New(rand.NewSource(23)), 2))
	require.NoError(t, err)
	cfg := tinyTrainConfig(t, LossWasserstein)
	cfg.PlotEvery = 1
	trainer, err := NewTrainer(cfg, quietLogger())
	require.NoError(t, err)
	defer trainer.Close()

	_, err = trainer.Fit(context.Background(), ts)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.OutputDir, "epoch_1.png"))
	assert.NoError(t, err)
}

func TestTrainerCancellation(t *testing.T) {
	ts, err := NewTrainSet(SyntheticWeeks(rand.New(rand.NewSource(24)), 4))
	require.NoError(t, err)
	trainer, err := NewTrainer(tinyTrainConfig(t, LossWasserstein), quietLogger())
	require.NoError(t, err)
	defer trainer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := trainer.Fit(ctx, ts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, stats)
}

func TestTrainerRejectsSmallSet(t *testing.T) {
	ts, err := NewTrainSet(SyntheticWeeks(rand.New(rand.NewSource(25)), 1))
	require.NoError(t, err)
	trainer, err := NewTrainer(tinyTrainConfig(t, LossWasserstein), quietLogger())
	require.NoError(t, err)
	defer trainer.Close()
	_, err = trainer.Fit(context.Background(), ts)
	assert.Error(t, err)

	cfg := DefaultTrainConfig()
	cfg.Loss = "hinge"
	_, err = NewTrainer(cfg, nil)
	assert.Error(t, err)
}

func TestTrainerSeedReproducible(t *testing.T) {
	fit := func(seed int64) ([]EpochStats, []float64) {
		ts, err := NewTrainSet(SyntheticWeeks(rand.New(rand.NewSource(26)), 5))
		require.NoError(t, err)
		cfg := tinyTrainConfig(t, LossWasserstein)
		cfg.Seed = seed
		trainer, err := NewTrainer(cfg, quietLogger())
		require.NoError(t, err)
		defer trainer.Close()
		stats, err := trainer.Fit(context.Background(), ts)
		require.NoError(t, err)
		weights := trainer.Generator().Learnables()[0].Value().Data().([]float64)
		return stats, append([]float64{}, weights...)
	}

	statsA, weightsA := fit(7)
	statsB, weightsB := fit(7)
	require.Len(t, statsA, 1)
	require.Len(t, statsB, 1)
	assert.InDelta(t, statsA[0].CriticLoss, statsB[0].CriticLoss, 1e-12)
	assert.InDelta(t, statsA[0].GeneratorLoss, statsB[0].GeneratorLoss, 1e-12)
	assert.InDeltaSlice(t, weightsA, weightsB, 1e-12)

	_, weightsC := fit(8)
	assert.NotEqual(t, weightsA, weightsC)
}

func TestTrainerSamplerCommitsStatistics(t *testing.T) {
	trainer, err := NewTrainer(tinyTrainConfig(t, LossWasserstein), quietLogger())
	require.NoError(t, err)
	defer trainer.Close()

	first := trainer.Generator().Layers()[0].BatchNorm
	require.NotNil(t, first)
	before := append([]float64{}, first.RunningMean.Data().([]float64)...)
	fake, err := trainer.sample()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, SeriesLength}, []int(fake.Shape()))
	assert.NotEqual(t, before, first.RunningMean.Data().([]float64))
}

func TestTrainerKeepsSetOrder(t *testing.T) {
	ts, err := NewTrainSet(SyntheticWeeks(rand.New(rand.NewSource(27)), 4))
	require.NoError(t, err)
	before := append([]float64{}, ts.TrainData.Data().([]float64)...)
	trainer, err := NewTrainer(tinyTrainConfig(t, LossWasserstein), quietLogger())
	require.NoError(t, err)
	defer trainer.Close()

	_, err = trainer.Fit(context.Background(), ts)
	require.NoError(t, err)
	assert.Equal(t, before, ts.TrainData.Data().([]float64))
}

type closeCountingVM struct {
	closed int
	err    error
}

func (vm *closeCountingVM) RunAll() error { return nil }
func (vm *closeCountingVM) Reset()        {}
func (vm *closeCountingVM) Close() error {
	vm.closed++
	return vm.err
}

func TestTrainerCloseAllMachines(t *testing.T) {
	critic := &closeCountingVM{err: errors.New("critic machine failure")}
	generator := &closeCountingVM{err: errors.New("generator machine failure")}
	sampler := &closeCountingVM{}
	trainer := &Trainer{criticMachine: critic, ganMachine: generator, samplerMachine: sampler}

	err := trainer.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "critic machine failure")
	assert.Equal(t, 1, critic.closed)
	assert.Equal(t, 1, generator.closed)
	assert.Equal(t, 1, sampler.closed)
}

func TestScalarValue(t *testing.T) {
	value, err := scalarValue(gorgonia.NewF64(1.5))
	require.NoError(t, err)
	assert.Equal(t, 1.5, value)

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := scalarValue(gorgonia.NewF64(bad))
		assert.Error(t, err)
	}
	_, err = scalarValue(nil)
	assert.Error(t, err)
}
