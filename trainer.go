package gan_power

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// EpochStats Averaged losses of single epoch
type EpochStats struct {
	Epoch          int
	CriticLoss     float64
	GeneratorLoss  float64
	CriticSteps    int
	GeneratorSteps int
	Duration       time.Duration
}

// Trainer Adversarial training of GeneratorNet against DiscriminatorNet.
//
// Three graphs are used:
// critic graph - discriminator over real and generated series concatenated along batch axis
// GAN graph - generator followed by mirror of discriminator, only generator is updated there
// sampler graph - mirror of generator producing fake series for the critic graph
//
type Trainer struct {
	cfg    TrainConfig
	logger *logrus.Logger
	rng    *rand.Rand

	generator *GeneratorNet
	critic    *DiscriminatorNet
	gan       *GAN
	sampler   *GeneratorNet

	criticInput    *gorgonia.Node
	criticTarget   *gorgonia.Node
	generatorInput *gorgonia.Node
	ganTarget      *gorgonia.Node
	samplerInput   *gorgonia.Node

	criticCostVal gorgonia.Value
	ganCostVal    gorgonia.Value
	fakeVal       gorgonia.Value

	criticMachine  gorgonia.VM
	ganMachine     gorgonia.VM
	samplerMachine gorgonia.VM

	criticSolver gorgonia.Solver
	ganSolver    gorgonia.Solver
}

// NewTrainer Builds networks and training graphs. If logger is nil then logrus.New() is used.
func NewTrainer(cfg TrainConfig, logger *logrus.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid train config")
	}
	if logger == nil {
		logger = logrus.New()
	}
	t := &Trainer{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	batchSize := cfg.BatchSize

	// Define graph for GAN feedforward and Generator training
	ganGraph := gorgonia.NewGraph()
	// Define graph for Discriminator training
	criticGraph := gorgonia.NewGraph()
	// Define graph for sampling of fake series
	samplerGraph := gorgonia.NewGraph()

	var err error
	// Weights are drawn in fixed order from t.rng, so cfg.Seed makes runs reproducible
	t.generator, err = NewGenerator(ganGraph, WithGeneratorRand(t.rng))
	if err != nil {
		return nil, errors.Wrap(err, "Can't define generator")
	}
	t.generatorInput = gorgonia.NewMatrix(ganGraph, gorgonia.Float64, gorgonia.WithShape(batchSize, LatentSize), gorgonia.WithName("generator_input"))
	if err = t.generator.Fwd(t.generatorInput, batchSize, ModeTrain); err != nil {
		return nil, errors.Wrap(err, "Can't initialize generator feedforward")
	}

	criticOptions := []DiscriminatorOption{WithDiscriminatorRand(t.rng)}
	if cfg.Loss == LossBCE {
		criticOptions = append(criticOptions, WithSigmoidOutput())
	}
	t.critic, err = NewDiscriminator(criticGraph, criticOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator")
	}
	t.criticInput = gorgonia.NewTensor(criticGraph, gorgonia.Float64, 3, gorgonia.WithShape(2*batchSize, 1, SeriesLength), gorgonia.WithName("discriminator_train_input"))
	if err = t.critic.Fwd(t.criticInput, 2*batchSize, ModeTrain); err != nil {
		return nil, errors.Wrap(err, "Can't initialize discriminator feedforward")
	}

	t.gan, err = NewGAN(ganGraph, t.generator, t.critic)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define GAN")
	}
	if err = t.gan.Fwd(batchSize, ModeTrain); err != nil {
		return nil, errors.Wrap(err, "Can't initialize GAN feedforward")
	}

	t.sampler = t.generator.Mirror(samplerGraph, "_sampler")
	t.samplerInput = gorgonia.NewMatrix(samplerGraph, gorgonia.Float64, gorgonia.WithShape(batchSize, LatentSize), gorgonia.WithName("sampler_input"))
	if err = t.sampler.Fwd(t.samplerInput, batchSize, ModeTrain); err != nil {
		return nil, errors.Wrap(err, "Can't initialize sampler feedforward")
	}
	gorgonia.Read(t.sampler.Out(), &t.fakeVal)

	/* Costs */
	t.criticTarget = gorgonia.NewVector(criticGraph, gorgonia.Float64, gorgonia.WithShape(2*batchSize), gorgonia.WithName("discriminator_target"))
	criticCost, err := t.criticCost(t.critic.Out(), t.criticTarget)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator cost")
	}
	gorgonia.WithName("discriminator_cost")(criticCost)
	if _, err = gorgonia.Grad(criticCost, t.critic.Learnables()...); err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator gradients")
	}
	gorgonia.Read(criticCost, &t.criticCostVal)

	if cfg.Loss != LossWasserstein {
		t.ganTarget = gorgonia.NewVector(ganGraph, gorgonia.Float64, gorgonia.WithShape(batchSize), gorgonia.WithName("gan_discriminator_target"))
	}
	ganCost, err := t.generatorCost(t.gan.Out(), t.ganTarget)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define GAN cost")
	}
	gorgonia.WithName("gan_cost")(ganCost)
	if _, err = gorgonia.Grad(ganCost, t.gan.GeneratorLearnables()...); err != nil {
		return nil, errors.Wrap(err, "Can't define GAN gradients")
	}
	gorgonia.Read(ganCost, &t.ganCostVal)

	/* Machines and solvers */
	t.criticMachine = gorgonia.NewTapeMachine(criticGraph, gorgonia.BindDualValues(t.critic.Learnables()...))
	t.ganMachine = gorgonia.NewTapeMachine(ganGraph, gorgonia.BindDualValues(t.gan.GeneratorLearnables()...))
	t.samplerMachine = gorgonia.NewTapeMachine(samplerGraph)
	t.criticSolver = newSolver(cfg.Solver, batchSize, cfg.CriticLearnRate)
	t.ganSolver = newSolver(cfg.Solver, batchSize, cfg.GeneratorLearnRate)

	logger.WithFields(logrus.Fields{
		"batch_size":               batchSize,
		"loss":                     cfg.Loss,
		"solver":                   cfg.Solver,
		"critic_steps":             cfg.CriticSteps,
		"generator_learnables":     len(t.generator.Learnables()),
		"discriminator_learnables": len(t.critic.Learnables()),
	}).Debug("Training graphs are ready")
	return t, nil
}

func newSolver(kind SolverKind, batchSize int, learnRate float64) gorgonia.Solver {
	switch kind {
	case SolverAdam:
		return gorgonia.NewAdamSolver(gorgonia.WithBatchSize(float64(batchSize)), gorgonia.WithLearnRate(learnRate), gorgonia.WithBeta1(0.5), gorgonia.WithBeta2(0.999))
	default:
		return gorgonia.NewRMSPropSolver(gorgonia.WithBatchSize(float64(batchSize)), gorgonia.WithLearnRate(learnRate))
	}
}

// criticCost Critic's objective over concatenated [real, fake] scores
func (t *Trainer) criticCost(scores, target *gorgonia.Node) (*gorgonia.Node, error) {
	switch t.cfg.Loss {
	case LossWasserstein:
		return WassersteinCriticLoss(scores, target)
	case LossBCE:
		return BinaryCrossEntropyLoss(scores, target)
	case LossLSGAN:
		return MSELoss(scores, target)
	default:
		return nil, fmt.Errorf("Loss '%s' is not handled", t.cfg.Loss)
	}
}

// generatorCost Generator's objective over scores of fake series
func (t *Trainer) generatorCost(scores, target *gorgonia.Node) (*gorgonia.Node, error) {
	switch t.cfg.Loss {
	case LossWasserstein:
		return WassersteinGeneratorLoss(scores)
	case LossBCE:
		return BinaryCrossEntropyLoss(scores, target)
	case LossLSGAN:
		return MSELoss(scores, target)
	default:
		return nil, fmt.Errorf("Loss '%s' is not handled", t.cfg.Loss)
	}
}

// criticTargets Returns targets for [real, fake] batch: signs for Wasserstein loss, labels otherwise
func (t *Trainer) criticTargets() *tensor.Dense {
	batchSize := t.cfg.BatchSize
	realTarget, fakeTarget := 1.0, 0.0
	if t.cfg.Loss == LossWasserstein {
		realTarget, fakeTarget = -1.0, 1.0
	}
	data := make([]float64, 2*batchSize)
	for i := range data {
		if i < batchSize {
			data[i] = realTarget
		} else {
			data[i] = fakeTarget
		}
	}
	return tensor.New(tensor.WithShape(2*batchSize), tensor.WithBacking(data))
}

// Generator Returns trained generator
func (t *Trainer) Generator() *GeneratorNet {
	return t.generator
}

// Discriminator Returns trained discriminator
func (t *Trainer) Discriminator() *DiscriminatorNet {
	return t.critic
}

// Close Releases every tape machine. The first error met is returned.
func (t *Trainer) Close() error {
	var firstErr error
	for _, vm := range []gorgonia.VM{t.criticMachine, t.ganMachine, t.samplerMachine} {
		if vm == nil {
			continue
		}
		if err := vm.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "Can't close machine")
		}
	}
	return firstErr
}

// Fit Trains networks on provided set. Remainder of set which does not fill the whole batch is skipped in each epoch.
// Series are visited in new random order each epoch, ts itself is not reordered.
// Cancellation of ctx is checked between batches.
func (t *Trainer) Fit(ctx context.Context, ts *TrainSet) ([]EpochStats, error) {
	batchSize := t.cfg.BatchSize
	if ts == nil || ts.DataLength < batchSize {
		return nil, fmt.Errorf("Train set should contain %d series atleast", batchSize)
	}
	batches := ts.DataLength / batchSize
	stats := make([]EpochStats, 0, t.cfg.Epochs)
	t.logger.WithFields(logrus.Fields{
		"series":  ts.DataLength,
		"batches": batches,
		"epochs":  t.cfg.Epochs,
	}).Info("Starting training")
	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		st := time.Now()
		order := t.rng.Perm(ts.DataLength)
		epochStats := EpochStats{Epoch: epoch}
		for b := 0; b < batches; b++ {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			default:
			}
			realBatch, err := ts.Gather(order[b*batchSize : (b+1)*batchSize])
			if err != nil {
				return stats, errors.Wrap(err, fmt.Sprintf("Epoch %d, batch %d", epoch, b))
			}
			criticLoss, err := t.criticStep(realBatch)
			if err != nil {
				return stats, errors.Wrap(err, fmt.Sprintf("Epoch %d, batch %d", epoch, b))
			}
			epochStats.CriticLoss += criticLoss
			epochStats.CriticSteps++
			if (b+1)%t.cfg.CriticSteps != 0 && b != batches-1 {
				continue
			}
			generatorLoss, err := t.generatorStep()
			if err != nil {
				return stats, errors.Wrap(err, fmt.Sprintf("Epoch %d, batch %d", epoch, b))
			}
			epochStats.GeneratorLoss += generatorLoss
			epochStats.GeneratorSteps++
		}
		epochStats.CriticLoss /= float64(epochStats.CriticSteps)
		epochStats.GeneratorLoss /= float64(epochStats.GeneratorSteps)
		epochStats.Duration = time.Since(st)
		stats = append(stats, epochStats)
		t.logger.WithFields(logrus.Fields{
			"epoch":          epoch + 1,
			"critic_loss":    epochStats.CriticLoss,
			"generator_loss": epochStats.GeneratorLoss,
			"duration":       epochStats.Duration,
		}).Info("Training epoch completed")

		if t.cfg.PlotEvery > 0 && ((epoch+1)%t.cfg.PlotEvery == 0 || epoch == t.cfg.Epochs-1) {
			if err := t.report(ts, fmt.Sprintf("epoch_%d", epoch+1)); err != nil {
				return stats, errors.Wrap(err, fmt.Sprintf("Can't report epoch %d", epoch+1))
			}
		}
	}
	return stats, nil
}

// sample Produces batch of fake series [B, 1, 336]
func (t *Trainer) sample() (*tensor.Dense, error) {
	defer t.samplerMachine.Reset()
	if err := gorgonia.Let(t.samplerInput, NormRandDense(t.rng, t.cfg.BatchSize, LatentSize)); err != nil {
		return nil, errors.Wrap(err, "Can't init sampler input")
	}
	if err := t.samplerMachine.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run sampler")
	}
	// Fake batches are train mode feedforwards of generator too
	if err := t.sampler.CommitStatistics(); err != nil {
		return nil, err
	}
	fake, ok := t.fakeVal.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Sampler output should be *tensor.Dense, but got %T", t.fakeVal)
	}
	return fake.Clone().(*tensor.Dense), nil
}

// criticStep Does single training step of discriminator on real batch and freshly generated one
func (t *Trainer) criticStep(realBatch *tensor.Dense) (float64, error) {
	fakeBatch, err := t.sample()
	if err != nil {
		return 0, err
	}
	allSamples, err := tensor.Concat(0, realBatch, fakeBatch)
	if err != nil {
		return 0, errors.Wrap(err, "Can't concatenate real and fake series")
	}
	if err := t.critic.PowerIterate(); err != nil {
		return 0, err
	}
	defer t.criticMachine.Reset()
	if err := gorgonia.Let(t.criticInput, allSamples); err != nil {
		return 0, errors.Wrap(err, "Can't init discriminator input")
	}
	if err := gorgonia.Let(t.criticTarget, t.criticTargets()); err != nil {
		return 0, errors.Wrap(err, "Can't init discriminator target")
	}
	if err := t.criticMachine.RunAll(); err != nil {
		return 0, errors.Wrap(err, "Can't run discriminator")
	}
	if err := t.criticSolver.Step(gorgonia.NodesToValueGrads(t.critic.Learnables())); err != nil {
		return 0, errors.Wrap(err, "Can't do discriminator's solver step")
	}
	if err := t.critic.CommitStatistics(); err != nil {
		return 0, err
	}
	return scalarValue(t.criticCostVal)
}

// generatorStep Does single training step of generator through mirrored discriminator
func (t *Trainer) generatorStep() (float64, error) {
	defer t.ganMachine.Reset()
	if err := gorgonia.Let(t.generatorInput, NormRandDense(t.rng, t.cfg.BatchSize, LatentSize)); err != nil {
		return 0, errors.Wrap(err, "Can't init generator input")
	}
	if t.ganTarget != nil {
		// Generator wants its series to be labeled as real ones
		if err := gorgonia.Let(t.ganTarget, tensor.Ones(tensor.Float64, t.cfg.BatchSize)); err != nil {
			return 0, errors.Wrap(err, "Can't init GAN target")
		}
	}
	if err := t.ganMachine.RunAll(); err != nil {
		return 0, errors.Wrap(err, "Can't run GAN")
	}
	if err := t.ganSolver.Step(gorgonia.NodesToValueGrads(t.gan.GeneratorLearnables())); err != nil {
		return 0, errors.Wrap(err, "Can't do generator's solver step")
	}
	if err := t.generator.CommitStatistics(); err != nil {
		return 0, err
	}
	return scalarValue(t.ganCostVal)
}

// report Plots real and generated weeks and logs gap between their indicators
func (t *Trainer) report(ts *TrainSet, tag string) error {
	n := t.cfg.BatchSize
	if n > ts.DataLength {
		n = ts.DataLength
	}
	realBatch, err := ts.Batch(0, n)
	if err != nil {
		return err
	}
	generated, err := t.generator.Generate(NormRandDense(t.rng, n, LatentSize))
	if err != nil {
		return err
	}
	gap, err := IndicatorsGap(realBatch, generated)
	if err != nil {
		return err
	}
	t.logger.WithFields(logrus.Fields{
		"tag":      tag,
		"mean_gap": gap[0],
		"std_gap":  gap[1],
		"max_gap":  gap[2],
		"min_gap":  gap[3],
		"ramp_gap": gap[4],
	}).Info("Indicators of generated series")

	if err := os.MkdirAll(t.cfg.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, "Can't create output directory")
	}
	realSeries, err := ts.Series(0)
	if err != nil {
		return err
	}
	generatedSeries, err := denseToSeries(generated, ts.Scaler)
	if err != nil {
		return err
	}
	fname := filepath.Join(t.cfg.OutputDir, fmt.Sprintf("%s.png", tag))
	if err := PlotSeries(fmt.Sprintf("Real vs generated week (%s)", tag), [][]float64{realSeries, generatedSeries[0]}, []string{"real", "generated"}, fname); err != nil {
		return err
	}
	t.logger.WithField("file", fname).Debug("Plot saved")
	return nil
}

// scalarValue Extracts float64 from scalar value of cost node
func scalarValue(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("Cost value is nil")
	}
	value, ok := v.Data().(float64)
	if !ok {
		return 0, fmt.Errorf("Cost should be float64 scalar, but got %T", v.Data())
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return value, fmt.Errorf("Cost is not finite: %v", value)
	}
	return value, nil
}
