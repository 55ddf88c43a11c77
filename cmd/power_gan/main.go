package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"

	gan "github.com/LdDl/gan-power-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	configPath := flag.String("config", "", "path to YAML train config. Defaults are used if empty")
	dataPath := flag.String("data", "", "path to CSV file with one week (336 half-hour samples, kW) per row")
	syntheticWeeks := flag.Int("synthetic-weeks", 256, "number of synthetic weeks to train on when --data is empty")
	epochs := flag.Int("epochs", 0, "overrides number of epochs from config")
	output := flag.String("output", "", "overrides output directory from config")
	logFormat := flag.String("log-format", "text", "log format. text|json")
	logLevel := flag.String("log-level", "info", "log level. debug|info|warn|error")
	flag.Parse()

	logger := logrus.New()
	if *logFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.WithError(err).Fatal("Bad log level")
	}
	logger.SetLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, logger, *configPath, *dataPath, *syntheticWeeks, *epochs, *output); err != nil {
		logger.WithError(err).Fatal("Training failed")
	}
}

func run(ctx context.Context, logger *logrus.Logger, configPath, dataPath string, syntheticWeeks, epochs int, output string) error {
	cfg := gan.DefaultTrainConfig()
	if configPath != "" {
		var err error
		cfg, err = gan.LoadTrainConfig(configPath)
		if err != nil {
			return err
		}
	}
	if epochs > 0 {
		cfg.Epochs = epochs
	}
	if output != "" {
		cfg.OutputDir = output
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, "Can't create output directory")
	}

	series, err := loadSeries(dataPath, syntheticWeeks, cfg.Seed)
	if err != nil {
		return err
	}
	trainSet, err := gan.NewTrainSet(series)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"weeks":     trainSet.DataLength,
		"min_kw":    trainSet.Scaler.Min,
		"max_kw":    trainSet.Scaler.Max,
		"synthetic": dataPath == "",
	}).Info("Train set is ready")

	trainer, err := gan.NewTrainer(cfg, logger)
	if err != nil {
		return err
	}
	defer trainer.Close()

	if _, err := trainer.Fit(ctx, trainSet); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Training interrupted, exporting current generator")
		} else {
			return err
		}
	}

	if cfg.Samples == 0 {
		return nil
	}
	generated, err := gan.SynthesizeSeries(trainer.Generator(), rand.New(rand.NewSource(cfg.Seed+1)), cfg.Samples, trainSet.Scaler)
	if err != nil {
		return err
	}
	fname := filepath.Join(cfg.OutputDir, "generated.csv")
	if err := writeSeriesFile(fname, generated); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"file":  fname,
		"weeks": len(generated),
	}).Info("Generated weeks saved")
	return nil
}

// writeSeriesFile Writes series as CSV file. Error of closing the file is reported too since it may lose buffered data.
func writeSeriesFile(fname string, series [][]float64) error {
	file, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create output file")
	}
	if err := gan.WriteSeriesCSV(file, series); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return errors.Wrap(err, "Can't close output file")
	}
	return nil
}

func loadSeries(dataPath string, syntheticWeeks int, seed int64) ([][]float64, error) {
	if dataPath == "" {
		if syntheticWeeks < 1 {
			return nil, fmt.Errorf("Number of synthetic weeks should be positive, but got %d", syntheticWeeks)
		}
		return gan.SyntheticWeeks(rand.New(rand.NewSource(seed)), syntheticWeeks), nil
	}
	file, err := os.Open(dataPath)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open data file")
	}
	defer file.Close()
	return gan.ReadSeriesCSV(file)
}
