package gan_power

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// SlicerOneStep Just iterator with step size = 1
type SlicerOneStep struct {
	StartIdx, EndIdx int
}

func (s SlicerOneStep) Start() int { return s.StartIdx }
func (s SlicerOneStep) End() int   { return s.EndIdx }
func (s SlicerOneStep) Step() int  { return 1 }

// TrainSet Weekly series prepared for training
//
// TrainData - [N, 1, 336] series scaled into [-1, 1]
// DataLength - N
// Scaler - scaler which has been fitted on raw series
//
type TrainSet struct {
	TrainData  *tensor.Dense
	DataLength int
	Scaler     *MinMaxScaler
}

// NewTrainSet Scales raw series (kW) into [-1, 1] and packs them into [N, 1, 336] tensor
func NewTrainSet(series [][]float64) (*TrainSet, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("At least one series must be provided")
	}
	for i := range series {
		if len(series[i]) != SeriesLength {
			return nil, fmt.Errorf("Series #%d has %d samples, but %d expected", i, len(series[i]), SeriesLength)
		}
	}
	scaler := &MinMaxScaler{}
	if err := scaler.Fit(series); err != nil {
		return nil, errors.Wrap(err, "Can't fit scaler")
	}
	data := make([]float64, 0, len(series)*SeriesLength)
	for i := range series {
		scaled := make([]float64, SeriesLength)
		copy(scaled, series[i])
		scaler.Transform(scaled)
		data = append(data, scaled...)
	}
	return &TrainSet{
		TrainData:  tensor.New(tensor.WithShape(len(series), 1, SeriesLength), tensor.WithBacking(data)),
		DataLength: len(series),
		Scaler:     scaler,
	}, nil
}

// Batch Returns copy of series [start, end) as [end-start, 1, 336] tensor
func (ts *TrainSet) Batch(start, end int) (*tensor.Dense, error) {
	if start < 0 || end > ts.DataLength || start >= end {
		return nil, fmt.Errorf("Batch [%d, %d) is out of range [0, %d)", start, end, ts.DataLength)
	}
	view, err := ts.TrainData.Slice(SlicerOneStep{StartIdx: start, EndIdx: end})
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice train data")
	}
	materialized, ok := view.Materialize().(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Slice should be *tensor.Dense, but got %T", view)
	}
	batch := materialized.Clone().(*tensor.Dense)
	// Slicing of single row drops batch axis
	if err := batch.Reshape(end-start, 1, SeriesLength); err != nil {
		return nil, errors.Wrap(err, "Can't reshape batch")
	}
	return batch, nil
}

// Gather Returns copy of series with provided indices (in the same order) as [len(indices), 1, 336] tensor
func (ts *TrainSet) Gather(indices []int) (*tensor.Dense, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("At least one index must be provided")
	}
	data := ts.TrainData.Data().([]float64)
	gathered := make([]float64, len(indices)*SeriesLength)
	for i, idx := range indices {
		if idx < 0 || idx >= ts.DataLength {
			return nil, fmt.Errorf("Series index %d is out of range [0, %d)", idx, ts.DataLength)
		}
		copy(gathered[i*SeriesLength:(i+1)*SeriesLength], data[idx*SeriesLength:(idx+1)*SeriesLength])
	}
	return tensor.New(tensor.WithShape(len(indices), 1, SeriesLength), tensor.WithBacking(gathered)), nil
}

// Shuffle Permutes series of the set in place
func (ts *TrainSet) Shuffle(rng *rand.Rand) {
	data := ts.TrainData.Data().([]float64)
	var perm []int
	if rng != nil {
		perm = rng.Perm(ts.DataLength)
	} else {
		perm = rand.Perm(ts.DataLength)
	}
	shuffled := make([]float64, len(data))
	for i, j := range perm {
		copy(shuffled[i*SeriesLength:(i+1)*SeriesLength], data[j*SeriesLength:(j+1)*SeriesLength])
	}
	copy(data, shuffled)
}

// Series Returns copy of series #i in original units
func (ts *TrainSet) Series(i int) ([]float64, error) {
	if i < 0 || i >= ts.DataLength {
		return nil, fmt.Errorf("Series index %d is out of range [0, %d)", i, ts.DataLength)
	}
	data := ts.TrainData.Data().([]float64)
	series := make([]float64, SeriesLength)
	copy(series, data[i*SeriesLength:(i+1)*SeriesLength])
	if ts.Scaler != nil {
		ts.Scaler.InverseTransform(series)
	}
	return series, nil
}

// MinMaxScaler Maps values from [Min, Max] into [-1, 1] (range of generator's tanh) and back
type MinMaxScaler struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Fit Finds global minimum and maximum of provided series
func (s *MinMaxScaler) Fit(series [][]float64) error {
	s.Min, s.Max = math.Inf(1), math.Inf(-1)
	for i := range series {
		if len(series[i]) == 0 {
			continue
		}
		s.Min = math.Min(s.Min, floats.Min(series[i]))
		s.Max = math.Max(s.Max, floats.Max(series[i]))
	}
	if math.IsInf(s.Min, 0) || math.IsInf(s.Max, 0) {
		return fmt.Errorf("No samples to fit")
	}
	if math.IsNaN(s.Min) || math.IsNaN(s.Max) {
		return fmt.Errorf("Series contain NaN")
	}
	return nil
}

// Transform Scales values in place. Constant data is mapped into zero.
func (s *MinMaxScaler) Transform(values []float64) {
	span := s.Max - s.Min
	for i := range values {
		if span == 0 {
			values[i] = 0
			continue
		}
		values[i] = 2*(values[i]-s.Min)/span - 1
	}
}

// InverseTransform Maps scaled values back to original units in place
func (s *MinMaxScaler) InverseTransform(values []float64) {
	span := s.Max - s.Min
	for i := range values {
		values[i] = (values[i]+1)/2*span + s.Min
	}
}

// ReadSeriesCSV Reads one series per row. Rows starting with '#' and non-numeric header row are skipped.
func ReadSeriesCSV(r io.Reader) ([][]float64, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	series := [][]float64{}
	for row := 0; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't read row #%d", row))
		}
		values := make([]float64, 0, len(record))
		for col, field := range record {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				if row == 0 && col == 0 {
					// Header
					values = nil
					break
				}
				return nil, errors.Wrap(err, fmt.Sprintf("Can't parse value at row #%d, column #%d", row, col))
			}
			values = append(values, value)
		}
		if len(values) == 0 {
			continue
		}
		series = append(series, values)
	}
	return series, nil
}

// WriteSeriesCSV Writes one series per row
func WriteSeriesCSV(w io.Writer, series [][]float64) error {
	writer := csv.NewWriter(w)
	for i := range series {
		record := make([]string, len(series[i]))
		for j, value := range series[i] {
			record[j] = strconv.FormatFloat(value, 'f', 6, 64)
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't write series #%d", i))
		}
	}
	writer.Flush()
	return writer.Error()
}

// SyntheticWeeks Generates n household-like weekly load profiles (kW) with 30 minutes step.
// Each day has base load with morning and evening peaks. Weekends are shifted to later and heavier mornings.
func SyntheticWeeks(rng *rand.Rand, n int) [][]float64 {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	peak := func(hour, center, width float64) float64 {
		d := (hour - center) / width
		return math.Exp(-0.5 * d * d)
	}
	weeks := make([][]float64, n)
	for w := range weeks {
		base := 0.2 + 0.2*rng.Float64()
		morning := 0.6 + 0.4*rng.Float64()
		evening := 1.0 + 0.8*rng.Float64()
		week := make([]float64, SeriesLength)
		for t := range week {
			day := t / SamplesPerDay
			hour := float64(t%SamplesPerDay) / 2
			morningCenter, morningScale := 7.5, 1.0
			if day >= 5 {
				morningCenter, morningScale = 10.0, 1.4
			}
			value := base +
				morning*morningScale*peak(hour, morningCenter, 1.2) +
				evening*peak(hour, 19.5, 1.8) +
				0.05*rng.NormFloat64()
			week[t] = math.Max(value, 0)
		}
		weeks[w] = week
	}
	return weeks
}
