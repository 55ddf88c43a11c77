package main

import (
	"os"
	"path/filepath"
	"testing"

	gan "github.com/LdDl/gan-power-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSeriesFile(t *testing.T) {
	series := [][]float64{{0.5, 1.25, 2}, {3, 4.5, 0}}
	fname := filepath.Join(t.TempDir(), "generated.csv")
	require.NoError(t, writeSeriesFile(fname, series))

	file, err := os.Open(fname)
	require.NoError(t, err)
	defer file.Close()
	restored, err := gan.ReadSeriesCSV(file)
	require.NoError(t, err)
	assert.Equal(t, series, restored)

	assert.Error(t, writeSeriesFile(filepath.Join(t.TempDir(), "missing", "generated.csv"), series))
}

func TestLoadSyntheticSeries(t *testing.T) {
	weeks, err := loadSeries("", 3, 1)
	require.NoError(t, err)
	require.Len(t, weeks, 3)
	assert.Len(t, weeks[0], gan.SeriesLength)

	_, err = loadSeries("", 0, 1)
	assert.Error(t, err)
}
