package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDataset(t *testing.T) {
	d, err := NewDataset([2]int{2, 3}, 4, 5, [2]float64{1, 1}, [2]float64{0.1, 0.1})
	require.NoError(t, err)

	assert.Equal(t, 6, d.Len())
	rows, cols := d.FrameShape()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 5, cols)
	assert.Len(t, d.Frame(5), 20)
	assert.Equal(t, [2]int{2, 3}, d.ScanShape())
	assert.Equal(t, [2]float64{0.1, 0.1}, d.ReciprocalSampling())
	assert.Equal(t, [2]float64{1, 1}, d.ScanSampling())
}

func TestNewDatasetRejectsBadShapes(t *testing.T) {
	_, err := NewDataset([2]int{0, 3}, 4, 4, [2]float64{1, 1}, [2]float64{0.1, 0.1})
	assert.Error(t, err)

	_, err = NewDataset([2]int{1, 1}, 4, -1, [2]float64{1, 1}, [2]float64{0.1, 0.1})
	assert.Error(t, err)

	_, err = NewDataset([2]int{1, 1}, 4, 4, [2]float64{1, 1}, [2]float64{0, 0.1})
	assert.Error(t, err)
}

func TestSetFrame(t *testing.T) {
	d, err := NewDataset([2]int{1, 2}, 2, 2, [2]float64{1, 1}, [2]float64{1, 1})
	require.NoError(t, err)

	require.NoError(t, d.SetFrame(1, []float64{1, 2, 3, 4}))
	assert.Equal(t, []float64{1, 2, 3, 4}, d.Frame(1))
	assert.Equal(t, 10.0, d.TotalIntensity())

	assert.Error(t, d.SetFrame(2, []float64{1, 2, 3, 4}))
	assert.Error(t, d.SetFrame(0, []float64{1}))
}
