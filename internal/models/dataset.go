package models

import (
	"fmt"
)

// Dataset is an in-memory 4D-STEM acquisition: one diffraction intensity
// frame per probe position, stored in raster order over the scan grid.
type Dataset struct {
	// Frames holds Len() frames of Rows x Cols intensities, row-major, with
	// the unscattered beam near the frame centre as recorded by a detector.
	Frames [][]float64

	// Rows and Cols are the detector dimensions in pixels
	Rows, Cols int

	// Scan is the (rows, cols) shape of the raster scan
	Scan [2]int

	// ScanStep is the probe step along each scan axis in Å
	ScanStep [2]float64

	// Reciprocal is the detector pixel size in Å⁻¹
	Reciprocal [2]float64
}

// NewDataset allocates a dataset of zeroed frames for a scan of the given
// shape.
//
// Parameters:
//   - scan: Raster scan shape (rows, cols)
//   - rows, cols: Detector dimensions in pixels
//   - scanStep: Probe step in Å
//   - reciprocal: Detector pixel size in Å⁻¹
//
// Returns:
//   - The dataset, or an error for non-positive dimensions or samplings
func NewDataset(scan [2]int, rows, cols int, scanStep, reciprocal [2]float64) (*Dataset, error) {
	if scan[0] <= 0 || scan[1] <= 0 {
		return nil, fmt.Errorf("invalid scan shape %dx%d", scan[0], scan[1])
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid detector shape %dx%d", rows, cols)
	}
	if reciprocal[0] <= 0 || reciprocal[1] <= 0 {
		return nil, fmt.Errorf("invalid reciprocal sampling %v", reciprocal)
	}

	frames := make([][]float64, scan[0]*scan[1])
	for i := range frames {
		frames[i] = make([]float64, rows*cols)
	}
	return &Dataset{
		Frames:     frames,
		Rows:       rows,
		Cols:       cols,
		Scan:       scan,
		ScanStep:   scanStep,
		Reciprocal: reciprocal,
	}, nil
}

// Len returns the number of diffraction patterns.
func (d *Dataset) Len() int { return len(d.Frames) }

// FrameShape returns the detector dimensions.
func (d *Dataset) FrameShape() (int, int) { return d.Rows, d.Cols }

// Frame returns pattern i. The slice is shared with the dataset.
func (d *Dataset) Frame(i int) []float64 { return d.Frames[i] }

// SetFrame copies data into pattern i.
func (d *Dataset) SetFrame(i int, data []float64) error {
	if i < 0 || i >= len(d.Frames) {
		return fmt.Errorf("frame %d out of range [0, %d)", i, len(d.Frames))
	}
	if len(data) != d.Rows*d.Cols {
		return fmt.Errorf("frame %d has %d pixels, expected %d", i, len(data), d.Rows*d.Cols)
	}
	copy(d.Frames[i], data)
	return nil
}

// ReciprocalSampling returns the detector pixel size in Å⁻¹.
func (d *Dataset) ReciprocalSampling() [2]float64 { return d.Reciprocal }

// ScanShape returns the raster scan shape.
func (d *Dataset) ScanShape() [2]int { return d.Scan }

// ScanSampling returns the probe step in Å.
func (d *Dataset) ScanSampling() [2]float64 { return d.ScanStep }

// TotalIntensity returns the summed counts of every frame.
func (d *Dataset) TotalIntensity() float64 {
	total := 0.0
	for _, f := range d.Frames {
		for _, v := range f {
			total += v
		}
	}
	return total
}
