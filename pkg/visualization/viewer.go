// Package visualization renders reconstructed planes (object phase, probe
// intensity, overlap) as grayscale images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"

	"ptychorecon/pkg/array"
)

// Viewer holds named real-valued planes for export.
type Viewer struct {
	planes map[string]*array.Real2D
	order  []string
}

// NewViewer creates an empty viewer.
func NewViewer() *Viewer {
	return &Viewer{planes: make(map[string]*array.Real2D)}
}

// Add registers a plane under name. Names must be unique.
func (v *Viewer) Add(name string, plane *array.Real2D) error {
	if name == "" {
		return fmt.Errorf("plane name must not be empty")
	}
	if plane == nil || len(plane.Data) == 0 {
		return fmt.Errorf("plane %q is empty", name)
	}
	if _, ok := v.planes[name]; ok {
		return fmt.Errorf("plane %q already added", name)
	}
	v.planes[name] = plane
	v.order = append(v.order, name)
	return nil
}

// Names returns the plane names in insertion order.
func (v *Viewer) Names() []string {
	return append([]string(nil), v.order...)
}

// ExtractSlice renders a plane as a 16-bit grayscale image, stretched
// linearly from its minimum to its maximum. A constant plane renders black.
func (v *Viewer) ExtractSlice(name string) (image.Image, error) {
	plane, ok := v.planes[name]
	if !ok {
		return nil, fmt.Errorf("unknown plane %q", name)
	}

	lo, hi := floats.Min(plane.Data), floats.Max(plane.Data)
	scale := 0.0
	if hi > lo {
		scale = 1 / (hi - lo)
	}

	img := image.NewGray16(image.Rect(0, 0, plane.Cols, plane.Rows))
	for y := 0; y < plane.Rows; y++ {
		for x := 0; x < plane.Cols; x++ {
			value := uint16(math.Max(0, math.Min(65535, (plane.At(y, x)-lo)*scale*65535)))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img, nil
}

// ExtractRegion copies a rectangular region of a plane.
func (v *Viewer) ExtractRegion(name string, startRow, startCol, rows, cols int) (*array.Real2D, error) {
	plane, ok := v.planes[name]
	if !ok {
		return nil, fmt.Errorf("unknown plane %q", name)
	}
	if startRow < 0 || startCol < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	if startRow+rows > plane.Rows || startCol+cols > plane.Cols {
		return nil, fmt.Errorf("region extends beyond plane boundaries")
	}

	region := array.NewReal2D(rows, cols)
	for i := 0; i < rows; i++ {
		src := (startRow+i)*plane.Cols + startCol
		copy(region.Data[i*cols:(i+1)*cols], plane.Data[src:src+cols])
	}
	return region, nil
}

// MaskBounds returns the bounding box (startRow, startCol, rows, cols) of
// the true pixels of a rows x cols mask, or ok=false when none are set.
func MaskBounds(mask []bool, rows, cols int) (startRow, startCol, h, w int, ok bool) {
	minR, minC, maxR, maxC := rows, cols, -1, -1
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if !mask[i*cols+j] {
				continue
			}
			minR, maxR = min(minR, i), max(maxR, i)
			minC, maxC = min(minC, j), max(maxC, j)
		}
	}
	if maxR < 0 {
		return 0, 0, 0, 0, false
	}
	return minR, minC, maxR - minR + 1, maxC - minC + 1, true
}

// SaveSlice saves an image as PNG, or as JPEG for a .jpg or .jpeg filename.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}

// SaveSliceSequence renders every plane to <outputDir>/<name>.png and
// returns the written paths.
func (v *Viewer) SaveSliceSequence(outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(v.order))
	for _, name := range v.order {
		img, err := v.ExtractSlice(name)
		if err != nil {
			return nil, err
		}

		filename := filepath.Join(outputDir, name+".png")
		if err := v.SaveSlice(img, filename); err != nil {
			return nil, fmt.Errorf("error saving %s: %w", name, err)
		}
		paths = append(paths, filename)
	}
	return paths, nil
}
