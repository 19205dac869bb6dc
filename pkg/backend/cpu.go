package backend

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"ptychorecon/pkg/array"
)

// CPU is the in-process backend. Frame-wise work runs one goroutine per
// frame with at most workers in flight. A panic in any frame is re-raised
// on the calling goroutine.
type CPU struct {
	workers int
	plans   planCache
}

// NewCPU creates a CPU backend. workers below 1 selects runtime.NumCPU().
func NewCPU(workers int) *CPU {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &CPU{workers: workers}
}

// Name implements Backend.
func (c *CPU) Name() string {
	if c.workers == 1 {
		return "serial"
	}
	return "cpu"
}

// Workers returns the goroutine bound used by ParallelFrames.
func (c *CPU) Workers() int { return c.workers }

// FFT2 implements Backend.
func (c *CPU) FFT2(dst, src *array.ComplexStack) { c.stackTransform(dst, src, false) }

// IFFT2 implements Backend.
func (c *CPU) IFFT2(dst, src *array.ComplexStack) { c.stackTransform(dst, src, true) }

// FFT2D implements Backend.
func (c *CPU) FFT2D(dst, src *array.Complex2D) { c.planeTransform(dst, src, false) }

// IFFT2D implements Backend.
func (c *CPU) IFFT2D(dst, src *array.Complex2D) { c.planeTransform(dst, src, true) }

func (c *CPU) stackTransform(dst, src *array.ComplexStack, inverse bool) {
	if dst.Len != src.Len || dst.Rows != src.Rows || dst.Cols != src.Cols {
		panic(fmt.Sprintf("backend: stack shape mismatch %dx%dx%d vs %dx%dx%d",
			dst.Len, dst.Rows, dst.Cols, src.Len, src.Rows, src.Cols))
	}
	c.ParallelFrames(src.Len, func(k int) {
		p := c.plans.get(src.Rows, src.Cols)
		p.transform(dst.Frame(k), src.Frame(k), inverse)
		c.plans.put(p)
	})
}

func (c *CPU) planeTransform(dst, src *array.Complex2D, inverse bool) {
	if dst.Rows != src.Rows || dst.Cols != src.Cols {
		panic(fmt.Sprintf("backend: plane shape mismatch %dx%d vs %dx%d",
			dst.Rows, dst.Cols, src.Rows, src.Cols))
	}
	p := c.plans.get(src.Rows, src.Cols)
	p.transform(dst.Data, src.Data, inverse)
	c.plans.put(p)
}

// ParallelFrames implements Backend.
func (c *CPU) ParallelFrames(n int, fn func(k int)) {
	if n <= 0 {
		return
	}
	if c.workers == 1 || n == 1 {
		for k := 0; k < n; k++ {
			fn(k)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(c.workers)
	for k := 0; k < n; k++ {
		k := k // per-iteration copy (go.mod targets go1.21 loop semantics)
		g.Go(func() (err error) {
			defer func() {
				if v := recover(); v != nil {
					err = fmt.Errorf("backend: frame %d: %v", k, v)
				}
			}()
			fn(k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		panic(err)
	}
}

// Sum implements Backend.
func (c *CPU) Sum(x []float64) float64 { return floats.Sum(x) }

// Max implements Backend.
func (c *CPU) Max(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Max(x)
}
