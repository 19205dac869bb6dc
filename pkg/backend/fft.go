package backend

import (
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// plan2D holds the row and column transforms for one frame shape together
// with scratch buffers. A gonum CmplxFFT keeps internal work space, so a plan
// is only ever used by one goroutine at a time; plans are recycled through a
// per-shape sync.Pool.
type plan2D struct {
	rows, cols int
	rowFFT     *fourier.CmplxFFT
	colFFT     *fourier.CmplxFFT
	rowIn      []complex128
	rowOut     []complex128
	colIn      []complex128
	colOut     []complex128
}

func newPlan2D(rows, cols int) *plan2D {
	return &plan2D{
		rows:   rows,
		cols:   cols,
		rowFFT: fourier.NewCmplxFFT(cols),
		colFFT: fourier.NewCmplxFFT(rows),
		rowIn:  make([]complex128, cols),
		rowOut: make([]complex128, cols),
		colIn:  make([]complex128, rows),
		colOut: make([]complex128, rows),
	}
}

// transform performs a 2D DFT of one row-major frame.
//
// The transform is separable: every row is transformed first, then every
// column of the row results. dst and src may alias because each row and
// column is copied into scratch space before it is transformed.
//
// Parameters:
//   - dst: Output frame of rows*cols values
//   - src: Input frame of rows*cols values
//   - inverse: When true the inverse transform is computed and scaled by 1/(rows*cols)
func (p *plan2D) transform(dst, src []complex128, inverse bool) {
	rows, cols := p.rows, p.cols

	// Row-wise transforms
	for i := 0; i < rows; i++ {
		copy(p.rowIn, src[i*cols:(i+1)*cols])
		if inverse {
			p.rowFFT.Sequence(p.rowOut, p.rowIn)
		} else {
			p.rowFFT.Coefficients(p.rowOut, p.rowIn)
		}
		copy(dst[i*cols:(i+1)*cols], p.rowOut)
	}

	// Column-wise transforms of the row results
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			p.colIn[i] = dst[i*cols+j]
		}
		if inverse {
			p.colFFT.Sequence(p.colOut, p.colIn)
		} else {
			p.colFFT.Coefficients(p.colOut, p.colIn)
		}
		for i := 0; i < rows; i++ {
			dst[i*cols+j] = p.colOut[i]
		}
	}

	// gonum's Sequence is unnormalised
	if inverse {
		scale := complex(1/float64(rows*cols), 0)
		for i := range dst[:rows*cols] {
			dst[i] *= scale
		}
	}
}

type planKey struct{ rows, cols int }

// planCache hands out plans for any frame shape.
type planCache struct {
	mu    sync.Mutex
	pools map[planKey]*sync.Pool
}

func (c *planCache) pool(rows, cols int) *sync.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pools == nil {
		c.pools = make(map[planKey]*sync.Pool)
	}
	key := planKey{rows, cols}
	p, ok := c.pools[key]
	if !ok {
		p = &sync.Pool{New: func() any { return newPlan2D(rows, cols) }}
		c.pools[key] = p
	}
	return p
}

func (c *planCache) get(rows, cols int) *plan2D {
	return c.pool(rows, cols).Get().(*plan2D)
}

func (c *planCache) put(p *plan2D) {
	c.pool(p.rows, p.cols).Put(p)
}
