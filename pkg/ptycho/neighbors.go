package ptycho

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"
)

// scanPoint is a probe position in a kd-tree.
type scanPoint struct {
	X, Y float64
}

// Compare implements kdtree.Comparable.
func (p scanPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(scanPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

func (p scanPoint) Dims() int { return 2 }

// Distance returns the squared Euclidean distance.
func (p scanPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(scanPoint)
	dx, dy := p.X-q.X, p.Y-q.Y
	return dx*dx + dy*dy
}

type scanPoints []scanPoint

func (p scanPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p scanPoints) Len() int                              { return len(p) }
func (p scanPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p scanPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(scanPlane{scanPoints: p, Dim: d}, kdtree.MedianOfRandoms(scanPlane{scanPoints: p, Dim: d}, 100))
}

// scanPlane sorts scanPoints along one dimension.
type scanPlane struct {
	scanPoints
	kdtree.Dim
}

func (p scanPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.scanPoints[i].X < p.scanPoints[j].X
	case 1:
		return p.scanPoints[i].Y < p.scanPoints[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p scanPlane) Slice(start, end int) kdtree.SortSlicer {
	return scanPlane{scanPoints: p.scanPoints[start:end], Dim: p.Dim}
}

func (p scanPlane) Swap(i, j int) {
	p.scanPoints[i], p.scanPoints[j] = p.scanPoints[j], p.scanPoints[i]
}

// NeighborStats summarises the spacing of a scan.
type NeighborStats struct {
	// Min, Median and Max nearest-neighbour distances in pixels
	Min, Median, Max float64
}

// NearestNeighborDistances returns, for every position, the distance to the
// closest other position. Coincident positions give zero. Fewer than two
// positions give nil.
func NearestNeighborDistances(p Positions) []float64 {
	if len(p) < 2 {
		return nil
	}
	points := make(scanPoints, len(p))
	for k, v := range p {
		points[k] = scanPoint{X: v[0], Y: v[1]}
	}
	tree := kdtree.New(append(scanPoints(nil), points...), true)

	out := make([]float64, len(p))
	for k, q := range points {
		// the closest hit is the query itself
		keeper := kdtree.NewNKeeper(2)
		tree.NearestSet(keeper, q)

		best := math.Inf(1)
		self := false
		for _, item := range keeper.Heap {
			if item.Comparable == nil {
				continue
			}
			if item.Dist == 0 && !self {
				self = true
				continue
			}
			best = math.Min(best, item.Dist)
		}
		if math.IsInf(best, 1) {
			best = 0
		}
		out[k] = math.Sqrt(best)
	}
	return out
}

// ScanNeighborStats computes NeighborStats for a set of positions.
func ScanNeighborStats(p Positions) NeighborStats {
	d := NearestNeighborDistances(p)
	if len(d) == 0 {
		return NeighborStats{}
	}
	sort.Float64s(d)
	return NeighborStats{
		Min:    d[0],
		Median: stat.Quantile(0.5, stat.Empirical, d, nil),
		Max:    d[len(d)-1],
	}
}
