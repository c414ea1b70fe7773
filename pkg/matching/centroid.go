package matching

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// Centroid is a nucleus centre in image pixels, tagged with the table row it
// came from.
type Centroid struct {
	X, Y float64
	Row  int
}

// Compare implements the kdtree.Comparable interface
func (c Centroid) Compare(o kdtree.Comparable, d kdtree.Dim) float64 {
	q := o.(Centroid)
	switch d {
	case 0:
		return c.X - q.X
	case 1:
		return c.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (c Centroid) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two centroids
func (c Centroid) Distance(o kdtree.Comparable) float64 {
	q := o.(Centroid)
	dx := c.X - q.X
	dy := c.Y - q.Y
	return dx*dx + dy*dy
}

// Euclid returns the plain Euclidean distance, used for the strict radius test.
func (c Centroid) Euclid(q Centroid) float64 {
	return math.Hypot(c.X-q.X, c.Y-q.Y)
}

// Centroids is a collection of Centroid that satisfies kdtree.Interface
type Centroids []Centroid

func (p Centroids) Index(i int) kdtree.Comparable         { return p[i] }
func (p Centroids) Len() int                              { return len(p) }
func (p Centroids) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Centroids) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(centroidPlane{Centroids: p, Dim: d}, kdtree.MedianOfRandoms(centroidPlane{Centroids: p, Dim: d}, 100))
}

// centroidPlane implements sort.Interface and kdtree.SortSlicer for Centroids
type centroidPlane struct {
	Centroids
	kdtree.Dim
}

func (p centroidPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Centroids[i].X < p.Centroids[j].X
	case 1:
		return p.Centroids[i].Y < p.Centroids[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p centroidPlane) Slice(start, end int) kdtree.SortSlicer {
	return centroidPlane{Centroids: p.Centroids[start:end], Dim: p.Dim}
}

func (p centroidPlane) Swap(i, j int) {
	p.Centroids[i], p.Centroids[j] = p.Centroids[j], p.Centroids[i]
}

// within returns every centroid of tree lying strictly closer than radius to q.
func within(tree *kdtree.Tree, q Centroid, radius float64) []kdtree.ComparableDist {
	keeper := kdtree.NewDistKeeper(radius * radius)
	tree.NearestSet(keeper, q)
	out := make([]kdtree.ComparableDist, 0, keeper.Len())
	for _, item := range keeper.Heap {
		// Skip the sentinel value
		if item.Comparable == nil {
			continue
		}
		if q.Euclid(item.Comparable.(Centroid)) < radius {
			out = append(out, item)
		}
	}
	return out
}
