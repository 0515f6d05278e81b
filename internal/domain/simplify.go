package domain

import "math"

// Vertex is a point in an arbitrary planar coordinate system.
type Vertex struct {
	X float64
	Y float64
}

// IndexedVertex is a vertex kept by Simplify together with its position in the input.
type IndexedVertex struct {
	Index int
	Vertex
}

// Simplify reduces a polyline with the Douglas-Peucker algorithm.
// The first and last vertices are always kept and the result preserves input order.
// Among equally distant candidates the lowest index wins.
func Simplify(points []Vertex, tolerance float64) []IndexedVertex {
	n := len(points)
	if n == 0 {
		return nil
	}
	keep := make([]bool, n)
	keep[0] = true
	keep[n-1] = true

	type span struct{ first, last int }
	stack := []span{{0, n - 1}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s.last-s.first < 2 {
			continue
		}

		maxDist := -1.0
		index := s.first
		for i := s.first + 1; i < s.last; i++ {
			d := segmentDistance(points[i], points[s.first], points[s.last])
			if d > maxDist {
				maxDist = d
				index = i
			}
		}
		if maxDist > tolerance {
			keep[index] = true
			stack = append(stack, span{s.first, index}, span{index, s.last})
		}
	}

	out := make([]IndexedVertex, 0, n)
	for i, k := range keep {
		if k {
			out = append(out, IndexedVertex{Index: i, Vertex: points[i]})
		}
	}
	return out
}

// segmentDistance returns the distance from p to the segment a-b.
// A degenerate segment measures the distance to a.
func segmentDistance(p, a, b Vertex) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}
