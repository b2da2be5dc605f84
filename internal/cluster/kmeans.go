package cluster

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
)

const kmeansIterations = 300

// KMeansResult is the best of several seeded KMeans runs.
type KMeansResult struct {
	Labels    []int
	Centroids [][]float64
	Inertia   float64
}

// KMeans partitions points into exactly k non-empty clusters using k-means++
// seeding. The run with the lowest inertia among restarts wins. Identical
// inputs and seed give identical results.
func KMeans(points [][]float64, k int, seed uint64, restarts int) (KMeansResult, error) {
	if k < 1 {
		return KMeansResult{}, eris.Errorf("cluster: k must be at least 1, got %d", k)
	}
	if len(points) < k {
		return KMeansResult{}, eris.Errorf("cluster: %d points cannot form %d clusters", len(points), k)
	}
	restarts = max(1, restarts)
	rng := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))

	best := KMeansResult{Inertia: math.Inf(1)}
	for range restarts {
		res := lloyd(points, seedCentroids(points, k, rng))
		if res.Inertia < best.Inertia {
			best = res
		}
	}
	return best, nil
}

// seedCentroids picks k starting centroids with k-means++.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := [][]float64{clone(points[rng.IntN(len(points))])}
	d2 := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			d := distance(p, centroids[len(centroids)-1])
			if len(centroids) == 1 || d*d < d2[i] {
				d2[i] = d * d
			}
			total += d2[i]
		}
		if total == 0 {
			centroids = append(centroids, clone(points[rng.IntN(len(points))]))
			continue
		}
		target := rng.Float64() * total
		pick := len(points) - 1
		for i, d := range d2 {
			target -= d
			if target < 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, clone(points[pick]))
	}
	return centroids
}

func lloyd(points [][]float64, centroids [][]float64) KMeansResult {
	k := len(centroids)
	labels := make([]int, len(points))
	for range kmeansIterations {
		changed := assign(points, centroids, labels)
		members := make([][]int, k)
		for i, l := range labels {
			members[l] = append(members[l], i)
		}
		refill(points, centroids, labels, members)
		for c := range centroids {
			centroids[c] = mean(points, members[c])
		}
		if !changed {
			break
		}
	}

	var inertia float64
	for i, p := range points {
		d := distance(p, centroids[labels[i]])
		inertia += d * d
	}
	return KMeansResult{Labels: labels, Centroids: centroids, Inertia: inertia}
}

// assign moves every point to its nearest centroid and reports whether any
// label changed.
func assign(points, centroids [][]float64, labels []int) bool {
	changed := false
	for i, p := range points {
		best, bestD := 0, math.Inf(1)
		for c, ctr := range centroids {
			if d := distance(p, ctr); d < bestD {
				best, bestD = c, d
			}
		}
		if labels[i] != best {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

// refill gives every empty cluster the point farthest from its current
// centroid, taken from a cluster that can spare one. With at least k points
// such a cluster always exists.
func refill(points, centroids [][]float64, labels []int, members [][]int) {
	for c := range members {
		if len(members[c]) > 0 {
			continue
		}
		far, farD := -1, -1.0
		for i, p := range points {
			if len(members[labels[i]]) < 2 {
				continue
			}
			if d := distance(p, centroids[labels[i]]); d > farD {
				far, farD = i, d
			}
		}
		if far < 0 {
			continue
		}
		from := labels[far]
		members[from] = remove(members[from], far)
		members[c] = []int{far}
		labels[far] = c
	}
}

func remove(s []int, v int) []int {
	out := s[:0:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func clone(p []float64) []float64 { return append([]float64(nil), p...) }
