package cluster

// Noise is the DBSCAN label of points outside every dense region.
const Noise = -1

// DBSCAN labels points by density. A point is a core point when at least
// minPts points, itself included, lie within eps of it. Clusters are
// numbered from 0 in the order their first core point appears; other points
// are labelled Noise.
func DBSCAN(points [][]float64, eps float64, minPts int) []int {
	const unvisited = -2
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	neighbours := func(i int) []int {
		var out []int
		for j := range points {
			if distance(points[i], points[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	next := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		seeds := neighbours(i)
		if len(seeds) < minPts {
			labels[i] = Noise
			continue
		}
		id := next
		next++
		labels[i] = id
		for q := 0; q < len(seeds); q++ {
			j := seeds[q]
			if labels[j] == Noise {
				labels[j] = id
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = id
			if more := neighbours(j); len(more) >= minPts {
				seeds = append(seeds, more...)
			}
		}
	}
	return labels
}
