package analyze

// averageLinkage runs hierarchical agglomerative clustering with average
// linkage over a precomputed distance matrix. Two clusters merge only while
// the average pairwise distance between their members stays below cutoff.
// Returns one run-local label per input index, numbered by first appearance.
func averageLinkage(dist [][]float64, cutoff float64) []int64 {
	n := len(dist)
	if n == 0 {
		return nil
	}

	// Working copy of pairwise cluster distances, updated in place with the
	// Lance-Williams recurrence for average linkage.
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
		copy(d[i], dist[i])
	}

	active := make([]bool, n)
	size := make([]int, n)
	parent := make([]int, n)
	for i := 0; i < n; i++ {
		active[i] = true
		size[i] = 1
		parent[i] = i
	}

	nearest := make([]int, n)
	for i := 0; i < n; i++ {
		nearest[i] = nearestActive(d, active, i)
	}

	for {
		// Global closest pair among active clusters.
		best, bestDist := -1, 0.0
		for i := 0; i < n; i++ {
			if !active[i] || nearest[i] < 0 {
				continue
			}
			if best < 0 || d[i][nearest[i]] < bestDist {
				best, bestDist = i, d[i][nearest[i]]
			}
		}
		if best < 0 || bestDist >= cutoff {
			break
		}

		a, b := best, nearest[best]
		if b < a {
			a, b = b, a
		}

		// Merge b into a: d(k, a∪b) = (|a|·d(k,a) + |b|·d(k,b)) / (|a|+|b|).
		na, nb := float64(size[a]), float64(size[b])
		for k := 0; k < n; k++ {
			if !active[k] || k == a || k == b {
				continue
			}
			merged := (na*d[k][a] + nb*d[k][b]) / (na + nb)
			d[k][a], d[a][k] = merged, merged
		}
		size[a] += size[b]
		active[b] = false
		parent[b] = a

		nearest[a] = nearestActive(d, active, a)
		for k := 0; k < n; k++ {
			if !active[k] || k == a {
				continue
			}
			if nearest[k] == a || nearest[k] == b {
				nearest[k] = nearestActive(d, active, k)
			} else if d[k][a] < d[k][nearest[k]] {
				nearest[k] = a
			}
		}
	}

	// Collapse parent chains and number clusters in input order.
	labels := make([]int64, n)
	labelByRoot := make(map[int]int64)
	var next int64
	for i := 0; i < n; i++ {
		root := i
		for parent[root] != root {
			root = parent[root]
		}
		label, ok := labelByRoot[root]
		if !ok {
			label = next
			next++
			labelByRoot[root] = label
		}
		labels[i] = label
	}
	return labels
}

func nearestActive(d [][]float64, active []bool, i int) int {
	best := -1
	for j := range d[i] {
		if j == i || !active[j] {
			continue
		}
		if best < 0 || d[i][j] < d[i][best] {
			best = j
		}
	}
	return best
}
