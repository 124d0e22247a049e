package combos

// ForEachSubset enumerates every k-subset of items in lexicographic index
// order using iterative index manipulation (no recursion) and invokes visit
// with a view of the current subset. The slice passed to visit is reused
// between calls; visit must copy it if it keeps a reference. Enumeration
// stops early when visit returns false.
func ForEachSubset[T any](items []T, k int, visit func(subset []T) bool) {
	n := len(items)
	if k <= 0 || k > n {
		return
	}

	indices := make([]int, k)
	for i := range indices {
		indices[i] = i
	}
	subset := make([]T, k)

	for {
		for i, idx := range indices {
			subset[i] = items[idx]
		}
		if !visit(subset) {
			return
		}

		// Advance to the next combination: find the rightmost index that can
		// move, bump it, and reset everything after it.
		i := k - 1
		for i >= 0 && indices[i] == n-k+i {
			i--
		}
		if i < 0 {
			return
		}
		indices[i]++
		for j := i + 1; j < k; j++ {
			indices[j] = indices[j-1] + 1
		}
	}
}

// CollectSubsets materializes every k-subset. Intended for candidate lists
// that are then processed in batches.
func CollectSubsets[T any](items []T, k int) [][]T {
	var out [][]T
	ForEachSubset(items, k, func(subset []T) bool {
		copied := make([]T, len(subset))
		copy(copied, subset)
		out = append(out, copied)
		return true
	})
	return out
}
