package store

import (
	"sort"

	"bruinhooks/internal/model"
)

// sortNewestFirst orders idx (positions into entries) by timestamp descending, later
// appends first on equal timestamps.
func sortNewestFirst(entries []model.DeliveryLog, idx []int) {
	sort.SliceStable(idx, func(a, b int) bool {
		ea, eb := entries[idx[a]], entries[idx[b]]
		if !ea.Timestamp.Equal(eb.Timestamp) {
			return ea.Timestamp.After(eb.Timestamp)
		}
		return idx[a] > idx[b]
	})
}
