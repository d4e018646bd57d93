package insight

import (
	"sort"

	"github.com/vitalsync/vitalsync/pkg/model"
)

// Merge combines deterministic insights with narrative ones. The
// deterministic set always wins: a narrative insight whose type is
// already covered deterministically is dropped, never the other way
// around. The merged set is ordered by descending priority, ties broken
// by title for a stable output.
func Merge(deterministic, narrative []model.HealthInsight) []model.HealthInsight {
	covered := make(map[model.InsightType]bool, len(deterministic))
	for _, ins := range deterministic {
		covered[ins.Type] = true
	}

	merged := make([]model.HealthInsight, 0, len(deterministic)+len(narrative))
	merged = append(merged, deterministic...)
	for _, ins := range narrative {
		if covered[ins.Type] {
			continue
		}
		merged = append(merged, ins)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Priority != merged[j].Priority {
			return merged[i].Priority > merged[j].Priority
		}
		return merged[i].Title < merged[j].Title
	})

	return merged
}
