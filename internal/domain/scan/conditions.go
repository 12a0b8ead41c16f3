package scan

import (
	"sort"
	"strings"

	"github.com/drfirst/medscan/internal/domain/medication"
)

// AutoSelectThreshold is the minimum confidence at which the top suggestion
// is selected without asking.
const AutoSelectThreshold = 90

// RankConditions returns a cleaned copy of the suggestions sorted by
// descending confidence. Blank names are dropped, confidence is clamped to
// 0..100 and repeated names keep their highest score.
func RankConditions(in []medication.SuggestedCondition) []medication.SuggestedCondition {
	best := make(map[string]int, len(in))
	out := make([]medication.SuggestedCondition, 0, len(in))
	for _, c := range in {
		c.Condition = strings.TrimSpace(c.Condition)
		if c.Condition == "" {
			continue
		}
		c.Confidence = clamp(c.Confidence)
		key := strings.ToLower(c.Condition)
		if i, ok := best[key]; ok {
			if c.Confidence > out[i].Confidence {
				out[i] = c
			}
			continue
		}
		best[key] = len(out)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// AutoSelect applies the auto-select rule to a ranked list: only the head
// element is considered.
func AutoSelect(ranked []medication.SuggestedCondition) (string, bool) {
	if len(ranked) == 0 || ranked[0].Confidence < AutoSelectThreshold {
		return "", false
	}
	return ranked[0].Condition, true
}

func clamp(n int) int {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	}
	return n
}
