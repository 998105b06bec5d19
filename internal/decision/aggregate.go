package decision

import (
	"math"

	"github.com/twinforge/twincore/internal/persona"
)

// Aggregate computes the overall score as a weighted sum of dimension scores
// using the value hierarchy's priority weights. A dimension inherits the
// weight of the value it references; dimensions without a value reference
// weigh 1. Conflicts between equally weighted values were already resolved
// when the hierarchy was prioritized, so aggregation itself is a plain sum.
func Aggregate(spec *persona.Spec, scores []DimensionScore) (overall, confidence float64) {
	if len(scores) == 0 {
		return 0, 0
	}

	valueRef := make(map[string]string, len(spec.Dimensions))
	for _, d := range spec.Dimensions {
		valueRef[d.Name] = d.ValueRef
	}

	var sum, confSum, totalWeight float64
	for _, s := range scores {
		w := 1.0
		if ref := valueRef[s.Dimension]; ref != "" {
			if vw := spec.Values.WeightFor(ref); vw > 0 {
				w = vw
			}
		}
		sum += w * float64(s.Score)
		confSum += w * s.Confidence
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0, 0
	}

	overall = round2(sum / totalWeight)
	confidence = round2(confSum / totalWeight)
	return overall, confidence
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
