package scoring

// AlgorithmWeightedAverage identifies the recency-weighted mean scorer.
const AlgorithmWeightedAverage = "weighted_average"

// WeightedAverage computes a recency-weighted mean of clamped ratings, the
// newest rating carrying the largest linear weight. Ratings must be ordered
// oldest first, which is how rating sources return them. An empty slice
// returns the neutral 0.5.
func WeightedAverage(ratings []float64) float64 {
	if len(ratings) == 0 {
		return 0.5
	}
	var sum, weight float64
	for i, r := range ratings {
		v, _ := clampRating(r)
		w := float64(i + 1)
		sum += w * v
		weight += w
	}
	return sum / weight
}
