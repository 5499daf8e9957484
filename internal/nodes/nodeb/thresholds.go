package nodeb

// Thresholds gate the matching pipeline. Defaults are documented values;
// deployments may tune them per campaign class.
type Thresholds struct {
	// Precheck is the minimum fused score to survive the prefilter round.
	Precheck float64
	// CacheEligible is the minimum fused score for cache-only acceptance.
	CacheEligible float64
	// PulseMin is the minimum cosine similarity for a pulse pass.
	PulseMin float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Precheck:      0.85,
		CacheEligible: 0.90,
		PulseMin:      0.85,
	}
}
