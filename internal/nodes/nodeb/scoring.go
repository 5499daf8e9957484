package nodeb

import (
	"math"
	"time"
)

// Pure scorer functions. No I/O happens here.

const (
	halfLifeDays    = 7.0
	staleCutoffDays = 14.0
	missingAgeDays  = 999.0
	logEpsilon      = 1e-10
)

// Clip01 clamps x into [0, 1].
func Clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// AgeDays returns the candidate's scrape age in days. A missing timestamp
// counts as 999 days, which the recency cutoff turns into a zero score.
func AgeDays(lastScraped *time.Time, now time.Time) float64 {
	if lastScraped == nil {
		return missingAgeDays
	}
	return now.Sub(*lastScraped).Hours() / 24
}

// RecencyScore decays with a seven-day half-life and cuts hard to zero past
// fourteen days.
func RecencyScore(ageDays float64) float64 {
	if ageDays > staleCutoffDays {
		return 0
	}
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(0.5, ageDays/halfLifeDays)
}

// PolarityAlignment scores how well an influencer's stance matches the
// campaign's desired polarity, both in [-10, 10]. Campaigns courting allies
// refuse critics outright.
func PolarityAlignment(desired, influencer int) float64 {
	if desired > 0 && influencer < 0 {
		return 0
	}
	return Clip01((1 + float64(desired)*float64(influencer)/100) / 2)
}

// PolarityAlignmentOf handles the nullable influencer score: unknown stance
// scores zero so the fused gate refuses the candidate.
func PolarityAlignmentOf(desired int, influencer *int) float64 {
	if influencer == nil {
		return 0
	}
	return PolarityAlignment(desired, *influencer)
}

// Weights are the per-factor weights of the fused score.
type Weights struct {
	Similarity float64
	Recency    float64
	Polarity   float64
}

// DefaultWeights weighs all three factors equally.
func DefaultWeights() Weights {
	return Weights{Similarity: 1, Recency: 1, Polarity: 1}
}

// MMS fuses similarity, recency, and polarity alignment with a weighted
// product of experts. A single near-zero factor collapses the score, which
// is the point: the gate must refuse a candidate that is stale, off-polarity,
// or dissimilar.
func MMS(similarity, recency, polarity float64, w Weights) float64 {
	factors := [3]float64{Clip01(similarity), Clip01(recency), Clip01(polarity)}
	weights := [3]float64{w.Similarity, w.Recency, w.Polarity}

	var sumLog, sumW float64
	for i, x := range factors {
		if weights[i] <= 0 {
			continue
		}
		sumLog += weights[i] * math.Log(math.Max(logEpsilon, x))
		sumW += weights[i]
	}
	if sumW == 0 {
		return 0
	}
	return Clip01(math.Exp(sumLog / sumW))
}
