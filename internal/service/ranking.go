package service

import (
	"math"
	"time"

	"github.com/ahmednasr/firstcommit/indexer/internal/models"
)

// Weights configures the combined ranking score:
//
//	Similarity*sim + Recency*2^(-age/HalfLifeDays) + Stars*min(1, log10(1+stars)/5)
//
// Age is measured from the last update. Weights need not sum to one.
type Weights struct {
	Similarity   float64
	Recency      float64
	Stars        float64
	HalfLifeDays float64
}

// DefaultWeights favour relevance, then freshness, then popularity.
var DefaultWeights = Weights{Similarity: 0.6, Recency: 0.25, Stars: 0.15, HalfLifeDays: 14}

// starsCeiling is the log10 star count that earns the full popularity score.
const starsCeiling = 5

// Score combines similarity with the issue's recency and popularity.
func (w Weights) Score(similarity float64, md models.IssueMetadata, now time.Time) float64 {
	return w.Similarity*similarity + w.Recency*w.recency(md, now) + w.Stars*popularity(md.Stars)
}

// recency decays from 1 (just updated) towards 0, halving every
// HalfLifeDays. Future timestamps count as age zero.
func (w Weights) recency(md models.IssueMetadata, now time.Time) float64 {
	ts := md.UpdatedAtTS
	if ts <= 0 {
		ts = md.CreatedAtTS
	}
	if ts <= 0 {
		return 0
	}
	half := w.HalfLifeDays
	if half <= 0 {
		half = DefaultWeights.HalfLifeDays
	}
	ageDays := max(0, now.Sub(time.Unix(ts, 0)).Hours()/24)
	return math.Exp(-math.Ln2 * ageDays / half)
}

func popularity(stars int) float64 {
	if stars <= 0 {
		return 0
	}
	return math.Min(1, math.Log10(1+float64(stars))/starsCeiling)
}
