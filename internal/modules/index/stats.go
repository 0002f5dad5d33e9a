package index

import (
	"gonum.org/v1/gonum/stat"

	"github.com/quantfolio/quantfolio/internal/domain"
)

// Stats summarizes how concentrated a target index is. These figures are
// diagnostic output only, so float64 precision is fine here; capital
// allocation itself stays in decimal arithmetic.
type Stats struct {
	AssetCount     int     `json:"asset_count"`
	TopShare       float64 `json:"top_share"`        // largest single target share, 0-100
	MeanShare      float64 `json:"mean_share"`       // 0-100
	ShareStdDev    float64 `json:"share_std_dev"`    // population spread of shares
	Herfindahl     float64 `json:"herfindahl"`       // sum of squared share fractions, 0-1
	EffectiveCount float64 `json:"effective_assets"` // 1/Herfindahl
}

// ComputeStats derives concentration diagnostics for a built index.
func ComputeStats(index []domain.TargetAllocation) Stats {
	if len(index) == 0 {
		return Stats{}
	}

	shares := make([]float64, len(index))
	top := 0.0
	hhi := 0.0
	for i, entry := range index {
		share, _ := entry.TargetShare.Float64()
		shares[i] = share
		if share > top {
			top = share
		}
		fraction := share / 100
		hhi += fraction * fraction
	}

	mean, std := stat.MeanStdDev(shares, nil)

	s := Stats{
		AssetCount:  len(index),
		TopShare:    top,
		MeanShare:   mean,
		ShareStdDev: std,
		Herfindahl:  hhi,
	}
	if hhi > 0 {
		s.EffectiveCount = 1 / hhi
	}
	return s
}
