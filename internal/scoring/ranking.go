package scoring

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// RankingTable labels a customer by the sum of their three scores.
// Tiers are inclusive and checked in table order; the first hit wins.
type RankingTable struct {
	tiers    []domain.RankTier
	fallback string
}

// NewRankingTable builds a table from configuration. An empty table
// falls back to domain.DefaultRanking.
func NewRankingTable(cfg domain.RankingConfig) *RankingTable {
	if len(cfg.Tiers) == 0 && cfg.Fallback == "" {
		cfg = domain.DefaultRanking()
	}
	tiers := make([]domain.RankTier, len(cfg.Tiers))
	copy(tiers, cfg.Tiers)
	return &RankingTable{tiers: tiers, fallback: cfg.Fallback}
}

// Label returns the tier label for sum.
func (t *RankingTable) Label(sum int) string {
	for _, tier := range t.tiers {
		if sum >= tier.MinSum && sum <= tier.MaxSum {
			return tier.Label
		}
	}
	return t.fallback
}

// Tiers returns a copy of the configured tiers.
func (t *RankingTable) Tiers() []domain.RankTier {
	out := make([]domain.RankTier, len(t.tiers))
	copy(out, t.tiers)
	return out
}
