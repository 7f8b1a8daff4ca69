// Package paramset selects the active ParameterSet for a scope and date.
package paramset

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Resolve picks the single ParameterSet in effect for scope at asOf.
//
// A set is a candidate when asOf lies inside its validity interval and it is
// either scope-agnostic or scoped to exactly the requested scope. An exact
// scope match beats a scope-agnostic set, then the latest EffectiveFrom
// wins, then the lowest id. No candidate yields domain.ErrNoActiveConfiguration.
func Resolve(candidates []*domain.ParameterSet, scope *string, asOf time.Time) (*domain.ParameterSet, error) {
	var best *domain.ParameterSet
	for _, ps := range candidates {
		if ps == nil || !ps.ActiveAt(asOf) || !Applies(ps, scope) {
			continue
		}
		if best == nil || better(ps, best, scope) {
			best = ps
		}
	}
	if best == nil {
		return nil, domain.ErrNoActiveConfiguration
	}
	return best, nil
}

// Applies reports whether ps may serve the requested scope.
func Applies(ps *domain.ParameterSet, scope *string) bool {
	if ps.BranchID == nil {
		return true
	}
	return scope != nil && *ps.BranchID == *scope
}

func better(a, b *domain.ParameterSet, scope *string) bool {
	aExact, bExact := exact(a, scope), exact(b, scope)
	if aExact != bExact {
		return aExact
	}
	if !a.EffectiveFrom.Equal(b.EffectiveFrom) {
		return a.EffectiveFrom.After(b.EffectiveFrom)
	}
	return a.ID < b.ID
}

func exact(ps *domain.ParameterSet, scope *string) bool {
	return scope != nil && ps.BranchID != nil && *ps.BranchID == *scope
}
