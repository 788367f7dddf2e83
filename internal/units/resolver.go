package units

import (
	"context"
	"errors"

	"github.com/larder-erp/larder-erp/internal/shared"
)

// EdgeFinder looks up a single live directed edge.
type EdgeFinder interface {
	FindLiveEdge(ctx context.Context, fromUnitID, toUnitID int64) (ConversionEdge, error)
}

// Resolver answers "how many toUnit is one fromUnit". It checks identity,
// then a direct edge, then the reciprocal of the opposite edge. It never
// chains through a third unit: X->Y plus Y->Z does not make X->Z resolvable.
type Resolver struct {
	edges EdgeFinder
}

// NewResolver builds a Resolver over an edge source.
func NewResolver(edges EdgeFinder) *Resolver {
	return &Resolver{edges: edges}
}

// Resolve returns the conversion rate from fromUnitID to toUnitID, or
// ErrNotConvertible when no direct or reciprocal edge connects the pair.
func (r *Resolver) Resolve(ctx context.Context, fromUnitID, toUnitID int64) (float64, error) {
	if fromUnitID == toUnitID {
		return 1, nil
	}
	direct, err := r.edges.FindLiveEdge(ctx, fromUnitID, toUnitID)
	if err == nil {
		return direct.Rate, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return 0, err
	}
	reverse, err := r.edges.FindLiveEdge(ctx, toUnitID, fromUnitID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return 0, ErrNotConvertible
		}
		return 0, err
	}
	if reverse.Rate == 0 {
		return 0, ErrNotConvertible
	}
	return 1 / reverse.Rate, nil
}
