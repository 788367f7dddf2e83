package units

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveIdentity(t *testing.T) {
	resolver := NewResolver(newMemoryRepo())
	rate, err := resolver.Resolve(context.Background(), 7, 7)
	require.NoError(t, err)
	require.Equal(t, 1.0, rate)
}

func TestResolveDirectAndReciprocal(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	resolver := NewResolver(repo)
	ctx := context.Background()

	kg := seedUnit(t, svc, "kg")
	g, err := svc.Create(ctx, SaveUnitInput{
		Name:  "g",
		Edges: []EdgeInput{{ToUnitID: kg.ID, Rate: 0.001}},
	})
	require.NoError(t, err)

	forward, err := resolver.Resolve(ctx, g.ID, kg.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.001, forward, 1e-12)

	backward, err := resolver.Resolve(ctx, kg.ID, g.ID)
	require.NoError(t, err)
	require.InDelta(t, 1000, backward, 1e-9)

	// resolve(X,Y) * resolve(Y,X) ~ 1
	require.InDelta(t, 1, forward*backward, 1e-9)
}

func TestResolveReciprocalFallbackWithoutDirectEdge(t *testing.T) {
	repo := newMemoryRepo()
	resolver := NewResolver(repo)
	ctx := context.Background()

	// Only one direction stored; resolver must invert it.
	_, err := repo.InsertEdge(ctx, ConversionEdge{FromUnitID: 1, ToUnitID: 2, Rate: 4})
	require.NoError(t, err)

	rate, err := resolver.Resolve(ctx, 2, 1)
	require.NoError(t, err)
	require.InDelta(t, 0.25, rate, 1e-12)
}

func TestResolveNeverChainsTransitively(t *testing.T) {
	repo := newMemoryRepo()
	resolver := NewResolver(repo)
	ctx := context.Background()

	// X->Y and Y->Z exist, X->Z must not resolve.
	_, err := repo.InsertEdge(ctx, ConversionEdge{FromUnitID: 1, ToUnitID: 2, Rate: 10})
	require.NoError(t, err)
	_, err = repo.InsertEdge(ctx, ConversionEdge{FromUnitID: 2, ToUnitID: 3, Rate: 10})
	require.NoError(t, err)

	_, err = resolver.Resolve(ctx, 1, 3)
	require.ErrorIs(t, err, ErrNotConvertible)
	_, err = resolver.Resolve(ctx, 3, 1)
	require.ErrorIs(t, err, ErrNotConvertible)
}

func TestResolveNotConvertible(t *testing.T) {
	resolver := NewResolver(newMemoryRepo())
	_, err := resolver.Resolve(context.Background(), 1, 2)
	require.ErrorIs(t, err, ErrNotConvertible)
}

func TestResolveIgnoresSoftDeletedEdges(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	resolver := NewResolver(repo)
	ctx := context.Background()

	kg := seedUnit(t, svc, "kg")
	g, err := svc.Create(ctx, SaveUnitInput{
		Name:  "g",
		Edges: []EdgeInput{{ToUnitID: kg.ID, Rate: 0.001}},
	})
	require.NoError(t, err)

	// Removing the edge set tombstones both directions.
	_, err = svc.Update(ctx, g.ID, SaveUnitInput{Name: "g"})
	require.NoError(t, err)

	_, err = resolver.Resolve(ctx, g.ID, kg.ID)
	require.ErrorIs(t, err, ErrNotConvertible)
}
