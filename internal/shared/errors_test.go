package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorCollectsFields(t *testing.T) {
	vErr := &ValidationError{}
	require.False(t, vErr.HasErrors())

	vErr.Add("name", "name is required").Add("rate", "rate must be positive")
	require.True(t, vErr.HasErrors())
	require.Len(t, vErr.Fields, 2)
	require.Contains(t, vErr.Error(), "name: name is required")
	require.Contains(t, vErr.Error(), "rate: rate must be positive")
}

func TestIsValidationSeesWrappedErrors(t *testing.T) {
	err := fmt.Errorf("create unit: %w", Validation("name", "name is required"))
	require.True(t, IsValidation(err))
	require.False(t, IsConflict(err))
}

func TestIsConflictSeesWrappedErrors(t *testing.T) {
	err := fmt.Errorf("delete unit: %w", Conflict("unit", "referenced by a material"))
	require.True(t, IsConflict(err))
	require.False(t, IsValidation(err))
	require.Contains(t, err.Error(), "conflict on unit")
}

func TestUserSafeMessage(t *testing.T) {
	require.Equal(t, "", UserSafeMessage(nil))
	require.Equal(t, "not found", UserSafeMessage(ErrNotFound))
	require.Contains(t, UserSafeMessage(Validation("name", "name is required")), "name is required")
	require.Equal(t, "internal error", UserSafeMessage(errors.New("pq: connection refused")))
}
