package db

import (
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/larder-erp/larder-erp/internal/shared"
)

// NumericToFloat converts a postgres numeric to float64, zero on null.
func NumericToFloat(n pgtype.Numeric) float64 {
	f, _ := n.Float64Value()
	return f.Float64
}

// FloatToNumeric converts a float64 to a postgres numeric.
func FloatToNumeric(f float64) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(strconv.FormatFloat(f, 'f', -1, 64))
	return n
}

// NullInt wraps an int64 into a nullable column value, treating zero as null.
func NullInt(v int64) pgtype.Int8 {
	return pgtype.Int8{Int64: v, Valid: v != 0}
}

// TranslateUnique maps a postgres unique violation onto the shared conflict
// taxonomy; other errors pass through untouched.
func TranslateUnique(err error, entity, reason string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.Conflict(entity, reason)
	}
	return err
}
