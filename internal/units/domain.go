package units

import (
	"errors"
	"time"
)

// Unit represents a unit of measure.
type Unit struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	CreatedBy   int64            `json:"created_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	DeletedAt   *time.Time       `json:"deleted_at,omitempty"`
	Conversions []ConversionEdge `json:"conversions,omitempty"`
}

// Active reports whether the unit is live (not soft-deleted).
func (u Unit) Active() bool {
	return u.DeletedAt == nil
}

// ConversionEdge is a directed, rated relationship allowing a quantity in the
// from-unit to be expressed in the to-unit. Every live edge has a live
// reciprocal edge with inverse rate, kept in sync on every edit.
type ConversionEdge struct {
	ID          int64      `json:"id"`
	FromUnitID  int64      `json:"from_unit_id"`
	ToUnitID    int64      `json:"to_unit_id"`
	Rate        float64    `json:"rate"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the edge is live.
func (e ConversionEdge) Active() bool {
	return e.DeletedAt == nil
}

// ErrNotConvertible indicates no direct or reciprocal edge connects two units.
var ErrNotConvertible = errors.New("units: not convertible")
