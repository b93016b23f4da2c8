package service

import (
	"fmt"

	"order-etl/internal/models"
	"order-etl/internal/table"
	"order-etl/internal/util"

	"go.uber.org/zap"
)

// ValidationResult contains the outcome of the data quality checks. The
// checks are advisory, so Passed is true whenever validation ran.
type ValidationResult struct {
	Passed        bool
	Warnings      []string
	DuplicateRows int
	DuplicateIDs  []int64
}

// Validator runs data quality checks on the cleaned table
type Validator struct {
	diag util.Diagnostics
}

// NewValidator creates a new validator
func NewValidator(diag util.Diagnostics) *Validator {
	return &Validator{diag: diag}
}

// Validate flags duplicate order_ids. A row is a duplicate when an earlier
// row carries the same order_id, sentinel values included.
func (v *Validator) Validate(tbl *table.Table) (ValidationResult, error) {
	result := ValidationResult{Passed: true}

	if !tbl.HasColumn(models.ColumnOrderID) {
		return result, fmt.Errorf("%w: missing column %s", models.ErrSchema, models.ColumnOrderID)
	}

	seen := make(map[int64]int, tbl.Len())
	for i := 0; i < tbl.Len(); i++ {
		id, ok := tbl.Get(i, models.ColumnOrderID).AsInt()
		if !ok {
			return result, fmt.Errorf("%w: record %d has non-integer order_id", models.ErrSchema, i+1)
		}
		seen[id]++
		switch seen[id] {
		case 1:
		case 2:
			result.DuplicateIDs = append(result.DuplicateIDs, id)
			result.DuplicateRows++
		default:
			result.DuplicateRows++
		}
	}

	if result.DuplicateRows > 0 {
		msg := fmt.Sprintf("Duplicate order_ids detected: %d rows, %d distinct ids",
			result.DuplicateRows, len(result.DuplicateIDs))
		result.Warnings = append(result.Warnings, msg)

		v.diag.Warn("Duplicate order_ids detected",
			zap.Int("duplicate_rows", result.DuplicateRows),
			zap.Int64s("order_ids", result.DuplicateIDs))
		util.DuplicateOrderIDsTotal.Add(float64(result.DuplicateRows))
	}

	return result, nil
}
