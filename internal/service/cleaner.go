package service

import (
	"fmt"

	"order-etl/internal/coerce"
	"order-etl/internal/models"
	"order-etl/internal/table"
	"order-etl/internal/util"

	"go.uber.org/zap"
)

// Cleaner normalizes the merged table in place
type Cleaner struct {
	diag util.Diagnostics
}

// NewCleaner creates a new cleaner
func NewCleaner(diag util.Diagnostics) *Cleaner {
	return &Cleaner{diag: diag}
}

// Clean lowercases and trims customer_email and coerces order_total to a
// number. Rows whose order_id or order_date are still in raw form (API rows)
// are brought to the canonical types first: a missing order_id becomes the
// -1 sentinel and order_date is parsed.
func (c *Cleaner) Clean(tbl *table.Table) error {
	if err := c.harmonize(tbl); err != nil {
		return err
	}

	for i := 0; i < tbl.Len(); i++ {
		if tbl.HasColumn(models.ColumnCustomerEmail) {
			tbl.Set(i, models.ColumnCustomerEmail, coerce.Email(tbl.Get(i, models.ColumnCustomerEmail)))
		}

		if tbl.HasColumn(models.ColumnOrderTotal) {
			total, err := coerce.Number(tbl.Get(i, models.ColumnOrderTotal))
			if err != nil {
				return fmt.Errorf("record %d: %w", i+1, err)
			}
			tbl.Set(i, models.ColumnOrderTotal, total)
		}
	}

	c.diag.Info("Data transformations completed", zap.Int("records", tbl.Len()))
	return nil
}

func (c *Cleaner) harmonize(tbl *table.Table) error {
	missing := make(map[string]int)
	var order []string

	for i := 0; i < tbl.Len(); i++ {
		id := tbl.Get(i, models.ColumnOrderID)
		switch {
		case id.IsAbsent():
			source := tbl.Get(i, models.ColumnSourceSystem).Text()
			if missing[source] == 0 {
				order = append(order, source)
			}
			missing[source]++
			tbl.Set(i, models.ColumnOrderID, table.Int(models.MissingOrderID))
		default:
			n, err := coerce.OrderID(id)
			if err != nil {
				return fmt.Errorf("record %d: %w", i+1, err)
			}
			tbl.Set(i, models.ColumnOrderID, table.Int(n))
		}

		date, err := coerce.DateValue(tbl.Get(i, models.ColumnOrderDate))
		if err != nil {
			return fmt.Errorf("record %d: %w", i+1, err)
		}
		tbl.Set(i, models.ColumnOrderDate, date)
	}

	for _, source := range order {
		c.diag.Warn("Found records with missing order_id",
			zap.String("source", source),
			zap.Int("count", missing[source]))
		util.MissingOrderIDsTotal.WithLabelValues(source).Add(float64(missing[source]))
	}
	return nil
}
