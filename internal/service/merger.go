package service

import (
	"order-etl/internal/models"
	"order-etl/internal/table"
)

// Extracted is one source's table tagged with the system it came from
type Extracted struct {
	System models.SourceSystem
	Table  *table.Table
}

// Merge concatenates the extracted tables in the order given and stamps every
// row with its source_system. Columns are unioned in first-seen order; cells
// a source does not carry are Absent. Rows are neither reordered nor
// deduplicated.
func Merge(parts ...Extracted) *table.Table {
	tables := make([]*table.Table, 0, len(parts))
	for _, p := range parts {
		tables = append(tables, p.Table)
	}

	merged := table.Concat(tables...)
	merged.AddColumn(models.ColumnSourceSystem, table.Absent())

	row := 0
	for _, p := range parts {
		if p.Table == nil {
			continue
		}
		stamp := table.String(string(p.System))
		for i := 0; i < p.Table.Len(); i++ {
			merged.Set(row, models.ColumnSourceSystem, stamp)
			row++
		}
	}
	return merged
}
