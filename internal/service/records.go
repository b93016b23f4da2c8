package service

import (
	"encoding/json"
	"fmt"
	"time"

	"order-etl/internal/models"
	"order-etl/internal/table"
)

var canonicalColumns = map[string]bool{
	models.ColumnOrderID:       true,
	models.ColumnOrderDate:     true,
	models.ColumnCustomerEmail: true,
	models.ColumnOrderTotal:    true,
	models.ColumnSourceSystem:  true,
}

// ToCombinedOrders converts the cleaned table into ledger rows. Passthrough
// columns are folded into the Extra JSON object; Absent cells are omitted.
func ToCombinedOrders(runID string, tbl *table.Table) ([]models.CombinedOrder, error) {
	var extras []string
	for _, c := range tbl.Columns() {
		if !canonicalColumns[c] {
			extras = append(extras, c)
		}
	}

	orders := make([]models.CombinedOrder, 0, tbl.Len())
	for i := 0; i < tbl.Len(); i++ {
		id, ok := tbl.Get(i, models.ColumnOrderID).AsInt()
		if !ok {
			return nil, fmt.Errorf("%w: record %d has non-integer order_id", models.ErrSchema, i+1)
		}
		date, ok := tbl.Get(i, models.ColumnOrderDate).AsTime()
		if !ok {
			return nil, fmt.Errorf("%w: record %d has no order_date", models.ErrSchema, i+1)
		}

		order := models.CombinedOrder{
			RunID:        runID,
			RowNum:       i + 1,
			OrderID:      id,
			OrderDate:    date,
			SourceSystem: tbl.Get(i, models.ColumnSourceSystem).Text(),
		}

		if email := tbl.Get(i, models.ColumnCustomerEmail); !email.IsAbsent() {
			s := email.Text()
			order.CustomerEmail = &s
		}

		switch total := tbl.Get(i, models.ColumnOrderTotal); total.Kind() {
		case table.KindInt:
			n, _ := total.AsInt()
			f := float64(n)
			order.OrderTotal = &f
		case table.KindFloat:
			f, _ := total.AsFloat()
			order.OrderTotal = &f
		}

		if len(extras) > 0 {
			extra, err := extraJSON(tbl, i, extras)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i+1, err)
			}
			order.Extra = extra
		}

		orders = append(orders, order)
	}
	return orders, nil
}

func extraJSON(tbl *table.Table, row int, columns []string) ([]byte, error) {
	fields := make(map[string]interface{}, len(columns))
	for _, c := range columns {
		v := tbl.Get(row, c)
		switch v.Kind() {
		case table.KindAbsent:
			continue
		case table.KindInt:
			fields[c], _ = v.AsInt()
		case table.KindFloat:
			fields[c], _ = v.AsFloat()
		case table.KindBool:
			fields[c], _ = v.AsBool()
		case table.KindTime:
			t, _ := v.AsTime()
			fields[c] = t.Format(time.RFC3339Nano)
		default:
			fields[c] = v.Text()
		}
	}
	return json.Marshal(fields)
}
