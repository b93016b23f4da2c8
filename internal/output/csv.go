package output

import (
	"encoding/csv"
	"io"
	"time"

	"order-etl/internal/table"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
	zoneSuffix     = "-07:00"
)

func encodeCSV(dst io.Writer, tbl *table.Table) error {
	cw := csv.NewWriter(dst)

	columns := tbl.Columns()
	if err := cw.Write(columns); err != nil {
		return err
	}

	dateOnly := make([]bool, len(columns))
	for c, name := range columns {
		dateOnly[c] = allMidnightUTC(tbl.Column(name))
	}

	record := make([]string, len(columns))
	for i := 0; i < tbl.Len(); i++ {
		for c, v := range tbl.Row(i) {
			record[c] = renderCell(v, dateOnly[c])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func renderCell(v table.Value, dateOnly bool) string {
	t, ok := v.AsTime()
	if !ok {
		return v.Text()
	}
	if dateOnly {
		return t.Format(dateLayout)
	}
	if isUTC(t) {
		return t.Format(dateTimeLayout)
	}
	return t.Format(dateTimeLayout + zoneSuffix)
}

// allMidnightUTC reports whether every timestamp in the column falls on a UTC
// day boundary. Columns without timestamps report false.
func allMidnightUTC(cells []table.Value) bool {
	seen := false
	for _, v := range cells {
		t, ok := v.AsTime()
		if !ok {
			continue
		}
		seen = true
		if !isUTC(t) || t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || t.Nanosecond() != 0 {
			return false
		}
	}
	return seen
}

func isUTC(t time.Time) bool {
	_, offset := t.Zone()
	return offset == 0
}
