package output

import (
	"io"

	"order-etl/internal/table"

	"github.com/parquet-go/parquet-go"
)

// columnKind picks the physical kind for a column. Mixed or empty columns
// are written as strings.
func columnKind(cells []table.Value) table.Kind {
	kind := table.KindAbsent
	for _, v := range cells {
		if v.IsAbsent() {
			continue
		}
		if kind == table.KindAbsent {
			kind = v.Kind()
			continue
		}
		if v.Kind() != kind {
			return table.KindString
		}
	}
	if kind == table.KindAbsent {
		return table.KindString
	}
	return kind
}

func parquetNode(kind table.Kind) parquet.Node {
	switch kind {
	case table.KindInt:
		return parquet.Optional(parquet.Int(64))
	case table.KindFloat:
		return parquet.Optional(parquet.Leaf(parquet.DoubleType))
	case table.KindBool:
		return parquet.Optional(parquet.Leaf(parquet.BooleanType))
	case table.KindTime:
		return parquet.Optional(parquet.Timestamp(parquet.Microsecond))
	default:
		return parquet.Optional(parquet.String())
	}
}

func parquetValue(v table.Value, kind table.Kind) parquet.Value {
	if v.IsAbsent() {
		return parquet.NullValue()
	}
	switch kind {
	case table.KindInt:
		n, _ := v.AsInt()
		return parquet.Int64Value(n)
	case table.KindFloat:
		f, _ := v.AsFloat()
		return parquet.DoubleValue(f)
	case table.KindBool:
		b, _ := v.AsBool()
		return parquet.BooleanValue(b)
	case table.KindTime:
		t, _ := v.AsTime()
		return parquet.Int64Value(t.UTC().UnixMicro())
	default:
		return parquet.ByteArrayValue([]byte(v.Text()))
	}
}

// encodeParquet writes every column as an optional leaf. The schema orders
// leaves by name, so row values are placed by the schema's column index.
func encodeParquet(dst io.Writer, tbl *table.Table) error {
	columns := tbl.Columns()
	kinds := make([]table.Kind, len(columns))
	group := make(parquet.Group, len(columns))
	for c, name := range columns {
		kinds[c] = columnKind(tbl.Column(name))
		group[name] = parquetNode(kinds[c])
	}

	schema := parquet.NewSchema("orders", group)
	leafIndex := make(map[string]int, len(columns))
	for i, path := range schema.Columns() {
		leafIndex[path[0]] = i
	}

	pw := parquet.NewWriter(dst, schema)

	rows := make([]parquet.Row, 0, tbl.Len())
	for i := 0; i < tbl.Len(); i++ {
		row := make(parquet.Row, len(columns))
		for c, v := range tbl.Row(i) {
			leaf := leafIndex[columns[c]]
			def := 1
			if v.IsAbsent() {
				def = 0
			}
			row[leaf] = parquetValue(v, kinds[c]).Level(0, def, leaf)
		}
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		if _, err := pw.WriteRows(rows); err != nil {
			pw.Close()
			return err
		}
	}
	return pw.Close()
}
