package output

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"order-etl/internal/models"
	"order-etl/internal/storage"
	"order-etl/internal/table"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleTable(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New("order_id", "order_date", "customer_email", "order_total", "source_system")
	require.NoError(t, tbl.AppendValues(
		table.Int(1),
		table.Time(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)),
		table.String("a@example.com"),
		table.Float(19.99),
		table.String("zuora"),
	))
	require.NoError(t, tbl.AppendValues(
		table.Int(-1),
		table.Time(time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)),
		table.Absent(),
		table.Int(5),
		table.String("zuora"),
	))
	require.NoError(t, tbl.AppendValues(
		table.Int(7),
		table.Time(time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)),
		table.String("with, comma"),
		table.Absent(),
		table.String("stripe"),
	))
	return tbl
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		location string
		want     Format
	}{
		{"out/combined_orders.csv", FormatCSV},
		{"out/combined_orders.csv.gz", FormatCSV},
		{"out/combined_orders", FormatCSV},
		{"s3://bucket/orders.parquet", FormatParquet},
		{"out/orders.PARQUET.zst", FormatParquet},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			loc, err := storage.ParseLocation(tt.location)
			require.NoError(t, err)
			assert.Equal(t, tt.want, FormatFor(loc))
		})
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combined_orders.csv")
	w, err := NewWriter(path, zap.NewNop())
	require.NoError(t, err)

	n, err := w.Write(context.Background(), sampleTable(t))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"order_id,order_date,customer_email,order_total,source_system\n"+
			"1,2024-01-15,a@example.com,19.99,zuora\n"+
			"-1,2024-01-16,,5,zuora\n"+
			"7,2024-01-17,\"with, comma\",,stripe\n",
		string(data))
}

func TestWriteCSVTimestamps(t *testing.T) {
	tbl := table.New("order_date")
	require.NoError(t, tbl.AppendValues(table.Time(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, tbl.AppendValues(table.Time(time.Date(2024, 1, 15, 9, 30, 5, 0, time.UTC))))
	require.NoError(t, tbl.AppendValues(table.Time(time.Date(2024, 1, 15, 9, 30, 5, 0, time.FixedZone("", 2*3600)))))

	var buf bytes.Buffer
	require.NoError(t, encodeCSV(&buf, tbl))
	assert.Equal(t,
		"order_date\n"+
			"2024-01-15 00:00:00\n"+
			"2024-01-15 09:30:05\n"+
			"2024-01-15 09:30:05+02:00\n",
		buf.String())
}

func TestWriteOverwritesAndIsDeterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combined_orders.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale contents\n"), 0644))

	w, err := NewWriter(path, zap.NewNop())
	require.NoError(t, err)

	_, err = w.Write(context.Background(), sampleTable(t))
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = w.Write(context.Background(), sampleTable(t))
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.NotContains(t, string(first), "stale")
	assert.Equal(t, first, second)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteEmptyTableWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	w, err := NewWriter(path, zap.NewNop())
	require.NoError(t, err)

	n, err := w.Write(context.Background(), table.New("order_id", "source_system"))
	require.NoError(t, err)
	assert.Zero(t, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "order_id,source_system\n", string(data))
}

func TestWriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	w, err := NewWriter(filepath.Join(blocker, "out.csv"), zap.NewNop())
	require.NoError(t, err)

	_, err = w.Write(context.Background(), sampleTable(t))
	assert.ErrorIs(t, err, models.ErrWrite)
}

func TestStageDefersPublishing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combined_orders.csv")
	w, err := NewWriter(path, zap.NewNop())
	require.NoError(t, err)

	pending, err := w.Stage(context.Background(), sampleTable(t))
	require.NoError(t, err)
	assert.Equal(t, 3, pending.Rows())
	assert.NoFileExists(t, path)

	require.NoError(t, pending.Commit())
	assert.FileExists(t, path)
}

func TestStageAbortKeepsPreviousOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "combined_orders.csv")
	require.NoError(t, os.WriteFile(path, []byte("previous\n"), 0644))

	w, err := NewWriter(path, zap.NewNop())
	require.NoError(t, err)

	pending, err := w.Stage(context.Background(), sampleTable(t))
	require.NoError(t, err)
	pending.Abort()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestNewWriterInvalidLocation(t *testing.T) {
	_, err := NewWriter("", zap.NewNop())
	assert.ErrorIs(t, err, models.ErrWrite)
}

func TestWriteCompressedCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combined_orders.csv.gz")
	w, err := NewWriter(path, zap.NewNop())
	require.NoError(t, err)

	_, err = w.Write(context.Background(), sampleTable(t))
	require.NoError(t, err)

	rc, err := storage.Open(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "order_id,order_date,customer_email,order_total,source_system\n")
}

func TestWriteParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combined_orders.parquet")
	w, err := NewWriter(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, w.Format())

	n, err := w.Write(context.Background(), sampleTable(t))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	pf, err := parquet.OpenFile(f, info.Size())
	require.NoError(t, err)
	assert.Equal(t, int64(3), pf.NumRows())

	var names []string
	for _, path := range pf.Schema().Columns() {
		names = append(names, path[0])
	}
	assert.ElementsMatch(t, []string{"order_id", "order_date", "customer_email", "order_total", "source_system"}, names)
}

func TestColumnKind(t *testing.T) {
	assert.Equal(t, table.KindInt, columnKind([]table.Value{table.Int(1), table.Absent(), table.Int(2)}))
	assert.Equal(t, table.KindString, columnKind([]table.Value{table.Int(1), table.Float(2.5)}))
	assert.Equal(t, table.KindString, columnKind([]table.Value{table.Absent()}))
	assert.Equal(t, table.KindTime, columnKind([]table.Value{table.Time(time.Now())}))
}
