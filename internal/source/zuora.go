// Package source extracts order tables from the two upstream systems: the
// Zuora file export and the Stripe records API.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"order-etl/internal/coerce"
	"order-etl/internal/models"
	"order-etl/internal/storage"
	"order-etl/internal/table"
	"order-etl/internal/util"

	"go.uber.org/zap"
)

const utf8BOM = "\ufeff"

// ZuoraReader loads the mandatory order export from a delimited file
type ZuoraReader struct {
	location string
	comma    rune
	diag     util.Diagnostics
}

// NewZuoraReader creates a reader for a local path or bucket URL
func NewZuoraReader(location string, diag util.Diagnostics) *ZuoraReader {
	return &ZuoraReader{
		location: location,
		comma:    ',',
		diag:     diag,
	}
}

// WithDelimiter sets the field delimiter (default ',')
func (r *ZuoraReader) WithDelimiter(comma rune) *ZuoraReader {
	r.comma = comma
	return r
}

// Name returns the source system this reader stamps
func (r *ZuoraReader) Name() models.SourceSystem {
	return models.SourceZuora
}

// Extract reads and normalizes the export. Missing order_ids become the -1
// sentinel; order_date is parsed into timestamps.
func (r *ZuoraReader) Extract(ctx context.Context) (*table.Table, error) {
	ctx, span := util.StartSpan(ctx, "ZuoraReader.Extract")
	defer span.End()

	rc, err := storage.Open(ctx, r.location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrSourceUnavailable, err)
	}
	defer rc.Close()

	tbl, err := r.parse(rc)
	if err != nil {
		return nil, err
	}

	r.diag.Info("Successfully loaded Zuora data",
		zap.String("location", r.location),
		zap.Int("records", tbl.Len()))

	if err := r.normalize(tbl); err != nil {
		return nil, err
	}
	return tbl, nil
}

// parse turns delimited text into a table of String cells. Empty cells are
// Absent.
func (r *ZuoraReader) parse(in io.Reader) (*table.Table, error) {
	cr := csv.NewReader(in)
	cr.Comma = r.comma
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s is empty", models.ErrFormat, r.location)
	}
	if err != nil {
		return nil, readError(r.location, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	seen := make(map[string]bool, len(header))
	for _, name := range header {
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate column %q", models.ErrSchema, name)
		}
		seen[name] = true
	}

	var missing []string
	for _, name := range models.RequiredColumns {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns %s", models.ErrSchema, strings.Join(missing, ", "))
	}

	tbl := table.New(header...)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readError(r.location, err)
		}
		if len(record) > len(header) {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d has %d fields, header has %d",
				models.ErrFormat, line, len(record), len(header))
		}

		values := make([]table.Value, len(header))
		for i, field := range record {
			if !coerce.IsMissing(field) {
				values[i] = table.String(field)
			}
		}
		if err := tbl.AppendValues(values...); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrFormat, err)
		}
	}
	return tbl, nil
}

func (r *ZuoraReader) normalize(tbl *table.Table) error {
	missing := 0
	for i := 0; i < tbl.Len(); i++ {
		if tbl.Get(i, models.ColumnOrderID).IsAbsent() {
			missing++
		}
	}
	if missing > 0 {
		r.diag.Warn("Found records with missing order_id",
			zap.String("source", string(models.SourceZuora)),
			zap.Int("count", missing))
		util.MissingOrderIDsTotal.WithLabelValues(string(models.SourceZuora)).Add(float64(missing))
	}

	for i := 0; i < tbl.Len(); i++ {
		id := tbl.Get(i, models.ColumnOrderID)
		if id.IsAbsent() {
			tbl.Set(i, models.ColumnOrderID, table.Int(models.MissingOrderID))
		} else {
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
	return nil
}

// readError separates malformed text from I/O failures
func readError(location string, err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return fmt.Errorf("%w: %s: %v", models.ErrFormat, location, err)
	}
	return fmt.Errorf("%w: read %s: %w", models.ErrSourceUnavailable, location, err)
}
