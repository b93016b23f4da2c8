// Package output serializes the final order table to its destination.
package output

import (
	"context"
	"fmt"
	"io"

	"order-etl/internal/models"
	"order-etl/internal/storage"
	"order-etl/internal/table"
	"order-etl/internal/util"

	"go.uber.org/zap"
)

// Format is an output serialization
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// FormatFor picks the format from the location suffix. Anything that is not
// .parquet is written as CSV.
func FormatFor(loc storage.Location) Format {
	if loc.Ext() == ".parquet" {
		return FormatParquet
	}
	return FormatCSV
}

// Writer writes tables to a single location, replacing what is there
type Writer struct {
	location string
	format   Format
	diag     util.Diagnostics
}

// NewWriter creates a writer for a local path or bucket URL
func NewWriter(location string, diag util.Diagnostics) (*Writer, error) {
	loc, err := storage.ParseLocation(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrWrite, err)
	}
	return &Writer{
		location: location,
		format:   FormatFor(loc),
		diag:     diag,
	}, nil
}

// Location returns the destination
func (w *Writer) Location() string {
	return w.location
}

// Format returns the serialization used
func (w *Writer) Format() Format {
	return w.format
}

// Write serializes tbl with a header and returns the number of data rows
// written. Nothing is published at the location unless the whole table was
// encoded.
func (w *Writer) Write(ctx context.Context, tbl *table.Table) (int, error) {
	pending, err := w.Stage(ctx, tbl)
	if err != nil {
		return 0, err
	}
	if err := pending.Commit(); err != nil {
		return 0, err
	}
	return pending.Rows(), nil
}

// Stage encodes tbl to a pending object. The location is untouched until
// Commit.
func (w *Writer) Stage(ctx context.Context, tbl *table.Table) (*Pending, error) {
	ctx, span := util.StartSpan(ctx, "Writer.Stage")
	defer span.End()

	obj, err := storage.Create(ctx, w.location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrWrite, err)
	}

	if err := w.encode(obj, tbl); err != nil {
		obj.Abort()
		return nil, fmt.Errorf("%w: encode %s: %w", models.ErrWrite, w.format, err)
	}
	return &Pending{writer: w, obj: obj, rows: tbl.Len()}, nil
}

// Pending is an encoded table waiting to be published
type Pending struct {
	writer *Writer
	obj    *storage.Object
	rows   int
}

// Rows returns the number of data rows encoded
func (p *Pending) Rows() int {
	return p.rows
}

// Commit publishes the output, replacing what is at the location
func (p *Pending) Commit() error {
	if err := p.obj.Commit(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrWrite, err)
	}
	p.writer.diag.Info("Output saved",
		zap.String("location", p.writer.location),
		zap.String("format", string(p.writer.format)),
		zap.Int("records", p.rows))
	return nil
}

// Abort discards the output. Safe to call after Commit.
func (p *Pending) Abort() {
	p.obj.Abort()
}

func (w *Writer) encode(dst io.Writer, tbl *table.Table) error {
	switch w.format {
	case FormatParquet:
		return encodeParquet(dst, tbl)
	default:
		return encodeCSV(dst, tbl)
	}
}
