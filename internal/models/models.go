package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Canonical order record columns
const (
	ColumnOrderID       = "order_id"
	ColumnOrderDate     = "order_date"
	ColumnCustomerEmail = "customer_email"
	ColumnOrderTotal    = "order_total"
	ColumnSourceSystem  = "source_system"
)

// RequiredColumns must be present in the mandatory source file
var RequiredColumns = []string{
	ColumnOrderID,
	ColumnOrderDate,
	ColumnOrderTotal,
	ColumnCustomerEmail,
}

// MissingOrderID replaces an order_id that was absent in the source
const MissingOrderID int64 = -1

// SourceSystem tags the reader a row came from
type SourceSystem string

// Source systems
const (
	SourceZuora  SourceSystem = "zuora"
	SourceStripe SourceSystem = "stripe"
)

// Run statuses
const (
	RunStatusPending = "PENDING"
	RunStatusRunning = "RUNNING"
	RunStatusDone    = "DONE"
	RunStatusFailed  = "FAILED"
)

// Optional source outcomes recorded per run
const (
	OptionalStatusDisabled = "DISABLED"
	OptionalStatusLoaded   = "LOADED"
	OptionalStatusFailed   = "FAILED"
)

// Run is one pipeline execution as recorded in the run ledger
type Run struct {
	ID           string     `db:"id" json:"id"`
	Status       string     `db:"status" json:"status"`
	OutputPath   string     `db:"output_path" json:"output_path"`
	ZuoraRows    int        `db:"zuora_rows" json:"zuora_rows"`
	StripeRows   int        `db:"stripe_rows" json:"stripe_rows"`
	StripeStatus string     `db:"stripe_status" json:"stripe_status"`
	RowsWritten  int        `db:"rows_written" json:"rows_written"`
	DuplicateIDs int        `db:"duplicate_ids" json:"duplicate_ids"`
	FailedStage  string     `db:"failed_stage" json:"failed_stage,omitempty"`
	ErrorMessage string     `db:"error_message" json:"error_message,omitempty"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	FinishedAt   *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// CombinedOrder is one row of the unified feed as stored in Postgres.
// Passthrough columns are kept as a JSON object in Extra.
type CombinedOrder struct {
	RunID         string         `db:"run_id" json:"run_id"`
	RowNum        int            `db:"row_num" json:"row_num"`
	OrderID       int64          `db:"order_id" json:"order_id"`
	OrderDate     time.Time      `db:"order_date" json:"order_date"`
	CustomerEmail *string        `db:"customer_email" json:"customer_email,omitempty"`
	OrderTotal    *float64       `db:"order_total" json:"order_total,omitempty"`
	SourceSystem  string         `db:"source_system" json:"source_system"`
	Extra         types.JSONText `db:"extra" json:"extra,omitempty"`
}
