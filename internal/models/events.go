package models

import "time"

// Event types
const (
	EventTypeOrdersLoaded = "ORDERS_LOADED"
	EventTypeRunFailed    = "RUN_FAILED"
	EventTypeRunRequested = "RUN_REQUESTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrdersLoadedEvent published when a run wrote the unified feed
type OrdersLoadedEvent struct {
	BaseEvent
	RunID        string `json:"run_id"`
	OutputPath   string `json:"output_path"`
	RowCount     int    `json:"row_count"`
	ZuoraRows    int    `json:"zuora_rows"`
	StripeRows   int    `json:"stripe_rows"`
	StripeStatus string `json:"stripe_status"`
}

// RunFailedEvent published when a run ends in the failed state
type RunFailedEvent struct {
	BaseEvent
	RunID  string `json:"run_id"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// RunRequestedEvent asks a worker to execute a run.
// IncludeStripe overrides the configured optional-source flag when set.
type RunRequestedEvent struct {
	BaseEvent
	IncludeStripe *bool  `json:"include_stripe,omitempty"`
	OutputPath    string `json:"output_path,omitempty"`
}
