package service

import (
	"context"
	"fmt"
	"time"

	"order-etl/internal/models"
	"order-etl/internal/output"
	"order-etl/internal/storage"
	"order-etl/internal/table"
	"order-etl/internal/util"

	"go.uber.org/zap"
)

// State is a pipeline run state
type State string

// Pipeline states
const (
	StateInit             State = "INIT"
	StateExtractMandatory State = "EXTRACT_MANDATORY"
	StateExtractOptional  State = "EXTRACT_OPTIONAL"
	StateTransform        State = "TRANSFORM"
	StateValidate         State = "VALIDATE"
	StateLoad             State = "LOAD"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// OrderSource produces a raw order table
type OrderSource interface {
	Name() models.SourceSystem
	Extract(ctx context.Context) (*table.Table, error)
}

// Sink encodes the final table without publishing it
type Sink interface {
	Stage(ctx context.Context, tbl *table.Table) (StagedOutput, error)
}

// StagedOutput is encoded output that becomes visible only on Commit
type StagedOutput interface {
	Rows() int
	Commit() error
	Abort()
}

// SinkFactory opens a sink for an output location
type SinkFactory func(location string) (Sink, error)

// OrderRecorder stores the loaded rows of a run
type OrderRecorder interface {
	SaveOrders(ctx context.Context, runID string, orders []models.CombinedOrder) error
}

// RunOptions selects what a single run does
type RunOptions struct {
	RunID           string
	IncludeOptional bool
	OutputPath      string // empty uses the orchestrator default
}

// RunResult describes a finished run
type RunResult struct {
	RunID          string
	State          State
	States         []State
	OutputPath     string
	SourceRows     map[models.SourceSystem]int
	OptionalStatus string
	RowsWritten    int
	Validation     ValidationResult
	Warnings       []string
	StartedAt      time.Time
	FinishedAt     time.Time
	Err            error
}

// Orchestrator drives a run through the pipeline states. A run is strictly
// sequential and owns its table.
type Orchestrator struct {
	mandatory  OrderSource
	optional   OrderSource
	outputPath string
	openSink   SinkFactory
	cleaner    *Cleaner
	validator  *Validator
	recorder   OrderRecorder
	diag       util.Diagnostics
}

// NewOrchestrator creates a new orchestrator. optional may be nil when no
// optional source is configured.
func NewOrchestrator(mandatory, optional OrderSource, outputPath string, diag util.Diagnostics) *Orchestrator {
	return &Orchestrator{
		mandatory:  mandatory,
		optional:   optional,
		outputPath: outputPath,
		openSink: func(location string) (Sink, error) {
			w, err := output.NewWriter(location, diag)
			if err != nil {
				return nil, err
			}
			return writerSink{w}, nil
		},
		cleaner:   NewCleaner(diag),
		validator: NewValidator(diag),
		diag:      diag,
	}
}

// WithRecorder stores loaded rows as part of the load state
func (o *Orchestrator) WithRecorder(recorder OrderRecorder) *Orchestrator {
	o.recorder = recorder
	return o
}

// WithSinkFactory replaces how output locations are opened
func (o *Orchestrator) WithSinkFactory(factory SinkFactory) *Orchestrator {
	o.openSink = factory
	return o
}

// OutputPath returns the default output location
func (o *Orchestrator) OutputPath() string {
	return o.outputPath
}

// CheckOutputPath accepts an output override only under the directory or
// bucket prefix of the configured output location. Empty selects the default.
func (o *Orchestrator) CheckOutputPath(path string) error {
	if path == "" || path == o.outputPath {
		return nil
	}
	if !storage.SameTree(o.outputPath, path) {
		return fmt.Errorf("%w: %s is outside the directory of %s",
			models.ErrOutputLocation, path, o.outputPath)
	}
	return nil
}

type runState struct {
	result *RunResult
	parts  []Extracted
	merged *table.Table
}

// Run executes one pipeline run. The result is always returned; err is the
// StageError of a failed run.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.Run")
	defer span.End()

	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = o.outputPath
	}

	rs := &runState{
		result: &RunResult{
			RunID:          opts.RunID,
			OutputPath:     outputPath,
			SourceRows:     make(map[models.SourceSystem]int),
			OptionalStatus: models.OptionalStatusDisabled,
			StartedAt:      time.Now(),
		},
	}
	o.enter(rs, StateInit)

	o.diag.Info("Starting ETL process",
		zap.String("run_id", opts.RunID),
		zap.Bool("include_optional", opts.IncludeOptional),
		zap.String("output", outputPath))

	if err := o.CheckOutputPath(opts.OutputPath); err != nil {
		return o.fail(rs, StateInit, "", err)
	}

	o.enter(rs, StateExtractMandatory)
	if err := o.stage(ctx, StateExtractMandatory, func(ctx context.Context) error {
		return o.extractMandatory(ctx, rs)
	}); err != nil {
		return o.fail(rs, StateExtractMandatory, o.mandatory.Name(), err)
	}

	if opts.IncludeOptional {
		o.enter(rs, StateExtractOptional)
		o.stage(ctx, StateExtractOptional, func(ctx context.Context) error {
			o.extractOptional(ctx, rs)
			return nil
		})
	}

	o.enter(rs, StateTransform)
	if err := o.stage(ctx, StateTransform, func(context.Context) error {
		rs.merged = Merge(rs.parts...)
		return o.cleaner.Clean(rs.merged)
	}); err != nil {
		return o.fail(rs, StateTransform, "", err)
	}

	o.enter(rs, StateValidate)
	if err := o.stage(ctx, StateValidate, func(context.Context) error {
		validation, err := o.validator.Validate(rs.merged)
		rs.result.Validation = validation
		rs.result.Warnings = append(rs.result.Warnings, validation.Warnings...)
		return err
	}); err != nil {
		return o.fail(rs, StateValidate, "", err)
	}

	o.enter(rs, StateLoad)
	if err := o.stage(ctx, StateLoad, func(ctx context.Context) error {
		return o.load(ctx, rs)
	}); err != nil {
		return o.fail(rs, StateLoad, "", err)
	}

	o.enter(rs, StateDone)
	rs.result.FinishedAt = time.Now()
	o.diag.Info("ETL process completed successfully",
		zap.String("run_id", opts.RunID),
		zap.Int("records", rs.result.RowsWritten),
		zap.Duration("duration", rs.result.FinishedAt.Sub(rs.result.StartedAt)))
	return rs.result, nil
}

func (o *Orchestrator) extractMandatory(ctx context.Context, rs *runState) error {
	tbl, err := o.mandatory.Extract(ctx)
	if err != nil {
		util.SourceFailuresTotal.WithLabelValues(string(o.mandatory.Name())).Inc()
		return err
	}
	o.accept(rs, o.mandatory.Name(), tbl)
	return nil
}

// extractOptional never fails the run. Any error leaves the run on mandatory
// data only.
func (o *Orchestrator) extractOptional(ctx context.Context, rs *runState) {
	if o.optional == nil {
		o.diag.Info("Optional source requested but not configured, continuing with mandatory data only")
		return
	}

	name := o.optional.Name()
	tbl, err := o.optional.Extract(ctx)
	if err != nil {
		rs.result.OptionalStatus = models.OptionalStatusFailed
		msg := fmt.Sprintf("optional source %s unavailable: %v", name, err)
		rs.result.Warnings = append(rs.result.Warnings, msg)
		util.SourceFailuresTotal.WithLabelValues(string(name)).Inc()
		o.diag.Warn("Optional source failed, continuing with mandatory data only",
			zap.String("source", string(name)),
			zap.Error(err))
		return
	}

	rs.result.OptionalStatus = models.OptionalStatusLoaded
	o.accept(rs, name, tbl)
}

func (o *Orchestrator) accept(rs *runState, name models.SourceSystem, tbl *table.Table) {
	rs.parts = append(rs.parts, Extracted{System: name, Table: tbl})
	rs.result.SourceRows[name] = tbl.Len()
	util.SourceRowsExtracted.WithLabelValues(string(name)).Add(float64(tbl.Len()))
}

// load publishes the output only after the rows are recorded, so a failed
// load leaves the location as it was.
func (o *Orchestrator) load(ctx context.Context, rs *runState) error {
	sink, err := o.openSink(rs.result.OutputPath)
	if err != nil {
		return err
	}

	var orders []models.CombinedOrder
	if o.recorder != nil {
		orders, err = ToCombinedOrders(rs.result.RunID, rs.merged)
		if err != nil {
			return err
		}
	}

	staged, err := sink.Stage(ctx, rs.merged)
	if err != nil {
		return err
	}

	if o.recorder != nil {
		if err := o.recorder.SaveOrders(ctx, rs.result.RunID, orders); err != nil {
			staged.Abort()
			return fmt.Errorf("%w: record orders: %w", models.ErrWrite, err)
		}
	}

	if err := staged.Commit(); err != nil {
		return err
	}
	rs.result.RowsWritten = staged.Rows()
	util.RowsWrittenTotal.Add(float64(staged.Rows()))
	return nil
}

type writerSink struct {
	w *output.Writer
}

func (s writerSink) Stage(ctx context.Context, tbl *table.Table) (StagedOutput, error) {
	pending, err := s.w.Stage(ctx, tbl)
	if err != nil {
		return nil, err
	}
	return pending, nil
}

func (o *Orchestrator) stage(ctx context.Context, state State, fn func(context.Context) error) error {
	ctx, span := util.StartSpan(ctx, "Stage."+string(state))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	util.StageDuration.WithLabelValues(string(state)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (o *Orchestrator) enter(rs *runState, state State) {
	rs.result.State = state
	rs.result.States = append(rs.result.States, state)
}

func (o *Orchestrator) fail(rs *runState, state State, source models.SourceSystem, err error) (*RunResult, error) {
	stageErr := &models.StageError{Stage: string(state), Source: source, Err: err}

	o.enter(rs, StateFailed)
	rs.result.FinishedAt = time.Now()
	rs.result.Err = stageErr

	fields := []zap.Field{
		zap.String("run_id", rs.result.RunID),
		zap.String("stage", string(state)),
		zap.Error(err),
	}
	if source != "" {
		fields = append(fields, zap.String("source", string(source)))
	}
	o.diag.Error("ETL process failed", fields...)
	return rs.result, stageErr
}
