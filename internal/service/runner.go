package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"order-etl/internal/models"
	"order-etl/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	runLockKey     = "etl:orders"
	maxRecentRuns  = 100
	defaultLockTTL = 30 * time.Minute
)

// RunStore is the run ledger
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
}

// RunLock is a lock shared by every process that can start a run
type RunLock interface {
	AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// RunCache keeps the summary of the most recent run
type RunCache interface {
	SetLastRun(ctx context.Context, run *models.Run) error
	GetLastRun(ctx context.Context) (*models.Run, error)
}

// RunEventPublisher announces finished runs
type RunEventPublisher interface {
	PublishOrdersLoaded(ctx context.Context, event *models.OrdersLoadedEvent) error
	PublishRunFailed(ctx context.Context, event *models.RunFailedEvent) error
}

// RunRequest asks for one run. Zero fields fall back to the configured
// defaults.
type RunRequest struct {
	RunID         string
	IncludeStripe *bool
	OutputPath    string
}

// Runner executes orchestrator runs one at a time and records their
// outcome. Store, lock, cache and publisher are optional.
type Runner struct {
	orch            *Orchestrator
	includeOptional bool
	store           RunStore
	lock            RunLock
	lockTTL         time.Duration
	cache           RunCache
	publisher       RunEventPublisher
	diag            util.Diagnostics

	mu sync.Mutex
	wg sync.WaitGroup

	runsMu sync.RWMutex
	runs   map[string]*models.Run
	order  []string
	last   string
}

// NewRunner creates a new runner
func NewRunner(orch *Orchestrator, includeOptional bool, diag util.Diagnostics) *Runner {
	return &Runner{
		orch:            orch,
		includeOptional: includeOptional,
		lockTTL:         defaultLockTTL,
		diag:            diag,
		runs:            make(map[string]*models.Run),
	}
}

// WithStore records runs in the ledger
func (r *Runner) WithStore(store RunStore) *Runner {
	r.store = store
	return r
}

// WithLock guards runs with a distributed lock
func (r *Runner) WithLock(lock RunLock, ttl time.Duration) *Runner {
	r.lock = lock
	if ttl > 0 {
		r.lockTTL = ttl
	}
	return r
}

// WithCache stores the last run summary
func (r *Runner) WithCache(cache RunCache) *Runner {
	r.cache = cache
	return r
}

// WithPublisher announces run outcomes
func (r *Runner) WithPublisher(publisher RunEventPublisher) *Runner {
	r.publisher = publisher
	return r
}

// Submit queues a run in the background and returns its id immediately
func (r *Runner) Submit(req RunRequest) string {
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}

	run := r.newRun(req)
	run.Status = models.RunStatusPending
	r.remember(run)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.Run(context.Background(), req); err != nil {
			r.diag.Warn("Submitted run failed", zap.String("run_id", req.RunID), zap.Error(err))
		}
	}()
	return req.RunID
}

// CheckOutputPath reports whether a requested output override is allowed
func (r *Runner) CheckOutputPath(path string) error {
	return r.orch.CheckOutputPath(path)
}

// Wait blocks until every submitted run has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Run executes a run synchronously. Concurrent callers are serialized.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*models.Run, error) {
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.newRun(req)
	r.remember(run)

	if err := r.orch.CheckOutputPath(req.OutputPath); err != nil {
		return r.abort(run, err)
	}

	if r.lock != nil {
		acquired, err := r.lock.AcquireLock(ctx, runLockKey, run.ID, r.lockTTL)
		if err != nil {
			return r.abort(run, fmt.Errorf("acquire run lock: %w", err))
		}
		if !acquired {
			return r.abort(run, models.ErrRunInProgress)
		}
		defer func() {
			if err := r.lock.ReleaseLock(context.Background(), runLockKey, run.ID); err != nil {
				r.diag.Error("Failed to release run lock", zap.Error(err))
			}
		}()
	}

	if r.store != nil {
		if err := r.store.CreateRun(ctx, run); err != nil {
			return r.abort(run, fmt.Errorf("record run: %w", err))
		}
	}

	result, runErr := r.orch.Run(ctx, RunOptions{
		RunID:           run.ID,
		IncludeOptional: r.wantsOptional(req),
		OutputPath:      run.OutputPath,
	})
	r.complete(run, result)
	r.remember(run)

	if r.store != nil {
		if err := r.store.FinishRun(ctx, run); err != nil {
			r.diag.Error("Failed to record run outcome", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	if r.cache != nil {
		if err := r.cache.SetLastRun(ctx, run); err != nil {
			r.diag.Warn("Failed to cache last run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	r.publish(ctx, run)
	r.observe(run)

	return run, runErr
}

// GetRun returns a run from memory or, failing that, the ledger
func (r *Runner) GetRun(ctx context.Context, id string) (*models.Run, error) {
	r.runsMu.RLock()
	run, ok := r.runs[id]
	r.runsMu.RUnlock()
	if ok {
		cp := *run
		return &cp, nil
	}

	if r.store != nil {
		return r.store.GetRun(ctx, id)
	}
	return nil, models.ErrRunNotFound
}

// ListRuns returns up to limit runs, newest first, from the ledger or, when
// none is configured, from the runs this process remembers
func (r *Runner) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if r.store != nil {
		return r.store.ListRuns(ctx, limit)
	}

	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	runs := make([]models.Run, 0, limit)
	for i := len(r.order) - 1; i >= 0 && len(runs) < limit; i-- {
		if run, ok := r.runs[r.order[i]]; ok {
			runs = append(runs, *run)
		}
	}
	return runs, nil
}

// LastRun returns the most recently finished run
func (r *Runner) LastRun(ctx context.Context) (*models.Run, error) {
	if r.cache != nil {
		run, err := r.cache.GetLastRun(ctx)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, models.ErrRunNotFound) {
			r.diag.Warn("Failed to read cached last run", zap.Error(err))
		}
	}

	r.runsMu.RLock()
	defer r.runsMu.RUnlock()
	if r.last == "" {
		return nil, models.ErrRunNotFound
	}
	cp := *r.runs[r.last]
	return &cp, nil
}

func (r *Runner) wantsOptional(req RunRequest) bool {
	if req.IncludeStripe != nil {
		return *req.IncludeStripe
	}
	return r.includeOptional
}

func (r *Runner) newRun(req RunRequest) *models.Run {
	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = r.orch.OutputPath()
	}

	return &models.Run{
		ID:           req.RunID,
		Status:       models.RunStatusRunning,
		OutputPath:   outputPath,
		StripeStatus: models.OptionalStatusDisabled,
		StartedAt:    time.Now().UTC(),
	}
}

func (r *Runner) complete(run *models.Run, result *RunResult) {
	finished := result.FinishedAt.UTC()
	run.FinishedAt = &finished
	run.ZuoraRows = result.SourceRows[models.SourceZuora]
	run.StripeRows = result.SourceRows[models.SourceStripe]
	run.StripeStatus = result.OptionalStatus
	run.RowsWritten = result.RowsWritten
	run.DuplicateIDs = result.Validation.DuplicateRows

	if result.State == StateDone {
		run.Status = models.RunStatusDone
		return
	}

	run.Status = models.RunStatusFailed
	var stageErr *models.StageError
	if errors.As(result.Err, &stageErr) {
		run.FailedStage = stageErr.Stage
		run.ErrorMessage = stageErr.Err.Error()
	} else if result.Err != nil {
		run.ErrorMessage = result.Err.Error()
	}
}

// abort fails a run that never reached the orchestrator
func (r *Runner) abort(run *models.Run, err error) (*models.Run, error) {
	finished := time.Now().UTC()
	run.Status = models.RunStatusFailed
	run.FailedStage = string(StateInit)
	run.ErrorMessage = err.Error()
	run.FinishedAt = &finished
	r.remember(run)

	util.RunsTotal.WithLabelValues(models.RunStatusFailed).Inc()
	r.diag.Error("ETL process failed",
		zap.String("run_id", run.ID),
		zap.String("stage", run.FailedStage),
		zap.Error(err))
	return run, &models.StageError{Stage: run.FailedStage, Err: err}
}

func (r *Runner) publish(ctx context.Context, run *models.Run) {
	if r.publisher == nil {
		return
	}

	base := models.BaseEvent{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
	}

	var err error
	if run.Status == models.RunStatusDone {
		base.EventType = models.EventTypeOrdersLoaded
		err = r.publisher.PublishOrdersLoaded(ctx, &models.OrdersLoadedEvent{
			BaseEvent:    base,
			RunID:        run.ID,
			OutputPath:   run.OutputPath,
			RowCount:     run.RowsWritten,
			ZuoraRows:    run.ZuoraRows,
			StripeRows:   run.StripeRows,
			StripeStatus: run.StripeStatus,
		})
	} else {
		base.EventType = models.EventTypeRunFailed
		err = r.publisher.PublishRunFailed(ctx, &models.RunFailedEvent{
			BaseEvent: base,
			RunID:     run.ID,
			Stage:     run.FailedStage,
			Reason:    run.ErrorMessage,
		})
	}
	if err != nil {
		r.diag.Warn("Failed to publish run event",
			zap.String("run_id", run.ID),
			zap.String("event_type", base.EventType),
			zap.Error(err))
	}
}

func (r *Runner) observe(run *models.Run) {
	util.RunsTotal.WithLabelValues(run.Status).Inc()
	if run.FinishedAt != nil {
		util.RunDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
	if run.Status == models.RunStatusDone {
		util.LastSuccessTimestamp.SetToCurrentTime()
	}
}

// remember keeps a copy of the run for GetRun, evicting the oldest entries
func (r *Runner) remember(run *models.Run) {
	cp := *run

	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	if _, ok := r.runs[run.ID]; !ok {
		r.order = append(r.order, run.ID)
	}
	r.runs[run.ID] = &cp
	if run.Status == models.RunStatusDone || run.Status == models.RunStatusFailed {
		r.last = run.ID
	}

	for len(r.order) > maxRecentRuns {
		evict := r.order[0]
		r.order = r.order[1:]
		if evict != r.last {
			delete(r.runs, evict)
		}
	}
}
