package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"order-etl/internal/models"
	"order-etl/internal/source"
	"order-etl/internal/table"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const zuoraCSV = "order_id,order_date,order_total,customer_email\n" +
	"1,2024-01-15,19.99, Alice@Example.com \n" +
	"2,2024-01-16,5,BOB@example.com\n" +
	"3,2024-01-17,12.50,\n"

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func stripeServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOrchestrator(t *testing.T, diag *zap.Logger, zuoraPath, stripeURL, outputPath string) *Orchestrator {
	t.Helper()
	var optional OrderSource
	if stripeURL != "" {
		optional = source.NewStripeReader(stripeURL, "key", time.Second, diag)
	}
	return NewOrchestrator(source.NewZuoraReader(zuoraPath, diag), optional, outputPath, diag)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRunMandatoryOnly(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv", zuoraCSV)
	outputPath := filepath.Join(dir, "combined_orders.csv")

	logger, logs := observedLogger()
	orch := newTestOrchestrator(t, logger, zuoraPath, "", outputPath)

	result, err := orch.Run(context.Background(), RunOptions{RunID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, []State{StateInit, StateExtractMandatory, StateTransform, StateValidate, StateLoad, StateDone}, result.States)
	assert.Equal(t, 3, result.RowsWritten)
	assert.Equal(t, 3, result.SourceRows[models.SourceZuora])
	assert.Equal(t, models.OptionalStatusDisabled, result.OptionalStatus)

	lines := readLines(t, outputPath)
	assert.Equal(t, []string{
		"order_id,order_date,order_total,customer_email,source_system",
		"1,2024-01-15,19.99,alice@example.com,zuora",
		"2,2024-01-16,5,bob@example.com,zuora",
		"3,2024-01-17,12.5,,zuora",
	}, lines)

	assert.Equal(t, 1, logs.FilterMessage("ETL process completed successfully").Len())
}

func TestRunOptionalHTTP500FallsBack(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv", zuoraCSV)
	outputPath := filepath.Join(dir, "combined_orders.csv")
	srv := stripeServer(t, http.StatusInternalServerError, `{"error":"down"}`)

	logger, logs := observedLogger()
	orch := newTestOrchestrator(t, logger, zuoraPath, srv.URL, outputPath)

	result, err := orch.Run(context.Background(), RunOptions{IncludeOptional: true})
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Contains(t, result.States, StateExtractOptional)
	assert.Equal(t, models.OptionalStatusFailed, result.OptionalStatus)
	assert.Equal(t, 3, result.RowsWritten)
	assert.Len(t, readLines(t, outputPath), 4)

	warnings := logs.FilterMessage("Optional source failed, continuing with mandatory data only").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zap.WarnLevel, warnings[0].Level)
	assert.Equal(t, "stripe", warnings[0].ContextMap()["source"])
}

func TestRunBothSources(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv", zuoraCSV)
	outputPath := filepath.Join(dir, "combined_orders.csv")
	srv := stripeServer(t, http.StatusOK, `[
		{"order_id": 100, "order_date": "2024-02-01", "order_total": 30, "customer_email": " Carol@Example.com", "currency": "usd"},
		{"order_id": 101, "order_date": "2024-02-02", "order_total": "7.25", "customer_email": null, "currency": "eur"}
	]`)

	orch := newTestOrchestrator(t, zap.NewNop(), zuoraPath, srv.URL, outputPath)

	result, err := orch.Run(context.Background(), RunOptions{IncludeOptional: true})
	require.NoError(t, err)

	assert.Equal(t, models.OptionalStatusLoaded, result.OptionalStatus)
	assert.Equal(t, 5, result.RowsWritten)
	assert.Equal(t, result.SourceRows[models.SourceZuora]+result.SourceRows[models.SourceStripe], result.RowsWritten)

	lines := readLines(t, outputPath)
	assert.Equal(t, "order_id,order_date,order_total,customer_email,currency,source_system", lines[0])
	assert.Equal(t, "1,2024-01-15,19.99,alice@example.com,,zuora", lines[1])
	assert.Equal(t, "100,2024-02-01,30,carol@example.com,usd,stripe", lines[4])
	assert.Equal(t, "101,2024-02-02,7.25,,eur,stripe", lines[5])
}

func TestRunOptionalDisabledSkipsSource(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv", zuoraCSV)
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	orch := newTestOrchestrator(t, zap.NewNop(), zuoraPath, srv.URL, filepath.Join(dir, "out.csv"))
	result, err := orch.Run(context.Background(), RunOptions{IncludeOptional: false})
	require.NoError(t, err)

	assert.False(t, called)
	assert.NotContains(t, result.States, StateExtractOptional)
}

func TestRunMissingRequiredColumnWritesNothing(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv",
		"order_id,order_date,customer_email\n1,2024-01-15,a@example.com\n")
	outputPath := filepath.Join(dir, "combined_orders.csv")

	logger, logs := observedLogger()
	orch := newTestOrchestrator(t, logger, zuoraPath, "", outputPath)

	result, err := orch.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSchema)

	var stageErr *models.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, string(StateExtractMandatory), stageErr.Stage)
	assert.Equal(t, models.SourceZuora, stageErr.Source)

	assert.Equal(t, StateFailed, result.State)
	assert.NoFileExists(t, outputPath)
	assert.Equal(t, 1, logs.FilterMessage("ETL process failed").Len())
}

func TestRunMissingMandatoryFile(t *testing.T) {
	dir := t.TempDir()
	orch := newTestOrchestrator(t, zap.NewNop(), filepath.Join(dir, "absent.csv"), "", filepath.Join(dir, "out.csv"))

	_, err := orch.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
}

func TestRunNonNumericTotalWritesNothing(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv",
		"order_id,order_date,order_total,customer_email\n1,2024-01-15,n/a,a@example.com\n")
	outputPath := filepath.Join(dir, "combined_orders.csv")

	orch := newTestOrchestrator(t, zap.NewNop(), zuoraPath, "", outputPath)
	result, err := orch.Run(context.Background(), RunOptions{})

	assert.ErrorIs(t, err, models.ErrConversion)
	var stageErr *models.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, string(StateTransform), stageErr.Stage)
	assert.Equal(t, []State{StateInit, StateExtractMandatory, StateTransform, StateFailed}, result.States)
	assert.NoFileExists(t, outputPath)
}

func TestRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv", zuoraCSV)
	outputPath := filepath.Join(dir, "combined_orders.csv")
	orch := newTestOrchestrator(t, zap.NewNop(), zuoraPath, "", outputPath)

	_, err := orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	first, err := os.ReadFile(outputPath)
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	second, err := os.ReadFile(outputPath)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRunMissingAndDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv",
		"order_id,order_date,order_total,customer_email\n"+
			"1,2024-01-15,10,a@example.com\n"+
			",2024-01-15,11,b@example.com\n"+
			"1,2024-01-15,12,c@example.com\n")
	outputPath := filepath.Join(dir, "combined_orders.csv")

	logger, logs := observedLogger()
	orch := newTestOrchestrator(t, logger, zuoraPath, "", outputPath)

	result, err := orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.RowsWritten)
	assert.True(t, result.Validation.Passed)
	assert.Equal(t, []int64{1}, result.Validation.DuplicateIDs)

	missing := logs.FilterMessage("Found records with missing order_id").All()
	require.Len(t, missing, 1)
	assert.Equal(t, int64(1), missing[0].ContextMap()["count"])
	assert.Equal(t, 1, logs.FilterMessage("Duplicate order_ids detected").Len())

	lines := readLines(t, outputPath)
	assert.True(t, strings.HasPrefix(lines[2], "-1,"))
}

func TestRunOutputOverride(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv", zuoraCSV)
	defaultPath := filepath.Join(dir, "default.csv")
	overridePath := filepath.Join(dir, "nested", "override.csv")

	orch := newTestOrchestrator(t, zap.NewNop(), zuoraPath, "", defaultPath)
	result, err := orch.Run(context.Background(), RunOptions{OutputPath: overridePath})
	require.NoError(t, err)

	assert.Equal(t, overridePath, result.OutputPath)
	assert.FileExists(t, overridePath)
	assert.NoFileExists(t, defaultPath)
}

func TestRunRejectsOutputOutsideDirectory(t *testing.T) {
	base := t.TempDir()
	outDir := filepath.Join(base, "out")
	zuoraPath := writeFixture(t, base, "zuora.csv", zuoraCSV)
	escaped := filepath.Join(base, "escaped.csv")

	orch := newTestOrchestrator(t, zap.NewNop(), zuoraPath, "", filepath.Join(outDir, "combined.csv"))
	result, err := orch.Run(context.Background(), RunOptions{OutputPath: escaped})
	assert.ErrorIs(t, err, models.ErrOutputLocation)
	var stageErr *models.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, string(StateInit), stageErr.Stage)
	assert.Equal(t, []State{StateInit, StateFailed}, result.States)
	assert.NoFileExists(t, escaped)
}

func TestCheckOutputPath(t *testing.T) {
	orch := NewOrchestrator(nil, nil, "/srv/etl/combined.csv", zap.NewNop())

	assert.NoError(t, orch.CheckOutputPath(""))
	assert.NoError(t, orch.CheckOutputPath("/srv/etl/combined.csv"))
	assert.NoError(t, orch.CheckOutputPath("/srv/etl/2024/orders.parquet"))
	assert.ErrorIs(t, orch.CheckOutputPath("/etc/cron.d/job"), models.ErrOutputLocation)
	assert.ErrorIs(t, orch.CheckOutputPath("/srv/etl/../other.csv"), models.ErrOutputLocation)
	assert.ErrorIs(t, orch.CheckOutputPath("s3://bucket/combined.csv"), models.ErrOutputLocation)
}

type failingSink struct{}

func (failingSink) Stage(context.Context, *table.Table) (StagedOutput, error) {
	return nil, models.ErrWrite
}

type spyOutput struct {
	rows      int
	committed bool
	aborted   bool
}

func (s *spyOutput) Rows() int { return s.rows }

func (s *spyOutput) Commit() error {
	s.committed = true
	return nil
}

func (s *spyOutput) Abort() { s.aborted = true }

type spySink struct {
	out *spyOutput
}

func (s spySink) Stage(_ context.Context, tbl *table.Table) (StagedOutput, error) {
	s.out.rows = tbl.Len()
	return s.out, nil
}

func TestRunLoadFailure(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv", zuoraCSV)

	orch := newTestOrchestrator(t, zap.NewNop(), zuoraPath, "", filepath.Join(dir, "out.csv")).
		WithSinkFactory(func(string) (Sink, error) { return failingSink{}, nil })

	result, err := orch.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, models.ErrWrite)
	var stageErr *models.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, string(StateLoad), stageErr.Stage)
	assert.Equal(t, StateFailed, result.State)
}

type memoryRecorder struct {
	runID  string
	orders []models.CombinedOrder
	err    error
}

func (m *memoryRecorder) SaveOrders(_ context.Context, runID string, orders []models.CombinedOrder) error {
	m.runID = runID
	m.orders = orders
	return m.err
}

func TestRunRecordsOrders(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv",
		"order_id,order_date,order_total,customer_email,plan\n"+
			"1,2024-01-15,19.99,A@B.com,pro\n"+
			",2024-01-16,,,\n")

	recorder := &memoryRecorder{}
	orch := newTestOrchestrator(t, zap.NewNop(), zuoraPath, "", filepath.Join(dir, "out.csv")).
		WithRecorder(recorder)

	_, err := orch.Run(context.Background(), RunOptions{RunID: "run-42"})
	require.NoError(t, err)

	assert.Equal(t, "run-42", recorder.runID)
	require.Len(t, recorder.orders, 2)

	first := recorder.orders[0]
	assert.Equal(t, int64(1), first.OrderID)
	assert.Equal(t, 1, first.RowNum)
	require.NotNil(t, first.CustomerEmail)
	assert.Equal(t, "a@b.com", *first.CustomerEmail)
	require.NotNil(t, first.OrderTotal)
	assert.InDelta(t, 19.99, *first.OrderTotal, 1e-9)
	assert.JSONEq(t, `{"plan":"pro"}`, string(first.Extra))
	assert.Equal(t, "zuora", first.SourceSystem)

	second := recorder.orders[1]
	assert.Equal(t, models.MissingOrderID, second.OrderID)
	assert.Nil(t, second.CustomerEmail)
	assert.Nil(t, second.OrderTotal)
	assert.JSONEq(t, `{}`, string(second.Extra))
}

func TestRunRecorderFailureFailsLoad(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv", zuoraCSV)

	orch := newTestOrchestrator(t, zap.NewNop(), zuoraPath, "", filepath.Join(dir, "out.csv")).
		WithRecorder(&memoryRecorder{err: errors.New("connection refused")})

	result, err := orch.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, models.ErrWrite)
	assert.Equal(t, StateFailed, result.State)
	assert.Zero(t, result.RowsWritten)
	assert.NoFileExists(t, filepath.Join(dir, "out.csv"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the input fixture should remain")
}

func TestRunRecorderFailureAbortsStagedOutput(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv", zuoraCSV)

	out := &spyOutput{}
	orch := newTestOrchestrator(t, zap.NewNop(), zuoraPath, "", filepath.Join(dir, "out.csv")).
		WithSinkFactory(func(string) (Sink, error) { return spySink{out}, nil }).
		WithRecorder(&memoryRecorder{err: errors.New("connection refused")})

	_, err := orch.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, models.ErrWrite)
	assert.True(t, out.aborted)
	assert.False(t, out.committed)
}

func TestRunCommitsAfterRecording(t *testing.T) {
	dir := t.TempDir()
	zuoraPath := writeFixture(t, dir, "zuora.csv", zuoraCSV)

	out := &spyOutput{}
	recorder := &memoryRecorder{}
	orch := newTestOrchestrator(t, zap.NewNop(), zuoraPath, "", filepath.Join(dir, "out.csv")).
		WithSinkFactory(func(string) (Sink, error) { return spySink{out}, nil }).
		WithRecorder(recorder)

	result, err := orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, out.committed)
	assert.False(t, out.aborted)
	assert.Len(t, recorder.orders, 3)
	assert.Equal(t, 3, result.RowsWritten)
}
