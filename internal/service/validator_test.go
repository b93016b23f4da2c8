package service

import (
	"testing"

	"order-etl/internal/models"
	"order-etl/internal/table"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func idTable(t *testing.T, ids ...int64) *table.Table {
	t.Helper()
	tbl := table.New(models.ColumnOrderID)
	for _, id := range ids {
		require.NoError(t, tbl.AppendValues(table.Int(id)))
	}
	return tbl
}

func TestValidateDuplicates(t *testing.T) {
	logger, logs := observedLogger()

	result, err := NewValidator(logger).Validate(idTable(t, 1, -1, 1, 2, -1, 1))
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Equal(t, 3, result.DuplicateRows)
	assert.Equal(t, []int64{1, -1}, result.DuplicateIDs)
	require.Len(t, result.Warnings, 1)

	entries := logs.FilterMessage("Duplicate order_ids detected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, int64(3), entries[0].ContextMap()["duplicate_rows"])
}

func TestValidateNoDuplicates(t *testing.T) {
	logger, logs := observedLogger()

	result, err := NewValidator(logger).Validate(idTable(t, 1, 2, 3))
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Zero(t, result.DuplicateRows)
	assert.Empty(t, result.Warnings)
	assert.Zero(t, logs.Len())
}

func TestValidateEmptyTable(t *testing.T) {
	result, err := NewValidator(zap.NewNop()).Validate(idTable(t))
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestValidateMissingColumn(t *testing.T) {
	_, err := NewValidator(zap.NewNop()).Validate(table.New("customer_email"))
	assert.ErrorIs(t, err, models.ErrSchema)
}
