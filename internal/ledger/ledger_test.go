package ledger

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/datafetch/scheduler/internal/biz/execution"
	"github.com/datafetch/scheduler/internal/infra/persistence/executionrepo"
	"github.com/datafetch/scheduler/internal/orm"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
)

func newTestLedger(t *testing.T) (*Ledger, *orm.Storage) {
	st, err := orm.NewWithDialector(sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	repo := executionrepo.NewMysqlRepositoryImpl(st.DB())
	return New(repo, zap.NewNop()), st
}

var executionIDPattern = regexp.MustCompile(`^exec_\d{8}_\d{6}_[0-9a-f]{8}$`)

func TestCreateExecution(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	operator := uint64(42)
	rec, err := l.CreateExecution(ctx, 1, "fetch_daily_sales",
		map[string]any{"region": "east"}, execution.TriggeredByManual, &operator)
	require.NoError(t, err)

	assert.Regexp(t, executionIDPattern, rec.ExecutionID)
	assert.Equal(t, execution.ExecutionStatusPending, rec.Status)
	assert.NotZero(t, rec.ID)

	got, err := l.GetExecution(ctx, rec.ExecutionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(1), got.TaskID)
	assert.Equal(t, "fetch_daily_sales", got.ScriptID)
	assert.Equal(t, "east", got.Params["region"])
	assert.Equal(t, execution.TriggeredByManual, got.TriggeredBy)
	require.NotNil(t, got.OperatorID)
	assert.Equal(t, operator, *got.OperatorID)
}

func TestExecutionIDsAreUnique(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		rec, err := l.CreateExecution(ctx, 1, "s", nil, execution.TriggeredByScheduler, nil)
		require.NoError(t, err)
		assert.False(t, seen[rec.ExecutionID])
		seen[rec.ExecutionID] = true
	}
}

func TestUpdateExecutionComputesDuration(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	rec, err := l.CreateExecution(ctx, 1, "s", nil, execution.TriggeredByScheduler, nil)
	require.NoError(t, err)

	start := time.Now().UTC().Add(-3 * time.Second)
	ok, err := l.UpdateExecution(ctx, rec.ExecutionID, execution.NewPatch().
		WithStatus(execution.ExecutionStatusRunning).
		WithStartTime(start))
	require.NoError(t, err)
	require.True(t, ok)

	// EndTime无Duration时由记录里的StartTime重算
	end := start.Add(2500 * time.Millisecond)
	ok, err = l.UpdateExecution(ctx, rec.ExecutionID, execution.NewPatch().
		WithStatus(execution.ExecutionStatusCompleted).
		WithEndTime(end))
	require.NoError(t, err)
	require.True(t, ok)

	got, err := l.GetExecution(ctx, rec.ExecutionID)
	require.NoError(t, err)
	require.NotNil(t, got.Duration)
	assert.InDelta(t, 2.5, *got.Duration, 0.01)
	assert.Equal(t, execution.ExecutionStatusCompleted, got.Status)
}

func TestUpdateExecutionMissing(t *testing.T) {
	l, _ := newTestLedger(t)

	ok, err := l.UpdateExecution(context.Background(), "exec_20260101_000000_deadbeef",
		execution.NewPatch().WithStatus(execution.ExecutionStatusFailed))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListAndRunningQueries(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec, err := l.CreateExecution(ctx, 7, "s", nil, execution.TriggeredByScheduler, nil)
		require.NoError(t, err)
		patch := execution.NewPatch().WithStartTime(time.Now().UTC())
		if i == 0 {
			patch.WithStatus(execution.ExecutionStatusRunning)
		} else {
			patch.WithStatus(execution.ExecutionStatusCompleted)
		}
		_, err = l.UpdateExecution(ctx, rec.ExecutionID, patch)
		require.NoError(t, err)
	}

	recs, total, err := l.ListExecutions(ctx, execution.ListFilter{
		TaskID: mo.Some(uint64(7)),
	}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, recs, 3)

	running, err := l.RunningExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)

	latest, err := l.LatestRunningByTask(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, running[0].ExecutionID, latest.ExecutionID)

	none, err := l.LatestRunningByTask(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStats(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	now := time.Now().UTC()
	mk := func(status execution.ExecutionStatus, dur float64) {
		rec, err := l.CreateExecution(ctx, 1, "s", nil, execution.TriggeredByScheduler, nil)
		require.NoError(t, err)
		start := now.Add(-time.Minute)
		_, err = l.UpdateExecution(ctx, rec.ExecutionID, execution.NewPatch().
			WithStatus(status).
			WithStartTime(start).
			WithEndTime(start.Add(time.Duration(dur*float64(time.Second)))))
		require.NoError(t, err)
	}

	mk(execution.ExecutionStatusCompleted, 2)
	mk(execution.ExecutionStatusCompleted, 4)
	mk(execution.ExecutionStatusFailed, 1)

	stats, err := l.Stats(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalCount)
	assert.Equal(t, int64(2), stats.SuccessCount)
	assert.Equal(t, int64(1), stats.FailedCount)
	assert.InDelta(t, 66.67, stats.SuccessRate, 0.01)
	assert.InDelta(t, 3.0, stats.AvgDuration, 0.01)
}

func TestCleanupKeepsActiveAndRecent(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	oldDone, err := l.CreateExecution(ctx, 1, "s", nil, execution.TriggeredByScheduler, nil)
	require.NoError(t, err)
	_, err = l.UpdateExecution(ctx, oldDone.ExecutionID,
		execution.NewPatch().WithStatus(execution.ExecutionStatusCompleted))
	require.NoError(t, err)

	oldRunning, err := l.CreateExecution(ctx, 1, "s", nil, execution.TriggeredByScheduler, nil)
	require.NoError(t, err)
	_, err = l.UpdateExecution(ctx, oldRunning.ExecutionID,
		execution.NewPatch().WithStatus(execution.ExecutionStatusRunning))
	require.NoError(t, err)

	fresh, err := l.CreateExecution(ctx, 1, "s", nil, execution.TriggeredByScheduler, nil)
	require.NoError(t, err)
	_, err = l.UpdateExecution(ctx, fresh.ExecutionID,
		execution.NewPatch().WithStatus(execution.ExecutionStatusFailed))
	require.NoError(t, err)

	// 前两条回拨到保留窗口之外
	ancient := time.Now().UTC().AddDate(0, 0, -60)
	for _, id := range []string{oldDone.ExecutionID, oldRunning.ExecutionID} {
		err := st.DB().Table("task_executions").
			Where("execution_id = ?", id).
			Update("created_at", ancient).Error
		require.NoError(t, err)
	}

	deleted, err := l.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// 终态且过期的被删，RUNNING的哪怕过期也保留
	gone, err := l.GetExecution(ctx, oldDone.ExecutionID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := l.GetExecution(ctx, oldRunning.ExecutionID)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	keptFresh, err := l.GetExecution(ctx, fresh.ExecutionID)
	require.NoError(t, err)
	assert.NotNil(t, keptFresh)
}

func TestDeleteExecutions(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	a, err := l.CreateExecution(ctx, 1, "s", nil, execution.TriggeredByAPI, nil)
	require.NoError(t, err)
	b, err := l.CreateExecution(ctx, 1, "s", nil, execution.TriggeredByAPI, nil)
	require.NoError(t, err)

	n, err := l.DeleteExecutions(ctx, []string{a.ExecutionID, "no-such-id"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = l.DeleteExecutionsByStatus(ctx, execution.ExecutionStatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := l.GetExecution(ctx, b.ExecutionID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
