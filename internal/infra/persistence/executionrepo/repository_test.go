package executionrepo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	domain "github.com/datafetch/scheduler/internal/biz/execution"
	"github.com/datafetch/scheduler/internal/infra/persistence/executionrepo"
	"github.com/datafetch/scheduler/internal/orm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

func newTestRepo(t *testing.T) *executionrepo.MysqlRepositoryImpl {
	st, err := orm.NewWithDialector(sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return executionrepo.NewMysqlRepositoryImpl(st.DB()).(*executionrepo.MysqlRepositoryImpl)
}

func seedExecutions(t *testing.T, repo *executionrepo.MysqlRepositoryImpl, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		rec := &domain.TaskExecution{
			ExecutionID: fmt.Sprintf("exec_test_%s_%d", t.Name(), i),
			TaskID:      1,
			ScriptID:    "fetch",
			Status:      domain.ExecutionStatusPending,
			TriggeredBy: domain.TriggeredByScheduler,
		}
		require.NoError(t, repo.Create(context.Background(), rec))
		ids = append(ids, rec.ExecutionID)
	}
	return ids
}

func TestDeleteByExecutionIDs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ids := seedExecutions(t, repo, 3)

	deleted, err := repo.DeleteByExecutionIDs(ctx, ids[:2])
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	_, total, err := repo.List(ctx, domain.ListFilter{}, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	// 空列表不动库
	deleted, err = repo.DeleteByExecutionIDs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestExecuteRollsBackOnError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedExecutions(t, repo, 2)

	// 事务内删了又报错：回滚后记录原封不动
	err := repo.Execute(ctx, func(ctx context.Context) error {
		deleted, err := repo.DeleteByStatus(ctx, domain.ExecutionStatusPending)
		if err != nil {
			return err
		}
		require.EqualValues(t, 2, deleted)
		return errors.New("boom")
	})
	require.Error(t, err)

	_, total, err := repo.List(ctx, domain.ListFilter{}, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}
