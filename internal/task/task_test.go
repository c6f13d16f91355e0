package task

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/app"
	"github.com/haierkeys/fast-content-sync-service/internal/dao"
	"github.com/haierkeys/fast-content-sync-service/pkg/safe_close"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingTask struct {
	runs      atomic.Int32
	interval  time.Duration
	startup   bool
	block     bool
	cancelled atomic.Bool
	panics    bool
}

func (t *countingTask) Name() string                { return "counting" }
func (t *countingTask) LoopInterval() time.Duration { return t.interval }
func (t *countingTask) IsStartupRun() bool          { return t.startup }
func (t *countingTask) Run(ctx context.Context) error {
	t.runs.Add(1)
	if t.panics {
		panic("boom")
	}
	if t.block {
		<-ctx.Done()
		t.cancelled.Store(true)
	}
	return nil
}

func TestScheduler_RunsOnStartupAndLoop(t *testing.T) {
	sc := safe_close.NewSafeClose()
	s := NewScheduler(zap.NewNop(), sc)
	task := &countingTask{interval: 10 * time.Millisecond, startup: true}
	s.AddTask(task)
	s.Start()

	require.Eventually(t, func() bool { return task.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	sc.SendCloseSignal(nil)
	require.NoError(t, sc.WaitClosed())

	stopped := task.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, task.runs.Load())
}

func TestScheduler_CloseCancelsRunningTask(t *testing.T) {
	sc := safe_close.NewSafeClose()
	s := NewScheduler(nil, sc)
	task := &countingTask{startup: true, block: true}
	s.AddTask(task)
	s.Start()

	require.Eventually(t, func() bool { return task.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	sc.SendCloseSignal(nil)
	require.NoError(t, sc.WaitClosed())
	assert.True(t, task.cancelled.Load())
}

func TestScheduler_SurvivesPanic(t *testing.T) {
	sc := safe_close.NewSafeClose()
	s := NewScheduler(zap.NewNop(), sc)
	task := &countingTask{interval: 5 * time.Millisecond, panics: true}
	s.AddTask(task)
	s.Start()

	require.Eventually(t, func() bool { return task.runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	sc.SendCloseSignal(nil)
	require.NoError(t, sc.WaitClosed())
}

func newServerApp(t *testing.T, repair string) *app.App {
	t.Helper()
	cfg, err := app.DefaultConfig()
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "server.db")
	cfg.App.RepairInterval = repair

	db, err := dao.NewDBEngine(cfg.Database, nil)
	require.NoError(t, err)
	a, err := app.NewApp(cfg, zap.NewNop(), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestManager_RegisterServerTasks(t *testing.T) {
	m := NewManager(zap.NewNop(), safe_close.NewSafeClose())
	require.NoError(t, m.RegisterServerTasks(newServerApp(t, "30m")))
	require.Len(t, m.Tasks(), 1)
	assert.Equal(t, "RepairCurrent", m.Tasks()[0].Name())
	assert.Equal(t, 30*time.Minute, m.Tasks()[0].LoopInterval())
	assert.NoError(t, m.Tasks()[0].Run(context.Background()))

	disabled := NewManager(zap.NewNop(), safe_close.NewSafeClose())
	require.NoError(t, disabled.RegisterServerTasks(newServerApp(t, "")))
	assert.Empty(t, disabled.Tasks())
}

type fakeRetrier struct{ calls atomic.Int32 }

func (f *fakeRetrier) RetryPending(context.Context) (int, int) {
	f.calls.Add(1)
	return 1, 0
}

func TestPendingRetryTask_Run(t *testing.T) {
	r := &fakeRetrier{}
	task := &PendingRetryTask{retrier: r, interval: time.Minute, logger: zap.NewNop()}
	assert.False(t, task.IsStartupRun())
	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, int32(1), r.calls.Load())
}
