package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/haierkeys/fast-content-sync-service/internal/dao"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/metrics"
	"github.com/haierkeys/fast-content-sync-service/pkg/writequeue"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []*domain.SyncEvent
}

func (n *recordingNotifier) NotifyChange(e *domain.SyncEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func newTestService(t *testing.T) (VersionService, *metrics.Metrics) {
	t.Helper()
	db, err := dao.NewDBEngine(dao.DatabaseConfig{
		Type:        "sqlite",
		Path:        filepath.Join(t.TempDir(), "server.db"),
		TablePrefix: "cs_",
	}, nil)
	require.NoError(t, err)
	cfg := writequeue.DefaultConfig()
	wq := writequeue.New(&cfg, zap.NewNop())
	t.Cleanup(func() {
		_ = wq.Shutdown(context.Background())
		_ = dao.Close(db)
	})

	d := dao.New(db, zap.NewNop(), wq)
	m := metrics.New()
	svc := NewVersionService(dao.NewVersionRepository(d), dao.NewSyncEventRepository(d), m, zap.NewNop(), nil)
	return svc, m
}

func save(t *testing.T, svc VersionService, d domain.ContentDomain, target string, v any, observed int64) *domain.VersionRecord {
	t.Helper()
	rec, err := svc.InsertVersion(context.Background(), &domain.InsertVersionRequest{
		Domain:          d,
		TargetID:        target,
		Payload:         domain.MustPayload(v),
		Author:          domain.Author{ID: "admin"},
		ObservedVersion: observed,
	})
	require.NoError(t, err)
	return rec
}

func TestInsertVersion_ValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.InsertVersion(ctx, &domain.InsertVersionRequest{Domain: "blog", Payload: domain.Payload(`{}`)})
	assert.ErrorIs(t, err, domain.ErrInvalidDomain)

	_, err = svc.InsertVersion(ctx, &domain.InsertVersionRequest{Domain: domain.DomainImages, TargetID: "gallery", Payload: domain.Payload(`{}`)})
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)

	_, err = svc.InsertVersion(ctx, &domain.InsertVersionRequest{Domain: domain.DomainDesign, Payload: domain.Payload(`{"a":`)})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

// 两个会话同时基于版本 N 保存，应分配 N+1 与 N+2 且只有一个当前版本
func TestInsertVersion_ConcurrentWritersLastWriteWins(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)

	const n = 3
	for i := 0; i < n; i++ {
		save(t, svc, domain.DomainProperties, "villa-7", map[string]any{"rev": i}, 0)
	}

	var wg sync.WaitGroup
	results := make([]*domain.VersionRecord, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := svc.InsertVersion(ctx, &domain.InsertVersionRequest{
				Domain:          domain.DomainProperties,
				TargetID:        "villa-7",
				Payload:         domain.MustPayload(map[string]any{"writer": i}),
				SessionID:       []string{"a", "b"}[i],
				ObservedVersion: n,
			})
			assert.NoError(t, err)
			results[i] = rec
		}(i)
	}
	wg.Wait()

	numbers := []int64{results[0].VersionNumber, results[1].VersionNumber}
	assert.ElementsMatch(t, []int64{n + 1, n + 2}, numbers)

	current, total, err := svc.ListVersions(ctx, &domain.VersionFilter{
		Domain:      domain.DomainProperties,
		TargetID:    domain.Target("villa-7"),
		CurrentOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, current, 1)
	assert.Equal(t, int64(n+2), current[0].VersionNumber)

	assert.Equal(t, n+2, notifier.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VersionConflicts.WithLabelValues("properties")))
}

func TestSetCurrent_KeepsHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)

	first := save(t, svc, domain.DomainDesign, "", map[string]any{"theme": "light"}, 0)
	save(t, svc, domain.DomainDesign, "", map[string]any{"theme": "dark"}, 1)

	rec, err := svc.SetCurrent(ctx, &domain.SetCurrentRequest{Domain: domain.DomainDesign, VersionID: first.ID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, rec.ID)
	assert.True(t, rec.Payload.Equal(first.Payload))

	list, total, err := svc.ListVersions(ctx, &domain.VersionFilter{Domain: domain.DomainDesign, TargetID: domain.Target("")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(2), list[0].VersionNumber)
	assert.False(t, list[0].IsCurrent)
	assert.True(t, list[1].IsCurrent)

	events, _, err := svc.ListEvents(ctx, &domain.EventFilter{Domain: domain.DomainDesign, Action: domain.ActionRollback})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 3, notifier.count())

	_, err = svc.SetCurrent(ctx, &domain.SetCurrentRequest{Domain: domain.DomainDesign})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListVersions_RequiresDomain(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.ListVersions(context.Background(), &domain.VersionFilter{})
	assert.ErrorIs(t, err, domain.ErrInvalidDomain)
	_, _, err = svc.ListEvents(context.Background(), &domain.EventFilter{Domain: "blog"})
	assert.ErrorIs(t, err, domain.ErrInvalidDomain)
}
