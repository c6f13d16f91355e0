package dao

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/model"
	"github.com/haierkeys/fast-content-sync-service/pkg/writequeue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDao(t *testing.T) *Dao {
	t.Helper()
	db, err := NewDBEngine(DatabaseConfig{
		Type:        "sqlite",
		Path:        filepath.Join(t.TempDir(), "test.db"),
		TablePrefix: "cs_",
	}, zap.NewNop())
	require.NoError(t, err)

	cfg := writequeue.DefaultConfig()
	wq := writequeue.New(&cfg, zap.NewNop())
	t.Cleanup(func() {
		_ = wq.Shutdown(context.Background())
		_ = Close(db)
	})
	return New(db, zap.NewNop(), wq)
}

func insertReq(d domain.ContentDomain, target, body string) *domain.InsertVersionRequest {
	return &domain.InsertVersionRequest{
		Domain:      d,
		TargetID:    target,
		Payload:     domain.MustPayload(map[string]any{"body": body}),
		Author:      domain.Author{ID: "u1", Name: "Admin", Email: "admin@example.com"},
		Description: body,
		SessionID:   "s1",
	}
}

func currentCount(t *testing.T, d *Dao, dm domain.ContentDomain, target string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, d.DB().Model(&model.ContentVersion{}).
		Where("domain = ? AND target_id = ? AND is_current = ?", dm, target, true).
		Count(&n).Error)
	return n
}

func TestVersionRepository_InsertAllocatesSequentialNumbers(t *testing.T) {
	d := newTestDao(t)
	repo := NewVersionRepository(d)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		rec, ev, err := repo.Insert(ctx, insertReq(domain.DomainDesign, "", "v"), uuid.NewString())
		require.NoError(t, err)
		assert.Equal(t, int64(i), rec.VersionNumber)
		assert.True(t, rec.IsCurrent)
		assert.Equal(t, domain.StatusConfirmed, rec.Status)
		assert.Equal(t, rec.ID, ev.VersionID)
		if i == 1 {
			assert.Equal(t, domain.ActionCreate, ev.Action)
		} else {
			assert.Equal(t, domain.ActionUpdate, ev.Action)
		}
	}
	assert.Equal(t, int64(1), currentCount(t, d, domain.DomainDesign, ""))

	// 其他分组独立编号
	rec, _, err := repo.Insert(ctx, insertReq(domain.DomainImages, "hero", "h"), uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.VersionNumber)
}

func TestVersionRepository_ConcurrentInsertsNeverCollide(t *testing.T) {
	d := newTestDao(t)
	repo := NewVersionRepository(d)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := repo.Insert(ctx, insertReq(domain.DomainProperties, "villa-1", "x"), uuid.NewString())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := repo.List(ctx, &domain.VersionFilter{Domain: domain.DomainProperties, TargetID: domain.Target("villa-1")})
	require.NoError(t, err)
	require.Len(t, list, writers)
	for i, rec := range list {
		assert.Equal(t, int64(writers-i), rec.VersionNumber)
	}
	assert.Equal(t, int64(1), currentCount(t, d, domain.DomainProperties, "villa-1"))
}

func TestVersionRepository_SetCurrent(t *testing.T) {
	d := newTestDao(t)
	repo := NewVersionRepository(d)
	ctx := context.Background()

	first, _, err := repo.Insert(ctx, insertReq(domain.DomainContent, "", "one"), uuid.NewString())
	require.NoError(t, err)
	_, _, err = repo.Insert(ctx, insertReq(domain.DomainContent, "", "two"), uuid.NewString())
	require.NoError(t, err)

	rec, ev, err := repo.SetCurrent(ctx, &domain.SetCurrentRequest{
		Domain:    domain.DomainContent,
		VersionID: first.ID,
		Author:    domain.Author{ID: "u2"},
	}, uuid.NewString())
	require.NoError(t, err)
	assert.True(t, rec.IsCurrent)
	assert.Equal(t, int64(1), rec.VersionNumber)
	assert.Equal(t, domain.ActionRollback, ev.Action)
	assert.Equal(t, int64(1), currentCount(t, d, domain.DomainContent, ""))

	cur, err := repo.List(ctx, &domain.VersionFilter{Domain: domain.DomainContent, TargetID: domain.Target(""), CurrentOnly: true})
	require.NoError(t, err)
	require.Len(t, cur, 1)
	assert.Equal(t, first.ID, cur[0].ID)

	n, err := repo.Count(ctx, &domain.VersionFilter{Domain: domain.DomainContent})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// 不存在或不属于该分组
	_, _, err = repo.SetCurrent(ctx, &domain.SetCurrentRequest{Domain: domain.DomainContent, VersionID: "missing"}, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = repo.SetCurrent(ctx, &domain.SetCurrentRequest{Domain: domain.DomainDesign, VersionID: first.ID}, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrVersionNotInGroup)
}

func TestVersionRepository_RepairCurrent(t *testing.T) {
	d := newTestDao(t)
	repo := NewVersionRepository(d)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := repo.Insert(ctx, insertReq(domain.DomainImages, "concept", "c"), uuid.NewString())
		require.NoError(t, err)
	}
	_, _, err := repo.Insert(ctx, insertReq(domain.DomainDesign, "", "d"), uuid.NewString())
	require.NoError(t, err)

	// 人为破坏：images/concept 两条当前记录，design 没有当前记录
	require.NoError(t, d.DB().Model(&model.ContentVersion{}).
		Where("domain = ? AND version_number = ?", domain.DomainImages, 1).
		Update("is_current", true).Error)
	require.NoError(t, d.DB().Model(&model.ContentVersion{}).
		Where("domain = ?", domain.DomainDesign).
		Update("is_current", false).Error)

	repaired, err := repo.RepairCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)
	assert.Equal(t, int64(1), currentCount(t, d, domain.DomainImages, "concept"))
	assert.Equal(t, int64(1), currentCount(t, d, domain.DomainDesign, ""))

	repaired, err = repo.RepairCurrent(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestSyncEventRepository_List(t *testing.T) {
	d := newTestDao(t)
	repo := NewVersionRepository(d)
	events := NewSyncEventRepository(d)
	ctx := context.Background()

	first, _, err := repo.Insert(ctx, insertReq(domain.DomainContent, "", "a"), uuid.NewString())
	require.NoError(t, err)
	_, _, err = repo.Insert(ctx, insertReq(domain.DomainContent, "", "b"), uuid.NewString())
	require.NoError(t, err)
	_, _, err = repo.SetCurrent(ctx, &domain.SetCurrentRequest{Domain: domain.DomainContent, VersionID: first.ID}, uuid.NewString())
	require.NoError(t, err)

	all, err := events.List(ctx, &domain.EventFilter{Domain: domain.DomainContent})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	rollbacks, err := events.List(ctx, &domain.EventFilter{Action: domain.ActionRollback})
	require.NoError(t, err)
	require.Len(t, rollbacks, 1)
	assert.Equal(t, first.ID, rollbacks[0].VersionID)

	n, err := events.Count(ctx, &domain.EventFilter{Action: domain.ActionCreate})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClientRepositories(t *testing.T) {
	d := newTestDao(t)
	ctx := context.Background()

	mirror := NewMirrorRepository(d)
	_, err := mirror.Get(ctx, domain.DomainDesign, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, mirror.Upsert(ctx, &domain.MirrorEntry{Domain: domain.DomainDesign, Payload: domain.Payload(`{"a":1}`)}))
	require.NoError(t, mirror.Upsert(ctx, &domain.MirrorEntry{Domain: domain.DomainDesign, Payload: domain.Payload(`{"a":2}`)}))
	got, err := mirror.Get(ctx, domain.DomainDesign, "")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, got.Payload.String())
	require.NoError(t, mirror.Delete(ctx, domain.DomainDesign, ""))
	entries, err := mirror.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	pending := NewPendingSaveRepository(d)
	group := domain.GroupKey{Domain: domain.DomainProperties, TargetID: "villa-1"}
	require.NoError(t, pending.Upsert(ctx, &domain.PendingSave{Domain: group.Domain, TargetID: group.TargetID, Payload: domain.Payload(`{"v":1}`), Reason: "timeout"}))
	require.NoError(t, pending.Upsert(ctx, &domain.PendingSave{Domain: group.Domain, TargetID: group.TargetID, Payload: domain.Payload(`{"v":2}`), Reason: "rejected", Attempts: 1}))
	p, err := pending.Get(ctx, group)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, p.Payload.String())
	assert.Equal(t, 1, p.Attempts)
	list, err := pending.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	require.NoError(t, pending.Delete(ctx, group))
	_, err = pending.Get(ctx, group)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	staged := NewStagedEditRepository(d)
	require.NoError(t, staged.Upsert(ctx, &domain.StagedEdit{Domain: domain.DomainImages, TargetID: "hero", Payload: domain.Payload(`{"images":[]}`)}))
	require.NoError(t, staged.Upsert(ctx, &domain.StagedEdit{Domain: domain.DomainContent, Payload: domain.Payload(`{}`)}))
	edits, err := staged.List(ctx)
	require.NoError(t, err)
	require.Len(t, edits, 2)
	assert.Equal(t, domain.DomainContent, edits[0].Domain)

	published := &domain.StagedEdit{Domain: domain.DomainImages, TargetID: "hero", Payload: domain.Payload(`{"images":[]}`)}
	require.NoError(t, staged.Upsert(ctx, &domain.StagedEdit{Domain: domain.DomainImages, TargetID: "hero", Payload: domain.Payload(`{"images":["a.jpg"]}`)}))
	removed, err := staged.DeleteIfUnchanged(ctx, published)
	require.NoError(t, err)
	assert.False(t, removed)
	_, err = staged.Get(ctx, published.Group())
	require.NoError(t, err)

	published.Payload = domain.Payload(`{"images":["a.jpg"]}`)
	removed, err = staged.DeleteIfUnchanged(ctx, published)
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = staged.Get(ctx, published.Group())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecuteWrite_RollsBackOnError(t *testing.T) {
	d := newTestDao(t)
	ctx := context.Background()
	require.NoError(t, d.Migrate(model.ClientKeys()...))

	err := d.ExecuteWrite(ctx, "design/", model.KeyMirrorEntry, func(tx *gorm.DB) error {
		if err := tx.Create(&model.MirrorEntry{Domain: "design", Payload: "{}"}).Error; err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var n int64
	require.NoError(t, d.DB().Model(&model.MirrorEntry{}).Count(&n).Error)
	assert.Zero(t, n)
}
