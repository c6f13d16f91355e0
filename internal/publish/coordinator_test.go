package publish

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/dao"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/eventbus"
	"github.com/haierkeys/fast-content-sync-service/internal/mirror"
	"github.com/haierkeys/fast-content-sync-service/internal/service"
	"github.com/haierkeys/fast-content-sync-service/internal/versionstore"
	"github.com/haierkeys/fast-content-sync-service/pkg/writequeue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// rejectingRemote rejects every insert into the listed domains
type rejectingRemote struct {
	domain.RemoteStore
	reject   map[domain.ContentDomain]bool
	onInsert func(req *domain.InsertVersionRequest)
}

func (r *rejectingRemote) InsertVersion(ctx context.Context, req *domain.InsertVersionRequest) (*domain.VersionRecord, error) {
	if r.onInsert != nil {
		r.onInsert(req)
	}
	if r.reject[req.Domain] {
		return nil, &domain.RemoteRejectionError{Op: "insert version", Status: 403, Message: "read only"}
	}
	return r.RemoteStore.InsertVersion(ctx, req)
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	records []*domain.VersionRecord
}

func (b *recordingBroadcaster) BroadcastRecord(rec *domain.VersionRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, rec)
}

func openDao(t *testing.T, name string) *dao.Dao {
	t.Helper()
	wq := writequeue.New(nil, zap.NewNop())
	t.Cleanup(func() { _ = wq.Shutdown(context.Background()) })
	db, err := dao.NewDBEngine(dao.DatabaseConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), name)}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dao.Close(db) })
	return dao.New(db, zap.NewNop(), wq)
}

type fixture struct {
	coordinator *Coordinator
	store       *versionstore.Store
	remote      *rejectingRemote
	broadcaster *recordingBroadcaster
}

func newFixture(t *testing.T, reject ...domain.ContentDomain) *fixture {
	t.Helper()
	server := openDao(t, "server.db")
	remote := &rejectingRemote{
		RemoteStore: service.NewVersionService(dao.NewVersionRepository(server), dao.NewSyncEventRepository(server), nil, zap.NewNop(), nil),
		reject:      map[domain.ContentDomain]bool{},
	}
	for _, d := range reject {
		remote.reject[d] = true
	}

	client := openDao(t, "client.db")
	queue := writequeue.New(nil, zap.NewNop())
	t.Cleanup(func() { _ = queue.Shutdown(context.Background()) })
	store := versionstore.New(remote, mirror.New(dao.NewMirrorRepository(client), zap.NewNop()),
		dao.NewPendingSaveRepository(client), eventbus.New(nil, nil), queue, nil, zap.NewNop(),
		versionstore.Config{RemoteTimeout: 2 * time.Second, SessionID: "editor"})

	b := &recordingBroadcaster{}
	return &fixture{
		coordinator: New(dao.NewStagedEditRepository(client), store, b, zap.NewNop()),
		store:       store,
		remote:      remote,
		broadcaster: b,
	}
}

var editor = domain.Author{ID: "u1", Name: "Editor"}

// 属性内容域失败、图片内容域成功时，报告分别为 failed 与 succeeded
func TestPublishPending_DomainsAreIndependent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, domain.DomainProperties)

	_, err := f.coordinator.Stage(ctx, domain.DomainProperties, "villa-12", domain.MustPayload(map[string]any{"price": 100}), "price")
	require.NoError(t, err)
	_, err = f.coordinator.Stage(ctx, domain.DomainImages, "hero", domain.MustPayload([]string{"a.jpg"}), "hero")
	require.NoError(t, err)
	_, err = f.coordinator.Stage(ctx, domain.DomainImages, "concept", domain.MustPayload([]string{"b.jpg"}), "concept")
	require.NoError(t, err)

	report, err := f.coordinator.PublishPending(ctx, editor)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, report.Status(domain.DomainProperties))
	assert.Equal(t, StatusSucceeded, report.Status(domain.DomainImages))
	assert.Equal(t, StatusSkipped, report.Status(domain.DomainContent))
	assert.Equal(t, StatusSkipped, report.Status(domain.DomainDesign))
	assert.False(t, report.Succeeded())
	assert.Len(t, f.broadcaster.records, 2)

	// 失败的保存转入待同步队列，暂存编辑清空
	staged, err := f.coordinator.Staged(ctx)
	require.NoError(t, err)
	assert.Empty(t, staged)
	pending, err := f.store.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "villa-12", pending[0].TargetID)

	availability, err := f.coordinator.CheckPendingAvailability(ctx)
	require.NoError(t, err)
	for _, a := range availability {
		if a.Domain == domain.DomainProperties {
			assert.True(t, a.HasChanges())
			assert.Equal(t, 1, a.Pending)
			assert.False(t, a.LastModified.IsZero())
		} else {
			assert.False(t, a.HasChanges(), a.Domain)
		}
	}
}

func TestPublishPending_FlushesPendingSaves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, domain.DomainDesign)

	rec, err := f.store.SaveVersion(ctx, domain.DomainDesign, "", domain.MustPayload(map[string]any{"theme": "light"}), editor, "theme")
	require.NoError(t, err)
	require.True(t, rec.IsPending())

	delete(f.remote.reject, domain.DomainDesign)
	report, err := f.coordinator.PublishPending(ctx, editor)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, report.Status(domain.DomainDesign))
	require.Len(t, report.Results, len(domain.Domains()))
	for _, res := range report.Results {
		if res.Domain == domain.DomainDesign {
			require.Len(t, res.Published, 1)
			assert.Equal(t, int64(1), res.Published[0].VersionNumber)
		}
	}
	pending, err := f.store.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStage_ValidatesAndReplaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.coordinator.Stage(ctx, domain.DomainImages, "gallery", domain.MustPayload([]string{}), "")
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)
	_, err = f.coordinator.Stage(ctx, domain.DomainContent, "", domain.Payload(`{"a":`), "")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = f.coordinator.Stage(ctx, domain.DomainContent, "", domain.MustPayload(map[string]any{"v": 1}), "first")
	require.NoError(t, err)
	_, err = f.coordinator.Stage(ctx, domain.DomainContent, "", domain.MustPayload(map[string]any{"v": 2}), "second")
	require.NoError(t, err)

	staged, err := f.coordinator.Staged(ctx)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, "second", staged[0].Description)
	assert.Equal(t, `{"v":2}`, string(staged[0].Payload))

	require.NoError(t, f.coordinator.Unstage(ctx, domain.DomainContent, ""))
	staged, err = f.coordinator.Staged(ctx)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestPublishPending_NothingToDo(t *testing.T) {
	f := newFixture(t)
	report, err := f.coordinator.PublishPending(context.Background(), editor)
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	for _, res := range report.Results {
		assert.Equal(t, StatusSkipped, res.Status)
	}
}

// 发布请求进行中重新暂存同一分组，新编辑保留并在下一次发布时生效
func TestPublishPending_KeepsEditStagedDuringInsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.coordinator.Stage(ctx, domain.DomainProperties, "villa-12", domain.MustPayload(map[string]any{"price": 100}), "price")
	require.NoError(t, err)

	restaged := false
	f.remote.onInsert = func(req *domain.InsertVersionRequest) {
		if restaged {
			return
		}
		restaged = true
		_, err := f.coordinator.Stage(ctx, domain.DomainProperties, "villa-12", domain.MustPayload(map[string]any{"price": 200}), "price")
		assert.NoError(t, err)
	}

	report, err := f.coordinator.PublishPending(ctx, editor)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, report.Status(domain.DomainProperties))

	staged, err := f.coordinator.Staged(ctx)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.True(t, staged[0].Payload.Equal(domain.MustPayload(map[string]any{"price": 200})))

	current, _, err := f.store.GetCurrent(ctx, domain.DomainProperties, "villa-12")
	require.NoError(t, err)
	assert.True(t, current.Equal(domain.MustPayload(map[string]any{"price": 100})))

	report, err = f.coordinator.PublishPending(ctx, editor)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, report.Status(domain.DomainProperties))

	staged, err = f.coordinator.Staged(ctx)
	require.NoError(t, err)
	assert.Empty(t, staged)
	current, _, err = f.store.GetCurrent(ctx, domain.DomainProperties, "villa-12")
	require.NoError(t, err)
	assert.True(t, current.Equal(domain.MustPayload(map[string]any{"price": 200})))
}
