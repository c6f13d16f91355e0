package versionstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/haierkeys/fast-content-sync-service/internal/dao"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/eventbus"
	"github.com/haierkeys/fast-content-sync-service/internal/mirror"
	"github.com/haierkeys/fast-content-sync-service/internal/service"
	"github.com/haierkeys/fast-content-sync-service/pkg/writequeue"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyRemote fails every call with err while it is set
type flakyRemote struct {
	domain.RemoteStore
	mu  sync.Mutex
	err error
}

func (f *flakyRemote) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *flakyRemote) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *flakyRemote) InsertVersion(ctx context.Context, req *domain.InsertVersionRequest) (*domain.VersionRecord, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	return f.RemoteStore.InsertVersion(ctx, req)
}

func (f *flakyRemote) ListVersions(ctx context.Context, filter *domain.VersionFilter) ([]*domain.VersionRecord, int64, error) {
	if err := f.failure(); err != nil {
		return nil, 0, err
	}
	return f.RemoteStore.ListVersions(ctx, filter)
}

func (f *flakyRemote) SetCurrent(ctx context.Context, req *domain.SetCurrentRequest) (*domain.VersionRecord, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	return f.RemoteStore.SetCurrent(ctx, req)
}

func openDao(t *testing.T, name string, wq *writequeue.Manager) *dao.Dao {
	t.Helper()
	db, err := dao.NewDBEngine(dao.DatabaseConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), name)}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dao.Close(db) })
	return dao.New(db, zap.NewNop(), wq)
}

func newQueue(t *testing.T) *writequeue.Manager {
	wq := writequeue.New(nil, zap.NewNop())
	t.Cleanup(func() { _ = wq.Shutdown(context.Background()) })
	return wq
}

func newRemote(t *testing.T) domain.RemoteStore {
	t.Helper()
	d := openDao(t, "server.db", newQueue(t))
	return service.NewVersionService(dao.NewVersionRepository(d), dao.NewSyncEventRepository(d), nil, zap.NewNop(), nil)
}

func newStore(t *testing.T, remote domain.RemoteStore, session string) *Store {
	t.Helper()
	d := openDao(t, session+".db", newQueue(t))
	m := mirror.New(dao.NewMirrorRepository(d), zap.NewNop())
	return New(remote, m, dao.NewPendingSaveRepository(d), eventbus.New(nil, nil), newQueue(t), nil, zap.NewNop(), Config{
		RemoteTimeout: 2 * time.Second,
		SessionID:     session,
	})
}

var admin = domain.Author{ID: "admin", Name: "Admin", Email: "admin@example.com"}

func currentOf(t *testing.T, history []*domain.VersionRecord) []*domain.VersionRecord {
	t.Helper()
	var out []*domain.VersionRecord
	for _, rec := range history {
		if rec.IsCurrent {
			out = append(out, rec)
		}
	}
	return out
}

// N 次顺序保存后恰好一条当前记录且版本号为 N
func TestSaveVersion_SequentialSavesProperty(t *testing.T) {
	store := newStore(t, newRemote(t), "s1")
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("n saves leave one current record at version n", prop.ForAll(
		func(n int) bool {
			target := "villa-" + uuid.NewString()[:8]
			for i := 0; i < n; i++ {
				rec, err := store.SaveVersion(ctx, domain.DomainProperties, target, domain.MustPayload(map[string]any{"rev": i}), admin, "")
				if err != nil || rec.IsPending() {
					return false
				}
			}
			history, err := store.GetHistory(ctx, domain.DomainProperties, target)
			if err != nil || len(history) != n {
				return false
			}
			current := currentOf(t, history)
			return len(current) == 1 && current[0].VersionNumber == int64(n)
		},
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

func TestRollback_RestoresPayloadAndKeepsHistory(t *testing.T) {
	store := newStore(t, newRemote(t), "s1")
	ctx := context.Background()

	var saved []*domain.VersionRecord
	for i := 1; i <= 4; i++ {
		rec, err := store.SaveVersion(ctx, domain.DomainDesign, "", domain.MustPayload(map[string]any{"accent": i}), admin, "")
		require.NoError(t, err)
		saved = append(saved, rec)
	}

	var messages []eventbus.Message
	store.Bus().Subscribe("test", func(_ string, msg eventbus.Message) { messages = append(messages, msg) })

	rec, err := store.Rollback(ctx, domain.DomainDesign, "", saved[1].ID, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.VersionNumber)

	payload, source, err := store.GetCurrent(ctx, domain.DomainDesign, "")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, source)
	assert.True(t, payload.Equal(saved[1].Payload))

	history, err := store.GetHistory(ctx, domain.DomainDesign, "")
	require.NoError(t, err)
	assert.Len(t, history, 4)
	current := currentOf(t, history)
	require.Len(t, current, 1)
	assert.Equal(t, saved[1].ID, current[0].ID)

	require.Len(t, messages, 1)
	assert.Equal(t, eventbus.OriginSelf, messages[0].Origin)
	assert.Equal(t, rec.EventID, messages[0].EventID)

	_, err = store.Rollback(ctx, domain.DomainDesign, "", "missing", admin)
	assert.True(t, domain.IsRejection(err))
}

// 两个会话都基于版本 N 同时保存，得到 N+1 与 N+2，只有一个当前版本
func TestSaveVersion_ConcurrentSessions(t *testing.T) {
	remote := newRemote(t)
	a := newStore(t, remote, "a")
	b := newStore(t, remote, "b")
	ctx := context.Background()

	const n = 2
	for i := 0; i < n; i++ {
		_, err := a.SaveVersion(ctx, domain.DomainContent, "", domain.MustPayload(map[string]any{"i": i}), admin, "")
		require.NoError(t, err)
	}
	_, _, err := b.Refresh(ctx, domain.DomainContent, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*domain.VersionRecord, 2)
	for i, s := range []*Store{a, b} {
		wg.Add(1)
		go func(i int, s *Store) {
			defer wg.Done()
			rec, err := s.SaveVersion(ctx, domain.DomainContent, "", domain.MustPayload(map[string]any{"writer": i}), admin, "")
			assert.NoError(t, err)
			results[i] = rec
		}(i, s)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int64{n + 1, n + 2}, []int64{results[0].VersionNumber, results[1].VersionNumber})

	history, err := a.GetHistory(ctx, domain.DomainContent, "")
	require.NoError(t, err)
	assert.Len(t, history, n+2)
	current := currentOf(t, history)
	require.Len(t, current, 1)
	assert.Equal(t, int64(n+2), current[0].VersionNumber)
}

type gallery struct {
	Images []image        `json:"images"`
	Layout map[string]any `json:"layout"`
	Order  [][]int64      `json:"order"`
}

type image struct {
	URL     string   `json:"url"`
	Caption string   `json:"caption"`
	Tags    []string `json:"tags"`
}

// 保存后读取应与原值深度相等
func TestSaveThenGetCurrent_DeepEqualProperty(t *testing.T) {
	store := newStore(t, newRemote(t), "s1")
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("get current returns what was saved", prop.ForAll(
		func(url, caption string, tags []string, order []int64) bool {
			if tags == nil {
				tags = []string{}
			}
			if order == nil {
				order = []int64{}
			}
			in := gallery{
				Images: []image{{URL: url, Caption: caption, Tags: tags}},
				Layout: map[string]any{"columns": "3", "nested": map[string]any{"gap": "8px"}},
				Order:  [][]int64{order, {}},
			}
			if _, err := store.SaveVersion(ctx, domain.DomainImages, domain.ImageCategoryConcept, domain.MustPayload(in), admin, ""); err != nil {
				return false
			}
			p, source, err := store.GetCurrent(ctx, domain.DomainImages, domain.ImageCategoryConcept)
			if err != nil || source != SourceRemote {
				return false
			}
			var out gallery
			if err := p.Decode(&out); err != nil {
				return false
			}
			return assert.ObjectsAreEqual(in, out)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Int64()),
	))

	properties.TestingRun(t)
}

func TestSaveVersion_TransientFailureBecomesPending(t *testing.T) {
	remote := &flakyRemote{RemoteStore: newRemote(t)}
	store := newStore(t, remote, "s1")
	ctx := context.Background()

	_, err := store.SaveVersion(ctx, domain.DomainProperties, "villa-9", domain.Payload(`{"price":1}`), admin, "first")
	require.NoError(t, err)

	remote.setErr(domain.NewTransient("insert", errors.New("connection refused")))
	rec, err := store.SaveVersion(ctx, domain.DomainProperties, "villa-9", domain.Payload(`{"price":2}`), admin, "offline")
	require.NoError(t, err)
	assert.True(t, rec.IsPending())
	assert.NotEmpty(t, rec.PendingReason)

	// 离线时读取到本地待同步内容
	p, source, err := store.GetCurrent(ctx, domain.DomainProperties, "villa-9")
	require.NoError(t, err)
	assert.Equal(t, SourceMirror, source)
	assert.Equal(t, `{"price":2}`, p.String())

	// 失败的推送累计次数
	report, err := store.FlushPending(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Failed, 1)
	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	remote.setErr(nil)
	report, err = store.FlushPending(ctx, domain.DomainProperties)
	require.NoError(t, err)
	require.Len(t, report.Flushed, 1)
	assert.Equal(t, int64(2), report.Flushed[0].VersionNumber)
	assert.Empty(t, report.Failed)

	pending, err = store.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	p, source, err = store.GetCurrent(ctx, domain.DomainProperties, "villa-9")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, source)
	assert.Equal(t, `{"price":2}`, p.String())
}

func TestSaveVersion_RejectionBecomesPending(t *testing.T) {
	remote := &flakyRemote{RemoteStore: newRemote(t)}
	store := newStore(t, remote, "s1")
	remote.setErr(&domain.RemoteRejectionError{Op: "insert", Status: 403, Message: "forbidden"})

	rec, err := store.SaveVersion(context.Background(), domain.DomainDesign, "", domain.Payload(`{"a":1}`), admin, "")
	require.NoError(t, err)
	assert.True(t, rec.IsPending())
	assert.Contains(t, rec.PendingReason, "forbidden")

	history, err := store.GetHistory(context.Background(), domain.DomainDesign, "")
	assert.Error(t, err)
	assert.Nil(t, history)
}

// brokenPending fails every Upsert
type brokenPending struct {
	domain.PendingSaveRepository
}

func (brokenPending) Upsert(context.Context, *domain.PendingSave) error {
	return errors.New("disk full")
}

// 待同步保存无法持久化时本地镜像依然更新
func TestSaveVersion_MirrorWrittenWhenPendingStoreFails(t *testing.T) {
	remote := &flakyRemote{RemoteStore: newRemote(t)}
	d := openDao(t, "s1.db", newQueue(t))
	m := mirror.New(dao.NewMirrorRepository(d), zap.NewNop())
	store := New(remote, m, brokenPending{dao.NewPendingSaveRepository(d)}, eventbus.New(nil, nil), newQueue(t), nil, zap.NewNop(), Config{
		RemoteTimeout: 2 * time.Second,
		SessionID:     "s1",
	})
	ctx := context.Background()

	remote.setErr(domain.NewTransient("insert", errors.New("connection refused")))
	_, err := store.SaveVersion(ctx, domain.DomainDesign, "", domain.Payload(`{"theme":"dark"}`), admin, "")
	assert.Error(t, err)

	p, ok := m.Get(ctx, domain.DomainDesign, "")
	require.True(t, ok)
	assert.Equal(t, `{"theme":"dark"}`, p.String())
}

func TestGetCurrent_FallsBackToMirrorThenDefault(t *testing.T) {
	remote := &flakyRemote{RemoteStore: newRemote(t)}
	store := newStore(t, remote, "s1")
	ctx := context.Background()

	remote.setErr(context.DeadlineExceeded)
	p, source, err := store.GetCurrent(ctx, domain.DomainImages, domain.ImageCategoryHero)
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, source)
	assert.Equal(t, `{"images":[]}`, p.String())

	remote.setErr(nil)
	_, err = store.SaveVersion(ctx, domain.DomainImages, domain.ImageCategoryHero, domain.Payload(`{"images":[{"url":"a.jpg"}]}`), admin, "")
	require.NoError(t, err)

	remote.setErr(context.DeadlineExceeded)
	p, source, err = store.GetCurrent(ctx, domain.DomainImages, domain.ImageCategoryHero)
	require.NoError(t, err)
	assert.Equal(t, SourceMirror, source)
	assert.Equal(t, `{"images":[{"url":"a.jpg"}]}`, p.String())

	_, _, err = store.GetCurrent(ctx, domain.DomainImages, "gallery")
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)
}

func TestRefreshAndApplyRemote(t *testing.T) {
	remote := newRemote(t)
	writer := newStore(t, remote, "writer")
	reader := newStore(t, remote, "reader")
	ctx := context.Background()

	_, err := writer.SaveVersion(ctx, domain.DomainContent, "", domain.Payload(`{"headline":"hi"}`), admin, "")
	require.NoError(t, err)

	rec, changed, err := reader.Refresh(ctx, domain.DomainContent, "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(1), rec.VersionNumber)

	_, changed, err = reader.Refresh(ctx, domain.DomainContent, "")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = reader.ApplyRemote(ctx, &domain.VersionRecord{Domain: domain.DomainContent, VersionNumber: 2, Payload: domain.Payload(`{"headline":"bye"}`)})
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = reader.ApplyRemote(ctx, &domain.VersionRecord{Domain: domain.DomainContent, Payload: domain.Payload(`{`)})
	assert.True(t, domain.IsDataIntegrity(err))

	current, err := reader.ListCurrent(ctx, domain.DomainContent)
	require.NoError(t, err)
	assert.Len(t, current, 1)
}

func TestDiff(t *testing.T) {
	store := newStore(t, newRemote(t), "s1")
	ctx := context.Background()

	first, err := store.SaveVersion(ctx, domain.DomainContent, "", domain.Payload(`{"a":1,"b":2}`), admin, "")
	require.NoError(t, err)
	_, err = store.SaveVersion(ctx, domain.DomainContent, "", domain.Payload(`{"a":1,"b":3}`), admin, "")
	require.NoError(t, err)

	d, err := store.Diff(ctx, domain.DomainContent, "", first.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.To.VersionNumber)
	assert.Equal(t, 1, d.Insertions)
	assert.Equal(t, 1, d.Deletions)

	_, err = store.Diff(ctx, domain.DomainContent, "", "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
