package mirror

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/haierkeys/fast-content-sync-service/internal/dao"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMirror(t *testing.T) (*Mirror, domain.MirrorRepository) {
	t.Helper()
	db, err := dao.NewDBEngine(dao.DatabaseConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "client.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dao.Close(db) })
	repo := dao.NewMirrorRepository(dao.New(db, zap.NewNop(), nil))
	return New(repo, zap.NewNop()), repo
}

func TestMirror_DefaultWhenEmpty(t *testing.T) {
	m, _ := newTestMirror(t)
	p, ok := m.Get(context.Background(), domain.DomainImages, "hero")
	assert.False(t, ok)
	assert.Equal(t, `{"images":[]}`, p.String())
}

func TestMirror_SetGetOverwrite(t *testing.T) {
	m, _ := newTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, domain.DomainDesign, "", domain.Payload(`{"theme":"light"}`)))
	require.NoError(t, m.Set(ctx, domain.DomainDesign, "", domain.Payload(`{"theme":"dark"}`)))

	p, ok := m.Get(ctx, domain.DomainDesign, "")
	assert.True(t, ok)
	assert.Equal(t, `{"theme":"dark"}`, p.String())

	// 新实例从持久化存储读取
	fresh := New(m.repo, nil)
	p, ok = fresh.Get(ctx, domain.DomainDesign, "")
	assert.True(t, ok)
	assert.Equal(t, `{"theme":"dark"}`, p.String())

	assert.ErrorIs(t, m.Set(ctx, domain.DomainDesign, "", domain.Payload(`{`)), domain.ErrInvalidPayload)

	require.NoError(t, m.Delete(ctx, domain.DomainDesign, ""))
	_, ok = m.Get(ctx, domain.DomainDesign, "")
	assert.False(t, ok)
}

func TestMirror_MalformedEntryDiscarded(t *testing.T) {
	m, repo := newTestMirror(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &domain.MirrorEntry{
		Domain:  domain.DomainProperties,
		SubKey:  "villa-3",
		Payload: domain.Payload(`{"title":`),
	}))

	p, ok := m.Get(ctx, domain.DomainProperties, "villa-3")
	assert.False(t, ok)
	assert.Equal(t, `{}`, p.String())

	_, err := repo.Get(ctx, domain.DomainProperties, "villa-3")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	entries, err := m.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
