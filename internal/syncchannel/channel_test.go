package syncchannel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/eventbus"
	"github.com/haierkeys/fast-content-sync-service/internal/metrics"
	"github.com/haierkeys/fast-content-sync-service/internal/versionstore"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = 100 * time.Millisecond

type fakeTimer struct {
	mu      sync.Mutex
	stopped bool
	f       func()
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeClock records every scheduled delay, fire runs the latest live timer
type fakeClock struct {
	mu     sync.Mutex
	delays []time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f}
	c.delays = append(c.delays, d)
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func (c *fakeClock) fire(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	require.NotEmpty(t, c.timers, "no timer scheduled")
	last := c.timers[len(c.timers)-1]
	c.mu.Unlock()

	require.True(t, last.Stop(), "latest timer already stopped")
	last.f()
}

type fakeSub struct {
	events    chan *domain.SyncEvent
	done      chan struct{}
	once      sync.Once
	mu        sync.Mutex
	published []*domain.SyncEvent
	failWith  error
}

func newFakeSub() *fakeSub {
	return &fakeSub{events: make(chan *domain.SyncEvent, 8), done: make(chan struct{})}
}

func (s *fakeSub) Events() <-chan *domain.SyncEvent { return s.events }
func (s *fakeSub) Done() <-chan struct{}            { return s.done }
func (s *fakeSub) Err() error                       { return errors.New("connection reset") }

func (s *fakeSub) Publish(_ context.Context, event *domain.SyncEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.published = append(s.published, event)
	return nil
}

func (s *fakeSub) Published() []*domain.SyncEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.SyncEvent(nil), s.published...)
}

func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type fakeTransport struct {
	mu    sync.Mutex
	calls int
	err   error
	subs  []*fakeSub
}

func (f *fakeTransport) Subscribe(_ context.Context, _ string, _ []domain.ContentDomain) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sub := newFakeSub()
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTransport) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeTransport) lastSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

type fakeStore struct {
	mu         sync.Mutex
	refreshes  int
	refreshErr error
	refreshRec *domain.VersionRecord
	applied    []*domain.VersionRecord
	current    map[domain.ContentDomain][]*domain.VersionRecord
	flushed    []*domain.VersionRecord
}

func (s *fakeStore) Refresh(_ context.Context, d domain.ContentDomain, targetID string) (*domain.VersionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if s.refreshErr != nil {
		return nil, false, s.refreshErr
	}
	return s.refreshRec, s.refreshRec != nil, nil
}

func (s *fakeStore) ApplyRemote(_ context.Context, rec *domain.VersionRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, rec)
	return true, nil
}

func (s *fakeStore) ListCurrent(_ context.Context, d domain.ContentDomain) ([]*domain.VersionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current[d], nil
}

func (s *fakeStore) FlushPending(_ context.Context, _ ...domain.ContentDomain) (*versionstore.FlushReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report := &versionstore.FlushReport{Flushed: s.flushed, Failed: map[domain.GroupKey]error{}}
	s.flushed = nil
	return report, nil
}

func (s *fakeStore) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

func (s *fakeStore) Applied() []*domain.VersionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.VersionRecord(nil), s.applied...)
}

type harness struct {
	ch        *Channel
	transport *fakeTransport
	store     *fakeStore
	clock     *fakeClock
	bus       *eventbus.Bus
	metrics   *metrics.Metrics
	received  *[]eventbus.Message
}

func newHarness(t *testing.T, maxAttempts int) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{},
		store:     &fakeStore{current: map[domain.ContentDomain][]*domain.VersionRecord{}},
		clock:     &fakeClock{},
		metrics:   metrics.New(),
	}
	h.bus = eventbus.New(nil, h.metrics)
	var mu sync.Mutex
	var received []eventbus.Message
	h.received = &received
	h.bus.Subscribe("test", func(_ string, msg eventbus.Message) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
	})

	h.ch = New(h.transport, h.store, h.bus, nil, h.metrics, nil, Config{
		SessionID:    "session-a",
		BackoffBase:  base,
		MaxAttempts:  maxAttempts,
		PollInterval: time.Hour,
	}, WithAfterFunc(h.clock.AfterFunc))
	t.Cleanup(h.ch.Cleanup)
	return h
}

func remoteEvent(id, session string) *domain.SyncEvent {
	return &domain.SyncEvent{
		ID:            id,
		Domain:        domain.DomainDesign,
		Action:        domain.ActionUpdate,
		VersionNumber: 3,
		VersionID:     "v3",
		Payload:       domain.MustPayload(map[string]any{"theme": "dark"}),
		SessionID:     session,
	}
}

// 连续失败按 base、2base 退避，达到上限后进入轮询；手动重连只尝试一次并从第 1 次退避重新开始
func TestChannel_BackoffThenPollingThenReconnect(t *testing.T) {
	h := newHarness(t, 3)
	h.transport.setErr(errors.New("dial refused"))

	h.ch.Connect(context.Background())
	assert.Equal(t, StateReconnecting, h.ch.State())
	assert.Equal(t, 1, h.transport.Calls())

	h.clock.fire(t)
	assert.Equal(t, StateReconnecting, h.ch.State())
	assert.Equal(t, 2, h.transport.Calls())

	h.clock.fire(t)
	assert.Equal(t, StatePolling, h.ch.State())
	assert.Equal(t, 3, h.transport.Calls())
	assert.Equal(t, []time.Duration{base, 2 * base}, h.clock.Delays())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SyncState.WithLabelValues(string(StatePolling))))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.SyncReconnects))

	h.ch.Reconnect(context.Background())
	assert.Equal(t, 4, h.transport.Calls())
	assert.Equal(t, StateReconnecting, h.ch.State())
	assert.Equal(t, 1, h.ch.Attempts())
	delays := h.clock.Delays()
	assert.Equal(t, base, delays[len(delays)-1])
}

func TestChannel_ConnectSucceeds(t *testing.T) {
	h := newHarness(t, 3)
	h.ch.Connect(context.Background())
	assert.Equal(t, StateConnected, h.ch.State())
	assert.Equal(t, 0, h.ch.Attempts())

	// 已连接时 Connect 不做任何事
	h.ch.Connect(context.Background())
	assert.Equal(t, 1, h.transport.Calls())
}

func TestChannel_ReconnectRestoresConnection(t *testing.T) {
	h := newHarness(t, 2)
	h.transport.setErr(errors.New("dial refused"))
	h.ch.Connect(context.Background())
	h.clock.fire(t)
	require.Equal(t, StatePolling, h.ch.State())

	h.transport.setErr(nil)
	h.ch.Reconnect(context.Background())
	assert.Equal(t, StateConnected, h.ch.State())
}

func TestChannel_LostSubscriptionRetries(t *testing.T) {
	h := newHarness(t, 3)
	h.ch.Connect(context.Background())
	require.Equal(t, StateConnected, h.ch.State())

	_ = h.transport.lastSub().Close()
	require.Eventually(t, func() bool { return h.ch.State() == StateReconnecting }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{base}, h.clock.Delays())

	h.clock.fire(t)
	assert.Equal(t, StateConnected, h.ch.State())
	assert.Equal(t, 2, h.transport.Calls())
}

func TestChannel_CleanupStopsEverything(t *testing.T) {
	h := newHarness(t, 3)
	h.transport.setErr(errors.New("dial refused"))
	h.ch.Connect(context.Background())
	require.Equal(t, StateReconnecting, h.ch.State())

	h.ch.Cleanup()
	assert.Equal(t, StateDisconnected, h.ch.State())

	// 旧一代的定时器被取消
	h.clock.mu.Lock()
	first := h.clock.timers[0]
	h.clock.mu.Unlock()
	assert.False(t, first.Stop())
	assert.Equal(t, 1, h.transport.Calls())
}

// 本会话发出的事件不触发拉取也不进入事件总线
func TestOnRemoteChange_OwnSessionSuppressed(t *testing.T) {
	h := newHarness(t, 3)
	h.ch.OnRemoteChange(context.Background(), remoteEvent("e1", "session-a"))

	assert.Equal(t, 0, h.store.Refreshes())
	assert.Empty(t, *h.received)
}

func TestOnRemoteChange_RefreshAndDedupe(t *testing.T) {
	h := newHarness(t, 3)
	h.store.refreshRec = &domain.VersionRecord{
		ID: "v3", Domain: domain.DomainDesign, VersionNumber: 3,
		Payload: domain.MustPayload(map[string]any{"theme": "dark"}), IsCurrent: true,
	}

	h.ch.OnRemoteChange(context.Background(), remoteEvent("e1", "session-b"))
	h.ch.OnRemoteChange(context.Background(), remoteEvent("e1", "session-b"))

	assert.Equal(t, 1, h.store.Refreshes())
	require.Len(t, *h.received, 1)
	msg := (*h.received)[0]
	assert.Equal(t, eventbus.OriginRemote, msg.Origin)
	assert.Equal(t, int64(3), msg.Version)
	assert.Equal(t, "e1", msg.EventID)
}

func TestOnRemoteChange_FallsBackToEventPayload(t *testing.T) {
	h := newHarness(t, 3)
	h.store.refreshErr = domain.NewTransient("list", errors.New("timeout"))

	h.ch.OnRemoteChange(context.Background(), remoteEvent("e2", "session-b"))

	applied := h.store.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, "v3", applied[0].ID)
	assert.Equal(t, `{"theme":"dark"}`, string(applied[0].Payload))
	require.Len(t, *h.received, 1)
}

func TestOnRemoteChange_IgnoresUnwatchedDomain(t *testing.T) {
	h := newHarness(t, 3)
	h.ch.cfg.Domains = []domain.ContentDomain{domain.DomainImages}

	h.ch.OnRemoteChange(context.Background(), remoteEvent("e3", "session-b"))
	assert.Equal(t, 0, h.store.Refreshes())
}

func TestBroadcast_StampsSession(t *testing.T) {
	h := newHarness(t, 3)
	h.ch.Connect(context.Background())
	sub := h.transport.lastSub()

	h.ch.Broadcast(&domain.SyncEvent{ID: "e9", Domain: domain.DomainContent})
	require.Eventually(t, func() bool { return len(sub.Published()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "session-a", sub.Published()[0].SessionID)
}

func TestBroadcast_FailureCounted(t *testing.T) {
	h := newHarness(t, 3)
	h.ch.Broadcast(&domain.SyncEvent{ID: "e10", Domain: domain.DomainContent})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.BroadcastFailures) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestForceResync(t *testing.T) {
	h := newHarness(t, 3)
	h.store.current[domain.DomainImages] = []*domain.VersionRecord{
		{ID: "i1", Domain: domain.DomainImages, TargetID: "hero", VersionNumber: 2, IsCurrent: true},
	}
	h.store.flushed = []*domain.VersionRecord{
		{ID: "c1", Domain: domain.DomainContent, VersionNumber: 1, IsCurrent: true, Status: domain.StatusConfirmed, EventID: "ev-c1"},
	}

	res := h.ch.ForceResync(context.Background())
	assert.Equal(t, ResyncResult{Applied: 1, Flushed: 1}, res)
	require.Len(t, *h.received, 1)
	assert.Equal(t, "hero", (*h.received)[0].TargetID)
}
