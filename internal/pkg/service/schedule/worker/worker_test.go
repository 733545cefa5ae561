package worker

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore/memstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/manager"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/model"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/scheduleerr"
	"github.com/keboola/schedule-coordinator/internal/pkg/telemetry"
	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

// executorRecorder records items passed to the executor, as comma separated ids.
type executorRecorder struct {
	lock  sync.Mutex
	calls []string
	ch    chan string
}

func newExecutorRecorder() *executorRecorder {
	return &executorRecorder{ch: make(chan string, 100)}
}

func (r *executorRecorder) Assign(_ context.Context, _ string, items []model.TaskItemDefine) error {
	var ids []string
	for _, item := range items {
		ids = append(ids, item.TaskItemID)
	}
	call := strings.Join(ids, ",")

	r.lock.Lock()
	r.calls = append(r.calls, call)
	r.lock.Unlock()
	r.ch <- call
	return nil
}

func (r *executorRecorder) Calls() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.calls...)
}

type fixture struct {
	clock   *clockwork.FakeClock
	tree    *memstore.Tree
	metrics *Metrics
	tel     telemetry.ForTest
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return &fixture{
		clock:   clk,
		tree:    memstore.NewTree(clk),
		metrics: NewMetrics(prometheus.NewRegistry()),
		tel:     telemetry.NewForTest(t),
	}
}

func (f *fixture) newData(t *testing.T) (*manager.DataManager, *memstore.Client) {
	t.Helper()
	client := f.tree.NewClient()
	return f.newDataWithStore(t, client, log.NewDebugLogger()), client
}

func (f *fixture) newDataWithStore(t *testing.T, store coordstore.Store, logger log.Logger) *manager.DataManager {
	t.Helper()
	data, err := manager.New(context.Background(), logger, store, "/schedule", manager.WithClock(f.clock))
	require.NoError(t, err)
	return data
}

// unstableStore fails writes of server nodes, while the failServers flag is set.
type unstableStore struct {
	coordstore.Store
	failServers *atomic.Bool
}

func (s *unstableStore) Set(ctx context.Context, path string, data []byte, version int64) (coordstore.Stat, error) {
	if s.failServers.Load() && strings.Contains(path, "/server/") {
		return coordstore.Stat{}, errors.New("connection lost")
	}
	return s.Store.Set(ctx, path, data, version)
}

func (f *fixture) newManager(t *testing.T, domain, ip string) (*Manager, *executorRecorder, *memstore.Client) {
	t.Helper()
	data, client := f.newData(t)
	d, err := ParseDomain(domain)
	require.NoError(t, err)
	executor := newExecutorRecorder()
	return NewManager(data, f.tel, f.metrics, executor, d, Identity{IP: ip, HostName: "host", ManagerFactoryUUID: "factory"}), executor, client
}

func TestParseDomain(t *testing.T) {
	t.Parallel()

	d, err := ParseDomain("X")
	require.NoError(t, err)
	assert.Equal(t, Domain{BaseTaskType: "X", OwnSign: "BASE"}, d)
	assert.Equal(t, "X", d.TaskType())

	d, err = ParseDomain(" X$tenant ")
	require.NoError(t, err)
	assert.Equal(t, Domain{BaseTaskType: "X", OwnSign: "tenant"}, d)
	assert.Equal(t, "X$tenant", d.String())

	_, err = ParseDomain("$tenant")
	require.Error(t, err)
	assert.True(t, scheduleerr.IsInvalidName(err))
}

func TestManager_Tick_SingleServer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	m, executor, _ := f.newManager(t, "X", "10.0.0.1")
	require.NoError(t, m.data.TaskTypes().Create(ctx, model.NewTaskType("X", "A", "B", "C", "D")))

	require.NoError(t, m.Tick(ctx))
	assert.True(t, m.IsLeader())
	assert.True(t, m.Server().Registered)
	assert.Equal(t, 5*time.Second, m.Interval())
	assert.Equal(t, []string{"A,B,C,D"}, executor.Calls())

	// Nothing changed, the executor is not called again
	require.NoError(t, m.Tick(ctx))
	assert.Equal(t, []string{"A,B,C,D"}, executor.Calls())

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.ticks.WithLabelValues("X", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.registrations.WithLabelValues("X")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.leader.WithLabelValues("X")))
	assert.Equal(t, float64(4), testutil.ToFloat64(f.metrics.assignedItems.WithLabelValues("X", "assigned")))
	assert.Equal(t, float64(4), testutil.ToFloat64(f.metrics.ownedItems.WithLabelValues("X")))

	spans := f.tel.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, "keboola.go.schedule.worker.Tick", spans[0].Name)
}

func TestManager_Tick_TwoServers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	m1, executor1, _ := f.newManager(t, "X$tenant", "10.0.0.1")
	m2, executor2, _ := f.newManager(t, "X$tenant", "10.0.0.2")
	require.NoError(t, m1.data.TaskTypes().Create(ctx, model.NewTaskType("X", "A", "B", "C", "D")))

	// The first server takes all items
	require.NoError(t, m1.Tick(ctx))
	assert.Equal(t, []string{"A,B,C,D"}, executor1.Calls())

	// The second server joins, it owns nothing yet
	require.NoError(t, m2.Tick(ctx))
	assert.False(t, m2.IsLeader())
	assert.Equal(t, []string{""}, executor2.Calls())

	// The leader requests handover of half of the items and releases them
	require.NoError(t, m1.Tick(ctx))
	assert.True(t, m1.IsLeader())
	assert.Equal(t, []string{"A,B,C,D", "A,B"}, executor1.Calls())

	// The second server takes over
	require.NoError(t, m2.Tick(ctx))
	assert.Equal(t, []string{"", "C,D"}, executor2.Calls())

	// Stable state
	require.NoError(t, m1.Tick(ctx))
	require.NoError(t, m2.Tick(ctx))
	assert.Len(t, executor1.Calls(), 2)
	assert.Len(t, executor2.Calls(), 2)

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.releasedItems.WithLabelValues("X$tenant")))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.assignedItems.WithLabelValues("X$tenant", "requested")))
}

func TestManager_Tick_Pause(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	m, executor, _ := f.newManager(t, "X", "10.0.0.1")
	require.NoError(t, m.data.TaskTypes().Create(ctx, model.NewTaskType("X", "A", "B")))

	require.NoError(t, m.Tick(ctx))
	require.NoError(t, m.data.TaskTypes().Pause(ctx, "X"))
	require.NoError(t, m.Tick(ctx))
	require.NoError(t, m.Tick(ctx))
	require.NoError(t, m.data.TaskTypes().Resume(ctx, "X"))
	require.NoError(t, m.Tick(ctx))

	assert.Equal(t, []string{"A,B", "", "A,B"}, executor.Calls())
}

func TestManager_Tick_ReRegistration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	m, executor, client := f.newManager(t, "X", "10.0.0.1")
	require.NoError(t, m.data.TaskTypes().Create(ctx, model.NewTaskType("X", "A", "B")))

	require.NoError(t, m.Tick(ctx))
	oldUUID := m.Server().UUID

	// Session lost, the registration is removed
	client.Expire()
	require.NoError(t, m.Tick(ctx))
	assert.NotEqual(t, oldUUID, m.Server().UUID)
	assert.True(t, m.IsLeader())

	owned, err := m.data.TaskItems().ReloadOwned(ctx, "X", m.Server().UUID)
	require.NoError(t, err)
	assert.Len(t, owned, 2)
	assert.Equal(t, []string{"A,B", "A,B"}, executor.Calls())
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.registrations.WithLabelValues("X")))
}

func TestManager_Tick_HeartbeatFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	store := &unstableStore{Store: f.tree.NewClient(), failServers: atomic.NewBool(false)}
	data := f.newDataWithStore(t, store, log.NewDebugLogger())
	executor := newExecutorRecorder()
	m := NewManager(data, f.tel, f.metrics, executor, Domain{BaseTaskType: "X", OwnSign: "BASE"}, Identity{IP: "10.0.0.1", HostName: "host", ManagerFactoryUUID: "factory"})
	require.NoError(t, data.TaskTypes().Create(ctx, model.NewTaskType("X", "A")))

	require.NoError(t, m.Tick(ctx))
	oldUUID := m.Server().UUID
	assert.Equal(t, []string{"A"}, executor.Calls())

	// The heartbeat cannot be written, the server gives up the registration and owned items
	store.failServers.Store(true)
	err := m.Tick(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `heartbeat of server "`+oldUUID+`" failed`)
	assert.Contains(t, err.Error(), "connection lost")
	assert.False(t, m.Server().Registered)
	assert.True(t, m.Server().RegisterTime.IsZero())
	assert.Equal(t, int64(0), m.Server().Version)
	assert.False(t, m.IsLeader())
	assert.Equal(t, []string{"A", ""}, executor.Calls())
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.leader.WithLabelValues("X")))

	names, err := data.Servers().ListNames(ctx, "X")
	require.NoError(t, err)
	assert.Empty(t, names)

	// The store is back, the server is registered with a new identity
	store.failServers.Store(false)
	require.NoError(t, m.Tick(ctx))
	assert.True(t, m.Server().Registered)
	assert.NotEqual(t, oldUUID, m.Server().UUID)
	assert.True(t, m.IsLeader())
	assert.Equal(t, []string{"A", "", "A"}, executor.Calls())
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.registrations.WithLabelValues("X")))

	names, err = data.Servers().ListNames(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, []string{m.Server().UUID}, names)
}

func TestManager_Tick_MissingIntervals(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	m1, _, _ := f.newManager(t, "X", "10.0.0.1")
	m2, _, _ := f.newManager(t, "X", "10.0.0.2")

	// Definition without scheduling attributes, the defaults are used
	def := model.TaskType{BaseTaskType: "X", TaskItems: []string{"A", "B"}, Status: model.TaskTypeResume}
	require.NoError(t, m1.data.TaskTypes().Create(ctx, def))

	require.NoError(t, m1.Tick(ctx))
	require.NoError(t, m2.Tick(ctx))
	uuid1, uuid2 := m1.Server().UUID, m2.Server().UUID
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Millisecond)
		require.NoError(t, m1.Tick(ctx))
		f.clock.Advance(time.Millisecond)
		require.NoError(t, m2.Tick(ctx))

		assert.True(t, m1.IsLeader())
		assert.False(t, m2.IsLeader())
		assert.Equal(t, uuid1, m1.Server().UUID)
		assert.Equal(t, uuid2, m2.Server().UUID)
	}

	assert.Equal(t, DefaultInterval, m1.Interval())
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.registrations.WithLabelValues("X")))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.sweptServers.WithLabelValues("X")))

	// The initialized domain is not expired
	count, err := m2.SweepExpiredDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	items, err := m2.data.TaskItems().Count(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, 2, items)
}

func TestManager_SweepExpiredDomains(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	logger := log.NewDebugLogger()
	data := f.newDataWithStore(t, f.tree.NewClient(), logger)
	m := NewManager(data, f.tel, f.metrics, newExecutorRecorder(), Domain{BaseTaskType: "X", OwnSign: "BASE"}, Identity{IP: "10.0.0.1", HostName: "host", ManagerFactoryUUID: "factory"})
	require.NoError(t, data.TaskTypes().Create(ctx, model.NewTaskType("X", "A")))
	require.NoError(t, data.TaskItems().InitializeDynamic(ctx, "X", "old"))

	// The domain has not been used for more than one day, it is removed before the server is registered
	f.clock.Advance(25 * time.Hour)
	count, err := m.SweepExpiredDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Empty(t, m.Server().UUID)
	assert.Contains(t, logger.AllMessages(), `server \"factory\" deleted expired domain \"X$old\"`)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.sweptDomains.WithLabelValues("X")))
}

func TestManager_Tick_ExpiredServer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	m1, _, _ := f.newManager(t, "X", "10.0.0.1")
	m2, executor2, _ := f.newManager(t, "X", "10.0.0.2")
	require.NoError(t, m1.data.TaskTypes().Create(ctx, model.NewTaskType("X", "A", "B")))

	require.NoError(t, m1.Tick(ctx))
	require.NoError(t, m2.Tick(ctx))
	require.NoError(t, m1.Tick(ctx))
	require.NoError(t, m2.Tick(ctx))
	assert.Equal(t, []string{"", "B"}, executor2.Calls())

	// The first server stops sending heartbeats, the second one removes it and takes the leadership
	f.clock.Advance(2 * time.Minute)
	require.NoError(t, m2.Tick(ctx))
	assert.True(t, m2.IsLeader())
	assert.Equal(t, []string{"", "B", "A,B"}, executor2.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.sweptServers.WithLabelValues("X")))
}

func TestManager_Tick_MissingDefinition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	m, executor, _ := f.newManager(t, "X", "10.0.0.1")
	err := m.Tick(ctx)
	require.Error(t, err)
	assert.True(t, scheduleerr.IsNotFound(err))
	assert.Equal(t, `task type "X" not found`, err.Error())
	assert.False(t, m.Server().Registered)
	assert.Empty(t, executor.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ticks.WithLabelValues("X", "error")))
}

func TestManager_Run(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)

	m, executor, _ := f.newManager(t, "X", "10.0.0.1")
	require.NoError(t, m.data.TaskTypes().Create(ctx, model.NewTaskType("X", "A", "B")))

	done := make(chan error)
	go func() {
		done <- m.Run(ctx)
	}()

	select {
	case call := <-executor.ch:
		assert.Equal(t, "A,B", call)
	case <-time.After(10 * time.Second):
		require.Fail(t, "timeout")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		require.Fail(t, "timeout")
	}

	assert.Equal(t, []string{"A,B", ""}, executor.Calls())
	assert.False(t, m.IsLeader())
	names, err := m.data.Servers().ListNames(context.Background(), "X")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFactory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	data, _ := f.newData(t)
	require.NoError(t, data.TaskTypes().Create(ctx, model.NewTaskType("X", "A")))
	require.NoError(t, data.TaskTypes().Create(ctx, model.NewTaskType("Y", "B")))

	// Invalid domains
	_, err := NewFactory(ctx, data, f.tel, f.metrics, newExecutorRecorder(), FactoryConfig{IP: "10.0.0.1"})
	require.Error(t, err)
	_, err = NewFactory(ctx, data, f.tel, f.metrics, newExecutorRecorder(), FactoryConfig{IP: "10.0.0.1", Domains: []string{"X", "X$BASE", "$foo"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `domain "X" is configured twice`)

	factory, err := NewFactory(ctx, data, f.tel, f.metrics, newExecutorRecorder(), FactoryConfig{IP: "10.0.0.1", HostName: "host", Domains: []string{"X", "Y$tenant"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(factory.UUID(), "10.0.0.1$host$"))
	require.Len(t, factory.Managers(), 2)

	for _, m := range factory.Managers() {
		require.NoError(t, m.Tick(ctx))
	}

	servers, err := factory.Servers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "X", servers[0].TaskType)
	assert.Equal(t, "Y$tenant", servers[1].TaskType)
	for _, s := range servers {
		assert.Equal(t, factory.UUID(), s.ManagerFactoryUUID)
	}
}

func TestFactory_HostNameError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	logger := log.NewDebugLogger()
	data := f.newDataWithStore(t, f.tree.NewClient(), logger)
	hostname := func() (string, error) { return "", errors.New("no host name") }

	factory, err := newFactory(ctx, data, f.tel, f.metrics, newExecutorRecorder(), FactoryConfig{IP: "10.0.0.1", Domains: []string{"X"}}, hostname)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(factory.UUID(), "10.0.0.1$$"))
	logger.AssertJSONMessages(t, `{"level":"warn","message":"cannot get host name: no host name"}`)
}
