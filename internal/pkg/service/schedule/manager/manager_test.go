package manager

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore/memstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/key"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/model"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/server"
)

func TestDataManager_New(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := memstore.New(clk)

	m, err := New(ctx, log.NewNopLogger(), store, "/schedule/app", WithClock(clk))
	require.NoError(t, err)
	assert.Equal(t, "/schedule/app", m.Scheme().Root())
	assert.Equal(t, clk.Now(), m.Clock().Now())
	assert.Same(t, store, m.Store())
	assert.Equal(t, "/schedule\n/schedule/app\n/schedule/app/baseTaskType\n", store.Tree().Dump())

	// Store failure
	closed := memstore.New(clk)
	require.NoError(t, closed.Close())
	_, err = New(ctx, log.NewNopLogger(), closed, "/schedule", WithClock(clk))
	require.Error(t, err)
}

// TestDataManager_Lifecycle goes through the whole life of a domain: definition, servers, assignment, handover and expiration.
func TestDataManager_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tree := memstore.NewTree(clk)
	client1, client2 := tree.NewClient(), tree.NewClient()

	m1, err := New(ctx, log.NewNopLogger(), client1, "/schedule", WithClock(clk))
	require.NoError(t, err)
	m2, err := New(ctx, log.NewNopLogger(), client2, "/schedule", WithClock(clk))
	require.NoError(t, err)

	require.NoError(t, m1.TaskTypes().Create(ctx, model.NewTaskType("X", "A : {p1}", "B", "C", "D")))
	taskType := key.TaskTypeName("X", "tenant")

	// Two servers
	s1 := &model.Server{BaseTaskType: "X", OwnSign: "tenant", IP: "10.0.0.1"}
	s2 := &model.Server{BaseTaskType: "X", OwnSign: "tenant", IP: "10.0.0.2"}
	require.NoError(t, m1.Servers().Register(ctx, s1))
	require.NoError(t, m2.Servers().Register(ctx, s2))

	names, err := m1.Servers().ListNames(ctx, taskType)
	require.NoError(t, err)
	assert.Equal(t, []string{s1.UUID, s2.UUID}, names)
	assert.Equal(t, s1.UUID, server.Leader(names))

	// Leader initializes the items
	require.NoError(t, m1.TaskItems().InitializeStatic(ctx, "X", "tenant", server.Leader(names)))
	ok, err := m2.TaskItems().IsInitializationSuccessful(ctx, "X", "tenant")
	require.NoError(t, err)
	assert.True(t, ok)

	// Only the leader assigns
	result, err := m2.Assignment().Assign(ctx, taskType, s2.UUID, names)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	result, err = m1.Assignment().Assign(ctx, taskType, s1.UUID, names)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Assigned)

	owned1, err := m1.TaskItems().ReloadOwned(ctx, taskType, s1.UUID)
	require.NoError(t, err)
	assert.Equal(t, []model.TaskItemDefine{{TaskItemID: "A", Parameter: "p1"}, {TaskItemID: "B"}}, owned1)
	owned2, err := m2.TaskItems().ReloadOwned(ctx, taskType, s2.UUID)
	require.NoError(t, err)
	assert.Equal(t, []model.TaskItemDefine{{TaskItemID: "C"}, {TaskItemID: "D"}}, owned2)

	// The first server crashes, the second becomes the leader
	client1.Expire()
	names, err = m2.Servers().ListNames(ctx, taskType)
	require.NoError(t, err)
	assert.Equal(t, []string{s2.UUID}, names)
	assert.True(t, server.IsLeader(s2.UUID, names))

	count, err := m2.TaskItems().ReconcileOwnership(ctx, taskType, names)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	result, err = m2.Assignment().Assign(ctx, taskType, s2.UUID, names)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Assigned)
	assert.Equal(t, 2, result.Unchanged)

	owned2, err = m2.TaskItems().ReloadOwned(ctx, taskType, s2.UUID)
	require.NoError(t, err)
	assert.Len(t, owned2, 4)

	// Pause is visible to all
	require.NoError(t, m2.TaskTypes().Pause(ctx, "X"))
	def, err := m1.TaskTypes().Load(ctx, "X")
	require.NoError(t, err)
	assert.True(t, def.Paused())

	// Domain expires
	clk.Advance(48 * time.Hour)
	swept, err := m2.TaskItems().SweepExpiredDomains(ctx, "X", s2.UUID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	domains, err := m2.TaskTypes().ListDomains(ctx, "X")
	require.NoError(t, err)
	assert.Empty(t, domains)
}
