package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/schedule-coordinator/internal/pkg/env"
	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore/memstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/servicectx"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/config"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/scheduleerr"
)

type testApp struct {
	tree *memstore.Tree
	envs *env.Map
}

func newTestApp() *testApp {
	return &testApp{
		tree: memstore.NewTree(clockwork.NewRealClock()),
		envs: env.FromMap(map[string]string{"SCHEDULE_ROOT": "/test", "SCHEDULE_METRICS_LISTEN": ""}),
	}
}

func (a *testApp) execute(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	root := newRootCommand(&stdout, &stderr, a.envs)
	root.openStore = func(_ context.Context, _ *servicectx.Process, _ log.Logger, _ config.Config) (coordstore.Store, error) {
		return a.tree.NewClient(), nil
	}
	root.cmd.SetArgs(args)
	err := root.cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func TestTaskTypeCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	app := newTestApp()

	out, err := app.execute(ctx, "task-type", "create", "X", "A", "B:{p1}", "--schedule-heart-beat-interval", "2s")
	require.NoError(t, err)
	assert.Equal(t, "Task type \"X\" created with 2 task items.\n", out)

	_, err = app.execute(ctx, "task-type", "create", "X")
	require.Error(t, err)
	assert.True(t, scheduleerr.IsDuplicateDefinition(err))

	_, err = app.execute(ctx, "task-type", "create", "X$Y")
	require.Error(t, err)
	assert.True(t, scheduleerr.IsInvalidName(err))

	out, err = app.execute(ctx, "task-type", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"NAME", "STATUS", "HEARTBEAT", "JUDGE", "DEAD", "ITEMS"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"X", "resume", "2s", "1m0s", "A,B:{p1}"}, strings.Fields(lines[1]))

	out, err = app.execute(ctx, "task-type", "pause", "X")
	require.NoError(t, err)
	assert.Equal(t, "Task type \"X\" paused.\n", out)
	out, err = app.execute(ctx, "task-type", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "pause")

	_, err = app.execute(ctx, "task-type", "resume", "Y")
	require.Error(t, err)
	assert.True(t, scheduleerr.IsNotFound(err))

	out, err = app.execute(ctx, "task-type", "delete", "X")
	require.NoError(t, err)
	assert.Equal(t, "Task type \"X\" deleted.\n", out)
	out, err = app.execute(ctx, "task-type", "list")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1)
}

func TestRunCommand(t *testing.T) {
	t.Parallel()
	app := newTestApp()

	_, err := app.execute(context.Background(), "task-type", "create", "X", "A", "B")
	require.NoError(t, err)

	// IP is required
	_, err = app.execute(context.Background(), "run", "--schedule-domains", "X")
	require.Error(t, err)
	assert.Equal(t, "ip is not set", err.Error())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := app.execute(ctx, "run", "--ip", "10.0.0.1", "--schedule-domains", "X")
		done <- err
	}()

	// The worker registers and takes all items
	assert.Eventually(t, func() bool {
		out, err := app.execute(context.Background(), "item", "list", "X")
		return err == nil && strings.Count(out, "X$10.0.0.1$") == 2
	}, 10*time.Second, 50*time.Millisecond)

	out, err := app.execute(context.Background(), "server", "list", "--base", "X")
	require.NoError(t, err)
	assert.Contains(t, out, "X$10.0.0.1$")

	// Graceful shutdown removes the registration
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		require.Fail(t, "timeout")
	}

	out, err = app.execute(context.Background(), "server", "list", "--base", "X")
	require.NoError(t, err)
	assert.NotContains(t, out, "X$10.0.0.1$")
}
