package main

import (
	"context"
	"io"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/keboola/schedule-coordinator/internal/pkg/env"
	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore/etcdstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore/memstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore/zkstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/etcdclient"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/servicectx"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/config"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/manager"
	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

const description = `
Schedule worker

Coordinates workers of scheduled tasks through ZooKeeper, etcd or an in-memory store.
Task items of a domain are distributed between live servers by the elected leader.
`

// storeFactory opens the coordination store, it is replaced in tests.
type storeFactory func(ctx context.Context, proc *servicectx.Process, logger log.Logger, cfg config.Config) (coordstore.Store, error)

type rootCommand struct {
	cmd       *cobra.Command
	stdout    io.Writer
	stderr    io.Writer
	envs      env.Provider
	openStore storeFactory
}

func newRootCommand(stdout, stderr io.Writer, envs env.Provider) *rootCommand {
	root := &rootCommand{stdout: stdout, stderr: stderr, envs: envs, openStore: openStore}
	root.cmd = &cobra.Command{
		Use:           "schedule-worker",
		Short:         "Schedule coordination worker",
		Long:          description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.cmd.SetOut(stdout)
	root.cmd.SetErr(stderr)

	if err := config.GenerateFlags(root.cmd.PersistentFlags(), config.New()); err != nil {
		panic(err)
	}

	root.cmd.AddCommand(
		runCommand(root),
		taskTypeCommand(root),
		serverCommand(root),
		itemCommand(root),
	)
	return root
}

// loadConfig binds flags and ENVs, the configuration is normalized and validated.
func (r *rootCommand) loadConfig(ctx context.Context) (config.Config, error) {
	cfg, err := config.Bind(r.cmd.PersistentFlags(), r.envs)
	if err != nil {
		return config.Config{}, err
	}
	cfg.Normalize()
	if err := cfg.Validate(ctx); err != nil {
		return config.Config{}, errors.PrefixError(err, "invalid configuration")
	}
	return cfg, nil
}

func (r *rootCommand) newLogger(cfg config.Config) (log.Logger, error) {
	format, err := log.NewLogFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return log.NewServiceLogger(r.stderr, cfg.DebugLog, format), nil
}

// withData opens the store and runs the operation, then the process is terminated.
func (r *rootCommand) withData(cmd *cobra.Command, fn func(ctx context.Context, cfg config.Config, data *manager.DataManager) error) error {
	ctx := cmd.Context()
	cfg, err := r.loadConfig(ctx)
	if err != nil {
		return err
	}

	logger, err := r.newLogger(cfg)
	if err != nil {
		return err
	}

	proc, err := r.newProcess(ctx, logger, cfg, servicectx.WithoutSignals())
	if err != nil {
		return err
	}
	defer func() {
		proc.Shutdown(errors.New("command finished"))
		proc.WaitForShutdown()
	}()

	store, err := r.openStore(ctx, proc, logger, cfg)
	if err != nil {
		return err
	}

	data, err := manager.New(ctx, logger, store, cfg.Root)
	if err != nil {
		return err
	}

	return fn(ctx, cfg, data)
}

func (r *rootCommand) newProcess(ctx context.Context, logger log.Logger, cfg config.Config, opts ...servicectx.Option) (*servicectx.Process, error) {
	if cfg.NodeID != "" {
		opts = append(opts, servicectx.WithUniqueID(cfg.NodeID))
	}
	return servicectx.New(ctx, logger, opts...)
}

// openStore connects to the configured store, the connection is closed on the process shutdown.
func openStore(ctx context.Context, proc *servicectx.Process, logger log.Logger, cfg config.Config) (coordstore.Store, error) {
	switch cfg.Store.Type {
	case config.StoreEtcd:
		client, err := etcdclient.New(ctx, proc, logger, cfg.Etcd)
		if err != nil {
			return nil, err
		}

		wg := &sync.WaitGroup{}
		storeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		store, err := etcdstore.New(storeCtx, wg, logger, client, cfg.Etcd.SessionTTL)
		if err != nil {
			cancel()
			return nil, err
		}
		proc.OnShutdown(func(ctx context.Context) {
			cancel()
			wg.Wait()
		})
		return store, nil
	case config.StoreZooKeeper:
		storeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		store, err := zkstore.New(storeCtx, logger, cfg.ZooKeeper)
		if err != nil {
			cancel()
			return nil, err
		}
		proc.OnShutdown(func(ctx context.Context) {
			cancel()
		})
		return store, nil
	default:
		logger.Warn(ctx, "using in-memory store, the state is not shared with other processes")
		return memstore.New(clockwork.NewRealClock()), nil
	}
}
