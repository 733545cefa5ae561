// Package manager provides the DataManager, the entry point to the schedule coordination data.
//
// All components share one store connection and one synchronized clock.
package manager

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/assignment"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/clocksync"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/key"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/scheduleerr"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/server"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/taskitem"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/tasktype"
)

type DataManager struct {
	logger     log.Logger
	store      coordstore.Store
	scheme     key.Scheme
	clock      *clocksync.Clock
	taskTypes  *tasktype.Repository
	servers    *server.Registry
	taskItems  *taskitem.Registry
	assignment *assignment.Engine
}

type config struct {
	clock clockwork.Clock
}

type Option func(c *config)

// WithClock sets the local clock, it is used in tests.
func WithClock(v clockwork.Clock) Option {
	return func(c *config) {
		c.clock = v
	}
}

// New creates the root nodes and synchronizes the clock with the store.
func New(ctx context.Context, logger log.Logger, store coordstore.Store, root string, opts ...Option) (*DataManager, error) {
	cfg := config{clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(&cfg)
	}

	scheme := key.NewScheme(root)
	if err := coordstore.EnsurePath(ctx, store, scheme.BaseTaskTypes()); err != nil {
		return nil, scheduleerr.WrapStore("create task types container", err)
	}

	clock, err := clocksync.New(ctx, logger, store, scheme, clocksync.WithClock(cfg.clock))
	if err != nil {
		return nil, err
	}

	m := &DataManager{logger: logger, store: store, scheme: scheme, clock: clock}
	m.taskTypes = tasktype.NewRepository(store, scheme)
	m.servers = server.NewRegistry(logger, store, scheme, clock)
	m.taskItems = taskitem.NewRegistry(logger, store, scheme, clock, m.taskTypes, m.servers)
	m.assignment = assignment.NewEngine(logger, m.taskItems)
	return m, nil
}

func (m *DataManager) Logger() log.Logger {
	return m.logger
}

func (m *DataManager) Store() coordstore.Store {
	return m.store
}

func (m *DataManager) Scheme() key.Scheme {
	return m.scheme
}

func (m *DataManager) Clock() *clocksync.Clock {
	return m.clock
}

func (m *DataManager) TaskTypes() *tasktype.Repository {
	return m.taskTypes
}

func (m *DataManager) Servers() *server.Registry {
	return m.servers
}

func (m *DataManager) TaskItems() *taskitem.Registry {
	return m.taskItems
}

func (m *DataManager) Assignment() *assignment.Engine {
	return m.assignment
}
