// Package worker runs the coordination cycle of one process in the schedule domains.
//
// Each tick of a domain Manager:
//   - registers the server or refreshes its heartbeat, a removed server or a failed heartbeat leads to a new registration,
//   - removes servers without a heartbeat for the JudgeDeadInterval of the task type,
//   - on the leader only: initializes the task items, clears owners which are not alive and assigns the items,
//   - releases items requested by another server,
//   - passes owned items to the Executor, if the reload flag has been changed or the task type has been paused/resumed.
package worker

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/atomic"

	"github.com/keboola/schedule-coordinator/internal/pkg/ctxattr"
	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/key"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/manager"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/model"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/scheduleerr"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/server"
	"github.com/keboola/schedule-coordinator/internal/pkg/telemetry"
	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

const (
	// DefaultInterval is used if the task type does not define the heartbeat rate.
	DefaultInterval   = 5 * time.Second
	unregisterTimeout = 5 * time.Second
)

// Executor runs the business logic of owned task items.
type Executor interface {
	// Assign replaces the set of owned items. Items are nil if the task type is paused or the worker is stopping.
	Assign(ctx context.Context, taskType string, items []model.TaskItemDefine) error
}

type ExecutorFunc func(ctx context.Context, taskType string, items []model.TaskItemDefine) error

func (fn ExecutorFunc) Assign(ctx context.Context, taskType string, items []model.TaskItemDefine) error {
	return fn(ctx, taskType, items)
}

// Domain identifies a domain in which the worker runs.
type Domain struct {
	BaseTaskType string
	OwnSign      string
}

// ParseDomain parses "base" or "base$ownSign".
func ParseDomain(str string) (Domain, error) {
	str = strings.TrimSpace(str)
	d := Domain{BaseTaskType: key.SplitBaseTaskType(str), OwnSign: key.SplitOwnSign(str)}
	if d.BaseTaskType == "" {
		return Domain{}, scheduleerr.NewInvalidNameError(str)
	}
	if d.OwnSign == "" {
		d.OwnSign = key.OwnSignBase
	}
	return d, nil
}

func (d Domain) TaskType() string {
	return key.TaskTypeName(d.BaseTaskType, d.OwnSign)
}

func (d Domain) String() string {
	return d.TaskType()
}

// Identity of the worker process.
type Identity struct {
	IP                 string
	HostName           string
	ManagerFactoryUUID string
	ThreadNum          int
}

type Manager struct {
	logger    log.Logger
	data      *manager.DataManager
	telemetry telemetry.Telemetry
	metrics   *Metrics
	executor  Executor
	domain    Domain
	taskType  string

	server    *model.Server
	leader    *atomic.Bool
	interval  *atomic.Duration
	lastFlag  int64
	lastPause bool
	notified  bool
}

func NewManager(data *manager.DataManager, tel telemetry.Telemetry, metrics *Metrics, executor Executor, domain Domain, identity Identity) *Manager {
	taskType := domain.TaskType()
	return &Manager{
		logger:    data.Logger().WithComponent("worker"),
		data:      data,
		telemetry: tel,
		metrics:   metrics,
		executor:  executor,
		domain:    domain,
		taskType:  taskType,
		server: &model.Server{
			TaskType:           taskType,
			BaseTaskType:       domain.BaseTaskType,
			OwnSign:            domain.OwnSign,
			IP:                 identity.IP,
			HostName:           identity.HostName,
			ThreadNum:          identity.ThreadNum,
			ManagerFactoryUUID: identity.ManagerFactoryUUID,
		},
		leader:   atomic.NewBool(false),
		interval: atomic.NewDuration(DefaultInterval),
	}
}

// Server returns a copy of the server registration.
func (m *Manager) Server() model.Server {
	return *m.server
}

func (m *Manager) IsLeader() bool {
	return m.leader.Load()
}

func (m *Manager) Interval() time.Duration {
	return m.interval.Load()
}

// Run periodically calls Tick until the context is cancelled, then the server is unregistered.
func (m *Manager) Run(ctx context.Context) error {
	ctx = ctxattr.ContextWith(ctx, attribute.String("schedule.taskType", m.taskType))
	clock := m.data.Clock().Local()

	m.logger.Infof(ctx, `starting worker of "%s"`, m.taskType)
	if _, err := m.SweepExpiredDomains(ctx); err != nil {
		m.logger.Warnf(ctx, `cannot sweep expired domains: %s`, err)
	}

	b := newTickBackoff(clock)
	for {
		interval := m.Interval()
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			interval = b.NextBackOff()
			m.logger.Errorf(ctx, `coordination of "%s" failed, next attempt in "%s": %s`, m.taskType, interval, err)
		} else {
			b.Reset()
		}

		select {
		case <-ctx.Done():
		case <-clock.After(interval):
			continue
		}
		break
	}

	m.stop(ctx)
	return nil
}

// SweepExpiredDomains removes domains of the base task type, which have not been initialized for the ExpireOwnSignInterval.
// It runs before the registration, so the process is identified by the ManagerFactoryUUID.
func (m *Manager) SweepExpiredDomains(ctx context.Context) (int, error) {
	def, err := m.loadTaskType(ctx)
	if err != nil {
		return 0, err
	}

	count, err := m.data.TaskItems().SweepExpiredDomains(ctx, m.domain.BaseTaskType, m.server.ManagerFactoryUUID, def.ExpireOwnSignDays())
	m.metrics.sweptDomains.WithLabelValues(m.domain.BaseTaskType).Add(float64(count))
	return count, err
}

// Tick runs one coordination cycle.
func (m *Manager) Tick(ctx context.Context) (err error) {
	ctx, span := m.telemetry.Tracer().Start(ctx, "keboola.go.schedule.worker.Tick")
	span.SetAttributes(attribute.String("schedule.taskType", m.taskType))
	startTime := m.data.Clock().Local().Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		m.metrics.ticks.WithLabelValues(m.taskType, result).Inc()
		m.metrics.tickDuration.WithLabelValues(m.taskType).Observe(m.data.Clock().Local().Since(startTime).Seconds())
		span.End(&err)
	}()

	def, err := m.loadTaskType(ctx)
	if err != nil {
		return err
	}
	m.interval.Store(def.HeartBeatInterval())

	if err := m.heartbeat(ctx); err != nil {
		return err
	}
	span.SetAttributes(attribute.String("schedule.server", m.server.UUID))

	names, err := m.aliveServers(ctx, def)
	if err != nil {
		return err
	}

	isLeader := server.IsLeader(m.server.UUID, names)
	m.leader.Store(isLeader)
	m.metrics.leader.WithLabelValues(m.taskType).Set(boolToFloat(isLeader))
	span.SetAttributes(attribute.Bool("schedule.leader", isLeader))
	if isLeader {
		if err := m.lead(ctx, names); err != nil {
			return err
		}
	}

	released, err := m.data.TaskItems().Release(ctx, m.taskType, m.server.UUID)
	if err != nil && !scheduleerr.IsNotFound(err) {
		return err
	}
	m.metrics.releasedItems.WithLabelValues(m.taskType).Add(float64(released))

	return m.notifyExecutor(ctx, def)
}

func (m *Manager) loadTaskType(ctx context.Context) (*model.TaskType, error) {
	def, err := m.data.TaskTypes().Load(ctx, m.domain.BaseTaskType)
	if err != nil {
		return nil, err
	} else if def == nil {
		return nil, scheduleerr.NewNotFoundError("task type", m.domain.BaseTaskType)
	}
	return def, nil
}

// heartbeat registers the server or refreshes the registration.
func (m *Manager) heartbeat(ctx context.Context) error {
	servers := m.data.Servers()
	if m.server.Registered {
		ok, err := servers.Refresh(ctx, m.server)
		if err != nil {
			return m.dropRegistration(ctx, err)
		} else if ok {
			return nil
		}
		// The registration has been removed, a new identity is issued
		m.resetRegistration()
	}

	if err := servers.Register(ctx, m.server); err != nil {
		return err
	}

	// The new identity owns nothing, the executor must be notified
	m.notified = false
	m.metrics.registrations.WithLabelValues(m.taskType).Inc()
	return nil
}

// dropRegistration handles a failed heartbeat.
// The server gives up its identity and owned items, it is registered again in the next cycle.
func (m *Manager) dropRegistration(ctx context.Context, cause error) error {
	oldUUID := m.server.UUID
	m.resetRegistration()
	m.leader.Store(false)
	m.metrics.leader.WithLabelValues(m.taskType).Set(0)

	if err := m.data.Servers().Unregister(ctx, m.taskType, oldUUID); err != nil {
		m.logger.Warnf(ctx, `cannot remove server "%s" after failed heartbeat: %s`, oldUUID, err)
	}

	m.notified = false
	if err := m.executor.Assign(ctx, m.taskType, nil); err != nil {
		m.logger.Warnf(ctx, `cannot stop executor of "%s": %s`, m.taskType, err)
	} else {
		m.metrics.ownedItems.WithLabelValues(m.taskType).Set(0)
	}

	return errors.PrefixErrorf(cause, `heartbeat of server "%s" failed`, oldUUID)
}

func (m *Manager) resetRegistration() {
	m.server.Registered = false
	m.server.RegisterTime = time.Time{}
	m.server.Version = 0
}

func (m *Manager) aliveServers(ctx context.Context, def *model.TaskType) ([]string, error) {
	swept, err := m.data.Servers().SweepExpired(ctx, m.taskType, def.JudgeDeadDuration())
	if err != nil {
		return nil, err
	}
	m.metrics.sweptServers.WithLabelValues(m.taskType).Add(float64(swept))
	return m.data.Servers().ListNames(ctx, m.taskType)
}

// lead runs the leader-only part of the cycle.
func (m *Manager) lead(ctx context.Context, names []string) error {
	items := m.data.TaskItems()
	if err := items.InitializeDynamic(ctx, m.domain.BaseTaskType, m.domain.OwnSign); err != nil {
		return err
	}

	if ok, err := items.IsInitializationSuccessful(ctx, m.domain.BaseTaskType, m.domain.OwnSign); err != nil {
		return err
	} else if !ok {
		if err := items.InitializeStatic(ctx, m.domain.BaseTaskType, m.domain.OwnSign, m.server.UUID); err != nil {
			return err
		}
	}

	unowned, err := items.ReconcileOwnership(ctx, m.taskType, names)
	if err != nil {
		return err
	}
	m.metrics.clearedOwners.WithLabelValues(m.taskType).Add(float64(unowned))

	result, err := m.data.Assignment().Assign(ctx, m.taskType, m.server.UUID, names)
	if err != nil {
		return err
	}
	m.metrics.assignedItems.WithLabelValues(m.taskType, "assigned").Add(float64(result.Assigned))
	m.metrics.assignedItems.WithLabelValues(m.taskType, "requested").Add(float64(result.Requested))
	return nil
}

// notifyExecutor passes owned items to the executor, if the reload flag or the pause state has been changed.
func (m *Manager) notifyExecutor(ctx context.Context, def *model.TaskType) error {
	flag, err := m.data.TaskItems().ReloadFlag(ctx, m.taskType)
	if err != nil {
		return err
	}

	paused := def.Paused()
	if m.notified && flag == m.lastFlag && paused == m.lastPause {
		return nil
	}

	var items []model.TaskItemDefine
	if !paused {
		items, err = m.data.TaskItems().ReloadOwned(ctx, m.taskType, m.server.UUID)
		if err != nil && !scheduleerr.IsNotFound(err) {
			return err
		}
	}

	if err := m.executor.Assign(ctx, m.taskType, items); err != nil {
		return err
	}

	if paused && !m.lastPause {
		m.logger.Infof(ctx, `task type "%s" is paused`, m.domain.BaseTaskType)
	}
	m.logger.Debugf(ctx, `executor of "%s" got "%d" task items`, m.taskType, len(items))
	m.metrics.ownedItems.WithLabelValues(m.taskType).Set(float64(len(items)))
	m.metrics.executorUpdates.WithLabelValues(m.taskType).Inc()
	m.notified, m.lastFlag, m.lastPause = true, flag, paused
	return nil
}

// stop releases the executor and removes the registration.
func (m *Manager) stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unregisterTimeout)
	defer cancel()

	if err := m.executor.Assign(ctx, m.taskType, nil); err != nil {
		m.logger.Warnf(ctx, `cannot stop executor of "%s": %s`, m.taskType, err)
	}

	if m.server.Registered {
		if err := m.data.Servers().Unregister(ctx, m.taskType, m.server.UUID); err != nil {
			m.logger.Warnf(ctx, `cannot unregister server "%s": %s`, m.server.UUID, err)
		}
		m.server.Registered = false
	}

	m.leader.Store(false)
	m.metrics.leader.WithLabelValues(m.taskType).Set(0)
	m.logger.Infof(ctx, `stopped worker of "%s"`, m.taskType)
}

func newTickBackoff(clock backoff.Clock) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0.2
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 1 * time.Minute
	b.MaxElapsedTime = 0 // never stop
	b.Clock = clock
	b.Reset()
	return b
}
