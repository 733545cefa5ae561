// Package server provides the registry of worker servers of a domain and the leader election.
//
// Each server is an ephemeral sequential node, so a crashed server disappears with its store session.
// The server with the lowest sequence number is the leader of the domain.
package server

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/keboola/schedule-coordinator/internal/pkg/idgenerator"
	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/clocksync"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/key"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/model"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/order"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/scheduleerr"
)

type Registry struct {
	logger log.Logger
	store  coordstore.Store
	scheme key.Scheme
	clock  *clocksync.Clock
}

// Query filters servers in Registry.Select, empty fields match all.
type Query struct {
	BaseTaskType string
	OwnSign      string
	IP           string
	// OrderBy is a comma separated list of fields, see order.ServerFields.
	OrderBy string
}

func NewRegistry(logger log.Logger, store coordstore.Store, scheme key.Scheme, clock *clocksync.Clock) *Registry {
	return &Registry{
		logger: logger.WithComponent("server.registry"),
		store:  store,
		scheme: scheme,
		clock:  clock,
	}
}

// Register creates the server node and fills the UUID of the server.
func (r *Registry) Register(ctx context.Context, s *model.Server) error {
	if s.Registered {
		return scheduleerr.NewDoubleRegistrationError(s.UUID)
	}

	if s.TaskType == "" {
		s.TaskType = key.TaskTypeName(s.BaseTaskType, s.OwnSign)
	}
	if s.BaseTaskType == "" {
		s.BaseTaskType = key.SplitBaseTaskType(s.TaskType)
	}
	if s.OwnSign == "" {
		s.OwnSign = key.SplitOwnSign(s.TaskType)
	}

	if err := coordstore.EnsurePath(ctx, r.store, r.scheme.Servers(s.TaskType)); err != nil {
		return scheduleerr.WrapStore("create servers container", err)
	}

	path, err := r.store.Create(ctx, r.scheme.ServerNamePrefix(s.TaskType, s.IP, idgenerator.ServerRandomID()), nil, coordstore.EphemeralSequential)
	if err != nil {
		return scheduleerr.WrapStore("create server", err)
	}

	now := r.clock.Now()
	prev := *s
	s.UUID = coordstore.Base(path)
	s.HeartBeatTime = now
	if s.RegisterTime.IsZero() {
		s.RegisterTime = now
	}

	if err := r.write(ctx, path, *s); err != nil {
		*s = prev
		if delErr := r.store.Delete(ctx, path, coordstore.AnyVersion); delErr != nil && !coordstore.IsNoNode(delErr) {
			r.logger.Warnf(ctx, `cannot delete server "%s" after failed registration: %s`, path, delErr)
		}
		return err
	}

	s.Registered = true
	r.logger.Infof(ctx, `registered server "%s"`, s.UUID)
	return nil
}

// Refresh updates the heartbeat of the server.
// It returns false if the server node does not exist anymore, the server must be registered again.
func (r *Registry) Refresh(ctx context.Context, s *model.Server) (bool, error) {
	path := r.scheme.Server(s.TaskType, s.UUID)
	if _, found, err := r.store.Exists(ctx, path); err != nil {
		return false, scheduleerr.WrapStore("check server", err)
	} else if !found {
		s.Registered = false
		r.logger.Warnf(ctx, `server "%s" has been removed, it must be registered again`, s.UUID)
		return false, nil
	}

	oldVersion, oldHeartBeat := s.Version, s.HeartBeatTime
	s.Version++
	s.HeartBeatTime = r.clock.Now()
	if err := r.write(ctx, path, *s); err != nil {
		s.Version, s.HeartBeatTime = oldVersion, oldHeartBeat
		return false, err
	}

	return true, nil
}

// Unregister removes the server node, a missing node is not an error.
func (r *Registry) Unregister(ctx context.Context, taskType, uuid string) error {
	err := r.store.Delete(ctx, r.scheme.Server(taskType, uuid), coordstore.AnyVersion)
	if err != nil && !coordstore.IsNoNode(err) {
		return scheduleerr.WrapStore("delete server", err)
	}
	r.logger.Infof(ctx, `unregistered server "%s"`, uuid)
	return nil
}

// ListNames returns names of the servers sorted by the text suffix.
func (r *Registry) ListNames(ctx context.Context, taskType string) ([]string, error) {
	names, err := r.store.Children(ctx, r.scheme.Servers(taskType))
	if coordstore.IsNoNode(err) {
		return nil, nil
	} else if err != nil {
		return nil, scheduleerr.WrapStore("list servers", err)
	}
	order.SortServerNames(names)
	return names, nil
}

// ListAllValid returns servers which can be loaded, in the ListNames order.
// Each server has the CenterServerTime set to the synchronized time.
func (r *Registry) ListAllValid(ctx context.Context, taskType string) ([]model.Server, error) {
	names, err := r.ListNames(ctx, taskType)
	if err != nil {
		return nil, err
	}

	out := make([]model.Server, 0, len(names))
	for _, name := range names {
		s, ok := r.load(ctx, taskType, name)
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// FindByManagerFactory returns servers of the manager factory from all domains, sorted by the task type and the suffix.
func (r *Registry) FindByManagerFactory(ctx context.Context, factoryUUID string) ([]model.Server, error) {
	var out []model.Server
	err := r.forEachDomain(ctx, "", func(base, taskType string) error {
		servers, err := r.ListAllValid(ctx, taskType)
		if err != nil {
			return err
		}
		for _, s := range servers {
			if s.ManagerFactoryUUID == factoryUUID {
				out = append(out, s)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(out, func(a, b model.Server) int {
		if result := strings.Compare(a.TaskType, b.TaskType); result != 0 {
			return result
		}
		return order.ServerNames(a.UUID, b.UUID)
	})
	return out, nil
}

// Select returns servers matching the query.
func (r *Registry) Select(ctx context.Context, q Query) ([]model.Server, error) {
	var out []model.Server
	err := r.forEachDomain(ctx, q.BaseTaskType, func(base, taskType string) error {
		if q.OwnSign != "" && taskType != key.TaskTypeName(base, q.OwnSign) {
			return nil
		}
		servers, err := r.ListAllValid(ctx, taskType)
		if err != nil {
			return err
		}
		for _, s := range servers {
			if q.IP == "" || q.IP == s.IP {
				out = append(out, s)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(out, order.ServerFields(q.OrderBy))
	return out, nil
}

// SelectHistory is not supported, servers history is not stored.
func (r *Registry) SelectHistory(_ context.Context, _ Query) ([]model.Server, error) {
	return nil, scheduleerr.NewNotImplementedError("select server history")
}

// Stats returns metadata of the server nodes, by the server name.
func (r *Registry) Stats(ctx context.Context, taskType string) (map[string]coordstore.Stat, error) {
	names, err := r.ListNames(ctx, taskType)
	if err != nil {
		return nil, err
	}

	out := make(map[string]coordstore.Stat, len(names))
	for _, name := range names {
		stat, found, err := r.store.Exists(ctx, r.scheme.Server(taskType, name))
		if err != nil {
			return nil, scheduleerr.WrapStore("check server", err)
		} else if found {
			out[name] = stat
		}
	}
	return out, nil
}

// SweepExpired removes servers without a heartbeat for the expire period.
// The sweep may run concurrently on more servers, so a failure is counted as a removal too.
func (r *Registry) SweepExpired(ctx context.Context, taskType string, expire time.Duration) (int, error) {
	containerPath := r.scheme.Servers(taskType)
	if err := coordstore.EnsurePath(ctx, r.store, containerPath); err != nil {
		return 0, scheduleerr.WrapStore("create servers container", err)
	}

	names, err := r.store.Children(ctx, containerPath)
	if err != nil {
		return 0, scheduleerr.WrapStore("list servers", err)
	}

	count := 0
	now := r.clock.Now()
	for _, name := range names {
		path := r.scheme.Server(taskType, name)
		stat, found, err := r.store.Exists(ctx, path)
		if err != nil || !found {
			r.logger.Debugf(ctx, `server "%s" removed concurrently: %v`, name, err)
			count++
			continue
		}

		if now.Sub(stat.Mtime) <= expire {
			continue
		}

		if err := r.store.DeleteTree(ctx, path); err != nil {
			r.logger.Debugf(ctx, `cannot delete expired server "%s": %s`, name, err)
		} else {
			r.logger.Infof(ctx, `deleted expired server "%s"`, name)
		}
		count++
	}
	return count, nil
}

// Leader returns the name with the lowest sequence number, or an empty string.
// Names without a numeric suffix are ignored.
func Leader(names []string) string {
	leader := ""
	var minSeq int64
	for _, name := range names {
		seq, ok := order.ServerSequence(name)
		if !ok {
			continue
		}
		if leader == "" || seq < minSeq {
			leader, minSeq = name, seq
		}
	}
	return leader
}

func IsLeader(uuid string, names []string) bool {
	leader := Leader(names)
	return leader != "" && leader == uuid
}

func (r *Registry) load(ctx context.Context, taskType, name string) (model.Server, bool) {
	data, _, err := r.store.Get(ctx, r.scheme.Server(taskType, name))
	if err != nil {
		r.logger.Debugf(ctx, `cannot load server "%s": %s`, name, err)
		return model.Server{}, false
	}
	if len(data) == 0 {
		r.logger.Debugf(ctx, `server "%s" has no data`, name)
		return model.Server{}, false
	}

	s, err := model.DecodeServer(data)
	if err != nil {
		r.logger.Debugf(ctx, `cannot decode server "%s": %s`, name, err)
		return model.Server{}, false
	}

	s.CenterServerTime = r.clock.Now()
	return s, true
}

func (r *Registry) write(ctx context.Context, path string, s model.Server) error {
	data, err := model.EncodeServer(s)
	if err != nil {
		return err
	}
	_, err = r.store.Set(ctx, path, data, coordstore.AnyVersion)
	return scheduleerr.WrapStore("write server", err)
}

// forEachDomain calls fn for each domain of the base task type, or of all base task types if the base is empty.
func (r *Registry) forEachDomain(ctx context.Context, baseTaskType string, fn func(base, taskType string) error) error {
	var bases []string
	if baseTaskType == "" {
		names, err := r.store.Children(ctx, r.scheme.BaseTaskTypes())
		if coordstore.IsNoNode(err) {
			return nil
		} else if err != nil {
			return scheduleerr.WrapStore("list task types", err)
		}
		bases = names
	} else {
		bases = []string{baseTaskType}
	}
	sort.Strings(bases)

	for _, base := range bases {
		taskTypes, err := r.store.Children(ctx, r.scheme.BaseTaskType(base))
		if coordstore.IsNoNode(err) {
			continue
		} else if err != nil {
			return scheduleerr.WrapStore("list domains", err)
		}
		sort.Strings(taskTypes)
		for _, taskType := range taskTypes {
			if err := fn(base, taskType); err != nil {
				return err
			}
		}
	}
	return nil
}
