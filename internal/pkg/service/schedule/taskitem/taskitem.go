// Package taskitem provides the registry of task items of a domain.
//
// Each item is a node with five field nodes: the current owner, the requested owner, status, parameter and description.
// Ownership is handed over in two phases: the leader writes the requested owner,
// then the current owner moves the requested owner to the current owner in Release.
package taskitem

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/clocksync"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/key"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/model"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/order"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/scheduleerr"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/server"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/tasktype"
)

// reloadFlagValue is written to the servers container to bump its version.
const reloadFlagValue = "reload=true"

var parameterStartRegexp = regexp.MustCompile(`\s*:\s*\{`) //nolint:gochecknoglobals

type Registry struct {
	logger    log.Logger
	store     coordstore.Store
	scheme    key.Scheme
	clock     *clocksync.Clock
	taskTypes *tasktype.Repository
	servers   *server.Registry
}

func NewRegistry(logger log.Logger, store coordstore.Store, scheme key.Scheme, clock *clocksync.Clock, taskTypes *tasktype.Repository, servers *server.Registry) *Registry {
	return &Registry{
		logger:    logger.WithComponent("taskitem.registry"),
		store:     store,
		scheme:    scheme,
		clock:     clock,
		taskTypes: taskTypes,
		servers:   servers,
	}
}

// ParseTemplate converts template entries of a base task type to items of the domain.
// An entry is "<id>" or "<id> : {<parameter>}", an entry in another form is used as the id as is.
func ParseTemplate(baseTaskType, ownSign string, entries []string) []model.TaskItem {
	taskType := key.TaskTypeName(baseTaskType, ownSign)
	out := make([]model.TaskItem, 0, len(entries))
	for _, entry := range entries {
		item := model.TaskItem{
			TaskType:     taskType,
			BaseTaskType: baseTaskType,
			OwnSign:      ownSign,
			TaskItemID:   entry,
			Status:       model.TaskItemActive,
		}
		withParam := strings.TrimRightFunc(entry, unicode.IsSpace)
		if loc := parameterStartRegexp.FindStringIndex(withParam); loc != nil && strings.HasSuffix(withParam, "}") {
			item.TaskItemID = strings.TrimSpace(withParam[:loc[0]])
			item.Parameter = strings.TrimSpace(withParam[loc[1] : len(withParam)-1])
		}
		out = append(out, item)
	}
	return out
}

// InitializeDynamic creates the domain container, if it does not exist.
// It should be called only by the leader.
func (r *Registry) InitializeDynamic(ctx context.Context, baseTaskType, ownSign string) error {
	path := r.scheme.Domain(baseTaskType, key.TaskTypeName(baseTaskType, ownSign))
	return scheduleerr.WrapStore("create domain", coordstore.EnsurePath(ctx, r.store, path))
}

// InitializeStatic re-creates all items of the domain from the template of the base task type.
// The leader UUID is written to the items container as a mark of the successful initialization.
// It should be called only by the leader.
func (r *Registry) InitializeStatic(ctx context.Context, baseTaskType, ownSign, leaderUUID string) error {
	def, err := r.taskTypes.Load(ctx, baseTaskType)
	if err != nil {
		return err
	} else if def == nil {
		return scheduleerr.NewNotFoundError("task type", baseTaskType)
	}

	taskType := key.TaskTypeName(baseTaskType, ownSign)
	containerPath := r.scheme.TaskItems(taskType)
	if err := r.store.DeleteTree(ctx, containerPath); err != nil {
		return scheduleerr.WrapStore("delete task items", err)
	}

	if err := r.CreateItems(ctx, ParseTemplate(baseTaskType, ownSign, def.TaskItems)); err != nil {
		return err
	}

	// Items container must exist, even if the template is empty
	if err := coordstore.EnsurePath(ctx, r.store, containerPath); err != nil {
		return scheduleerr.WrapStore("create task items container", err)
	}

	if _, err := r.store.Set(ctx, containerPath, []byte(leaderUUID), coordstore.AnyVersion); err != nil {
		return scheduleerr.WrapStore("mark task items initialized", err)
	}

	r.logger.Infof(ctx, `initialized "%d" task items of "%s"`, len(def.TaskItems), taskType)
	return nil
}

// IsInitializationSuccessful returns true, if the items have been initialized by the current leader.
func (r *Registry) IsInitializationSuccessful(ctx context.Context, baseTaskType, ownSign string) (bool, error) {
	taskType := key.TaskTypeName(baseTaskType, ownSign)
	names, err := r.servers.ListNames(ctx, taskType)
	if err != nil {
		return false, err
	}

	data, _, err := r.store.Get(ctx, r.scheme.TaskItems(taskType))
	if coordstore.IsNoNode(err) {
		return false, nil
	} else if err != nil {
		return false, scheduleerr.WrapStore("load task items container", err)
	}

	leader := server.Leader(names)
	return leader != "" && string(data) == leader, nil
}

// CreateItems creates all items which do not exist.
func (r *Registry) CreateItems(ctx context.Context, items []model.TaskItem) error {
	for _, item := range items {
		if err := coordstore.EnsurePath(ctx, r.store, r.scheme.TaskItems(item.TaskType)); err != nil {
			return scheduleerr.WrapStore("create task items container", err)
		}

		itemPath := r.scheme.TaskItem(item.TaskType, item.TaskItemID)
		if _, found, err := r.store.Exists(ctx, itemPath); err != nil {
			return scheduleerr.WrapStore("check task item", err)
		} else if found {
			continue
		}

		if _, err := r.store.Create(ctx, itemPath, nil, coordstore.Persistent); err != nil {
			return scheduleerr.WrapStore("create task item", err)
		}

		fields := []struct{ name, value string }{
			{key.FieldCurrentServer, item.CurrentServer},
			{key.FieldRequestServer, item.RequestServer},
			{key.FieldStatus, string(item.Status)},
			{key.FieldParameter, item.Parameter},
			{key.FieldDescription, item.Description},
		}
		for _, field := range fields {
			path := r.scheme.TaskItemField(item.TaskType, item.TaskItemID, field.name)
			if _, err := r.store.Create(ctx, path, []byte(field.value), coordstore.Persistent); err != nil {
				return scheduleerr.WrapStore("create task item field", err)
			}
		}
	}
	return nil
}

// UpdateStatus writes the status and the description of the item.
// A field is written only if its node is reported missing, so the write fails with the missing node error,
// and an existing field is kept unchanged.
func (r *Registry) UpdateStatus(ctx context.Context, taskType, id string, status model.TaskItemStatus, message string) error {
	fields := []struct{ name, value string }{
		{key.FieldStatus, string(status)},
		{key.FieldDescription, message},
	}
	for _, field := range fields {
		path := r.scheme.TaskItemField(taskType, id, field.name)
		if _, found, err := r.store.Exists(ctx, path); err != nil {
			return scheduleerr.WrapStore("check task item field", err)
		} else if found {
			continue
		}
		if _, err := r.store.Set(ctx, path, []byte(field.value), coordstore.AnyVersion); err != nil {
			return scheduleerr.WrapStore("update task item field", err)
		}
	}
	return nil
}

// Delete removes the item with all fields.
func (r *Registry) Delete(ctx context.Context, taskType, id string) error {
	return scheduleerr.WrapStore("delete task item", r.store.DeleteTree(ctx, r.scheme.TaskItem(taskType, id)))
}

// ListIDs returns ids of items in the assignment order.
func (r *Registry) ListIDs(ctx context.Context, taskType string) ([]string, error) {
	ids, err := r.store.Children(ctx, r.scheme.TaskItems(taskType))
	if coordstore.IsNoNode(err) {
		return nil, nil
	} else if err != nil {
		return nil, scheduleerr.WrapStore("list task items", err)
	}
	order.SortTaskItemIDs(ids)
	return ids, nil
}

// ListAll returns all items in the assignment order, missing fields are empty.
func (r *Registry) ListAll(ctx context.Context, taskType string) ([]model.TaskItem, error) {
	ids, err := r.ListIDs(ctx, taskType)
	if err != nil {
		return nil, err
	}

	out := make([]model.TaskItem, 0, len(ids))
	for _, id := range ids {
		item := model.TaskItem{
			TaskType:     taskType,
			BaseTaskType: key.SplitBaseTaskType(taskType),
			OwnSign:      key.SplitOwnSign(taskType),
			TaskItemID:   id,
		}

		var status string
		fields := []struct {
			name   string
			target *string
		}{
			{key.FieldCurrentServer, &item.CurrentServer},
			{key.FieldRequestServer, &item.RequestServer},
			{key.FieldStatus, &status},
			{key.FieldParameter, &item.Parameter},
			{key.FieldDescription, &item.Description},
		}
		for _, field := range fields {
			if *field.target, err = r.readField(ctx, taskType, id, field.name); err != nil {
				return nil, err
			}
		}
		item.Status = model.TaskItemStatus(status)

		out = append(out, item)
	}
	return out, nil
}

// ReloadOwned returns items owned by the server.
func (r *Registry) ReloadOwned(ctx context.Context, taskType, selfUUID string) ([]model.TaskItemDefine, error) {
	ids, err := r.requireIDs(ctx, taskType)
	if err != nil {
		return nil, err
	}

	var out []model.TaskItemDefine
	for _, id := range ids {
		current, err := r.readField(ctx, taskType, id, key.FieldCurrentServer)
		if err != nil {
			return nil, err
		}
		if current == "" || current != selfUUID {
			continue
		}

		parameter, err := r.readField(ctx, taskType, id, key.FieldParameter)
		if err != nil {
			return nil, err
		}
		out = append(out, model.TaskItemDefine{TaskItemID: id, Parameter: parameter})
	}

	r.logger.Debugf(ctx, `server "%s" owns "%d" task items of "%s"`, selfUUID, len(out), taskType)
	return out, nil
}

// Release hands over items owned by the server, which are requested by another server.
// The reload flag is bumped, if any item has been released.
func (r *Registry) Release(ctx context.Context, taskType, selfUUID string) (int, error) {
	ids, err := r.requireIDs(ctx, taskType)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, id := range ids {
		current, err := r.readField(ctx, taskType, id, key.FieldCurrentServer)
		if err != nil {
			return released, err
		}
		requested, err := r.readField(ctx, taskType, id, key.FieldRequestServer)
		if err != nil {
			return released, err
		}
		if requested == "" || current == "" || current != selfUUID {
			continue
		}

		if err := r.SetCurrent(ctx, taskType, id, requested); err != nil {
			return released, err
		}
		released++
	}

	if released > 0 {
		if _, err := r.UpdateReloadFlag(ctx, taskType); err != nil {
			return released, err
		}
		r.logger.Infof(ctx, `server "%s" released "%d" task items of "%s"`, selfUUID, released, taskType)
	}
	return released, nil
}

// Count returns number of items.
func (r *Registry) Count(ctx context.Context, taskType string) (int, error) {
	ids, err := r.requireIDs(ctx, taskType)
	return len(ids), err
}

// ReconcileOwnership clears the current owner of items owned by a server which is not alive.
// It returns number of cleared items plus number of items without an owner.
func (r *Registry) ReconcileOwnership(ctx context.Context, taskType string, alive []string) (int, error) {
	ids, err := r.requireIDs(ctx, taskType)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		current, err := r.readField(ctx, taskType, id, key.FieldCurrentServer)
		if err != nil {
			return count, err
		}

		if current == "" {
			count++
			continue
		}

		if slices.Contains(alive, current) {
			continue
		}

		path := r.scheme.TaskItemField(taskType, id, key.FieldCurrentServer)
		if _, err := r.store.Set(ctx, path, nil, coordstore.AnyVersion); err != nil {
			return count, scheduleerr.WrapStore("clear task item owner", err)
		}
		r.logger.Infof(ctx, `cleared owner "%s" of task item "%s/%s"`, current, taskType, id)
		count++
	}
	return count, nil
}

// SweepExpiredDomains removes domains of the base task type, which have not been initialized for the expire period.
func (r *Registry) SweepExpiredDomains(ctx context.Context, baseTaskType, selfUUID string, expireDays float64) (int, error) {
	taskTypes, err := r.store.Children(ctx, r.scheme.BaseTaskType(baseTaskType))
	if coordstore.IsNoNode(err) {
		return 0, nil
	} else if err != nil {
		return 0, scheduleerr.WrapStore("list domains", err)
	}

	expire := time.Duration(expireDays * float64(24*time.Hour))
	now := r.clock.Now()
	count := 0
	for _, taskType := range taskTypes {
		stat, found, err := r.store.Exists(ctx, r.scheme.TaskItems(taskType))
		if err != nil {
			return count, scheduleerr.WrapStore("check task items container", err)
		}

		if found && now.Sub(stat.Mtime) <= expire {
			continue
		}

		if err := r.store.DeleteTree(ctx, r.scheme.Domain(baseTaskType, taskType)); err != nil {
			return count, scheduleerr.WrapStore("delete expired domain", err)
		}
		r.logger.Infof(ctx, `server "%s" deleted expired domain "%s"`, selfUUID, taskType)
		count++
	}
	return count, nil
}

// ReloadFlag returns version of the servers container.
// Servers compare the value with the previous one, to find out that the items must be reloaded.
func (r *Registry) ReloadFlag(ctx context.Context, taskType string) (int64, error) {
	_, stat, err := r.store.Get(ctx, r.scheme.Servers(taskType))
	if coordstore.IsNoNode(err) {
		return 0, scheduleerr.NewNotFoundError("servers of task type", taskType)
	} else if err != nil {
		return 0, scheduleerr.WrapStore("load reload flag", err)
	}
	return stat.Version, nil
}

// UpdateReloadFlag bumps version of the servers container, all servers then reload their items.
func (r *Registry) UpdateReloadFlag(ctx context.Context, taskType string) (int64, error) {
	stat, err := r.store.Set(ctx, r.scheme.Servers(taskType), []byte(reloadFlagValue), coordstore.AnyVersion)
	if coordstore.IsNoNode(err) {
		return 0, scheduleerr.NewNotFoundError("servers of task type", taskType)
	} else if err != nil {
		return 0, scheduleerr.WrapStore("update reload flag", err)
	}
	return stat.Version, nil
}

// SetCurrent sets the current owner of the item and clears the requested owner.
func (r *Registry) SetCurrent(ctx context.Context, taskType, id, serverUUID string) error {
	if err := r.writeField(ctx, taskType, id, key.FieldCurrentServer, serverUUID); err != nil {
		return err
	}
	return r.writeField(ctx, taskType, id, key.FieldRequestServer, "")
}

// SetRequested sets the requested owner of the item, the current owner is kept until Release.
func (r *Registry) SetRequested(ctx context.Context, taskType, id, serverUUID string) error {
	return r.writeField(ctx, taskType, id, key.FieldRequestServer, serverUUID)
}

func (r *Registry) requireIDs(ctx context.Context, taskType string) ([]string, error) {
	ids, err := r.store.Children(ctx, r.scheme.TaskItems(taskType))
	if coordstore.IsNoNode(err) {
		return nil, scheduleerr.NewNotFoundError("task items of task type", taskType)
	} else if err != nil {
		return nil, scheduleerr.WrapStore("list task items", err)
	}
	order.SortTaskItemIDs(ids)
	return ids, nil
}

func (r *Registry) readField(ctx context.Context, taskType, id, field string) (string, error) {
	data, _, err := r.store.Get(ctx, r.scheme.TaskItemField(taskType, id, field))
	if coordstore.IsNoNode(err) {
		return "", nil
	} else if err != nil {
		return "", scheduleerr.WrapStore("load task item field", err)
	}
	return string(data), nil
}

func (r *Registry) writeField(ctx context.Context, taskType, id, field, value string) error {
	var data []byte
	if value != "" {
		data = []byte(value)
	}
	_, err := r.store.Set(ctx, r.scheme.TaskItemField(taskType, id, field), data, coordstore.AnyVersion)
	return scheduleerr.WrapStore("write task item field", err)
}
