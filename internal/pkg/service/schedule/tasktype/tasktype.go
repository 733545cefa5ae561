// Package tasktype provides the catalog of base task type definitions.
package tasktype

import (
	"context"
	"sort"

	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/key"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/model"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/scheduleerr"
)

type Repository struct {
	store  coordstore.Store
	scheme key.Scheme
}

func NewRepository(store coordstore.Store, scheme key.Scheme) *Repository {
	return &Repository{store: store, scheme: scheme}
}

// Create stores a new definition. The definition must not exist.
func (r *Repository) Create(ctx context.Context, def model.TaskType) error {
	if err := key.ValidateBaseTaskType(def.BaseTaskType); err != nil {
		return err
	}

	path := r.scheme.BaseTaskType(def.BaseTaskType)
	if _, found, err := r.store.Exists(ctx, path); err != nil {
		return scheduleerr.WrapStore("check task type", err)
	} else if found {
		return scheduleerr.NewDuplicateDefinitionError(def.BaseTaskType)
	}

	return r.create(ctx, path, def)
}

// Update stores the definition, it is created if it does not exist.
func (r *Repository) Update(ctx context.Context, def model.TaskType) error {
	if err := key.ValidateBaseTaskType(def.BaseTaskType); err != nil {
		return err
	}

	path := r.scheme.BaseTaskType(def.BaseTaskType)
	if _, found, err := r.store.Exists(ctx, path); err != nil {
		return scheduleerr.WrapStore("check task type", err)
	} else if !found {
		return r.create(ctx, path, def)
	}

	data, err := model.EncodeTaskType(def)
	if err != nil {
		return err
	}

	_, err = r.store.Set(ctx, path, data, coordstore.AnyVersion)
	return scheduleerr.WrapStore("update task type", err)
}

// Load returns nil, if the definition does not exist.
func (r *Repository) Load(ctx context.Context, baseTaskType string) (*model.TaskType, error) {
	data, _, err := r.store.Get(ctx, r.scheme.BaseTaskType(baseTaskType))
	if coordstore.IsNoNode(err) {
		return nil, nil
	} else if err != nil {
		return nil, scheduleerr.WrapStore("load task type", err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	def, err := model.DecodeTaskType(data)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadAll returns all definitions sorted by name.
func (r *Repository) LoadAll(ctx context.Context) ([]model.TaskType, error) {
	names, err := r.store.Children(ctx, r.scheme.BaseTaskTypes())
	if coordstore.IsNoNode(err) {
		return nil, nil
	} else if err != nil {
		return nil, scheduleerr.WrapStore("list task types", err)
	}

	sort.Strings(names)
	out := make([]model.TaskType, 0, len(names))
	for _, name := range names {
		def, err := r.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		if def != nil {
			out = append(out, *def)
		}
	}
	return out, nil
}

// Delete removes the definition and all its domains.
func (r *Repository) Delete(ctx context.Context, baseTaskType string) error {
	return scheduleerr.WrapStore("delete task type", r.store.DeleteTree(ctx, r.scheme.BaseTaskType(baseTaskType)))
}

func (r *Repository) Pause(ctx context.Context, baseTaskType string) error {
	return r.setStatus(ctx, baseTaskType, model.TaskTypePause)
}

func (r *Repository) Resume(ctx context.Context, baseTaskType string) error {
	return r.setStatus(ctx, baseTaskType, model.TaskTypeResume)
}

// Clear removes all domains of the base task type, the definition is kept.
func (r *Repository) Clear(ctx context.Context, baseTaskType string) error {
	names, err := r.store.Children(ctx, r.scheme.BaseTaskType(baseTaskType))
	if coordstore.IsNoNode(err) {
		return scheduleerr.NewNotFoundError("task type", baseTaskType)
	} else if err != nil {
		return scheduleerr.WrapStore("list domains", err)
	}

	for _, name := range names {
		if err := r.store.DeleteTree(ctx, r.scheme.Domain(baseTaskType, name)); err != nil {
			return scheduleerr.WrapStore("clear domain", err)
		}
	}
	return nil
}

// ListDomains returns running domains of the base task type, sorted by the task type name.
func (r *Repository) ListDomains(ctx context.Context, baseTaskType string) ([]model.DomainInfo, error) {
	names, err := r.store.Children(ctx, r.scheme.BaseTaskType(baseTaskType))
	if coordstore.IsNoNode(err) {
		return nil, nil
	} else if err != nil {
		return nil, scheduleerr.WrapStore("list domains", err)
	}

	sort.Strings(names)
	out := make([]model.DomainInfo, 0, len(names))
	for _, taskType := range names {
		out = append(out, model.DomainInfo{
			BaseTaskType: baseTaskType,
			TaskType:     taskType,
			OwnSign:      key.SplitOwnSign(taskType),
		})
	}
	return out, nil
}

func (r *Repository) setStatus(ctx context.Context, baseTaskType string, status model.TaskTypeStatus) error {
	def, err := r.Load(ctx, baseTaskType)
	if err != nil {
		return err
	} else if def == nil {
		return scheduleerr.NewNotFoundError("task type", baseTaskType)
	}

	def.Status = status
	return r.Update(ctx, *def)
}

func (r *Repository) create(ctx context.Context, path string, def model.TaskType) error {
	data, err := model.EncodeTaskType(def)
	if err != nil {
		return err
	}

	if err := coordstore.EnsurePath(ctx, r.store, r.scheme.BaseTaskTypes()); err != nil {
		return scheduleerr.WrapStore("create task types container", err)
	}

	if _, err := r.store.Create(ctx, path, data, coordstore.Persistent); coordstore.IsNodeExists(err) {
		return scheduleerr.NewDuplicateDefinitionError(def.BaseTaskType)
	} else if err != nil {
		return scheduleerr.WrapStore("create task type", err)
	}
	return nil
}
