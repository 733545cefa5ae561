// Package assignment distributes task items of a domain between alive servers.
//
// Only the leader assigns items. Items are split to contiguous blocks in the assignment order,
// the first servers get one item more, if the items cannot be split evenly.
// An item owned by another server is not taken immediately, the target server is only requested,
// and the current owner hands the item over in taskitem.Registry.Release.
package assignment

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/server"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/taskitem"
)

// NoServer is the owner of items which could not be assigned to a server.
const NoServer = "no server assigned"

type Engine struct {
	logger log.Logger
	items  *taskitem.Registry
}

type Result struct {
	// Skipped is true if the caller is not the leader or there is no server.
	Skipped bool
	// Unchanged items are already owned by the target server.
	Unchanged int
	// Assigned items had no owner, the target server has been set directly.
	Assigned int
	// Requested items are owned by another server, the handover has been requested.
	Requested int
	// ReloadVersion is the new reload flag, if any item has been changed.
	ReloadVersion int64
}

func (r Result) Changed() bool {
	return r.Assigned+r.Requested > 0
}

func NewEngine(logger log.Logger, items *taskitem.Registry) *Engine {
	return &Engine{logger: logger.WithComponent("assignment"), items: items}
}

// Partition returns number of items for each server.
func Partition(servers, items int) []int {
	if servers <= 0 {
		return nil
	}
	out := make([]int, servers)
	base, remainder := items/servers, items%servers
	for i := range out {
		out[i] = base
		if i < remainder {
			out[i]++
		}
	}
	return out
}

// Assign distributes items of the domain between the servers, in the order of the servers list.
// Nothing is done if the self UUID is not the leader of the servers.
func (e *Engine) Assign(ctx context.Context, taskType, selfUUID string, servers []string) (Result, error) {
	if !server.IsLeader(selfUUID, servers) {
		return Result{Skipped: true}, nil
	}
	if len(servers) == 0 {
		return Result{Skipped: true}, nil
	}

	items, err := e.items.ListAll(ctx, taskType)
	if err != nil {
		return Result{}, err
	}

	capacity := Partition(len(servers), len(items))
	result := Result{}
	serverIndex, assignedToServer := 0, 0
	for _, item := range items {
		// Skip servers with exhausted capacity
		for serverIndex < len(servers) && assignedToServer >= capacity[serverIndex] {
			serverIndex++
			assignedToServer = 0
		}

		target := NoServer
		if serverIndex < len(servers) {
			target = servers[serverIndex]
			assignedToServer++
		}

		switch {
		case item.CurrentServer == "" || item.CurrentServer == NoServer:
			if err := e.items.SetCurrent(ctx, taskType, item.TaskItemID, target); err != nil {
				return result, err
			}
			result.Assigned++
		case item.CurrentServer == target && item.RequestServer == "":
			result.Unchanged++
		default:
			if err := e.items.SetRequested(ctx, taskType, item.TaskItemID, target); err != nil {
				return result, err
			}
			result.Requested++
		}
	}

	if result.Changed() {
		if result.ReloadVersion, err = e.items.UpdateReloadFlag(ctx, taskType); err != nil {
			return result, err
		}
		e.logger.
			With(
				attribute.Int("assigned", result.Assigned),
				attribute.Int("requested", result.Requested),
				attribute.Int("unchanged", result.Unchanged),
			).
			Infof(ctx, `assigned task items of "%s" to "%d" servers`, taskType, len(servers))
	}

	return result, nil
}
