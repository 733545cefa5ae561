// Package order contains comparators of task items and servers.
// Comparators return a negative number, zero or a positive number, as expected by slices.SortFunc.
package order

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/key"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/model"
)

// DefaultServerOrder is used when no order is specified.
const DefaultServerOrder = "TASK_TYPE,OWN_SIGN,REGISTER_TIME,HEARTBEAT_TIME,IP"

const (
	FieldTaskType       = "TASK_TYPE"
	FieldOwnSign        = "OWN_SIGN"
	FieldRegisterTime   = "REGISTER_TIME"
	FieldHeartBeatTime  = "HEARTBEAT_TIME"
	FieldIP             = "IP"
	FieldManagerFactory = "MANAGER_FACTORY"
)

// TaskItemIDs compares ids numerically if both are numbers, otherwise as plain text.
func TaskItemIDs(a, b string) int {
	if isNumeric(a) && isNumeric(b) {
		// Numbers out of the int64 range are compared as text
		ia, errA := strconv.ParseInt(a, 10, 64)
		ib, errB := strconv.ParseInt(b, 10, 64)
		if errA == nil && errB == nil {
			return cmp.Compare(ia, ib)
		}
	}
	return strings.Compare(a, b)
}

func SortTaskItemIDs(ids []string) {
	slices.SortFunc(ids, TaskItemIDs)
}

// ServerNames compares server names by the text after the last separator.
func ServerNames(a, b string) int {
	return strings.Compare(key.ServerNameSuffix(a), key.ServerNameSuffix(b))
}

func SortServerNames(names []string) {
	slices.SortStableFunc(names, ServerNames)
}

// ServerSequence parses the sequence number from the server name.
func ServerSequence(name string) (int64, bool) {
	seq, err := strconv.ParseInt(key.ServerNameSuffix(name), 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// ServerFields returns comparator of servers by the comma separated list of fields.
// Unknown fields are ignored. An empty string means DefaultServerOrder.
func ServerFields(orderStr string) func(a, b model.Server) int {
	if strings.TrimSpace(orderStr) == "" {
		orderStr = DefaultServerOrder
	}

	var fields []func(a, b model.Server) int
	for _, name := range strings.Split(strings.ToUpper(orderStr), ",") {
		switch strings.TrimSpace(name) {
		case FieldTaskType:
			fields = append(fields, func(a, b model.Server) int { return strings.Compare(a.TaskType, b.TaskType) })
		case FieldOwnSign:
			fields = append(fields, func(a, b model.Server) int { return strings.Compare(a.OwnSign, b.OwnSign) })
		case FieldRegisterTime:
			fields = append(fields, func(a, b model.Server) int { return compareTime(a.RegisterTime, b.RegisterTime) })
		case FieldHeartBeatTime:
			fields = append(fields, func(a, b model.Server) int { return compareTime(a.HeartBeatTime, b.HeartBeatTime) })
		case FieldIP:
			fields = append(fields, func(a, b model.Server) int { return strings.Compare(a.IP, b.IP) })
		case FieldManagerFactory:
			fields = append(fields, func(a, b model.Server) int { return strings.Compare(a.ManagerFactoryUUID, b.ManagerFactoryUUID) })
		}
	}

	return func(a, b model.Server) int {
		for _, fn := range fields {
			if result := fn(a, b); result != 0 {
				return result
			}
		}
		return 0
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// compareTime orders the zero time first.
func compareTime(a, b time.Time) int {
	return a.Compare(b)
}
