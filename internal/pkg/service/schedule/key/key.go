// Package key maps schedule identifiers to paths in the coordination store.
//
// Layout under the root:
//
//	<root>/baseTaskType/<base>                                    - task type definition
//	<root>/baseTaskType/<base>/<taskType>                         - domain container
//	<root>/baseTaskType/<base>/<taskType>/taskItem                - item container, payload = leader uuid after static init
//	<root>/baseTaskType/<base>/<taskType>/taskItem/<id>/<field>   - item fields
//	<root>/baseTaskType/<base>/<taskType>/server                  - server container, its version is the reload flag
//	<root>/baseTaskType/<base>/<taskType>/server/<name>           - server registration
//	<root>/time                                                   - clock calibration marker
package key

import (
	"strings"

	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/scheduleerr"
)

const (
	// OwnSignBase is the own sign of the default domain, its task type is equal to the base task type.
	OwnSignBase = "BASE"
	// Separator separates parts of a task type and a server name.
	Separator = "$"
)

const (
	baseTaskTypesDir = "baseTaskType"
	taskItemsDir     = "taskItem"
	serversDir       = "server"
	timeMarker       = "time"
)

// Task item fields, each field is a separate node.
const (
	FieldCurrentServer = "cur_server"
	FieldRequestServer = "req_server"
	FieldStatus        = "sts"
	FieldParameter     = "parameter"
	FieldDescription   = "deal_desc"
)

// ValidateBaseTaskType returns InvalidNameError if the name contains the separator.
func ValidateBaseTaskType(base string) error {
	if strings.Contains(base, Separator) {
		return scheduleerr.NewInvalidNameError(base)
	}
	return nil
}

// TaskTypeName composes the domain name.
func TaskTypeName(base, ownSign string) string {
	if ownSign == OwnSignBase {
		return base
	}
	return base + Separator + ownSign
}

// SplitBaseTaskType returns text before the first separator.
func SplitBaseTaskType(taskType string) string {
	base, _, _ := strings.Cut(taskType, Separator)
	return base
}

// SplitOwnSign returns text after the first separator, or OwnSignBase.
func SplitOwnSign(taskType string) string {
	if _, ownSign, found := strings.Cut(taskType, Separator); found {
		return ownSign
	}
	return OwnSignBase
}

// ServerNameSuffix returns text after the last separator, it is the sequence number assigned by the store.
func ServerNameSuffix(name string) string {
	return name[strings.LastIndex(name, Separator)+1:]
}

type Scheme struct {
	root string
}

// NewScheme normalizes the root, it is always absolute and without the trailing slash.
func NewScheme(root string) Scheme {
	root = strings.Trim(strings.TrimSpace(root), coordstore.Separator)
	if root == "" {
		return Scheme{}
	}
	return Scheme{root: coordstore.Separator + root}
}

func (s Scheme) Root() string {
	if s.root == "" {
		return coordstore.Separator
	}
	return s.root
}

func (s Scheme) BaseTaskTypes() string {
	return coordstore.Join(s.root, baseTaskTypesDir)
}

func (s Scheme) BaseTaskType(base string) string {
	return coordstore.Join(s.BaseTaskTypes(), base)
}

func (s Scheme) Domain(base, taskType string) string {
	return coordstore.Join(s.BaseTaskType(base), taskType)
}

func (s Scheme) DomainOf(taskType string) string {
	return s.Domain(SplitBaseTaskType(taskType), taskType)
}

func (s Scheme) TaskItems(taskType string) string {
	return coordstore.Join(s.DomainOf(taskType), taskItemsDir)
}

func (s Scheme) TaskItem(taskType, id string) string {
	return coordstore.Join(s.TaskItems(taskType), id)
}

func (s Scheme) TaskItemField(taskType, id, field string) string {
	return coordstore.Join(s.TaskItem(taskType, id), field)
}

func (s Scheme) Servers(taskType string) string {
	return coordstore.Join(s.DomainOf(taskType), serversDir)
}

func (s Scheme) Server(taskType, name string) string {
	return coordstore.Join(s.Servers(taskType), name)
}

// ServerNamePrefix returns path of a new server node, the store appends the sequence number.
func (s Scheme) ServerNamePrefix(taskType, ip, randomID string) string {
	return s.Server(taskType, taskType+Separator+ip+Separator+randomID+Separator)
}

func (s Scheme) TimeMarker() string {
	return coordstore.Join(s.root, timeMarker)
}
