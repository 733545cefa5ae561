// Package coordstore defines a hierarchical coordination store.
//
// The store is a tree of nodes addressed by slash separated absolute paths, for example "/schedule/baseTaskType/demo".
// Each node carries a payload, a version incremented on each write, and creation/modification timestamps.
// Ephemeral nodes are removed when the session of the client which created them ends.
// Sequential nodes get a unique increasing suffix, see SequenceFormat.
//
// Implementations: memstore (in-process), etcdstore (etcd v3) and zkstore (ZooKeeper).
package coordstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

// AnyVersion disables the optimistic version check in Set and Delete.
const AnyVersion int64 = -1

// SequenceFormat formats the suffix of a sequential node.
const SequenceFormat = "%010d"

const Separator = "/"

var (
	ErrNoNode     = errors.New("node does not exist")
	ErrNodeExists = errors.New("node already exists")
	ErrBadVersion = errors.New("node version does not match")
	ErrNotEmpty   = errors.New("node has children")
	ErrNoSession  = errors.New("store session is not available")
)

func IsNoNode(err error) bool {
	return errors.Is(err, ErrNoNode)
}

func IsNodeExists(err error) bool {
	return errors.Is(err, ErrNodeExists)
}

type CreateMode int

const (
	Persistent CreateMode = iota
	Ephemeral
	PersistentSequential
	EphemeralSequential
)

func (m CreateMode) IsEphemeral() bool {
	return m == Ephemeral || m == EphemeralSequential
}

func (m CreateMode) IsSequential() bool {
	return m == PersistentSequential || m == EphemeralSequential
}

func (m CreateMode) String() string {
	switch m {
	case Persistent:
		return "persistent"
	case Ephemeral:
		return "ephemeral"
	case PersistentSequential:
		return "persistent_sequential"
	case EphemeralSequential:
		return "ephemeral_sequential"
	default:
		return fmt.Sprintf("CreateMode(%d)", int(m))
	}
}

// Stat contains metadata of a node.
type Stat struct {
	// Version is 0 after the node creation and it is incremented by each Set.
	Version   int64
	Ctime     time.Time
	Mtime     time.Time
	Ephemeral bool
}

// Store is the client interface of a coordination store.
//
// An empty payload is equal to a nil payload, readers cannot distinguish them.
type Store interface {
	// Create creates the node, the parent must exist. It returns the path of the created node,
	// it differs from the requested path for sequential nodes.
	Create(ctx context.Context, path string, data []byte, mode CreateMode) (string, error)
	// Get returns payload and metadata of the node, or ErrNoNode.
	Get(ctx context.Context, path string) ([]byte, Stat, error)
	// Set overwrites the payload, the version must match, if it is not AnyVersion.
	Set(ctx context.Context, path string, data []byte, version int64) (Stat, error)
	// Exists returns false, if the node does not exist.
	Exists(ctx context.Context, path string) (Stat, bool, error)
	// Children returns names of the direct children, in no particular order.
	Children(ctx context.Context, path string) ([]string, error)
	// Delete deletes a node without children.
	Delete(ctx context.Context, path string, version int64) error
	// DeleteTree deletes the node and all its descendants. A missing node is not an error.
	DeleteTree(ctx context.Context, path string) error
}

// EnsurePath creates all missing persistent nodes on the path, including the last one.
func EnsurePath(ctx context.Context, store Store, path string) error {
	current := ""
	for _, part := range strings.Split(strings.Trim(path, Separator), Separator) {
		if part == "" {
			continue
		}
		current += Separator + part
		if _, found, err := store.Exists(ctx, current); err != nil {
			return err
		} else if found {
			continue
		}
		if _, err := store.Create(ctx, current, nil, Persistent); err != nil && !errors.Is(err, ErrNodeExists) {
			return err
		}
	}
	return nil
}

// Join joins path segments with the separator.
func Join(base string, parts ...string) string {
	out := strings.TrimRight(base, Separator)
	for _, part := range parts {
		out += Separator + part
	}
	return out
}

// Parent returns the parent path, the parent of a top-level node is the root "/".
func Parent(path string) string {
	path = strings.TrimRight(path, Separator)
	i := strings.LastIndex(path, Separator)
	if i <= 0 {
		return Separator
	}
	return path[:i]
}

// Base returns the last segment of the path.
func Base(path string) string {
	path = strings.TrimRight(path, Separator)
	return path[strings.LastIndex(path, Separator)+1:]
}

// ValidatePath checks that the path is absolute and without empty segments.
func ValidatePath(path string) error {
	if path == Separator {
		return nil
	}
	if !strings.HasPrefix(path, Separator) {
		return errors.Errorf(`path "%s" must start with "%s"`, path, Separator)
	}
	if strings.HasSuffix(path, Separator) || strings.Contains(path, Separator+Separator) {
		return errors.Errorf(`path "%s" contains an empty segment`, path)
	}
	return nil
}
