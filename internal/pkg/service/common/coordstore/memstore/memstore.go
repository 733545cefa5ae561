// Package memstore implements the coordstore.Store in memory.
//
// The Tree is shared by multiple clients, each Client represents one session.
// Ephemeral nodes of a client are removed by Client.Expire or Client.Close,
// it simulates a crash of a worker process.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

type Tree struct {
	clock       clockwork.Clock
	lock        sync.RWMutex
	root        *node
	lastSession int64
}

type Client struct {
	tree    *Tree
	lock    sync.Mutex
	session int64
	closed  bool
}

type node struct {
	data     []byte
	version  int64
	ctime    time.Time
	mtime    time.Time
	owner    int64 // session of an ephemeral node, 0 for a persistent node
	seq      int64 // next sequence number for sequential children
	children map[string]*node
}

func NewTree(clock clockwork.Clock) *Tree {
	now := clock.Now()
	return &Tree{clock: clock, root: &node{ctime: now, mtime: now, children: make(map[string]*node)}}
}

// New creates a new tree with one client, shortcut for tests.
func New(clock clockwork.Clock) *Client {
	return NewTree(clock).NewClient()
}

// NewClient creates a client with a new session.
func (t *Tree) NewClient() *Client {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.lastSession++
	return &Client{tree: t, session: t.lastSession}
}

// Tree returns the tree shared by the client.
func (c *Client) Tree() *Tree {
	return c.tree
}

// Expire removes all ephemeral nodes of the current session and starts a new session.
func (c *Client) Expire() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.tree.lock.Lock()
	defer c.tree.lock.Unlock()

	c.tree.removeSession(c.tree.root, c.session)
	c.tree.lastSession++
	c.session = c.tree.lastSession
}

// Close removes all ephemeral nodes of the session, the client cannot be used anymore.
func (c *Client) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.tree.lock.Lock()
	defer c.tree.lock.Unlock()

	c.tree.removeSession(c.tree.root, c.session)
	c.closed = true
	return nil
}

func (c *Client) Create(ctx context.Context, path string, data []byte, mode coordstore.CreateMode) (string, error) {
	session, err := c.check(ctx, path)
	if err != nil {
		return "", err
	}

	t := c.tree
	t.lock.Lock()
	defer t.lock.Unlock()

	if path == coordstore.Separator {
		return "", errors.Errorf(`cannot create "%s": %w`, path, coordstore.ErrNodeExists)
	}

	parent := t.find(coordstore.Parent(path))
	if parent == nil {
		return "", errors.Errorf(`cannot create "%s", parent: %w`, path, coordstore.ErrNoNode)
	}

	name := coordstore.Base(path)
	if mode.IsSequential() {
		suffix := fmt.Sprintf(coordstore.SequenceFormat, parent.seq)
		parent.seq++
		name += suffix
		path += suffix
	}

	if _, found := parent.children[name]; found {
		return "", errors.Errorf(`cannot create "%s": %w`, path, coordstore.ErrNodeExists)
	}

	now := t.clock.Now()
	n := &node{data: cloneData(data), ctime: now, mtime: now, children: make(map[string]*node)}
	if mode.IsEphemeral() {
		n.owner = session
	}
	parent.children[name] = n
	return path, nil
}

func (c *Client) Get(ctx context.Context, path string) ([]byte, coordstore.Stat, error) {
	if _, err := c.check(ctx, path); err != nil {
		return nil, coordstore.Stat{}, err
	}

	t := c.tree
	t.lock.RLock()
	defer t.lock.RUnlock()

	n := t.find(path)
	if n == nil {
		return nil, coordstore.Stat{}, errors.Errorf(`cannot get "%s": %w`, path, coordstore.ErrNoNode)
	}
	return cloneData(n.data), n.stat(), nil
}

func (c *Client) Set(ctx context.Context, path string, data []byte, version int64) (coordstore.Stat, error) {
	if _, err := c.check(ctx, path); err != nil {
		return coordstore.Stat{}, err
	}

	t := c.tree
	t.lock.Lock()
	defer t.lock.Unlock()

	n := t.find(path)
	if n == nil {
		return coordstore.Stat{}, errors.Errorf(`cannot set "%s": %w`, path, coordstore.ErrNoNode)
	}
	if version != coordstore.AnyVersion && version != n.version {
		return coordstore.Stat{}, errors.Errorf(`cannot set "%s": expected version %d, found %d: %w`, path, version, n.version, coordstore.ErrBadVersion)
	}

	n.data = cloneData(data)
	n.version++
	n.mtime = t.clock.Now()
	return n.stat(), nil
}

func (c *Client) Exists(ctx context.Context, path string) (coordstore.Stat, bool, error) {
	if _, err := c.check(ctx, path); err != nil {
		return coordstore.Stat{}, false, err
	}

	t := c.tree
	t.lock.RLock()
	defer t.lock.RUnlock()

	if n := t.find(path); n != nil {
		return n.stat(), true, nil
	}
	return coordstore.Stat{}, false, nil
}

func (c *Client) Children(ctx context.Context, path string) ([]string, error) {
	if _, err := c.check(ctx, path); err != nil {
		return nil, err
	}

	t := c.tree
	t.lock.RLock()
	defer t.lock.RUnlock()

	n := t.find(path)
	if n == nil {
		return nil, errors.Errorf(`cannot list children of "%s": %w`, path, coordstore.ErrNoNode)
	}

	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Client) Delete(ctx context.Context, path string, version int64) error {
	if _, err := c.check(ctx, path); err != nil {
		return err
	}

	t := c.tree
	t.lock.Lock()
	defer t.lock.Unlock()

	parent := t.find(coordstore.Parent(path))
	var n *node
	if parent != nil && path != coordstore.Separator {
		n = parent.children[coordstore.Base(path)]
	}
	switch {
	case n == nil:
		return errors.Errorf(`cannot delete "%s": %w`, path, coordstore.ErrNoNode)
	case version != coordstore.AnyVersion && version != n.version:
		return errors.Errorf(`cannot delete "%s": expected version %d, found %d: %w`, path, version, n.version, coordstore.ErrBadVersion)
	case len(n.children) > 0:
		return errors.Errorf(`cannot delete "%s": %w`, path, coordstore.ErrNotEmpty)
	}

	delete(parent.children, coordstore.Base(path))
	return nil
}

func (c *Client) DeleteTree(ctx context.Context, path string) error {
	if _, err := c.check(ctx, path); err != nil {
		return err
	}

	t := c.tree
	t.lock.Lock()
	defer t.lock.Unlock()

	if path == coordstore.Separator {
		t.root.children = make(map[string]*node)
		return nil
	}

	if parent := t.find(coordstore.Parent(path)); parent != nil {
		delete(parent.children, coordstore.Base(path))
	}
	return nil
}

// Dump returns all paths in the tree with payloads, for tests.
func (t *Tree) Dump() string {
	t.lock.RLock()
	defer t.lock.RUnlock()

	var out strings.Builder
	var walk func(path string, n *node)
	walk = func(path string, n *node) {
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			child := n.children[name]
			childPath := coordstore.Join(path, name)
			out.WriteString(childPath)
			if len(child.data) > 0 {
				out.WriteString(" = ")
				out.Write(child.data)
			}
			out.WriteString("\n")
			walk(childPath, child)
		}
	}
	walk("", t.root)
	return out.String()
}

func (c *Client) check(ctx context.Context, path string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := coordstore.ValidatePath(path); err != nil {
		return 0, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return 0, coordstore.ErrNoSession
	}
	return c.session, nil
}

func (t *Tree) find(path string) *node {
	n := t.root
	for _, part := range strings.Split(strings.Trim(path, coordstore.Separator), coordstore.Separator) {
		if part == "" {
			continue
		}
		if n = n.children[part]; n == nil {
			return nil
		}
	}
	return n
}

func (t *Tree) removeSession(n *node, session int64) {
	for name, child := range n.children {
		if child.owner == session {
			delete(n.children, name)
			continue
		}
		t.removeSession(child, session)
	}
}

func (n *node) stat() coordstore.Stat {
	return coordstore.Stat{
		Version:   n.version,
		Ctime:     n.ctime,
		Mtime:     n.mtime,
		Ephemeral: n.owner != 0,
	}
}

func cloneData(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	return append([]byte(nil), data...)
}
