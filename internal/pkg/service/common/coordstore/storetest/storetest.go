// Package storetest provides a test suite shared by all coordstore.Store implementations.
package storetest

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

// Run runs the suite against the store, all nodes are created under the root, it must not exist.
func Run(t *testing.T, store coordstore.Store, root string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, coordstore.EnsurePath(ctx, store, root))

	t.Run("CreateGetSet", func(t *testing.T) {
		path := coordstore.Join(root, "node")

		created, err := store.Create(ctx, path, []byte("foo"), coordstore.Persistent)
		require.NoError(t, err)
		assert.Equal(t, path, created)

		_, err = store.Create(ctx, path, []byte("foo"), coordstore.Persistent)
		assert.True(t, errors.Is(err, coordstore.ErrNodeExists), err)

		data, stat, err := store.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "foo", string(data))
		assert.Equal(t, int64(0), stat.Version)
		assert.False(t, stat.Ephemeral)
		assert.False(t, stat.Ctime.IsZero())

		stat, err = store.Set(ctx, path, []byte("bar"), coordstore.AnyVersion)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stat.Version)

		_, err = store.Set(ctx, path, []byte("baz"), 0)
		assert.True(t, errors.Is(err, coordstore.ErrBadVersion), err)

		stat, err = store.Set(ctx, path, nil, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stat.Version)

		data, _, err = store.Get(ctx, path)
		require.NoError(t, err)
		assert.Empty(t, data)

		_, err = store.Set(ctx, coordstore.Join(root, "missing"), nil, coordstore.AnyVersion)
		assert.True(t, errors.Is(err, coordstore.ErrNoNode), err)
	})

	t.Run("MissingParent", func(t *testing.T) {
		_, err := store.Create(ctx, coordstore.Join(root, "missing", "child"), nil, coordstore.Persistent)
		assert.True(t, errors.Is(err, coordstore.ErrNoNode), err)

		_, _, err = store.Get(ctx, coordstore.Join(root, "missing"))
		assert.True(t, errors.Is(err, coordstore.ErrNoNode), err)

		_, found, err := store.Exists(ctx, coordstore.Join(root, "missing"))
		require.NoError(t, err)
		assert.False(t, found)

		_, err = store.Children(ctx, coordstore.Join(root, "missing"))
		assert.True(t, errors.Is(err, coordstore.ErrNoNode), err)
	})

	t.Run("Sequential", func(t *testing.T) {
		parent := coordstore.Join(root, "seq")
		require.NoError(t, coordstore.EnsurePath(ctx, store, parent))

		first, err := store.Create(ctx, coordstore.Join(parent, "s$"), nil, coordstore.PersistentSequential)
		require.NoError(t, err)
		second, err := store.Create(ctx, coordstore.Join(parent, "s$"), nil, coordstore.EphemeralSequential)
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(coordstore.Base(first), "s$"))
		assert.Len(t, strings.TrimPrefix(coordstore.Base(first), "s$"), 10)
		assert.Less(t, first, second)

		stat, found, err := store.Exists(ctx, second)
		require.NoError(t, err)
		assert.True(t, found)
		assert.True(t, stat.Ephemeral)
	})

	t.Run("ChildrenAndDelete", func(t *testing.T) {
		parent := coordstore.Join(root, "tree")
		require.NoError(t, coordstore.EnsurePath(ctx, store, coordstore.Join(parent, "a", "deep")))
		require.NoError(t, coordstore.EnsurePath(ctx, store, coordstore.Join(parent, "b")))
		require.NoError(t, coordstore.EnsurePath(ctx, store, coordstore.Join(parent, "c")))

		children, err := store.Children(ctx, parent)
		require.NoError(t, err)
		sort.Strings(children)
		assert.Equal(t, []string{"a", "b", "c"}, children)

		err = store.Delete(ctx, coordstore.Join(parent, "a"), coordstore.AnyVersion)
		assert.True(t, errors.Is(err, coordstore.ErrNotEmpty), err)

		err = store.Delete(ctx, coordstore.Join(parent, "b"), 5)
		assert.True(t, errors.Is(err, coordstore.ErrBadVersion), err)

		require.NoError(t, store.Delete(ctx, coordstore.Join(parent, "b"), 0))
		err = store.Delete(ctx, coordstore.Join(parent, "b"), coordstore.AnyVersion)
		assert.True(t, errors.Is(err, coordstore.ErrNoNode), err)

		require.NoError(t, store.DeleteTree(ctx, coordstore.Join(parent, "a")))
		require.NoError(t, store.DeleteTree(ctx, coordstore.Join(parent, "a")))

		children, err = store.Children(ctx, parent)
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, children)

		_, found, err := store.Exists(ctx, coordstore.Join(parent, "a", "deep"))
		require.NoError(t, err)
		assert.False(t, found)
	})
}
