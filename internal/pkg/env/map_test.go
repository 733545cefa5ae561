package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	t.Parallel()

	m := FromMap(map[string]string{"foo": "1"})
	m.Set("Bar", "2")
	assert.Equal(t, []string{"BAR", "FOO"}, m.Keys())
	assert.Equal(t, "1", m.Get("FOO"))
	assert.Equal(t, []string{"BAR=2", "FOO=1"}, m.ToSlice())

	_, found := m.Lookup("missing")
	assert.False(t, found)

	m.Merge(FromMap(map[string]string{"FOO": "3", "BAZ": "4"}), false)
	assert.Equal(t, map[string]string{"FOO": "1", "BAR": "2", "BAZ": "4"}, m.ToMap())
	m.Merge(FromMap(map[string]string{"FOO": "3"}), true)
	assert.Equal(t, "3", m.Get("foo"))
}

func TestFromString(t *testing.T) {
	t.Parallel()

	m, err := FromString("SCHEDULE_ROOT=/schedule\nSCHEDULE_DEBUG_LOG=true\n")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SCHEDULE_ROOT": "/schedule", "SCHEDULE_DEBUG_LOG": "true"}, m.ToMap())
	assert.Equal(t, "SCHEDULE_DEBUG_LOG=\"true\"\nSCHEDULE_ROOT=\"/schedule\"", m.String())
}

func TestFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FOO=BAR\n"), 0o600))
	m, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "BAR", m.Get("FOO"))

	_, err = FromFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
