// Package env provides ENV variables to the configuration loader.
package env

import (
	"fmt"
	"maps"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

// Provider is read-only interface to get ENV value.
type Provider interface {
	Lookup(key string) (string, bool)
	Get(key string) string
}

// Map - abstraction for ENV variables.
// Keys are represented as uppercase string.
type Map struct {
	lock *sync.RWMutex
	data map[string]string
}

func Empty() *Map {
	return &Map{
		lock: &sync.RWMutex{},
		data: make(map[string]string),
	}
}

func FromMap(data map[string]string) *Map {
	m := Empty()
	for k, v := range data {
		m.Set(k, v)
	}
	return m
}

func FromOs() *Map {
	m := Empty()
	for _, pair := range os.Environ() {
		if k, v, found := strings.Cut(pair, "="); found {
			m.Set(k, v)
		}
	}
	return m
}

// FromString parses ENVs in the dotenv format.
func FromString(str string) (*Map, error) {
	data, err := godotenv.Unmarshal(str)
	if err != nil {
		return nil, errors.Errorf("cannot parse envs: %w", err)
	}
	return FromMap(data), nil
}

// FromFile loads ENVs from a dotenv file.
func FromFile(path string) (*Map, error) {
	data, err := godotenv.Read(path)
	if err != nil {
		return nil, errors.Errorf(`cannot load env file "%s": %w`, path, err)
	}
	return FromMap(data), nil
}

func (m *Map) String() string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	str, _ := godotenv.Marshal(m.data)
	return str
}

func (m *Map) ToSlice() []string {
	out := make([]string, 0)
	for _, k := range m.Keys() {
		out = append(out, fmt.Sprintf(`%s=%s`, k, m.Get(k)))
	}
	return out
}

func (m *Map) ToMap() map[string]string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return maps.Clone(m.data)
}

func (m *Map) Keys() []string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Map) Lookup(key string) (string, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	value, found := m.data[strings.ToUpper(key)]
	return value, found
}

func (m *Map) Get(key string) string {
	value, _ := m.Lookup(key)
	return value
}

func (m *Map) Set(key, value string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.data[strings.ToUpper(key)] = value
}

// Merge keys from another Map, existing keys are kept if overwrite is false.
func (m *Map) Merge(data *Map, overwrite bool) {
	for k, v := range data.ToMap() {
		if _, found := m.Lookup(k); found && !overwrite {
			continue
		}
		m.Set(k, v)
	}
}
