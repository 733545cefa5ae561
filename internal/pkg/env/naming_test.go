package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamingConvention(t *testing.T) {
	t.Parallel()
	n := NewNamingConvention("SCHEDULE_")
	assert.Equal(t, "SCHEDULE_FOO", n.FlagToEnv("foo"))
	assert.Equal(t, "SCHEDULE_FOO_BAR", n.FlagToEnv("foo-bar"))
	assert.Equal(t, "SCHEDULE_ETCD_SESSION_TTL", n.FlagToEnv("etcd-session-Ttl"))
}

func TestNamingConvention_FlagNameEmpty(t *testing.T) {
	t.Parallel()
	n := NewNamingConvention("SCHEDULE_")
	assert.PanicsWithError(t, "flag name cannot be empty", func() {
		n.FlagToEnv("")
	})
}
