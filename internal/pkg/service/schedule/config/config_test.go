package config

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/schedule-coordinator/internal/pkg/env"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/scheduleerr"
)

func load(t *testing.T, args []string, envs map[string]string) Config {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, GenerateFlags(fs, New()))
	require.NoError(t, fs.Parse(args))
	cfg, err := Bind(fs, env.FromMap(envs))
	require.NoError(t, err)
	return cfg
}

func TestKeyToFlagName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "node-id", keyToFlagName("nodeID"))
	assert.Equal(t, "ip", keyToFlagName("ip"))
	assert.Equal(t, "etcd-session-ttl", keyToFlagName("etcd.sessionTTL"))
	assert.Equal(t, "schedule-heart-beat-interval", keyToFlagName("schedule.heartBeatInterval"))
}

func TestGenerateFlags(t *testing.T) {
	t.Parallel()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, GenerateFlags(fs, New()))

	var names []string
	fs.VisitAll(func(flag *pflag.Flag) {
		names = append(names, flag.Name)
	})
	assert.Contains(t, names, "node-id")
	assert.Contains(t, names, "store-type")
	assert.Contains(t, names, "etcd-endpoint")
	assert.Contains(t, names, "zookeeper-servers")
	assert.Contains(t, names, "schedule-domains")
	assert.Contains(t, names, "metrics-listen")
	assert.Equal(t, "5s", fs.Lookup("schedule-heart-beat-interval").DefValue)
	assert.Equal(t, "memory", fs.Lookup("store-type").DefValue)
}

func TestBind_Defaults(t *testing.T) {
	t.Parallel()
	cfg := load(t, nil, nil)
	expected := New()
	assert.Equal(t, expected.Root, cfg.Root)
	assert.Equal(t, expected.Store, cfg.Store)
	assert.Equal(t, expected.Etcd, cfg.Etcd)
	assert.Equal(t, expected.ZooKeeper.SessionTimeout, cfg.ZooKeeper.SessionTimeout)
	assert.Equal(t, expected.Schedule.HeartBeatInterval, cfg.Schedule.HeartBeatInterval)
	assert.Equal(t, expected.Schedule.ExpireOwnSignDays, cfg.Schedule.ExpireOwnSignDays)
	assert.Empty(t, cfg.Schedule.Domains)
}

func TestBind_FlagsAndEnvs(t *testing.T) {
	t.Parallel()
	cfg := load(t,
		[]string{
			"--node-id", "node-flag",
			"--schedule-domains", "X,Y$tenant",
			"--etcd-session-ttl", "30s",
		},
		map[string]string{
			"SCHEDULE_NODE_ID":                      "node-env",
			"SCHEDULE_IP":                           "10.0.0.1",
			"SCHEDULE_DEBUG_LOG":                    "true",
			"SCHEDULE_STORE_TYPE":                   "etcd",
			"SCHEDULE_ETCD_ENDPOINT":                "etcd:2379",
			"SCHEDULE_ZOOKEEPER_SERVERS":            "zk1:2181,zk2:2181",
			"SCHEDULE_SCHEDULE_EXPIRE_OWN_SIGN_DAYS": "2.5",
			"SCHEDULE_SCHEDULE_THREAD_NUM":          "3",
		},
	)

	// Flag has priority over ENV
	assert.Equal(t, "node-flag", cfg.NodeID)
	assert.Equal(t, "10.0.0.1", cfg.IP)
	assert.True(t, cfg.DebugLog)
	assert.Equal(t, StoreEtcd, cfg.Store.Type)
	assert.Equal(t, "etcd:2379", cfg.Etcd.Endpoint)
	assert.Equal(t, 30*time.Second, cfg.Etcd.SessionTTL)
	assert.Equal(t, []string{"zk1:2181", "zk2:2181"}, cfg.ZooKeeper.Servers)
	assert.Equal(t, []string{"X", "Y$tenant"}, cfg.Schedule.Domains)
	assert.InDelta(t, 2.5, cfg.Schedule.ExpireOwnSignDays, 0.0001)
	assert.Equal(t, 3, cfg.Schedule.ThreadNum)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := New()
	cfg.NodeID = " node1 "
	cfg.IP = "10.0.0.1"
	cfg.Root = "schedule/app/"
	cfg.Schedule.Domains = []string{" X ", "", "Y$tenant"}
	cfg.Normalize()
	assert.Equal(t, "node1", cfg.NodeID)
	assert.Equal(t, "/schedule/app", cfg.Root)
	assert.Equal(t, []string{"X", "Y$tenant"}, cfg.Schedule.Domains)
	require.NoError(t, cfg.Validate(ctx))

	// Invalid root config
	invalid := cfg
	invalid.LogFormat = "xml"
	invalid.Store.Type = "foo"
	invalid.Schedule.HeartBeatInterval = time.Millisecond
	err := invalid.Validate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logFormat must be one of [console json]")
	assert.Contains(t, err.Error(), "type must be one of [memory etcd zookeeper]")
	assert.Contains(t, err.Error(), "schedule.heartBeatInterval must be 100ms or greater")

	// Etcd is validated only if it is used
	etcd := cfg
	etcd.Store.Type = StoreEtcd
	etcd.Normalize()
	err = etcd.Validate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd endpoint is not set")

	zk := cfg
	zk.Store.Type = StoreZooKeeper
	zk.Normalize()
	err = zk.Validate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zookeeper servers are not set")
}

func TestSchedule_TaskType(t *testing.T) {
	t.Parallel()
	s := New().Schedule
	s.ThreadNum = 8

	def, err := s.TaskType("X", "A", "B")
	require.NoError(t, err)
	assert.Equal(t, "X", def.BaseTaskType)
	assert.Equal(t, []string{"A", "B"}, def.TaskItems)
	assert.Equal(t, int64(5000), def.HeartBeatRate)
	assert.Equal(t, int64(60000), def.JudgeDeadInterval)
	assert.Equal(t, 8, def.ThreadNumber)

	_, err = s.TaskType("X$Y")
	require.Error(t, err)
	assert.True(t, scheduleerr.IsInvalidName(err))
}
