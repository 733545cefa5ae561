// Package config contains configuration of the schedule worker.
package config

import (
	"context"
	"strings"
	"time"

	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore/zkstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/etcdclient"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/key"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/model"
	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
	"github.com/keboola/schedule-coordinator/internal/pkg/validator"
)

const EnvPrefix = "SCHEDULE_"

type StoreType string

const (
	StoreMemory    StoreType = "memory"
	StoreEtcd      StoreType = "etcd"
	StoreZooKeeper StoreType = "zookeeper"
)

type Config struct {
	NodeID    string            `configKey:"nodeID" configUsage:"Unique ID of the process, generated from the host name and PID if empty."`
	IP        string            `configKey:"ip" configUsage:"IP address of the node, it is part of the server registration. Required by the worker." validate:"omitempty,ip|hostname"`
	HostName  string            `configKey:"hostName" configUsage:"Host name of the node, the OS host name is used if empty."`
	DebugLog  bool              `configKey:"debugLog" configUsage:"Enable debug log level."`
	LogFormat string            `configKey:"logFormat" configUsage:"Log format, \"console\" or \"json\"." validate:"oneof=console json"`
	Root      string            `configKey:"root" configUsage:"Root path of the coordination tree." validate:"required,startswith=/"`
	Store     Store             `configKey:"store"`
	Etcd      etcdclient.Config `configKey:"etcd" validate:"-"`
	ZooKeeper zkstore.Config    `configKey:"zookeeper" validate:"-"`
	Schedule  Schedule          `configKey:"schedule"`
	Metrics   Metrics           `configKey:"metrics"`
}

type Store struct {
	Type StoreType `configKey:"type" configUsage:"Coordination store, \"memory\", \"etcd\" or \"zookeeper\"." validate:"oneof=memory etcd zookeeper"`
}

// Schedule contains the domains served by the worker and defaults of new task types.
type Schedule struct {
	Domains           []string      `configKey:"domains" configUsage:"Served domains, \"base\" or \"base$ownSign\"." validate:"dive,required"`
	ThreadNum         int           `configKey:"threadNum" configUsage:"Number of executor threads, it is part of the server registration." validate:"min=0"`
	HeartBeatInterval time.Duration `configKey:"heartBeatInterval" configUsage:"Heartbeat interval of new task types." validate:"required,minDuration=100ms,maxDuration=10m"`
	JudgeDeadInterval time.Duration `configKey:"judgeDeadInterval" configUsage:"A server without heartbeat for this period is removed, default of new task types." validate:"required,minDuration=1s,maxDuration=1h"`
	ExpireOwnSignDays float64       `configKey:"expireOwnSignDays" configUsage:"A domain without changes for this number of days is removed, default of new task types." validate:"gt=0"`
}

type Metrics struct {
	Listen string `configKey:"listen" configUsage:"Listen address of the Prometheus metrics endpoint, disabled if empty."`
}

func New() Config {
	return Config{
		LogFormat: "console",
		Root:      "/schedule",
		Store:     Store{Type: StoreMemory},
		Etcd:      etcdclient.NewConfig(),
		ZooKeeper: zkstore.NewConfig(),
		Schedule: Schedule{
			HeartBeatInterval: 5 * time.Second,
			JudgeDeadInterval: time.Minute,
			ExpireOwnSignDays: 1,
		},
		Metrics: Metrics{Listen: "0.0.0.0:9000"},
	}
}

func (c *Config) Normalize() {
	c.NodeID = strings.TrimSpace(c.NodeID)
	c.IP = strings.TrimSpace(c.IP)
	c.HostName = strings.TrimSpace(c.HostName)
	c.Root = "/" + strings.Trim(strings.TrimSpace(c.Root), "/")
	c.Store.Type = StoreType(strings.ToLower(strings.TrimSpace(string(c.Store.Type))))
	c.Metrics.Listen = strings.TrimSpace(c.Metrics.Listen)

	var domains []string
	for _, domain := range c.Schedule.Domains {
		if domain = strings.TrimSpace(domain); domain != "" {
			domains = append(domains, domain)
		}
	}
	c.Schedule.Domains = domains

	switch c.Store.Type {
	case StoreEtcd:
		c.Etcd.Normalize()
	case StoreZooKeeper:
		c.ZooKeeper.Normalize()
	}
}

func (c *Config) Validate(ctx context.Context) error {
	v := validator.New()
	errs := errors.NewMultiError()
	errs.Append(v.Validate(ctx, c))

	switch c.Store.Type {
	case StoreEtcd:
		errs.Append(v.Validate(ctx, c.Etcd))
		errs.Append(c.Etcd.Validate())
	case StoreZooKeeper:
		errs.Append(v.Validate(ctx, c.ZooKeeper))
		if len(c.ZooKeeper.Servers) == 0 {
			errs.Append(errors.New("zookeeper servers are not set"))
		}
	}

	return errs.ErrorOrNil()
}

// TaskType returns a new task type definition with the configured defaults.
func (s Schedule) TaskType(baseTaskType string, items ...string) (model.TaskType, error) {
	if err := key.ValidateBaseTaskType(baseTaskType); err != nil {
		return model.TaskType{}, err
	}
	def := model.NewTaskType(baseTaskType, items...)
	def.HeartBeatRate = s.HeartBeatInterval.Milliseconds()
	def.JudgeDeadInterval = s.JudgeDeadInterval.Milliseconds()
	def.ExpireOwnSignInterval = s.ExpireOwnSignDays
	if s.ThreadNum > 0 {
		def.ThreadNumber = s.ThreadNum
	}
	return def, nil
}
