// Package model contains records of the schedule coordination.
package model

import (
	"time"
)

type TaskTypeStatus string

const (
	TaskTypeResume TaskTypeStatus = "resume"
	TaskTypePause  TaskTypeStatus = "pause"
)

type TaskItemStatus string

const (
	// TaskItemActive keeps the historical spelling, it is stored as is.
	TaskItemActive TaskItemStatus = "ACTIVTE"
	TaskItemFinish TaskItemStatus = "FINISH"
	TaskItemHalt   TaskItemStatus = "HALT"
)

// TaskType is definition of a base task type, it is shared by all its domains.
type TaskType struct {
	BaseTaskType string
	// HeartBeatRate in milliseconds.
	HeartBeatRate int64
	// JudgeDeadInterval in milliseconds, a server without heartbeat for this period is considered dead.
	JudgeDeadInterval int64
	SleepTimeNoData   int
	SleepTimeInterval int
	FetchDataNumber   int
	ExecuteNumber     int
	ThreadNumber      int
	ProcessorType     string
	// PermitRunStartTime and PermitRunEndTime are cron expressions, they are passed to the executor as is.
	PermitRunStartTime string
	PermitRunEndTime   string
	// ExpireOwnSignInterval in days, a domain without item changes for this period is removed.
	ExpireOwnSignInterval        float64
	DealBeanName                 string
	TaskParameter                string
	TaskKind                     string
	TaskItems                    []string
	MaxTaskItemsOfOneThreadGroup int
	Version                      int64
	Status                       TaskTypeStatus
}

// Defaults of the scheduling attributes, they are also used if a stored definition has a non-positive value.
const (
	DefaultHeartBeatRate         = 5000
	DefaultJudgeDeadInterval     = 60000
	DefaultExpireOwnSignInterval = 1
)

// NewTaskType returns a definition with default scheduling attributes.
func NewTaskType(baseTaskType string, taskItems ...string) TaskType {
	return TaskType{
		BaseTaskType:          baseTaskType,
		HeartBeatRate:         DefaultHeartBeatRate,
		JudgeDeadInterval:     DefaultJudgeDeadInterval,
		SleepTimeNoData:       500,
		FetchDataNumber:       500,
		ExecuteNumber:         1,
		ThreadNumber:          5,
		ProcessorType:         "SLEEP",
		ExpireOwnSignInterval: DefaultExpireOwnSignInterval,
		TaskKind:              "local",
		TaskItems:             taskItems,
		Status:                TaskTypeResume,
	}
}

func (v TaskType) HeartBeatInterval() time.Duration {
	if v.HeartBeatRate <= 0 {
		return DefaultHeartBeatRate * time.Millisecond
	}
	return time.Duration(v.HeartBeatRate) * time.Millisecond
}

// JudgeDeadDuration is the heartbeat age after which a server is removed.
func (v TaskType) JudgeDeadDuration() time.Duration {
	if v.JudgeDeadInterval <= 0 {
		return DefaultJudgeDeadInterval * time.Millisecond
	}
	return time.Duration(v.JudgeDeadInterval) * time.Millisecond
}

// ExpireOwnSignDays is the age in days after which an unused domain is removed.
func (v TaskType) ExpireOwnSignDays() float64 {
	if v.ExpireOwnSignInterval <= 0 {
		return DefaultExpireOwnSignInterval
	}
	return v.ExpireOwnSignInterval
}

func (v TaskType) Paused() bool {
	return v.Status == TaskTypePause
}

// TaskItem is a unit of work within a domain. Fields are stored as separate nodes.
type TaskItem struct {
	TaskType      string
	BaseTaskType  string
	OwnSign       string
	TaskItemID    string
	CurrentServer string
	RequestServer string
	Status        TaskItemStatus
	Parameter     string
	Description   string
}

// TaskItemDefine is an owned item, as seen by the executor.
type TaskItemDefine struct {
	TaskItemID string
	Parameter  string
}

// Server is a registration of a worker process in a domain.
type Server struct {
	UUID               string
	ID                 int64
	TaskType           string
	BaseTaskType       string
	OwnSign            string
	IP                 string
	HostName           string
	ThreadNum          int
	RegisterTime       time.Time
	HeartBeatTime      time.Time
	LastFetchDataTime  time.Time
	DealInfoDesc       string
	NextRunStartTime   string
	NextRunEndTime     string
	CenterServerTime   time.Time
	Version            int64
	ManagerFactoryUUID string
	// Registered is an in-memory flag, it is never serialized as true.
	Registered bool
}

// DomainInfo identifies a running domain of a base task type.
type DomainInfo struct {
	BaseTaskType string
	TaskType     string
	OwnSign      string
}
