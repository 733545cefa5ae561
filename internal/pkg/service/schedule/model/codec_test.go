package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTaskType(t *testing.T) {
	t.Parallel()

	v := NewTaskType("demo", "0", "1 : {p}")
	data, err := EncodeTaskType(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{
  "baseTaskType": "demo",
  "heartBeatRate": 5000,
  "judgeDeadInterval": 60000,
  "sleepTimeNoData": 500,
  "sleepTimeInterval": 0,
  "fetchDataNumber": 500,
  "executeNumber": 1,
  "threadNumber": 5,
  "processorType": "SLEEP",
  "permitRunStartTime": "",
  "permitRunEndTime": "",
  "expireOwnSignInterval": 1,
  "dealBeanName": "",
  "taskParameter": "",
  "taskKind": "local",
  "taskItems": ["0", "1 : {p}"],
  "maxTaskItemsOfOneThreadGroup": 0,
  "version": 0,
  "sts": "resume"
}`, string(data))

	decoded, err := DecodeTaskType(data)
	require.NoError(t, err)
	assert.Equal(t, v, decoded)
}

func TestDecodeTaskType_NullsAndUnknownFields(t *testing.T) {
	t.Parallel()

	v, err := DecodeTaskType([]byte(`{"baseTaskType":"demo","taskItems":null,"expireOwnSignInterval":null,"dealBeanName":null,"foo":{"bar":[1,2]},"sts":"pause"}`))
	require.NoError(t, err)
	assert.Equal(t, TaskType{BaseTaskType: "demo", Status: TaskTypePause}, v)
	assert.True(t, v.Paused())

	_, err = DecodeTaskType([]byte(`{"baseTaskType":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot decode task type")
}

func TestEncodeServer(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	v := Server{
		UUID:               "demo$10.0.0.1$ABC$0000000001",
		TaskType:           "demo",
		BaseTaskType:       "demo",
		OwnSign:            "BASE",
		IP:                 "10.0.0.1",
		HostName:           "host",
		ThreadNum:          3,
		RegisterTime:       now,
		HeartBeatTime:      now.Add(time.Minute),
		Version:            2,
		ManagerFactoryUUID: "factory",
		Registered:         true,
	}

	data, err := EncodeServer(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{
  "uuid": "demo$10.0.0.1$ABC$0000000001",
  "id": 0,
  "taskType": "demo",
  "baseTaskType": "demo",
  "ownSign": "BASE",
  "ip": "10.0.0.1",
  "hostName": "host",
  "threadNum": 3,
  "registerTime": "2024-03-04 05:06:07",
  "heartBeatTime": "2024-03-04 05:07:07",
  "lastFetchDataTime": null,
  "dealInfoDesc": "",
  "nextRunStartTime": "",
  "nextRunEndTime": "",
  "centerServerTime": null,
  "version": 2,
  "isRegister": false,
  "managerFactoryUUID": "factory"
}`, string(data))

	// The registered flag is not transferred
	decoded, err := DecodeServer(data)
	require.NoError(t, err)
	expected := v
	expected.Registered = false
	assert.Equal(t, expected, decoded)

	decoded, err = DecodeServer([]byte(`{"uuid":"x","isRegister":true}`))
	require.NoError(t, err)
	assert.False(t, decoded.Registered)
}

func TestDecodeServer_InvalidDate(t *testing.T) {
	t.Parallel()

	_, err := DecodeServer([]byte(`{"uuid":"x","registerTime":"yesterday"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot decode server")
}

func TestDates(t *testing.T) {
	t.Parallel()

	local := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2024-01-01 11:00:00", FormatDate(local))

	parsed, err := ParseDate("2024-01-01 11:00:00")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(local))

	parsed, err = ParseDate("")
	require.NoError(t, err)
	assert.True(t, parsed.IsZero())

	_, err = ParseDate("2024-01-01")
	require.Error(t, err)
	assert.Equal(t, `invalid date "2024-01-01", expected format "2006-01-02 15:04:05"`, err.Error())
}

func TestTaskType_Durations(t *testing.T) {
	t.Parallel()

	v := NewTaskType("demo")
	assert.Equal(t, 5*time.Second, v.HeartBeatInterval())
	assert.Equal(t, time.Minute, v.JudgeDeadDuration())
	assert.Equal(t, float64(1), v.ExpireOwnSignDays())
	assert.False(t, v.Paused())

	v.HeartBeatRate, v.JudgeDeadInterval, v.ExpireOwnSignInterval = 200, 3000, 0.5
	assert.Equal(t, 200*time.Millisecond, v.HeartBeatInterval())
	assert.Equal(t, 3*time.Second, v.JudgeDeadDuration())
	assert.Equal(t, 0.5, v.ExpireOwnSignDays())
}

func TestTaskType_Durations_MissingValues(t *testing.T) {
	t.Parallel()

	v, err := DecodeTaskType([]byte(`{"baseTaskType":"X","taskItems":["A","B"],"sts":"resume"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.JudgeDeadInterval)
	assert.Equal(t, 5*time.Second, v.HeartBeatInterval())
	assert.Equal(t, time.Minute, v.JudgeDeadDuration())
	assert.Equal(t, float64(1), v.ExpireOwnSignDays())

	v.HeartBeatRate, v.JudgeDeadInterval, v.ExpireOwnSignInterval = -1, -1, -1
	assert.Equal(t, 5*time.Second, v.HeartBeatInterval())
	assert.Equal(t, time.Minute, v.JudgeDeadDuration())
	assert.Equal(t, float64(1), v.ExpireOwnSignDays())
}
