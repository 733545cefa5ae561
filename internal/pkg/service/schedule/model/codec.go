package model

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

// DateFormat of all date fields, dates are stored in UTC.
const DateFormat = "2006-01-02 15:04:05"

var api = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals

func EncodeTaskType(v TaskType) ([]byte, error) {
	stream := api.BorrowStream(nil)
	defer api.ReturnStream(stream)

	stream.WriteObjectStart()
	writeString(stream, "baseTaskType", v.BaseTaskType, true)
	writeInt64(stream, "heartBeatRate", v.HeartBeatRate)
	writeInt64(stream, "judgeDeadInterval", v.JudgeDeadInterval)
	writeInt64(stream, "sleepTimeNoData", int64(v.SleepTimeNoData))
	writeInt64(stream, "sleepTimeInterval", int64(v.SleepTimeInterval))
	writeInt64(stream, "fetchDataNumber", int64(v.FetchDataNumber))
	writeInt64(stream, "executeNumber", int64(v.ExecuteNumber))
	writeInt64(stream, "threadNumber", int64(v.ThreadNumber))
	writeString(stream, "processorType", v.ProcessorType, false)
	writeString(stream, "permitRunStartTime", v.PermitRunStartTime, false)
	writeString(stream, "permitRunEndTime", v.PermitRunEndTime, false)
	stream.WriteMore()
	stream.WriteObjectField("expireOwnSignInterval")
	stream.WriteFloat64(v.ExpireOwnSignInterval)
	writeString(stream, "dealBeanName", v.DealBeanName, false)
	writeString(stream, "taskParameter", v.TaskParameter, false)
	writeString(stream, "taskKind", v.TaskKind, false)
	stream.WriteMore()
	stream.WriteObjectField("taskItems")
	stream.WriteArrayStart()
	for i, item := range v.TaskItems {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteString(item)
	}
	stream.WriteArrayEnd()
	writeInt64(stream, "maxTaskItemsOfOneThreadGroup", int64(v.MaxTaskItemsOfOneThreadGroup))
	writeInt64(stream, "version", v.Version)
	writeString(stream, "sts", string(v.Status), false)
	stream.WriteObjectEnd()

	return copyBuffer(stream)
}

func DecodeTaskType(data []byte) (TaskType, error) {
	v := TaskType{}
	iter := api.BorrowIterator(data)
	defer api.ReturnIterator(iter)

	iter.ReadObjectCB(func(iter *jsoniter.Iterator, field string) bool {
		switch field {
		case "baseTaskType":
			v.BaseTaskType = readString(iter)
		case "heartBeatRate":
			v.HeartBeatRate = readInt64(iter)
		case "judgeDeadInterval":
			v.JudgeDeadInterval = readInt64(iter)
		case "sleepTimeNoData":
			v.SleepTimeNoData = int(readInt64(iter))
		case "sleepTimeInterval":
			v.SleepTimeInterval = int(readInt64(iter))
		case "fetchDataNumber":
			v.FetchDataNumber = int(readInt64(iter))
		case "executeNumber":
			v.ExecuteNumber = int(readInt64(iter))
		case "threadNumber":
			v.ThreadNumber = int(readInt64(iter))
		case "processorType":
			v.ProcessorType = readString(iter)
		case "permitRunStartTime":
			v.PermitRunStartTime = readString(iter)
		case "permitRunEndTime":
			v.PermitRunEndTime = readString(iter)
		case "expireOwnSignInterval":
			if iter.ReadNil() {
				break
			}
			v.ExpireOwnSignInterval = iter.ReadFloat64()
		case "dealBeanName":
			v.DealBeanName = readString(iter)
		case "taskParameter":
			v.TaskParameter = readString(iter)
		case "taskKind":
			v.TaskKind = readString(iter)
		case "taskItems":
			if iter.ReadNil() {
				break
			}
			iter.ReadArrayCB(func(iter *jsoniter.Iterator) bool {
				v.TaskItems = append(v.TaskItems, iter.ReadString())
				return true
			})
		case "maxTaskItemsOfOneThreadGroup":
			v.MaxTaskItemsOfOneThreadGroup = int(readInt64(iter))
		case "version":
			v.Version = readInt64(iter)
		case "sts":
			v.Status = TaskTypeStatus(readString(iter))
		default:
			iter.Skip()
		}
		return true
	})

	if iter.Error != nil {
		return TaskType{}, errors.PrefixError(iter.Error, "cannot decode task type")
	}
	return v, nil
}

func EncodeServer(v Server) ([]byte, error) {
	stream := api.BorrowStream(nil)
	defer api.ReturnStream(stream)

	stream.WriteObjectStart()
	writeString(stream, "uuid", v.UUID, true)
	writeInt64(stream, "id", v.ID)
	writeString(stream, "taskType", v.TaskType, false)
	writeString(stream, "baseTaskType", v.BaseTaskType, false)
	writeString(stream, "ownSign", v.OwnSign, false)
	writeString(stream, "ip", v.IP, false)
	writeString(stream, "hostName", v.HostName, false)
	writeInt64(stream, "threadNum", int64(v.ThreadNum))
	writeDate(stream, "registerTime", v.RegisterTime)
	writeDate(stream, "heartBeatTime", v.HeartBeatTime)
	writeDate(stream, "lastFetchDataTime", v.LastFetchDataTime)
	writeString(stream, "dealInfoDesc", v.DealInfoDesc, false)
	writeString(stream, "nextRunStartTime", v.NextRunStartTime, false)
	writeString(stream, "nextRunEndTime", v.NextRunEndTime, false)
	writeDate(stream, "centerServerTime", v.CenterServerTime)
	writeInt64(stream, "version", v.Version)
	stream.WriteMore()
	stream.WriteObjectField("isRegister")
	stream.WriteBool(false)
	writeString(stream, "managerFactoryUUID", v.ManagerFactoryUUID, false)
	stream.WriteObjectEnd()

	return copyBuffer(stream)
}

func DecodeServer(data []byte) (Server, error) {
	v := Server{}
	iter := api.BorrowIterator(data)
	defer api.ReturnIterator(iter)

	iter.ReadObjectCB(func(iter *jsoniter.Iterator, field string) bool {
		switch field {
		case "uuid":
			v.UUID = readString(iter)
		case "id":
			v.ID = readInt64(iter)
		case "taskType":
			v.TaskType = readString(iter)
		case "baseTaskType":
			v.BaseTaskType = readString(iter)
		case "ownSign":
			v.OwnSign = readString(iter)
		case "ip":
			v.IP = readString(iter)
		case "hostName":
			v.HostName = readString(iter)
		case "threadNum":
			v.ThreadNum = int(readInt64(iter))
		case "registerTime":
			v.RegisterTime = readDate(iter)
		case "heartBeatTime":
			v.HeartBeatTime = readDate(iter)
		case "lastFetchDataTime":
			v.LastFetchDataTime = readDate(iter)
		case "dealInfoDesc":
			v.DealInfoDesc = readString(iter)
		case "nextRunStartTime":
			v.NextRunStartTime = readString(iter)
		case "nextRunEndTime":
			v.NextRunEndTime = readString(iter)
		case "centerServerTime":
			v.CenterServerTime = readDate(iter)
		case "version":
			v.Version = readInt64(iter)
		case "managerFactoryUUID":
			v.ManagerFactoryUUID = readString(iter)
		default:
			// "isRegister" is never trusted, the flag is owned by the in-memory handle
			iter.Skip()
		}
		return true
	})

	if iter.Error != nil {
		return Server{}, errors.PrefixError(iter.Error, "cannot decode server")
	}
	return v, nil
}

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

func ParseDate(str string) (time.Time, error) {
	if str == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(DateFormat, str, time.UTC)
	if err != nil {
		return time.Time{}, errors.Errorf(`invalid date "%s", expected format "%s"`, str, DateFormat)
	}
	return t, nil
}

func writeString(stream *jsoniter.Stream, field, value string, first bool) {
	if !first {
		stream.WriteMore()
	}
	stream.WriteObjectField(field)
	stream.WriteString(value)
}

func writeInt64(stream *jsoniter.Stream, field string, value int64) {
	stream.WriteMore()
	stream.WriteObjectField(field)
	stream.WriteInt64(value)
}

func writeDate(stream *jsoniter.Stream, field string, value time.Time) {
	stream.WriteMore()
	stream.WriteObjectField(field)
	if value.IsZero() {
		stream.WriteNil()
	} else {
		stream.WriteString(FormatDate(value))
	}
}

func readString(iter *jsoniter.Iterator) string {
	if iter.WhatIsNext() == jsoniter.NilValue {
		iter.Skip()
		return ""
	}
	return iter.ReadString()
}

func readInt64(iter *jsoniter.Iterator) int64 {
	if iter.WhatIsNext() == jsoniter.NilValue {
		iter.Skip()
		return 0
	}
	return iter.ReadInt64()
}

func readDate(iter *jsoniter.Iterator) time.Time {
	str := readString(iter)
	t, err := ParseDate(str)
	if err != nil {
		iter.ReportError("readDate", err.Error())
	}
	return t
}

func copyBuffer(stream *jsoniter.Stream) ([]byte, error) {
	if stream.Error != nil {
		return nil, errors.PrefixError(stream.Error, "cannot encode")
	}
	out := make([]byte, len(stream.Buffer()))
	copy(out, stream.Buffer())
	return out, nil
}
