package worker

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/mwcontrol/internal/blob"
)

const (
	workerInfoName    = "WorkerInfo"
	workerInfoVersion = 1
)

// WorkerInfo 代表 worker 在初始化時回報給 master 的資訊
//
// 啟動時建立一次，之後不再修改。
type WorkerInfo struct {
	HostName  string  // worker 所在主機名稱
	WorkTypes []int32 // 可執行的工作類型，依優先順序
}

// NewWorkerInfo 以本機主機名稱建立 WorkerInfo
func NewWorkerInfo(workTypes ...int32) WorkerInfo {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return WorkerInfo{HostName: host, WorkTypes: append([]int32(nil), workTypes...)}
}

// Encode 將 WorkerInfo 寫入 blob
func (w WorkerInfo) Encode(out *blob.Writer) {
	out.PutStart(workerInfoName, workerInfoVersion)
	out.PutString(w.HostName)
	out.PutInt32s(w.WorkTypes)
	out.PutEnd()
}

// DecodeWorkerInfo 從 blob 讀取 WorkerInfo
func DecodeWorkerInfo(in *blob.Reader) (WorkerInfo, error) {
	version, err := in.GetStart(workerInfoName)
	if err != nil {
		return WorkerInfo{}, err
	}
	if version != workerInfoVersion {
		return WorkerInfo{}, fmt.Errorf("WorkerInfo version %d not supported", version)
	}
	info := WorkerInfo{
		HostName:  in.GetString(),
		WorkTypes: in.GetInt32s(),
	}
	if err := in.GetEnd(); err != nil {
		return WorkerInfo{}, err
	}
	return info, nil
}

// Supports 檢查 worker 是否能執行指定工作類型
func (w WorkerInfo) Supports(workType int32) bool {
	for _, t := range w.WorkTypes {
		if t == workType {
			return true
		}
	}
	return false
}
