// Package types 定義了 mwcontrol 系統中 master 與 worker 共用的核心模型
package types

// Operation 訊息信封中的操作碼
type Operation = int32

// 保留的操作碼
//
// 0 為初始化交換；負數代表終止（不回覆）；其餘由應用程式自行定義，
// 本層只認得下列幾個。
const (
	OpQuit        Operation = -1 // 終止：worker 結束，不回覆
	OpInit        Operation = 0  // 初始化：master 指派 worker id，worker 回傳 WorkerInfo
	OpStep        Operation = 1  // 執行一棵 step 樹，回傳部分結果
	OpUpdateModel Operation = 2  // 廣播更新後的模型，不回覆
)

// NoReply 由 Processor 回傳，表示此訊息不需要回覆（與終止訊號不同）
const NoReply Operation = -1

// IsQuit 判斷操作碼是否為終止訊號
func IsQuit(op Operation) bool { return op < 0 }

// ReadMode 決定 master 收集回覆的方式
type ReadMode string

const (
	ReadSequential ReadMode = "sequential" // 依 index 順序阻塞讀取
	ReadPoll       ReadMode = "poll"       // 先輪詢可讀連線，無則退回順序讀取
	ReadConcurrent ReadMode = "concurrent" // 並行讀取，再依 index 順序合併
)

// Valid 檢查 ReadMode 是否為已知值
func (m ReadMode) Valid() bool {
	switch m {
	case ReadSequential, ReadPoll, ReadConcurrent:
		return true
	}
	return false
}

// RunState master 控制迴圈的狀態，只由控制迴圈修改
type RunState struct {
	RunID     string  `json:"run_id"`    // 本次執行的唯一識別碼
	Iteration int     `json:"iteration"` // 最後完成的迭代（-1 表示尚未開始）
	Converged bool    `json:"converged"` // 求解器是否回報收斂
	Quality   float64 `json:"quality"`   // 最後一次求解的品質指標
	Workers   int     `json:"workers"`   // 參與的 worker 數量
}

// SnapshotData 快照資料，用於迭代狀態的持久化和續跑
type SnapshotData struct {
	State     RunState `json:"state"`      // 控制迴圈狀態
	Model     []byte   `json:"model"`      // 最後一次廣播的模型
	SchemaVer int      `json:"schema_ver"` // 資料結構版本號，用於向後相容性
	LastSeq   uint64   `json:"last_seq"`   // 最後處理的 journal 序列號
}
