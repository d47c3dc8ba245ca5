package snapshot

// ============================================================================
// Checkpoint 儲存
//
// 每次迭代結束後，控制迴圈把 RunState、最後的模型與 journal 序列號
// 存成一個 JSON 檔；--resume 時從這裡接續下一次迭代。
//
// 寫入: 同目錄下的暫存檔 → fsync → rename，讀者永遠只看到完整的檔案。
// 讀取: 先檢查 schema 版本，再檢查狀態本身是否合理。
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ChuLiYu/mwcontrol/pkg/types"
)

// SchemaVersion checkpoint 檔的格式版本
const SchemaVersion = 1

var (
	ErrSnapshotNotFound    = errors.New("checkpoint not found")
	ErrCorruptedSnapshot   = errors.New("checkpoint is corrupted")
	ErrIncompatibleVersion = errors.New("checkpoint schema version not supported")
	ErrInvalidState        = errors.New("checkpoint state is invalid")
)

// Manager 讀寫單一 checkpoint 檔
type Manager struct {
	path string
	mu   sync.Mutex // 同一行程內的寫入與讀取互斥
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path 回傳 checkpoint 檔路徑
func (m *Manager) Path() string { return m.path }

// validate 檢查控制迴圈狀態：必須有 run id、至少一個 worker，
// 迭代編號不小於 -1（-1 表示 init 之後尚未完成任何迭代）。
func validate(s types.RunState) error {
	switch {
	case s.RunID == "":
		return fmt.Errorf("%w: missing run id", ErrInvalidState)
	case s.Workers <= 0:
		return fmt.Errorf("%w: %d workers", ErrInvalidState, s.Workers)
	case s.Iteration < -1:
		return fmt.Errorf("%w: iteration %d", ErrInvalidState, s.Iteration)
	}
	return nil
}

// Write 以 SchemaVersion 寫入 data，取代既有的 checkpoint
func (m *Manager) Write(data types.SnapshotData) error {
	if err := validate(data.State); err != nil {
		return err
	}
	data.SchemaVer = SchemaVersion
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(encoded); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("install checkpoint: %w", err)
	}
	committed = true
	return nil
}

// Load 讀取 checkpoint
//
// 檔案不存在時回傳 ErrSnapshotNotFound，呼叫端據此從頭開始。
func (m *Manager) Load() (types.SnapshotData, error) {
	m.mu.Lock()
	raw, err := os.ReadFile(m.path)
	m.mu.Unlock()

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return types.SnapshotData{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, m.path)
	case err != nil:
		return types.SnapshotData{}, fmt.Errorf("read checkpoint: %w", err)
	}

	var data types.SnapshotData
	if err := json.Unmarshal(raw, &data); err != nil {
		return types.SnapshotData{}, fmt.Errorf("%w: %s: %v", ErrCorruptedSnapshot, m.path, err)
	}
	if data.SchemaVer != SchemaVersion {
		return types.SnapshotData{}, fmt.Errorf("%w: %s has version %d, want %d",
			ErrIncompatibleVersion, m.path, data.SchemaVer, SchemaVersion)
	}
	if err := validate(data.State); err != nil {
		return types.SnapshotData{}, fmt.Errorf("%w: %s: %v", ErrCorruptedSnapshot, m.path, err)
	}
	return data, nil
}

// Exists 檢查 checkpoint 檔是否存在
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Remove 刪除 checkpoint；不存在時不算錯誤
func (m *Manager) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
