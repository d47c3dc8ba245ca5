package snapshot

// ============================================================================
// Checkpoint 測試
// 職責：驗證 checkpoint 的原子性寫入、載入、版本與狀態檢查
// ============================================================================

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ChuLiYu/mwcontrol/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleData(iteration int) types.SnapshotData {
	return types.SnapshotData{
		State: types.RunState{
			RunID:     "6f1c2a4e-0000-4000-8000-000000000001",
			Iteration: iteration,
			Quality:   0.125,
			Workers:   3,
		},
		Model:   []byte{1, 2, 3, 4},
		LastSeq: uint64(10 * iteration),
	}
}

// ============================================================================
// 基礎功能測試
// ============================================================================

// TestNewManager 測試建立管理器
func TestNewManager(t *testing.T) {
	manager := NewManager("state.json")
	assert.NotNil(t, manager)
	assert.Equal(t, "state.json", manager.Path())
}

// TestWriteAndLoad 測試寫入與載入快照
func TestWriteAndLoad(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "state.json"))
	original := sampleData(4)

	require.NoError(t, manager.Write(original))
	assert.True(t, manager.Exists())

	loaded, err := manager.Load()
	require.NoError(t, err)

	original.SchemaVer = SchemaVersion
	assert.Equal(t, original, loaded)

	// 沒有殘留的臨時檔案
	entries, err := os.ReadDir(filepath.Dir(manager.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

// TestOverwrite 後寫入的快照取代先前的快照
func TestOverwrite(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, manager.Write(sampleData(1)))
	require.NoError(t, manager.Write(sampleData(2)))

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.State.Iteration)
	assert.Equal(t, uint64(20), loaded.LastSeq)
}

// TestFirstBoot 首次啟動沒有快照
func TestFirstBoot(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "missing.json"))
	assert.False(t, manager.Exists())

	_, err := manager.Load()
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	assert.NoError(t, manager.Remove())
}

// TestRemove 刪除後回到首次啟動狀態
func TestRemove(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, manager.Write(sampleData(1)))
	require.NoError(t, manager.Remove())
	assert.False(t, manager.Exists())
}

// ============================================================================
// 錯誤處理測試
// ============================================================================

func TestLoadErrors(t *testing.T) {
	incompatible, err := json.Marshal(types.SnapshotData{
		State:     types.RunState{RunID: "x", Workers: 1},
		SchemaVer: 2,
	})
	require.NoError(t, err)
	noRunID, err := json.Marshal(types.SnapshotData{
		State:     types.RunState{Workers: 1},
		SchemaVer: SchemaVersion,
	})
	require.NoError(t, err)
	noWorkers, err := json.Marshal(types.SnapshotData{
		State:     types.RunState{RunID: "x"},
		SchemaVer: SchemaVersion,
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"version mismatch", string(incompatible), ErrIncompatibleVersion},
		{"truncated", `{"state": {"run_id": "x", "iteration"`, ErrCorruptedSnapshot},
		{"missing run id", string(noRunID), ErrCorruptedSnapshot},
		{"no workers", string(noWorkers), ErrCorruptedSnapshot},
		{"empty file", "", ErrCorruptedSnapshot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := NewManager(path).Load()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// TestWriteRejectsInvalidState 不合理的狀態不會寫入
func TestWriteRejectsInvalidState(t *testing.T) {
	tests := []struct {
		name  string
		state types.RunState
	}{
		{"no run id", types.RunState{Workers: 1}},
		{"no workers", types.RunState{RunID: "r"}},
		{"iteration below -1", types.RunState{RunID: "r", Workers: 1, Iteration: -2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(filepath.Join(t.TempDir(), "state.json"))
			err := manager.Write(types.SnapshotData{State: tt.state})
			assert.ErrorIs(t, err, ErrInvalidState)
			assert.False(t, manager.Exists())
		})
	}
}

// TestWriteFailure 父路徑是檔案時寫入失敗
func TestWriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	manager := NewManager(filepath.Join(blocker, "state.json"))
	assert.Error(t, manager.Write(sampleData(1)))
}

// ============================================================================
// 並發測試
// ============================================================================

// TestConcurrentWrites 並發寫入後快照仍然有效
func TestConcurrentWrites(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "state.json"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			data := sampleData(index)
			data.State.RunID = fmt.Sprintf("run-%d", index)
			assert.NoError(t, manager.Write(data))
		}(i)
	}
	wg.Wait()

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("run-%d", loaded.State.Iteration), loaded.State.RunID)
}

// ============================================================================
// Benchmark 測試
// ============================================================================

func BenchmarkWrite(b *testing.B) {
	manager := NewManager(filepath.Join(b.TempDir(), "state.json"))
	data := sampleData(1)
	data.Model = make([]byte, 64<<10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = manager.Write(data)
	}
}
