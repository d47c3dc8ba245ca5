package journal

// ============================================================================
// Round Journal 核心實作
// 職責：
// 1. 追加控制迴圈的每一步到日誌檔案（append-only，每行一個 JSON 事件）
// 2. 提供重放功能，用於檢查與續跑時對帳
// 3. 批次寫入，Flush 時同步到磁碟
// ============================================================================

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// DefaultBufferSize 預設在自動 flush 前累積的事件數
const DefaultBufferSize = 64

// FileInterface 定義檔案操作所需的方法
// 這允許在測試中對檔案操作進行模擬
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Journal 表示一個 round journal 實例
type Journal struct {
	mu         sync.Mutex    // 保護並發寫入
	file       FileInterface // journal 檔案
	encoder    *json.Encoder // JSON 編碼器
	path       string        // journal 檔案路徑
	seq        uint64        // 當前事件序號
	buffer     []Event       // 尚未寫入的事件
	bufferSize int
	closed     bool
}

// ============================================================================
// 公開介面
// ============================================================================

/*
Open 建立或開啟一個 journal

行為：
- 如果檔案不存在，建立新檔案，seq 從 0 開始
- 如果檔案已存在，讀取最後一個事件的 seq 並繼續
- 以追加模式（O_APPEND）開啟，確保寫入不覆蓋
*/
func Open(path string) (*Journal, error) {
	var seq uint64
	last, err := LastEvent(path)
	switch {
	case err == nil:
		seq = last.Seq
	case errors.Is(err, os.ErrNotExist), errors.Is(err, ErrEmptyJournal):
	default:
		return nil, fmt.Errorf("failed to read journal tail: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &Journal{
		file:       file,
		encoder:    json.NewEncoder(file),
		path:       path,
		seq:        seq,
		buffer:     make([]Event, 0, DefaultBufferSize),
		bufferSize: DefaultBufferSize,
	}, nil
}

// Append 追加一個事件
//
// 自動填入 Seq、Timestamp 與 Checksum。事件先進入緩衝區，
// 緩衝區滿或 force 為 true 時寫入並同步。
func (j *Journal) Append(e Event, force bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	j.seq++
	e.Seq = j.seq
	e.Timestamp = time.Now().UnixMilli()
	e.Checksum = CalculateChecksum(e)
	j.buffer = append(j.buffer, e)

	if force || len(j.buffer) >= j.bufferSize {
		return j.flushLocked()
	}
	return nil
}

// Flush 將緩衝的事件寫入並同步到磁碟
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	return j.flushLocked()
}

// Replay 依序重放所有已寫入的事件
//
// 會先 flush 緩衝區。校驗和不符時回傳 *ChecksumError，
// 無法解析的行回傳 *CorruptionError；handler 的錯誤會直接回傳。
func (j *Journal) Replay(handler EventHandler) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.closed {
		if err := j.flushLocked(); err != nil {
			return err
		}
	}
	return ReplayFile(j.path, handler)
}

// LastSeq 取得當前的事件序號
func (j *Journal) LastSeq() uint64 {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Path 取得 journal 檔案路徑
func (j *Journal) Path() string { return j.path }

// Close 寫出緩衝區並關閉檔案；關閉後不可再使用
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.flushLocked(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

// ============================================================================
// 檔案層級輔助
// ============================================================================

// ReplayFile 重放 path 中的所有事件，不需開啟 Journal
func ReplayFile(path string, handler EventHandler) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return replay(file, handler)
}

// LastEvent 讀取 path 中最後一個事件
//
// 從頭掃描並驗證每個事件；檔案為空時回傳 ErrEmptyJournal。
func LastEvent(path string) (Event, error) {
	var last Event
	found := false
	err := ReplayFile(path, func(e Event) error {
		last = e
		found = true
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	if !found {
		return Event{}, ErrEmptyJournal
	}
	return last, nil
}

func replay(r io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return &CorruptionError{Line: line, Cause: err}
		}
		if !VerifyChecksum(e) {
			return &ChecksumError{Seq: e.Seq, Expected: CalculateChecksum(e), Actual: e.Checksum}
		}
		if err := handler(e); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// flushLocked 內部方法，假設調用者已經持有 j.mu 鎖
func (j *Journal) flushLocked() error {
	if len(j.buffer) == 0 {
		return nil
	}
	for _, e := range j.buffer {
		if err := j.encoder.Encode(e); err != nil {
			return err
		}
	}
	j.buffer = j.buffer[:0]
	return j.file.Sync()
}
