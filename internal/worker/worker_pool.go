// ============================================================================
// mwcontrol Worker Pool - 行程內 Worker 管理
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 在同一個行程中啟動 N 個 worker，每個 worker 服務一條連線
//
// 使用情境:
//   demo 與測試在單一行程內跑完整的 master/worker 迴圈：
//   master 持有每條 pipe 的 master 端，Pool 持有 worker 端。
//
// 架構組件:
//   ┌─────────────┐   pipe 0   ┌──────────┐
//   │             │◄──────────►│ Worker 0 │
//   │ Controller  │   pipe 1   │ Worker 1 │  ← Pool
//   │             │◄──────────►│ Worker 2 │
//   └─────────────┘   pipe 2   └──────────┘
//
// 生命週期:
//   1. NewPool() - 建立 Pool
//   2. Start(ctx, conns, newProc) - 每條連線啟動一個 worker goroutine
//   3. Wait() - 等待所有 worker 結束（收到 quit 或連線關閉）
//   4. Stop() - 取消 context、關閉連線並等待（提早結束時使用）
//
// 並發控制:
//   - 每個 worker 只在自己的 goroutine 內使用自己的連線與 Processor
//   - WaitGroup: 追蹤所有 worker
//   - Mutex: 保護 started/stopped 狀態與錯誤清單
//
// 錯誤處理:
//   worker 的錯誤不會重試；收集後由 Wait() 以 errors.Join 回傳，
//   呼叫端（通常是 CLI 的 RunE）負責記錄並以非零狀態結束。
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ChuLiYu/mwcontrol/internal/transport"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolStarted 表示 Pool 已啟動，不能重複啟動
	ErrPoolStarted = errors.New("worker pool already started")
	// ErrPoolNotStarted 表示 Pool 尚未啟動
	ErrPoolNotStarted = errors.New("worker pool not started")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Worker 一個行程內的 worker：一條連線 + 一個 Proxy
type Worker struct {
	id    int
	conn  transport.Connection
	proxy *Proxy
}

// Run 服務連線直到 master 送出 quit 或關閉連線
func (w *Worker) Run(ctx context.Context) error {
	if err := Serve(ctx, w.conn, w.proxy); err != nil {
		return fmt.Errorf("worker %d: %w", w.id, err)
	}
	return nil
}

// ProcessorFactory 為第 i 個 worker 建立 Processor
type ProcessorFactory func(i int) Processor

// Pool 管理多個行程內 worker
type Pool struct {
	workers []*Worker      // 所有已啟動的 worker
	wg      sync.WaitGroup // 等待所有 worker 結束
	cancel  context.CancelFunc
	errs    []error // worker 回傳的錯誤，依完成順序
	started bool
	stopped bool
	mu      sync.Mutex // 保護 started / stopped / errs
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewPool 建立新的 Worker Pool
func NewPool() *Pool {
	return &Pool{}
}

// Start 為每條連線啟動一個 worker
//
// 參數：
//   - ctx: 所有 worker 共用的 context
//   - conns: worker 端連線，第 i 條交給第 i 個 worker
//   - newProc: 為每個 worker 建立 Processor
func (p *Pool) Start(ctx context.Context, conns []transport.Connection, newProc ProcessorFactory) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolStarted
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i, conn := range conns {
		w := &Worker{id: i, conn: conn, proxy: NewProxy(newProc(i))}
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			defer w.conn.Close()
			err := w.Run(ctx)
			// Stop() 造成的取消不算錯誤
			if err != nil && !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				p.mu.Lock()
				p.errs = append(p.errs, err)
				p.mu.Unlock()
			}
		}(w)
	}

	p.started = true
	return nil
}

// Wait 等待所有 worker 結束，回傳所有錯誤
func (p *Pool) Wait() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrPoolNotStarted
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	return errors.Join(p.Errors()...)
}

// Stop 提早結束所有 worker：取消 context、關閉連線並等待
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	workers := p.workers
	p.mu.Unlock()

	p.cancel()
	for _, w := range workers {
		_ = w.conn.Close()
	}
	p.wg.Wait()
}

// Errors 回傳目前為止收集到的錯誤
func (p *Pool) Errors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.errs...)
}

// GetWorkerCount 返回 worker 數量
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// IsStarted 檢查 Pool 是否已啟動
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
