// ============================================================================
// mwcontrol 控制器 - Master 控制迴圈
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: master 端的回合式協定，驅動所有 worker 完成一次迭代求解
//
// 架構設計:
//   Controller 是 master 的"大腦"，協調以下組件：
//   - ConnectionSet: 每個 worker 一條連線，index 即 worker id
//   - Driver: 應用程式提供的 step 產生、合併與求解邏輯
//   - Journal: 每一步的 append-only 紀錄，用於檢查與對帳
//   - Snapshot: 每次迭代後保存狀態與模型，用於續跑
//   - Metrics: 回合數、傳輸量、等待時間與 worker 回報的時間
//
// 每次迭代（單一邏輯執行緒）:
//   1. Driver.NextStep(iter) 產生 step 樹，只序列化一次
//   2. WriteAll 將同一個信封送給所有 worker
//   3. 收集回覆（sequential / poll / concurrent），一律依 index 順序合併
//   4. Driver.Solve 求解，回報品質與是否收斂
//   5. 未收斂且仍有預算 → 廣播 OpUpdateModel（worker 不回覆），回到 1
//   結束時廣播 quit 訊號（負數操作碼）。
//
// 錯誤處理:
//   沒有任何重試。版本不符、回覆不符、連線錯誤都會中止整個 run，
//   先盡力送出 quit 再把錯誤往上交給 CLI 的 RunE。
//
// 並發安全:
//   State 只由控制迴圈修改；mu 只用來讓 Status() 從其他 goroutine
//   （例如 /status HTTP handler）讀取一致的快照。
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/mwcontrol/internal/blob"
	"github.com/ChuLiYu/mwcontrol/internal/envelope"
	"github.com/ChuLiYu/mwcontrol/internal/metrics"
	"github.com/ChuLiYu/mwcontrol/internal/snapshot"
	"github.com/ChuLiYu/mwcontrol/internal/step"
	"github.com/ChuLiYu/mwcontrol/internal/storage/journal"
	"github.com/ChuLiYu/mwcontrol/internal/transport"
	"github.com/ChuLiYu/mwcontrol/internal/worker"
	"github.com/ChuLiYu/mwcontrol/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var log = slog.Default()

// quitTimeout 中止時送出 quit 的時間上限
const quitTimeout = 5 * time.Second

// NoWorker 是 master 廣播訊息中的 worker id 欄位
const NoWorker int32 = -1

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrNoWorkers 表示連線集合是空的
	ErrNoWorkers = errors.New("controller: no workers")
	// ErrInvalidConfig 表示設定值不合法
	ErrInvalidConfig = errors.New("controller: invalid config")
	// ErrNotInitialized 表示 Run 之前沒有呼叫 Init
	ErrNotInitialized = errors.New("controller: workers not initialized")
)

// ReplyMismatchError 表示 worker 的回覆與預期不符
type ReplyMismatchError struct {
	Worker int    // 回覆來自哪條連線
	Field  string // "operation"、"worker" 或 "stream"
	Got    int32
	Want   int32
}

func (e *ReplyMismatchError) Error() string {
	return fmt.Sprintf("controller: reply from worker %d has %s %d, want %d", e.Worker, e.Field, e.Got, e.Want)
}

// ============================================================================
// 資料結構定義
// ============================================================================

// Solution 一次求解的結果
type Solution struct {
	Converged bool    // 是否收斂
	Quality   float64 // 品質指標（例如殘差），越小越好
	Model     []byte  // 要廣播給 worker 的模型
}

// Driver 是應用程式的求解邏輯
//
// 所有方法都只由控制迴圈呼叫，不需要自行加鎖。
type Driver interface {
	// NextStep 產生第 iteration 次迭代要送給所有 worker 的 step 樹
	NextStep(iteration int) (*step.Tree, error)
	// Merge 合併 worker 的回覆；每次迭代依 worker index 由小到大呼叫
	Merge(worker int, rd *blob.Reader) error
	// Solve 用本次迭代合併的結果求解
	Solve(ctx context.Context, iteration int) (Solution, error)
}

// ModelRestorer 由能從 checkpoint 恢復模型的 Driver 實作
type ModelRestorer interface {
	RestoreModel(model []byte) error
}

// Config Controller 配置
type Config struct {
	MaxIterations  int            // 迭代上限
	ReadMode       types.ReadMode // 收集回覆的方式，空字串視為 sequential
	CheckpointPath string         // 快照檔案路徑，空字串表示不保存
	JournalPath    string         // journal 檔案路徑，空字串表示不記錄
}

// Validate 檢查設定並補上預設值
func (c *Config) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("%w: max iterations must be positive, got %d", ErrInvalidConfig, c.MaxIterations)
	}
	if c.ReadMode == "" {
		c.ReadMode = types.ReadSequential
	}
	if !c.ReadMode.Valid() {
		return fmt.Errorf("%w: unknown read mode %q", ErrInvalidConfig, c.ReadMode)
	}
	return nil
}

// Controller master 控制迴圈
type Controller struct {
	conns    *transport.ConnectionSet
	config   Config
	journal  *journal.Journal   // nil 表示不記錄
	snapshot *snapshot.Manager  // nil 表示不保存
	metrics  *metrics.Collector // nil 表示不收集

	mu    sync.Mutex     // 保護 state
	state types.RunState // 只由控制迴圈修改

	infos       []worker.WorkerInfo
	model       []byte // 最後一次廣播的模型
	resumed     bool   // 是否從 checkpoint 恢復
	sendBuf     []byte
	replies     [][]byte // 每個 worker 的回覆緩衝區，跨迭代重用
	initialized bool
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewController 建立新的 Controller 實例
//
// 參數：
//   - conns: worker 連線，第 i 條連線即 worker i
//   - config: Controller 配置
//   - m: 指標收集器，可為 nil
func NewController(conns *transport.ConnectionSet, config Config, m *metrics.Collector) (*Controller, error) {
	if conns == nil || conns.Size() == 0 {
		return nil, ErrNoWorkers
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		conns:   conns,
		config:  config,
		metrics: m,
		state: types.RunState{
			RunID:     uuid.NewString(),
			Iteration: -1,
			Workers:   conns.Size(),
		},
		replies: make([][]byte, conns.Size()),
	}

	if config.JournalPath != "" {
		j, err := journal.Open(config.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		c.journal = j
	}
	if config.CheckpointPath != "" {
		c.snapshot = snapshot.NewManager(config.CheckpointPath)
	}

	m.SetWorkers(conns.Size())
	return c, nil
}

// Resume 從 checkpoint 恢復狀態
//
// 沒有 checkpoint 時回傳 false 並從頭開始；恢復後 Run 會先把保存的
// 模型廣播給 worker，再從下一次迭代繼續。
func (c *Controller) Resume() (bool, error) {
	if c.snapshot == nil {
		return false, nil
	}

	data, err := c.snapshot.Load()
	if errors.Is(err, snapshot.ErrSnapshotNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if data.State.Workers != c.conns.Size() {
		return false, fmt.Errorf("checkpoint was taken with %d workers, have %d", data.State.Workers, c.conns.Size())
	}

	c.setState(data.State)
	c.model = data.Model
	c.resumed = true

	log.Info("Resumed from checkpoint",
		"run_id", data.State.RunID,
		"iteration", data.State.Iteration,
		"converged", data.State.Converged)
	return true, nil
}

// Init 與每個 worker 進行初始化交換
//
// 送出 OpInit（worker id = index），再依 index 順序讀取 WorkerInfo。
func (c *Controller) Init(ctx context.Context) ([]worker.WorkerInfo, error) {
	n := c.conns.Size()
	for i := 0; i < n; i++ {
		if err := c.conns.Write(ctx, i, envelope.Message(types.OpInit, 0, int32(i))); err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
	}

	infos := make([]worker.WorkerInfo, n)
	for i := 0; i < n; i++ {
		buf, err := c.conns.Read(ctx, i, c.replies[i])
		if err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
		c.replies[i] = buf

		msg, err := c.openReply(i, buf, types.OpInit, 0)
		if err != nil {
			return nil, err
		}
		info, err := worker.DecodeWorkerInfo(msg.Payload())
		if err != nil {
			return nil, fmt.Errorf("init: worker %d: %w", i, err)
		}
		if err := msg.Close(); err != nil {
			return nil, fmt.Errorf("init: worker %d: %w", i, err)
		}
		infos[i] = info

		c.record(journal.Event{Type: journal.EventInit, Iteration: c.Status().Iteration, Worker: i}, false)
		log.Info("Worker initialized", "worker", i, "host", info.HostName, "work_types", info.WorkTypes)
	}

	c.infos = infos
	c.initialized = true
	return infos, nil
}

// Workers 回傳 Init 取得的 WorkerInfo
func (c *Controller) Workers() []worker.WorkerInfo { return c.infos }

// Run 執行控制迴圈直到收斂或用完迭代預算
//
// 正常結束與錯誤結束都會送出 quit；錯誤時只盡力而為。
func (c *Controller) Run(ctx context.Context, d Driver) (types.RunState, error) {
	if !c.initialized {
		return c.Status(), ErrNotInitialized
	}

	if err := c.run(ctx, d); err != nil {
		log.Error("Run aborted", "run_id", c.Status().RunID, "error", err)
		quitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), quitTimeout)
		defer cancel()
		if qerr := c.quit(quitCtx); qerr != nil {
			log.Warn("Failed to send quit after error", "error", qerr)
		}
		return c.Status(), err
	}

	if err := c.quit(ctx); err != nil {
		return c.Status(), err
	}
	return c.Status(), nil
}

func (c *Controller) run(ctx context.Context, d Driver) error {
	start := c.Status()

	if c.resumed && c.model != nil {
		if r, ok := d.(ModelRestorer); ok {
			if err := r.RestoreModel(c.model); err != nil {
				return fmt.Errorf("restore model: %w", err)
			}
		}
		if err := c.broadcastModel(ctx, start.Iteration, c.model); err != nil {
			return err
		}
	}
	if start.Converged {
		log.Info("Checkpoint already converged", "iteration", start.Iteration)
		return nil
	}

	for iter := start.Iteration + 1; iter < c.config.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		sol, err := c.iterate(ctx, d, iter)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", iter, err)
		}

		last := sol.Converged || iter+1 >= c.config.MaxIterations
		if !last {
			if err := c.broadcastModel(ctx, iter, sol.Model); err != nil {
				return fmt.Errorf("iteration %d: %w", iter, err)
			}
		}
		c.model = sol.Model

		if err := c.checkpoint(); err != nil {
			return err
		}
		if sol.Converged {
			log.Info("Converged", "iteration", iter, "quality", sol.Quality)
			return nil
		}
	}

	log.Info("Iteration budget exhausted", "max_iterations", c.config.MaxIterations)
	return nil
}

// iterate 執行一次迭代的步驟 1~4
func (c *Controller) iterate(ctx context.Context, d Driver, iter int) (Solution, error) {
	tree, err := d.NextStep(iter)
	if err != nil {
		return Solution{}, fmt.Errorf("next step: %w", err)
	}

	// 1. 只序列化一次
	w := envelope.BeginInto(c.sendBuf, types.OpStep, int32(iter), NoWorker)
	step.Encode(tree, w.Payload())
	msg := w.Finish()
	c.sendBuf = msg[:0]

	// 2. 送給所有 worker
	if err := c.conns.WriteAll(ctx, msg); err != nil {
		return Solution{}, err
	}
	c.metrics.RecordSent(c.conns.Size(), len(msg))
	c.record(journal.Event{Type: journal.EventDispatch, Iteration: iter, Worker: journal.NoWorker}, false)

	// 3. 收集並依 index 順序合併
	start := time.Now()
	if err := c.collect(ctx, d, iter); err != nil {
		return Solution{}, err
	}
	c.metrics.ObserveReplyWait(time.Since(start).Seconds())

	// 4. 求解
	sol, err := d.Solve(ctx, iter)
	if err != nil {
		return Solution{}, fmt.Errorf("solve: %w", err)
	}

	c.mu.Lock()
	c.state.Iteration = iter
	c.state.Converged = sol.Converged
	c.state.Quality = sol.Quality
	c.mu.Unlock()

	c.metrics.RecordRound(iter, sol.Quality)
	c.record(journal.Event{Type: journal.EventSolve, Iteration: iter, Worker: journal.NoWorker, Quality: sol.Quality}, true)
	log.Info("Iteration solved",
		"iteration", iter,
		"quality", sol.Quality,
		"converged", sol.Converged,
		"duration", time.Since(start))

	return sol, nil
}

// ============================================================================
// 收集回覆
// ============================================================================

func (c *Controller) collect(ctx context.Context, d Driver, iter int) error {
	switch c.config.ReadMode {
	case types.ReadPoll:
		if err := c.readPolling(ctx); err != nil {
			return err
		}
	case types.ReadConcurrent:
		if err := c.readConcurrent(ctx); err != nil {
			return err
		}
	default:
		// 讀一個合併一個
		for i := range c.replies {
			if err := c.readOne(ctx, i); err != nil {
				return err
			}
			if err := c.merge(d, i, iter); err != nil {
				return err
			}
		}
		return nil
	}

	for i := range c.replies {
		if err := c.merge(d, i, iter); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) readOne(ctx context.Context, i int) error {
	buf, err := c.conns.Read(ctx, i, c.replies[i])
	if err != nil {
		return err
	}
	c.replies[i] = buf
	c.metrics.RecordReceived(len(buf))
	return nil
}

// readPolling 先讀已就緒的連線；沒有就緒的就阻塞在最小的未讀 index
func (c *Controller) readPolling(ctx context.Context) error {
	got := make([]bool, len(c.replies))
	next := 0 // 最小的未讀 index
	for remaining := len(c.replies); remaining > 0; remaining-- {
		i := c.conns.ReadyConnection()
		if i == transport.NoneReady || got[i] {
			for got[next] {
				next++
			}
			i = next
		}
		if err := c.readOne(ctx, i); err != nil {
			return err
		}
		got[i] = true
	}
	return nil
}

// readConcurrent 每條連線一個 goroutine，各自寫入自己的緩衝區
func (c *Controller) readConcurrent(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	sizes := make([]int, len(c.replies))
	for i := range c.replies {
		g.Go(func() error {
			buf, err := c.conns.Read(gctx, i, c.replies[i])
			if err != nil {
				return err
			}
			c.replies[i] = buf
			sizes[i] = len(buf)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, n := range sizes {
		c.metrics.RecordReceived(n)
	}
	return nil
}

// merge 驗證 worker i 的回覆並交給 Driver
func (c *Controller) merge(d Driver, i, iter int) error {
	msg, err := c.openReply(i, c.replies[i], types.OpStep, int32(iter))
	if err != nil {
		return err
	}
	if err := d.Merge(i, msg.Payload()); err != nil {
		return fmt.Errorf("merge worker %d: %w", i, err)
	}
	if err := msg.Close(); err != nil {
		return fmt.Errorf("merge worker %d: %w", i, err)
	}

	c.metrics.ObserveWorkerTimes(i, msg.Times())
	c.record(journal.Event{Type: journal.EventMerge, Iteration: iter, Worker: i}, false)
	return nil
}

// openReply 開啟回覆並檢查操作碼、worker id 與 stream id
func (c *Controller) openReply(i int, buf []byte, op types.Operation, stream int32) (*envelope.Reader, error) {
	msg, err := envelope.Open(buf)
	if err != nil {
		return nil, fmt.Errorf("reply from worker %d: %w", i, err)
	}
	switch {
	case msg.Operation() != op:
		return nil, &ReplyMismatchError{Worker: i, Field: "operation", Got: msg.Operation(), Want: op}
	case msg.WorkerID() != int32(i):
		return nil, &ReplyMismatchError{Worker: i, Field: "worker", Got: msg.WorkerID(), Want: int32(i)}
	case msg.StreamID() != stream:
		return nil, &ReplyMismatchError{Worker: i, Field: "stream", Got: msg.StreamID(), Want: stream}
	}
	return msg, nil
}

// ============================================================================
// 廣播
// ============================================================================

// broadcastModel 送出 OpUpdateModel，worker 不回覆
func (c *Controller) broadcastModel(ctx context.Context, iter int, model []byte) error {
	w := envelope.BeginInto(c.sendBuf, types.OpUpdateModel, int32(iter), NoWorker)
	w.Payload().PutBytes(model)
	msg := w.Finish()
	c.sendBuf = msg[:0]

	if err := c.conns.WriteAll(ctx, msg); err != nil {
		return fmt.Errorf("broadcast model: %w", err)
	}
	c.metrics.RecordSent(c.conns.Size(), len(msg))
	c.record(journal.Event{Type: journal.EventBroadcast, Iteration: iter, Worker: journal.NoWorker}, false)
	return nil
}

// quit 送出終止訊號
func (c *Controller) quit(ctx context.Context) error {
	msg := envelope.QuitMessage()
	if err := c.conns.WriteAll(ctx, msg); err != nil {
		return fmt.Errorf("send quit: %w", err)
	}
	c.metrics.RecordSent(c.conns.Size(), len(msg))
	c.record(journal.Event{Type: journal.EventQuit, Iteration: c.Status().Iteration, Worker: journal.NoWorker}, true)
	log.Info("Quit sent", "workers", c.conns.Size())
	return nil
}

// ============================================================================
// 狀態與持久化
// ============================================================================

// checkpoint 保存目前狀態與模型
func (c *Controller) checkpoint() error {
	if c.snapshot == nil {
		return nil
	}
	data := types.SnapshotData{
		State:   c.Status(),
		Model:   c.model,
		LastSeq: c.journal.LastSeq(),
	}
	if err := c.snapshot.Write(data); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// record 寫入 journal；journal 寫入失敗只記錄警告，不影響求解
func (c *Controller) record(e journal.Event, force bool) {
	if c.journal == nil {
		return
	}
	e.RunID = c.Status().RunID
	if err := c.journal.Append(e, force); err != nil {
		log.Warn("Failed to append journal event", "type", e.Type, "error", err)
	}
}

func (c *Controller) setState(s types.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Status 取得目前狀態的副本，可從任何 goroutine 呼叫
func (c *Controller) Status() types.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close 關閉 journal；連線由呼叫端關閉
func (c *Controller) Close() error {
	if c.journal == nil {
		return nil
	}
	return c.journal.Close()
}
