package demo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ChuLiYu/mwcontrol/internal/controller"
	"github.com/ChuLiYu/mwcontrol/internal/domain"
	"github.com/ChuLiYu/mwcontrol/internal/metrics"
	"github.com/ChuLiYu/mwcontrol/internal/step"
	"github.com/ChuLiYu/mwcontrol/internal/transport"
	"github.com/ChuLiYu/mwcontrol/internal/transport/inproc"
	"github.com/ChuLiYu/mwcontrol/internal/worker"
	"github.com/ChuLiYu/mwcontrol/pkg/types"
)

// 行程內 transport 種類
const (
	TransportPipe   = "pipe"   // 每個 worker 一個 goroutine，透過 channel pipe 溝通
	TransportDirect = "direct" // 不開 goroutine，Send 直接呼叫 worker
)

// ErrUnknownTransport 表示 LocalOptions.Transport 不是已知值
var ErrUnknownTransport = errors.New("demo: unknown local transport")

// LocalOptions RunLocal 的設定
type LocalOptions struct {
	Transport string             // TransportPipe（預設）或 TransportDirect
	Config    controller.Config  // 控制迴圈設定
	Strategy  *step.Tree         // nil 時使用 DefaultStrategy()
	Metrics   *metrics.Collector // 可為 nil
	Resume    bool               // 是否從 checkpoint 續跑
}

// LocalResult RunLocal 的結果
type LocalResult struct {
	State   types.RunState
	Model   float64
	Workers []worker.WorkerInfo
}

// RunLocal 在單一行程內跑完整的 master/worker 迴圈，每個分片一個 worker
func RunLocal(ctx context.Context, vds *domain.VdsDesc, opts LocalOptions) (LocalResult, error) {
	if len(vds.Parts) == 0 {
		return LocalResult{}, controller.ErrNoWorkers
	}
	tree := opts.Strategy
	if tree == nil {
		tree = DefaultStrategy()
	}
	solver, err := NewSolver(tree)
	if err != nil {
		return LocalResult{}, err
	}

	reg := step.NewRegistry()
	conns := transport.NewConnectionSet("demo")
	defer conns.Close()

	var pool *worker.Pool
	switch opts.Transport {
	case "", TransportPipe:
		workerEnds := make([]transport.Connection, len(vds.Parts))
		for i := range vds.Parts {
			m, w := inproc.Pipe(1)
			conns.Add(m)
			workerEnds[i] = w
		}
		pool = worker.NewPool()
		if err := pool.Start(ctx, workerEnds, func(i int) worker.Processor {
			return NewWorker(vds.Parts[i]).Processor(reg)
		}); err != nil {
			return LocalResult{}, err
		}
		defer pool.Stop()

	case TransportDirect:
		for _, part := range vds.Parts {
			proxy := worker.NewProxy(NewWorker(part).Processor(reg))
			conns.Add(inproc.Direct(part.Name, proxy))
		}

	default:
		return LocalResult{}, fmt.Errorf("%w: %q", ErrUnknownTransport, opts.Transport)
	}

	ctrl, err := controller.NewController(conns, opts.Config, opts.Metrics)
	if err != nil {
		return LocalResult{}, err
	}
	defer ctrl.Close()

	if opts.Resume {
		if _, err := ctrl.Resume(); err != nil {
			return LocalResult{}, err
		}
	}

	infos, err := ctrl.Init(ctx)
	if err != nil {
		return LocalResult{}, err
	}

	state, err := ctrl.Run(ctx, solver)
	if err != nil {
		return LocalResult{State: state}, err
	}

	if pool != nil {
		if err := pool.Wait(); err != nil {
			return LocalResult{State: state}, fmt.Errorf("workers: %w", err)
		}
	}

	slog.Info("Local run finished",
		"run_id", state.RunID,
		"iteration", state.Iteration,
		"converged", state.Converged,
		"model", solver.Model())

	return LocalResult{State: state, Model: solver.Model(), Workers: infos}, nil
}
