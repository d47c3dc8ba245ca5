package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ChuLiYu/mwcontrol/internal/controller"
	"github.com/ChuLiYu/mwcontrol/internal/demo"
	"github.com/ChuLiYu/mwcontrol/internal/domain"
	"github.com/ChuLiYu/mwcontrol/internal/metrics"
	"github.com/ChuLiYu/mwcontrol/internal/step"
	"github.com/ChuLiYu/mwcontrol/internal/transport/grpcconn"
	"github.com/ChuLiYu/mwcontrol/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ErrWorkerCountUnknown 表示設定中既沒有 master.workers 也沒有 data.vds
var ErrWorkerCountUnknown = errors.New("worker count unknown: set master.workers or data.vds")

// masterOptions 命令列上不屬於設定檔的選項
type masterOptions struct {
	resume bool
	out    io.Writer
	ready  func(addr string) // listener 綁定後呼叫，測試用來取得實際位址
}

func buildMasterCommand() *cobra.Command {
	var listen string
	var workers int
	var resume bool

	cmd := &cobra.Command{
		Use:   "master",
		Short: "Start the master and drive the workers",
		Long:  "Listen for workers over gRPC, wait until all have attached, then run the iteration loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := prepare()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Master.Listen = listen
			}
			if workers > 0 {
				cfg.Master.Workers = workers
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err = runMaster(ctx, cfg, masterOptions{resume: resume, out: cmd.OutOrStdout()})
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (overrides master.listen)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of workers to wait for (overrides master.workers)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue from the checkpoint if one exists")

	return cmd
}

// runMaster 接受所有 worker 後跑完整個控制迴圈
func runMaster(ctx context.Context, cfg *Config, opts masterOptions) (types.RunState, error) {
	tree := demo.DefaultStrategy()
	if cfg.Data.Strategy != "" {
		t, err := step.LoadStrategy(cfg.Data.Strategy)
		if err != nil {
			return types.RunState{}, err
		}
		tree = t
	}
	solver, err := demo.NewSolver(tree)
	if err != nil {
		return types.RunState{}, err
	}

	n := cfg.Master.Workers
	if cfg.Data.Vds != "" {
		vds, err := domain.ReadVdsDescFile(cfg.Data.Vds)
		if err != nil {
			return types.RunState{}, err
		}
		if n <= 0 {
			n = len(vds.Parts)
		}
		if err := logPlacement(cfg.Data.Cluster, vds); err != nil {
			return types.RunState{}, err
		}
	}
	if n <= 0 {
		return types.RunState{}, ErrWorkerCountUnknown
	}

	lis, err := grpcconn.Listen(cfg.Master.Listen, grpcconn.Options{MaxMessageBytes: cfg.Transport.MaxMessageBytes})
	if err != nil {
		return types.RunState{}, err
	}
	defer lis.Close()
	if opts.ready != nil {
		opts.ready(lis.Addr())
	}

	slog.Info("Waiting for workers", "count", n, "addr", lis.Addr())
	conns, err := lis.Accept(ctx, n)
	if err != nil {
		return types.RunState{}, err
	}
	defer conns.Close()

	reg := prometheus.NewRegistry()
	ctrl, err := controller.NewController(conns, controller.Config{
		MaxIterations:  cfg.Master.MaxIterations,
		ReadMode:       types.ReadMode(cfg.Master.ReadMode),
		CheckpointPath: cfg.Checkpoint.Path,
		JournalPath:    cfg.Journal.Path,
	}, metrics.NewCollector(reg))
	if err != nil {
		return types.RunState{}, err
	}
	defer ctrl.Close()

	if opts.resume {
		resumed, err := ctrl.Resume()
		if err != nil {
			return types.RunState{}, err
		}
		slog.Info("Resume requested", "checkpoint_found", resumed)
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if cfg.Metrics.Enabled {
		router := metrics.NewRouter(reg, func() any { return ctrl.Status() })
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		g.Go(func() error {
			return metrics.Serve(runCtx, addr, router)
		})
	}

	var state types.RunState
	g.Go(func() error {
		// 控制迴圈結束後停止 metrics server
		defer cancel()
		infos, err := ctrl.Init(runCtx)
		if err != nil {
			return err
		}
		for i, info := range infos {
			if !info.Supports(demo.WorkTypeMean) {
				slog.Warn("Worker does not report the mean work type", "worker", i, "host", info.HostName, "work_types", info.WorkTypes)
			}
		}
		state, err = ctrl.Run(runCtx, solver)
		return err
	})

	if err := g.Wait(); err != nil {
		return state, err
	}

	if opts.out != nil {
		fmt.Fprintf(opts.out, "run %s finished: iteration=%d converged=%v quality=%g model=%g\n",
			state.RunID, state.Iteration, state.Converged, state.Quality, solver.Model())
	}
	return state, nil
}

// logPlacement 記錄每個分片可由哪些節點讀取；沒有叢集檔時不做事
func logPlacement(clusterPath string, vds *domain.VdsDesc) error {
	if clusterPath == "" {
		return nil
	}
	cluster, err := domain.ReadClusterDescFile(clusterPath)
	if err != nil {
		return err
	}
	for _, part := range vds.Parts {
		nodes := cluster.NodesFor(part.FileSys)
		if len(nodes) == 0 {
			slog.Warn("No node can read part", "part", part.Name, "filesys", part.FileSys)
			continue
		}
		slog.Info("Part placement", "part", part.Name, "filesys", part.FileSys, "nodes", nodes)
	}
	return nil
}
