package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ChuLiYu/mwcontrol/internal/controller"
	"github.com/ChuLiYu/mwcontrol/internal/demo"
	"github.com/ChuLiYu/mwcontrol/internal/metrics"
	"github.com/ChuLiYu/mwcontrol/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	demoDir   = "demo-data"
	demoParts = 4
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/demo/main.go <start|recover|run>")
		os.Exit(1)
	}

	mode := os.Args[1]
	if err := os.MkdirAll(demoDir, 0o755); err != nil {
		log.Fatalf("Failed to create %s: %v", demoDir, err)
	}

	cfg := controller.Config{
		MaxIterations:  20,
		ReadMode:       types.ReadConcurrent,
		CheckpointPath: filepath.Join(demoDir, "state.json"),
		JournalPath:    filepath.Join(demoDir, "rounds.log"),
	}
	resume := false

	switch mode {
	case "start":
		// 只跑一次迭代，留下尚未收斂的 checkpoint 給 recover 接手
		os.Remove(cfg.CheckpointPath)
		os.Remove(cfg.JournalPath)
		cfg.MaxIterations = 1
	case "recover":
		resume = true
	case "run":
		os.Remove(cfg.CheckpointPath)
		os.Remove(cfg.JournalPath)
	default:
		log.Fatalf("Unknown mode %q", mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	vds := demo.SyntheticVds(demoParts)
	fmt.Printf("✓ %d workers, one per part (mode: %s)\n", len(vds.Parts), mode)

	start := time.Now()
	res, err := demo.RunLocal(ctx, vds, demo.LocalOptions{
		Config:  cfg,
		Metrics: metrics.NewCollector(reg),
		Resume:  resume,
	})
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	fmt.Printf("\n📊 Run %s:\n", res.State.RunID)
	fmt.Printf("  Iteration: %d\n", res.State.Iteration)
	fmt.Printf("  Converged: %v\n", res.State.Converged)
	fmt.Printf("  Quality:   %g\n", res.State.Quality)
	fmt.Printf("  Model:     %g\n", res.Model)
	fmt.Printf("  Elapsed:   %s\n", time.Since(start).Round(time.Millisecond))
	for i, w := range res.Workers {
		fmt.Printf("  Worker %d:  %s %v\n", i, w.HostName, w.WorkTypes)
	}

	families, err := reg.Gather()
	if err != nil {
		log.Fatalf("Failed to gather metrics: %v", err)
	}
	fmt.Printf("\n📡 Metrics:\n")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				fmt.Printf("  %-36s %g\n", mf.GetName(), c.GetValue())
			}
		}
	}

	if mode == "start" && !res.State.Converged {
		fmt.Printf("\n💡 Not converged yet. Run 'go run cmd/demo/main.go recover' to continue from the checkpoint\n")
	}
}
