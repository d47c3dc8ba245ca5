package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ChuLiYu/mwcontrol/internal/demo"
	"github.com/ChuLiYu/mwcontrol/internal/domain"
	"github.com/ChuLiYu/mwcontrol/internal/step"
	"github.com/ChuLiYu/mwcontrol/internal/transport/grpcconn"
	"github.com/ChuLiYu/mwcontrol/internal/worker"
	"github.com/spf13/cobra"
)

func buildWorkerCommand() *cobra.Command {
	var masterAddr string
	var part int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start a worker serving one data part",
		Long:  "Attach to the master over gRPC and execute steps on one part of the dataset until the master quits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := prepare()
			if err != nil {
				return err
			}
			if masterAddr != "" {
				cfg.Worker.Master = masterAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWorker(ctx, cfg, part)
		},
	}

	cmd.Flags().StringVar(&masterAddr, "master", "", "Master address (overrides worker.master)")
	cmd.Flags().IntVar(&part, "part", 0, "Index of the data part in the VDS file")

	return cmd
}

// runWorker 服務 VDS 檔中第 part 個分片，直到 master 送出 quit
func runWorker(ctx context.Context, cfg *Config, part int) error {
	if cfg.Data.Vds == "" {
		return fmt.Errorf("worker needs data.vds in the config")
	}
	vds, err := domain.ReadVdsDescFile(cfg.Data.Vds)
	if err != nil {
		return err
	}
	if part < 0 || part >= len(vds.Parts) {
		return fmt.Errorf("part %d out of range: %s has %d parts", part, cfg.Data.Vds, len(vds.Parts))
	}

	w := demo.NewWorker(vds.Parts[part])
	proc := w.Processor(step.NewRegistry())
	if len(cfg.Worker.WorkTypes) > 0 {
		proc.Info = worker.NewWorkerInfo(cfg.Worker.WorkTypes...)
	}

	slog.Info("Starting worker", "master", cfg.Worker.Master, "part", vds.Parts[part].Name)
	src := worker.NewGrpcSource(cfg.Worker.Master, grpcconn.Options{MaxMessageBytes: cfg.Transport.MaxMessageBytes})
	if err := worker.Run(ctx, src, proc); err != nil {
		return err
	}
	slog.Info("Worker finished", "part", vds.Parts[part].Name, "model", w.Model())
	return nil
}
