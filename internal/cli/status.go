package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ChuLiYu/mwcontrol/internal/snapshot"
	"github.com/ChuLiYu/mwcontrol/internal/storage/journal"
	"github.com/spf13/cobra"
)

var journalTypes = []journal.EventType{
	journal.EventInit,
	journal.EventDispatch,
	journal.EventMerge,
	journal.EventSolve,
	journal.EventBroadcast,
	journal.EventQuit,
}

func buildStatusCommand() *cobra.Command {
	var checkpointPath, journalPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show run status from the checkpoint and journal",
		Long:  "Display the last checkpointed iteration state and a summary of the round journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := prepare()
			if err != nil {
				return err
			}
			if checkpointPath != "" {
				cfg.Checkpoint.Path = checkpointPath
			}
			if journalPath != "" {
				cfg.Journal.Path = journalPath
			}
			return showStatus(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "Checkpoint file (overrides checkpoint.path)")
	cmd.Flags().StringVar(&journalPath, "journal", "", "Journal file (overrides journal.path)")

	return cmd
}

func showStatus(w io.Writer, cfg *Config) error {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           mwctl Run Status                                ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📋 Configuration:")
	fmt.Fprintf(w, "  ├─ Listen:          %s\n", cfg.Master.Listen)
	fmt.Fprintf(w, "  ├─ Max Iterations:  %d\n", cfg.Master.MaxIterations)
	fmt.Fprintf(w, "  └─ Read Mode:       %s\n", cfg.Master.ReadMode)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "💾 Checkpoint:")
	if cfg.Checkpoint.Path == "" {
		fmt.Fprintln(w, "  └─ Disabled")
	} else {
		data, err := snapshot.NewManager(cfg.Checkpoint.Path).Load()
		switch {
		case errors.Is(err, snapshot.ErrSnapshotNotFound):
			fmt.Fprintf(w, "  └─ None at %s\n", cfg.Checkpoint.Path)
		case err != nil:
			return err
		default:
			s := data.State
			fmt.Fprintf(w, "  ├─ Run ID:     %s\n", s.RunID)
			fmt.Fprintf(w, "  ├─ Iteration:  %d\n", s.Iteration)
			fmt.Fprintf(w, "  ├─ Converged:  %v\n", s.Converged)
			fmt.Fprintf(w, "  ├─ Quality:    %g\n", s.Quality)
			fmt.Fprintf(w, "  ├─ Workers:    %d\n", s.Workers)
			fmt.Fprintf(w, "  └─ Journal at: seq %d\n", data.LastSeq)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📜 Journal:")
	if cfg.Journal.Path == "" {
		fmt.Fprintln(w, "  └─ Disabled")
		return nil
	}

	counts := make(map[journal.EventType]int)
	var last journal.Event
	err := journal.ReplayFile(cfg.Journal.Path, func(e journal.Event) error {
		counts[e.Type]++
		last = e
		return nil
	})
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(w, "  └─ None at %s\n", cfg.Journal.Path)
		return nil
	case err != nil:
		return err
	}

	for _, t := range journalTypes {
		fmt.Fprintf(w, "  ├─ %-10s %d\n", t, counts[t])
	}
	fmt.Fprintf(w, "  └─ Last:      seq %d %s iteration %d\n", last.Seq, last.Type, last.Iteration)
	return nil
}
