package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/copilot/internal/pipeline"
	"github.com/joss/copilot/internal/render"
	"github.com/joss/copilot/internal/runtime"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"calls"},
		Short:   "Browse archived calls",
	}
	cmd.AddCommand(sessionsListCmd(), sessionsShowCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			svc := newServices(cfg, runtime.DefaultShutdownTimeout)
			defer svc.close()
			st, err := svc.openArchive()
			if err != nil {
				return err
			}

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Print(render.New(pretty).Runs(runs))
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of calls to show")
	return cmd
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one archived call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := newServices(cfg, runtime.DefaultShutdownTimeout)
			defer svc.close()
			st, err := svc.openArchive()
			if err != nil {
				return err
			}

			run, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Print(render.New(pretty).Run(run))
			return nil
		},
	}
}

// replayCmd re-runs the post-session pipeline on an archived snapshot. The
// new run replaces the archived one.
func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <session-id>",
		Short: "Re-run the wrap-up for an archived call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			offline, _ := cmd.Flags().GetBool("offline")

			svc := newServices(cfg, runtime.DefaultShutdownTimeout)
			defer svc.close()
			st, err := svc.openArchive()
			if err != nil {
				return err
			}
			snap, err := st.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var items pipeline.Items
			if !offline {
				store, gerr := svc.connect(cmd.Context())
				if gerr != nil {
					svc.log.Warn("replay_without_graph", map[string]interface{}{"session": snap.ID}, gerr)
				} else {
					items = store
				}
			}
			p, err := svc.pipeline(items)
			if err != nil {
				return err
			}

			start := time.Now()
			res := p.Run(cmd.Context(), snap)
			svc.log.TimedEvent("replay", start, map[string]interface{}{"session": snap.ID, "failed": len(res.Errors)})
			fmt.Print(render.New(pretty).Wrapup(res))
			return nil
		},
	}
	cmd.Flags().Bool("offline", false, "Skip the knowledge graph (no clip names or new connections)")
	return cmd
}
