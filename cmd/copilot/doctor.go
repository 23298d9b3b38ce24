package main

import (
	"context"
	"errors"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joss/copilot/internal/graph"
	"github.com/joss/copilot/internal/render"
	"github.com/joss/copilot/internal/runtime"
	"github.com/joss/copilot/internal/selftest"
)

var errUnhealthy = errors.New("required dependencies are missing")

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the dependencies a call needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := newServices(cfg, runtime.DefaultShutdownTimeout)
			defer svc.close()

			report := runDoctor(cmd.Context(), svc)
			printReport(render.NewWriter(os.Stdout), report)
			if report.Status == selftest.Unhealthy {
				return errUnhealthy
			}
			return nil
		},
	}
}

func runDoctor(ctx context.Context, svc *services) *selftest.Report {
	var pinger selftest.Pinger
	mg, err := graph.ConnectWithRetry(ctx, svc.cfg.Graph, 1)
	if err == nil {
		svc.shutdown.RegisterCloser("graph", mg.Close)
		pinger = mg
	}
	return selftest.NewChecker(svc.cfg, svc.runner, pinger, err).Run(ctx)
}

func printReport(w *render.Writer, report *selftest.Report) {
	w.Section("dependencies")
	for _, name := range report.Names() {
		c := report.Components[name]
		icon := render.StatusIcon(c.Status)
		switch c.Status {
		case selftest.StatusOK:
			icon = color.New(color.FgGreen).Sprint(icon)
		case selftest.StatusDegraded:
			icon = color.New(color.FgYellow).Sprint(icon)
		default:
			icon = color.New(color.FgRed).Sprint(icon)
		}
		w.Item("%s %-11s %s", icon, name, c.Detail)
		if c.Error != "" {
			w.Nested("%s", c.Error)
		}
	}
	w.Println("")
	w.Println("Status: %s", report.Status)
}
