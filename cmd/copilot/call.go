package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/copilot/internal/alerts"
	"github.com/joss/copilot/internal/copilot"
	"github.com/joss/copilot/internal/knowledge"
	"github.com/joss/copilot/internal/pipeline"
	"github.com/joss/copilot/internal/render"
	"github.com/joss/copilot/internal/selftest"
	"github.com/joss/copilot/internal/session"
	"github.com/joss/copilot/internal/transcript"
	"github.com/joss/copilot/internal/tui"
)

// callShutdownTimeout covers a full wrap-up when a call is interrupted.
const callShutdownTimeout = 2 * time.Minute

func callCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <partner-id>",
		Short: "Run a live call with a partner",
		Long: `Start the recognizer and surface related knowledge while you talk.

In the live view press 1-9 to share the n-th result and q to end the call.
In plain mode type a result number and Enter to share it, q to end.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plain, _ := cmd.Flags().GetBool("plain")
			return runCall(cmd.Context(), args[0], plain || !selftest.HasTTY())
		},
	}
	cmd.Flags().Bool("plain", false, "Line mode instead of the live view")
	return cmd
}

func runCall(ctx context.Context, partnerID string, plain bool) error {
	svc := newServices(cfg, callShutdownTimeout)
	stopSignals := svc.shutdown.ListenForSignals()
	defer stopSignals()

	var (
		sink copilot.ResultSink
		view copilot.TranscriptView
	)
	bridge := tui.NewBridge()
	console := newConsole(os.Stdout, render.New(pretty))
	if plain {
		sink, view = console, console
		defer svc.alerts.Subscribe(console.Alert)()
	} else {
		sink, view = bridge, bridge
		defer svc.alerts.Subscribe(bridge.Alert)()
	}

	cp, err := svc.copilot(ctx, sink, view)
	if err != nil {
		svc.close()
		return err
	}

	// an interrupted call still gets its wrap-up before stores close
	var (
		mu          sync.Mutex
		interrupted *pipeline.Result
	)
	svc.shutdown.Register("call", func(ctx context.Context) error {
		res, err := cp.End(ctx)
		if errors.Is(err, copilot.ErrNoCall) {
			return nil
		}
		mu.Lock()
		interrupted = res
		mu.Unlock()
		return err
	})

	snap, err := cp.Begin(ctx, partnerID)
	if err != nil {
		svc.close()
		return err
	}

	var res *pipeline.Result
	if plain {
		fmt.Printf("Call with %s started. Number+Enter shares a result, q ends the call.\n", snap.Partner.Name)
		res, err = console.run(svc.shutdown.Context(), cp, os.Stdin)
	} else {
		res, err = tui.Run(svc.shutdown.Context(), cp, snap.Partner.Name, bridge)
	}

	if cerr := svc.close(); cerr != nil {
		svc.log.Warn("shutdown_errors", nil, cerr)
	}
	if res == nil {
		mu.Lock()
		res = interrupted
		mu.Unlock()
	}
	if res != nil {
		fmt.Print(render.New(pretty).Wrapup(res))
		return nil
	}
	return err
}

// console is the plain-mode result sink and transcript echo.
type console struct {
	mu  sync.Mutex
	out *render.Writer
	r   *render.Renderer
}

func newConsole(w io.Writer, r *render.Renderer) *console {
	return &console{out: render.NewWriter(w), r: r}
}

func (c *console) Show(results []knowledge.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Raw(c.r.Results(results))
}

func (c *console) Clear() {}

func (c *console) Live(string) {}

func (c *console) Final(text string) {
	c.say("» %s", text)
}

func (c *console) say(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Println(format, args...)
}

func (c *console) Alert(a alerts.Alert) {
	if a.Component == "recognizer" && a.Level == alerts.LevelInfo {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Raw(c.r.Alert(a))
}

// call is the slice of the copilot the line loop drives.
type call interface {
	Invoke(n int) (session.Invocation, error)
	End(ctx context.Context) (*pipeline.Result, error)
}

// run reads commands from in until q, end of input or ctx cancellation.
// On cancellation the shutdown handler owns the wrap-up and run returns the
// context error.
func (c *console) run(ctx context.Context, cp call, in io.Reader) (*pipeline.Result, error) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case line, ok := <-lines:
			if !ok || line == "q" || line == "quit" {
				return cp.End(context.Background())
			}
			if line == "" {
				continue
			}
			n, err := strconv.Atoi(line)
			if err != nil {
				c.say("type a result number or q")
				continue
			}
			inv, err := cp.Invoke(n)
			if err != nil {
				c.say("%v", err)
				continue
			}
			c.say("shared %s at %s", inv.ItemName, transcript.FormatElapsed(inv.Elapsed))
		}
	}
}
