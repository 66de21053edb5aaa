package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/queenflow/internal/client"
	"github.com/ShayCichocki/queenflow/internal/config"
	"github.com/ShayCichocki/queenflow/internal/orchestrator"
)

var (
	runLocal   bool
	runDetach  bool
	runSession string
	runFull    bool
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run a prompt through the agent pipeline",
	Long: `Run a prompt through the Queen, Research and Implementation agents.

By default the prompt is sent to a running server and its events are
printed as they arrive. Interrupting the command closes the stream, which
cancels the run on the server.

  --local     run the pipeline in this process instead of on a server
  --detach    create the session and print its ID without running it
  --session   run (or replay) an existing session instead of a new prompt`,
	Args: func(cmd *cobra.Command, args []string) error {
		if runSession != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runLocal, "local", false, "Run the pipeline in-process without a server")
	runCmd.Flags().BoolVar(&runDetach, "detach", false, "Create the session and exit")
	runCmd.Flags().StringVar(&runSession, "session", "", "Subscribe to an existing session")
	runCmd.Flags().BoolVar(&runFull, "full", false, "Print full stage outputs instead of excerpts")
	runCmd.MarkFlagsMutuallyExclusive("local", "detach")
	runCmd.MarkFlagsMutuallyExclusive("local", "session")
	runCmd.MarkFlagsMutuallyExclusive("detach", "session")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	prompt := strings.Join(args, " ")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := newPrinter(runFull)

	if runLocal {
		if logLevel == "" {
			cfg.Log.Level = "warn"
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()
		return runLocalPipeline(ctx, cfg, logger, prompt, p)
	}

	c := apiClient(cfg)
	switch {
	case runDetach:
		id, err := c.Submit(ctx, prompt)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	case runSession != "":
		err = c.Events(ctx, runSession, p.handle)
	default:
		err = c.MultiAgent(ctx, prompt, p.handle)
	}
	if errors.Is(err, context.Canceled) {
		fmt.Println("\nInterrupted, run cancelled.")
		return nil
	}
	if err != nil {
		return err
	}
	return p.result()
}

func runLocalPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger, prompt string, p *printer) error {
	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Nothing consumes broadcasts in-process.
	go func() {
		for range a.emitter.Events() {
		}
	}()

	p.backend(string(a.backend))
	_, events, err := a.pipeline.Orchestrate(ctx, prompt)
	if err != nil {
		return err
	}
	for ev := range events {
		if err := p.handle(frameFromEvent(ev)); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		fmt.Println("\nInterrupted, run cancelled.")
		return nil
	}
	return p.result()
}

// frameFromEvent converts an in-process event to the client's frame shape.
func frameFromEvent(ev orchestrator.StageEvent) client.Frame {
	return client.Frame{
		Type:      ev.WireType(),
		Agent:     ev.Agent,
		Status:    ev.Status,
		Message:   ev.Message,
		Content:   ev.Content,
		Stage:     ev.Stage,
		Details:   ev.Details,
		SessionID: ev.SessionID,
		Stages:    ev.Stages,
	}
}

// printer renders stream frames for the terminal.
type printer struct {
	full    bool
	failure error
	done    bool

	agent   *color.Color
	status  *color.Color
	success *color.Color
	fail    *color.Color
	dim     *color.Color
}

func newPrinter(full bool) *printer {
	return &printer{
		full:    full,
		agent:   color.New(color.FgMagenta, color.Bold),
		status:  color.New(color.FgCyan),
		success: color.New(color.FgGreen, color.Bold),
		fail:    color.New(color.FgRed, color.Bold),
		dim:     color.New(color.Faint),
	}
}

func (p *printer) backend(name string) {
	p.dim.Printf("llm backend: %s\n", name)
}

func (p *printer) handle(f client.Frame) error {
	switch f.Type {
	case orchestrator.WireAgentStatus:
		fmt.Printf("%s %s\n", p.agent.Sprint(f.Agent.DisplayName()), p.status.Sprint(f.Message))
	case orchestrator.WireAgentResponse:
		fmt.Println(p.body(f.Content))
		fmt.Println()
	case orchestrator.WireOrchestrationComplete:
		p.done = true
		fmt.Printf("%s %s\n", p.success.Sprint("✓"), f.Message)
		if f.SessionID != "" {
			p.dim.Printf("session %s\n", f.SessionID)
		}
	case orchestrator.WireChunk:
		fmt.Println(f.Content)
	case orchestrator.WireComplete:
		p.done = true
	case orchestrator.WireError:
		p.done = true
		msg := f.Message
		if msg == "" {
			msg = f.Content
		}
		p.failure = errors.New(msg)
		fmt.Printf("%s %s\n", p.fail.Sprint("✗"), msg)
		if f.Details != "" {
			p.dim.Printf("  %s\n", f.Details)
		}
		if f.SessionID != "" {
			p.dim.Printf("session %s\n", f.SessionID)
		}
	}
	return nil
}

// body indents stage output, trimmed to an excerpt unless --full.
func (p *printer) body(s string) string {
	s = strings.TrimSpace(s)
	if !p.full {
		lines := strings.Split(s, "\n")
		if len(lines) > 12 {
			s = strings.Join(lines[:12], "\n") + "\n" + p.dim.Sprintf("... %d more lines (use --full)", len(lines)-12)
		}
	}
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

// result returns the run failure, or an error if no terminal frame arrived.
func (p *printer) result() error {
	if p.failure != nil {
		return p.failure
	}
	if !p.done {
		return errors.New("stream ended without a result")
	}
	return nil
}
