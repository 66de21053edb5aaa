package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/queenflow/internal/client"
	"github.com/ShayCichocki/queenflow/internal/orchestrator"
	"github.com/ShayCichocki/queenflow/pkg/models"
)

// StreamFunc streams frames for a prompt until a terminal frame, an error,
// or ctx cancellation.
type StreamFunc func(ctx context.Context, prompt string, fn client.HandlerFunc) error

// FrameMsg carries one stream frame into the view.
type FrameMsg struct {
	Frame client.Frame
}

// DoneMsg signals that the stream ended.
type DoneMsg struct {
	Err error
}

// RowState is the display state of one agent row.
type RowState int

const (
	RowPending RowState = iota
	RowWorking
	RowDone
	RowFailed
)

// AgentRow is one agent's line in the view.
type AgentRow struct {
	Agent   models.AgentID
	State   RowState
	Message string
	Excerpt string
	Started time.Time
	Elapsed time.Duration
}

// excerptWidth bounds the stage output shown per row.
const excerptWidth = 72

// WatchApp is the bubbletea model for the watch command.
type WatchApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream StreamFunc
	now    func() time.Time

	prompt    string
	input     *InputField
	spinner   spinner.Model
	rows      []AgentRow
	sessionID string
	stages    *orchestrator.StageOutputs
	failure   string
	err       error
	running   bool
	done      bool
	width     int

	headerStyle  lipgloss.Style
	labelStyle   lipgloss.Style
	pendingStyle lipgloss.Style
	workingStyle lipgloss.Style
	doneStyle    lipgloss.Style
	failedStyle  lipgloss.Style
	excerptStyle lipgloss.Style
	footerStyle  lipgloss.Style
}

// NewWatchApp creates the view. An empty prompt starts with an input field.
func NewWatchApp(ctx context.Context, stream StreamFunc, prompt string) *WatchApp {
	ctx, cancel := context.WithCancel(ctx)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	rows := make([]AgentRow, len(models.AllAgents))
	for i, id := range models.AllAgents {
		rows[i] = AgentRow{Agent: id}
	}

	a := &WatchApp{
		ctx:     ctx,
		cancel:  cancel,
		stream:  stream,
		now:     time.Now,
		prompt:  strings.TrimSpace(prompt),
		spinner: sp,
		rows:    rows,
		width:   80,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(24),

		pendingStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")), // Gray

		workingStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true),

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")), // Green

		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")), // Red

		excerptStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		footerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1),
	}
	if a.prompt == "" {
		a.input = NewInputField()
	}
	return a
}

// Init implements tea.Model.
func (a *WatchApp) Init() tea.Cmd {
	if a.prompt == "" {
		return textinput.Blink
	}
	return a.start(a.prompt)
}

// Update implements tea.Model.
func (a *WatchApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			a.cancel()
			return a, tea.Quit
		case "q":
			if a.input == nil || a.running || a.done {
				a.cancel()
				return a, tea.Quit
			}
		}
	case tea.WindowSizeMsg:
		a.width = msg.Width
		if a.input != nil {
			a.input.SetWidth(msg.Width)
		}
		return a, nil
	case PromptSubmittedMsg:
		if a.running || a.done {
			return a, nil
		}
		a.prompt = msg.Prompt
		a.input.Blur()
		return a, a.start(msg.Prompt)
	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	case streamMsg:
		a.apply(msg.msg)
		if _, ok := msg.msg.(DoneMsg); ok {
			return a, nil
		}
		return a, waitForMsg(msg.ch)
	}

	if a.input != nil && !a.running && !a.done {
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}
	return a, nil
}

// streamMsg wraps a message read from the stream channel so Update can
// schedule the next read.
type streamMsg struct {
	msg tea.Msg
	ch  <-chan tea.Msg
}

// start launches the stream in a goroutine feeding a channel the view
// drains one message at a time.
func (a *WatchApp) start(prompt string) tea.Cmd {
	a.running = true
	ch := make(chan tea.Msg, 16)
	go func() {
		defer close(ch)
		err := a.stream(a.ctx, prompt, func(f client.Frame) error {
			select {
			case ch <- FrameMsg{Frame: f}:
				return nil
			case <-a.ctx.Done():
				return a.ctx.Err()
			}
		})
		select {
		case ch <- DoneMsg{Err: err}:
		case <-a.ctx.Done():
		}
	}()
	return tea.Batch(waitForMsg(ch), a.spinner.Tick)
}

func waitForMsg(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return streamMsg{msg: msg, ch: ch}
	}
}

func (a *WatchApp) row(id models.AgentID) *AgentRow {
	for i := range a.rows {
		if a.rows[i].Agent == id {
			return &a.rows[i]
		}
	}
	return nil
}

// apply folds one stream message into the view state.
func (a *WatchApp) apply(msg tea.Msg) {
	switch msg := msg.(type) {
	case FrameMsg:
		a.applyFrame(msg.Frame)
	case DoneMsg:
		a.running = false
		a.done = true
		switch {
		case msg.Err != nil:
			if !errors.Is(msg.Err, context.Canceled) {
				a.err = msg.Err
			}
		case a.failure == "" && a.stages == nil:
			a.err = errors.New("stream ended without a result")
		}
		for i := range a.rows {
			if a.rows[i].State == RowWorking {
				a.rows[i].State = RowFailed
			}
		}
	}
}

func (a *WatchApp) applyFrame(f client.Frame) {
	if f.SessionID != "" {
		a.sessionID = f.SessionID
	}
	switch f.Type {
	case orchestrator.WireAgentStatus:
		if r := a.row(f.Agent); r != nil {
			r.State = RowWorking
			r.Message = f.Message
			r.Started = a.now()
		}
	case orchestrator.WireAgentResponse:
		if r := a.row(f.Agent); r != nil {
			r.State = RowDone
			r.Excerpt = excerpt(f.Content, excerptWidth)
			if !r.Started.IsZero() {
				r.Elapsed = a.now().Sub(r.Started)
			}
		}
	case orchestrator.WireOrchestrationComplete:
		a.stages = f.Stages
		if a.stages == nil {
			a.stages = &orchestrator.StageOutputs{}
		}
	case orchestrator.WireError:
		a.failure = f.Message
		if f.Details != "" {
			a.failure += " (" + f.Details + ")"
		}
		for i := range a.rows {
			if a.rows[i].State == RowWorking {
				a.rows[i].State = RowFailed
			}
		}
	}
}

// excerpt returns the first non-empty line of s, truncated to width runes.
func excerpt(s string, width int) string {
	line := ""
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	r := []rune(line)
	if len(r) > width {
		return string(r[:width-3]) + "..."
	}
	return line
}

// View implements tea.Model.
func (a *WatchApp) View() string {
	var b strings.Builder

	b.WriteString(a.headerStyle.Render("Multi-Agent Orchestration"))
	b.WriteString("\n")

	if a.prompt == "" && a.input != nil {
		b.WriteString(a.input.View())
		b.WriteString("\n")
		b.WriteString(a.footerStyle.Render("enter to run • ctrl+c to quit"))
		return b.String()
	}

	b.WriteString(a.labelStyle.Render("Prompt:"))
	b.WriteString(excerpt(a.prompt, excerptWidth))
	b.WriteString("\n")
	if a.sessionID != "" {
		b.WriteString(a.labelStyle.Render("Session:"))
		b.WriteString(a.sessionID)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, r := range a.rows {
		b.WriteString(a.renderRow(r))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case a.stages != nil:
		b.WriteString(a.doneStyle.Render("✓ " + orchestrator.CompletionMessage))
	case a.failure != "":
		b.WriteString(a.failedStyle.Render("✗ " + a.failure))
	case a.err != nil:
		b.WriteString(a.failedStyle.Render("✗ " + a.err.Error()))
	}
	b.WriteString("\n")

	hint := "q to cancel and quit"
	if a.done {
		hint = "q to quit"
	}
	b.WriteString(a.footerStyle.Render(hint))
	return b.String()
}

func (a *WatchApp) renderRow(r AgentRow) string {
	name := a.labelStyle.Render(r.Agent.DisplayName())
	switch r.State {
	case RowWorking:
		return fmt.Sprintf("%s %s %s", a.spinner.View(), name, a.workingStyle.Render(r.Message))
	case RowDone:
		elapsed := ""
		if r.Elapsed > 0 {
			elapsed = fmt.Sprintf(" (%s)", r.Elapsed.Round(100*time.Millisecond))
		}
		return fmt.Sprintf("%s %s %s%s", a.doneStyle.Render("✓"), name, a.excerptStyle.Render(r.Excerpt), a.pendingStyle.Render(elapsed))
	case RowFailed:
		return fmt.Sprintf("%s %s %s", a.failedStyle.Render("✗"), name, a.failedStyle.Render("stopped"))
	default:
		return fmt.Sprintf("%s %s %s", a.pendingStyle.Render("·"), name, a.pendingStyle.Render("waiting"))
	}
}

// Rows returns the agent rows in pipeline order.
func (a *WatchApp) Rows() []AgentRow {
	return append([]AgentRow(nil), a.rows...)
}

// SessionID returns the session being watched, once known.
func (a *WatchApp) SessionID() string {
	return a.sessionID
}

// Stages returns the stage outputs of a completed run, or nil.
func (a *WatchApp) Stages() *orchestrator.StageOutputs {
	return a.stages
}

// Err returns the run failure or stream error, if any.
func (a *WatchApp) Err() error {
	if a.failure != "" {
		return errors.New(a.failure)
	}
	return a.err
}

// Close cancels the stream. It is safe to call more than once.
func (a *WatchApp) Close() {
	a.cancel()
}
