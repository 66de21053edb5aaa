package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/queenflow/internal/state"
	"github.com/ShayCichocki/queenflow/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent statuses and stored-state counters",
	Long: `Display the state of a running server.

Shows:
  - Each agent's status and last activity
  - Sessions by stage
  - Stored memories and interactions`,
	RunE: runStatus,
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(24)

	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c := apiClient(cfg)
	ctx := cmd.Context()

	agents, err := c.Agents(ctx)
	if err != nil {
		return fmt.Errorf("fetch agents: %w", err)
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		return fmt.Errorf("fetch stats: %w", err)
	}

	fmt.Println(titleStyle.Render("Agents"))
	for _, a := range agents {
		fmt.Printf("%s%s  %s\n",
			labelStyle.Render(a.AgentID.DisplayName()),
			statusStyle(a.Status).Render(string(a.Status)),
			idleStyle.Render(formatAge(a.LastActivityAt)))
	}
	fmt.Println()
	displayStats(stats)
	return nil
}

func statusStyle(s models.AgentStatus) lipgloss.Style {
	switch s {
	case models.AgentStatusIdle:
		return idleStyle
	case models.AgentStatusComplete:
		return doneStyle
	default:
		return activeStyle
	}
}

func stageStyle(s models.Stage) lipgloss.Style {
	switch s {
	case models.StageComplete:
		return doneStyle
	case models.StageFailed:
		return failStyle
	case models.StageAnalysis:
		return idleStyle
	default:
		return activeStyle
	}
}

func displayStats(stats *state.Stats) {
	fmt.Println(titleStyle.Render("Storage"))
	fmt.Printf("%s%d\n", labelStyle.Render("Sessions"), stats.TotalSessions)

	stages := make([]string, 0, len(stats.SessionsByStage))
	for s := range stats.SessionsByStage {
		stages = append(stages, string(s))
	}
	sort.Strings(stages)
	for _, s := range stages {
		fmt.Printf("%s%d\n", labelStyle.Render("  "+s), stats.SessionsByStage[models.Stage(s)])
	}
	fmt.Printf("%s%d\n", labelStyle.Render("Memories"), stats.TotalMemories)
	fmt.Printf("%s%d\n", labelStyle.Render("Interactions"), stats.TotalInteractions)
}

// formatAge renders how long ago t was.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return formatDuration(time.Since(t)) + " ago"
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// truncate shortens s to n runes on a single line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
