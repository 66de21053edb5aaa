package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/queenflow/internal/state"
	"github.com/ShayCichocki/queenflow/pkg/models"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions [id]",
	Short: "List sessions or show one",
	Long: `Without arguments, list the most recent orchestration sessions.
With a session ID, show that session's prompt, stage and stored outputs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c := apiClient(cfg)

		if len(args) == 1 {
			sess, err := c.Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			displaySession(sess)
			return nil
		}

		sessions, err := c.Sessions(cmd.Context(), sessionsLimit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions yet. Run 'queenflow run <prompt>' to start one.")
			return nil
		}
		fmt.Println(titleStyle.Render("Recent Sessions"))
		for _, s := range sessions {
			fmt.Printf("%s  %-16s %-10s %s\n",
				s.ID,
				stageStyle(s.Stage).Render(string(s.Stage)),
				formatAge(s.UpdatedAt),
				truncate(s.Prompt, 48))
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a running session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := apiClient(cfg).Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Cancellation requested for %s\n", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to list")
	rootCmd.AddCommand(cancelCmd)
}

func displaySession(s *state.OrchestrationSession) {
	fmt.Println(titleStyle.Render("Session " + s.ID))
	fmt.Printf("%s%s\n", labelStyle.Render("Stage"), stageStyle(s.Stage).Render(string(s.Stage)))
	fmt.Printf("%s%s\n", labelStyle.Render("Created"), s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if s.CompletedAt != nil {
		fmt.Printf("%s%s\n", labelStyle.Render("Finished"), s.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if s.Error != "" {
		fmt.Printf("%s%s\n", labelStyle.Render("Error"), failStyle.Render(s.Error))
	}
	fmt.Printf("\n%s\n  %s\n", labelStyle.Render("Prompt"), s.Prompt)

	for _, stage := range []models.Stage{models.StageAnalysis, models.StageResearch, models.StageImplementation} {
		out := s.Output(stage)
		if out == "" {
			continue
		}
		fmt.Printf("\n%s\n  %s\n", labelStyle.Render(stage.Agent().DisplayName()),
			strings.ReplaceAll(strings.TrimSpace(out), "\n", "\n  "))
	}
}
