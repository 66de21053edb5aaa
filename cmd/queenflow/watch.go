package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/queenflow/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch [prompt]",
	Short: "Run a prompt with a live terminal view",
	Long: `Run a prompt on the server and follow each agent in a terminal view.

Without a prompt argument the view asks for one. Press q to quit; quitting
before the run finishes cancels it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c := apiClient(cfg)

		app := tui.NewWatchApp(cmd.Context(), c.MultiAgent, strings.Join(args, " "))
		defer app.Close()

		if _, err := tea.NewProgram(app).Run(); err != nil {
			return fmt.Errorf("run terminal view: %w", err)
		}
		if id := app.SessionID(); id != "" {
			fmt.Printf("session %s\n", id)
		}
		return app.Err()
	},
}
