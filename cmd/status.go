package cmd

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/focustrack/internal/report"
	"github.com/fakeyudi/focustrack/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the application currently being tracked",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}

		active, err := store.ActiveSessions()
		if err != nil {
			return err
		}
		if len(active) == 0 {
			cmd.Println("no active session")
			return nil
		}

		now := time.Now()
		for _, s := range active {
			cmd.Printf("Tracking: %s (%s)\n", s.AppName, s.AppID)
			cmd.Printf("Started: %s (%s)\n", s.StartTime.Format(time.RFC3339), humanize.RelTime(s.StartTime, now, "ago", "from now"))
			cmd.Printf("Duration: %s\n", report.FormatDuration(s.Duration(now)))
			if s.WindowTitle != "" {
				cmd.Printf("Window: %s\n", s.WindowTitle)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
