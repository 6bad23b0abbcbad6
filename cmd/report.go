package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/focustrack/internal/report"
	"github.com/fakeyudi/focustrack/internal/session"
	"github.com/fakeyudi/focustrack/internal/tui"
)

var (
	reportDate  string
	plainOutput bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize focus time for a day",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		day := time.Now()
		if reportDate != "" {
			d, err := time.ParseInLocation("2006-01-02", reportDate, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", reportDate)
			}
			day = d
		}

		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}
		sessions, err := store.SessionsByDay(day)
		if err != nil {
			return err
		}

		now := time.Now()
		sum := report.Summarize(day, sessions, now)

		// An explicit --format always means rendered output.
		if !plainOutput && !cmd.Flags().Changed("format") && term.IsTerminal(os.Stdout.Fd()) {
			return tui.Run(sum, now)
		}

		out, err := report.ForFormat(GetConfig().DefaultFormat).Render(sum, now)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportDate, "date", "d", "", "day to summarize, YYYY-MM-DD (default today)")
	reportCmd.Flags().StringVarP(&overrides.DefaultFormat, "format", "f", "", "output format: markdown or json")
	reportCmd.Flags().BoolVar(&plainOutput, "plain", false, "print the report instead of opening the viewer")
	rootCmd.AddCommand(reportCmd)
}
