package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/focustrack/internal/watcher"
)

var emitCmd = &cobra.Command{
	Use:   "emit <app-id> [app name]",
	Short: "Report a focus change to a running feed watcher",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		name := strings.Join(args[1:], " ")
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("app id must not be empty")
		}

		path := GetConfig().FeedPath
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := watcher.AppendEvent(path, id, name); err != nil {
			return err
		}
		logger.Debug("emitted focus event", "app_id", id, "app_name", name, "feed", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(emitCmd)
}
