package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/focustrack/internal/config"
	"github.com/fakeyudi/focustrack/internal/monitor"
	"github.com/fakeyudi/focustrack/internal/session"
	"github.com/fakeyudi/focustrack/internal/watcher"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track focus changes until interrupted",
	Long: `Track focus changes until interrupted.

Watchers:
  poll   sample the X11 active window (needs DISPLAY; --probe xdotool shells out)
  feed   follow the focus feed file written by "focustrack emit"
  stdin  read "app-id<TAB>app name" lines from standard input`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := session.DataDir()
		if err != nil {
			return fmt.Errorf("resolving data directory: %w", err)
		}
		// CloseOrphans below would end a concurrent run's live session.
		lock, err := session.LockDir(dir)
		if err != nil {
			return err
		}
		defer lock.Unlock()

		store, err := session.OpenSessionStore(dir)
		if err != nil {
			return err
		}

		src, err := buildSource(GetConfig(), cmd.InOrStdin())
		if err != nil {
			return err
		}

		selfID := GetConfig().SelfID
		if selfID == "" {
			selfID = watcher.SelfID()
		}
		mon := monitor.New(store, src, selfID, monitor.WithLogger(logger))

		// Sessions left open by a previous run that didn't shut down cleanly.
		n, err := mon.CloseOrphans()
		if err != nil {
			return fmt.Errorf("closing orphaned sessions: %w", err)
		}
		if n > 0 {
			logger.Info("closed orphaned sessions", "count", n)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mon.Start()
		logger.Info("tracking focus", "watcher", GetConfig().Watcher, "self_id", selfID)
		runErr := src.Run(ctx)
		stopErr := mon.Stop()
		if runErr == nil && stopErr == nil {
			logger.Info("stopped")
		}
		return multierror.Append(runErr, stopErr).ErrorOrNil()
	},
}

func buildSource(c config.Config, stdin io.Reader) (watcher.Runner, error) {
	switch c.Watcher {
	case config.WatcherPoll:
		var probe watcher.Probe = watcher.NewEWMHProbe()
		if c.Probe == config.ProbeXdotool {
			probe = watcher.XdotoolProbe{}
		}
		p := watcher.NewPoller(probe, c.PollInterval())
		p.Logger = logger
		return p, nil
	case config.WatcherFeed:
		if err := os.MkdirAll(filepath.Dir(c.FeedPath), 0o755); err != nil {
			return nil, fmt.Errorf("create feed directory: %w", err)
		}
		w := watcher.NewFileWatcher(c.FeedPath)
		w.Logger = logger
		return w, nil
	case config.WatcherStdin:
		return &readerSource{Feed: watcher.NewFeed(), in: stdin}, nil
	}
	return nil, fmt.Errorf("unknown watcher %q", c.Watcher)
}

// readerSource runs a Feed over a stream. Run returns at EOF, or as soon as
// ctx ends even if a read is still blocked.
type readerSource struct {
	*watcher.Feed
	in io.Reader
}

func (r *readerSource) Run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- r.ReadFrom(ctx, r.in) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

func init() {
	runCmd.Flags().StringVarP(&overrides.Watcher, "watcher", "w", "", "focus source: poll, feed or stdin")
	runCmd.Flags().StringVar(&overrides.Probe, "probe", "", "poll watcher probe: ewmh or xdotool")
	runCmd.Flags().IntVar(&overrides.PollIntervalMS, "interval", 0, "poll interval in milliseconds")
	runCmd.Flags().StringVar(&overrides.SelfID, "self-id", "", "application identifier to never record")
	rootCmd.AddCommand(runCmd)
}
