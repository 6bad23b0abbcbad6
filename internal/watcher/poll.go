package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrNoDisplay is returned by XdotoolProbe.Available outside an X11 session.
var ErrNoDisplay = errors.New("no X11 display available")

// Probe reports the application that currently holds focus.
type Probe interface {
	// Available reports whether the platform mechanism can be used at all.
	Available() error
	Frontmost(ctx context.Context) (name, id string, err error)
}

// Poller samples a Probe on an interval and emits when the frontmost
// application changes.
type Poller struct {
	relay

	probe    Probe
	interval time.Duration
	Logger   *slog.Logger
}

// NewPoller returns a Poller sampling probe every interval.
func NewPoller(probe Probe, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		probe:    probe,
		interval: interval,
		Logger:   slog.Default(),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.probe.Available(); err != nil {
		return fmt.Errorf("foreground probe unavailable: %w", err)
	}
	if c, ok := p.probe.(io.Closer); ok {
		defer c.Close()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last string
	sample := func() {
		name, id, err := p.probe.Frontmost(ctx)
		if err != nil {
			p.Logger.Debug("probing frontmost application", "error", err)
			return
		}
		ev := Normalize(name, id)
		if ev.AppID == last {
			return
		}
		// Only remember apps a listener accepted. A late subscriber still
		// learns the current foreground app, and a rejected event is offered
		// again on the next tick.
		err = p.deliver(ev)
		switch {
		case err == nil:
			last = ev.AppID
		case !errors.Is(err, ErrNoListener):
			p.Logger.Debug("focus event rejected, retrying", "app_id", ev.AppID, "error", err)
		}
	}

	sample()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sample()
		}
	}
}

// XdotoolProbe finds the focused X11 window's process with xdotool and
// resolves its name and executable through the process table.
type XdotoolProbe struct {
	Command string // defaults to "xdotool"
}

func (x XdotoolProbe) command() string {
	if x.Command != "" {
		return x.Command
	}
	return "xdotool"
}

// Available checks for an X11 display and the xdotool binary.
func (x XdotoolProbe) Available() error {
	if os.Getenv("DISPLAY") == "" {
		return ErrNoDisplay
	}
	if _, err := exec.LookPath(x.command()); err != nil {
		return fmt.Errorf("%s not found: %w", x.command(), err)
	}
	return nil
}

// Frontmost returns the focused process's name and executable path.
func (x XdotoolProbe) Frontmost(ctx context.Context) (string, string, error) {
	out, err := exec.CommandContext(ctx, x.command(), "getactivewindow", "getwindowpid").Output()
	if err != nil {
		return "", "", fmt.Errorf("xdotool: %w", err)
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 32)
	if err != nil {
		return "", "", fmt.Errorf("parse window pid: %w", err)
	}
	return processIdentity(ctx, int32(pid))
}

// processIdentity resolves pid to a display name and a stable identifier.
// The executable path identifies the app; the name falls back to it.
func processIdentity(ctx context.Context, pid int32) (string, string, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", "", fmt.Errorf("lookup pid %d: %w", pid, err)
	}
	name, _ := proc.NameWithContext(ctx)
	exe, _ := proc.ExeWithContext(ctx)
	if exe == "" {
		exe = name
	}
	return name, exe, nil
}

// SelfID returns the identifier this process would report for itself, which
// matches what the X11 probes report when the host's own window has focus.
func SelfID() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return exe
}
