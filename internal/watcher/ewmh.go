package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
)

var errNoActiveWindow = errors.New("no active window")

// EWMHProbe asks the X server for _NET_ACTIVE_WINDOW and its _NET_WM_PID
// directly, without shelling out. The connection is opened on first use and
// reused until Close.
type EWMHProbe struct {
	Display string // defaults to $DISPLAY

	mu sync.Mutex
	xu *xgbutil.XUtil
}

// NewEWMHProbe returns a probe for the display named by $DISPLAY.
func NewEWMHProbe() *EWMHProbe {
	return &EWMHProbe{Display: os.Getenv("DISPLAY")}
}

func (p *EWMHProbe) conn() (*xgbutil.XUtil, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.xu != nil {
		return p.xu, nil
	}
	if p.Display == "" {
		return nil, ErrNoDisplay
	}
	xu, err := xgbutil.NewConnDisplay(p.Display)
	if err != nil {
		return nil, fmt.Errorf("connect to X server on %q: %w", p.Display, err)
	}
	p.xu = xu
	return xu, nil
}

// Available connects to the X server.
func (p *EWMHProbe) Available() error {
	_, err := p.conn()
	return err
}

func (p *EWMHProbe) Frontmost(ctx context.Context) (string, string, error) {
	xu, err := p.conn()
	if err != nil {
		return "", "", err
	}
	win, err := ewmh.ActiveWindowGet(xu)
	if err != nil {
		return "", "", fmt.Errorf("get active window: %w", err)
	}
	if win == 0 {
		return "", "", errNoActiveWindow
	}
	pid, err := ewmh.WmPidGet(xu, win)
	if err != nil {
		return "", "", fmt.Errorf("get pid of window %d: %w", win, err)
	}
	return processIdentity(ctx, int32(pid))
}

// Close drops the X connection. The probe reconnects if used again.
func (p *EWMHProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.xu != nil {
		p.xu.Conn().Close()
		p.xu = nil
	}
	return nil
}
