package watcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Feed is an in-process Source; callers push focus changes with Emit.
type Feed struct {
	relay
}

// NewFeed returns a Feed with no listener.
func NewFeed() *Feed {
	return &Feed{}
}

// Emit delivers a focus change for the named application. It returns
// ErrNoListener when nobody is subscribed, otherwise the listener's result.
func (f *Feed) Emit(name, id string) error {
	return f.deliver(Normalize(name, id))
}

// ReadFrom emits one event per feed line read from r until EOF or ctx ends.
func (f *Feed) ReadFrom(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		id, name, ok := ParseLine(scanner.Text())
		if !ok {
			continue
		}
		// A line is a one-off report; a rejected event is not replayed.
		_ = f.Emit(name, id)
	}
	return scanner.Err()
}

// ParseLine splits a feed line of the form "app-id<TAB>app name". A line
// without a tab is an identifier with no display name. Blank lines and
// '#' comments report ok=false.
func ParseLine(line string) (id, name string, ok bool) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	id, name, _ = strings.Cut(line, "\t")
	return strings.TrimSpace(id), strings.TrimSpace(name), true
}

// FormatLine is the inverse of ParseLine. Tabs and newlines inside the fields
// are replaced with spaces so the line stays parseable.
func FormatLine(id, name string) string {
	clean := strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")
	return clean.Replace(id) + "\t" + clean.Replace(name) + "\n"
}

// AppendEvent appends a feed line to the file at path, creating it if needed.
func AppendEvent(path, id, name string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open focus feed: %w", err)
	}
	if _, err := f.WriteString(FormatLine(id, name)); err != nil {
		f.Close()
		return fmt.Errorf("write focus feed: %w", err)
	}
	return f.Close()
}
