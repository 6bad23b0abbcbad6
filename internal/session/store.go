package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session ID is not present in the store.
var ErrNotFound = errors.New("session not found")

// ErrAlreadyEnded is returned by End and Update for a terminal session.
var ErrAlreadyEnded = errors.New("session already ended")

// storeVersion is bumped when the on-disk document changes shape.
const storeVersion = 1

// SessionStore persists focus sessions.
type SessionStore interface {
	Create(appName, appID string, meta Metadata) (*Session, error)
	End(s *Session) error // returns ErrAlreadyEnded if s is terminal
	Update(s *Session, upd MetadataUpdate) error
	ActiveSessions() ([]*Session, error)
	SessionsByDay(day time.Time) ([]*Session, error)
	All() ([]*Session, error)
}

// StoreOption configures a disk store.
type StoreOption func(*diskStore)

// WithClock overrides the time source used for start and end timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(d *diskStore) { d.now = now }
}

// document is the on-disk layout of sessions.json.
type document struct {
	Version  int        `json:"version"`
	Sessions []*Session `json:"sessions"`
}

// diskStore is the concrete SessionStore backed by a single JSON document.
type diskStore struct {
	mu   sync.Mutex // single writer; every operation is load-modify-save
	path string     // full path to sessions.json
	now  func() time.Time
}

// NewSessionStore returns a SessionStore backed by the XDG data directory.
// Path: $XDG_DATA_HOME/focustrack/sessions.json or ~/.local/share/focustrack/sessions.json
func NewSessionStore(opts ...StoreOption) (SessionStore, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	return OpenSessionStore(dir, opts...)
}

// OpenSessionStore returns a SessionStore that keeps sessions.json in dir.
func OpenSessionStore(dir string, opts ...StoreOption) (SessionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	d := &diskStore{
		path: filepath.Join(dir, "sessions.json"),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// DataDir returns the focustrack-specific XDG data directory.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "focustrack"), nil
}

// Create allocates a new active session and persists it.
func (d *diskStore) Create(appName, appID string, meta Metadata) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.load()
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.New().String(),
		AppName:   appName,
		AppID:     appID,
		StartTime: d.now(),
		Active:    true,
		Metadata:  meta,
	}
	doc.Sessions = append(doc.Sessions, s)

	if err := d.save(doc); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// End stamps the session's end time and clears its active flag. s is updated
// to mirror the stored record only after the write succeeds.
func (d *diskStore) End(s *Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.load()
	if err != nil {
		return err
	}
	stored, err := find(doc, s.ID)
	if err != nil {
		return err
	}
	if stored.IsTerminal() {
		return fmt.Errorf("end %s: %w", s.ID, ErrAlreadyEnded)
	}

	end := d.now()
	if end.Before(stored.StartTime) {
		end = stored.StartTime
	}
	stored.EndTime = &end
	stored.Active = false

	if err := d.save(doc); err != nil {
		return err
	}
	s.EndTime = &end
	s.Active = false
	return nil
}

// Update merges upd into the session's metadata, leaving timestamps and the
// active flag alone.
func (d *diskStore) Update(s *Session, upd MetadataUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.load()
	if err != nil {
		return err
	}
	stored, err := find(doc, s.ID)
	if err != nil {
		return err
	}
	if stored.IsTerminal() {
		return fmt.Errorf("update %s: %w", s.ID, ErrAlreadyEnded)
	}

	upd.Apply(&stored.Metadata)
	if err := d.save(doc); err != nil {
		return err
	}
	s.Metadata = stored.Metadata
	return nil
}

// ActiveSessions returns every session currently flagged active.
func (d *diskStore) ActiveSessions() ([]*Session, error) {
	return d.filter(func(s *Session) bool { return s.Active })
}

// SessionsByDay returns sessions whose start falls within the local calendar
// day containing day, ordered by start time.
func (d *diskStore) SessionsByDay(day time.Time) ([]*Session, error) {
	start, end := DayBounds(day)
	return d.filter(func(s *Session) bool {
		return !s.StartTime.Before(start) && s.StartTime.Before(end)
	})
}

// All returns every stored session ordered by start time.
func (d *diskStore) All() ([]*Session, error) {
	return d.filter(func(*Session) bool { return true })
}

// DayBounds returns the half-open interval [startOfDay, startOfDay+1day) of
// the local calendar day containing t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(time.Local)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
	return start, start.AddDate(0, 0, 1)
}

func (d *diskStore) filter(keep func(*Session) bool) ([]*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.load()
	if err != nil {
		return nil, err
	}
	var out []*Session
	for _, s := range doc.Sessions {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func find(doc *document, id string) (*Session, error) {
	for _, s := range doc.Sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
}

// load reads the session document. A missing file is an empty store.
func (d *diskStore) load() (*document, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &document{Version: storeVersion}, nil
		}
		return nil, fmt.Errorf("failed to read session store: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse session store: %w", err)
	}
	return &doc, nil
}

// save marshals doc to JSON and writes it atomically via a temp file + os.Rename.
func (d *diskStore) save(doc *document) (err error) {
	doc.Version = storeVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to persist sessions: %w", err)
	}

	// Write to a temp file in the same directory so os.Rename is atomic.
	tmp, err := os.CreateTemp(filepath.Dir(d.path), "sessions-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist sessions: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist sessions: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist sessions: %w", err)
	}
	if err = os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("failed to persist sessions: %w", err)
	}
	return nil
}
