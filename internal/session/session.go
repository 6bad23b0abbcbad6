package session

import "time"

// Session is one contiguous interval during which an application held focus.
type Session struct {
	ID        string     `json:"id"`
	AppName   string     `json:"app_name"`
	AppID     string     `json:"app_id"` // comparison key; names may repeat across apps
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Active    bool       `json:"active"`
	Metadata
}

// Metadata is optional descriptive detail attached while a session is active.
type Metadata struct {
	WindowTitle string `json:"window_title,omitempty"`
	TabTitle    string `json:"tab_title,omitempty"`
	ProjectName string `json:"project_name,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
}

// MetadataUpdate carries the fields to merge into a session's Metadata.
// Nil fields leave the existing value untouched.
type MetadataUpdate struct {
	WindowTitle *string
	TabTitle    *string
	ProjectName *string
	FilePath    *string
}

// Apply merges the non-nil fields of u into m.
func (u MetadataUpdate) Apply(m *Metadata) {
	if u.WindowTitle != nil {
		m.WindowTitle = *u.WindowTitle
	}
	if u.TabTitle != nil {
		m.TabTitle = *u.TabTitle
	}
	if u.ProjectName != nil {
		m.ProjectName = *u.ProjectName
	}
	if u.FilePath != nil {
		m.FilePath = *u.FilePath
	}
}

// IsTerminal reports whether the session has been ended.
func (s *Session) IsTerminal() bool {
	return s.EndTime != nil
}

// Duration returns how long the session lasted, counting active sessions up
// to now.
func (s *Session) Duration(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	if end.Before(s.StartTime) {
		return 0
	}
	return end.Sub(s.StartTime)
}

// Clone returns a deep copy so callers can't mutate stored state.
func (s *Session) Clone() *Session {
	c := *s
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	return &c
}

// String returns a pointer to v, for building a MetadataUpdate.
func String(v string) *string { return &v }
