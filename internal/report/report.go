// Package report aggregates a day's focus sessions into per-application
// totals and renders them.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fakeyudi/focustrack/internal/session"
)

// DailySummary is the complete, renderable view of one calendar day.
// Durations encode as seconds plus a FormatDuration string.
type DailySummary struct {
	Date            time.Time          `json:"date"`
	TotalActiveTime time.Duration      `json:"-"`
	Apps            []AppStat          `json:"apps"`
	Sessions        []*session.Session `json:"sessions"`
}

// AppStat is the time one application held focus during the day.
type AppStat struct {
	AppName    string        `json:"app_name"`
	AppID      string        `json:"app_id"`
	TotalTime  time.Duration `json:"-"`
	Percentage float64       `json:"percentage"` // share of TotalActiveTime, 0-100
	Sessions   int           `json:"sessions"`
}

func (sum DailySummary) MarshalJSON() ([]byte, error) {
	type plain DailySummary
	return json.Marshal(struct {
		plain
		TotalActiveSeconds float64 `json:"total_active_seconds"`
		TotalActive        string  `json:"total_active"`
	}{plain(sum), sum.TotalActiveTime.Seconds(), FormatDuration(sum.TotalActiveTime)})
}

func (a AppStat) MarshalJSON() ([]byte, error) {
	type plain AppStat
	return json.Marshal(struct {
		plain
		TotalSeconds float64 `json:"total_seconds"`
		Total        string  `json:"total"`
	}{plain(a), a.TotalTime.Seconds(), FormatDuration(a.TotalTime)})
}

// Summarize totals sessions per application. Sessions still active count up
// to now. Apps are ordered by time spent, longest first.
func Summarize(day time.Time, sessions []*session.Session, now time.Time) *DailySummary {
	start, _ := session.DayBounds(day)
	sum := &DailySummary{Date: start, Sessions: sessions}

	byID := make(map[string]*AppStat)
	var order []string
	for _, s := range sessions {
		d := s.Duration(now)
		st, ok := byID[s.AppID]
		if !ok {
			st = &AppStat{AppName: s.AppName, AppID: s.AppID}
			byID[s.AppID] = st
			order = append(order, s.AppID)
		}
		st.TotalTime += d
		st.Sessions++
		// The most recent display name wins.
		st.AppName = s.AppName
		sum.TotalActiveTime += d
	}

	for _, id := range order {
		st := byID[id]
		if sum.TotalActiveTime > 0 {
			st.Percentage = float64(st.TotalTime) / float64(sum.TotalActiveTime) * 100
		}
		sum.Apps = append(sum.Apps, *st)
	}
	sort.SliceStable(sum.Apps, func(i, j int) bool {
		if sum.Apps[i].TotalTime != sum.Apps[j].TotalTime {
			return sum.Apps[i].TotalTime > sum.Apps[j].TotalTime
		}
		return sum.Apps[i].AppName < sum.Apps[j].AppName
	})
	return sum
}

// FormatDuration renders d as "2h 5m" or "12m". Durations under a minute
// render as seconds.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
