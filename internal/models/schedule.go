package models

import (
	"encoding/json"
	"time"
)

// Schedule is the full conference programme as served by the programme API,
// grouped by conference day ("2006-01-02").
type Schedule struct {
	Days map[string]DaySchedule `json:"days"`
}

// DaySchedule holds the rooms and events of a single conference day.
type DaySchedule struct {
	Rooms    []string  `json:"rooms"`
	Sessions []Session `json:"-"`
	Breaks   []Break   `json:"-"`
}

// Session is a talk, tutorial or similar event with a fixed start time.
type Session struct {
	EventType   string    `json:"event_type"`
	Code        string    `json:"code"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	SessionType string    `json:"session_type"`
	Speakers    []Speaker `json:"speakers"`
	Tweet       string    `json:"tweet"`
	Level       string    `json:"level"`
	Track       string    `json:"track"`
	Rooms       []string  `json:"rooms"`
	Start       time.Time `json:"start"`
	WebsiteURL  string    `json:"website_url"`
	Duration    int       `json:"duration"`
}

// Identity returns a stable identifier for notification bookkeeping. The
// session code alone is not unique because a session can be rescheduled.
func (s Session) Identity() string {
	return s.Code + "/" + s.Start.Format(time.RFC3339)
}

// Break is a coffee or lunch break; breaks never trigger notifications.
type Break struct {
	EventType string    `json:"event_type"`
	Title     string    `json:"title"`
	Duration  int       `json:"duration"`
	Rooms     []string  `json:"rooms"`
	Start     time.Time `json:"start"`
}

// Speaker describes one speaker of a session.
type Speaker struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar"`
	WebsiteURL string `json:"website_url"`
}

// UnmarshalJSON splits the mixed events array into sessions and breaks based
// on the event_type discriminator.
func (d *DaySchedule) UnmarshalJSON(data []byte) error {
	var raw struct {
		Rooms  []string          `json:"rooms"`
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Rooms = raw.Rooms
	d.Sessions = nil
	d.Breaks = nil

	for _, event := range raw.Events {
		var probe struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(event, &probe); err != nil {
			return err
		}
		if probe.EventType == "break" {
			var b Break
			if err := json.Unmarshal(event, &b); err != nil {
				return err
			}
			d.Breaks = append(d.Breaks, b)
			continue
		}
		var s Session
		if err := json.Unmarshal(event, &s); err != nil {
			return err
		}
		d.Sessions = append(d.Sessions, s)
	}
	return nil
}
