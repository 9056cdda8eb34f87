// Package seed loads event layouts and attendee profiles from YAML files.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/event-matchmaker/internal/persistence"
	"github.com/example/event-matchmaker/internal/scheduler"
)

// File is the top-level seed document.
type File struct {
	Event     Event      `yaml:"event"`
	Venues    []Venue    `yaml:"venues"`
	Locations []Location `yaml:"locations"`
	Sessions  []Session  `yaml:"sessions"`
	Members   []Member   `yaml:"members"`
}

// Event describes the event row. StartDate uses the 2006-01-02 layout.
type Event struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	StartDate string `yaml:"start_date,omitempty"`
	EndDate   string `yaml:"end_date,omitempty"`
	TimeZone  string `yaml:"time_zone,omitempty"`
}

// Venue is an area sessions are bound to.
type Venue struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Location is a meeting point attached to one or more venues.
type Location struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Capacity int      `yaml:"capacity"`
	Venues   []string `yaml:"venues"`
}

// Session is a window on one event day. Matching defaults to enabled.
type Session struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	Day             int    `yaml:"day"`
	Start           string `yaml:"start"`
	End             string `yaml:"end"`
	Venue           string `yaml:"venue,omitempty"`
	MatchingEnabled *bool  `yaml:"matching_enabled,omitempty"`
}

// Member is an attendee profile plus availability.
type Member struct {
	UserID       string   `yaml:"user_id"`
	Keywords     []string `yaml:"keywords,omitempty"`
	Document     string   `yaml:"document,omitempty"`
	Availability []string `yaml:"availability,omitempty"`
}

// LoadFile reads and validates a seed file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Load(bytes.NewReader(data))
}

// Load parses a seed document, rejecting unknown fields.
func Load(r io.Reader) (*File, error) {
	var file File
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return &file, nil
}

// Validate checks references and value formats. All problems are reported together.
func (f *File) Validate() error {
	var errs []error
	if f.Event.ID == "" {
		errs = append(errs, errors.New("event.id is required"))
	}
	if f.Event.StartDate != "" {
		if _, err := time.Parse(time.DateOnly, f.Event.StartDate); err != nil {
			errs = append(errs, fmt.Errorf("event.start_date: %w", err))
		}
	}
	if f.Event.EndDate != "" {
		if _, err := time.Parse(time.DateOnly, f.Event.EndDate); err != nil {
			errs = append(errs, fmt.Errorf("event.end_date: %w", err))
		}
	}
	if f.Event.TimeZone != "" {
		if _, err := time.LoadLocation(f.Event.TimeZone); err != nil {
			errs = append(errs, fmt.Errorf("event.time_zone: %w", err))
		}
	}

	venues := make(map[string]bool, len(f.Venues))
	for i, venue := range f.Venues {
		if venue.ID == "" {
			errs = append(errs, fmt.Errorf("venues[%d].id is required", i))
		}
		venues[venue.ID] = true
	}
	for i, location := range f.Locations {
		if location.ID == "" {
			errs = append(errs, fmt.Errorf("locations[%d].id is required", i))
		}
		if location.Capacity <= 0 {
			errs = append(errs, fmt.Errorf("locations[%d].capacity must be positive", i))
		}
		for _, venueID := range location.Venues {
			if !venues[venueID] {
				errs = append(errs, fmt.Errorf("locations[%d] references unknown venue %q", i, venueID))
			}
		}
	}

	sessions := make(map[string]bool, len(f.Sessions))
	for i, session := range f.Sessions {
		if session.ID == "" {
			errs = append(errs, fmt.Errorf("sessions[%d].id is required", i))
		}
		sessions[session.ID] = true
		if session.Day < 1 {
			errs = append(errs, fmt.Errorf("sessions[%d].day must be at least 1", i))
		}
		start, startErr := scheduler.ParseClock(session.Start)
		end, endErr := scheduler.ParseClock(session.End)
		switch {
		case startErr != nil:
			errs = append(errs, fmt.Errorf("sessions[%d].start: %w", i, startErr))
		case endErr != nil:
			errs = append(errs, fmt.Errorf("sessions[%d].end: %w", i, endErr))
		case !start.Before(end):
			errs = append(errs, fmt.Errorf("sessions[%d] must end after it starts", i))
		}
		if session.Venue != "" && !venues[session.Venue] {
			errs = append(errs, fmt.Errorf("sessions[%d] references unknown venue %q", i, session.Venue))
		}
	}

	members := make(map[string]bool, len(f.Members))
	for i, member := range f.Members {
		if member.UserID == "" {
			errs = append(errs, fmt.Errorf("members[%d].user_id is required", i))
		}
		if members[member.UserID] {
			errs = append(errs, fmt.Errorf("members[%d] repeats user %q", i, member.UserID))
		}
		members[member.UserID] = true
		for _, sessionID := range member.Availability {
			if !sessions[sessionID] {
				errs = append(errs, fmt.Errorf("members[%d] references unknown session %q", i, sessionID))
			}
		}
	}
	return errors.Join(errs...)
}

// Apply writes the seed to store in one transaction. Members are joined at
// now plus their position so candidate pools keep file order.
func Apply(ctx context.Context, store persistence.Store, file *File, now time.Time) error {
	return store.WithinTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		event, err := file.event(now)
		if err != nil {
			return err
		}
		if err := repos.CreateEvent(ctx, event); err != nil {
			return fmt.Errorf("create event %s: %w", event.ID, err)
		}
		for _, venue := range file.Venues {
			if err := repos.CreateVenue(ctx, persistence.Venue{ID: venue.ID, EventID: event.ID, Name: venue.Name}); err != nil {
				return fmt.Errorf("create venue %s: %w", venue.ID, err)
			}
		}
		for _, location := range file.Locations {
			record := persistence.Location{
				ID:       location.ID,
				EventID:  event.ID,
				Name:     location.Name,
				Capacity: location.Capacity,
				VenueIDs: location.Venues,
			}
			if err := repos.CreateLocation(ctx, record); err != nil {
				return fmt.Errorf("create location %s: %w", location.ID, err)
			}
		}
		for _, session := range file.Sessions {
			if err := repos.CreateSession(ctx, session.record(event.ID)); err != nil {
				return fmt.Errorf("create session %s: %w", session.ID, err)
			}
		}
		for i, member := range file.Members {
			membership := persistence.Membership{
				EventID:  event.ID,
				UserID:   member.UserID,
				Keywords: member.Keywords,
				JoinedAt: now.Add(time.Duration(i) * time.Millisecond),
			}
			if member.Document != "" {
				document := member.Document
				membership.Document = &document
			}
			if err := repos.UpsertMembership(ctx, membership); err != nil {
				return fmt.Errorf("create membership %s: %w", member.UserID, err)
			}
			if err := repos.ReplaceAvailability(ctx, event.ID, member.UserID, member.Availability); err != nil {
				return fmt.Errorf("set availability %s: %w", member.UserID, err)
			}
		}
		return nil
	})
}

func (f *File) event(now time.Time) (persistence.Event, error) {
	event := persistence.Event{
		ID:        f.Event.ID,
		Name:      f.Event.Name,
		TimeZone:  f.Event.TimeZone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if event.TimeZone == "" {
		event.TimeZone = "UTC"
	}
	for _, field := range []struct {
		value string
		dst   **time.Time
	}{{f.Event.StartDate, &event.StartDate}, {f.Event.EndDate, &event.EndDate}} {
		if field.value == "" {
			continue
		}
		date, err := time.Parse(time.DateOnly, field.value)
		if err != nil {
			return persistence.Event{}, err
		}
		*field.dst = &date
	}
	return event, nil
}

// canonicalClock rewrites "9:00" as "09:00" so stores order sessions by time.
func canonicalClock(value string) string {
	clock, err := scheduler.ParseClock(value)
	if err != nil {
		return value
	}
	return clock.String()
}

func (s Session) record(eventID string) persistence.Session {
	session := persistence.Session{
		ID:              s.ID,
		EventID:         eventID,
		Name:            s.Name,
		DayNumber:       s.Day,
		StartTime:       canonicalClock(s.Start),
		EndTime:         canonicalClock(s.End),
		MatchingEnabled: s.MatchingEnabled == nil || *s.MatchingEnabled,
	}
	if s.Venue != "" {
		venue := s.Venue
		session.VenueID = &venue
	}
	return session
}
