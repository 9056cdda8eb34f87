package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/event-matchmaker/internal/persistence"
)

var (
	eventCounter    uint64
	sessionCounter  uint64
	locationCounter uint64
)

var referenceTime = time.Date(2024, time.March, 4, 8, 30, 0, 0, time.UTC)

var eventDate = time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// EventDate returns the first day of every fixture event.
func EventDate() time.Time {
	return eventDate
}

// At returns the UTC instant on the given event day at hh:mm.
func At(day, hour, minute int) time.Time {
	return eventDate.AddDate(0, 0, day-1).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// ----------------------------- Event fixtures -----------------------------

// EventFixture is a deterministic event record.
type EventFixture struct {
	ID        string
	Name      string
	StartDate *time.Time
	TimeZone  string
	CreatedAt time.Time
}

// EventOption configures the generated event fixture.
type EventOption func(*EventFixture)

// NewEventFixture returns a deterministic event starting on EventDate.
func NewEventFixture(opts ...EventOption) EventFixture {
	idx := atomic.AddUint64(&eventCounter, 1)
	start := eventDate
	fixture := EventFixture{
		ID:        fmt.Sprintf("event-%03d", idx),
		Name:      fmt.Sprintf("Event %03d", idx),
		StartDate: &start,
		TimeZone:  "UTC",
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithEventID overrides the generated event ID.
func WithEventID(id string) EventOption {
	return func(f *EventFixture) {
		f.ID = id
	}
}

// WithEventTimeZone sets the zone session times are anchored in.
func WithEventTimeZone(zone string) EventOption {
	return func(f *EventFixture) {
		f.TimeZone = zone
	}
}

// WithoutEventDates clears the start date.
func WithoutEventDates() EventOption {
	return func(f *EventFixture) {
		f.StartDate = nil
	}
}

// Persistence returns the fixture as a persistence.Event value.
func (f EventFixture) Persistence() persistence.Event {
	event := persistence.Event{
		ID:        f.ID,
		Name:      f.Name,
		TimeZone:  f.TimeZone,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.CreatedAt,
	}
	if f.StartDate != nil {
		start := *f.StartDate
		end := start.AddDate(0, 0, 2)
		event.StartDate = &start
		event.EndDate = &end
	}
	return event
}

// ----------------------------- Session fixtures -----------------------------

// SessionFixture is a deterministic session record.
type SessionFixture struct {
	ID              string
	EventID         string
	Name            string
	DayNumber       int
	StartTime       string
	EndTime         string
	VenueID         *string
	MatchingEnabled bool
}

// SessionOption configures the generated session fixture.
type SessionOption func(*SessionFixture)

// NewSessionFixture returns a matching-enabled 09:00-10:00 session on day one.
func NewSessionFixture(eventID string, opts ...SessionOption) SessionFixture {
	idx := atomic.AddUint64(&sessionCounter, 1)
	fixture := SessionFixture{
		ID:              fmt.Sprintf("session-%03d", idx),
		EventID:         eventID,
		Name:            fmt.Sprintf("Session %03d", idx),
		DayNumber:       1,
		StartTime:       "09:00",
		EndTime:         "10:00",
		MatchingEnabled: true,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) SessionOption {
	return func(f *SessionFixture) {
		f.ID = id
	}
}

// WithSessionDay sets the one-based event day.
func WithSessionDay(day int) SessionOption {
	return func(f *SessionFixture) {
		f.DayNumber = day
	}
}

// WithSessionTimes sets the clock times in "15:04" layout.
func WithSessionTimes(start, end string) SessionOption {
	return func(f *SessionFixture) {
		f.StartTime = start
		f.EndTime = end
	}
}

// WithSessionVenue attaches the session to a venue.
func WithSessionVenue(venueID string) SessionOption {
	return func(f *SessionFixture) {
		value := venueID
		f.VenueID = &value
	}
}

// WithMatchingDisabled excludes the session from allocation.
func WithMatchingDisabled() SessionOption {
	return func(f *SessionFixture) {
		f.MatchingEnabled = false
	}
}

// Persistence returns the fixture as a persistence.Session value.
func (f SessionFixture) Persistence() persistence.Session {
	return persistence.Session{
		ID:              f.ID,
		EventID:         f.EventID,
		Name:            f.Name,
		DayNumber:       f.DayNumber,
		StartTime:       f.StartTime,
		EndTime:         f.EndTime,
		VenueID:         copyStringPtr(f.VenueID),
		MatchingEnabled: f.MatchingEnabled,
	}
}

// ----------------------------- Location fixtures -----------------------------

// LocationFixture is a deterministic meeting point.
type LocationFixture struct {
	ID       string
	EventID  string
	Name     string
	Capacity int
	VenueIDs []string
}

// LocationOption configures the generated location fixture.
type LocationOption func(*LocationFixture)

// NewLocationFixture returns a single-capacity location attached to the given venues.
func NewLocationFixture(eventID string, venueIDs []string, opts ...LocationOption) LocationFixture {
	idx := atomic.AddUint64(&locationCounter, 1)
	fixture := LocationFixture{
		ID:       fmt.Sprintf("location-%03d", idx),
		EventID:  eventID,
		Name:     fmt.Sprintf("Point %03d", idx),
		Capacity: 1,
		VenueIDs: append([]string(nil), venueIDs...),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithLocationID overrides the generated location ID.
func WithLocationID(id string) LocationOption {
	return func(f *LocationFixture) {
		f.ID = id
	}
}

// WithLocationName overrides the generated name, which drives booking order.
func WithLocationName(name string) LocationOption {
	return func(f *LocationFixture) {
		f.Name = name
	}
}

// WithLocationCapacity sets how many meetings may overlap at the location.
func WithLocationCapacity(capacity int) LocationOption {
	return func(f *LocationFixture) {
		f.Capacity = capacity
	}
}

// Persistence returns the fixture as a persistence.Location value.
func (f LocationFixture) Persistence() persistence.Location {
	return persistence.Location{
		ID:       f.ID,
		EventID:  f.EventID,
		Name:     f.Name,
		Capacity: f.Capacity,
		VenueIDs: append([]string(nil), f.VenueIDs...),
	}
}

// ----------------------------- Member fixtures -----------------------------

// MemberFixture is an attendee profile plus the sessions they can attend.
type MemberFixture struct {
	UserID     string
	Keywords   []string
	Document   *string
	JoinedAt   time.Time
	SessionIDs []string
}

// MemberOption configures the generated member fixture.
type MemberOption func(*MemberFixture)

// NewMemberFixture returns a member with no keywords, no document, and no availability.
func NewMemberFixture(userID string, opts ...MemberOption) MemberFixture {
	fixture := MemberFixture{UserID: userID, JoinedAt: referenceTime}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithKeywords sets the member's interest keywords.
func WithKeywords(keywords ...string) MemberOption {
	return func(f *MemberFixture) {
		f.Keywords = append([]string(nil), keywords...)
	}
}

// WithDocument sets the member's free-text document.
func WithDocument(document string) MemberOption {
	return func(f *MemberFixture) {
		value := document
		f.Document = &value
	}
}

// WithJoinedAt sets the join time, which orders candidate pools.
func WithJoinedAt(t time.Time) MemberOption {
	return func(f *MemberFixture) {
		f.JoinedAt = t
	}
}

// WithAvailability sets the sessions the member can attend.
func WithAvailability(sessionIDs ...string) MemberOption {
	return func(f *MemberFixture) {
		f.SessionIDs = append([]string(nil), sessionIDs...)
	}
}

// Persistence returns the fixture as a persistence.Membership for eventID.
func (f MemberFixture) Persistence(eventID string) persistence.Membership {
	return persistence.Membership{
		EventID:  eventID,
		UserID:   f.UserID,
		Keywords: append([]string(nil), f.Keywords...),
		Document: copyStringPtr(f.Document),
		JoinedAt: f.JoinedAt,
	}
}

// ----------------------------- Layouts -----------------------------

// Layout is an event arrangement that can be written to any store.
type Layout struct {
	Event     EventFixture
	Venues    []persistence.Venue
	Locations []LocationFixture
	Sessions  []SessionFixture
	Members   []MemberFixture
}

// NewLayout returns an event with one venue and no sessions, locations, or members.
func NewLayout(opts ...EventOption) Layout {
	event := NewEventFixture(opts...)
	return Layout{
		Event:  event,
		Venues: []persistence.Venue{{ID: event.ID + "-venue", EventID: event.ID, Name: "Main Hall"}},
	}
}

// VenueID returns the ID of the layout's first venue.
func (l Layout) VenueID() string {
	if len(l.Venues) == 0 {
		return ""
	}
	return l.Venues[0].ID
}

// AddSession appends a session attached to the first venue unless opts override it.
func (l *Layout) AddSession(opts ...SessionOption) SessionFixture {
	base := []SessionOption{WithSessionVenue(l.VenueID())}
	session := NewSessionFixture(l.Event.ID, append(base, opts...)...)
	l.Sessions = append(l.Sessions, session)
	return session
}

// AddLocation appends a location attached to the first venue.
func (l *Layout) AddLocation(opts ...LocationOption) LocationFixture {
	location := NewLocationFixture(l.Event.ID, []string{l.VenueID()}, opts...)
	l.Locations = append(l.Locations, location)
	return location
}

// AddMember appends a member.
func (l *Layout) AddMember(userID string, opts ...MemberOption) MemberFixture {
	member := NewMemberFixture(userID, opts...)
	l.Members = append(l.Members, member)
	return member
}

// Apply writes the layout to store.
func (l Layout) Apply(ctx context.Context, store persistence.Store) error {
	if err := store.CreateEvent(ctx, l.Event.Persistence()); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	for _, venue := range l.Venues {
		if err := store.CreateVenue(ctx, venue); err != nil {
			return fmt.Errorf("create venue %s: %w", venue.ID, err)
		}
	}
	for _, location := range l.Locations {
		if err := store.CreateLocation(ctx, location.Persistence()); err != nil {
			return fmt.Errorf("create location %s: %w", location.ID, err)
		}
	}
	for _, session := range l.Sessions {
		if err := store.CreateSession(ctx, session.Persistence()); err != nil {
			return fmt.Errorf("create session %s: %w", session.ID, err)
		}
	}
	for _, member := range l.Members {
		if err := store.UpsertMembership(ctx, member.Persistence(l.Event.ID)); err != nil {
			return fmt.Errorf("create membership %s: %w", member.UserID, err)
		}
		if err := store.ReplaceAvailability(ctx, l.Event.ID, member.UserID, member.SessionIDs); err != nil {
			return fmt.Errorf("set availability %s: %w", member.UserID, err)
		}
	}
	return nil
}

// MustApply writes the layout to store and fails the test on error.
func (l Layout) MustApply(tb testing.TB, store persistence.Store) {
	tb.Helper()
	if err := l.Apply(context.Background(), store); err != nil {
		tb.Fatalf("apply layout: %v", err)
	}
}

// MustCreateMatch stores an active, unassigned match between two members.
func MustCreateMatch(tb testing.TB, store persistence.Store, id, eventID, userA, userB string) persistence.Match {
	tb.Helper()
	user1, user2 := userA, userB
	if user2 < user1 {
		user1, user2 = user2, user1
	}
	match := persistence.Match{
		ID:        id,
		EventID:   eventID,
		User1ID:   user1,
		User2ID:   user2,
		IsActive:  true,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	if err := store.CreateMatch(context.Background(), match); err != nil {
		tb.Fatalf("create match %s: %v", id, err)
	}
	return match
}

func copyStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
