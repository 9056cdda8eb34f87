// Package memory provides an in-process persistence.Store used by tests and the
// "memory" database driver.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/example/event-matchmaker/internal/persistence"
)

// Storage keeps every table in maps guarded by a single RWMutex. Transactions
// hold the write lock for their full duration and restore a snapshot on error.
type Storage struct {
	mu    sync.RWMutex
	state *state
}

var _ persistence.Store = (*Storage)(nil)

// Open returns an empty Storage.
func Open() *Storage {
	return &Storage{state: newState()}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// WithinTx runs fn with exclusive access. Writes made by fn are discarded when it returns an error or panics.
func (s *Storage) WithinTx(ctx context.Context, fn persistence.TxFunc) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	defer func() {
		if p := recover(); p != nil {
			s.state = snapshot
			panic(p)
		}
		if err != nil {
			s.state = snapshot
		}
	}()

	return fn(ctx, s.state)
}

// --- non-transactional access ---

func (s *Storage) CreateEvent(ctx context.Context, event persistence.Event) error {
	return s.write(ctx, func(st *state) error { return st.CreateEvent(ctx, event) })
}

func (s *Storage) GetEvent(ctx context.Context, id string) (persistence.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetEvent(ctx, id)
}

func (s *Storage) CreateVenue(ctx context.Context, venue persistence.Venue) error {
	return s.write(ctx, func(st *state) error { return st.CreateVenue(ctx, venue) })
}

func (s *Storage) CreateLocation(ctx context.Context, location persistence.Location) error {
	return s.write(ctx, func(st *state) error { return st.CreateLocation(ctx, location) })
}

func (s *Storage) ListVenueLocations(ctx context.Context, venueID string) ([]persistence.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListVenueLocations(ctx, venueID)
}

func (s *Storage) CreateSession(ctx context.Context, session persistence.Session) error {
	return s.write(ctx, func(st *state) error { return st.CreateSession(ctx, session) })
}

func (s *Storage) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetSession(ctx, id)
}

func (s *Storage) ListSessions(ctx context.Context, eventID string) ([]persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListSessions(ctx, eventID)
}

func (s *Storage) UpsertMembership(ctx context.Context, membership persistence.Membership) error {
	return s.write(ctx, func(st *state) error { return st.UpsertMembership(ctx, membership) })
}

func (s *Storage) GetMembership(ctx context.Context, eventID, userID string) (persistence.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetMembership(ctx, eventID, userID)
}

func (s *Storage) ListMemberships(ctx context.Context, eventID string) ([]persistence.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListMemberships(ctx, eventID)
}

func (s *Storage) ReplaceAvailability(ctx context.Context, eventID, userID string, sessionIDs []string) error {
	return s.write(ctx, func(st *state) error { return st.ReplaceAvailability(ctx, eventID, userID, sessionIDs) })
}

func (s *Storage) ListAvailability(ctx context.Context, eventID, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListAvailability(ctx, eventID, userID)
}

func (s *Storage) CreateInteraction(ctx context.Context, interaction persistence.Interaction) error {
	return s.write(ctx, func(st *state) error { return st.CreateInteraction(ctx, interaction) })
}

func (s *Storage) GetInteraction(ctx context.Context, eventID, fromUserID, toUserID string) (persistence.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetInteraction(ctx, eventID, fromUserID, toUserID)
}

func (s *Storage) ListInteractionsFrom(ctx context.Context, eventID, fromUserID string) ([]persistence.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListInteractionsFrom(ctx, eventID, fromUserID)
}

func (s *Storage) CreateMatch(ctx context.Context, match persistence.Match) error {
	return s.write(ctx, func(st *state) error { return st.CreateMatch(ctx, match) })
}

func (s *Storage) GetMatch(ctx context.Context, id string) (persistence.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetMatch(ctx, id)
}

func (s *Storage) FindMatch(ctx context.Context, eventID, user1ID, user2ID string) (persistence.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.FindMatch(ctx, eventID, user1ID, user2ID)
}

func (s *Storage) UpdateMatch(ctx context.Context, match persistence.Match) error {
	return s.write(ctx, func(st *state) error { return st.UpdateMatch(ctx, match) })
}

func (s *Storage) ListMatches(ctx context.Context, filter persistence.MatchFilter) ([]persistence.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListMatches(ctx, filter)
}

func (s *Storage) CreateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	return s.write(ctx, func(st *state) error { return st.CreateMeeting(ctx, meeting) })
}

func (s *Storage) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetMeeting(ctx, id)
}

func (s *Storage) UpdateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	return s.write(ctx, func(st *state) error { return st.UpdateMeeting(ctx, meeting) })
}

func (s *Storage) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListMeetings(ctx, filter)
}

// LockEvent is a no-op outside a transaction.
func (s *Storage) LockEvent(context.Context, string) error {
	return nil
}

func (s *Storage) write(ctx context.Context, fn func(st *state) error) error {
	return s.WithinTx(ctx, func(_ context.Context, repos persistence.Repositories) error {
		return fn(repos.(*state))
	})
}

type membershipKey struct {
	eventID string
	userID  string
}

type interactionKey struct {
	eventID string
	from    string
	to      string
}

type matchKey struct {
	eventID string
	user1   string
	user2   string
}

// state holds the tables. Its methods assume the caller holds Storage.mu.
type state struct {
	events       map[string]persistence.Event
	venues       map[string]persistence.Venue
	locations    map[string]persistence.Location
	sessions     map[string]persistence.Session
	memberships  map[membershipKey]persistence.Membership
	availability map[membershipKey][]string
	interactions map[interactionKey]persistence.Interaction
	matches      map[string]persistence.Match
	matchPairs   map[matchKey]string
	meetings     map[string]persistence.Meeting
}

func newState() *state {
	return &state{
		events:       make(map[string]persistence.Event),
		venues:       make(map[string]persistence.Venue),
		locations:    make(map[string]persistence.Location),
		sessions:     make(map[string]persistence.Session),
		memberships:  make(map[membershipKey]persistence.Membership),
		availability: make(map[membershipKey][]string),
		interactions: make(map[interactionKey]persistence.Interaction),
		matches:      make(map[string]persistence.Match),
		matchPairs:   make(map[matchKey]string),
		meetings:     make(map[string]persistence.Meeting),
	}
}

// clone copies the maps. Values are cloned on the way in and out, so a shallow map copy is enough.
func (st *state) clone() *state {
	out := &state{
		events:       make(map[string]persistence.Event, len(st.events)),
		venues:       make(map[string]persistence.Venue, len(st.venues)),
		locations:    make(map[string]persistence.Location, len(st.locations)),
		sessions:     make(map[string]persistence.Session, len(st.sessions)),
		memberships:  make(map[membershipKey]persistence.Membership, len(st.memberships)),
		availability: make(map[membershipKey][]string, len(st.availability)),
		interactions: make(map[interactionKey]persistence.Interaction, len(st.interactions)),
		matches:      make(map[string]persistence.Match, len(st.matches)),
		matchPairs:   make(map[matchKey]string, len(st.matchPairs)),
		meetings:     make(map[string]persistence.Meeting, len(st.meetings)),
	}
	for k, v := range st.events {
		out.events[k] = v
	}
	for k, v := range st.venues {
		out.venues[k] = v
	}
	for k, v := range st.locations {
		out.locations[k] = v
	}
	for k, v := range st.sessions {
		out.sessions[k] = v
	}
	for k, v := range st.memberships {
		out.memberships[k] = v
	}
	for k, v := range st.availability {
		out.availability[k] = v
	}
	for k, v := range st.interactions {
		out.interactions[k] = v
	}
	for k, v := range st.matches {
		out.matches[k] = v
	}
	for k, v := range st.matchPairs {
		out.matchPairs[k] = v
	}
	for k, v := range st.meetings {
		out.meetings[k] = v
	}
	return out
}

func (st *state) LockEvent(context.Context, string) error {
	return nil
}

// --- EventRepository ---

func (st *state) CreateEvent(_ context.Context, event persistence.Event) error {
	if _, ok := st.events[event.ID]; ok {
		return fmt.Errorf("memory: event %s: %w", event.ID, persistence.ErrDuplicate)
	}
	st.events[event.ID] = cloneEvent(event)
	return nil
}

func (st *state) GetEvent(_ context.Context, id string) (persistence.Event, error) {
	event, ok := st.events[id]
	if !ok {
		return persistence.Event{}, persistence.ErrNotFound
	}
	return cloneEvent(event), nil
}

func (st *state) CreateVenue(_ context.Context, venue persistence.Venue) error {
	if _, ok := st.events[venue.EventID]; !ok {
		return fmt.Errorf("memory: venue %s references unknown event: %w", venue.ID, persistence.ErrConstraintViolation)
	}
	if _, ok := st.venues[venue.ID]; ok {
		return fmt.Errorf("memory: venue %s: %w", venue.ID, persistence.ErrDuplicate)
	}
	st.venues[venue.ID] = venue
	return nil
}

func (st *state) CreateLocation(_ context.Context, location persistence.Location) error {
	if _, ok := st.events[location.EventID]; !ok {
		return fmt.Errorf("memory: location %s references unknown event: %w", location.ID, persistence.ErrConstraintViolation)
	}
	if location.Capacity < 1 {
		return fmt.Errorf("memory: location %s capacity must be positive: %w", location.ID, persistence.ErrConstraintViolation)
	}
	if _, ok := st.locations[location.ID]; ok {
		return fmt.Errorf("memory: location %s: %w", location.ID, persistence.ErrDuplicate)
	}
	for _, venueID := range location.VenueIDs {
		if _, ok := st.venues[venueID]; !ok {
			return fmt.Errorf("memory: location %s references unknown venue %s: %w", location.ID, venueID, persistence.ErrConstraintViolation)
		}
	}
	st.locations[location.ID] = cloneLocation(location)
	return nil
}

func (st *state) ListVenueLocations(_ context.Context, venueID string) ([]persistence.Location, error) {
	locations := make([]persistence.Location, 0)
	for _, location := range st.locations {
		if slices.Contains(location.VenueIDs, venueID) {
			locations = append(locations, cloneLocation(location))
		}
	}
	sort.Slice(locations, func(i, j int) bool {
		if locations[i].Name == locations[j].Name {
			return locations[i].ID < locations[j].ID
		}
		return locations[i].Name < locations[j].Name
	})
	return locations, nil
}

func (st *state) CreateSession(_ context.Context, session persistence.Session) error {
	if _, ok := st.events[session.EventID]; !ok {
		return fmt.Errorf("memory: session %s references unknown event: %w", session.ID, persistence.ErrConstraintViolation)
	}
	if session.VenueID != nil {
		if _, ok := st.venues[*session.VenueID]; !ok {
			return fmt.Errorf("memory: session %s references unknown venue: %w", session.ID, persistence.ErrConstraintViolation)
		}
	}
	if _, ok := st.sessions[session.ID]; ok {
		return fmt.Errorf("memory: session %s: %w", session.ID, persistence.ErrDuplicate)
	}
	st.sessions[session.ID] = cloneSession(session)
	return nil
}

func (st *state) GetSession(_ context.Context, id string) (persistence.Session, error) {
	session, ok := st.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return cloneSession(session), nil
}

func (st *state) ListSessions(_ context.Context, eventID string) ([]persistence.Session, error) {
	sessions := make([]persistence.Session, 0)
	for _, session := range st.sessions {
		if session.EventID == eventID {
			sessions = append(sessions, cloneSession(session))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if a.DayNumber != b.DayNumber {
			return a.DayNumber < b.DayNumber
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
	return sessions, nil
}

// --- AttendeeRepository ---

func (st *state) UpsertMembership(_ context.Context, membership persistence.Membership) error {
	if _, ok := st.events[membership.EventID]; !ok {
		return fmt.Errorf("memory: membership references unknown event %s: %w", membership.EventID, persistence.ErrConstraintViolation)
	}
	key := membershipKey{membership.EventID, membership.UserID}
	if existing, ok := st.memberships[key]; ok {
		membership.JoinedAt = existing.JoinedAt
	}
	st.memberships[key] = cloneMembership(membership)
	return nil
}

func (st *state) GetMembership(_ context.Context, eventID, userID string) (persistence.Membership, error) {
	membership, ok := st.memberships[membershipKey{eventID, userID}]
	if !ok {
		return persistence.Membership{}, persistence.ErrNotFound
	}
	return cloneMembership(membership), nil
}

func (st *state) ListMemberships(_ context.Context, eventID string) ([]persistence.Membership, error) {
	memberships := make([]persistence.Membership, 0)
	for key, membership := range st.memberships {
		if key.eventID == eventID {
			memberships = append(memberships, cloneMembership(membership))
		}
	}
	sort.Slice(memberships, func(i, j int) bool {
		if memberships[i].JoinedAt.Equal(memberships[j].JoinedAt) {
			return memberships[i].UserID < memberships[j].UserID
		}
		return memberships[i].JoinedAt.Before(memberships[j].JoinedAt)
	})
	return memberships, nil
}

func (st *state) ReplaceAvailability(_ context.Context, eventID, userID string, sessionIDs []string) error {
	key := membershipKey{eventID, userID}
	if _, ok := st.memberships[key]; !ok {
		return fmt.Errorf("memory: availability for non-member %s: %w", userID, persistence.ErrConstraintViolation)
	}
	ids := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		session, ok := st.sessions[id]
		if !ok || session.EventID != eventID {
			return fmt.Errorf("memory: availability references unknown session %s: %w", id, persistence.ErrConstraintViolation)
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	st.availability[key] = ids
	return nil
}

func (st *state) ListAvailability(_ context.Context, eventID, userID string) ([]string, error) {
	return slices.Clone(st.availability[membershipKey{eventID, userID}]), nil
}

// --- InteractionRepository ---

func (st *state) CreateInteraction(_ context.Context, interaction persistence.Interaction) error {
	key := interactionKey{interaction.EventID, interaction.FromUserID, interaction.ToUserID}
	if _, ok := st.interactions[key]; ok {
		return fmt.Errorf("memory: interaction %s->%s: %w", interaction.FromUserID, interaction.ToUserID, persistence.ErrDuplicate)
	}
	st.interactions[key] = interaction
	return nil
}

func (st *state) GetInteraction(_ context.Context, eventID, fromUserID, toUserID string) (persistence.Interaction, error) {
	interaction, ok := st.interactions[interactionKey{eventID, fromUserID, toUserID}]
	if !ok {
		return persistence.Interaction{}, persistence.ErrNotFound
	}
	return interaction, nil
}

func (st *state) ListInteractionsFrom(_ context.Context, eventID, fromUserID string) ([]persistence.Interaction, error) {
	interactions := make([]persistence.Interaction, 0)
	for key, interaction := range st.interactions {
		if key.eventID == eventID && key.from == fromUserID {
			interactions = append(interactions, interaction)
		}
	}
	sort.Slice(interactions, func(i, j int) bool {
		if interactions[i].CreatedAt.Equal(interactions[j].CreatedAt) {
			return interactions[i].ID < interactions[j].ID
		}
		return interactions[i].CreatedAt.Before(interactions[j].CreatedAt)
	})
	return interactions, nil
}

// --- MatchRepository ---

func (st *state) CreateMatch(_ context.Context, match persistence.Match) error {
	if match.User1ID >= match.User2ID {
		return fmt.Errorf("memory: match %s is not canonical: %w", match.ID, persistence.ErrConstraintViolation)
	}
	key := matchKey{match.EventID, match.User1ID, match.User2ID}
	if _, ok := st.matchPairs[key]; ok {
		return fmt.Errorf("memory: match %s/%s: %w", match.User1ID, match.User2ID, persistence.ErrDuplicate)
	}
	if _, ok := st.matches[match.ID]; ok {
		return fmt.Errorf("memory: match %s: %w", match.ID, persistence.ErrDuplicate)
	}
	st.matches[match.ID] = cloneMatch(match)
	st.matchPairs[key] = match.ID
	return nil
}

func (st *state) GetMatch(_ context.Context, id string) (persistence.Match, error) {
	match, ok := st.matches[id]
	if !ok {
		return persistence.Match{}, persistence.ErrNotFound
	}
	return cloneMatch(match), nil
}

func (st *state) FindMatch(ctx context.Context, eventID, user1ID, user2ID string) (persistence.Match, error) {
	id, ok := st.matchPairs[matchKey{eventID, user1ID, user2ID}]
	if !ok {
		return persistence.Match{}, persistence.ErrNotFound
	}
	return st.GetMatch(ctx, id)
}

func (st *state) UpdateMatch(_ context.Context, match persistence.Match) error {
	existing, ok := st.matches[match.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	// Pair identity is immutable.
	match.EventID = existing.EventID
	match.User1ID = existing.User1ID
	match.User2ID = existing.User2ID
	match.CreatedAt = existing.CreatedAt
	st.matches[match.ID] = cloneMatch(match)
	return nil
}

func (st *state) ListMatches(_ context.Context, filter persistence.MatchFilter) ([]persistence.Match, error) {
	matches := make([]persistence.Match, 0)
	for _, match := range st.matches {
		if filter.EventID != "" && match.EventID != filter.EventID {
			continue
		}
		if filter.UserID != "" && !match.Involves(filter.UserID) {
			continue
		}
		if filter.ActiveOnly && !match.IsActive {
			continue
		}
		matches = append(matches, cloneMatch(match))
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches, nil
}

// --- MeetingRepository ---

func (st *state) CreateMeeting(_ context.Context, meeting persistence.Meeting) error {
	if _, ok := st.meetings[meeting.ID]; ok {
		return fmt.Errorf("memory: meeting %s: %w", meeting.ID, persistence.ErrDuplicate)
	}
	if _, ok := st.matches[meeting.MatchID]; !ok {
		return fmt.Errorf("memory: meeting %s references unknown match: %w", meeting.ID, persistence.ErrConstraintViolation)
	}
	if _, ok := st.locations[meeting.LocationID]; !ok {
		return fmt.Errorf("memory: meeting %s references unknown location: %w", meeting.ID, persistence.ErrConstraintViolation)
	}
	if !meeting.Start.Before(meeting.End) {
		return fmt.Errorf("memory: meeting %s ends before it starts: %w", meeting.ID, persistence.ErrConstraintViolation)
	}
	st.meetings[meeting.ID] = normalizeMeeting(meeting)
	return nil
}

func (st *state) GetMeeting(_ context.Context, id string) (persistence.Meeting, error) {
	meeting, ok := st.meetings[id]
	if !ok {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	return meeting, nil
}

func (st *state) UpdateMeeting(_ context.Context, meeting persistence.Meeting) error {
	existing, ok := st.meetings[meeting.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	meeting.MatchID = existing.MatchID
	meeting.CreatedAt = existing.CreatedAt
	st.meetings[meeting.ID] = normalizeMeeting(meeting)
	return nil
}

func (st *state) ListMeetings(_ context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	meetings := make([]persistence.Meeting, 0)
	for _, meeting := range st.meetings {
		if meetingMatches(meeting, filter) {
			meetings = append(meetings, meeting)
		}
	}
	sort.Slice(meetings, func(i, j int) bool {
		if meetings[i].Start.Equal(meetings[j].Start) {
			return meetings[i].ID < meetings[j].ID
		}
		return meetings[i].Start.Before(meetings[j].Start)
	})
	return meetings, nil
}

func meetingMatches(meeting persistence.Meeting, filter persistence.MeetingFilter) bool {
	if filter.EventID != "" && meeting.EventID != filter.EventID {
		return false
	}
	if filter.MatchID != "" && meeting.MatchID != filter.MatchID {
		return false
	}
	if len(filter.UserIDs) > 0 && !slices.Contains(filter.UserIDs, meeting.User1ID) && !slices.Contains(filter.UserIDs, meeting.User2ID) {
		return false
	}
	if len(filter.LocationIDs) > 0 && !slices.Contains(filter.LocationIDs, meeting.LocationID) {
		return false
	}
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, meeting.Status) {
		return false
	}
	if filter.OverlapEnd != nil && !meeting.Start.Before(*filter.OverlapEnd) {
		return false
	}
	if filter.OverlapStart != nil && !meeting.End.After(*filter.OverlapStart) {
		return false
	}
	return true
}

func normalizeMeeting(meeting persistence.Meeting) persistence.Meeting {
	meeting.Start = meeting.Start.UTC()
	meeting.End = meeting.End.UTC()
	return meeting
}

func cloneEvent(event persistence.Event) persistence.Event {
	event.StartDate = cloneTime(event.StartDate)
	event.EndDate = cloneTime(event.EndDate)
	return event
}

func cloneLocation(location persistence.Location) persistence.Location {
	location.VenueIDs = slices.Clone(location.VenueIDs)
	return location
}

func cloneSession(session persistence.Session) persistence.Session {
	session.VenueID = cloneString(session.VenueID)
	return session
}

func cloneMembership(membership persistence.Membership) persistence.Membership {
	membership.Keywords = slices.Clone(membership.Keywords)
	membership.Document = cloneString(membership.Document)
	return membership
}

func cloneMatch(match persistence.Match) persistence.Match {
	match.AssignmentFailedReason = cloneString(match.AssignmentFailedReason)
	match.AssignedMeetingID = cloneString(match.AssignedMeetingID)
	match.AssignedAt = cloneTime(match.AssignedAt)
	return match
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
