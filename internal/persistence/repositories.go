package persistence

import (
	"context"
	"time"
)

// EventRepository stores events and their venue layout.
type EventRepository interface {
	CreateEvent(ctx context.Context, event Event) error
	GetEvent(ctx context.Context, id string) (Event, error)
	CreateVenue(ctx context.Context, venue Venue) error
	CreateLocation(ctx context.Context, location Location) error
	// ListVenueLocations returns the locations attached to a venue ordered by name then ID.
	ListVenueLocations(ctx context.Context, venueID string) ([]Location, error)
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	// ListSessions returns sessions ordered by day, start time, then ID.
	ListSessions(ctx context.Context, eventID string) ([]Session, error)
}

// AttendeeRepository stores memberships and session availability.
type AttendeeRepository interface {
	UpsertMembership(ctx context.Context, membership Membership) error
	GetMembership(ctx context.Context, eventID, userID string) (Membership, error)
	// ListMemberships returns memberships ordered by join time then user ID.
	ListMemberships(ctx context.Context, eventID string) ([]Membership, error)
	ReplaceAvailability(ctx context.Context, eventID, userID string, sessionIDs []string) error
	ListAvailability(ctx context.Context, eventID, userID string) ([]string, error)
}

// InteractionRepository stores append-only like/pass records.
type InteractionRepository interface {
	CreateInteraction(ctx context.Context, interaction Interaction) error
	GetInteraction(ctx context.Context, eventID, fromUserID, toUserID string) (Interaction, error)
	ListInteractionsFrom(ctx context.Context, eventID, fromUserID string) ([]Interaction, error)
}

// MatchFilter narrows match queries.
type MatchFilter struct {
	EventID    string
	UserID     string
	ActiveOnly bool
}

// MatchRepository stores matches.
type MatchRepository interface {
	CreateMatch(ctx context.Context, match Match) error
	GetMatch(ctx context.Context, id string) (Match, error)
	FindMatch(ctx context.Context, eventID, user1ID, user2ID string) (Match, error)
	UpdateMatch(ctx context.Context, match Match) error
	// ListMatches returns matches ordered by creation time then ID.
	ListMatches(ctx context.Context, filter MatchFilter) ([]Match, error)
}

// MeetingFilter narrows meeting queries. Zero values match everything.
type MeetingFilter struct {
	EventID     string
	MatchID     string
	UserIDs     []string
	LocationIDs []string
	Statuses    []MeetingStatus
	// OverlapStart and OverlapEnd select meetings intersecting [OverlapStart, OverlapEnd).
	OverlapStart *time.Time
	OverlapEnd   *time.Time
}

// MeetingRepository stores meetings. Rows are never deleted.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting Meeting) error
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	UpdateMeeting(ctx context.Context, meeting Meeting) error
	// ListMeetings returns meetings ordered by start then ID.
	ListMeetings(ctx context.Context, filter MeetingFilter) ([]Meeting, error)
}

// Repositories groups every repository reachable inside a transaction.
type Repositories interface {
	EventRepository
	AttendeeRepository
	InteractionRepository
	MatchRepository
	MeetingRepository
	// LockEvent serialises allocation for one event until the surrounding transaction ends.
	LockEvent(ctx context.Context, eventID string) error
}

// TxFunc runs inside a transaction. Returning an error rolls every write back.
type TxFunc func(ctx context.Context, repos Repositories) error

// Store is the transactional persistence boundary.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn TxFunc) error
	Close() error
}
