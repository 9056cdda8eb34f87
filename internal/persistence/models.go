package persistence

import "time"

// Event is a scheduled gathering whose attendees can be matched.
type Event struct {
	ID        string
	Name      string
	StartDate *time.Time
	EndDate   *time.Time
	// TimeZone is an IANA zone name used to anchor session clock times.
	TimeZone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Venue is the area a session takes place in.
type Venue struct {
	ID      string
	EventID string
	Name    string
}

// Location is a meeting point that can host Capacity concurrent meetings.
type Location struct {
	ID       string
	EventID  string
	Name     string
	Capacity int
	VenueIDs []string
}

// Session is a time window on one day of an event. StartTime and EndTime use the "15:04" layout.
type Session struct {
	ID              string
	EventID         string
	Name            string
	DayNumber       int
	StartTime       string
	EndTime         string
	VenueID         *string
	MatchingEnabled bool
}

// Membership is an attendee profile within one event.
type Membership struct {
	EventID  string
	UserID   string
	Keywords []string
	Document *string
	JoinedAt time.Time
}

// InteractionAction is the kind of interest an attendee expressed.
type InteractionAction string

const (
	InteractionLike InteractionAction = "like"
	InteractionPass InteractionAction = "pass"
)

// Valid reports whether the action is one of the known actions.
func (a InteractionAction) Valid() bool {
	return a == InteractionLike || a == InteractionPass
}

// Interaction is an immutable record of one attendee acting on another.
type Interaction struct {
	ID         string            `json:"id"`
	EventID    string            `json:"event_id"`
	FromUserID string            `json:"from_user_id"`
	ToUserID   string            `json:"to_user_id"`
	Action     InteractionAction `json:"action"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Match pairs two attendees who liked each other. User1ID is always the lesser ID.
type Match struct {
	ID                     string     `json:"id"`
	EventID                string     `json:"event_id"`
	User1ID                string     `json:"user1_id"`
	User2ID                string     `json:"user2_id"`
	IsActive               bool       `json:"is_active"`
	AssignmentAttempted    bool       `json:"assignment_attempted"`
	AssignmentFailedReason *string    `json:"assignment_failed_reason,omitempty"`
	AssignedMeetingID      *string    `json:"assigned_meeting_id,omitempty"`
	AssignedAt             *time.Time `json:"assigned_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Involves reports whether userID is one side of the match.
func (m Match) Involves(userID string) bool {
	return m.User1ID == userID || m.User2ID == userID
}

// Partner returns the other side of the match.
func (m Match) Partner(userID string) string {
	if m.User1ID == userID {
		return m.User2ID
	}
	return m.User1ID
}

// MeetingStatus tracks the lifecycle of a meeting row.
type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "scheduled"
	MeetingCancelled MeetingStatus = "cancelled"
	MeetingCompleted MeetingStatus = "completed"
)

// ActiveMeetingStatuses lists the statuses that occupy attendee time and location capacity.
func ActiveMeetingStatuses() []MeetingStatus {
	return []MeetingStatus{MeetingScheduled, MeetingCompleted}
}

// Meeting is a booked slot for a match. Start and End are UTC instants.
type Meeting struct {
	ID         string        `json:"id"`
	MatchID    string        `json:"match_id"`
	EventID    string        `json:"event_id"`
	User1ID    string        `json:"user1_id"`
	User2ID    string        `json:"user2_id"`
	SessionID  string        `json:"session_id"`
	LocationID string        `json:"location_id"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Status     MeetingStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
