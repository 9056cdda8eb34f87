package application

import (
	"time"

	"github.com/example/event-matchmaker/internal/persistence"
)

// RecordInteractionInput is a like or pass from Seeker toward Target.
type RecordInteractionInput struct {
	EventID  string
	SeekerID string
	TargetID string
	Action   persistence.InteractionAction
}

// InteractionOutcome reports what recording an interaction caused.
type InteractionOutcome struct {
	Interaction  persistence.Interaction `json:"interaction"`
	MatchCreated bool                    `json:"match_created"`
	Match        *persistence.Match      `json:"match,omitempty"`
	Assignment   *AssignmentResult       `json:"assignment,omitempty"`
}

// AssignmentResult is the outcome of one allocation attempt. Allocation
// failures are reported here rather than as errors.
type AssignmentResult struct {
	MatchID string               `json:"match_id"`
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Reason  FailureReason        `json:"reason,omitempty"`
	Meeting *persistence.Meeting `json:"meeting,omitempty"`
}

// AssignmentState is the coarse allocation state of a match.
type AssignmentState string

const (
	AssignmentPending  AssignmentState = "pending"
	AssignmentAssigned AssignmentState = "assigned"
	AssignmentFailed   AssignmentState = "failed"
)

// AssignmentStatus describes where a match stands.
type AssignmentStatus struct {
	MatchID string               `json:"match_id"`
	State   AssignmentState      `json:"state"`
	Reason  string               `json:"reason,omitempty"`
	Meeting *persistence.Meeting `json:"meeting,omitempty"`
}

// EventAllocationSummary reports a batch allocation pass over an event.
type EventAllocationSummary struct {
	EventID   string             `json:"event_id"`
	Attempted int                `json:"attempted"`
	Assigned  int                `json:"assigned"`
	Failed    int                `json:"failed"`
	Details   []AssignmentResult `json:"details"`
}

// AvailabilityLoss records which side of a match no longer attends a session.
type AvailabilityLoss string

const (
	LossUser1 AvailabilityLoss = "user1"
	LossUser2 AvailabilityLoss = "user2"
	LossBoth  AvailabilityLoss = "both"
	LossNone  AvailabilityLoss = "none"
)

// MeetingSlot identifies where and when a meeting happens.
type MeetingSlot struct {
	MeetingID  string    `json:"meeting_id"`
	SessionID  string    `json:"session_id"`
	LocationID string    `json:"location_id"`
	Start      time.Time `json:"start"`
}

// ReassignmentDetail describes one invalidated meeting.
type ReassignmentDetail struct {
	MatchID    string           `json:"match_id"`
	Old        MeetingSlot      `json:"old"`
	New        *MeetingSlot     `json:"new,omitempty"`
	LostBy     AvailabilityLoss `json:"lost_by"`
	Reassigned bool             `json:"reassigned"`
	Reason     FailureReason    `json:"reason,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// ReassignmentSummary reports a reconciliation pass for one attendee.
type ReassignmentSummary struct {
	Cancelled  int                  `json:"cancelled"`
	Reassigned int                  `json:"reassigned"`
	Failed     int                  `json:"failed"`
	Details    []ReassignmentDetail `json:"details"`
}

// PendingSummary reports an assign-pending pass for one attendee.
type PendingSummary struct {
	NewlyAssigned    int                `json:"newly_assigned"`
	AssignmentFailed int                `json:"assignment_failed"`
	Details          []AssignmentResult `json:"details"`
}

// AvailabilityUpdate reports everything that followed an availability change.
type AvailabilityUpdate struct {
	SessionIDs     []string            `json:"session_ids"`
	Reconciliation ReassignmentSummary `json:"reconciliation"`
	Pending        *PendingSummary     `json:"pending,omitempty"`
}
