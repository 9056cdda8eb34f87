package application

import (
	"context"
	"errors"
	"time"

	"github.com/example/event-matchmaker/internal/persistence"
)

// DomainEventType names a post-commit notification.
type DomainEventType string

const (
	EventMatchConfirmed   DomainEventType = "match.confirmed"
	EventMeetingAssigned  DomainEventType = "meeting.assigned"
	EventMeetingCancelled DomainEventType = "meeting.cancelled"
	EventAssignmentFailed DomainEventType = "assignment.failed"
)

// DomainEvent is published after the transaction that produced it commits.
type DomainEvent struct {
	Type       DomainEventType      `json:"type"`
	EventID    string               `json:"event_id"`
	MatchID    string               `json:"match_id"`
	UserIDs    []string             `json:"user_ids"`
	Meeting    *persistence.Meeting `json:"meeting,omitempty"`
	Reason     FailureReason        `json:"reason,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// EventSink receives domain events. Publication failures never undo committed work.
type EventSink interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event DomainEvent) error

// Publish implements EventSink.
func (f EventSinkFunc) Publish(ctx context.Context, event DomainEvent) error {
	return f(ctx, event)
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []EventSink

// Publish implements EventSink.
func (m MultiSink) Publish(ctx context.Context, event DomainEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, DomainEvent) error { return nil }

func defaultSink(sink EventSink) EventSink {
	if sink == nil {
		return nopSink{}
	}
	return sink
}
