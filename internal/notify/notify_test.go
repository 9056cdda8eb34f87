package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/event-matchmaker/internal/application"
	"github.com/example/event-matchmaker/internal/persistence"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	messages []message
	err      error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, message{subject: subject, data: data})
	return nil
}

func sampleEvent() application.DomainEvent {
	start := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	return application.DomainEvent{
		Type:    application.EventMeetingAssigned,
		EventID: "event-1",
		MatchID: "match-1",
		UserIDs: []string{"alice", "bob"},
		Meeting: &persistence.Meeting{
			ID: "meeting-1", MatchID: "match-1", LocationID: "loc-1",
			Start: start, End: start.Add(15 * time.Minute), Status: persistence.MeetingScheduled,
		},
		OccurredAt: start.Add(-time.Hour),
	}
}

func TestPublisherPublishesJSONOnTypedSubject(t *testing.T) {
	conn := &fakeConn{}
	publisher := NewPublisher(conn, "matchmaker.", nil)

	require.NoError(t, publisher.Publish(context.Background(), sampleEvent()))
	require.Len(t, conn.messages, 1)
	assert.Equal(t, "matchmaker.meeting.assigned", conn.messages[0].subject)

	var decoded application.DomainEvent
	require.NoError(t, json.Unmarshal(conn.messages[0].data, &decoded))
	assert.Equal(t, "match-1", decoded.MatchID)
	assert.Equal(t, []string{"alice", "bob"}, decoded.UserIDs)
	require.NotNil(t, decoded.Meeting)
	assert.Equal(t, "loc-1", decoded.Meeting.LocationID)
}

func TestPublisherSubjectWithoutPrefix(t *testing.T) {
	publisher := NewPublisher(&fakeConn{}, "", nil)
	assert.Equal(t, "assignment.failed", publisher.Subject(application.EventAssignmentFailed))
}

func TestPublisherWrapsConnectionErrors(t *testing.T) {
	broken := errors.New("nats: connection closed")
	publisher := NewPublisher(&fakeConn{err: broken}, "matchmaker", nil)

	err := publisher.Publish(context.Background(), sampleEvent())
	assert.ErrorIs(t, err, broken)
}

func TestPublisherHonoursCancelledContext(t *testing.T) {
	conn := &fakeConn{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewPublisher(conn, "matchmaker", nil).Publish(ctx, sampleEvent())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, conn.messages)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	event := sampleEvent()
	event.Type = application.EventAssignmentFailed
	event.Meeting = nil
	event.Reason = application.ReasonCapacityExhausted
	require.NoError(t, sink.Publish(context.Background(), event))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "assignment.failed", fields["type"])
	assert.Equal(t, "capacity_exhausted", fields["reason"])
	assert.NotContains(t, fields, "meeting_id")
}
