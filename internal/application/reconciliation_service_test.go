package application_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/event-matchmaker/internal/application"
	"github.com/example/event-matchmaker/internal/persistence"
	"github.com/example/event-matchmaker/internal/persistence/memory"
	"github.com/example/event-matchmaker/internal/testfixtures"
)

type twoSessionEvent struct {
	layout    testfixtures.Layout
	morning   testfixtures.SessionFixture
	afternoon testfixtures.SessionFixture
}

func newTwoSessionEvent() twoSessionEvent {
	layout := testfixtures.NewLayout()
	morning := layout.AddSession()
	afternoon := layout.AddSession(testfixtures.WithSessionTimes("14:00", "15:00"))
	layout.AddLocation()
	layout.AddMember("alice", testfixtures.WithAvailability(morning.ID, afternoon.ID))
	layout.AddMember("bob", testfixtures.WithAvailability(morning.ID, afternoon.ID))
	return twoSessionEvent{layout: layout, morning: morning, afternoon: afternoon}
}

func assignedMatch(t *testing.T, h *harness, eventID string) persistence.Meeting {
	t.Helper()
	testfixtures.MustCreateMatch(t, h.store, "match-1", eventID, "alice", "bob")
	result, err := h.services.Allocation.AutoAssign(context.Background(), "match-1")
	require.NoError(t, err)
	require.True(t, result.Success)
	return *result.Meeting
}

func TestReplaceAvailabilityMovesMeeting(t *testing.T) {
	fx := newTwoSessionEvent()
	h := newHarness(t, fx.layout)
	original := assignedMatch(t, h, fx.layout.Event.ID)
	require.Equal(t, fx.morning.ID, original.SessionID)
	ctx := context.Background()

	update, err := h.services.Reconciliation.ReplaceAvailability(ctx, fx.layout.Event.ID, "alice", []string{fx.afternoon.ID})
	require.NoError(t, err)

	assert.Equal(t, []string{fx.afternoon.ID}, update.SessionIDs)
	summary := update.Reconciliation
	assert.Equal(t, 1, summary.Cancelled)
	assert.Equal(t, 1, summary.Reassigned)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Details, 1)

	detail := summary.Details[0]
	assert.Equal(t, "match-1", detail.MatchID)
	assert.Equal(t, application.LossUser1, detail.LostBy)
	assert.Equal(t, original.ID, detail.Old.MeetingID)
	require.NotNil(t, detail.New)
	assert.Equal(t, fx.afternoon.ID, detail.New.SessionID)
	assert.Equal(t, testfixtures.At(1, 14, 0), detail.New.Start)

	cancelled, err := h.store.GetMeeting(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.MeetingCancelled, cancelled.Status)

	match := h.match(t, "match-1")
	require.NotNil(t, match.AssignedMeetingID)
	assert.Equal(t, detail.New.MeetingID, *match.AssignedMeetingID)

	require.NotNil(t, update.Pending)
	assert.Equal(t, 0, update.Pending.NewlyAssigned)

	assert.Equal(t, []application.DomainEventType{
		application.EventMeetingAssigned,
		application.EventMeetingCancelled,
		application.EventMeetingAssigned,
	}, h.sink.Types())
}

func TestReconcileAvailabilityIsIdempotent(t *testing.T) {
	fx := newTwoSessionEvent()
	h := newHarness(t, fx.layout)
	assignedMatch(t, h, fx.layout.Event.ID)
	ctx := context.Background()

	require.NoError(t, h.store.ReplaceAvailability(ctx, fx.layout.Event.ID, "bob", []string{fx.afternoon.ID}))

	first, err := h.services.Reconciliation.ReconcileAvailability(ctx, fx.layout.Event.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Cancelled)
	assert.Equal(t, application.LossUser2, first.Details[0].LostBy)

	second, err := h.services.Reconciliation.ReconcileAvailability(ctx, fx.layout.Event.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, application.ReassignmentSummary{Details: []application.ReassignmentDetail{}}, second)
}

func TestReconcileAvailabilityReportsFailedReassignment(t *testing.T) {
	fx := newTwoSessionEvent()
	h := newHarness(t, fx.layout)
	original := assignedMatch(t, h, fx.layout.Event.ID)
	ctx := context.Background()

	update, err := h.services.Reconciliation.ReplaceAvailability(ctx, fx.layout.Event.ID, "alice", nil)
	require.NoError(t, err)

	summary := update.Reconciliation
	assert.Equal(t, 1, summary.Cancelled)
	assert.Equal(t, 0, summary.Reassigned)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Details, 1)
	assert.Equal(t, original.ID, summary.Details[0].Old.MeetingID)
	assert.Nil(t, summary.Details[0].New)
	assert.Equal(t, application.ReasonNoOverlappingSessions, summary.Details[0].Reason)

	match := h.match(t, "match-1")
	assert.Nil(t, match.AssignedMeetingID)
	assert.True(t, match.AssignmentAttempted)

	require.NotNil(t, update.Pending)
	assert.Equal(t, 1, update.Pending.AssignmentFailed)
}

func TestReconcileAvailabilityContinuesPastUnreadablePartner(t *testing.T) {
	fx := newTwoSessionEvent()
	fx.layout.AddMember("carol", testfixtures.WithAvailability(fx.afternoon.ID))
	fx.layout.Members[1].SessionIDs = []string{fx.morning.ID}
	inner := memory.Open()
	h := newHarnessWithStore(t, flakyReadStore{Store: inner}, fx.layout)
	ctx := context.Background()

	withBob := assignedMatch(t, h, fx.layout.Event.ID)
	testfixtures.MustCreateMatch(t, h.store, "match-2", fx.layout.Event.ID, "alice", "carol")
	second, err := h.services.Allocation.AutoAssign(ctx, "match-2")
	require.NoError(t, err)
	require.True(t, second.Success, second.Message)
	require.NoError(t, h.store.ReplaceAvailability(ctx, fx.layout.Event.ID, "alice", nil))

	reconciler := application.NewReconciliationService(flakyReadStore{Store: inner, availabilityOf: "bob"}, h.services.Allocation, nil, nil, nil)
	summary, err := reconciler.ReconcileAvailability(ctx, fx.layout.Event.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Cancelled)
	assert.Equal(t, 2, summary.Failed)
	require.Len(t, summary.Details, 2)
	byMatch := make(map[string]application.ReassignmentDetail, len(summary.Details))
	for _, detail := range summary.Details {
		byMatch[detail.MatchID] = detail
	}
	assert.Equal(t, application.ReasonSystemError, byMatch["match-1"].Reason)
	assert.Contains(t, byMatch["match-1"].Message, errDiskFull.Error())
	assert.Equal(t, application.LossUser1, byMatch["match-2"].LostBy)
	assert.Equal(t, application.ReasonNoOverlappingSessions, byMatch["match-2"].Reason)

	kept, err := inner.GetMeeting(ctx, withBob.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.MeetingScheduled, kept.Status)
	cancelled, err := inner.GetMeeting(ctx, second.Meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.MeetingCancelled, cancelled.Status)
}

func TestReconcileAvailabilityMarksCancelledMatchAttempted(t *testing.T) {
	fx := newTwoSessionEvent()
	h := newHarness(t, fx.layout)
	assignedMatch(t, h, fx.layout.Event.ID)
	ctx := context.Background()

	match := h.match(t, "match-1")
	match.AssignmentAttempted = false
	require.NoError(t, h.store.UpdateMatch(ctx, match))
	require.NoError(t, h.store.ReplaceAvailability(ctx, fx.layout.Event.ID, "bob", nil))

	reconciler := application.NewReconciliationService(h.store, nil, nil, nil, nil)
	summary, err := reconciler.ReconcileAvailability(ctx, fx.layout.Event.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Cancelled)

	match = h.match(t, "match-1")
	assert.Nil(t, match.AssignedMeetingID)
	assert.Nil(t, match.AssignedAt)
	assert.True(t, match.AssignmentAttempted)
}

func TestAssignPendingContinuesPastUnreadableMeeting(t *testing.T) {
	fx := newTwoSessionEvent()
	fx.layout.AddMember("carol", testfixtures.WithAvailability(fx.morning.ID))
	inner := memory.Open()
	h := newHarnessWithStore(t, inner, fx.layout)
	ctx := context.Background()

	broken := assignedMatch(t, h, fx.layout.Event.ID)
	testfixtures.MustCreateMatch(t, h.store, "match-2", fx.layout.Event.ID, "alice", "carol")

	reconciler := application.NewReconciliationService(flakyReadStore{Store: inner, meetingID: broken.ID}, h.services.Allocation, nil, nil, nil)
	summary, err := reconciler.AssignPending(ctx, fx.layout.Event.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.NewlyAssigned)
	assert.Equal(t, 1, summary.AssignmentFailed)
	require.Len(t, summary.Details, 2)
	assert.Equal(t, "match-1", summary.Details[0].MatchID)
	assert.Equal(t, application.ReasonSystemError, summary.Details[0].Reason)
	assert.Equal(t, "match-2", summary.Details[1].MatchID)
	assert.True(t, summary.Details[1].Success)
}

func TestReplaceAvailabilityAssignsPendingMatches(t *testing.T) {
	fx := newTwoSessionEvent()
	fx.layout.Members[1].SessionIDs = nil
	h := newHarness(t, fx.layout)
	testfixtures.MustCreateMatch(t, h.store, "match-1", fx.layout.Event.ID, "alice", "bob")
	ctx := context.Background()

	result, err := h.services.Allocation.AutoAssign(ctx, "match-1")
	require.NoError(t, err)
	require.False(t, result.Success)

	update, err := h.services.Reconciliation.ReplaceAvailability(ctx, fx.layout.Event.ID, "bob", []string{fx.afternoon.ID, fx.afternoon.ID})
	require.NoError(t, err)

	assert.Equal(t, []string{fx.afternoon.ID}, update.SessionIDs)
	assert.Equal(t, 0, update.Reconciliation.Cancelled)
	require.NotNil(t, update.Pending)
	assert.Equal(t, 1, update.Pending.NewlyAssigned)
	require.Len(t, update.Pending.Details, 1)
	assert.Equal(t, testfixtures.At(1, 14, 0), update.Pending.Details[0].Meeting.Start)
}

func TestReplaceAvailabilitySkipsPendingWithoutMatches(t *testing.T) {
	fx := newTwoSessionEvent()
	h := newHarness(t, fx.layout)

	update, err := h.services.Reconciliation.ReplaceAvailability(context.Background(), fx.layout.Event.ID, "alice", []string{fx.morning.ID})
	require.NoError(t, err)
	assert.Nil(t, update.Pending)
}

func TestReplaceAvailabilityValidation(t *testing.T) {
	fx := newTwoSessionEvent()
	h := newHarness(t, fx.layout)
	ctx := context.Background()

	_, err := h.services.Reconciliation.ReplaceAvailability(ctx, fx.layout.Event.ID, "mallory", []string{fx.morning.ID})
	require.ErrorIs(t, err, application.ErrNotMember)

	_, err = h.services.Reconciliation.ReplaceAvailability(ctx, fx.layout.Event.ID, "alice", []string{fx.morning.ID, "session-elsewhere"})
	require.ErrorIs(t, err, application.ErrUnknownSession)
	var vErr *application.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "session-elsewhere")

	stored, err := h.store.ListAvailability(ctx, fx.layout.Event.ID, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{fx.morning.ID, fx.afternoon.ID}, stored)
}

func TestValidateListsOnlyInvalidMeetings(t *testing.T) {
	fx := newTwoSessionEvent()
	h := newHarness(t, fx.layout)
	original := assignedMatch(t, h, fx.layout.Event.ID)
	ctx := context.Background()

	invalid, err := h.services.Reconciliation.Validate(ctx, fx.layout.Event.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, invalid)

	require.NoError(t, h.store.ReplaceAvailability(ctx, fx.layout.Event.ID, "alice", []string{fx.afternoon.ID}))
	invalid, err = h.services.Reconciliation.Validate(ctx, fx.layout.Event.ID, "alice")
	require.NoError(t, err)
	require.Len(t, invalid, 1)
	assert.Equal(t, original.ID, invalid[0].ID)
}
