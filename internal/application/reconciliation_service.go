package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/example/event-matchmaker/internal/persistence"
)

// ReconciliationService keeps scheduled meetings consistent with attendee availability.
type ReconciliationService struct {
	store    persistence.Store
	assigner Assigner
	locks    *EventLocks
	sink     EventSink
	now      func() time.Time
	logger   *zap.Logger
}

// NewReconciliationService wires dependencies for availability reconciliation.
func NewReconciliationService(store persistence.Store, assigner Assigner, locks *EventLocks, sink EventSink, now func() time.Time) *ReconciliationService {
	return NewReconciliationServiceWithLogger(store, assigner, locks, sink, now, nil)
}

// NewReconciliationServiceWithLogger wires dependencies and a base logger.
func NewReconciliationServiceWithLogger(store persistence.Store, assigner Assigner, locks *EventLocks, sink EventSink, now func() time.Time, logger *zap.Logger) *ReconciliationService {
	if now == nil {
		now = time.Now
	}
	return &ReconciliationService{
		store:    store,
		assigner: assigner,
		locks:    defaultLocks(locks),
		sink:     defaultSink(sink),
		now:      now,
		logger:   defaultLogger(logger),
	}
}

// Validate returns the user's scheduled meetings whose session is no longer in their availability.
func (s *ReconciliationService) Validate(ctx context.Context, eventID, userID string) ([]persistence.Meeting, error) {
	if s == nil {
		return nil, fmt.Errorf("ReconciliationService is nil")
	}
	if s.store == nil {
		return nil, fmt.Errorf("store not configured")
	}

	available, err := s.store.ListAvailability(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	meetings, err := s.store.ListMeetings(ctx, persistence.MeetingFilter{
		EventID:  eventID,
		UserIDs:  []string{userID},
		Statuses: []persistence.MeetingStatus{persistence.MeetingScheduled},
	})
	if err != nil {
		return nil, err
	}

	invalid := make([]persistence.Meeting, 0)
	for _, meeting := range meetings {
		if !slices.Contains(available, meeting.SessionID) {
			invalid = append(invalid, meeting)
		}
	}
	return invalid, nil
}

// ReconcileAvailability cancels every invalid meeting of the user and tries to
// book a replacement for each. One meeting failing never stops the others.
func (s *ReconciliationService) ReconcileAvailability(ctx context.Context, eventID, userID string) (summary ReassignmentSummary, err error) {
	if s == nil {
		return ReassignmentSummary{}, fmt.Errorf("ReconciliationService is nil")
	}

	ctx, span := startSpan(ctx, "ReconciliationService.ReconcileAvailability",
		attribute.String("event_id", eventID),
		attribute.String("user_id", userID))
	logger := serviceLogger(ctx, s.logger, "ReconciliationService", "ReconcileAvailability",
		zap.String("event_id", eventID),
		zap.String("user_id", userID))
	defer func() {
		endSpan(span, err)
		if err != nil {
			logger.Warn("reconciliation failed", zap.String("error_kind", ErrorKind(err)), zap.Error(err))
			return
		}
		logger.Info("reconciliation finished",
			zap.Int("cancelled", summary.Cancelled),
			zap.Int("reassigned", summary.Reassigned),
			zap.Int("failed", summary.Failed))
	}()

	invalid, err := s.Validate(ctx, eventID, userID)
	if err != nil {
		return ReassignmentSummary{}, err
	}

	summary = ReassignmentSummary{Details: make([]ReassignmentDetail, 0, len(invalid))}
	availability := make(map[string][]string)
	for _, meeting := range invalid {
		detail := ReassignmentDetail{
			MatchID: meeting.MatchID,
			Old:     slotOf(meeting),
		}
		loss, lossErr := s.lostBy(ctx, meeting, availability)
		if lossErr != nil {
			logger.Error("reading partner availability failed", zap.String("meeting_id", meeting.ID), zap.Error(lossErr))
			summary.Failed++
			detail.Reason = ReasonSystemError
			detail.Message = lossErr.Error()
			summary.Details = append(summary.Details, detail)
			continue
		}
		detail.LostBy = loss

		cancelled, cancelErr := s.cancel(ctx, meeting)
		if cancelErr != nil {
			logger.Error("cancelling invalid meeting failed", zap.String("meeting_id", meeting.ID), zap.Error(cancelErr))
			summary.Failed++
			detail.Reason = ReasonSystemError
			detail.Message = cancelErr.Error()
			summary.Details = append(summary.Details, detail)
			continue
		}
		if !cancelled {
			continue
		}

		summary.Cancelled++
		if err := s.sink.Publish(ctx, DomainEvent{
			Type:       EventMeetingCancelled,
			EventID:    meeting.EventID,
			MatchID:    meeting.MatchID,
			UserIDs:    []string{meeting.User1ID, meeting.User2ID},
			Meeting:    &meeting,
			OccurredAt: s.now(),
		}); err != nil {
			logger.Warn("publishing domain event failed", zap.String("type", string(EventMeetingCancelled)), zap.Error(err))
		}

		s.reassign(ctx, logger, &summary, &detail)
		summary.Details = append(summary.Details, detail)
	}

	return summary, nil
}

// AssignPending attempts allocation for every active match of the user without a scheduled meeting.
func (s *ReconciliationService) AssignPending(ctx context.Context, eventID, userID string) (summary PendingSummary, err error) {
	if s == nil {
		return PendingSummary{}, fmt.Errorf("ReconciliationService is nil")
	}
	if s.store == nil {
		return PendingSummary{}, fmt.Errorf("store not configured")
	}

	ctx, span := startSpan(ctx, "ReconciliationService.AssignPending",
		attribute.String("event_id", eventID),
		attribute.String("user_id", userID))
	logger := serviceLogger(ctx, s.logger, "ReconciliationService", "AssignPending",
		zap.String("event_id", eventID),
		zap.String("user_id", userID))
	defer func() {
		endSpan(span, err)
		if err != nil {
			logger.Warn("pending assignment failed", zap.String("error_kind", ErrorKind(err)), zap.Error(err))
			return
		}
		logger.Info("pending assignment finished",
			zap.Int("newly_assigned", summary.NewlyAssigned),
			zap.Int("assignment_failed", summary.AssignmentFailed))
	}()

	matches, err := s.store.ListMatches(ctx, persistence.MatchFilter{EventID: eventID, UserID: userID, ActiveOnly: true})
	if err != nil {
		return PendingSummary{}, err
	}

	summary = PendingSummary{Details: make([]AssignmentResult, 0)}
	for _, match := range matches {
		scheduled, lookupErr := hasScheduledMeeting(ctx, s.store, match)
		if lookupErr != nil {
			logger.Error("reading assigned meeting failed", zap.String("match_id", match.ID), zap.Error(lookupErr))
			summary.AssignmentFailed++
			summary.Details = append(summary.Details, AssignmentResult{MatchID: match.ID, Reason: ReasonSystemError, Message: lookupErr.Error()})
			continue
		}
		if scheduled {
			continue
		}
		result := s.autoAssign(ctx, logger, match.ID)
		if result.Success {
			summary.NewlyAssigned++
		} else {
			summary.AssignmentFailed++
		}
		summary.Details = append(summary.Details, result)
	}
	return summary, nil
}

// ReplaceAvailability stores the user's new session set, reconciles their
// meetings against it, and then books any match still waiting for a meeting.
func (s *ReconciliationService) ReplaceAvailability(ctx context.Context, eventID, userID string, sessionIDs []string) (AvailabilityUpdate, error) {
	if s == nil {
		return AvailabilityUpdate{}, fmt.Errorf("ReconciliationService is nil")
	}
	if s.store == nil {
		return AvailabilityUpdate{}, fmt.Errorf("store not configured")
	}

	if _, err := s.store.GetMembership(ctx, eventID, userID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return AvailabilityUpdate{}, newValidationError(CodeNotMember, "user_id", fmt.Sprintf("%s is not a member of the event", userID))
		}
		return AvailabilityUpdate{}, err
	}

	sessions, err := s.store.ListSessions(ctx, eventID)
	if err != nil {
		return AvailabilityUpdate{}, err
	}
	known := make(map[string]struct{}, len(sessions))
	for _, session := range sessions {
		known[session.ID] = struct{}{}
	}
	vErr := &ValidationError{Code: CodeUnknownSession}
	for _, id := range sessionIDs {
		if _, ok := known[id]; !ok {
			vErr.add(id, "session does not belong to the event")
		}
	}
	if vErr.HasErrors() {
		return AvailabilityUpdate{}, vErr
	}

	if err := s.store.ReplaceAvailability(ctx, eventID, userID, sessionIDs); err != nil {
		return AvailabilityUpdate{}, err
	}
	stored, err := s.store.ListAvailability(ctx, eventID, userID)
	if err != nil {
		return AvailabilityUpdate{}, err
	}

	update := AvailabilityUpdate{SessionIDs: stored}
	update.Reconciliation, err = s.ReconcileAvailability(ctx, eventID, userID)
	if err != nil {
		return update, err
	}

	active, err := s.store.ListMatches(ctx, persistence.MatchFilter{EventID: eventID, UserID: userID, ActiveOnly: true})
	if err != nil {
		return update, err
	}
	if len(active) > 0 {
		pending, err := s.AssignPending(ctx, eventID, userID)
		if err != nil {
			return update, err
		}
		update.Pending = &pending
	}
	return update, nil
}

// cancel marks the meeting cancelled and unlinks it from its match. It reports
// false when the meeting was no longer scheduled.
func (s *ReconciliationService) cancel(ctx context.Context, meeting persistence.Meeting) (bool, error) {
	unlock := s.locks.Lock(meeting.EventID)
	defer unlock()

	cancelled := false
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		if err := repos.LockEvent(ctx, meeting.EventID); err != nil {
			return err
		}
		current, err := repos.GetMeeting(ctx, meeting.ID)
		if err != nil {
			return err
		}
		if current.Status != persistence.MeetingScheduled {
			return nil
		}

		now := s.now()
		current.Status = persistence.MeetingCancelled
		current.UpdatedAt = now
		if err := repos.UpdateMeeting(ctx, current); err != nil {
			return err
		}

		match, err := repos.GetMatch(ctx, current.MatchID)
		if err != nil {
			return err
		}
		if match.AssignedMeetingID != nil && *match.AssignedMeetingID == current.ID {
			match.AssignedMeetingID = nil
			match.AssignedAt = nil
			match.AssignmentAttempted = true
			match.UpdatedAt = now
			if err := repos.UpdateMatch(ctx, match); err != nil {
				return err
			}
		}
		cancelled = true
		return nil
	})
	return cancelled, err
}

func (s *ReconciliationService) reassign(ctx context.Context, logger *zap.Logger, summary *ReassignmentSummary, detail *ReassignmentDetail) {
	result := s.autoAssign(ctx, logger, detail.MatchID)
	if result.Success && result.Meeting != nil {
		slot := slotOf(*result.Meeting)
		detail.New = &slot
		detail.Reassigned = true
		summary.Reassigned++
		return
	}
	detail.Reason = result.Reason
	detail.Message = result.Message
	summary.Failed++
}

func (s *ReconciliationService) autoAssign(ctx context.Context, logger *zap.Logger, matchID string) AssignmentResult {
	if s.assigner == nil {
		return AssignmentResult{MatchID: matchID, Reason: ReasonSystemError, Message: "assigner not configured"}
	}
	result, err := s.assigner.AutoAssign(ctx, matchID)
	if err != nil {
		logger.Warn("automatic assignment failed", zap.String("match_id", matchID), zap.Error(err))
		return AssignmentResult{MatchID: matchID, Reason: ReasonSystemError, Message: err.Error()}
	}
	return result
}

func (s *ReconciliationService) lostBy(ctx context.Context, meeting persistence.Meeting, cache map[string][]string) (AvailabilityLoss, error) {
	lost := func(userID string) (bool, error) {
		sessions, ok := cache[userID]
		if !ok {
			var err error
			sessions, err = s.store.ListAvailability(ctx, meeting.EventID, userID)
			if err != nil {
				return false, err
			}
			cache[userID] = sessions
		}
		return !slices.Contains(sessions, meeting.SessionID), nil
	}

	first, err := lost(meeting.User1ID)
	if err != nil {
		return "", err
	}
	second, err := lost(meeting.User2ID)
	if err != nil {
		return "", err
	}
	switch {
	case first && second:
		return LossBoth, nil
	case first:
		return LossUser1, nil
	case second:
		return LossUser2, nil
	default:
		return LossNone, nil
	}
}

func slotOf(meeting persistence.Meeting) MeetingSlot {
	return MeetingSlot{
		MeetingID:  meeting.ID,
		SessionID:  meeting.SessionID,
		LocationID: meeting.LocationID,
		Start:      meeting.Start,
	}
}
