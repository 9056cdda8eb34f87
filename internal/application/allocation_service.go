package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/example/event-matchmaker/internal/persistence"
	"github.com/example/event-matchmaker/internal/scheduler"
)

// AllocationService books confirmed matches into the earliest free
// (session, slot, location). The meetings table is the only record of
// occupancy, so every decision is made inside the transaction that writes it.
type AllocationService struct {
	store       persistence.Store
	locks       *EventLocks
	sink        EventSink
	idGenerator func() string
	now         func() time.Time
	logger      *zap.Logger
}

// NewAllocationService wires dependencies for meeting allocation.
func NewAllocationService(store persistence.Store, locks *EventLocks, sink EventSink, idGenerator func() string, now func() time.Time) *AllocationService {
	return NewAllocationServiceWithLogger(store, locks, sink, idGenerator, now, nil)
}

// NewAllocationServiceWithLogger wires dependencies and a base logger.
func NewAllocationServiceWithLogger(store persistence.Store, locks *EventLocks, sink EventSink, idGenerator func() string, now func() time.Time, logger *zap.Logger) *AllocationService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &AllocationService{
		store:       store,
		locks:       defaultLocks(locks),
		sink:        defaultSink(sink),
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

type allocation struct {
	result  AssignmentResult
	match   persistence.Match
	created bool
}

// AutoAssign tries to book a meeting for the match. Allocation failures are
// recorded on the match and returned as an unsuccessful result. Unexpected
// errors roll the attempt back, mark the match attempted in a separate write,
// and are also reported as an unsuccessful result with ReasonSystemError.
func (s *AllocationService) AutoAssign(ctx context.Context, matchID string) (result AssignmentResult, err error) {
	if s == nil {
		return AssignmentResult{}, fmt.Errorf("AllocationService is nil")
	}
	if s.store == nil {
		return AssignmentResult{}, fmt.Errorf("store not configured")
	}

	ctx, span := startSpan(ctx, "AllocationService.AutoAssign", attribute.String("match_id", matchID))
	logger := serviceLogger(ctx, s.logger, "AllocationService", "AutoAssign", zap.String("match_id", matchID))
	defer func() {
		endSpan(span, err)
		switch {
		case err != nil:
			logger.Warn("auto assign aborted", zap.String("error_kind", ErrorKind(err)), zap.Error(err))
		case result.Reason == ReasonSystemError:
			logger.Error("auto assign hit a system error", zap.String("message", result.Message))
		default:
			logger.Info("auto assign finished", zap.Bool("success", result.Success), zap.String("reason", string(result.Reason)))
		}
	}()

	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return AssignmentResult{}, mapRepoError(err)
	}

	unlock := s.locks.Lock(match.EventID)
	defer unlock()

	var out allocation
	txErr := s.store.WithinTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		if err := repos.LockEvent(ctx, match.EventID); err != nil {
			return err
		}
		var allocErr error
		out, allocErr = s.allocate(ctx, repos, matchID)
		return allocErr
	})
	if txErr != nil {
		result = s.recordSystemFailure(ctx, logger, match, txErr)
		s.publish(ctx, logger, DomainEvent{
			Type:       EventAssignmentFailed,
			EventID:    match.EventID,
			MatchID:    match.ID,
			UserIDs:    []string{match.User1ID, match.User2ID},
			Reason:     ReasonSystemError,
			OccurredAt: s.now(),
		})
		return result, nil
	}

	switch {
	case out.created:
		s.publish(ctx, logger, DomainEvent{
			Type:       EventMeetingAssigned,
			EventID:    out.match.EventID,
			MatchID:    out.match.ID,
			UserIDs:    []string{out.match.User1ID, out.match.User2ID},
			Meeting:    out.result.Meeting,
			OccurredAt: s.now(),
		})
	case !out.result.Success:
		s.publish(ctx, logger, DomainEvent{
			Type:       EventAssignmentFailed,
			EventID:    out.match.EventID,
			MatchID:    out.match.ID,
			UserIDs:    []string{out.match.User1ID, out.match.User2ID},
			Reason:     out.result.Reason,
			OccurredAt: s.now(),
		})
	}

	return out.result, nil
}

// AllocateEvent runs AutoAssign for every active match in the event that has
// no scheduled meeting, oldest match first. One match failing never stops the pass.
func (s *AllocationService) AllocateEvent(ctx context.Context, eventID string) (summary EventAllocationSummary, err error) {
	if s == nil {
		return EventAllocationSummary{}, fmt.Errorf("AllocationService is nil")
	}
	if s.store == nil {
		return EventAllocationSummary{}, fmt.Errorf("store not configured")
	}

	ctx, span := startSpan(ctx, "AllocationService.AllocateEvent", attribute.String("event_id", eventID))
	logger := serviceLogger(ctx, s.logger, "AllocationService", "AllocateEvent", zap.String("event_id", eventID))
	defer func() {
		endSpan(span, err)
		if err != nil {
			logger.Warn("event allocation failed", zap.String("error_kind", ErrorKind(err)), zap.Error(err))
			return
		}
		logger.Info("event allocation finished",
			zap.Int("attempted", summary.Attempted),
			zap.Int("assigned", summary.Assigned),
			zap.Int("failed", summary.Failed))
	}()

	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return EventAllocationSummary{}, mapRepoError(err)
	}

	matches, err := s.store.ListMatches(ctx, persistence.MatchFilter{EventID: eventID, ActiveOnly: true})
	if err != nil {
		return EventAllocationSummary{}, err
	}

	summary = EventAllocationSummary{EventID: eventID, Details: make([]AssignmentResult, 0)}
	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		scheduled, lookupErr := hasScheduledMeeting(ctx, s.store, match)
		if lookupErr != nil {
			logger.Error("reading assigned meeting failed", zap.String("match_id", match.ID), zap.Error(lookupErr))
			summary.Attempted++
			summary.Failed++
			summary.Details = append(summary.Details, AssignmentResult{MatchID: match.ID, Reason: ReasonSystemError, Message: lookupErr.Error()})
			continue
		}
		if scheduled {
			continue
		}

		summary.Attempted++
		result, err := s.AutoAssign(ctx, match.ID)
		if err != nil {
			result = AssignmentResult{MatchID: match.ID, Reason: ReasonSystemError, Message: err.Error()}
		}
		if result.Success {
			summary.Assigned++
		} else {
			summary.Failed++
		}
		summary.Details = append(summary.Details, result)
	}

	return summary, nil
}

// AssignmentStatus reports whether the match is pending, assigned, or failed.
func (s *AllocationService) AssignmentStatus(ctx context.Context, matchID string) (AssignmentStatus, error) {
	if s == nil {
		return AssignmentStatus{}, fmt.Errorf("AllocationService is nil")
	}
	if s.store == nil {
		return AssignmentStatus{}, fmt.Errorf("store not configured")
	}

	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return AssignmentStatus{}, mapRepoError(err)
	}

	status := AssignmentStatus{MatchID: match.ID, State: AssignmentPending}
	if match.AssignedMeetingID != nil {
		meeting, err := s.store.GetMeeting(ctx, *match.AssignedMeetingID)
		if err != nil && !isNotFoundError(err) {
			return AssignmentStatus{}, err
		}
		if err == nil && meeting.Status != persistence.MeetingCancelled {
			status.State = AssignmentAssigned
			status.Meeting = &meeting
			return status, nil
		}
	}
	if !match.AssignmentAttempted {
		return status, nil
	}

	status.State = AssignmentFailed
	if match.AssignmentFailedReason != nil {
		status.Reason = *match.AssignmentFailedReason
	}
	return status, nil
}

func (s *AllocationService) allocate(ctx context.Context, repos persistence.Repositories, matchID string) (allocation, error) {
	match, err := repos.GetMatch(ctx, matchID)
	if err != nil {
		return allocation{}, err
	}
	if !match.IsActive {
		return allocation{match: match, result: failureResult(match.ID, ReasonMatchInactive)}, nil
	}

	if match.AssignedMeetingID != nil {
		meeting, err := repos.GetMeeting(ctx, *match.AssignedMeetingID)
		if err != nil && !isNotFoundError(err) {
			return allocation{}, err
		}
		if err == nil && meeting.Status == persistence.MeetingScheduled {
			return allocation{match: match, result: AssignmentResult{
				MatchID: match.ID,
				Success: true,
				Message: "Meeting already assigned",
				Meeting: &meeting,
			}}, nil
		}
	}

	event, err := repos.GetEvent(ctx, match.EventID)
	if err != nil {
		return allocation{}, err
	}

	sessions, err := overlappingSessions(ctx, repos, match)
	if err != nil {
		return allocation{}, err
	}
	if len(sessions) == 0 {
		return s.fail(ctx, repos, match, ReasonNoOverlappingSessions)
	}
	if event.StartDate == nil {
		return s.fail(ctx, repos, match, ReasonEventDatesUnset)
	}

	loc, err := eventLocation(event)
	if err != nil {
		return allocation{}, err
	}

	logger := serviceLogger(ctx, s.logger, "AllocationService", "allocate", zap.String("match_id", match.ID))
	participants := []string{match.User1ID, match.User2ID}
	sawLocations := false

	for _, session := range sessions {
		if session.VenueID == nil {
			continue
		}
		locations, err := repos.ListVenueLocations(ctx, *session.VenueID)
		if err != nil {
			return allocation{}, err
		}
		if len(locations) == 0 {
			continue
		}
		sawLocations = true

		window, err := sessionWindow(*event.StartDate, session, loc)
		if err != nil {
			logger.Warn("skipping session with invalid times", zap.String("session_id", session.ID), zap.Error(err))
			continue
		}

		busy, err := repos.ListMeetings(ctx, persistence.MeetingFilter{
			UserIDs:      participants,
			Statuses:     persistence.ActiveMeetingStatuses(),
			OverlapStart: &window.Start,
			OverlapEnd:   &window.End,
		})
		if err != nil {
			return allocation{}, err
		}
		occupied, err := repos.ListMeetings(ctx, persistence.MeetingFilter{
			LocationIDs:  locationIDs(locations),
			Statuses:     persistence.ActiveMeetingStatuses(),
			OverlapStart: &window.Start,
			OverlapEnd:   &window.End,
		})
		if err != nil {
			return allocation{}, err
		}

		busyBookings := toBookings(busy)
		occupiedBookings := toBookings(occupied)

		for _, slot := range scheduler.Slots(window, scheduler.SlotDuration) {
			candidate := scheduler.Booking{Participants: participants, Start: slot.Start, End: slot.End}
			if scheduler.HasParticipantConflict(busyBookings, candidate) {
				continue
			}
			for _, location := range locations {
				if scheduler.LocationLoad(occupiedBookings, location.ID, slot.Start, slot.End) < location.Capacity {
					return s.book(ctx, repos, match, session, location, slot)
				}
			}
		}
	}

	if !sawLocations {
		return s.fail(ctx, repos, match, ReasonNoEligibleLocations)
	}
	return s.fail(ctx, repos, match, ReasonCapacityExhausted)
}

func (s *AllocationService) book(ctx context.Context, repos persistence.Repositories, match persistence.Match, session persistence.Session, location persistence.Location, slot scheduler.Window) (allocation, error) {
	now := s.now()
	meeting := persistence.Meeting{
		ID:         s.idGenerator(),
		MatchID:    match.ID,
		EventID:    match.EventID,
		User1ID:    match.User1ID,
		User2ID:    match.User2ID,
		SessionID:  session.ID,
		LocationID: location.ID,
		Start:      slot.Start,
		End:        slot.End,
		Status:     persistence.MeetingScheduled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repos.CreateMeeting(ctx, meeting); err != nil {
		return allocation{}, err
	}

	meetingID := meeting.ID
	match.AssignmentAttempted = true
	match.AssignmentFailedReason = nil
	match.AssignedMeetingID = &meetingID
	match.AssignedAt = &now
	match.UpdatedAt = now
	if err := repos.UpdateMatch(ctx, match); err != nil {
		return allocation{}, err
	}

	return allocation{
		match:   match,
		created: true,
		result: AssignmentResult{
			MatchID: match.ID,
			Success: true,
			Message: "Meeting assigned",
			Meeting: &meeting,
		},
	}, nil
}

func (s *AllocationService) fail(ctx context.Context, repos persistence.Repositories, match persistence.Match, reason FailureReason) (allocation, error) {
	message := reason.Message()
	match.AssignmentAttempted = true
	match.AssignmentFailedReason = &message
	match.AssignedMeetingID = nil
	match.UpdatedAt = s.now()
	if err := repos.UpdateMatch(ctx, match); err != nil {
		return allocation{}, err
	}
	return allocation{match: match, result: failureResult(match.ID, reason)}, nil
}

// recordSystemFailure marks the match attempted after a rolled back allocation. It is best effort.
func (s *AllocationService) recordSystemFailure(ctx context.Context, logger *zap.Logger, match persistence.Match, cause error) AssignmentResult {
	message := "System error: " + cause.Error()
	writeCtx := context.WithoutCancel(ctx)

	err := s.store.WithinTx(writeCtx, func(ctx context.Context, repos persistence.Repositories) error {
		current, err := repos.GetMatch(ctx, match.ID)
		if err != nil {
			return err
		}
		current.AssignmentAttempted = true
		current.AssignmentFailedReason = &message
		current.UpdatedAt = s.now()
		return repos.UpdateMatch(ctx, current)
	})
	if err != nil {
		logger.Error("could not record system failure on match", zap.Error(err), zap.NamedError("cause", cause))
	}

	return AssignmentResult{MatchID: match.ID, Reason: ReasonSystemError, Message: message}
}

func (s *AllocationService) publish(ctx context.Context, logger *zap.Logger, event DomainEvent) {
	if err := s.sink.Publish(ctx, event); err != nil {
		logger.Warn("publishing domain event failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func failureResult(matchID string, reason FailureReason) AssignmentResult {
	return AssignmentResult{MatchID: matchID, Reason: reason, Message: reason.Message()}
}

// overlappingSessions returns the matching-enabled sessions both attendees can attend, in schedule order.
func overlappingSessions(ctx context.Context, repos persistence.Repositories, match persistence.Match) ([]persistence.Session, error) {
	first, err := repos.ListAvailability(ctx, match.EventID, match.User1ID)
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, nil
	}
	second, err := repos.ListAvailability(ctx, match.EventID, match.User2ID)
	if err != nil {
		return nil, err
	}

	shared := make(map[string]struct{}, len(first))
	for _, id := range first {
		shared[id] = struct{}{}
	}
	both := make(map[string]struct{}, len(second))
	for _, id := range second {
		if _, ok := shared[id]; ok {
			both[id] = struct{}{}
		}
	}
	if len(both) == 0 {
		return nil, nil
	}

	sessions, err := repos.ListSessions(ctx, match.EventID)
	if err != nil {
		return nil, err
	}
	out := make([]persistence.Session, 0, len(both))
	for _, session := range sessions {
		if _, ok := both[session.ID]; ok && session.MatchingEnabled {
			out = append(out, session)
		}
	}
	sortSessions(out)
	return out, nil
}

// sortSessions orders sessions by day, then parsed start clock, then id.
// Stores order by the raw start string, which puts "9:00" after "10:00".
// Sessions whose start does not parse sort last.
func sortSessions(sessions []persistence.Session) {
	type key struct {
		clock scheduler.Clock
		ok    bool
	}
	keys := make(map[string]key, len(sessions))
	for _, session := range sessions {
		clock, err := scheduler.ParseClock(session.StartTime)
		keys[session.ID] = key{clock: clock, ok: err == nil}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if a.DayNumber != b.DayNumber {
			return a.DayNumber < b.DayNumber
		}
		ka, kb := keys[a.ID], keys[b.ID]
		if ka.ok != kb.ok {
			return ka.ok
		}
		if ka.ok && ka.clock != kb.clock {
			return ka.clock.Before(kb.clock)
		}
		return a.ID < b.ID
	})
}

func hasScheduledMeeting(ctx context.Context, meetings persistence.MeetingRepository, match persistence.Match) (bool, error) {
	if match.AssignedMeetingID == nil {
		return false, nil
	}
	meeting, err := meetings.GetMeeting(ctx, *match.AssignedMeetingID)
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return meeting.Status == persistence.MeetingScheduled, nil
}

func eventLocation(event persistence.Event) (*time.Location, error) {
	if event.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(event.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("event %s time zone: %w", event.ID, err)
	}
	return loc, nil
}

func sessionWindow(startDate time.Time, session persistence.Session, loc *time.Location) (scheduler.Window, error) {
	start, err := scheduler.ParseClock(session.StartTime)
	if err != nil {
		return scheduler.Window{}, err
	}
	end, err := scheduler.ParseClock(session.EndTime)
	if err != nil {
		return scheduler.Window{}, err
	}
	return scheduler.SessionWindow(startDate, session.DayNumber, start, end, loc)
}

func toBookings(meetings []persistence.Meeting) []scheduler.Booking {
	bookings := make([]scheduler.Booking, 0, len(meetings))
	for _, meeting := range meetings {
		bookings = append(bookings, scheduler.Booking{
			ID:           meeting.ID,
			Participants: []string{meeting.User1ID, meeting.User2ID},
			LocationID:   meeting.LocationID,
			Start:        meeting.Start,
			End:          meeting.End,
		})
	}
	return bookings
}

func locationIDs(locations []persistence.Location) []string {
	ids := make([]string, len(locations))
	for i, location := range locations {
		ids[i] = location.ID
	}
	return ids
}
