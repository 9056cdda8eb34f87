package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/example/event-matchmaker/internal/persistence"
)

// Assigner books a meeting for a freshly confirmed match.
type Assigner interface {
	AutoAssign(ctx context.Context, matchID string) (AssignmentResult, error)
}

// InteractionService records likes and passes and confirms mutual likes as matches.
type InteractionService struct {
	store       persistence.Store
	assigner    Assigner
	locks       *EventLocks
	sink        EventSink
	idGenerator func() string
	now         func() time.Time
	logger      *zap.Logger
}

// NewInteractionService wires dependencies for interaction recording.
func NewInteractionService(store persistence.Store, assigner Assigner, locks *EventLocks, sink EventSink, idGenerator func() string, now func() time.Time) *InteractionService {
	return NewInteractionServiceWithLogger(store, assigner, locks, sink, idGenerator, now, nil)
}

// NewInteractionServiceWithLogger wires dependencies and a base logger.
func NewInteractionServiceWithLogger(store persistence.Store, assigner Assigner, locks *EventLocks, sink EventSink, idGenerator func() string, now func() time.Time, logger *zap.Logger) *InteractionService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &InteractionService{
		store:       store,
		assigner:    assigner,
		locks:       defaultLocks(locks),
		sink:        defaultSink(sink),
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

// RecordInteraction stores the interaction and, when it completes a mutual
// like, creates the match and attempts to book its meeting. A failed booking
// never undoes the interaction or the match.
func (s *InteractionService) RecordInteraction(ctx context.Context, input RecordInteractionInput) (outcome InteractionOutcome, err error) {
	if s == nil {
		return InteractionOutcome{}, fmt.Errorf("InteractionService is nil")
	}
	if s.store == nil {
		return InteractionOutcome{}, fmt.Errorf("store not configured")
	}

	ctx, span := startSpan(ctx, "InteractionService.RecordInteraction",
		attribute.String("event_id", input.EventID),
		attribute.String("action", string(input.Action)))
	logger := serviceLogger(ctx, s.logger, "InteractionService", "RecordInteraction",
		zap.String("event_id", input.EventID),
		zap.String("seeker_id", input.SeekerID),
		zap.String("target_id", input.TargetID),
		zap.String("action", string(input.Action)))
	defer func() {
		endSpan(span, err)
		if err != nil {
			logger.Warn("record interaction failed", zap.String("error_kind", ErrorKind(err)), zap.Error(err))
			return
		}
		logger.Info("interaction recorded", zap.Bool("match_created", outcome.MatchCreated))
	}()

	if err := s.validate(ctx, input); err != nil {
		return InteractionOutcome{}, err
	}

	unlock := s.locks.Lock(input.EventID)
	txErr := s.store.WithinTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		if err := repos.LockEvent(ctx, input.EventID); err != nil {
			return err
		}
		var recErr error
		outcome, recErr = s.record(ctx, repos, input)
		return recErr
	})
	unlock()
	if txErr != nil {
		return InteractionOutcome{}, txErr
	}

	if !outcome.MatchCreated {
		return outcome, nil
	}

	match := *outcome.Match
	if err := s.sink.Publish(ctx, DomainEvent{
		Type:       EventMatchConfirmed,
		EventID:    match.EventID,
		MatchID:    match.ID,
		UserIDs:    []string{match.User1ID, match.User2ID},
		OccurredAt: s.now(),
	}); err != nil {
		logger.Warn("publishing domain event failed", zap.String("type", string(EventMatchConfirmed)), zap.Error(err))
	}

	if s.assigner != nil {
		result, err := s.assigner.AutoAssign(ctx, match.ID)
		if err != nil {
			logger.Warn("automatic assignment failed", zap.String("match_id", match.ID), zap.Error(err))
			return outcome, nil
		}
		outcome.Assignment = &result
	}

	return outcome, nil
}

func (s *InteractionService) validate(ctx context.Context, input RecordInteractionInput) error {
	if !input.Action.Valid() {
		return newValidationError(CodeInvalidAction, "action", fmt.Sprintf("unknown action %q", input.Action))
	}
	if input.SeekerID == input.TargetID {
		return newValidationError(CodeSelfInteraction, "target_id", "cannot interact with yourself")
	}

	if _, err := s.store.GetEvent(ctx, input.EventID); err != nil {
		return mapRepoError(err)
	}

	vErr := &ValidationError{Code: CodeNotMember}
	for field, userID := range map[string]string{"seeker_id": input.SeekerID, "target_id": input.TargetID} {
		_, err := s.store.GetMembership(ctx, input.EventID, userID)
		if err == nil {
			continue
		}
		if !errors.Is(err, persistence.ErrNotFound) {
			return err
		}
		vErr.add(field, fmt.Sprintf("%s is not a member of the event", userID))
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

func (s *InteractionService) record(ctx context.Context, repos persistence.Repositories, input RecordInteractionInput) (InteractionOutcome, error) {
	if _, err := repos.GetInteraction(ctx, input.EventID, input.SeekerID, input.TargetID); err == nil {
		return InteractionOutcome{}, duplicateInteraction(input)
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return InteractionOutcome{}, err
	}

	interaction := persistence.Interaction{
		ID:         s.idGenerator(),
		EventID:    input.EventID,
		FromUserID: input.SeekerID,
		ToUserID:   input.TargetID,
		Action:     input.Action,
		CreatedAt:  s.now(),
	}
	if err := repos.CreateInteraction(ctx, interaction); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			return InteractionOutcome{}, duplicateInteraction(input)
		}
		return InteractionOutcome{}, err
	}

	outcome := InteractionOutcome{Interaction: interaction}
	if input.Action != persistence.InteractionLike {
		return outcome, nil
	}

	reverse, err := repos.GetInteraction(ctx, input.EventID, input.TargetID, input.SeekerID)
	if errors.Is(err, persistence.ErrNotFound) {
		return outcome, nil
	}
	if err != nil {
		return InteractionOutcome{}, err
	}
	if reverse.Action != persistence.InteractionLike {
		return outcome, nil
	}

	user1, user2 := canonicalPair(input.SeekerID, input.TargetID)
	now := s.now()
	match := persistence.Match{
		ID:        s.idGenerator(),
		EventID:   input.EventID,
		User1ID:   user1,
		User2ID:   user2,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repos.CreateMatch(ctx, match); err != nil {
		if !errors.Is(err, persistence.ErrDuplicate) {
			return InteractionOutcome{}, err
		}
		existing, findErr := repos.FindMatch(ctx, input.EventID, user1, user2)
		if findErr != nil {
			return InteractionOutcome{}, findErr
		}
		outcome.Match = &existing
		return outcome, nil
	}

	outcome.Match = &match
	outcome.MatchCreated = true
	return outcome, nil
}

func duplicateInteraction(input RecordInteractionInput) *ValidationError {
	return newValidationError(CodeDuplicateInteraction, "target_id", fmt.Sprintf("already acted on %s", input.TargetID))
}

// canonicalPair orders two user IDs so the lesser comes first.
func canonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
