package application

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/example/event-matchmaker/internal/matching"
	"github.com/example/event-matchmaker/internal/persistence"
)

// CandidateService suggests attendees a seeker has not yet acted on.
type CandidateService struct {
	store  persistence.Store
	ranker *matching.Ranker
	logger *zap.Logger
}

// NewCandidateService wires dependencies for candidate suggestions.
func NewCandidateService(store persistence.Store, ranker *matching.Ranker) *CandidateService {
	return NewCandidateServiceWithLogger(store, ranker, nil)
}

// NewCandidateServiceWithLogger wires dependencies and a base logger.
func NewCandidateServiceWithLogger(store persistence.Store, ranker *matching.Ranker, logger *zap.Logger) *CandidateService {
	return &CandidateService{store: store, ranker: ranker, logger: defaultLogger(logger)}
}

// Suggest ranks the event's members for seekerID. Members are considered in join order.
func (s *CandidateService) Suggest(ctx context.Context, eventID, seekerID string) (candidates []matching.Candidate, err error) {
	if s == nil {
		return nil, fmt.Errorf("CandidateService is nil")
	}
	if s.store == nil || s.ranker == nil {
		return nil, fmt.Errorf("candidate service not configured")
	}

	ctx, span := startSpan(ctx, "CandidateService.Suggest", attribute.String("event_id", eventID))
	logger := serviceLogger(ctx, s.logger, "CandidateService", "Suggest",
		zap.String("event_id", eventID),
		zap.String("seeker_id", seekerID))
	defer func() {
		endSpan(span, err)
		if err != nil {
			logger.Warn("suggest failed", zap.String("error_kind", ErrorKind(err)), zap.Error(err))
			return
		}
		logger.Debug("suggestions ranked", zap.Int("count", len(candidates)))
	}()

	seeker, err := s.store.GetMembership(ctx, eventID, seekerID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, newValidationError(CodeNotMember, "seeker_id", fmt.Sprintf("%s is not a member of the event", seekerID))
		}
		return nil, err
	}

	members, err := s.store.ListMemberships(ctx, eventID)
	if err != nil {
		return nil, err
	}
	interactions, err := s.store.ListInteractionsFrom(ctx, eventID, seekerID)
	if err != nil {
		return nil, err
	}

	interacted := make(map[string]struct{}, len(interactions))
	for _, interaction := range interactions {
		interacted[interaction.ToUserID] = struct{}{}
	}
	pool := make([]matching.Attendee, 0, len(members))
	for _, member := range members {
		pool = append(pool, attendeeOf(member))
	}

	candidates, err = s.ranker.Rank(ctx, attendeeOf(seeker), pool, interacted)
	if err != nil {
		return nil, err
	}
	if candidates == nil {
		candidates = []matching.Candidate{}
	}
	return candidates, nil
}

func attendeeOf(membership persistence.Membership) matching.Attendee {
	attendee := matching.Attendee{ID: membership.UserID, Keywords: membership.Keywords}
	if membership.Document != nil {
		attendee.Document = *membership.Document
	}
	return attendee
}
