package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/event-matchmaker/internal/persistence"
)

// CreateInteraction appends a like or pass. A second interaction for the same pair returns ErrDuplicate.
func (q *queries) CreateInteraction(ctx context.Context, interaction persistence.Interaction) error {
	_, err := q.exec(ctx, `
		INSERT INTO interactions (id, event_id, from_user_id, to_user_id, action, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		interaction.ID,
		interaction.EventID,
		interaction.FromUserID,
		interaction.ToUserID,
		string(interaction.Action),
		formatTime(interaction.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: interaction %s->%s: %w", interaction.FromUserID, interaction.ToUserID, err)
	}
	return nil
}

const interactionColumns = `id, event_id, from_user_id, to_user_id, action, created_at`

func scanInteraction(row interface{ Scan(...any) error }) (persistence.Interaction, error) {
	var (
		interaction persistence.Interaction
		action      string
		createdAt   string
	)
	if err := row.Scan(&interaction.ID, &interaction.EventID, &interaction.FromUserID,
		&interaction.ToUserID, &action, &createdAt); err != nil {
		return persistence.Interaction{}, err
	}
	interaction.Action = persistence.InteractionAction(action)
	var err error
	if interaction.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Interaction{}, err
	}
	return interaction, nil
}

// GetInteraction retrieves the interaction from one attendee to another.
func (q *queries) GetInteraction(ctx context.Context, eventID, fromUserID, toUserID string) (persistence.Interaction, error) {
	interaction, err := scanInteraction(q.queryRow(ctx, `
		SELECT `+interactionColumns+` FROM interactions
		WHERE event_id = ? AND from_user_id = ? AND to_user_id = ?`, eventID, fromUserID, toUserID))
	if err != nil {
		return persistence.Interaction{}, q.mapper.MapError(err)
	}
	return interaction, nil
}

// ListInteractionsFrom returns everything an attendee acted on, oldest first.
func (q *queries) ListInteractionsFrom(ctx context.Context, eventID, fromUserID string) ([]persistence.Interaction, error) {
	rows, err := q.query(ctx, `
		SELECT `+interactionColumns+` FROM interactions
		WHERE event_id = ? AND from_user_id = ?
		ORDER BY created_at, id`, eventID, fromUserID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list interactions from %s: %w", fromUserID, err)
	}
	interactions := make([]persistence.Interaction, 0)
	for rows.Next() {
		interaction, err := scanInteraction(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlstore: scan interaction: %w", err)
		}
		interactions = append(interactions, interaction)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return interactions, nil
}

// CreateMatch inserts a match. User1ID must sort before User2ID.
func (q *queries) CreateMatch(ctx context.Context, match persistence.Match) error {
	if match.User1ID >= match.User2ID {
		return fmt.Errorf("sqlstore: match %s is not canonical: %w", match.ID, persistence.ErrConstraintViolation)
	}
	_, err := q.exec(ctx, `
		INSERT INTO matches (id, event_id, user1_id, user2_id, is_active, assignment_attempted,
			assignment_failed_reason, assigned_meeting_id, assigned_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		match.ID,
		match.EventID,
		match.User1ID,
		match.User2ID,
		match.IsActive,
		match.AssignmentAttempted,
		nullString(match.AssignmentFailedReason),
		nullString(match.AssignedMeetingID),
		formatOptionalTime(match.AssignedAt),
		formatTime(match.CreatedAt),
		formatTime(match.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: match %s/%s: %w", match.User1ID, match.User2ID, err)
	}
	return nil
}

const matchColumns = `id, event_id, user1_id, user2_id, is_active, assignment_attempted,
	assignment_failed_reason, assigned_meeting_id, assigned_at, created_at, updated_at`

func scanMatch(row interface{ Scan(...any) error }) (persistence.Match, error) {
	var (
		match                persistence.Match
		failedReason         sql.NullString
		meetingID            sql.NullString
		assignedAt           sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&match.ID, &match.EventID, &match.User1ID, &match.User2ID,
		&match.IsActive, &match.AssignmentAttempted, &failedReason, &meetingID,
		&assignedAt, &createdAt, &updatedAt); err != nil {
		return persistence.Match{}, err
	}
	match.AssignmentFailedReason = stringPtr(failedReason)
	match.AssignedMeetingID = stringPtr(meetingID)
	var err error
	if match.AssignedAt, err = parseOptionalTime(assignedAt); err != nil {
		return persistence.Match{}, err
	}
	if match.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Match{}, err
	}
	if match.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Match{}, err
	}
	return match, nil
}

// GetMatch retrieves a match by ID.
func (q *queries) GetMatch(ctx context.Context, id string) (persistence.Match, error) {
	match, err := scanMatch(q.queryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id))
	if err != nil {
		return persistence.Match{}, q.mapper.MapError(err)
	}
	return match, nil
}

// FindMatch retrieves the match for a canonical pair.
func (q *queries) FindMatch(ctx context.Context, eventID, user1ID, user2ID string) (persistence.Match, error) {
	match, err := scanMatch(q.queryRow(ctx, `
		SELECT `+matchColumns+` FROM matches
		WHERE event_id = ? AND user1_id = ? AND user2_id = ?`, eventID, user1ID, user2ID))
	if err != nil {
		return persistence.Match{}, q.mapper.MapError(err)
	}
	return match, nil
}

// UpdateMatch stores the mutable match fields. The pair and creation time never change.
func (q *queries) UpdateMatch(ctx context.Context, match persistence.Match) error {
	result, err := q.exec(ctx, `
		UPDATE matches
		SET is_active = ?, assignment_attempted = ?, assignment_failed_reason = ?,
			assigned_meeting_id = ?, assigned_at = ?, updated_at = ?
		WHERE id = ?`,
		match.IsActive,
		match.AssignmentAttempted,
		nullString(match.AssignmentFailedReason),
		nullString(match.AssignedMeetingID),
		formatOptionalTime(match.AssignedAt),
		formatTime(match.UpdatedAt),
		match.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: update match %s: %w", match.ID, err)
	}
	return requireAffected(result)
}

// ListMatches returns matches ordered by creation time then ID.
func (q *queries) ListMatches(ctx context.Context, filter persistence.MatchFilter) ([]persistence.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE 1 = 1`
	var args []any
	if filter.EventID != "" {
		query += ` AND event_id = ?`
		args = append(args, filter.EventID)
	}
	if filter.UserID != "" {
		query += ` AND (user1_id = ? OR user2_id = ?)`
		args = append(args, filter.UserID, filter.UserID)
	}
	if filter.ActiveOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list matches: %w", err)
	}
	matches := make([]persistence.Match, 0)
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlstore: scan match: %w", err)
		}
		matches = append(matches, match)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return matches, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
