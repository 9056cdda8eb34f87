package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/example/event-matchmaker/internal/persistence"
)

// UpsertMembership inserts or updates a profile. JoinedAt is kept from the first insert.
func (q *queries) UpsertMembership(ctx context.Context, membership persistence.Membership) error {
	keywords := membership.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	encoded, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("sqlstore: encode keywords: %w", err)
	}
	_, err = q.exec(ctx, `
		INSERT INTO memberships (event_id, user_id, keywords, document, joined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (event_id, user_id) DO UPDATE
		SET keywords = excluded.keywords, document = excluded.document`,
		membership.EventID,
		membership.UserID,
		string(encoded),
		nullString(membership.Document),
		formatTime(membership.JoinedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert membership %s/%s: %w", membership.EventID, membership.UserID, err)
	}
	return nil
}

const membershipColumns = `event_id, user_id, keywords, document, joined_at`

func scanMembership(row interface{ Scan(...any) error }) (persistence.Membership, error) {
	var (
		membership persistence.Membership
		keywords   string
		document   sql.NullString
		joinedAt   string
	)
	if err := row.Scan(&membership.EventID, &membership.UserID, &keywords, &document, &joinedAt); err != nil {
		return persistence.Membership{}, err
	}
	if err := json.Unmarshal([]byte(keywords), &membership.Keywords); err != nil {
		return persistence.Membership{}, fmt.Errorf("sqlstore: decode keywords for %s: %w", membership.UserID, err)
	}
	membership.Document = stringPtr(document)
	var err error
	if membership.JoinedAt, err = parseTime(joinedAt); err != nil {
		return persistence.Membership{}, err
	}
	return membership, nil
}

// GetMembership retrieves one attendee profile.
func (q *queries) GetMembership(ctx context.Context, eventID, userID string) (persistence.Membership, error) {
	membership, err := scanMembership(q.queryRow(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE event_id = ? AND user_id = ?`, eventID, userID))
	if err != nil {
		return persistence.Membership{}, q.mapper.MapError(err)
	}
	return membership, nil
}

// ListMemberships returns memberships ordered by join time then user ID.
func (q *queries) ListMemberships(ctx context.Context, eventID string) ([]persistence.Membership, error) {
	rows, err := q.query(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships WHERE event_id = ?
		ORDER BY joined_at, user_id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list memberships for event %s: %w", eventID, err)
	}
	memberships := make([]persistence.Membership, 0)
	for rows.Next() {
		membership, err := scanMembership(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlstore: scan membership: %w", err)
		}
		memberships = append(memberships, membership)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return memberships, nil
}

// ReplaceAvailability overwrites the member's session set. Call it inside a transaction.
func (q *queries) ReplaceAvailability(ctx context.Context, eventID, userID string, sessionIDs []string) error {
	if _, err := q.GetMembership(ctx, eventID, userID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return fmt.Errorf("sqlstore: availability for non-member %s: %w", userID, persistence.ErrConstraintViolation)
		}
		return err
	}

	ids := slices.Clone(sessionIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	for _, id := range ids {
		var sessionEvent string
		err := q.queryRow(ctx, `SELECT event_id FROM sessions WHERE id = ?`, id).Scan(&sessionEvent)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && sessionEvent != eventID) {
			return fmt.Errorf("sqlstore: availability references unknown session %s: %w", id, persistence.ErrConstraintViolation)
		}
		if err != nil {
			return fmt.Errorf("sqlstore: check session %s: %w", id, q.mapper.MapError(err))
		}
	}

	if _, err := q.exec(ctx, `DELETE FROM availability WHERE event_id = ? AND user_id = ?`, eventID, userID); err != nil {
		return fmt.Errorf("sqlstore: clear availability for %s: %w", userID, err)
	}
	for _, id := range ids {
		if _, err := q.exec(ctx, `INSERT INTO availability (event_id, user_id, session_id) VALUES (?, ?, ?)`, eventID, userID, id); err != nil {
			return fmt.Errorf("sqlstore: insert availability %s for %s: %w", id, userID, err)
		}
	}
	return nil
}

// ListAvailability returns the member's session IDs in ascending order.
func (q *queries) ListAvailability(ctx context.Context, eventID, userID string) ([]string, error) {
	rows, err := q.query(ctx, `
		SELECT session_id FROM availability
		WHERE event_id = ? AND user_id = ?
		ORDER BY session_id`, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list availability for %s: %w", userID, err)
	}
	return scanStrings(rows)
}
