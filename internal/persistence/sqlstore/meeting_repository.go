package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/event-matchmaker/internal/persistence"
)

// CreateMeeting inserts a meeting.
func (q *queries) CreateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	if !meeting.Start.Before(meeting.End) {
		return fmt.Errorf("sqlstore: meeting %s ends before it starts: %w", meeting.ID, persistence.ErrConstraintViolation)
	}
	_, err := q.exec(ctx, `
		INSERT INTO meetings (id, match_id, event_id, user1_id, user2_id, session_id, location_id,
			start_at, end_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meeting.ID,
		meeting.MatchID,
		meeting.EventID,
		meeting.User1ID,
		meeting.User2ID,
		meeting.SessionID,
		meeting.LocationID,
		formatTime(meeting.Start),
		formatTime(meeting.End),
		string(meeting.Status),
		formatTime(meeting.CreatedAt),
		formatTime(meeting.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: create meeting %s: %w", meeting.ID, err)
	}
	return nil
}

const meetingColumns = `id, match_id, event_id, user1_id, user2_id, session_id, location_id,
	start_at, end_at, status, created_at, updated_at`

func scanMeeting(row interface{ Scan(...any) error }) (persistence.Meeting, error) {
	var (
		meeting   persistence.Meeting
		status    string
		timestamp [4]string
	)
	if err := row.Scan(&meeting.ID, &meeting.MatchID, &meeting.EventID, &meeting.User1ID,
		&meeting.User2ID, &meeting.SessionID, &meeting.LocationID, &timestamp[0], &timestamp[1],
		&status, &timestamp[2], &timestamp[3]); err != nil {
		return persistence.Meeting{}, err
	}
	meeting.Status = persistence.MeetingStatus(status)
	targets := [4]*time.Time{&meeting.Start, &meeting.End, &meeting.CreatedAt, &meeting.UpdatedAt}
	for i, value := range timestamp {
		parsed, err := parseTime(value)
		if err != nil {
			return persistence.Meeting{}, err
		}
		*targets[i] = parsed
	}
	return meeting, nil
}

// GetMeeting retrieves a meeting by ID.
func (q *queries) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	meeting, err := scanMeeting(q.queryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id))
	if err != nil {
		return persistence.Meeting{}, q.mapper.MapError(err)
	}
	return meeting, nil
}

// UpdateMeeting stores the slot and status. The match link never changes.
func (q *queries) UpdateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	result, err := q.exec(ctx, `
		UPDATE meetings
		SET session_id = ?, location_id = ?, start_at = ?, end_at = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		meeting.SessionID,
		meeting.LocationID,
		formatTime(meeting.Start),
		formatTime(meeting.End),
		string(meeting.Status),
		formatTime(meeting.UpdatedAt),
		meeting.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: update meeting %s: %w", meeting.ID, err)
	}
	return requireAffected(result)
}

// ListMeetings returns meetings ordered by start then ID.
func (q *queries) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	var (
		where []string
		args  []any
	)
	if filter.EventID != "" {
		where = append(where, `event_id = ?`)
		args = append(args, filter.EventID)
	}
	if filter.MatchID != "" {
		where = append(where, `match_id = ?`)
		args = append(args, filter.MatchID)
	}
	if n := len(filter.UserIDs); n > 0 {
		where = append(where, fmt.Sprintf(`(user1_id IN (%s) OR user2_id IN (%s))`, placeholders(n), placeholders(n)))
		for range 2 {
			for _, id := range filter.UserIDs {
				args = append(args, id)
			}
		}
	}
	if n := len(filter.LocationIDs); n > 0 {
		where = append(where, fmt.Sprintf(`location_id IN (%s)`, placeholders(n)))
		for _, id := range filter.LocationIDs {
			args = append(args, id)
		}
	}
	if n := len(filter.Statuses); n > 0 {
		where = append(where, fmt.Sprintf(`status IN (%s)`, placeholders(n)))
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if filter.OverlapEnd != nil {
		where = append(where, `start_at < ?`)
		args = append(args, formatTime(*filter.OverlapEnd))
	}
	if filter.OverlapStart != nil {
		where = append(where, `end_at > ?`)
		args = append(args, formatTime(*filter.OverlapStart))
	}

	query := `SELECT ` + meetingColumns + ` FROM meetings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY start_at, id`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list meetings: %w", err)
	}
	meetings := make([]persistence.Meeting, 0)
	for rows.Next() {
		meeting, err := scanMeeting(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlstore: scan meeting: %w", err)
		}
		meetings = append(meetings, meeting)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return meetings, nil
}
