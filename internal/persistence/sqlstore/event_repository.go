package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/event-matchmaker/internal/persistence"
)

// CreateEvent inserts a new event.
func (q *queries) CreateEvent(ctx context.Context, event persistence.Event) error {
	if event.ID == "" {
		return persistence.ErrConstraintViolation
	}
	timeZone := event.TimeZone
	if timeZone == "" {
		timeZone = "UTC"
	}
	_, err := q.exec(ctx, `
		INSERT INTO events (id, name, start_date, end_date, time_zone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Name,
		formatOptionalDate(event.StartDate),
		formatOptionalDate(event.EndDate),
		timeZone,
		formatTime(event.CreatedAt),
		formatTime(event.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: create event %s: %w", event.ID, err)
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (q *queries) GetEvent(ctx context.Context, id string) (persistence.Event, error) {
	var (
		event                persistence.Event
		startDate, endDate   sql.NullString
		createdAt, updatedAt string
	)
	err := q.queryRow(ctx, `
		SELECT id, name, start_date, end_date, time_zone, created_at, updated_at
		FROM events WHERE id = ?`, id,
	).Scan(&event.ID, &event.Name, &startDate, &endDate, &event.TimeZone, &createdAt, &updatedAt)
	if err != nil {
		return persistence.Event{}, q.mapper.MapError(err)
	}
	if event.StartDate, err = parseOptionalDate(startDate); err != nil {
		return persistence.Event{}, err
	}
	if event.EndDate, err = parseOptionalDate(endDate); err != nil {
		return persistence.Event{}, err
	}
	if event.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Event{}, err
	}
	if event.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Event{}, err
	}
	return event, nil
}

// CreateVenue inserts a venue.
func (q *queries) CreateVenue(ctx context.Context, venue persistence.Venue) error {
	_, err := q.exec(ctx, `INSERT INTO venues (id, event_id, name) VALUES (?, ?, ?)`,
		venue.ID, venue.EventID, venue.Name)
	if err != nil {
		return fmt.Errorf("sqlstore: create venue %s: %w", venue.ID, err)
	}
	return nil
}

// CreateLocation inserts a location and links it to its venues.
func (q *queries) CreateLocation(ctx context.Context, location persistence.Location) error {
	if location.Capacity <= 0 {
		return fmt.Errorf("sqlstore: location %s capacity must be positive: %w", location.ID, persistence.ErrConstraintViolation)
	}
	_, err := q.exec(ctx, `INSERT INTO locations (id, event_id, name, capacity) VALUES (?, ?, ?, ?)`,
		location.ID, location.EventID, location.Name, location.Capacity)
	if err != nil {
		return fmt.Errorf("sqlstore: create location %s: %w", location.ID, err)
	}
	seen := make(map[string]bool, len(location.VenueIDs))
	for _, venueID := range location.VenueIDs {
		if seen[venueID] {
			continue
		}
		seen[venueID] = true
		if _, err := q.exec(ctx, `INSERT INTO location_venues (location_id, venue_id) VALUES (?, ?)`, location.ID, venueID); err != nil {
			return fmt.Errorf("sqlstore: link location %s to venue %s: %w", location.ID, venueID, err)
		}
	}
	return nil
}

// ListVenueLocations returns the locations attached to a venue ordered by name then ID.
func (q *queries) ListVenueLocations(ctx context.Context, venueID string) ([]persistence.Location, error) {
	rows, err := q.query(ctx, `
		SELECT l.id, l.event_id, l.name, l.capacity
		FROM locations l
		JOIN location_venues lv ON lv.location_id = l.id
		WHERE lv.venue_id = ?
		ORDER BY l.name, l.id`, venueID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list locations for venue %s: %w", venueID, err)
	}
	locations := make([]persistence.Location, 0)
	for rows.Next() {
		var location persistence.Location
		if err := rows.Scan(&location.ID, &location.EventID, &location.Name, &location.Capacity); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlstore: scan location: %w", err)
		}
		locations = append(locations, location)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	// Rows must be drained before the next query: SQLite runs on one connection.
	for i := range locations {
		venueIDs, err := q.locationVenues(ctx, locations[i].ID)
		if err != nil {
			return nil, err
		}
		locations[i].VenueIDs = venueIDs
	}
	return locations, nil
}

func (q *queries) locationVenues(ctx context.Context, locationID string) ([]string, error) {
	rows, err := q.query(ctx, `SELECT venue_id FROM location_venues WHERE location_id = ? ORDER BY venue_id`, locationID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list venues for location %s: %w", locationID, err)
	}
	return scanStrings(rows)
}

// CreateSession inserts a session.
func (q *queries) CreateSession(ctx context.Context, session persistence.Session) error {
	_, err := q.exec(ctx, `
		INSERT INTO sessions (id, event_id, name, day_number, start_time, end_time, venue_id, matching_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.EventID,
		session.Name,
		session.DayNumber,
		session.StartTime,
		session.EndTime,
		nullString(session.VenueID),
		session.MatchingEnabled,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: create session %s: %w", session.ID, err)
	}
	return nil
}

const sessionColumns = `id, event_id, name, day_number, start_time, end_time, venue_id, matching_enabled`

func scanSession(row interface{ Scan(...any) error }) (persistence.Session, error) {
	var (
		session persistence.Session
		venueID sql.NullString
	)
	if err := row.Scan(&session.ID, &session.EventID, &session.Name, &session.DayNumber,
		&session.StartTime, &session.EndTime, &venueID, &session.MatchingEnabled); err != nil {
		return persistence.Session{}, err
	}
	session.VenueID = stringPtr(venueID)
	return session, nil
}

// GetSession retrieves a session by ID.
func (q *queries) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	session, err := scanSession(q.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		return persistence.Session{}, q.mapper.MapError(err)
	}
	return session, nil
}

// ListSessions returns sessions ordered by day, start time, then ID.
func (q *queries) ListSessions(ctx context.Context, eventID string) ([]persistence.Session, error) {
	rows, err := q.query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE event_id = ?
		ORDER BY day_number, start_time, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list sessions for event %s: %w", eventID, err)
	}
	sessions := make([]persistence.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlstore: scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return sessions, nil
}

func closeRows(rows *sql.Rows) error {
	iterErr := rows.Err()
	closeErr := rows.Close()
	if err := errors.Join(iterErr, closeErr); err != nil {
		return fmt.Errorf("sqlstore: read rows: %w", err)
	}
	return nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	values := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlstore: scan value: %w", err)
		}
		values = append(values, value)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return values, nil
}
