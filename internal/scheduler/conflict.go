package scheduler

import "time"

// Booking is an occupied interval for a set of participants at an optional location.
type Booking struct {
	ID           string
	Participants []string
	LocationID   string
	Start        time.Time
	End          time.Time
}

// ConflictType describes the type of conflict detected between bookings.
type ConflictType string

const (
	// ConflictTypeParticipant indicates a participant is double-booked.
	ConflictTypeParticipant ConflictType = "participant"
	// ConflictTypeLocation indicates the candidate shares a location with an overlapping booking.
	ConflictTypeLocation ConflictType = "location"
)

// Conflict details an overlapping booking relation.
type Conflict struct {
	WithBookingID string
	Type          ConflictType
	Participant   string
	LocationID    string
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// DetectConflicts identifies conflicts for the candidate booking against existing ones.
// A booking never conflicts with itself.
func DetectConflicts(existing []Booking, candidate Booking) []Conflict {
	var conflicts []Conflict
	for _, other := range existing {
		if other.ID != "" && other.ID == candidate.ID {
			continue
		}
		if !Overlaps(candidate.Start, candidate.End, other.Start, other.End) {
			continue
		}
		for _, participant := range candidate.Participants {
			if contains(other.Participants, participant) {
				conflicts = append(conflicts, Conflict{
					WithBookingID: other.ID,
					Type:          ConflictTypeParticipant,
					Participant:   participant,
				})
			}
		}
		if candidate.LocationID != "" && candidate.LocationID == other.LocationID {
			conflicts = append(conflicts, Conflict{
				WithBookingID: other.ID,
				Type:          ConflictTypeLocation,
				LocationID:    other.LocationID,
			})
		}
	}
	return conflicts
}

// HasParticipantConflict reports whether any candidate participant is busy during the candidate interval.
func HasParticipantConflict(existing []Booking, candidate Booking) bool {
	for _, conflict := range DetectConflicts(existing, Booking{
		ID:           candidate.ID,
		Participants: candidate.Participants,
		Start:        candidate.Start,
		End:          candidate.End,
	}) {
		if conflict.Type == ConflictTypeParticipant {
			return true
		}
	}
	return false
}

// LocationLoad counts the bookings at locationID that overlap [start, end).
func LocationLoad(existing []Booking, locationID string, start, end time.Time) int {
	count := 0
	for _, other := range existing {
		if other.LocationID == locationID && Overlaps(start, end, other.Start, other.End) {
			count++
		}
	}
	return count
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
