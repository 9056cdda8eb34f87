package persistence_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/example/event-matchmaker/internal/persistence"
	"github.com/example/event-matchmaker/internal/persistence/memory"
	"github.com/example/event-matchmaker/internal/testfixtures"
)

type storeFactory struct {
	name string
	open func(t *testing.T) persistence.Store
}

// stores lists every backend that must honour the repository contract.
func stores() []storeFactory {
	return []storeFactory{
		{name: "memory", open: func(t *testing.T) persistence.Store {
			store := memory.Open()
			t.Cleanup(func() { _ = store.Close() })
			return store
		}},
		{name: "sqlite", open: func(t *testing.T) persistence.Store {
			return testfixtures.NewSQLiteHarness(t).Store
		}},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store persistence.Store)) {
	t.Helper()
	for _, factory := range stores() {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			t.Parallel()
			fn(t, factory.open(t))
		})
	}
}

func applyLayout(t *testing.T, store persistence.Store, layout testfixtures.Layout) {
	t.Helper()
	layout.MustApply(t, store)
}

func TestEventRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		layout := testfixtures.NewLayout(testfixtures.WithEventTimeZone("Asia/Tokyo"))
		dayTwo := layout.AddSession(testfixtures.WithSessionDay(2), testfixtures.WithSessionTimes("09:00", "10:00"))
		afternoon := layout.AddSession(testfixtures.WithSessionTimes("13:00", "14:00"), testfixtures.WithMatchingDisabled())
		first := layout.AddSession(testfixtures.WithSessionTimes("09:00", "09:30"))
		zebra := layout.AddLocation(testfixtures.WithLocationName("Zebra Corner"), testfixtures.WithLocationCapacity(3))
		alpha := layout.AddLocation(testfixtures.WithLocationName("Alpha Booth"))
		applyLayout(t, store, layout)

		event, err := store.GetEvent(ctx, layout.Event.ID)
		if err != nil {
			t.Fatalf("GetEvent failed: %v", err)
		}
		if event.TimeZone != "Asia/Tokyo" || event.StartDate == nil || !event.StartDate.Equal(testfixtures.EventDate()) {
			t.Fatalf("unexpected event: %#v", event)
		}
		if event.EndDate == nil || !event.EndDate.Equal(testfixtures.EventDate().AddDate(0, 0, 2)) {
			t.Fatalf("unexpected end date: %v", event.EndDate)
		}

		if err := store.CreateEvent(ctx, layout.Event.Persistence()); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate for repeated event, got %v", err)
		}
		if _, err := store.GetEvent(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		locations, err := store.ListVenueLocations(ctx, layout.VenueID())
		if err != nil {
			t.Fatalf("ListVenueLocations failed: %v", err)
		}
		if len(locations) != 2 || locations[0].ID != alpha.ID || locations[1].ID != zebra.ID {
			t.Fatalf("expected locations ordered by name, got %#v", locations)
		}
		if locations[1].Capacity != 3 || !slices.Equal(locations[1].VenueIDs, []string{layout.VenueID()}) {
			t.Fatalf("unexpected location data: %#v", locations[1])
		}

		sessions, err := store.ListSessions(ctx, layout.Event.ID)
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		var ids []string
		for _, session := range sessions {
			ids = append(ids, session.ID)
		}
		if !slices.Equal(ids, []string{first.ID, afternoon.ID, dayTwo.ID}) {
			t.Fatalf("expected sessions ordered by day then start, got %v", ids)
		}

		fetched, err := store.GetSession(ctx, afternoon.ID)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if fetched.MatchingEnabled || fetched.VenueID == nil || *fetched.VenueID != layout.VenueID() {
			t.Fatalf("unexpected session: %#v", fetched)
		}
	})
}

func TestEventRepositoryConstraints(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		layout := testfixtures.NewLayout()
		applyLayout(t, store, layout)

		zero := testfixtures.NewLocationFixture(layout.Event.ID, []string{layout.VenueID()}, testfixtures.WithLocationCapacity(0))
		if err := store.CreateLocation(ctx, zero.Persistence()); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation for zero capacity, got %v", err)
		}

		orphan := testfixtures.NewSessionFixture("missing-event")
		if err := store.CreateSession(ctx, orphan.Persistence()); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation for unknown event, got %v", err)
		}
	})
}

func TestAttendeeRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		layout := testfixtures.NewLayout()
		s1 := layout.AddSession()
		s2 := layout.AddSession(testfixtures.WithSessionTimes("11:00", "12:00"))
		layout.AddMember("bob", testfixtures.WithJoinedAt(testfixtures.ReferenceTime().Add(time.Minute)))
		layout.AddMember("alice", testfixtures.WithKeywords("go", "rust"), testfixtures.WithDocument("Distributed systems"))
		applyLayout(t, store, layout)

		memberships, err := store.ListMemberships(ctx, layout.Event.ID)
		if err != nil {
			t.Fatalf("ListMemberships failed: %v", err)
		}
		if len(memberships) != 2 || memberships[0].UserID != "alice" || memberships[1].UserID != "bob" {
			t.Fatalf("expected memberships ordered by join time, got %#v", memberships)
		}
		if !slices.Equal(memberships[0].Keywords, []string{"go", "rust"}) || memberships[0].Document == nil {
			t.Fatalf("unexpected profile: %#v", memberships[0])
		}

		updated := testfixtures.NewMemberFixture("alice",
			testfixtures.WithKeywords("ml"),
			testfixtures.WithJoinedAt(testfixtures.ReferenceTime().Add(time.Hour)),
		).Persistence(layout.Event.ID)
		if err := store.UpsertMembership(ctx, updated); err != nil {
			t.Fatalf("UpsertMembership failed: %v", err)
		}
		alice, err := store.GetMembership(ctx, layout.Event.ID, "alice")
		if err != nil {
			t.Fatalf("GetMembership failed: %v", err)
		}
		if !slices.Equal(alice.Keywords, []string{"ml"}) || alice.Document != nil {
			t.Fatalf("expected profile replaced, got %#v", alice)
		}
		if !alice.JoinedAt.Equal(testfixtures.ReferenceTime()) {
			t.Fatalf("expected join time preserved, got %v", alice.JoinedAt)
		}

		if err := store.ReplaceAvailability(ctx, layout.Event.ID, "alice", []string{s2.ID, s1.ID, s2.ID}); err != nil {
			t.Fatalf("ReplaceAvailability failed: %v", err)
		}
		sessions, err := store.ListAvailability(ctx, layout.Event.ID, "alice")
		if err != nil {
			t.Fatalf("ListAvailability failed: %v", err)
		}
		want := []string{s1.ID, s2.ID}
		slices.Sort(want)
		if !slices.Equal(sessions, want) {
			t.Fatalf("expected deduplicated sorted availability %v, got %v", want, sessions)
		}

		if err := store.ReplaceAvailability(ctx, layout.Event.ID, "alice", []string{s1.ID, "missing"}); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation for unknown session, got %v", err)
		}
		sessions, err = store.ListAvailability(ctx, layout.Event.ID, "alice")
		if err != nil {
			t.Fatalf("ListAvailability failed: %v", err)
		}
		if !slices.Equal(sessions, want) {
			t.Fatalf("expected failed replace to leave availability intact, got %v", sessions)
		}

		if err := store.ReplaceAvailability(ctx, layout.Event.ID, "mallory", []string{s1.ID}); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation for non-member, got %v", err)
		}
		if _, err := store.GetMembership(ctx, layout.Event.ID, "mallory"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestInteractionRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		layout := testfixtures.NewLayout()
		applyLayout(t, store, layout)
		base := testfixtures.ReferenceTime()

		records := []persistence.Interaction{
			{ID: "i-2", EventID: layout.Event.ID, FromUserID: "alice", ToUserID: "carol", Action: persistence.InteractionPass, CreatedAt: base.Add(time.Minute)},
			{ID: "i-1", EventID: layout.Event.ID, FromUserID: "alice", ToUserID: "bob", Action: persistence.InteractionLike, CreatedAt: base},
			{ID: "i-3", EventID: layout.Event.ID, FromUserID: "bob", ToUserID: "alice", Action: persistence.InteractionLike, CreatedAt: base},
		}
		for _, record := range records {
			if err := store.CreateInteraction(ctx, record); err != nil {
				t.Fatalf("CreateInteraction %s failed: %v", record.ID, err)
			}
		}

		again := records[1]
		again.ID = "i-4"
		if err := store.CreateInteraction(ctx, again); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}

		got, err := store.GetInteraction(ctx, layout.Event.ID, "bob", "alice")
		if err != nil {
			t.Fatalf("GetInteraction failed: %v", err)
		}
		if got.ID != "i-3" || got.Action != persistence.InteractionLike {
			t.Fatalf("unexpected interaction: %#v", got)
		}
		if _, err := store.GetInteraction(ctx, layout.Event.ID, "carol", "alice"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		from, err := store.ListInteractionsFrom(ctx, layout.Event.ID, "alice")
		if err != nil {
			t.Fatalf("ListInteractionsFrom failed: %v", err)
		}
		if len(from) != 2 || from[0].ID != "i-1" || from[1].ID != "i-2" {
			t.Fatalf("expected interactions oldest first, got %#v", from)
		}
	})
}

func TestMatchRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		layout := testfixtures.NewLayout()
		applyLayout(t, store, layout)
		base := testfixtures.ReferenceTime()

		reversed := persistence.Match{ID: "m-x", EventID: layout.Event.ID, User1ID: "bob", User2ID: "alice", IsActive: true, CreatedAt: base, UpdatedAt: base}
		if err := store.CreateMatch(ctx, reversed); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation for non-canonical pair, got %v", err)
		}

		testfixtures.MustCreateMatch(t, store, "m-2", layout.Event.ID, "carol", "alice")
		testfixtures.MustCreateMatch(t, store, "m-1", layout.Event.ID, "alice", "bob")
		testfixtures.MustCreateMatch(t, store, "m-3", layout.Event.ID, "bob", "dave")

		duplicate := persistence.Match{ID: "m-9", EventID: layout.Event.ID, User1ID: "alice", User2ID: "bob", IsActive: true, CreatedAt: base, UpdatedAt: base}
		if err := store.CreateMatch(ctx, duplicate); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate for repeated pair, got %v", err)
		}

		found, err := store.FindMatch(ctx, layout.Event.ID, "alice", "carol")
		if err != nil {
			t.Fatalf("FindMatch failed: %v", err)
		}
		if found.ID != "m-2" || !found.IsActive || found.AssignmentAttempted {
			t.Fatalf("unexpected match: %#v", found)
		}

		reason := "capacity_exhausted"
		assignedAt := base.Add(time.Hour)
		meetingID := "meeting-1"
		found.AssignmentAttempted = true
		found.AssignmentFailedReason = &reason
		found.AssignedMeetingID = &meetingID
		found.AssignedAt = &assignedAt
		found.IsActive = false
		found.UpdatedAt = assignedAt
		if err := store.UpdateMatch(ctx, found); err != nil {
			t.Fatalf("UpdateMatch failed: %v", err)
		}
		updated, err := store.GetMatch(ctx, "m-2")
		if err != nil {
			t.Fatalf("GetMatch failed: %v", err)
		}
		if updated.IsActive || !updated.AssignmentAttempted || updated.AssignmentFailedReason == nil || *updated.AssignmentFailedReason != reason {
			t.Fatalf("unexpected updated match: %#v", updated)
		}
		if updated.AssignedAt == nil || !updated.AssignedAt.Equal(assignedAt) || !updated.CreatedAt.Equal(base) {
			t.Fatalf("unexpected match timestamps: %#v", updated)
		}

		if err := store.UpdateMatch(ctx, persistence.Match{ID: "missing", UpdatedAt: base}); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		byUser, err := store.ListMatches(ctx, persistence.MatchFilter{EventID: layout.Event.ID, UserID: "alice"})
		if err != nil {
			t.Fatalf("ListMatches failed: %v", err)
		}
		if len(byUser) != 2 || byUser[0].ID != "m-1" || byUser[1].ID != "m-2" {
			t.Fatalf("expected alice's matches ordered by creation then ID, got %#v", byUser)
		}

		active, err := store.ListMatches(ctx, persistence.MatchFilter{EventID: layout.Event.ID, ActiveOnly: true})
		if err != nil {
			t.Fatalf("ListMatches failed: %v", err)
		}
		if len(active) != 2 || active[0].ID != "m-1" || active[1].ID != "m-3" {
			t.Fatalf("expected only active matches, got %#v", active)
		}
	})
}

func TestMeetingRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		layout := testfixtures.NewLayout()
		session := layout.AddSession()
		room := layout.AddLocation()
		booth := layout.AddLocation()
		applyLayout(t, store, layout)
		testfixtures.MustCreateMatch(t, store, "m-1", layout.Event.ID, "alice", "bob")
		testfixtures.MustCreateMatch(t, store, "m-2", layout.Event.ID, "carol", "dave")

		base := testfixtures.ReferenceTime()
		meetings := []persistence.Meeting{
			{ID: "mt-2", MatchID: "m-2", EventID: layout.Event.ID, User1ID: "carol", User2ID: "dave", SessionID: session.ID, LocationID: booth.ID,
				Start: testfixtures.At(1, 9, 15), End: testfixtures.At(1, 9, 30), Status: persistence.MeetingScheduled, CreatedAt: base, UpdatedAt: base},
			{ID: "mt-1", MatchID: "m-1", EventID: layout.Event.ID, User1ID: "alice", User2ID: "bob", SessionID: session.ID, LocationID: room.ID,
				Start: testfixtures.At(1, 9, 0), End: testfixtures.At(1, 9, 15), Status: persistence.MeetingScheduled, CreatedAt: base, UpdatedAt: base},
			{ID: "mt-0", MatchID: "m-1", EventID: layout.Event.ID, User1ID: "alice", User2ID: "bob", SessionID: session.ID, LocationID: room.ID,
				Start: testfixtures.At(1, 9, 0), End: testfixtures.At(1, 9, 15), Status: persistence.MeetingCancelled, CreatedAt: base, UpdatedAt: base},
		}
		for _, meeting := range meetings {
			if err := store.CreateMeeting(ctx, meeting); err != nil {
				t.Fatalf("CreateMeeting %s failed: %v", meeting.ID, err)
			}
		}

		inverted := meetings[1]
		inverted.ID = "mt-bad"
		inverted.Start, inverted.End = inverted.End, inverted.Start
		if err := store.CreateMeeting(ctx, inverted); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation for inverted interval, got %v", err)
		}

		all, err := store.ListMeetings(ctx, persistence.MeetingFilter{EventID: layout.Event.ID})
		if err != nil {
			t.Fatalf("ListMeetings failed: %v", err)
		}
		if ids := meetingIDs(all); !slices.Equal(ids, []string{"mt-0", "mt-1", "mt-2"}) {
			t.Fatalf("expected meetings ordered by start then ID, got %v", ids)
		}

		start, end := testfixtures.At(1, 9, 15), testfixtures.At(1, 9, 30)
		overlapping, err := store.ListMeetings(ctx, persistence.MeetingFilter{
			EventID:      layout.Event.ID,
			Statuses:     persistence.ActiveMeetingStatuses(),
			OverlapStart: &start,
			OverlapEnd:   &end,
		})
		if err != nil {
			t.Fatalf("ListMeetings failed: %v", err)
		}
		if ids := meetingIDs(overlapping); !slices.Equal(ids, []string{"mt-2"}) {
			t.Fatalf("expected half-open overlap to exclude the adjacent meeting, got %v", ids)
		}

		byUser, err := store.ListMeetings(ctx, persistence.MeetingFilter{UserIDs: []string{"bob", "zed"}, Statuses: []persistence.MeetingStatus{persistence.MeetingScheduled}})
		if err != nil {
			t.Fatalf("ListMeetings failed: %v", err)
		}
		if ids := meetingIDs(byUser); !slices.Equal(ids, []string{"mt-1"}) {
			t.Fatalf("expected bob's scheduled meeting, got %v", ids)
		}

		byLocation, err := store.ListMeetings(ctx, persistence.MeetingFilter{LocationIDs: []string{booth.ID}, MatchID: "m-2"})
		if err != nil {
			t.Fatalf("ListMeetings failed: %v", err)
		}
		if ids := meetingIDs(byLocation); !slices.Equal(ids, []string{"mt-2"}) {
			t.Fatalf("expected booth meeting, got %v", ids)
		}

		moved := meetings[0]
		moved.LocationID = room.ID
		moved.Start = testfixtures.At(1, 9, 45)
		moved.End = testfixtures.At(1, 10, 0)
		moved.Status = persistence.MeetingCompleted
		moved.UpdatedAt = base.Add(time.Hour)
		if err := store.UpdateMeeting(ctx, moved); err != nil {
			t.Fatalf("UpdateMeeting failed: %v", err)
		}
		got, err := store.GetMeeting(ctx, "mt-2")
		if err != nil {
			t.Fatalf("GetMeeting failed: %v", err)
		}
		if got.LocationID != room.ID || got.Status != persistence.MeetingCompleted || !got.Start.Equal(moved.Start) || got.MatchID != "m-2" {
			t.Fatalf("unexpected updated meeting: %#v", got)
		}
		if got.Start.Location() != time.UTC {
			t.Fatalf("expected UTC start, got %v", got.Start.Location())
		}

		if err := store.UpdateMeeting(ctx, persistence.Meeting{ID: "missing", Start: start, End: end}); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestWithinTxRollsBack(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		layout := testfixtures.NewLayout()
		applyLayout(t, store, layout)
		base := testfixtures.ReferenceTime()
		boom := errors.New("boom")

		err := store.WithinTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
			if err := repos.LockEvent(ctx, layout.Event.ID); err != nil {
				return err
			}
			if err := repos.CreateMatch(ctx, persistence.Match{ID: "m-1", EventID: layout.Event.ID, User1ID: "a", User2ID: "b", IsActive: true, CreatedAt: base, UpdatedAt: base}); err != nil {
				return err
			}
			if _, err := repos.GetMatch(ctx, "m-1"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if _, err := store.GetMatch(ctx, "m-1"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected rolled back match to be absent, got %v", err)
		}

		err = store.WithinTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
			return repos.CreateMatch(ctx, persistence.Match{ID: "m-2", EventID: layout.Event.ID, User1ID: "a", User2ID: "b", IsActive: true, CreatedAt: base, UpdatedAt: base})
		})
		if err != nil {
			t.Fatalf("WithinTx failed: %v", err)
		}
		if _, err := store.GetMatch(ctx, "m-2"); err != nil {
			t.Fatalf("expected committed match, got %v", err)
		}
	})
}

func meetingIDs(meetings []persistence.Meeting) []string {
	ids := make([]string, 0, len(meetings))
	for _, meeting := range meetings {
		ids = append(ids, meeting.ID)
	}
	return ids
}
