package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/event-matchmaker/internal/application"
	"github.com/example/event-matchmaker/internal/persistence"
	"github.com/example/event-matchmaker/internal/persistence/memory"
	"github.com/example/event-matchmaker/internal/testfixtures"
)

type recordingSink struct {
	mu     sync.Mutex
	events []application.DomainEvent
}

func (r *recordingSink) Publish(_ context.Context, event application.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Types() []application.DomainEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]application.DomainEventType, len(r.events))
	for i, event := range r.events {
		types[i] = event.Type
	}
	return types
}

type harness struct {
	store    persistence.Store
	sink     *recordingSink
	services testfixtures.Services
	factory  *testfixtures.ServiceFactory
}

func newHarness(t *testing.T, layout testfixtures.Layout) *harness {
	t.Helper()
	return newHarnessWithStore(t, memory.Open(), layout)
}

func newHarnessWithStore(t *testing.T, store persistence.Store, layout testfixtures.Layout) *harness {
	t.Helper()
	layout.MustApply(t, store)
	sink := &recordingSink{}
	factory := testfixtures.NewServiceFactory()
	return &harness{
		store:    store,
		sink:     sink,
		factory:  factory,
		services: factory.NewServices(testfixtures.ServiceDeps{Store: store, Sink: sink}),
	}
}

func (h *harness) match(t *testing.T, id string) persistence.Match {
	t.Helper()
	match, err := h.store.GetMatch(context.Background(), id)
	require.NoError(t, err)
	return match
}

func (h *harness) meetings(t *testing.T, filter persistence.MeetingFilter) []persistence.Meeting {
	t.Helper()
	meetings, err := h.store.ListMeetings(context.Background(), filter)
	require.NoError(t, err)
	return meetings
}

var errDiskFull = errors.New("disk full")

// failingStore breaks CreateMeeting inside transactions.
type failingStore struct {
	persistence.Store
}

func (f failingStore) WithinTx(ctx context.Context, fn persistence.TxFunc) error {
	return f.Store.WithinTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		return fn(ctx, failingRepos{Repositories: repos})
	})
}

type failingRepos struct {
	persistence.Repositories
}

func (failingRepos) CreateMeeting(context.Context, persistence.Meeting) error {
	return errDiskFull
}

// twoAttendeeLayout returns an event with one 09:00-10:00 session, one
// single-capacity location, and members alice and bob both available.
func twoAttendeeLayout(opts ...testfixtures.EventOption) (testfixtures.Layout, testfixtures.SessionFixture, testfixtures.LocationFixture) {
	layout := testfixtures.NewLayout(opts...)
	session := layout.AddSession()
	location := layout.AddLocation()
	layout.AddMember("alice", testfixtures.WithAvailability(session.ID))
	layout.AddMember("bob", testfixtures.WithAvailability(session.ID))
	return layout, session, location
}

// flakyReadStore fails top-level reads for one user's availability and one
// meeting. Reads made through a transaction's repositories are unaffected.
type flakyReadStore struct {
	persistence.Store
	availabilityOf string
	meetingID      string
}

func (f flakyReadStore) ListAvailability(ctx context.Context, eventID, userID string) ([]string, error) {
	if userID == f.availabilityOf {
		return nil, errDiskFull
	}
	return f.Store.ListAvailability(ctx, eventID, userID)
}

func (f flakyReadStore) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	if id == f.meetingID {
		return persistence.Meeting{}, errDiskFull
	}
	return f.Store.GetMeeting(ctx, id)
}
