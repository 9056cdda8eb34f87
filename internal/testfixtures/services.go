package testfixtures

import (
	"time"

	"go.uber.org/zap"

	"github.com/example/event-matchmaker/internal/application"
	"github.com/example/event-matchmaker/internal/embedding"
	"github.com/example/event-matchmaker/internal/matching"
	"github.com/example/event-matchmaker/internal/persistence"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// ServiceDeps captures the collaborators shared by every service.
type ServiceDeps struct {
	Store      persistence.Store
	Sink       application.EventSink
	Locks      *application.EventLocks
	Vectorizer embedding.Vectorizer
	Ranking    matching.Options
	Logger     *zap.Logger
}

// Services bundles the application services wired against one store.
type Services struct {
	Allocation     *application.AllocationService
	Interaction    *application.InteractionService
	Reconciliation *application.ReconciliationService
	Candidates     *application.CandidateService
}

// NewServices builds every application service using the supplied
// dependencies combined with the factory defaults. All services share one
// lock table so they serialise against each other like in production.
func (f *ServiceFactory) NewServices(deps ServiceDeps) Services {
	idGen := f.IDGenerator.NextFunc()
	now := f.Clock.NowFunc()
	locks := deps.Locks
	if locks == nil {
		locks = application.NewEventLocks()
	}
	vectorizer := deps.Vectorizer
	if vectorizer == nil {
		hashing, err := embedding.NewHashingVectorizer(256)
		if err != nil {
			panic(err)
		}
		vectorizer = hashing
	}
	ranking := deps.Ranking
	if ranking == (matching.Options{}) {
		ranking = matching.DefaultOptions()
	}

	allocation := application.NewAllocationServiceWithLogger(deps.Store, locks, deps.Sink, idGen, now, deps.Logger)
	ranker := matching.NewRanker(matching.NewScorer(vectorizer, matching.DefaultWeights()), ranking)

	return Services{
		Allocation:     allocation,
		Interaction:    application.NewInteractionServiceWithLogger(deps.Store, allocation, locks, deps.Sink, idGen, now, deps.Logger),
		Reconciliation: application.NewReconciliationServiceWithLogger(deps.Store, allocation, locks, deps.Sink, now, deps.Logger),
		Candidates:     application.NewCandidateServiceWithLogger(deps.Store, ranker, deps.Logger),
	}
}
