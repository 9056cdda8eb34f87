package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/event-matchmaker/internal/application"
	"github.com/example/event-matchmaker/internal/config"
	"github.com/example/event-matchmaker/internal/embedding"
	"github.com/example/event-matchmaker/internal/matching"
	"github.com/example/event-matchmaker/internal/metrics"
	"github.com/example/event-matchmaker/internal/notify"
	"github.com/example/event-matchmaker/internal/persistence"
	"github.com/example/event-matchmaker/internal/persistence/memory"
	"github.com/example/event-matchmaker/internal/persistence/sqlstore"
	"github.com/example/event-matchmaker/internal/tracing"
)

// app holds everything a command needs. closers run in reverse order on shutdown.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    persistence.Store
	sql      *sqlstore.Store
	recorder *metrics.Recorder
	now      func() time.Time

	allocation     *application.AllocationService
	interaction    *application.InteractionService
	reconciliation *application.ReconciliationService
	candidates     *application.CandidateService

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, now: time.Now, recorder: metrics.NewRecorder()}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Insecure:    true,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	vectorizer, err := a.vectorizer(ctx)
	if err != nil {
		return nil, err
	}

	sink, err := a.sink()
	if err != nil {
		return nil, err
	}

	weights := matching.Weights{
		BothKeyword:     cfg.Matching.Weights.BothKeyword,
		BothDocument:    cfg.Matching.Weights.BothDocument,
		BothCross:       cfg.Matching.Weights.BothCross,
		SingleKeyword:   cfg.Matching.Weights.SingleKeyword,
		SingleDocument:  cfg.Matching.Weights.SingleDocument,
		ExactMatchFloor: cfg.Matching.ExactMatchFloor,
	}
	ranker := matching.NewRanker(matching.NewScorer(vectorizer, weights), matching.Options{
		TopK:      cfg.Matching.TopK,
		Threshold: cfg.Matching.Threshold,
		MaxPool:   cfg.Matching.MaxPool,
	})

	locks := application.NewEventLocks()
	a.allocation = application.NewAllocationServiceWithLogger(a.store, locks, sink, uuid.NewString, a.now, logger)
	a.interaction = application.NewInteractionServiceWithLogger(a.store, a.allocation, locks, sink, uuid.NewString, a.now, logger)
	a.reconciliation = application.NewReconciliationServiceWithLogger(a.store, a.allocation, locks, sink, a.now, logger)
	a.candidates = application.NewCandidateServiceWithLogger(a.store, ranker, logger)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Database.Driver == "memory" {
		a.logger.Warn("using in-memory storage; data is discarded on exit")
		a.store = memory.Open()
		return nil
	}

	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:      a.cfg.Database.Driver,
		DSN:         a.cfg.Database.DSN,
		BusyTimeout: a.cfg.Database.BusyTimeout,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	a.store = store
	a.sql = store
	return nil
}

func (a *app) vectorizer(ctx context.Context) (embedding.Vectorizer, error) {
	cfg := a.cfg.Embedding
	var (
		vectorizer embedding.Vectorizer
		err        error
	)
	switch cfg.Provider {
	case "openai":
		vectorizer, err = embedding.NewOpenAIVectorizer(cfg.APIKey, cfg.Model, "")
	case "gemini":
		vectorizer, err = embedding.NewGeminiVectorizer(ctx, cfg.APIKey, cfg.Model)
	default:
		vectorizer, err = embedding.NewHashingVectorizer(cfg.Dimensions)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s vectorizer: %w", cfg.Provider, err)
	}
	vectorizer = embedding.WithTimeout(vectorizer, cfg.Timeout)

	if a.cfg.Cache.RedisAddr == "" {
		return vectorizer, nil
	}
	client := goredis.NewClient(&goredis.Options{Addr: a.cfg.Cache.RedisAddr})
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	return embedding.NewCachedVectorizer(vectorizer, client, a.cfg.Cache.TTL, a.logger), nil
}

func (a *app) sink() (application.EventSink, error) {
	sinks := application.MultiSink{notify.NewLogSink(a.logger), a.recorder}
	if a.cfg.NATS.URL == "" {
		return sinks, nil
	}
	conn, err := notify.Connect(notify.Config{URL: a.cfg.NATS.URL, SubjectPrefix: a.cfg.NATS.SubjectPrefix}, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return conn.Drain() })
	return append(sinks, notify.NewPublisher(conn, a.cfg.NATS.SubjectPrefix, a.logger)), nil
}

// observe records the duration of one command against the operation histogram.
func (a *app) observe(operation string, started time.Time, err error) {
	a.recorder.ObserveOperation(operation, started, err)
}

func (a *app) close(ctx context.Context) {
	if err := a.recorder.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); err != nil {
		a.logger.Warn("failed to push metrics", zap.Error(err))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("failed to release resource", zap.Error(err))
		}
	}
	a.closers = nil
}
