package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/event-matchmaker/internal/application"
)

// LogSink writes each domain event as one structured log line.
type LogSink struct {
	logger *zap.Logger
}

var _ application.EventSink = LogSink{}

// NewLogSink returns a sink logging at info level.
func NewLogSink(logger *zap.Logger) LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return LogSink{logger: logger.Named("events")}
}

// Publish implements application.EventSink.
func (s LogSink) Publish(_ context.Context, event application.DomainEvent) error {
	fields := []zap.Field{
		zap.String("type", string(event.Type)),
		zap.String("event_id", event.EventID),
		zap.String("match_id", event.MatchID),
		zap.Strings("user_ids", event.UserIDs),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if event.Meeting != nil {
		fields = append(fields,
			zap.String("meeting_id", event.Meeting.ID),
			zap.String("location_id", event.Meeting.LocationID),
			zap.Time("start", event.Meeting.Start))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", string(event.Reason)))
	}
	s.logger.Info("domain event", fields...)
	return nil
}
