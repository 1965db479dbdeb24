package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/event"
	"github.com/evercore/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Service is the application-facing event store: typed payloads in,
// decoded records out. It validates and serializes payloads through
// the codec before they reach the append path, so the stored log only
// ever contains registered, schema-valid events.
type Service struct {
	store   shared.EventStore
	codec   *event.PayloadCodec
	logger  *zap.Logger
	metrics *telemetry.ProcessingMetrics
}

// ServiceOption configures optional service collaborators
type ServiceOption func(*Service)

// WithMetrics exports append throughput and conflict counts
func WithMetrics(m *telemetry.ProcessingMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates an event store service
func NewService(store shared.EventStore, codec *event.PayloadCodec, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		codec:  codec,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProposedPayload is one typed event handed in for appending
type ProposedPayload struct {
	Payload        shared.EventPayload
	Category       shared.EventCategory
	CorrelationID  string
	CausationID    string
	IdempotencyKey string
	Metadata       map[string]any
}

// AppendRequest is one atomic batch append against a single stream
type AppendRequest struct {
	StreamType      string
	StreamID        string
	ExpectedVersion int64
	BoundedContext  string
	Events          []ProposedPayload
}

// DecodedEvent pairs a stored record with its decoded, current-version payload
type DecodedEvent struct {
	Record  *shared.EventRecord
	Payload shared.EventPayload
}

// Append encodes, validates and appends a batch of typed events.
// Conflicts and idempotent replays come back in the result, not as errors.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*shared.AppendResult, error) {
	if req.StreamType == "" || req.StreamID == "" {
		return nil, fmt.Errorf("%w: stream type and id are required", shared.ErrInvalidInput)
	}
	if len(req.Events) == 0 {
		return nil, fmt.Errorf("%w: empty event batch", shared.ErrInvalidInput)
	}

	proposed, err := EncodeBatch(s.codec, req.Events)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.store.AppendToStream(ctx, req.StreamType, req.StreamID, req.ExpectedVersion, req.BoundedContext, proposed)
	if err != nil {
		return nil, err
	}

	switch {
	case result.Status == shared.AppendStatusConflict:
		if s.metrics != nil {
			s.metrics.AppendConflicts.Inc(ctx)
		}
		s.logger.Debug("append conflict",
			zap.String("stream", shared.StreamKey{StreamType: req.StreamType, StreamID: req.StreamID}.String()),
			zap.Int64("expected_version", req.ExpectedVersion),
			zap.Int64("current_version", result.CurrentVersion),
		)
	case result.Deduplicated:
		s.logger.Debug("append deduplicated",
			zap.String("stream", shared.StreamKey{StreamType: req.StreamType, StreamID: req.StreamID}.String()),
		)
	default:
		if s.metrics != nil {
			s.metrics.EventsAppended.Add(ctx, int64(len(proposed)))
		}
		s.logger.Debug("events appended",
			zap.String("stream", shared.StreamKey{StreamType: req.StreamType, StreamID: req.StreamID}.String()),
			zap.Int("count", len(proposed)),
			zap.Int64("new_version", result.NewVersion),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	return result, nil
}

// ReadStream returns a stream's events with decoded payloads,
// ascending by version. fromVersion is exclusive when > 0.
func (s *Service) ReadStream(ctx context.Context, streamType, streamID string, fromVersion int64, limit int) ([]*DecodedEvent, error) {
	records, err := s.store.ReadStream(ctx, streamType, streamID, fromVersion, limit)
	if err != nil {
		return nil, err
	}
	return s.decodeAll(records)
}

// ReadFromPosition returns globally ordered decoded events after fromPosition
func (s *Service) ReadFromPosition(ctx context.Context, fromPosition int64, limit int, filter *shared.ReadFilter) ([]*DecodedEvent, error) {
	records, err := s.store.ReadFromPosition(ctx, fromPosition, limit, filter)
	if err != nil {
		return nil, err
	}
	return s.decodeAll(records)
}

// StreamVersion returns the stream's current version, 0 if absent
func (s *Service) StreamVersion(ctx context.Context, streamType, streamID string) (int64, error) {
	return s.store.GetStreamVersion(ctx, streamType, streamID)
}

// GlobalPosition returns the highest assigned global position
func (s *Service) GlobalPosition(ctx context.Context) (int64, error) {
	return s.store.GetGlobalPosition(ctx)
}

func (s *Service) decodeAll(records []*shared.EventRecord) ([]*DecodedEvent, error) {
	return DecodeAll(s.codec, records)
}
