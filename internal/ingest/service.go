package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/road-telemetry/roadwatch/internal/audit"
	"github.com/road-telemetry/roadwatch/internal/config"
	"github.com/road-telemetry/roadwatch/internal/metrics"
	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/store"
)

const tracerName = "github.com/road-telemetry/roadwatch/internal/ingest"

// Compile-time assertion that Service implements Port.
var _ Port = (*Service)(nil)

// Service routes validated records to the store and then to subscribers.
type Service struct {
	store      store.Store
	dispatcher Dispatcher
	cfg        config.IngestConfig

	audit    AuditLogger
	observer Observer
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time

	locks agentLocks
}

// Option configures a Service.
type Option func(*Service)

// WithAudit sets the audit logger.
func WithAudit(a AuditLogger) Option { return func(s *Service) { s.audit = a } }

// WithObserver sets the sink notified of committed records.
func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(s *Service) { s.tracer = t } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock overrides the ingest time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates an ingest service.
func NewService(st store.Store, d Dispatcher, cfg config.IngestConfig, opts ...Option) *Service {
	s := &Service{
		store:      st,
		dispatcher: d,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.cfg.StoreTimeout <= 0 {
		s.cfg.StoreTimeout = 5 * time.Second
	}
	return s
}

// Ingest validates in, commits it and dispatches the committed record
// exactly once. Nothing is dispatched when validation or the store fails.
func (s *Service) Ingest(ctx context.Context, in record.Input) (rec record.Record, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ingest.Ingest")
	defer span.End()

	defer func() {
		latency := time.Since(start)
		s.metrics.ObserveIngest(ingestOutcome(err), latency)
		s.logAudit(ctx, audit.ActionCreate, auditSubject(rec, in), err, latency)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, record.Code(err))
		}
	}()

	rec, err = in.ToRecord(s.now(), s.cfg.PreserveClientTimestamp)
	if err != nil {
		return record.Record{}, err
	}
	span.SetAttributes(
		attribute.Int64("agent.id", rec.AgentID),
		attribute.String("record.road_state", rec.RoadState),
	)

	unlock := s.locks.lock(rec.AgentID)
	defer unlock()

	rec, err = s.create(ctx, rec)
	if err != nil {
		s.logger.ErrorContext(ctx, "store write failed", "agent_id", rec.AgentID, "error", err)
		return record.Record{}, err
	}

	seq := s.dispatcher.Dispatch(ctx, rec)
	span.SetAttributes(
		attribute.Int64("record.id", rec.ID),
		attribute.Int64("stream.seq", seq),
	)

	if s.observer != nil {
		s.observer.Observe(rec)
	}

	s.logger.DebugContext(ctx, "record ingested",
		"record_id", rec.ID,
		"agent_id", rec.AgentID,
		"road_state", rec.RoadState,
		"seq", seq)
	return rec, nil
}

func (s *Service) create(ctx context.Context, rec record.Record) (record.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "store.Create")
	defer span.End()

	created, err := s.store.Create(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return rec, normalize("create", err)
	}
	return created, nil
}

// Get returns the record with id.
func (s *Service) Get(ctx context.Context, id int64) (record.Record, error) {
	rec, err := s.store.Get(ctx, id)
	return rec, normalize("get", err)
}

// List returns records matching f.
func (s *Service) List(ctx context.Context, f store.Filter) ([]record.Record, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return nil, &record.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	recs, err := s.store.List(ctx, f)
	return recs, normalize("list", err)
}

// Update replaces the stored record id with in. Subscribers are not told.
func (s *Service) Update(ctx context.Context, id int64, in record.Input) (rec record.Record, err error) {
	start := time.Now()
	defer func() {
		s.logAudit(ctx, audit.ActionUpdate, auditSubject(record.Record{ID: id, AgentID: rec.AgentID}, in), err, time.Since(start))
	}()

	if err := record.Validate(in); err != nil {
		return record.Record{}, err
	}

	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return record.Record{}, normalize("update", err)
	}
	updated, err := in.Apply(existing)
	if err != nil {
		return record.Record{}, err
	}
	rec, err = s.store.Update(ctx, updated)
	if err != nil {
		return record.Record{}, normalize("update", err)
	}
	s.refresh(ctx, existing.AgentID, rec.AgentID)
	return rec, nil
}

// Delete removes id and returns what was removed. Subscribers are not told.
func (s *Service) Delete(ctx context.Context, id int64) (rec record.Record, err error) {
	start := time.Now()
	defer func() {
		s.logAudit(ctx, audit.ActionDelete, record.Record{ID: id, AgentID: rec.AgentID}, err, time.Since(start))
	}()

	rec, err = s.store.Delete(ctx, id)
	if err != nil {
		return record.Record{}, normalize("delete", err)
	}
	s.refresh(ctx, rec.AgentID)
	return rec, nil
}

// refresh brings the observer up to date for each agent, holding that
// agent's ingest lock so no concurrent Observe is counted twice.
func (s *Service) refresh(ctx context.Context, agentIDs ...int64) {
	if s.observer == nil {
		return
	}
	for i, id := range agentIDs {
		if slices.Contains(agentIDs[:i], id) {
			continue
		}
		unlock := s.locks.lock(id)
		err := s.observer.Refresh(ctx, s.store, id)
		unlock()
		if err != nil {
			s.logger.WarnContext(ctx, "agent refresh failed", "agent_id", id, "error", err)
		}
	}
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return normalize("ping", s.store.Ping(ctx))
}

func (s *Service) logAudit(ctx context.Context, action string, rec record.Record, err error, latency time.Duration) {
	if s.audit != nil {
		s.audit.Record(ctx, action, rec, err, latency)
	}
}

// normalize keeps the error taxonomy closed: anything a store returns that
// is not already classified is a storage failure.
func normalize(op string, err error) error {
	if err == nil || errors.Is(err, record.ErrInvalidInput) {
		return err
	}
	return record.NewStorageError(op, err)
}

func ingestOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, record.ErrInvalidInput):
		return metrics.OutcomeInvalidInput
	default:
		return metrics.OutcomeStorageError
	}
}

func auditSubject(rec record.Record, in record.Input) record.Record {
	if rec.AgentID == 0 && in.AgentID != nil {
		rec.AgentID = *in.AgentID
	}
	return rec
}
