// Package ingest orchestrates one telemetry record from raw input to a committed graph write.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/shaayud/shaayud/internal/domain"
	"github.com/shaayud/shaayud/internal/extract"
	"github.com/shaayud/shaayud/internal/metrics"
	"github.com/shaayud/shaayud/internal/rules"
	"github.com/shaayud/shaayud/internal/verdict"
	"github.com/shaayud/shaayud/internal/velocity"
)

var tracer = otel.Tracer("shaayud-ingest")

// sideEffectTimeout bounds the post-commit journal write and publish.
const sideEffectTimeout = 5 * time.Second

// GraphWriter persists the facts and score of one ingest atomically.
type GraphWriter interface {
	Upsert(ctx context.Context, facts *domain.Facts, score *domain.ScoreBreakdown) error
}

// Config bounds graph transactions.
type Config struct {
	// MaxInFlightTx caps concurrently admitted transactions.
	MaxInFlightTx int64

	// TxTimeout bounds one admitted transaction.
	TxTimeout time.Duration
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithVelocity enriches the fact bag with activity counts.
func WithVelocity(v *velocity.Service) Option {
	return func(s *Service) { s.velocity = v }
}

// WithJournal records every committed ingest.
func WithJournal(j domain.Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithEventBus publishes a ScoredEvent after every commit.
func WithEventBus(b domain.EventBus) Option {
	return func(s *Service) { s.bus = b }
}

// Service runs the ingest pipeline. Safe for concurrent use.
type Service struct {
	rules      *rules.RuleSet
	graph      GraphWriter
	classifier *verdict.Classifier
	velocity   *velocity.Service
	journal    domain.Journal
	bus        domain.EventBus

	sem       *semaphore.Weighted
	txTimeout time.Duration
}

// NewService creates an ingest service. The rule set is read-only for the service's lifetime.
func NewService(rs *rules.RuleSet, graph GraphWriter, classifier *verdict.Classifier, cfg Config, opts ...Option) *Service {
	if cfg.MaxInFlightTx <= 0 {
		cfg.MaxInFlightTx = 32
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 15 * time.Second
	}

	s := &Service{
		rules:      rs,
		graph:      graph,
		classifier: classifier,
		sem:        semaphore.NewWeighted(cfg.MaxInFlightTx),
		txTimeout:  cfg.TxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RuleSet returns the rule set the service scores with.
func (s *Service) RuleSet() *rules.RuleSet {
	return s.rules
}

// Result is what one successful ingest produced.
type Result struct {
	Facts domain.Facts
	Score domain.ScoreBreakdown
}

// Ingest runs the pipeline for in and reports only success or failure.
func (s *Service) Ingest(ctx context.Context, in *domain.IngestInput) error {
	_, err := s.Process(ctx, in)
	return err
}

// Process validates, scores and persists in. Errors are ErrMalformedInput,
// ErrAdmissionCanceled or ErrIngestFailed.
func (s *Service) Process(ctx context.Context, in *domain.IngestInput) (*Result, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "ingest.process")
	defer span.End()

	res, err := s.process(ctx, in)

	metrics.IngestsTotal.WithLabelValues(outcome(err)).Inc()
	metrics.IngestDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("event.id", res.Facts.Event.ID),
		attribute.Int64("score.total", res.Score.Total),
		attribute.String("score.verdict", string(res.Score.Verdict)),
	)

	slog.Info("event ingested",
		"event_id", res.Facts.Event.ID,
		"session_id", res.Facts.Session.ID,
		"identity_id", res.Facts.Identity.ID,
		"total", res.Score.Total,
		"verdict", res.Score.Verdict,
		"matched", res.Score.MatchedIDs(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Service) process(ctx context.Context, in *domain.IngestInput) (*Result, error) {
	if in == nil {
		return nil, domain.Malformed("empty record")
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	facts := s.extract(ctx, in)
	score := s.score(ctx, &facts, in)

	if err := s.upsert(ctx, &facts, &score); err != nil {
		return nil, err
	}

	// Post-commit work must not be cut short by a caller that has already gone.
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	s.record(sideCtx, &facts, &score, in)
	s.publish(sideCtx, &facts, &score)

	return &Result{Facts: facts, Score: score}, nil
}

func (s *Service) extract(ctx context.Context, in *domain.IngestInput) domain.Facts {
	_, span := tracer.Start(ctx, "ingest.extract")
	defer span.End()
	return extract.Extract(in)
}

func (s *Service) score(ctx context.Context, facts *domain.Facts, in *domain.IngestInput) domain.ScoreBreakdown {
	ctx, span := tracer.Start(ctx, "ingest.score")
	defer span.End()

	var extra map[string]any
	if s.velocity != nil {
		extra = map[string]any{velocity.BagKey: s.velocity.Observe(ctx, facts)}
	}

	bag := extract.Bag(facts, in, extra)
	score := s.rules.Evaluate(bag)
	s.classifier.Apply(&score)

	for _, m := range score.Matched {
		metrics.RulesMatched.WithLabelValues(m.RuleID).Inc()
	}
	metrics.Verdicts.WithLabelValues(string(score.Verdict)).Inc()

	span.SetAttributes(attribute.Int("rules.matched", len(score.Matched)))
	return score
}

// upsert waits for a transaction slot, then runs the graph write detached from
// the caller's cancellation so an admitted transaction always finishes.
func (s *Service) upsert(ctx context.Context, facts *domain.Facts, score *domain.ScoreBreakdown) error {
	waitStart := time.Now()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		slog.Warn("admission canceled",
			"event_id", facts.Event.ID,
			"waited_ms", time.Since(waitStart).Milliseconds(),
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrAdmissionCanceled, err)
	}
	metrics.AdmissionWait.Observe(float64(time.Since(waitStart).Microseconds()) / 1000)

	metrics.InFlightTx.Inc()
	defer func() {
		metrics.InFlightTx.Dec()
		s.sem.Release(1)
	}()

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.txTimeout)
	defer cancel()

	txCtx, span := tracer.Start(txCtx, "ingest.upsert")
	defer span.End()

	if err := s.graph.Upsert(txCtx, facts, score); err != nil {
		phase, statement := failurePhase(err)
		metrics.GraphFailures.WithLabelValues(phase).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, phase)
		slog.Error("graph upsert failed",
			"event_id", facts.Event.ID,
			"session_id", facts.Session.ID,
			"phase", phase,
			"statement", statement,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrIngestFailed, err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, facts *domain.Facts, score *domain.ScoreBreakdown, in *domain.IngestInput) {
	if s.journal == nil {
		return
	}

	payload, err := json.Marshal(in)
	if err != nil {
		payload = nil
	}

	entry := &domain.JournalEntry{
		EventID:        facts.Event.ID,
		IdentityID:     facts.Identity.ID,
		DeviceID:       facts.Device.ID,
		SessionID:      facts.Session.ID,
		EventType:      facts.Event.Type,
		IP:             domain.StringValue(facts.Network.IP),
		GeoKey:         facts.Geo.Key,
		Total:          score.Total,
		Verdict:        score.Verdict,
		Matched:        score.Matched,
		RuleSetVersion: score.RuleSetVersion,
		ReceivedAt:     time.Now().UTC(),
		Payload:        payload,
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		metrics.SideEffectFailures.WithLabelValues("journal").Inc()
		slog.Warn("journal append failed",
			"event_id", facts.Event.ID,
			"error", err,
		)
	}
}

func (s *Service) publish(ctx context.Context, facts *domain.Facts, score *domain.ScoreBreakdown) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.ScoredEvent{
		EventID:        facts.Event.ID,
		IdentityID:     facts.Identity.ID,
		DeviceID:       facts.Device.ID,
		SessionID:      facts.Session.ID,
		Total:          score.Total,
		Verdict:        score.Verdict,
		MatchedRules:   score.MatchedIDs(),
		RuleSetVersion: score.RuleSetVersion,
		Timestamp:      facts.Event.TimestampMs,
	})
	if err == nil {
		err = s.bus.Publish(ctx, domain.TopicEventScored, payload)
	}
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("bus").Inc()
		slog.Warn("scored event publish failed",
			"event_id", facts.Event.ID,
			"error", err,
		)
	}
}

func failurePhase(err error) (phase, statement string) {
	var txErr *domain.GraphTxError
	if errors.As(err, &txErr) {
		return string(txErr.Phase), txErr.Statement
	}
	if errors.Is(err, domain.ErrMissingIdentityKey) {
		return "bind", ""
	}
	return "unknown", ""
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrMalformedInput):
		return "malformed"
	case errors.Is(err, domain.ErrAdmissionCanceled):
		return "admission_canceled"
	default:
		return "failed"
	}
}
