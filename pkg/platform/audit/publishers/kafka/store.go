// Package kafka forwards audit events to a Kafka topic while keeping a local
// store for reads. A circuit breaker stops producing during broker outages.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	id "studentcheck/pkg/domain"
	audit "studentcheck/pkg/platform/audit"
)

// Producer is the subset of the platform Kafka producer the sink needs.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// Store implements audit.Store. Append always writes locally first; the
// Kafka write is best effort.
type Store struct {
	local    audit.Store
	producer Producer
	topic    string
	breaker  *CircuitBreaker
	metrics  *Metrics
	logger   *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(s *Store) {
		s.breaker = cb
	}
}

func New(local audit.Store, producer Producer, topic string, opts ...Option) *Store {
	s := &Store{
		local:    local,
		producer: producer,
		topic:    topic,
		breaker:  NewCircuitBreaker(5, 30*time.Second),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// payload is the JSON record value.
type payload struct {
	Category    string `json:"category"`
	Timestamp   string `json:"timestamp"`
	ApplicantID string `json:"applicantId,omitempty"`
	CaseID      string `json:"caseId,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	Action      string `json:"action"`
	Channel     string `json:"channel,omitempty"`
	Status      string `json:"status,omitempty"`
	Reason      string `json:"reason,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if err := s.local.Append(ctx, event); err != nil {
		return err
	}

	if !s.breaker.Allow() {
		if s.metrics != nil {
			s.metrics.IncCircuitBreakerDropped()
		}
		return nil
	}

	value, err := json.Marshal(toPayload(event))
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	var key []byte
	if !event.ApplicantID.IsNil() {
		key = []byte(event.ApplicantID.String())
	}

	if err := s.producer.Produce(ctx, s.topic, key, value); err != nil {
		s.breaker.RecordFailure()
		if s.metrics != nil {
			s.metrics.IncProduceFailures()
			s.metrics.SetCircuitBreakerState(s.breaker.IsOpen())
		}
		s.logger.WarnContext(ctx, "failed to produce audit event",
			"action", event.Action,
			"topic", s.topic,
			"error", err,
		)
		return nil
	}

	s.breaker.RecordSuccess()
	if s.metrics != nil {
		s.metrics.IncProduced()
		s.metrics.SetCircuitBreakerState(false)
	}
	return nil
}

func (s *Store) ListByApplicant(ctx context.Context, applicantID id.ApplicantID) ([]audit.Event, error) {
	return s.local.ListByApplicant(ctx, applicantID)
}

func toPayload(e audit.Event) payload {
	p := payload{
		Category:  string(e.Category),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		CaseID:    e.CaseID,
		SessionID: e.SessionID,
		Action:    e.Action,
		Channel:   e.Channel,
		Status:    e.Status,
		Reason:    e.Reason,
		RequestID: e.RequestID,
	}
	if !e.ApplicantID.IsNil() {
		p.ApplicantID = e.ApplicantID.String()
	}
	return p
}
