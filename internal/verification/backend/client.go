// Package backend talks to the verification backend: manual submissions and
// the applicant's current status. The backend is the system of record.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"studentcheck/internal/verification/metrics"
	"studentcheck/internal/verification/models"
	id "studentcheck/pkg/domain"
	dErrors "studentcheck/pkg/domain-errors"
)

const (
	defaultTimeout = 15 * time.Second
	// maxErrorBody bounds how much of a failed response is read for its message.
	maxErrorBody = 64 << 10
)

// Config locates the backend.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements ports.Submitter and ports.StatusSource over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	tracer  trace.Tracer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tracer: otel.Tracer("studentcheck/backend"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit posts the submission. A 4xx response becomes a network_error
// carrying the backend's message; 5xx and transport failures become a
// network_error wrapping the cause.
func (c *Client) Submit(ctx context.Context, applicantID id.ApplicantID, req models.SubmissionRequest) (*models.Acknowledgment, error) {
	ctx, span := c.tracer.Start(ctx, "backend.submit",
		trace.WithAttributes(attribute.String("applicant_id", applicantID.String()),
			attribute.Int("documents", len(req.Documents))))
	defer span.End()
	start := time.Now()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode submission")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verification/submit", bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create submission request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Applicant-ID", applicantID.String())

	var ack models.Acknowledgment
	status, err := c.do(httpReq, &ack)
	c.observe(span, "submit", status, err, start)
	if err != nil {
		return nil, err
	}
	return &ack, nil
}

// CurrentStatus reads the applicant's status. A 404 means nothing is on
// record and returns nil, nil.
func (c *Client) CurrentStatus(ctx context.Context, applicantID id.ApplicantID) (*models.CurrentStatus, error) {
	ctx, span := c.tracer.Start(ctx, "backend.current_status",
		trace.WithAttributes(attribute.String("applicant_id", applicantID.String())))
	defer span.End()
	start := time.Now()

	endpoint := fmt.Sprintf("%s/verification/applicants/%s/status", c.baseURL, url.PathEscape(applicantID.String()))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create status request")
	}
	httpReq.Header.Set("Accept", "application/json")

	var current models.CurrentStatus
	status, err := c.do(httpReq, &current)
	if status == http.StatusNotFound {
		c.observe(span, "status", status, nil, start)
		return nil, nil
	}
	c.observe(span, "status", status, err, start)
	if err != nil {
		return nil, err
	}
	return &current, nil
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeNetwork, "verification backend unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return resp.StatusCode, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, dErrors.Wrap(err, dErrors.CodeNetwork, "verification backend returned an unreadable response")
		}
		return resp.StatusCode, nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		msg := errorMessage(raw)
		if msg == "" {
			msg = rejectedText(resp.StatusCode)
		}
		return resp.StatusCode, dErrors.New(dErrors.CodeNetwork, msg)
	}
	return resp.StatusCode, dErrors.Wrap(
		fmt.Errorf("unexpected status %d", resp.StatusCode),
		dErrors.CodeNetwork, "verification backend request failed")
}

// rejectedText describes a 4xx answer that came without a message. The
// request reached the backend, so these never suggest a connectivity problem.
func rejectedText(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "The verification service rejected the submission. Please check your details and try again."
	case http.StatusUnauthorized, http.StatusForbidden:
		return "The verification service refused this request. Please sign in again."
	case http.StatusNotFound:
		return "The verification service has no record for this applicant."
	case http.StatusConflict:
		return "A submission for this applicant is already being processed."
	case http.StatusRequestEntityTooLarge:
		return "The submission is too large. Please upload smaller files."
	case http.StatusTooManyRequests:
		return "The verification service is busy. Please wait a moment and try again."
	default:
		return fmt.Sprintf("The verification service rejected the submission (status %d).", status)
	}
}

// errorMessage extracts the human-readable message field from an error body.
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return strings.TrimSpace(body.Message)
	}
	return strings.TrimSpace(body.Error)
}

func (c *Client) observe(span trace.Span, operation string, status int, err error, start time.Time) {
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	c.metrics.ObserveBackend(operation, result, time.Since(start))
}
