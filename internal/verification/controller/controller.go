// Package controller owns one applicant's verification case for the length of
// a session. All state changes happen on a single goroutine that applies
// events from a mailbox in arrival order; asynchronous work (widget loads,
// submissions, previews) posts its completion back into the same mailbox.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"studentcheck/internal/verification/documents"
	"studentcheck/internal/verification/metrics"
	"studentcheck/internal/verification/models"
	"studentcheck/internal/verification/ports"
	"studentcheck/internal/verification/retry"
	"studentcheck/internal/verification/wizard"
	id "studentcheck/pkg/domain"
	"studentcheck/pkg/platform/sentinel"
)

const (
	defaultMailboxSize   = 32
	defaultSubmitTimeout = 30 * time.Second
	defaultReleaseWait   = 5 * time.Second
)

type envelope struct {
	ctx   context.Context
	event Event
	reply chan result
}

type result struct {
	snapshot Snapshot
	err      error
}

// Controller is the per-session state machine.
type Controller struct {
	sessionID id.SessionID
	kase      *models.VerificationCase
	guard     *retry.Guard
	docs      *documents.Store
	wizard    *wizard.Wizard

	widget    ports.Widget
	submitter ports.Submitter
	publisher ports.AuditPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	submitTimeout time.Duration

	mailbox chan envelope
	done    chan struct{}
	runOnce sync.Once

	// owned by the Run goroutine
	attempt    uint64
	submitSeq  uint64
	submitting bool
	progress   WidgetProgress
	message    *Message
	closed     bool

	mu      sync.Mutex
	latest  Snapshot
	changed chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(c *Controller) { c.publisher = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithSessionID(sessionID id.SessionID) Option {
	return func(c *Controller) { c.sessionID = sessionID }
}

// WithMaxRetries overrides the number of failed automated attempts allowed.
func WithMaxRetries(limit int) Option {
	return func(c *Controller) { c.guard = retry.New(limit) }
}

func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Controller) { c.submitTimeout = d }
}

// New creates a controller for a fresh case in not_submitted. Call Run to
// start applying events.
func New(applicantID id.ApplicantID, w ports.Widget, submitter ports.Submitter, docs *documents.Store, opts ...Option) (*Controller, error) {
	if applicantID.IsNil() {
		return nil, errors.New("applicant ID is required")
	}
	if w == nil {
		return nil, errors.New("widget is required")
	}
	if submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if docs == nil {
		return nil, errors.New("document store is required")
	}

	c := &Controller{
		sessionID:     id.NewSessionID(),
		guard:         retry.New(models.MaxRetries),
		docs:          docs,
		widget:        w,
		submitter:     submitter,
		logger:        slog.Default(),
		now:           time.Now,
		submitTimeout: defaultSubmitTimeout,
		mailbox:       make(chan envelope, defaultMailboxSize),
		done:          make(chan struct{}),
		changed:       make(chan struct{}),
	}
	c.wizard = wizard.New(docs, nil)
	for _, opt := range opts {
		opt(c)
	}
	c.kase = models.NewVerificationCase(applicantID, c.now())
	c.latest = c.snapshot()
	return c, nil
}

// SessionID identifies the session this controller serves.
func (c *Controller) SessionID() id.SessionID { return c.sessionID }

// Run applies events until Close is handled or ctx is cancelled. Either way
// an active widget is released before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("controller is already running")
	}
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.teardown(context.WithoutCancel(ctx), "context_cancelled")
			c.publish()
			return ctx.Err()
		case env := <-c.mailbox:
			snap, err := c.apply(env.ctx, env.event)
			if env.reply != nil {
				env.reply <- result{snapshot: snap, err: err}
			}
			if c.closed {
				return nil
			}
		}
	}
}

// Do submits a command and waits until it has been applied. The returned
// snapshot reflects the state right after the command. Commands sent after
// the controller stopped fail with sentinel.ErrClosed.
func (c *Controller) Do(ctx context.Context, ev Event) (Snapshot, error) {
	reply := make(chan result, 1)
	select {
	case c.mailbox <- envelope{ctx: ctx, event: ev, reply: reply}:
	case <-c.done:
		return c.Snapshot(), sentinel.ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.snapshot, r.err
	case <-c.done:
		// Run may have applied the event just before stopping.
		select {
		case r := <-reply:
			return r.snapshot, r.err
		default:
			return c.Snapshot(), sentinel.ErrClosed
		}
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// post enqueues a completion. It is dropped once the controller has stopped.
func (c *Controller) post(ev Event) {
	select {
	case c.mailbox <- envelope{ctx: context.Background(), event: ev}:
	case <-c.done:
	}
}

// Snapshot returns the state after the most recently applied event.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// WaitFor blocks until cond holds for the latest snapshot, the controller
// stops, or ctx is done.
func (c *Controller) WaitFor(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	for {
		c.mu.Lock()
		snap, changed := c.latest, c.changed
		c.mu.Unlock()
		if cond(snap) {
			return snap, nil
		}
		select {
		case <-changed:
		case <-c.done:
			final := c.Snapshot()
			if cond(final) {
				return final, nil
			}
			return final, sentinel.ErrClosed
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) publish() {
	snap := c.snapshot()
	c.mu.Lock()
	c.latest = snap
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}
