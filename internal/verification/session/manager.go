// Package session keeps the open verification cases of this process. A case
// lives for one session and is discarded on close; the backend stays the
// system of record.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"studentcheck/internal/verification/controller"
	"studentcheck/internal/verification/documents"
	"studentcheck/internal/verification/metrics"
	"studentcheck/internal/verification/models"
	"studentcheck/internal/verification/ports"
	"studentcheck/internal/verification/widget"
	id "studentcheck/pkg/domain"
	dErrors "studentcheck/pkg/domain-errors"
	"studentcheck/pkg/platform/audit"
	"studentcheck/pkg/platform/sentinel"
)

// Config carries what every case of the process shares.
type Config struct {
	Widget       widget.Config
	MaxRetries   int
	MaxFileBytes int64
	AllowedMIME  []string
}

// Deps are the collaborators shared by every case.
type Deps struct {
	Host      widget.Host
	Submitter ports.Submitter
	Status    ports.StatusSource
	Previewer documents.Previewer
	Publisher ports.AuditPublisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// OpenRequest seeds a new session. Identity and academic facts prefill the
// wizard and the provider form.
type OpenRequest struct {
	ApplicantID id.ApplicantID
	Identity    models.SubjectIdentity
	Academic    *models.AcademicFacts
}

type entry struct {
	ctl      *controller.Controller
	cancel   context.CancelFunc
	lastSeen time.Time
}

// Manager owns the controllers of open sessions.
type Manager struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[id.SessionID]*entry
	wg       sync.WaitGroup
}

func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Host == nil {
		return nil, errors.New("widget host is required")
	}
	if deps.Submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if deps.Status == nil {
		return nil, errors.New("status source is required")
	}
	if deps.Previewer == nil {
		deps.Previewer = documents.NewThumbnailPreviewer()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = models.MaxRetries
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		now:      time.Now,
		sessions: make(map[id.SessionID]*entry),
	}, nil
}

// Open creates a case for the applicant, seeds it with the status the
// backend holds and starts its controller.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (controller.Snapshot, error) {
	if req.ApplicantID.IsNil() {
		return controller.Snapshot{}, dErrors.New(dErrors.CodeBadRequest, "applicant ID is required")
	}
	current, err := m.deps.Status.CurrentStatus(ctx, req.ApplicantID)
	if err != nil {
		return controller.Snapshot{}, err
	}

	adapter, err := widget.New(m.deps.Host, m.cfg.Widget, widget.WithLogger(m.deps.Logger))
	if err != nil {
		return controller.Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create widget adapter")
	}
	docOpts := []documents.Option{documents.WithLogger(m.deps.Logger)}
	if m.cfg.MaxFileBytes > 0 || len(m.cfg.AllowedMIME) > 0 {
		docOpts = append(docOpts, documents.WithLimits(m.cfg.MaxFileBytes, m.cfg.AllowedMIME))
	}
	docs := documents.New(m.deps.Previewer, docOpts...)

	ctl, err := controller.New(req.ApplicantID, adapter, m.deps.Submitter, docs,
		controller.WithLogger(m.deps.Logger),
		controller.WithAuditPublisher(m.deps.Publisher),
		controller.WithMetrics(m.deps.Metrics),
		controller.WithMaxRetries(m.cfg.MaxRetries),
	)
	if err != nil {
		return controller.Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create verification case")
	}
	m.start(ctl)

	snap, err := m.seed(ctx, ctl, current, req)
	if err != nil {
		_, _ = m.Close(context.WithoutCancel(ctx), ctl.SessionID())
		return controller.Snapshot{}, err
	}

	ports.LogAudit(ctx, m.deps.Logger, m.deps.Publisher, audit.Event{
		ApplicantID: req.ApplicantID,
		CaseID:      snap.Case.ID.String(),
		SessionID:   snap.SessionID,
		Action:      string(audit.EventSessionOpened),
		Status:      snap.Case.Status.String(),
	})
	return snap, nil
}

func (m *Manager) start(ctl *controller.Controller) {
	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.sessions[ctl.SessionID()] = &entry{ctl: ctl, cancel: cancel, lastSeen: m.now()}
	open := len(m.sessions)
	m.mu.Unlock()
	m.deps.Metrics.SetOpenSessions(open)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		if err := ctl.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.deps.Logger.Warn("verification session stopped", "session_id", ctl.SessionID().String(), "error", err)
		}
		m.forget(ctl.SessionID())
	}()
}

func (m *Manager) seed(ctx context.Context, ctl *controller.Controller, current *models.CurrentStatus, req OpenRequest) (controller.Snapshot, error) {
	snap := ctl.Snapshot()
	if current != nil {
		s, err := ctl.Do(ctx, controller.LoadStatus{Status: *current})
		if err != nil {
			return snap, err
		}
		snap = s
	}
	if !snap.Actions.ManualChannel {
		// Nothing to prefill once the case is under review or closed.
		return snap, nil
	}
	s, err := ctl.Do(ctx, controller.SetIdentity{Identity: req.Identity})
	if err != nil {
		return snap, err
	}
	snap = s
	if req.Academic != nil {
		if snap, err = ctl.Do(ctx, controller.SetAcademic{Academic: *req.Academic}); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

// Get returns the controller of an open session and marks it as seen.
func (m *Manager) Get(sessionID id.SessionID) (*controller.Controller, error) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if ok {
		e.lastSeen = m.now()
	}
	m.mu.Unlock()
	if !ok {
		return nil, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "verification session not found")
	}
	return e.ctl, nil
}

// Close tears the session down and waits for its controller to stop.
func (m *Manager) Close(ctx context.Context, sessionID id.SessionID) (controller.Snapshot, error) {
	ctl, err := m.Get(sessionID)
	if err != nil {
		return controller.Snapshot{}, err
	}
	snap, err := ctl.Do(ctx, controller.Close{})
	if err != nil && !errors.Is(err, sentinel.ErrClosed) {
		return snap, err
	}
	select {
	case <-ctl.Done():
	case <-ctx.Done():
		return snap, ctx.Err()
	}
	m.forget(sessionID)
	return ctl.Snapshot(), nil
}

// Len is the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown cancels every open session and waits for their widgets to be
// released, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, e := range m.sessions {
		e.cancel()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) forget(sessionID id.SessionID) {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	open := len(m.sessions)
	m.mu.Unlock()
	if ok {
		m.deps.Metrics.SetOpenSessions(open)
	}
}

// Reap closes sessions nobody has touched for longer than maxIdle, which
// happens when the applicant navigates away without closing. It returns the
// number of sessions closed.
func (m *Manager) Reap(ctx context.Context, maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)
	var stale []id.SessionID
	m.mu.RLock()
	for sid, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, sid)
		}
	}
	m.mu.RUnlock()

	closed := 0
	for _, sid := range stale {
		if _, err := m.Close(ctx, sid); err != nil {
			m.deps.Logger.WarnContext(ctx, "failed to reap idle session", "session_id", sid.String(), "error", err)
			continue
		}
		closed++
	}
	if closed > 0 {
		m.deps.Logger.InfoContext(ctx, "reaped idle verification sessions", "count", closed)
	}
	return closed
}

// RunReaper calls Reap every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap(ctx, maxIdle)
		}
	}
}
