// Package handler exposes verification sessions over HTTP and bridges the
// provider's form callbacks into the widget runtime.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"studentcheck/internal/platform/middleware"
	"studentcheck/internal/verification/controller"
	"studentcheck/internal/verification/documents"
	"studentcheck/internal/verification/models"
	"studentcheck/internal/verification/session"
	"studentcheck/internal/verification/widget"
	id "studentcheck/pkg/domain"
	dErrors "studentcheck/pkg/domain-errors"
	"studentcheck/pkg/platform/audit"
	"studentcheck/pkg/platform/httputil"
	request "studentcheck/pkg/platform/middleware/request"
	"studentcheck/pkg/platform/middleware/webhook"
	"studentcheck/pkg/platform/sentinel"
)

const (
	defaultSettleTimeout = 20 * time.Second
	// multipartOverhead is the allowance for form framing on top of the file.
	multipartOverhead = 1 << 20
)

// Sessions is the session lifecycle the handler drives.
type Sessions interface {
	Open(ctx context.Context, req session.OpenRequest) (controller.Snapshot, error)
	Get(sessionID id.SessionID) (*controller.Controller, error)
	Close(ctx context.Context, sessionID id.SessionID) (controller.Snapshot, error)
}

// ProviderEvents routes provider form callbacks to the open form.
type ProviderEvents interface {
	Dispatch(ctx context.Context, providerSessionID string, ev widget.Event) error
}

// Activity lists the audit trail recorded for an applicant.
type Activity interface {
	List(ctx context.Context, applicantID id.ApplicantID) ([]audit.Event, error)
}

// Handler handles verification endpoints.
type Handler struct {
	sessions      Sessions
	provider      ProviderEvents
	activity      Activity
	tokens        middleware.TokenValidator
	logger        *slog.Logger
	webhookToken  string
	maxFileBytes  int64
	settleTimeout time.Duration
}

type Option func(*Handler)

// WithActivity exposes the applicant's audit trail at /verification/activity.
func WithActivity(a Activity) Option {
	return func(h *Handler) { h.activity = a }
}

// WithWebhookToken sets the shared secret the provider presents on callbacks.
func WithWebhookToken(token string) Option {
	return func(h *Handler) { h.webhookToken = token }
}

func WithMaxFileBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxFileBytes = n
		}
	}
}

// WithSettleTimeout bounds how long submit waits for the backend answer
// before answering 202.
func WithSettleTimeout(d time.Duration) Option {
	return func(h *Handler) { h.settleTimeout = d }
}

// New creates a verification Handler. provider may be nil when no remote
// provider runtime is configured; the webhook then answers 404. tokens
// authenticates applicants on every session and activity route.
func New(sessions Sessions, provider ProviderEvents, tokens middleware.TokenValidator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		sessions:      sessions,
		provider:      provider,
		tokens:        tokens,
		logger:        logger,
		maxFileBytes:  models.MaxDocumentBytes,
		settleTimeout: defaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the verification routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/verification/sessions", func(r chi.Router) {
		r.Use(middleware.RequireApplicant(h.tokens, h.logger))
		r.Post("/", h.handleOpen)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Delete("/", h.handleClose)
			r.Put("/identity", h.handleIdentity)
			r.Put("/academic", h.handleAcademic)
			r.Post("/steps/next", h.command(func(*http.Request) (controller.Event, error) {
				return controller.NextStep{}, nil
			}))
			r.Post("/steps/back", h.command(func(*http.Request) (controller.Event, error) {
				return controller.BackStep{}, nil
			}))
			r.Put("/documents/{category}", h.handleUpload)
			r.Delete("/documents/{category}", h.command(func(r *http.Request) (controller.Event, error) {
				return controller.RemoveDocument{Category: models.DocumentCategory(chi.URLParam(r, "category"))}, nil
			}))
			r.Post("/submit", h.handleSubmit)
			r.Post("/automated/start", h.handleStartAutomated)
		})
	})

	if h.activity != nil {
		r.With(middleware.RequireApplicant(h.tokens, h.logger)).
			Get("/verification/activity", h.handleActivity)
	}

	r.With(webhook.RequireToken(h.webhookToken, h.logger)).
		Post("/verification/provider/events", h.handleProviderEvent)
}

type activityEntry struct {
	Action    string    `json:"action"`
	Category  string    `json:"category"`
	CaseID    string    `json:"caseId,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Status    string    `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	applicantID, _ := middleware.GetApplicantID(ctx)

	events, err := h.activity.List(ctx, applicantID)
	if err != nil {
		h.fail(ctx, w, "failed to list verification activity", dErrors.Wrap(err, dErrors.CodeInternal, "failed to list activity"))
		return
	}
	entries := make([]activityEntry, 0, len(events))
	for _, ev := range events {
		entries = append(entries, activityEntry{
			Action:    ev.Action,
			Category:  string(ev.Category),
			CaseID:    ev.CaseID,
			Channel:   ev.Channel,
			Status:    ev.Status,
			Reason:    ev.Reason,
			Timestamp: ev.Timestamp,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": entries})
}

type openRequest struct {
	ApplicantID string                 `json:"applicantId,omitempty"`
	Identity    models.SubjectIdentity `json:"identity"`
	Academic    *models.AcademicFacts  `json:"academic,omitempty"`
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	applicantID, _ := middleware.GetApplicantID(ctx)

	req, err := httputil.DecodeJSON[openRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.ApplicantID != "" && req.ApplicantID != applicantID.String() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "applicantId does not match the authenticated applicant"))
		return
	}

	snap, err := h.sessions.Open(ctx, session.OpenRequest{
		ApplicantID: applicantID,
		Identity:    req.Identity,
		Academic:    req.Academic,
	})
	if err != nil {
		h.fail(ctx, w, "failed to open verification session", err)
		return
	}
	h.logger.InfoContext(ctx, "verification session opened",
		"session_id", snap.SessionID,
		"status", snap.Case.Status,
		"request_id", request.GetRequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusCreated, snap)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.session(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ctl.Snapshot())
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctl, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := h.sessions.Close(ctx, ctl.SessionID())
	if err != nil {
		h.fail(ctx, w, "failed to close verification session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleIdentity(w http.ResponseWriter, r *http.Request) {
	h.command(func(r *http.Request) (controller.Event, error) {
		identity, err := httputil.DecodeJSON[models.SubjectIdentity](r)
		if err != nil {
			return nil, err
		}
		return controller.SetIdentity{Identity: *identity}, nil
	})(w, r)
}

func (h *Handler) handleAcademic(w http.ResponseWriter, r *http.Request) {
	h.command(func(r *http.Request) (controller.Event, error) {
		academic, err := httputil.DecodeJSON[models.AcademicFacts](r)
		if err != nil {
			return nil, err
		}
		return controller.SetAcademic{Academic: *academic}, nil
	})(w, r)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	h.command(func(r *http.Request) (controller.Event, error) {
		up, err := h.readUpload(w, r)
		if err != nil {
			return nil, err
		}
		return controller.UploadDocument{Upload: up}, nil
	})(w, r)
}

// readUpload reads the "file" part. Oversized files are read one byte past
// the limit so the document store reports the size error.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (documents.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return documents.Upload{}, dErrors.NewValidation("File is too large. Maximum size is 5 MB.",
				map[string]string{"file": "file exceeds the maximum size"})
		}
		return documents.Upload{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "multipart field \"file\" is required")
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, h.maxFileBytes+1))
	if err != nil {
		return documents.Upload{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read uploaded file")
	}
	return documents.Upload{
		Category: models.DocumentCategory(chi.URLParam(r, "category")),
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Content:  content,
	}, nil
}

// handleSubmit waits for the backend answer up to the settle timeout so most
// clients get the final state in one round trip.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctl, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := ctl.Do(ctx, controller.Submit{})
	if err != nil {
		h.fail(ctx, w, "submission refused", err)
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.settleTimeout)
	defer cancel()
	settled, err := ctl.WaitFor(waitCtx, func(s controller.Snapshot) bool { return !s.Submitting })
	if err != nil {
		httputil.WriteJSON(w, http.StatusAccepted, snap)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, settled)
}

// handleStartAutomated answers once the attempt has started; the provider
// form loads in the background and outcomes show up on the snapshot.
func (h *Handler) handleStartAutomated(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctl, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := ctl.Do(ctx, controller.StartAutomated{})
	if err != nil {
		h.fail(ctx, w, "automated verification refused", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, snap)
}

type providerEventRequest struct {
	SessionID string           `json:"sessionId"`
	Event     widget.EventName `json:"event"`
	Step      string           `json:"step,omitempty"`
	Locale    string           `json:"locale,omitempty"`
	Message   string           `json:"message,omitempty"`
}

func (h *Handler) handleProviderEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.provider == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no provider runtime configured"))
		return
	}
	req, err := httputil.DecodeJSON[providerEventRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.SessionID == "" {
		httputil.WriteError(w, dErrors.NewValidation("sessionId is required", map[string]string{"sessionId": "sessionId is required"}))
		return
	}
	if !req.Event.IsValid() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unsupported provider event"))
		return
	}

	err = h.provider.Dispatch(ctx, req.SessionID, widget.Event{
		Name:    req.Event,
		Step:    req.Step,
		Locale:  req.Locale,
		Message: req.Message,
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// The form was released; late callbacks are expected.
			h.logger.DebugContext(ctx, "provider event for unknown session",
				"provider_session_id", req.SessionID,
				"event", req.Event,
			)
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeNotFound, "provider session not found"))
			return
		}
		h.fail(ctx, w, "failed to dispatch provider event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// command applies the event built from the request to the session and
// writes the resulting snapshot.
func (h *Handler) command(build func(*http.Request) (controller.Event, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctl, ok := h.session(w, r)
		if !ok {
			return
		}
		ev, err := build(r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		snap, err := ctl.Do(ctx, ev)
		if err != nil {
			h.fail(ctx, w, "verification command refused", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, snap)
	}
}

// session resolves the path session and checks it belongs to the caller.
// Sessions of other applicants look like missing ones.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*controller.Controller, bool) {
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid session ID"))
		return nil, false
	}
	ctl, err := h.sessions.Get(sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	applicantID, _ := middleware.GetApplicantID(r.Context())
	if ctl.Snapshot().Case.ApplicantID != applicantID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "verification session not found"))
		return nil, false
	}
	return ctl, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, sentinel.ErrClosed) {
		err = dErrors.Wrap(err, dErrors.CodeNotFound, "verification session is closed")
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal:
		h.logger.ErrorContext(ctx, msg, "error", err, "request_id", request.GetRequestID(ctx))
	default:
		h.logger.WarnContext(ctx, msg, "error", err, "request_id", request.GetRequestID(ctx))
	}
	httputil.WriteError(w, err)
}
