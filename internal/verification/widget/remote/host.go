// Package remote implements the widget host ports against the provider's
// HTTP API. Provider form events arrive through a webhook and are routed to
// the matching form with Dispatch.
package remote

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
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"studentcheck/internal/verification/widget"
	"studentcheck/pkg/platform/sentinel"
)

const defaultTimeout = 10 * time.Second

// Config locates the provider API.
type Config struct {
	APIBaseURL string
	APIKey     string
	Timeout    time.Duration
}

// Host is a process-wide widget.Host shared by every open case.
type Host struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger

	mu        sync.RWMutex
	resources map[string]widget.Resource
	forms     map[string]*Form
}

type Option func(*Host)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(client *http.Client) Option {
	return func(h *Host) {
		h.client = client
	}
}

func New(cfg Config, opts ...Option) (*Host, error) {
	if cfg.APIBaseURL == "" {
		return nil, errors.New("provider API base URL is required")
	}
	if _, err := url.Parse(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid provider API base URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	h := &Host{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:    slog.Default(),
		resources: make(map[string]widget.Resource),
		forms:     make(map[string]*Form),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Inject fetches the asset to confirm it is reachable and registers it.
func (h *Host) Inject(ctx context.Context, kind widget.ResourceKind, assetURL string) (widget.Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return widget.Resource{}, fmt.Errorf("failed to create asset request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return widget.Resource{}, fmt.Errorf("failed to fetch %s: %w", kind, errors.Join(err, sentinel.ErrUnavailable))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return widget.Resource{}, fmt.Errorf("%s fetch failed with status %d: %w", kind, resp.StatusCode, sentinel.ErrUnavailable)
	}

	res := widget.Resource{ID: uuid.NewString(), Kind: kind, URL: assetURL}
	h.mu.Lock()
	h.resources[res.ID] = res
	h.mu.Unlock()

	h.logger.DebugContext(ctx, "provider resource registered", "kind", kind, "resource_id", res.ID)
	return res, nil
}

func (h *Host) Remove(_ context.Context, res widget.Resource) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.resources[res.ID]; !ok {
		return fmt.Errorf("resource %s: %w", res.ID, sentinel.ErrNotFound)
	}
	delete(h.resources, res.ID)
	return nil
}

// Provider reports the provider runtime as available once a script is
// registered and the provider's bootstrap endpoint answers.
func (h *Host) Provider(ctx context.Context) (widget.Runtime, bool) {
	h.mu.RLock()
	hasScript := false
	for _, res := range h.resources {
		if res.Kind == widget.ResourceScript {
			hasScript = true
			break
		}
	}
	h.mu.RUnlock()
	if !hasScript {
		return nil, false
	}

	resp, err := h.do(ctx, http.MethodGet, "/bootstrap", nil)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	return runtime{host: h}, true
}

// Dispatch routes a provider event to the form it belongs to.
func (h *Host) Dispatch(ctx context.Context, providerSessionID string, ev widget.Event) error {
	if !ev.Name.IsValid() {
		return fmt.Errorf("unsupported provider event %q", ev.Name)
	}
	h.mu.RLock()
	form, ok := h.forms[providerSessionID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("provider session %s: %w", providerSessionID, sentinel.ErrNotFound)
	}
	h.logger.DebugContext(ctx, "dispatching provider event",
		"provider_session_id", providerSessionID,
		"event", ev.Name,
	)
	form.fire(ev)
	return nil
}

// ResourceCount returns the number of registered resources.
func (h *Host) ResourceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.resources)
}

func (h *Host) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	return h.client.Do(req)
}

func (h *Host) register(form *Form) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forms[form.sessionID] = form
}

func (h *Host) unregister(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.forms, sessionID)
}

type runtime struct {
	host *Host
}

type createSessionRequest struct {
	ProgramURL string `json:"programUrl"`
	CaseID     string `json:"caseId"`
	Locale     string `json:"locale,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

func (r runtime) LoadInModal(ctx context.Context, programURL string, opts widget.ModalOptions) (widget.FormHandle, error) {
	resp, err := r.host.do(ctx, http.MethodPost, "/sessions", createSessionRequest{
		ProgramURL: programURL,
		CaseID:     opts.CaseID,
		Locale:     opts.Locale,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider session: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("provider session failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode provider session: %w", err)
	}
	if out.SessionID == "" {
		return nil, errors.New("provider session response missing sessionId")
	}

	form := &Form{
		host:      r.host,
		sessionID: out.SessionID,
		handlers:  make(map[widget.EventName][]func(widget.Event)),
	}
	r.host.register(form)
	return form, nil
}

// Form is a provider session bound to one activation.
type Form struct {
	host      *Host
	sessionID string

	mu       sync.Mutex
	handlers map[widget.EventName][]func(widget.Event)
}

// SessionID is the provider's identifier, used in webhook callbacks.
func (f *Form) SessionID() string { return f.sessionID }

func (f *Form) SetViewModel(ctx context.Context, vm widget.ViewModel) error {
	resp, err := f.host.do(ctx, http.MethodPut, "/sessions/"+url.PathEscape(f.sessionID)+"/view-model", vm)
	if err != nil {
		return fmt.Errorf("failed to set view model: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("set view model failed with status %d", resp.StatusCode)
	}
	return nil
}

func (f *Form) On(name widget.EventName, fn func(widget.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = append(f.handlers[name], fn)
}

// Close ends the provider session. The form stops receiving events even if
// the provider call fails.
func (f *Form) Close(ctx context.Context) error {
	f.host.unregister(f.sessionID)
	resp, err := f.host.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(f.sessionID), nil)
	if err != nil {
		return fmt.Errorf("failed to close provider session: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("close provider session failed with status %d", resp.StatusCode)
	}
	return nil
}

func (f *Form) fire(ev widget.Event) {
	f.mu.Lock()
	handlers := slices.Clone(f.handlers[ev.Name])
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}
