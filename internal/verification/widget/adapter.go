package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"studentcheck/internal/verification/models"
	"studentcheck/pkg/platform/sentinel"
)

const (
	DefaultAvailabilityTimeout = 2 * time.Second
	DefaultPollInterval        = 50 * time.Millisecond
)

var errSuperseded = errors.New("activation superseded")

// Config locates the provider assets and program.
type Config struct {
	ProgramURL          string
	ScriptURL           string
	StylesheetURL       string
	AvailabilityTimeout time.Duration
	PollInterval        time.Duration
}

// State is a point-in-time view of the adapter flags.
type State struct {
	Active     bool
	Loading    bool
	Loaded     bool
	Generation uint64
	Resources  int
}

// Adapter owns the provider runtime for one case. Activate acquires it and
// Release tears it down; a load still in flight when Release runs is not
// cancelled, but its resources are removed on arrival and nothing it produces
// reaches the sink.
type Adapter struct {
	host   Host
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	mu         sync.Mutex
	active     bool
	loading    bool
	loaded     bool
	generation uint64
	resources  []Resource
	handle     FormHandle
}

type Option func(*Adapter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

func New(host Host, cfg Config, opts ...Option) (*Adapter, error) {
	if host == nil {
		return nil, errors.New("widget host is required")
	}
	if cfg.ProgramURL == "" || cfg.ScriptURL == "" {
		return nil, errors.New("widget program and script URLs are required")
	}
	if cfg.AvailabilityTimeout <= 0 {
		cfg.AvailabilityTimeout = DefaultAvailabilityTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	a := &Adapter{
		host:   host,
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer("studentcheck/verification/widget"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Activate starts a provider flow for the case and returns the activation
// generation that tags every signal it produces. Loading happens in the
// background; outcomes arrive on sink. Activating an already active adapter
// returns sentinel.ErrAlreadyActive and injects nothing.
func (a *Adapter) Activate(ctx context.Context, caseID string, identity models.SubjectIdentity, sink Sink) (uint64, error) {
	if sink == nil {
		return 0, errors.New("widget sink is required")
	}
	a.mu.Lock()
	if a.active {
		gen := a.generation
		a.mu.Unlock()
		return gen, sentinel.ErrAlreadyActive
	}
	a.active = true
	a.generation++
	gen := a.generation
	a.mu.Unlock()

	go a.run(context.WithoutCancel(ctx), gen, caseID, NewViewModel(identity), sink)
	return gen, nil
}

func (a *Adapter) run(ctx context.Context, gen uint64, caseID string, vm ViewModel, sink Sink) {
	ctx, span := a.tracer.Start(ctx, "widget.activate",
		trace.WithAttributes(
			attribute.String("case_id", caseID),
			attribute.Int64("generation", int64(gen)),
		))
	defer span.End()

	unavailable := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider unavailable")
		a.logger.WarnContext(ctx, "automated verification provider unavailable",
			"case_id", caseID,
			"generation", gen,
			"error", err,
		)
		a.emit(ctx, gen, sink, Signal{Kind: SignalServiceUnavailable})
	}

	if err := a.ensureLoaded(ctx, gen); err != nil {
		if errors.Is(err, errSuperseded) {
			return
		}
		unavailable(err)
		return
	}

	runtime, err := a.awaitProvider(ctx)
	if err != nil {
		unavailable(err)
		return
	}
	if !a.isCurrent(gen) {
		return
	}

	handle, err := runtime.LoadInModal(ctx, a.cfg.ProgramURL, ModalOptions{CaseID: caseID})
	if err != nil {
		unavailable(fmt.Errorf("load in modal: %w", err))
		return
	}

	a.mu.Lock()
	if !a.active || a.generation != gen {
		a.mu.Unlock()
		if err := handle.Close(ctx); err != nil {
			a.logger.DebugContext(ctx, "failed to close superseded provider form", "error", err)
		}
		return
	}
	a.handle = handle
	a.mu.Unlock()

	for _, name := range SubscribedEvents() {
		handle.On(name, func(ev Event) {
			sig, ok := signalFor(ev, gen)
			if !ok {
				return
			}
			a.emit(ctx, gen, sink, sig)
		})
	}
	if err := handle.SetViewModel(ctx, vm); err != nil {
		a.logger.WarnContext(ctx, "failed to pre-populate provider form",
			"case_id", caseID,
			"error", err,
		)
	}
}

// ensureLoaded injects the script and stylesheet unless they are already
// present. Results that arrive after the activation was released are removed
// and reported as superseded.
func (a *Adapter) ensureLoaded(ctx context.Context, gen uint64) error {
	a.mu.Lock()
	if a.loaded {
		a.mu.Unlock()
		return nil
	}
	a.loading = true
	a.mu.Unlock()

	resources, err := a.inject(ctx)

	a.mu.Lock()
	if a.generation != gen {
		a.mu.Unlock()
		if rmErr := a.remove(ctx, resources); rmErr != nil {
			a.logger.DebugContext(ctx, "failed to remove superseded provider resources", "error", rmErr)
		}
		return errSuperseded
	}
	a.loading = false
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.resources = resources
	a.loaded = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) inject(ctx context.Context) ([]Resource, error) {
	type target struct {
		kind ResourceKind
		url  string
	}
	targets := []target{{ResourceScript, a.cfg.ScriptURL}}
	if a.cfg.StylesheetURL != "" {
		targets = append(targets, target{ResourceStylesheet, a.cfg.StylesheetURL})
	}

	injected := make([]Resource, len(targets))
	ok := make([]bool, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			res, err := a.host.Inject(gctx, t.kind, t.url)
			if err != nil {
				return fmt.Errorf("inject %s: %w", t.kind, err)
			}
			injected[i] = res
			ok[i] = true
			return nil
		})
	}
	err := g.Wait()

	out := make([]Resource, 0, len(targets))
	for i := range injected {
		if ok[i] {
			out = append(out, injected[i])
		}
	}
	if err != nil {
		if rmErr := a.remove(ctx, out); rmErr != nil {
			a.logger.DebugContext(ctx, "failed to remove partially injected resources", "error", rmErr)
		}
		return nil, err
	}
	return out, nil
}

func (a *Adapter) awaitProvider(ctx context.Context) (Runtime, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.AvailabilityTimeout)
	defer cancel()
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if runtime, ok := a.host.Provider(ctx); ok && runtime != nil {
			return runtime, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("provider not available after %s: %w", a.cfg.AvailabilityTimeout, sentinel.ErrUnavailable)
		case <-ticker.C:
		}
	}
}

// emit stamps sig with its activation so the receiver can drop stale ones.
func (a *Adapter) emit(ctx context.Context, gen uint64, sink Sink, sig Signal) {
	sig.Generation = gen
	if !a.isCurrent(gen) {
		a.logger.DebugContext(ctx, "dropping provider signal for released activation",
			"signal", sig.Kind,
			"generation", gen,
		)
		return
	}
	sink(sig)
}

func (a *Adapter) isCurrent(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active && a.generation == gen
}

// Release tears down the provider form and removes every injected resource.
// It is safe to call on every exit path, including when nothing is active.
func (a *Adapter) Release(ctx context.Context) error {
	a.mu.Lock()
	if !a.active && !a.loaded && len(a.resources) == 0 && a.handle == nil {
		a.mu.Unlock()
		return nil
	}
	a.active = false
	a.loading = false
	a.loaded = false
	a.generation++
	handle := a.handle
	a.handle = nil
	resources := a.resources
	a.resources = nil
	a.mu.Unlock()

	var errs []error
	if handle != nil {
		if err := handle.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close provider form: %w", err))
		}
	}
	if err := a.remove(ctx, resources); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *Adapter) remove(ctx context.Context, resources []Resource) error {
	var errs []error
	for _, res := range resources {
		if err := a.host.Remove(ctx, res); err != nil {
			errs = append(errs, fmt.Errorf("remove %s %s: %w", res.Kind, res.ID, err))
		}
	}
	return errors.Join(errs...)
}

// State returns the current adapter flags.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{
		Active:     a.active,
		Loading:    a.loading,
		Loaded:     a.loaded,
		Generation: a.generation,
		Resources:  len(a.resources),
	}
}
