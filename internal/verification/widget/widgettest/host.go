// Package widgettest provides an in-memory provider host for tests.
package widgettest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"studentcheck/internal/verification/widget"
)

// Host is an in-memory widget.Host. The provider object is reachable once
// a script has been injected, unless Unavailable is set.
type Host struct {
	mu          sync.Mutex
	seq         int
	live        map[string]widget.Resource
	injections  int
	unavailable bool
	injectErr   error
	gate        chan struct{}
	forms       []*Form
	formsCh     chan *Form
}

func NewHost() *Host {
	return &Host{
		live:    make(map[string]widget.Resource),
		formsCh: make(chan *Form, 16),
	}
}

// SetUnavailable makes the provider object never appear.
func (h *Host) SetUnavailable(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unavailable = v
}

// FailInjection makes every injection fail with err.
func (h *Host) FailInjection(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.injectErr = err
}

// HoldInjections blocks injections until the returned func is called.
func (h *Host) HoldInjections() (release func()) {
	gate := make(chan struct{})
	h.mu.Lock()
	h.gate = gate
	h.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

func (h *Host) Inject(ctx context.Context, kind widget.ResourceKind, url string) (widget.Resource, error) {
	h.mu.Lock()
	gate := h.gate
	h.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return widget.Resource{}, ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.injectErr != nil {
		return widget.Resource{}, h.injectErr
	}
	h.seq++
	h.injections++
	res := widget.Resource{ID: fmt.Sprintf("%s-%d", kind, h.seq), Kind: kind, URL: url}
	h.live[res.ID] = res
	return res, nil
}

func (h *Host) Remove(_ context.Context, res widget.Resource) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.live[res.ID]; !ok {
		return errors.New("resource not injected: " + res.ID)
	}
	delete(h.live, res.ID)
	return nil
}

func (h *Host) Provider(context.Context) (widget.Runtime, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unavailable {
		return nil, false
	}
	for _, res := range h.live {
		if res.Kind == widget.ResourceScript {
			return runtime{host: h}, true
		}
	}
	return nil, false
}

// Live returns the number of injected resources of kind currently present.
func (h *Host) Live(kind widget.ResourceKind) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, res := range h.live {
		if res.Kind == kind {
			n++
		}
	}
	return n
}

// Injections returns the total number of successful injections.
func (h *Host) Injections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.injections
}

// Forms returns every form instantiated so far.
func (h *Host) Forms() []*Form {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Form(nil), h.forms...)
}

// NextForm waits for the next instantiated form.
func (h *Host) NextForm(timeout time.Duration) (*Form, error) {
	select {
	case f := <-h.formsCh:
		return f, nil
	case <-time.After(timeout):
		return nil, errors.New("no provider form was instantiated")
	}
}

type runtime struct {
	host *Host
}

func (r runtime) LoadInModal(_ context.Context, programURL string, opts widget.ModalOptions) (widget.FormHandle, error) {
	f := &Form{
		ProgramURL: programURL,
		Options:    opts,
		handlers:   make(map[widget.EventName][]func(widget.Event)),
	}
	r.host.mu.Lock()
	r.host.forms = append(r.host.forms, f)
	r.host.mu.Unlock()
	select {
	case r.host.formsCh <- f:
	default:
	}
	return f, nil
}

// Form is an in-memory widget.FormHandle whose events are fired by tests.
type Form struct {
	ProgramURL string
	Options    widget.ModalOptions

	mu        sync.Mutex
	viewModel *widget.ViewModel
	handlers  map[widget.EventName][]func(widget.Event)
	closed    bool
}

func (f *Form) SetViewModel(_ context.Context, vm widget.ViewModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewModel = &vm
	return nil
}

func (f *Form) On(name widget.EventName, fn func(widget.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = append(f.handlers[name], fn)
}

func (f *Form) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// ViewModel returns the pre-populated identity, once set.
func (f *Form) ViewModel() (widget.ViewModel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.viewModel == nil {
		return widget.ViewModel{}, false
	}
	return *f.viewModel, true
}

// Closed reports whether the adapter closed the form.
func (f *Form) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Subscribed reports whether a handler is registered for every event name.
func (f *Form) Subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range widget.SubscribedEvents() {
		if len(f.handlers[name]) == 0 {
			return false
		}
	}
	return true
}

// WaitSubscribed blocks until the adapter has subscribed to every event.
func (f *Form) WaitSubscribed(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.Subscribed() {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return errors.New("adapter did not subscribe to provider events")
}

// Fire delivers ev to the registered handlers.
func (f *Form) Fire(ev widget.Event) {
	f.mu.Lock()
	handlers := slices.Clone(f.handlers[ev.Name])
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}
