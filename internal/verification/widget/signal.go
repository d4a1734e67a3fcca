package widget

// SignalKind is what the adapter reports to its owner.
type SignalKind string

const (
	SignalCompleted          SignalKind = "case_completed"
	SignalFailed             SignalKind = "case_failed"
	SignalServiceUnavailable SignalKind = "service_unavailable"
	SignalReady              SignalKind = "ready"
	SignalStepChanged        SignalKind = "step_changed"
	SignalLocaleChanged      SignalKind = "locale_changed"
)

// DefaultFailureMessage is used when the provider reports an error without one.
const DefaultFailureMessage = "Verification failed. Please try again."

// Signal is an adapter outcome tagged with the activation it belongs to.
// Owners drop signals whose Generation is not the one they activated.
type Signal struct {
	Kind       SignalKind
	Generation uint64
	Message    string
	Step       string
	Locale     string
}

// IsTerminal reports whether the signal ends the activation.
func (s Signal) IsTerminal() bool {
	switch s.Kind {
	case SignalCompleted, SignalFailed, SignalServiceUnavailable:
		return true
	}
	return false
}

// Sink receives adapter signals. It must not block for long.
type Sink func(Signal)

func signalFor(ev Event, generation uint64) (Signal, bool) {
	sig := Signal{Generation: generation}
	switch ev.Name {
	case EventSuccess:
		sig.Kind = SignalCompleted
	case EventError:
		sig.Kind = SignalFailed
		sig.Message = ev.Message
		if sig.Message == "" {
			sig.Message = DefaultFailureMessage
		}
	case EventReady:
		sig.Kind = SignalReady
	case EventStepChanged:
		sig.Kind = SignalStepChanged
		sig.Step = ev.Step
	case EventLocaleChanged:
		sig.Kind = SignalLocaleChanged
		sig.Locale = ev.Locale
	default:
		return Signal{}, false
	}
	return sig, true
}
