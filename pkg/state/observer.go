package state

import "time"

// Outcome is how an async pass settled.
type Outcome string

const (
	// OutcomeCommitted: the pass was current and its value was committed.
	OutcomeCommitted Outcome = "committed"

	// OutcomeFailed: the pass was current and returned an error or panicked.
	OutcomeFailed Outcome = "failed"

	// OutcomeSuperseded: a newer pass started first; the result was dropped.
	OutcomeSuperseded Outcome = "superseded"
)

// Observer receives engine events. Implementations must be safe for
// concurrent use and must not call back into the cell that reports.
// The middleware package provides Prometheus and OpenTelemetry observers.
type Observer interface {
	// ObserveNotify is called after a cell dispatched a change.
	ObserveNotify(cell string, subscribers int)

	// ObservePass is called after a derivation pass returned.
	ObservePass(cell string, dependencies int, elapsed time.Duration)

	// ObserveSettle is called when an async pass settles.
	ObserveSettle(cell string, outcome Outcome, elapsed time.Duration)

	// ObserveFamily is called when a family gains or loses members.
	ObserveFamily(family string, members int)
}

type multiObserver []Observer

// MultiObserver fans events out to every non-nil observer.
func MultiObserver(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) ObserveNotify(cell string, subscribers int) {
	for _, o := range m {
		o.ObserveNotify(cell, subscribers)
	}
}

func (m multiObserver) ObservePass(cell string, dependencies int, elapsed time.Duration) {
	for _, o := range m {
		o.ObservePass(cell, dependencies, elapsed)
	}
}

func (m multiObserver) ObserveSettle(cell string, outcome Outcome, elapsed time.Duration) {
	for _, o := range m {
		o.ObserveSettle(cell, outcome, elapsed)
	}
}

func (m multiObserver) ObserveFamily(family string, members int) {
	for _, o := range m {
		o.ObserveFamily(family, members)
	}
}
