package observers

import "github.com/ovelia/duplex/pkg/metrics"

// MultiObserver fans one event out to several observers.
type MultiObserver struct {
	observers []metrics.Observer
}

func NewMultiObserver(obs ...metrics.Observer) *MultiObserver {
	out := make([]metrics.Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return &MultiObserver{observers: out}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, o := range m.observers {
		o.RecordEvent(ev)
	}
}
