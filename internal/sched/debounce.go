package sched

import "time"

// Debouncer coalesces bursty triggers (Adj-RIB-In churn, LSDB changes)
// into a single downstream event per window, per spec §4.5/§4.10's
// "debounce of a few hundred milliseconds" requirement. Trigger may be
// called from any number of producer call sites; the Event is sent on
// ch at most once per window regardless of how many times Trigger ran
// inside it.
type Debouncer struct {
	window time.Duration
	ch     chan<- Event
	kind   string
	timer  *time.Timer
	armed  bool
}

// NewDebouncer creates a debouncer that emits kind onto ch no more than
// once every window.
func NewDebouncer(kind string, window time.Duration, ch chan<- Event) *Debouncer {
	return &Debouncer{kind: kind, window: window, ch: ch}
}

// Trigger schedules a firing window-from-now if one isn't already
// pending; additional triggers inside the same window are absorbed.
func (d *Debouncer) Trigger() {
	if d.armed {
		return
	}
	d.armed = true
	d.timer = time.AfterFunc(d.window, func() {
		d.armed = false
		d.ch <- Event{Kind: d.kind}
	})
}

// Stop cancels a pending firing, if any.
func (d *Debouncer) Stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.armed = false
}
