// Package debugger provides per-trigger diagnostic counters and dump
// formats used to observe why a stream did or didn't fire.
package debugger

import (
	"log/slog"
	"sync"
)

// Debugger records per-trigger counters as the engine evaluates events
// and criteria against streams.
type Debugger interface {
	TraitMatch()
	TraitMismatch()
	NewStream()
	CriteriaMatch()
	CriteriaMismatch(reason string)
	TriggerError()
	CommitError()
	Reset()
	Snapshot() Counters
}

// Counters is an immutable snapshot of a Debugger's counts.
type Counters struct {
	TriggerName      string
	TraitMatch       int
	TraitMismatch    int
	NewStreams       int
	CriteriaMatch    int
	CriteriaMismatch int
	Reasons          map[string]int
	TriggerErrors    int
	CommitErrors     int
}

// noOp discards all counts. Used when a trigger definition opts out of
// debugging overhead.
type noOp struct{}

// NoOp returns a Debugger that does nothing.
func NoOp() Debugger { return noOp{} }

func (noOp) TraitMatch()             {}
func (noOp) TraitMismatch()          {}
func (noOp) NewStream()              {}
func (noOp) CriteriaMatch()          {}
func (noOp) CriteriaMismatch(string) {}
func (noOp) TriggerError()           {}
func (noOp) CommitError()            {}
func (noOp) Reset()                  {}
func (noOp) Snapshot() Counters      { return Counters{} }

// Counting is the default Debugger implementation: thread-safe in-memory
// counters, one instance per trigger definition.
type Counting struct {
	triggerName string

	mu               sync.Mutex
	traitMatch       int
	traitMismatch    int
	newStreams       int
	criteriaMatch    int
	criteriaMismatch int
	reasons          map[string]int
	triggerErrors    int
	commitErrors     int
}

// NewCounting creates a counting Debugger for the named trigger.
func NewCounting(triggerName string) *Counting {
	return &Counting{triggerName: triggerName, reasons: make(map[string]int)}
}

func (d *Counting) TraitMatch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.traitMatch++
}

func (d *Counting) TraitMismatch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.traitMismatch++
}

func (d *Counting) NewStream() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.newStreams++
}

func (d *Counting) CriteriaMatch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.criteriaMatch++
}

func (d *Counting) CriteriaMismatch(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.criteriaMismatch++
	d.reasons[reason]++
}

func (d *Counting) TriggerError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.triggerErrors++
}

func (d *Counting) CommitError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commitErrors++
}

// Reset zeroes every counter, keeping the reasons map allocated.
func (d *Counting) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.traitMatch = 0
	d.traitMismatch = 0
	d.newStreams = 0
	d.criteriaMatch = 0
	d.criteriaMismatch = 0
	d.triggerErrors = 0
	d.commitErrors = 0
	d.reasons = make(map[string]int)
}

// Snapshot copies the current counters out under lock.
func (d *Counting) Snapshot() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	reasons := make(map[string]int, len(d.reasons))
	for k, v := range d.reasons {
		reasons[k] = v
	}
	return Counters{
		TriggerName:      d.triggerName,
		TraitMatch:       d.traitMatch,
		TraitMismatch:    d.traitMismatch,
		NewStreams:       d.newStreams,
		CriteriaMatch:    d.criteriaMatch,
		CriteriaMismatch: d.criteriaMismatch,
		Reasons:          reasons,
		TriggerErrors:    d.triggerErrors,
		CommitErrors:     d.commitErrors,
	}
}

// DumpSimple logs a one-line summary of a trigger's counters.
func DumpSimple(log *slog.Logger, c Counters) {
	log.Info("trigger debug",
		"trigger", c.TriggerName,
		"trait_match", c.TraitMatch,
		"trait_mismatch", c.TraitMismatch,
		"new_streams", c.NewStreams,
		"criteria_match", c.CriteriaMatch,
		"criteria_mismatch", c.CriteriaMismatch,
		"trigger_errors", c.TriggerErrors,
		"commit_errors", c.CommitErrors)
}

// DumpDetailed logs the simple summary plus every mismatch reason and its
// count, for diagnosing why a stream keeps missing its criterion.
func DumpDetailed(log *slog.Logger, c Counters) {
	DumpSimple(log, c)
	for reason, n := range c.Reasons {
		log.Info("trigger debug reason", "trigger", c.TriggerName, "reason", reason, "count", n)
	}
}
