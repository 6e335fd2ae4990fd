// Package progress adapts the teacher's tracker/manager pattern to the
// verifier's much narrower contract: a single monotone fraction in [0, 1],
// reported during hashing, with no other state to carry across calls.
package progress

// Sink receives monotone progress updates in [0.0, 1.0]. Implementations
// must tolerate being called from a single goroutine only — the verifier
// never calls Set concurrently.
type Sink interface {
	Set(fraction float64)
}

// SinkFunc adapts a plain function to a Sink, the same way the teacher's
// progress.ManagerFunc adapts a function to a Manager.
type SinkFunc func(fraction float64)

// Set calls f.
func (f SinkFunc) Set(fraction float64) { f(fraction) }

// Discard is a Sink that ignores every update; used when a caller has no
// interest in progress.
var Discard Sink = SinkFunc(func(float64) {})

// Threshold decorates a Sink so that only the first update and fractions that
// have advanced by at least delta since the last report (or fraction >= 1.0)
// are forwarded. This
// is the "reported whenever progress has advanced by at least 0.02" rule
// from the whole-file and manifest verifiers.
type Threshold struct {
	sink  Sink
	delta float64
	last  float64
	began bool
}

// NewThreshold wraps sink so that Set forwards the first update, and after
// that only once fraction has advanced by at least delta since the previous
// forwarded value, or once fraction reaches 1.0.
func NewThreshold(sink Sink, delta float64) *Threshold {
	if sink == nil {
		sink = Discard
	}
	return &Threshold{sink: sink, delta: delta}
}

// Set forwards fraction to the underlying sink if it is the first update,
// if it has advanced enough, or if this is the final update.
func (t *Threshold) Set(fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if !t.began || fraction-t.last >= t.delta || fraction >= 1.0 {
		t.sink.Set(fraction)
		t.last = fraction
		t.began = true
	}
}

// Recorder is a test Sink that records every forwarded fraction, so tests
// can assert the monotone-progress invariant end to end.
type Recorder struct {
	Values []float64
}

// Set appends fraction to Values.
func (r *Recorder) Set(fraction float64) {
	r.Values = append(r.Values, fraction)
}

// Monotonic reports whether the recorded sequence is non-decreasing and
// stays within [0, 1].
func (r *Recorder) Monotonic() bool {
	prev := -1.0
	for _, v := range r.Values {
		if v < 0 || v > 1 {
			return false
		}
		if v < prev {
			return false
		}
		prev = v
	}
	return true
}
