package rotation

// OutlierFactor bounds how far a delta may deviate from the previous one.
const OutlierFactor = 5

// Filter rejects contact bounce and outliers in the impulse stream. The first
// impulse after Reset only sets the reference timestamp; the first delta after
// it is checked against debounce alone.
type Filter struct {
	debounceMin uint64 // µs

	last      uint64
	prevDelta uint64
	started   bool
}

// NewFilter creates a filter rejecting deltas shorter than debounceMin µs.
func NewFilter(debounceMin uint64) *Filter {
	return &Filter{debounceMin: debounceMin}
}

// Reset forgets the reference impulse, e.g. after the flywheel stopped.
func (f *Filter) Reset() {
	f.last = 0
	f.prevDelta = 0
	f.started = false
}

// Observe feeds one impulse timestamp and returns the clean delta time when
// the impulse is accepted. Bounces (delta < debounceMin) are ignored entirely.
// Outliers move the reference timestamp but produce no delta.
func (f *Filter) Observe(timestamp uint64) (uint64, bool) {
	if !f.started {
		f.started = true
		f.last = timestamp
		return 0, false
	}
	if timestamp < f.last {
		return 0, false
	}

	delta := timestamp - f.last
	if delta < f.debounceMin {
		return 0, false
	}
	f.last = timestamp

	if f.prevDelta != 0 && absDiff(delta, f.prevDelta) > f.prevDelta*OutlierFactor {
		return 0, false
	}
	f.prevDelta = delta
	return delta, true
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
