// Package backoff implements the wait policy applied between failed fetch
// attempts against the queue backend.
package backoff

import "time"

const (
	DefaultBase    = time.Second
	DefaultFactor  = 2
	DefaultCeiling = 60 * time.Second
)

// Policy computes exponential delays with saturating growth: once a delay
// exceeds the ceiling it is returned unchanged on every subsequent failure
// until a success resets it. The first value past the ceiling is kept as-is,
// not clamped down to the ceiling.
//
// A Policy is owned by a single goroutine and is not safe for concurrent use.
type Policy struct {
	base    time.Duration
	factor  int64
	ceiling time.Duration

	current time.Duration
}

// New builds a Policy starting at base and growing by factor up to the
// saturation point past ceiling. Non-positive arguments fall back to the
// package defaults.
func New(base time.Duration, factor int64, ceiling time.Duration) *Policy {
	if base <= 0 {
		base = DefaultBase
	}
	if factor <= 1 {
		factor = DefaultFactor
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Policy{base: base, factor: factor, ceiling: ceiling, current: base}
}

// OnFailure returns the delay to wait before the next attempt and advances
// the policy. The delay sequence is non-decreasing and saturates once it
// first exceeds the ceiling.
func (p *Policy) OnFailure() time.Duration {
	d := p.current
	if d <= p.ceiling {
		p.current = d * time.Duration(p.factor)
	}
	return d
}

// OnSuccess resets the delay to the base value. Any fetch cycle that returns
// without error counts as a success, including one that returned no messages.
func (p *Policy) OnSuccess() {
	p.current = p.base
}
