// Package spin provides the spinning shared/unique counter that guards component columns and
// query cache entries, and the bounded backoff used by optimistic retry loops.
//
// Building with the `ecsdb_single` tag compiles every lock in this package to a no-op. Callers
// then provide external serialization.
package spin

import "runtime"

// Yield is the default cooperative yield primitive used while spinning.
func Yield() {
	runtime.Gosched()
}

// orYield returns y, or the default yield when y is nil.
func orYield(y func()) func() {
	if y == nil {
		return Yield
	}
	return y
}

// Backoff spins for an exponentially growing number of yields on every call to Wait, capped at
// 1<<MaxShift yields.
type Backoff struct {
	MaxShift uint   // Upper bound on the exponent
	Yield    func() // Yield primitive, runtime.Gosched when nil
	attempts uint
}

// Wait yields 1<<min(attempts, MaxShift) times and records one more attempt.
func (b *Backoff) Wait() {
	shift := min(b.attempts, b.MaxShift)
	y := orYield(b.Yield)
	for range 1 << shift {
		y()
	}
	b.attempts++
}

// Attempts returns how many times Wait has been called since the last reset.
func (b *Backoff) Attempts() uint {
	return b.attempts
}

// Reset clears the attempt count.
func (b *Backoff) Reset() {
	b.attempts = 0
}
