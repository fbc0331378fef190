// Package fpe provides a scoped guard for numeric diagnostics in
// non-production builds of the stretcher. Go exposes no floating-point trap
// mask, so the guard is expressed as an explicit process-wide checking flag:
// inside an active scope, Check panics on NaN or Inf values, which indicate
// a numerical invariant failure in timing or resampling arithmetic and must
// never be silently clamped.
//
// The checking state is process-wide. A Scope restores the exact prior
// configuration on Exit, including under early-return paths when paired
// with defer, so nested scopes compose correctly.
package fpe

import (
	"fmt"
	"math"
	"sync/atomic"
)

var enabled atomic.Bool

// Scope captures the checking configuration in force when Enter was called.
type Scope struct {
	prev bool
}

// Enter enables numeric checking and returns a Scope whose Exit restores
// the prior configuration.
func Enter() Scope {
	return Scope{prev: enabled.Swap(true)}
}

// Exit restores the configuration captured by Enter.
func (s Scope) Exit() {
	enabled.Store(s.prev)
}

// Enabled reports whether checking is currently active.
func Enabled() bool {
	return enabled.Load()
}

// Check panics if checking is active and any value is NaN or Inf. Values
// that are legitimately non-finite (sentinel positions) must not be passed.
func Check(values []float64) {
	if !enabled.Load() {
		return
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			panic(fmt.Sprintf("fpe: non-finite value %v at index %d", v, i))
		}
	}
}

// CheckValue is Check for a single scalar.
func CheckValue(v float64) {
	if !enabled.Load() {
		return
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		panic(fmt.Sprintf("fpe: non-finite value %v", v))
	}
}
