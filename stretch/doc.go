// Package stretch provides grain-based audio time-stretching and
// pitch-shifting with independent, continuously variable speed and pitch.
//
// The package defines the grain request/timing protocol shared by all engine
// editions: a [Request] describes one grain, [Timing] derives hop sizes and
// advances request positions, and the [Stretcher] interface is the
// per-grain contract (SpecifyGrain, AnalyseGrain, SynthesiseGrain) that an
// edition implements. Editions register themselves with [RegisterEdition]
// and are selected through [New].
//
// Callers that work with fixed-size sample blocks instead of grains should
// use [Stream], which drives the grain protocol internally and hides all
// grain bookkeeping.
//
// All processing calls are synchronous, allocation-free and non-blocking, so
// they are safe to call from a real-time audio callback. Instances are
// single-threaded; separate instances may run concurrently on separate
// goroutines without synchronization.
package stretch
