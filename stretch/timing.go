package stretch

import (
	"math"
	"math/bits"
)

// maxPitchOctaves bounds the supported pitch-shift range to +/-2 octaves.
// The worst-case chunk bounds below bake this headroom into their shifts.
const maxPitchOctaves = 2

// Timing derives grain hop sizes from the sample-rate configuration and
// advances request positions. It is pure arithmetic with no per-grain state,
// so a Timing value can be shared freely.
type Timing struct {
	log2SynthesisHop int
	sampleRates      SampleRates
}

// NewTiming derives timing state from sample rates and a granularity
// adjustment. The nominal synthesis hop is tied to roughly 1/64 of the input
// sample rate (about 15 ms at common rates); log2SynthesisHopAdjust of -1
// or +1 halves or doubles grain duration. Values outside that range degrade
// quality but are not rejected.
func NewTiming(sampleRates SampleRates, log2SynthesisHopAdjust int) Timing {
	return Timing{
		log2SynthesisHop: ilog2(sampleRates.Input) - 6 + log2SynthesisHopAdjust,
		sampleRates:      sampleRates,
	}
}

// SampleRates returns the fixed sample-rate configuration.
func (t Timing) SampleRates() SampleRates {
	return t.sampleRates
}

// Log2SynthesisHop returns the base-2 log of the nominal hop size in output
// frames.
func (t Timing) Log2SynthesisHop() int {
	return t.log2SynthesisHop
}

// SynthesisHop returns the nominal hop size in output frames.
func (t Timing) SynthesisHop() int {
	return 1 << t.log2SynthesisHop
}

// MaxInputFrameCount returns an upper bound, in input frames, on the span of
// any InputChunk this configuration can produce. Callers use it to size
// fixed buffers ahead of time; no actual chunk ever exceeds it.
func (t Timing) MaxInputFrameCount() int {
	max := (int64(t.sampleRates.Input) << (maxPitchOctaves + t.log2SynthesisHop + 3)) / int64(t.sampleRates.Output)
	return int(max + 1)
}

// MaxOutputFrameCount returns the analogous upper bound on the frame count
// of any OutputChunk.
func (t Timing) MaxOutputFrameCount() int {
	max := (int64(t.sampleRates.Output) << (maxPitchOctaves + t.log2SynthesisHop)) / int64(t.sampleRates.Input)
	return int(max + 1)
}

// CalculateInputHop returns the distance, in input frames, between the
// positions of consecutive grains for this request. It couples the
// sample-rate ratio and playback speed into a single scalar step.
func (t Timing) CalculateInputHop(request Request) float64 {
	unitHop := float64(uint64(1)<<t.log2SynthesisHop) * ResampleRatio(t.sampleRates, request.Pitch, request.ResampleMode)
	return unitHop * request.Speed
}

// Preroll moves the request one hop backwards and flags a reset. Seeding the
// stretcher with a warm-up grain before the first audible grain prevents
// weak output and lost transients during the engine's internal ramp-up.
func (t Timing) Preroll(request *Request) {
	request.Position -= t.CalculateInputHop(*request)
	request.Reset = true
}

// Next prepares the request for the subsequent grain, advancing its position
// by one hop at the held speed and clearing the reset flag. A NaN speed or
// position leaves the request untouched so that flush sentinels propagate.
func (t Timing) Next(request *Request) {
	if !math.IsNaN(request.Speed) && !math.IsNaN(request.Position) {
		request.Position += t.CalculateInputHop(*request)
		request.Reset = false
	}
}

// ilog2 returns floor(log2(v)) for positive v.
func ilog2(v int) int {
	return bits.Len(uint(v)) - 1
}
