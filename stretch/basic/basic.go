// Package basic implements the reference phase-vocoder edition of the
// stretch engine.
//
// The edition registers itself under the name "basic"; importing this
// package (usually with a blank import) makes it available to stretch.New.
// Grains are analysed as 8x overlapped windowed frames, pitch and rate
// conversion happen through fractional-position reads of the input chunk,
// and synthesis is windowed overlap-add with phase accumulation across
// grains.
package basic

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"
	"github.com/sirupsen/logrus"

	"github.com/cwbudde/algo-stretch/internal/fpe"
	"github.com/cwbudde/algo-stretch/stretch"
)

func init() {
	stretch.RegisterEdition("basic", New)
}

const (
	// minPitch and maxPitch bound the pitch multiplier to +/-2 octaves.
	// Requests outside this range are clamped, not rejected.
	minPitch = 0.25
	maxPitch = 4.0

	// chunkMargin is the number of extra frames requested on either side
	// of a grain's read span so that 6-point interpolation never reaches
	// outside the chunk.
	chunkMargin = 4
)

// protocol call ordering, cycled by SpecifyGrain/AnalyseGrain/SynthesiseGrain.
type protocolPhase int

const (
	phaseSpecify protocolPhase = iota
	phaseAnalyse
	phaseSynthesise
)

func (p protocolPhase) String() string {
	switch p {
	case phaseSpecify:
		return "SpecifyGrain"
	case phaseAnalyse:
		return "AnalyseGrain"
	default:
		return "SynthesiseGrain"
	}
}

// grain holds the transient state of the grain currently moving through the
// protocol. The data slice is only valid for the duration of AnalyseGrain.
type grain struct {
	valid bool
	reset bool

	// position of the grain centre, relative to the chunk coordinate base.
	position float64

	// sigma is the input-frame distance between consecutive analysis
	// positions, coupling pitch and the sample-rate ratio.
	sigma float64

	mode  stretch.ResampleMode
	chunk stretch.InputChunk

	data          []float64
	channelStride int
	muteHead      int
	muteTail      int
}

// sample returns the input frame at chunk-local index idx, or zero for
// indices that fall in the muted head or tail regions.
func (g *grain) sample(channel, idx int) float64 {
	i := idx - g.muteHead
	if i < 0 || i >= g.chunk.FrameCount()-g.muteHead-g.muteTail {
		return 0
	}
	return g.data[channel*g.channelStride+i]
}

// Stretcher is the basic-edition engine. Create instances through
// stretch.New or directly through New.
type Stretcher struct {
	timing       stretch.Timing
	channelCount int

	synthesisHop int // OLA advance per grain, in synthesis frames
	frameSize    int // analysis/synthesis frame length, 8x the hop
	half         int

	// hopOut is the fixed number of output frames emitted per grain. It
	// equals synthesisHop except for extreme downsampling configurations,
	// where it shrinks to honour MaxOutputFrameCount.
	hopOut   int
	hopScale float64 // hopOut / synthesisHop

	// sigmaMax caps the analysis read spacing so that a grain's chunk,
	// including interpolation margins, never exceeds MaxInputFrameCount.
	sigmaMax float64

	window  []float64
	window2 []float64
	omega   []float64

	voc vocoder
	out []float64 // hopOut * channelCount, planar

	phase       protocolPhase
	grain       grain
	requests    [2]stretch.Request
	phasesValid bool

	instrumented bool
	grainCounter uint64
	log          *logrus.Entry
}

var _ stretch.Stretcher = (*Stretcher)(nil)

// New creates a basic-edition stretcher from validated construction
// parameters. Most callers should use stretch.New instead, which performs
// the validation and edition lookup.
func New(cfg stretch.Config) (stretch.Stretcher, error) {
	timing := stretch.NewTiming(cfg.SampleRates, cfg.Log2SynthesisHopAdjust)

	hop := timing.SynthesisHop()
	frameSize := 8 * hop

	hopOut := hop
	if limit := timing.MaxOutputFrameCount() - 1; hopOut > limit {
		hopOut = limit
	}
	if hopOut < 1 {
		hopOut = 1
	}

	s := &Stretcher{
		timing:       timing,
		channelCount: cfg.ChannelCount,
		synthesisHop: hop,
		frameSize:    frameSize,
		half:         frameSize / 2,
		hopOut:       hopOut,
		hopScale:     float64(hopOut) / float64(hop),
		sigmaMax:     float64(timing.MaxInputFrameCount()-2*chunkMargin-2) / float64(frameSize),
		window:       periodicHann(frameSize),
		out:          make([]float64, hopOut*cfg.ChannelCount),
	}

	s.window2 = make([]float64, frameSize)
	vecmath.MulBlock(s.window2, s.window, s.window)

	s.omega = make([]float64, s.half+1)
	for k := range s.omega {
		s.omega[k] = 2 * math.Pi * float64(k) / float64(frameSize)
	}

	if err := s.voc.init(frameSize, cfg.ChannelCount); err != nil {
		return nil, fmt.Errorf("basic: %w", err)
	}

	s.requests[0].Position = math.NaN()
	s.requests[1].Position = math.NaN()
	return s, nil
}

// Edition reports the implementation name.
func (s *Stretcher) Edition() string { return "basic" }

// MaxInputFrameCount returns the guaranteed bound on InputChunk spans.
func (s *Stretcher) MaxInputFrameCount() int { return s.timing.MaxInputFrameCount() }

// MaxOutputFrameCount returns the guaranteed bound on OutputChunk sizes.
func (s *Stretcher) MaxOutputFrameCount() int { return s.timing.MaxOutputFrameCount() }

// Preroll moves the request one hop backwards and flags a reset.
func (s *Stretcher) Preroll(request *stretch.Request) { s.timing.Preroll(request) }

// Next advances the request to the subsequent grain position.
func (s *Stretcher) Next(request *stretch.Request) { s.timing.Next(request) }

// SpecifyGrain starts a grain and returns the input span it requires.
func (s *Stretcher) SpecifyGrain(request stretch.Request, bufferStartPosition float64) stretch.InputChunk {
	s.checkPhase(phaseSpecify)
	s.phase = phaseAnalyse

	s.requests[0] = s.requests[1]
	s.requests[1] = request

	g := &s.grain
	g.valid = !math.IsNaN(request.Position)
	g.reset = request.Reset
	g.mode = request.ResampleMode
	g.data = nil

	if !g.valid {
		g.chunk = stretch.InputChunk{}
		return g.chunk
	}

	pitch := request.Pitch
	if !(pitch > minPitch) {
		pitch = minPitch
	}
	if pitch > maxPitch {
		pitch = maxPitch
	}

	rates := s.timing.SampleRates()
	g.sigma = pitch * s.hopScale * float64(rates.Input) / float64(rates.Output)
	if g.sigma > s.sigmaMax {
		g.sigma = s.sigmaMax
	}

	g.position = request.Position - bufferStartPosition
	reach := float64(s.half) * g.sigma
	g.chunk = stretch.InputChunk{
		Begin: int(math.Floor(g.position-reach)) - chunkMargin,
		End:   int(math.Ceil(g.position+reach)) + chunkMargin,
	}

	if s.instrumented {
		s.log.WithFields(logrus.Fields{
			"grain":    s.grainCounter,
			"position": request.Position,
			"pitch":    request.Pitch,
			"reset":    request.Reset,
			"begin":    g.chunk.Begin,
			"end":      g.chunk.End,
		}).Debug("grain specified")
	}
	s.grainCounter++

	return g.chunk
}

// AnalyseGrain reads the grain's input audio and transforms each channel
// into the frequency domain. See stretch.Stretcher for the data layout.
func (s *Stretcher) AnalyseGrain(data []float64, channelStride, muteHead, muteTail int) {
	s.checkPhase(phaseAnalyse)
	s.phase = phaseSynthesise

	g := &s.grain
	if !g.valid {
		return
	}

	if s.instrumented {
		guard := fpe.Enter()
		defer guard.Exit()

		span := g.chunk.FrameCount()
		if backed := span - muteHead - muteTail; backed > 0 && channelStride < backed {
			panic(fmt.Sprintf("basic: analysis buffer stride %d smaller than chunk span %d", channelStride, backed))
		}
	}

	if data == nil {
		// No backing samples at all: the whole chunk is silence.
		muteHead = g.chunk.FrameCount()
		muteTail = 0
	}
	g.data = data
	g.channelStride = channelStride
	g.muteHead = muteHead
	g.muteTail = muteTail

	centre := g.position - float64(g.chunk.Begin)
	for c := 0; c < s.channelCount; c++ {
		ch := &s.voc.channels[c]
		for i := 0; i < s.frameSize; i++ {
			p := centre + (float64(i-s.half)+0.5)*g.sigma
			ch.timeFrame[i] = complex(interpolate(g, c, p)*s.window[i], 0)
		}
		if err := s.voc.plan.Forward(ch.spectrum, ch.timeFrame); err != nil {
			g.valid = false
			return
		}
		for k := 0; k <= s.half; k++ {
			re := real(ch.spectrum[k])
			im := imag(ch.spectrum[k])
			ch.mags[k] = math.Hypot(re, im)
			ch.phases[k] = math.Atan2(im, re)
		}
	}

	g.data = nil
}

// SynthesiseGrain completes the grain, accumulating it into the overlap-add
// state and emitting one slab of output frames.
func (s *Stretcher) SynthesiseGrain(chunk *stretch.OutputChunk) {
	s.checkPhase(phaseSynthesise)
	s.phase = phaseSpecify

	g := &s.grain
	if g.valid {
		s.accumulateGrain()
	} else {
		s.phasesValid = false
	}

	s.voc.emit(s.out, s.hopOut, s.synthesisHop)

	chunk.Data = s.out
	chunk.FrameCount = s.hopOut
	chunk.ChannelStride = s.hopOut
	chunk.Requests[0] = s.requests[0]
	chunk.Requests[1] = s.requests[1]

	if s.instrumented {
		fpe.Check(s.out)
	}
}

// accumulateGrain runs the phase-vocoder update for a valid grain and adds
// its synthesised frame into the overlap-add accumulators.
func (s *Stretcher) accumulateGrain() {
	g := &s.grain

	// Negative hops occur during reverse playback and are fine; only a
	// zero or non-finite hop forces a phase reset.
	analysisHop := (s.requests[1].Position - s.requests[0].Position) / g.sigma
	reset := g.reset || !s.phasesValid || !(math.Abs(analysisHop) > 0) || math.IsInf(analysisHop, 0)

	if reset {
		s.voc.reset()
	}

	for c := 0; c < s.channelCount; c++ {
		ch := &s.voc.channels[c]
		ch.advancePhases(s.omega, analysisHop, float64(s.synthesisHop), reset)
		if err := ch.synthesise(s.voc.plan, s.half); err != nil {
			return
		}
		for i := 0; i < s.frameSize; i++ {
			ch.ola[i] += real(ch.timeFrame[i]) * s.window[i]
		}
		copy(ch.prevPhase, ch.phases)
	}

	s.voc.accumulateNorm(s.window2)
	s.phasesValid = true
}

// IsFlushed reports whether both pipelined grain requests carry the NaN
// flush sentinel.
func (s *Stretcher) IsFlushed() bool {
	return math.IsNaN(s.requests[0].Position) && math.IsNaN(s.requests[1].Position)
}

// EnableInstrumentation toggles per-grain logging and numeric checks.
func (s *Stretcher) EnableInstrumentation(enable bool) {
	s.instrumented = enable
	if enable && s.log == nil {
		s.log = logrus.WithFields(logrus.Fields{
			"component": "stretch",
			"edition":   "basic",
		})
	}
}

// checkPhase enforces the SpecifyGrain/AnalyseGrain/SynthesiseGrain call
// order when instrumentation is enabled. Release builds tolerate the
// violation and resynchronise on the current call.
func (s *Stretcher) checkPhase(want protocolPhase) {
	if s.phase == want {
		return
	}
	if s.instrumented {
		panic(fmt.Sprintf("basic: %v called while %v was expected", want, s.phase))
	}
	s.phase = want
}

// periodicHann returns a periodic Hann window of the given length. The
// periodic variant sums to a constant under overlap-add at any hop that
// divides the length.
func periodicHann(length int) []float64 {
	w := make([]float64, length)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(length))
	}
	return w
}
