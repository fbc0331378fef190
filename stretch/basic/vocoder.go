package basic

import (
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"
)

// normCap bounds the overlap-add gain during warm-up. Steady-state window
// accumulation for the 8x overlapped Hann window sits near 3, so the cap
// only binds in the first grains after a reset, where it fades the output
// in instead of amplifying partially covered frames.
const normCap = 1.0

// vocoder holds the per-instance phase-vocoder state shared by all grains:
// one FFT plan, per-channel spectral and overlap-add buffers, and the
// window normalisation accumulator common to all channels.
type vocoder struct {
	frameSize int
	plan      *algofft.Plan[complex128]

	channels []channelState
	norm     []float64
}

type channelState struct {
	spectrum  []complex128
	timeFrame []complex128

	mags      []float64
	phases    []float64
	prevPhase []float64
	sumPhase  []float64

	ola []float64
}

func (v *vocoder) init(frameSize, channelCount int) error {
	plan, err := algofft.NewPlan64(frameSize)
	if err != nil {
		return err
	}

	v.frameSize = frameSize
	v.plan = plan
	v.norm = make([]float64, frameSize)

	half := frameSize / 2
	v.channels = make([]channelState, channelCount)
	for c := range v.channels {
		ch := &v.channels[c]
		ch.spectrum = make([]complex128, frameSize)
		ch.timeFrame = make([]complex128, frameSize)
		ch.mags = make([]float64, half+1)
		ch.phases = make([]float64, half+1)
		ch.prevPhase = make([]float64, half+1)
		ch.sumPhase = make([]float64, half+1)
		ch.ola = make([]float64, frameSize)
	}
	return nil
}

// reset clears the overlap-add and phase-tracking state so the next grain
// starts from silence, forgetting all previous grains.
func (v *vocoder) reset() {
	for i := range v.norm {
		v.norm[i] = 0
	}
	for c := range v.channels {
		ch := &v.channels[c]
		for i := range ch.ola {
			ch.ola[i] = 0
		}
		for k := range ch.sumPhase {
			ch.sumPhase[k] = 0
		}
	}
}

// accumulateNorm adds one window's squared coefficients into the shared
// normalisation accumulator.
func (v *vocoder) accumulateNorm(window2 []float64) {
	vecmath.AddBlockInPlace(v.norm, window2)
}

// advancePhases updates the accumulated synthesis phases from the analysis
// phases of the current grain. analysisHop is the grain-to-grain advance in
// synthesis-frame units; on reset the synthesis phases are re-seeded from
// the analysis phases so the first synthesised frame is a clean copy.
func (ch *channelState) advancePhases(omega []float64, analysisHop, synthesisHop float64, reset bool) {
	if reset {
		copy(ch.sumPhase, ch.phases)
		return
	}
	for k := range ch.phases {
		delta := ch.phases[k] - ch.prevPhase[k] - omega[k]*analysisHop
		delta = wrapPhase(delta)
		instFreq := omega[k] + delta/analysisHop
		ch.sumPhase[k] += instFreq * synthesisHop
	}
}

// synthesise rebuilds a time-domain frame from the grain's magnitudes and
// the accumulated synthesis phases.
func (ch *channelState) synthesise(plan *algofft.Plan[complex128], half int) error {
	for k := 0; k <= half; k++ {
		sin, cos := math.Sincos(ch.sumPhase[k])
		ch.spectrum[k] = complex(ch.mags[k]*cos, ch.mags[k]*sin)
	}

	// Force DC and Nyquist real, then mirror for a real-valued inverse.
	ch.spectrum[0] = complex(real(ch.spectrum[0]), 0)
	ch.spectrum[half] = complex(real(ch.spectrum[half]), 0)
	n := len(ch.spectrum)
	for k := 1; k < half; k++ {
		v := ch.spectrum[k]
		ch.spectrum[n-k] = complex(real(v), -imag(v))
	}

	return plan.Inverse(ch.timeFrame, ch.spectrum)
}

// emit writes the next hopOut output frames for every channel into out
// (planar, hopOut channel stride), then advances the overlap-add state by
// synthesisHop frames. When hopOut is smaller than synthesisHop the
// accumulated audio is read at a fractional step with linear interpolation.
func (v *vocoder) emit(out []float64, hopOut, synthesisHop int) {
	for c := range v.channels {
		ch := &v.channels[c]
		dst := out[c*hopOut : (c+1)*hopOut]

		if hopOut == synthesisHop {
			for j := range dst {
				dst[j] = ch.ola[j] * normGain(v.norm[j])
			}
		} else {
			step := float64(synthesisHop) / float64(hopOut)
			for j := range dst {
				p := float64(j) * step
				i := int(p)
				t := p - float64(i)
				v0 := ch.ola[i] * normGain(v.norm[i])
				v1 := 0.0
				if i+1 < len(ch.ola) {
					v1 = ch.ola[i+1] * normGain(v.norm[i+1])
				}
				dst[j] = v0 + t*(v1-v0)
			}
		}

		copy(ch.ola, ch.ola[synthesisHop:])
		for i := v.frameSize - synthesisHop; i < v.frameSize; i++ {
			ch.ola[i] = 0
		}
	}

	copy(v.norm, v.norm[synthesisHop:])
	for i := v.frameSize - synthesisHop; i < v.frameSize; i++ {
		v.norm[i] = 0
	}
}

func normGain(norm float64) float64 {
	if norm < normCap {
		norm = normCap
	}
	return 1 / norm
}

// wrapPhase maps an angle into (-pi, pi].
func wrapPhase(phase float64) float64 {
	phase = math.Mod(phase, 2*math.Pi)
	if phase > math.Pi {
		phase -= 2 * math.Pi
	} else if phase <= -math.Pi {
		phase += 2 * math.Pi
	}
	return phase
}
