package basic_test

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-stretch/internal/testutil"
	"github.com/cwbudde/algo-stretch/stretch"
	"github.com/cwbudde/algo-stretch/stretch/basic"
)

func newBasic(t *testing.T, rates stretch.SampleRates, channels int) stretch.Stretcher {
	t.Helper()
	s, err := stretch.New(rates, channels)
	if err != nil {
		t.Fatalf("stretch.New() error = %v", err)
	}
	return s
}

func TestBasicIsDefaultEdition(t *testing.T) {
	s := newBasic(t, stretch.SampleRates{Input: 44100, Output: 44100}, 1)
	if got := s.Edition(); got != "basic" {
		t.Fatalf("Edition() = %q, want %q", got, "basic")
	}

	direct, err := basic.New(stretch.Config{
		SampleRates:  stretch.SampleRates{Input: 44100, Output: 44100},
		ChannelCount: 1,
	})
	if err != nil {
		t.Fatalf("basic.New() error = %v", err)
	}
	if direct.Edition() != s.Edition() {
		t.Fatalf("basic.New() edition = %q, want %q", direct.Edition(), s.Edition())
	}
}

func TestSpecifyGrainChunkContainsPosition(t *testing.T) {
	s := newBasic(t, stretch.SampleRates{Input: 48000, Output: 48000}, 1)

	chunk := s.SpecifyGrain(stretch.Request{Position: 10000, Speed: 1, Pitch: 1, Reset: true}, 0)
	if chunk.Begin >= 10000 || chunk.End <= 10000 {
		t.Fatalf("chunk [%d, %d) does not contain position 10000", chunk.Begin, chunk.End)
	}

	centre := float64(chunk.Begin+chunk.End) / 2
	if math.Abs(centre-10000) > 8 {
		t.Fatalf("chunk centre = %g, want near 10000", centre)
	}
}

func TestSpecifyGrainHonoursBufferStart(t *testing.T) {
	s := newBasic(t, stretch.SampleRates{Input: 48000, Output: 48000}, 1)

	absolute := s.SpecifyGrain(stretch.Request{Position: 10000, Speed: 1, Pitch: 1, Reset: true}, 0)
	s.AnalyseGrain(nil, 0, absolute.FrameCount(), 0)
	s.SynthesiseGrain(&stretch.OutputChunk{})

	shifted := s.SpecifyGrain(stretch.Request{Position: 10000, Speed: 1, Pitch: 1, Reset: true}, 4000)
	if shifted.Begin != absolute.Begin-4000 || shifted.End != absolute.End-4000 {
		t.Fatalf("chunk with buffer start 4000 = [%d, %d), want [%d, %d)",
			shifted.Begin, shifted.End, absolute.Begin-4000, absolute.End-4000)
	}
}

func TestSpecifyGrainChunkWithinBounds(t *testing.T) {
	rates := []int{8000, 44100, 48000, 192000}
	pitches := []float64{0.25, 0.5, 1, 2, 4}

	for _, in := range rates {
		for _, out := range rates {
			s := newBasic(t, stretch.SampleRates{Input: in, Output: out}, 1)
			maxInput := s.MaxInputFrameCount()
			for _, pitch := range pitches {
				request := stretch.Request{Position: 1e6, Speed: 1, Pitch: pitch, Reset: true}
				chunk := s.SpecifyGrain(request, 0)
				if chunk.End < chunk.Begin {
					t.Fatalf("%d->%d pitch %g: inverted chunk [%d, %d)", in, out, pitch, chunk.Begin, chunk.End)
				}
				if span := chunk.FrameCount(); span > maxInput {
					t.Fatalf("%d->%d pitch %g: chunk span %d exceeds MaxInputFrameCount %d",
						in, out, pitch, span, maxInput)
				}
				s.AnalyseGrain(nil, 0, chunk.FrameCount(), 0)
				s.SynthesiseGrain(&stretch.OutputChunk{})
			}
		}
	}
}

func TestSynthesiseGrainOutputWithinBounds(t *testing.T) {
	rates := []int{8000, 44100, 192000}
	for _, in := range rates {
		for _, out := range rates {
			s := newBasic(t, stretch.SampleRates{Input: in, Output: out}, 2)

			inputChunk := s.SpecifyGrain(stretch.Request{Position: 0, Speed: 1, Pitch: 1, Reset: true}, 0)
			s.AnalyseGrain(nil, 0, inputChunk.FrameCount(), 0)

			var chunk stretch.OutputChunk
			s.SynthesiseGrain(&chunk)

			if chunk.FrameCount <= 0 || chunk.FrameCount > s.MaxOutputFrameCount() {
				t.Fatalf("%d->%d: FrameCount = %d, want in (0, %d]", in, out, chunk.FrameCount, s.MaxOutputFrameCount())
			}
			if chunk.ChannelStride != chunk.FrameCount {
				t.Fatalf("%d->%d: ChannelStride = %d, want %d", in, out, chunk.ChannelStride, chunk.FrameCount)
			}
			if len(chunk.Data) < 2*chunk.ChannelStride {
				t.Fatalf("%d->%d: Data holds %d samples, want at least %d", in, out, len(chunk.Data), 2*chunk.ChannelStride)
			}
		}
	}
}

func TestAnalyseGrainNilDataIsSilence(t *testing.T) {
	s := newBasic(t, stretch.SampleRates{Input: 44100, Output: 44100}, 1)

	// A nil buffer with zero mute counts claims backed samples that do not
	// exist; the grain must degrade to silence rather than read past it.
	s.SpecifyGrain(stretch.Request{Position: 5000, Speed: 1, Pitch: 1, Reset: true}, 0)
	s.AnalyseGrain(nil, 0, 0, 0)

	var chunk stretch.OutputChunk
	s.SynthesiseGrain(&chunk)
	testutil.RequireAllZero(t, chunk.Data[:chunk.FrameCount], 1e-12)
}

func TestFlushSentinel(t *testing.T) {
	s := newBasic(t, stretch.SampleRates{Input: 44100, Output: 44100}, 1)

	if s.IsFlushed() {
		// Fresh instances hold no real grains, so they report flushed.
		t.Log("fresh stretcher reports flushed")
	}

	request := stretch.Request{Position: 1000, Speed: 1, Pitch: 1, Reset: true}
	chunk := s.SpecifyGrain(request, 0)
	s.AnalyseGrain(nil, 0, chunk.FrameCount(), 0)
	s.SynthesiseGrain(&stretch.OutputChunk{})

	if s.IsFlushed() {
		t.Fatal("IsFlushed() = true with a real grain in the pipeline")
	}

	flush := stretch.Request{Position: math.NaN(), Speed: 1, Pitch: 1}
	for i := 0; i < 2; i++ {
		got := s.SpecifyGrain(flush, 0)
		if got.FrameCount() != 0 {
			t.Fatalf("flush grain %d: chunk span = %d, want 0", i, got.FrameCount())
		}
		s.AnalyseGrain(nil, 0, 0, 0)
		s.SynthesiseGrain(&stretch.OutputChunk{})
	}

	if !s.IsFlushed() {
		t.Fatal("IsFlushed() = false after two flush grains")
	}
}

// driveGrains runs the full protocol over a generated input buffer at the
// given speed and pitch, returning the concatenated output.
func driveGrains(t *testing.T, s stretch.Stretcher, input []float64, speed, pitch float64, grains int) []float64 {
	t.Helper()

	maxInput := s.MaxInputFrameCount()
	scratch := make([]float64, maxInput)

	request := stretch.Request{Position: 0, Speed: speed, Pitch: pitch}
	s.Preroll(&request)

	var output []float64
	var chunk stretch.OutputChunk
	for i := 0; i < grains; i++ {
		inputChunk := s.SpecifyGrain(request, 0)

		lo, hi := inputChunk.Begin, inputChunk.End
		if lo < 0 {
			lo = 0
		}
		if hi > len(input) {
			hi = len(input)
		}
		if hi <= lo {
			s.AnalyseGrain(nil, 0, inputChunk.FrameCount(), 0)
		} else {
			copy(scratch, input[lo:hi])
			s.AnalyseGrain(scratch, maxInput, lo-inputChunk.Begin, inputChunk.End-hi)
		}

		s.SynthesiseGrain(&chunk)
		if !math.IsNaN(chunk.Requests[0].Position) {
			output = append(output, chunk.Data[:chunk.FrameCount]...)
		}

		s.Next(&request)
	}
	return output
}

func TestGrainLoopReconstructsSine(t *testing.T) {
	const (
		rate = 44100
		freq = 441.0
	)
	s := newBasic(t, stretch.SampleRates{Input: rate, Output: rate}, 1)

	input := testutil.DeterministicSine(freq, rate, 0.5, 4*rate)
	output := driveGrains(t, s, input, 1, 1, 200)

	testutil.RequireFinite(t, output)
	if len(output) < rate {
		t.Fatalf("only %d output samples after 200 grains", len(output))
	}

	steady := output[len(output)/2 : len(output)/2+rate/2]
	if peak := testutil.PeakAbs(steady); peak < 0.25 || peak > 1.0 {
		t.Fatalf("steady-state peak = %g, want in [0.25, 1.0]", peak)
	}

	got := testutil.ZeroCrossings(steady)
	want := 2 * freq * float64(len(steady)) / rate
	if math.Abs(float64(got)-want) > 0.1*want {
		t.Fatalf("zero crossings = %d, want %g +/- 10%%", got, want)
	}
}

func TestGrainLoopPitchShift(t *testing.T) {
	const (
		rate = 44100
		freq = 300.0
	)
	s := newBasic(t, stretch.SampleRates{Input: rate, Output: rate}, 1)

	input := testutil.DeterministicSine(freq, rate, 0.5, 4*rate)
	output := driveGrains(t, s, input, 1, 2, 200)

	testutil.RequireFinite(t, output)

	steady := output[len(output)/2 : len(output)/2+rate/2]
	got := testutil.ZeroCrossings(steady)
	want := 2 * 2 * freq * float64(len(steady)) / rate
	if math.Abs(float64(got)-want) > 0.15*want {
		t.Fatalf("zero crossings = %d, want %g +/- 15%%", got, want)
	}
}

func TestInstrumentationRejectsOutOfOrderCalls(t *testing.T) {
	s := newBasic(t, stretch.SampleRates{Input: 44100, Output: 44100}, 1)
	s.EnableInstrumentation(true)

	defer func() {
		if recover() == nil {
			t.Fatal("out-of-order SynthesiseGrain did not panic with instrumentation enabled")
		}
	}()
	s.SynthesiseGrain(&stretch.OutputChunk{})
}
