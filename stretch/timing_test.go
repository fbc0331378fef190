package stretch

import (
	"math"
	"testing"
)

func TestNewTimingSynthesisHop(t *testing.T) {
	tests := []struct {
		name    string
		rates   SampleRates
		adjust  int
		wantLog int
	}{
		{name: "44.1k", rates: SampleRates{44100, 44100}, adjust: 0, wantLog: 9},
		{name: "48k", rates: SampleRates{48000, 48000}, adjust: 0, wantLog: 9},
		{name: "96k", rates: SampleRates{96000, 96000}, adjust: 0, wantLog: 10},
		{name: "192k", rates: SampleRates{192000, 192000}, adjust: 0, wantLog: 11},
		{name: "8k", rates: SampleRates{8000, 8000}, adjust: 0, wantLog: 6},
		{name: "44.1k finer", rates: SampleRates{44100, 44100}, adjust: -1, wantLog: 8},
		{name: "44.1k coarser", rates: SampleRates{44100, 44100}, adjust: 1, wantLog: 10},
		{name: "mixed rates use input", rates: SampleRates{44100, 96000}, adjust: 0, wantLog: 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timing := NewTiming(tt.rates, tt.adjust)
			if got := timing.Log2SynthesisHop(); got != tt.wantLog {
				t.Fatalf("Log2SynthesisHop() = %d, want %d", got, tt.wantLog)
			}
			if got, want := timing.SynthesisHop(), 1<<tt.wantLog; got != want {
				t.Fatalf("SynthesisHop() = %d, want %d", got, want)
			}
		})
	}
}

func TestTimingFrameCountBounds(t *testing.T) {
	rates := []int{8000, 22050, 44100, 48000, 96000, 192000}
	for _, in := range rates {
		for _, out := range rates {
			timing := NewTiming(SampleRates{Input: in, Output: out}, 0)
			if got := timing.MaxInputFrameCount(); got <= 0 {
				t.Fatalf("MaxInputFrameCount() = %d for %d->%d, want > 0", got, in, out)
			}
			if got := timing.MaxOutputFrameCount(); got <= 0 {
				t.Fatalf("MaxOutputFrameCount() = %d for %d->%d, want > 0", got, in, out)
			}
		}
	}
}

func TestTimingBoundsMonotonic(t *testing.T) {
	// Holding one rate fixed, the input bound grows with the input rate and
	// the output bound grows with the output rate.
	prevIn, prevOut := 0, 0
	for _, rate := range []int{8000, 16000, 44100, 96000, 192000} {
		inBound := NewTiming(SampleRates{Input: rate, Output: 48000}, 0).MaxInputFrameCount()
		outBound := NewTiming(SampleRates{Input: 48000, Output: rate}, 0).MaxOutputFrameCount()
		if inBound < prevIn {
			t.Fatalf("MaxInputFrameCount() decreased to %d at input rate %d", inBound, rate)
		}
		if outBound < prevOut {
			t.Fatalf("MaxOutputFrameCount() decreased to %d at output rate %d", outBound, rate)
		}
		prevIn, prevOut = inBound, outBound
	}
}

func TestTimingRateCoupling(t *testing.T) {
	// The exact bound formulas are part of the engine's sizing contract.
	timing := NewTiming(SampleRates{Input: 44100, Output: 88200}, 0)
	if got, want := timing.MaxInputFrameCount(), (44100<<(2+9+3))/88200+1; got != want {
		t.Fatalf("MaxInputFrameCount() = %d, want %d", got, want)
	}
	if got, want := timing.MaxOutputFrameCount(), (88200<<(2+9))/44100+1; got != want {
		t.Fatalf("MaxOutputFrameCount() = %d, want %d", got, want)
	}
}

func TestTimingNextArithmeticProgression(t *testing.T) {
	timing := NewTiming(SampleRates{Input: 48000, Output: 48000}, 0)
	request := Request{Position: 1000, Speed: 1.5, Pitch: 1.25}
	hop := timing.CalculateInputHop(request)

	prev := request.Position
	for i := 0; i < 10; i++ {
		timing.Next(&request)
		if diff := request.Position - prev; math.Abs(diff-hop) > 1e-9 {
			t.Fatalf("step %d: position advanced by %g, want %g", i, diff, hop)
		}
		if request.Reset {
			t.Fatalf("step %d: Next() left Reset set", i)
		}
		prev = request.Position
	}
}

func TestTimingPrerollThenNextRoundTrip(t *testing.T) {
	timing := NewTiming(SampleRates{Input: 44100, Output: 44100}, 0)
	request := Request{Position: 5000, Speed: 1, Pitch: 1}

	timing.Preroll(&request)
	if !request.Reset {
		t.Fatal("Preroll() did not set Reset")
	}
	if request.Position >= 5000 {
		t.Fatalf("Preroll() moved position forward to %g", request.Position)
	}

	timing.Next(&request)
	if math.Abs(request.Position-5000) > 1e-9 {
		t.Fatalf("Next() after Preroll() = %g, want 5000", request.Position)
	}
	if request.Reset {
		t.Fatal("Next() did not clear Reset")
	}
}

func TestTimingNextPropagatesNaN(t *testing.T) {
	timing := NewTiming(SampleRates{Input: 48000, Output: 48000}, 0)

	request := Request{Position: math.NaN(), Speed: 1, Pitch: 1}
	timing.Next(&request)
	if !math.IsNaN(request.Position) {
		t.Fatalf("Next() on NaN position = %g, want NaN", request.Position)
	}

	request = Request{Position: 100, Speed: math.NaN(), Pitch: 1, Reset: true}
	timing.Next(&request)
	if request.Position != 100 {
		t.Fatalf("Next() with NaN speed moved position to %g", request.Position)
	}
	if !request.Reset {
		t.Fatal("Next() with NaN speed cleared Reset")
	}
}

func TestTimingHalfRateOutputHalvesHop(t *testing.T) {
	unit := Request{Position: 0, Speed: 1, Pitch: 1}
	same := NewTiming(SampleRates{Input: 44100, Output: 44100}, 0).CalculateInputHop(unit)
	double := NewTiming(SampleRates{Input: 44100, Output: 88200}, 0).CalculateInputHop(unit)
	if math.Abs(same-2*double) > 1e-9 {
		t.Fatalf("hop at 44100->88200 = %g, want half of %g", double, same)
	}
}
