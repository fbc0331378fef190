package stretch

import (
	"fmt"
	"math"
)

// Stream adapts the grain protocol to block-oriented streaming for forward
// playback. The caller pushes input audio in arbitrary fixed-size blocks and
// requests a possibly fractional number of output samples per call; Stream
// drives the SpecifyGrain/AnalyseGrain/SynthesiseGrain triple internally and
// manages a sliding input window and a partially consumed output grain.
//
// Process never allocates, so it is safe inside a real-time audio callback.
// A Stream is single-threaded, like the Stretcher it wraps.
type Stream struct {
	stretcher    Stretcher
	channelCount int

	input inputWindow

	request Request

	outputChunk         OutputChunk
	outputChunkConsumed int

	// samplesNeeded carries the fractional remainder of requested output
	// samples between Process calls, so fractional rates are honoured
	// exactly over time without drift.
	samplesNeeded float64
}

// NewStream creates a streaming adapter around stretcher.
// maxInputSampleCount is the largest input block that will ever be passed to
// a single Process call; all buffers are sized here so that Process never
// grows them.
func NewStream(stretcher Stretcher, maxInputSampleCount, channelCount int) *Stream {
	s := &Stream{
		stretcher:    stretcher,
		channelCount: channelCount,
		input: newInputWindow(
			stretcher.MaxInputFrameCount()+maxInputSampleCount,
			stretcher.MaxInputFrameCount(),
			channelCount),
	}
	s.request.Position = math.NaN()
	s.outputChunk.Requests[0].Position = math.NaN()
	s.outputChunk.Requests[1].Position = math.NaN()
	return s
}

// Process processes a segment of audio and returns the number of output
// samples rendered to output. That number is set by dithering to either
// floor(outputSampleCount) or ceil(outputSampleCount); the fractional
// remainder carries into the next call.
//
// input holds one slice of inputSampleCount samples per channel; pass nil
// for mute input. output must hold one slice of at least
// ceil(outputSampleCount) samples per channel. outputSampleCount, together
// with the stretcher's sample rates, controls playback speed. pitch is the
// grain pitch shift (see Request.Pitch).
func (s *Stream) Process(input, output [][]float64, inputSampleCount int, outputSampleCount float64, pitch float64) int {
	s.input.append(input, inputSampleCount)

	s.request.Speed = float64(inputSampleCount) / outputSampleCount
	s.request.Pitch = pitch

	s.samplesNeeded += outputSampleCount

	sampleCounter := 0
	for processGrain := false; sampleCounter != int(math.Round(s.samplesNeeded)); processGrain = true {
		if processGrain {
			if !math.IsNaN(s.request.Position) {
				s.input.analyseGrain(s.stretcher)
				s.stretcher.SynthesiseGrain(&s.outputChunk)
				s.outputChunkConsumed = 0
			}

			// Walk backwards from the window's end by half the worst-case
			// grain width, interpolated against how many output samples are
			// still owed this call, so grain positions land evenly across
			// the freshly appended block. Requests below half a sample round
			// to a zero denominator; the owed samples then come from the
			// carried remainder, so the grain sits at the window's end.
			interp := 0.0
			if denominator := math.Round(outputSampleCount); denominator > 0 {
				numerator := denominator - float64(sampleCounter)
				interp = float64(inputSampleCount) * numerator / denominator
			}
			position := float64(s.input.endOffset()) -
				float64(s.stretcher.MaxInputFrameCount()/2) -
				interp

			s.request.Reset = !(position > s.request.Position)
			s.request.Position = position
			s.input.chunk = s.stretcher.SpecifyGrain(s.request, 0)
		}

		if !math.IsNaN(s.outputChunk.Requests[0].Position) {
			need := int(math.Round(s.samplesNeeded)) - sampleCounter
			available := s.outputChunk.FrameCount - s.outputChunkConsumed
			n := min(need, available)

			for c := 0; c < s.channelCount; c++ {
				src := s.outputChunk.Data[s.outputChunkConsumed+c*s.outputChunk.ChannelStride:]
				copy(output[c][sampleCounter:sampleCounter+n], src[:n])
			}

			sampleCounter += n
			s.outputChunkConsumed += n
		}
	}

	s.samplesNeeded -= float64(sampleCounter)
	return sampleCounter
}

// InputPosition returns the current position in the input stream: the sum of
// inputSampleCount over all Process calls.
func (s *Stream) InputPosition() int {
	return s.input.endOffset()
}

// OutputPosition returns the current position of the output stream in terms
// of input samples, interpolated between the bounding request snapshots of
// the current output grain. It is NaN before the first audible grain and
// while flushing.
func (s *Stream) OutputPosition() float64 {
	chunk := &s.outputChunk
	if chunk.FrameCount == 0 {
		return math.NaN()
	}
	span := chunk.Requests[1].Position - chunk.Requests[0].Position
	return chunk.Requests[0].Position + float64(s.outputChunkConsumed)*span/float64(chunk.FrameCount)
}

// Latency reports the delay due to the stretcher, in input samples.
func (s *Stream) Latency() float64 {
	return float64(s.InputPosition()) - s.OutputPosition()
}

// Occupancy reports the sliding window's fill level as a fraction of its
// capacity, in [0, 1].
func (s *Stream) Occupancy() float64 {
	return float64(s.input.end-s.input.begin) / float64(s.input.capacity)
}

// OffsetSaturation reports how close the window's absolute frame offsets are
// to overflowing the integer range, as a fraction in [0, 1). Offsets grow
// without bound, so very long-running streams can watch this instead of
// relying on silent wraparound. It is distinct from Occupancy: a window can
// be nearly empty while its offsets are close to saturation.
func (s *Stream) OffsetSaturation() float64 {
	m := s.input.end
	if -s.input.begin > m {
		m = -s.input.begin
	}
	if m < 0 {
		m = 0
	}
	return float64(m) / float64(math.MaxInt)
}

// inputWindow is a sliding window over the most recent input samples.
// begin and end are absolute, monotonically increasing frame offsets; the
// backing storage is a fixed-capacity per-channel ring addressed by
// offset mod capacity. Grain analysis linearizes the chunk region into a
// pre-sized scratch buffer so the stretcher always sees contiguous frames.
type inputWindow struct {
	capacity     int
	channelCount int
	ring         []float64 // channelCount * capacity
	begin, end   int

	scratch       []float64 // channelCount * scratchStride
	scratchStride int

	// chunk is the input span needed by the pending grain, set by the
	// driver after each SpecifyGrain.
	chunk InputChunk
}

func newInputWindow(capacity, scratchStride, channelCount int) inputWindow {
	return inputWindow{
		capacity:      capacity,
		channelCount:  channelCount,
		ring:          make([]float64, capacity*channelCount),
		scratch:       make([]float64, scratchStride*channelCount),
		scratchStride: scratchStride,
	}
}

// append adds frameCount new samples after the retained tail, discarding
// whatever the pending grain no longer needs. A nil input block appends
// silence. Incoming sample i lands at absolute offset end+i.
func (w *inputWindow) append(input [][]float64, frameCount int) {
	discard := 0
	if w.chunk.Begin < w.end {
		// The next grain still overlaps buffered data: drop only the frames
		// before its chunk.
		if w.begin < w.chunk.Begin {
			w.begin = w.chunk.Begin
		}
	} else {
		// Gap: nothing currently buffered is needed any more. Discard the
		// part of the incoming block that the grain has already skipped and
		// resynchronize.
		discard = w.chunk.Begin - w.begin
		if discard > frameCount {
			discard = frameCount
		}
		w.begin = w.end
	}

	for c := 0; c < w.channelCount; c++ {
		ring := w.ring[c*w.capacity : (c+1)*w.capacity]
		for i := discard; i < frameCount; i++ {
			sample := 0.0
			if input != nil {
				sample = input[c][i]
			}
			ring[(w.end+i)%w.capacity] = sample
		}
	}

	w.begin += discard
	w.end += frameCount

	if w.end < w.begin || w.end-w.begin > w.capacity {
		panic(fmt.Sprintf("stretch: input window bookkeeping violated: begin=%d end=%d capacity=%d",
			w.begin, w.end, w.capacity))
	}
}

// endOffset returns the absolute end of the window: the total number of
// frames ever appended.
func (w *inputWindow) endOffset() int {
	return w.end
}

// analyseGrain hands the pending grain's audio to the stretcher. Frames of
// the chunk that fall outside the buffered range [begin, end) are reported
// as muted edges rather than read, so the stretcher never sees stale or
// missing data.
func (w *inputWindow) analyseGrain(stretcher Stretcher) {
	span := w.chunk.FrameCount()

	lo, hi := w.chunk.Begin, w.chunk.End
	if lo < w.begin {
		lo = w.begin
	}
	if hi > w.end {
		hi = w.end
	}
	if hi <= lo {
		stretcher.AnalyseGrain(nil, 0, span, 0)
		return
	}

	for c := 0; c < w.channelCount; c++ {
		ring := w.ring[c*w.capacity : (c+1)*w.capacity]
		dst := w.scratch[c*w.scratchStride:]

		// The region [lo, hi) occupies at most two physical segments.
		first := lo % w.capacity
		n := hi - lo
		if first+n <= w.capacity {
			copy(dst[:n], ring[first:first+n])
		} else {
			head := w.capacity - first
			copy(dst[:head], ring[first:])
			copy(dst[head:n], ring[:n-head])
		}
	}

	stretcher.AnalyseGrain(w.scratch, w.scratchStride, lo-w.chunk.Begin, w.chunk.End-hi)
}
