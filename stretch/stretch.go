package stretch

// SampleRates holds the input and output sample rates of a stretcher
// instance, in Hz. Both are fixed for the lifetime of the instance and
// define the baseline resampling ratio.
type SampleRates struct {
	Input  int
	Output int
}

// Request describes one grain of audio processing. The driver owns a single
// Request and mutates it between grains; protocol calls receive it by value.
type Request struct {
	// Position is the frame offset within the input audio of the centre of
	// the current grain. NaN signifies an invalid grain that produces no
	// audio output and may be used for flushing.
	Position float64

	// Speed is the output audio speed as a multiple of the input speed.
	// The stretcher consults it only when speed cannot be determined by
	// subtracting the previous grain's Position from the current one.
	Speed float64

	// Pitch is a frequency multiplier; 1 means no pitch adjustment.
	Pitch float64

	// Reset makes the stretcher forget all previous grains and restart on
	// this grain.
	Reset bool

	// ResampleMode selects how intra-grain resampling is performed.
	ResampleMode ResampleMode
}

// InputChunk identifies the span of input audio that the stretcher requires
// for the current grain, as frame offsets relative to the start of the input
// track. Chunks of consecutive grains usually overlap and are centred on the
// grain's Request.Position.
type InputChunk struct {
	Begin int
	End   int
}

// FrameCount returns the number of frames spanned by the chunk.
func (c InputChunk) FrameCount() int {
	return c.End - c.Begin
}

// OutputChunk describes one slab of output audio. Output chunks do not
// overlap and can be appended for seamless playback.
//
// Data is planar and not interleaved: channel n starts at
// Data[n*ChannelStride]. Requests holds snapshots of the grain requests
// bounding the slab: Requests[0] corresponds to the first frame of Data and
// Requests[1] to the frame after the last frame. Together they define the
// input-timeline interval the slab maps to, so consumers can derive
// sub-chunk timing by linear interpolation.
//
// A chunk is transient: it is valid only until the next SynthesiseGrain call
// on the same stretcher.
type OutputChunk struct {
	Data          []float64
	FrameCount    int
	ChannelStride int
	Requests      [2]Request
}
