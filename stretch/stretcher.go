package stretch

import (
	"errors"
	"fmt"
)

// Version is the release number of the library.
const Version = "0.1.0"

// Stretcher is the capability interface implemented by every engine edition.
//
// For each grain the caller issues the ordered triple SpecifyGrain,
// AnalyseGrain, SynthesiseGrain. Calling the triple out of order, or
// supplying a buffer smaller than the last InputChunk's span, is a contract
// violation: fatal when instrumentation is enabled, unchecked otherwise.
//
// All methods are synchronous and bounded-time. They never allocate, perform
// I/O or block, so they are safe to call from a real-time audio callback.
// A Stretcher is single-threaded; it must not be shared across goroutines.
type Stretcher interface {
	// Edition reports the implementation name, for example "basic".
	Edition() string

	// MaxInputFrameCount returns the largest number of frames that might be
	// requested by SpecifyGrain, guaranteed never to be exceeded by any
	// InputChunk. It helps the caller allocate large enough buffers.
	MaxInputFrameCount() int

	// MaxOutputFrameCount returns the analogous bound on the frame count of
	// any OutputChunk.
	MaxOutputFrameCount() int

	// Preroll adjusts request.Position so that the stretcher has a run-in
	// before hitting the requested position. Without preroll the first
	// milliseconds of audio might sound weak or initial transients might be
	// lost.
	Preroll(request *Request)

	// Next prepares request.Position and request.Reset for the subsequent
	// grain. Typically called within a granular loop where playback at a
	// constant request.Speed is desired.
	Next(request *Request)

	// SpecifyGrain starts a grain and computes the necessary segment of
	// input audio. Chunk offsets are relative to bufferStartPosition, which
	// is zero when the caller indexes audio from the start of the track.
	// A request with NaN position yields an empty chunk; the grain still
	// occupies a pipeline slot and may be used for flushing.
	SpecifyGrain(request Request, bufferStartPosition float64) InputChunk

	// AnalyseGrain begins processing the grain. The audio data is planar
	// with channels channelStride apart; data[0] corresponds to the chunk
	// frame Begin+muteHead. The muteHead leading and muteTail trailing
	// frames of the chunk are not backed by real samples: they are treated
	// as silence and never read from data.
	AnalyseGrain(data []float64, channelStride, muteHead, muteTail int)

	// SynthesiseGrain completes the grain, producing one non-overlapping
	// slab of output audio together with the request snapshots bounding it.
	SynthesiseGrain(chunk *OutputChunk)

	// IsFlushed reports whether every grain currently held in the
	// stretcher's pipeline has a NaN position, meaning no further real
	// audio will be emitted until a new, real grain is specified.
	IsFlushed() bool

	// EnableInstrumentation toggles verbose per-grain diagnostics and
	// numeric checks. Not intended for the production processing path.
	EnableInstrumentation(enable bool)
}

// Config carries validated construction parameters to an edition factory.
type Config struct {
	SampleRates            SampleRates
	ChannelCount           int
	Log2SynthesisHopAdjust int
	Edition                string
}

// Option mutates construction parameters.
type Option func(*Config)

// WithEdition selects the engine edition by registered name.
func WithEdition(name string) Option {
	return func(cfg *Config) {
		cfg.Edition = name
	}
}

// WithLog2SynthesisHopAdjust adjusts stretcher granularity. -1 doubles
// granular frequency, reducing latency and possibly improving weak
// transients; +1 halves it, possibly benefiting dense tones.
func WithLog2SynthesisHopAdjust(adjust int) Option {
	return func(cfg *Config) {
		cfg.Log2SynthesisHopAdjust = adjust
	}
}

// Factory builds a Stretcher edition from validated construction parameters.
type Factory func(Config) (Stretcher, error)

// DefaultEdition is the edition selected when no WithEdition option is given.
const DefaultEdition = "basic"

var editions = map[string]Factory{}

// RegisterEdition makes an edition available to New under the given name.
// It is intended to be called from an edition package's init function and
// panics if the name is already taken.
func RegisterEdition(name string, factory Factory) {
	if factory == nil {
		panic("stretch: RegisterEdition with nil factory")
	}
	if _, dup := editions[name]; dup {
		panic("stretch: RegisterEdition called twice for edition " + name)
	}
	editions[name] = factory
}

var (
	// ErrUnknownEdition is returned when no edition is registered under the
	// requested name.
	ErrUnknownEdition = errors.New("stretch: unknown edition")
	// ErrInvalidSampleRates indicates a non-positive sample rate.
	ErrInvalidSampleRates = errors.New("stretch: sample rates must be positive")
	// ErrInvalidChannelCount indicates a non-positive channel count.
	ErrInvalidChannelCount = errors.New("stretch: channel count must be positive")
	// ErrInvalidHopAdjust indicates an adjustment that produces a
	// non-positive synthesis hop for the configured sample rates.
	ErrInvalidHopAdjust = errors.New("stretch: log2 synthesis hop adjustment out of range")
)

// New creates a stretcher instance for the given sample rates and channel
// count, selecting the edition and granularity through options. The edition
// package must be imported so that it can register itself; the basic
// edition lives in github.com/cwbudde/algo-stretch/stretch/basic.
func New(sampleRates SampleRates, channelCount int, opts ...Option) (Stretcher, error) {
	cfg := Config{
		SampleRates:  sampleRates,
		ChannelCount: channelCount,
		Edition:      DefaultEdition,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if sampleRates.Input <= 0 || sampleRates.Output <= 0 {
		return nil, ErrInvalidSampleRates
	}
	if channelCount <= 0 {
		return nil, ErrInvalidChannelCount
	}
	if ilog2(sampleRates.Input)-6+cfg.Log2SynthesisHopAdjust < 0 {
		return nil, ErrInvalidHopAdjust
	}

	factory, ok := editions[cfg.Edition]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEdition, cfg.Edition)
	}
	return factory(cfg)
}
