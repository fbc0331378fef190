// Package wavio reads and writes WAV files as planar float64 audio.
//
// It wraps the go-audio decoder and encoder behind a block-oriented API
// that matches the planar [][]float64 layout used by the stretch engine.
package wavio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnsupportedBitDepth is returned for bit depths other than 16, 24 or 32.
var ErrUnsupportedBitDepth = errors.New("wavio: only 16, 24 and 32 bit depths are supported")

// ErrInvalidFile is returned when the input is not a decodable WAV file.
var ErrInvalidFile = errors.New("wavio: not a valid wav file")

func validBitDepth(bits int) bool {
	return bits == 16 || bits == 24 || bits == 32
}

// fullScale returns the positive full-scale value for a bit depth.
func fullScale(bits int) float64 {
	return float64(int64(1) << (bits - 1))
}

// Reader decodes a WAV file block by block. It is not safe for concurrent
// use and cannot be reused after Close.
type Reader struct {
	file    *os.File
	decoder *wav.Decoder
	buffer  *audio.IntBuffer
	scale   float64
}

// NewReader opens path and validates its WAV header. blockSize is the
// largest frame count a single Read call will return.
func NewReader(path string, blockSize int) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavio: %w", err)
	}

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	if !validBitDepth(int(decoder.BitDepth)) {
		file.Close()
		return nil, fmt.Errorf("%w: got %d bits", ErrUnsupportedBitDepth, decoder.BitDepth)
	}

	return &Reader{
		file:    file,
		decoder: decoder,
		buffer: &audio.IntBuffer{
			Format:         decoder.Format(),
			Data:           make([]int, blockSize*decoder.Format().NumChannels),
			SourceBitDepth: int(decoder.BitDepth),
		},
		scale: 1 / fullScale(int(decoder.BitDepth)),
	}, nil
}

// SampleRate returns the file's sample rate in Hz.
func (r *Reader) SampleRate() int { return int(r.decoder.SampleRate) }

// ChannelCount returns the number of interleaved channels in the file.
func (r *Reader) ChannelCount() int { return r.decoder.Format().NumChannels }

// BitDepth returns the file's sample resolution in bits.
func (r *Reader) BitDepth() int { return int(r.decoder.BitDepth) }

// FrameCount returns the total number of frames in the file, or an error
// if the duration cannot be determined from the header.
func (r *Reader) FrameCount() (int, error) {
	duration, err := r.decoder.Duration()
	if err != nil {
		return 0, fmt.Errorf("wavio: %w", err)
	}
	frames := duration.Seconds() * float64(r.decoder.SampleRate)
	return int(frames + 0.5), nil
}

// Read deinterleaves up to the block size of frames into dst, one slice per
// channel, and returns the number of frames read. io.EOF signals the end of
// the file with no frames remaining.
func (r *Reader) Read(dst [][]float64) (int, error) {
	read, err := r.decoder.PCMBuffer(r.buffer)
	if err != nil {
		return 0, fmt.Errorf("wavio: %w", err)
	}

	channels := r.ChannelCount()
	frames := read / channels
	if frames == 0 {
		return 0, io.EOF
	}

	for c := 0; c < channels; c++ {
		for i := 0; i < frames; i++ {
			dst[c][i] = float64(r.buffer.Data[i*channels+c]) * r.scale
		}
	}
	return frames, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Writer encodes planar float64 audio into a WAV file.
type Writer struct {
	file    *os.File
	encoder *wav.Encoder
	buffer  *audio.IntBuffer
	scale   float64
	limit   int
}

// NewWriter creates path and prepares a WAV encoder for the given format.
func NewWriter(path string, sampleRate, channelCount, bitDepth int) (*Writer, error) {
	if !validBitDepth(bitDepth) {
		return nil, fmt.Errorf("%w: got %d bits", ErrUnsupportedBitDepth, bitDepth)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wavio: %w", err)
	}

	scale := fullScale(bitDepth)
	return &Writer{
		file:    file,
		encoder: wav.NewEncoder(file, sampleRate, bitDepth, channelCount, 1),
		buffer: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channelCount,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: bitDepth,
		},
		scale: scale,
		limit: int(scale) - 1,
	}, nil
}

// Write interleaves and encodes frameCount frames from src, one slice per
// channel. Samples outside [-1, 1] are clipped to full scale.
func (w *Writer) Write(src [][]float64, frameCount int) error {
	channels := w.buffer.Format.NumChannels
	if need := frameCount * channels; cap(w.buffer.Data) < need {
		w.buffer.Data = make([]int, need)
	}
	w.buffer.Data = w.buffer.Data[:frameCount*channels]

	for c := 0; c < channels; c++ {
		for i := 0; i < frameCount; i++ {
			v := int(src[c][i] * w.scale)
			if v > w.limit {
				v = w.limit
			} else if v < -int(w.scale) {
				v = -int(w.scale)
			}
			w.buffer.Data[i*channels+c] = v
		}
	}

	if err := w.encoder.Write(w.buffer); err != nil {
		return fmt.Errorf("wavio: %w", err)
	}
	return nil
}

// Close finalises the WAV header and releases the underlying file.
func (w *Writer) Close() error {
	if err := w.encoder.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("wavio: %w", err)
	}
	return w.file.Close()
}
