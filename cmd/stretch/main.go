// Command stretch time-stretches and pitch-shifts WAV files.
//
// Usage:
//
//	stretch [flags] input.wav output.wav
//
// Examples:
//
//	stretch -speed 0.5 input.wav output.wav
//	stretch -pitch 3 -resample best input.wav output.wav
//	stretch -speed 2 -output-rate 48000 input.wav output.wav
//	stretch -push 512 -instrumentation input.wav output.wav
//
// By default the whole file is processed with the grain protocol directly
// ("pull" operation). The -push flag switches to block-oriented streaming,
// exercising the same path a real-time caller would use.
package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cwbudde/algo-stretch/stretch"
	_ "github.com/cwbudde/algo-stretch/stretch/basic"
	"github.com/cwbudde/algo-stretch/wavio"
)

const (
	minSampleRate = 8000
	maxSampleRate = 192000

	readBlockSize = 8192

	// maxOutputBytes caps the output audio payload at 1 GiB.
	maxOutputBytes = 1 << 30
)

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Fatal error: "+format+"\n", args...)
	os.Exit(1)
}

// checkOptions validates the numeric flag ranges shared by both operating
// modes. Zero speed is rejected everywhere: pull operation would divide by it
// when sizing the output and then loop without ever writing a frame.
func checkOptions(speed, semitones float64, grain, push int) error {
	if semitones < -48 || semitones > 48 {
		return errors.New("pitch is outside of the range -48 to +48")
	}
	if math.Abs(speed) > 100 {
		return errors.New("speed is outside of the range -100 to +100")
	}
	if speed == 0 {
		return errors.New("speed must not be zero")
	}
	if grain < -1 || grain > 1 {
		return errors.New("grain is outside of the range -1 to +1")
	}
	if push != 0 && speed < 0 {
		return errors.New("speed not greater than zero in 'push' mode")
	}
	return nil
}

func resampleHelp() string {
	var names []string
	def := ""
	for _, info := range stretch.ResampleModes() {
		names = append(names, info.Identifier)
		if info.Default {
			def = info.Identifier
		}
	}
	return fmt.Sprintf("resample quality [%s] (default %q)", strings.Join(names, "|"), def)
}

func main() {
	speed := flag.Float64("speed", 1, "output speed as multiple of input speed")
	semitones := flag.Float64("pitch", 0, "output pitch shift in semitones")
	outputRate := flag.Int("output-rate", 0, "output sample rate, Hz, or 0 to match input sample rate")
	resample := flag.String("resample", stretch.DefaultResampleMode().String(), resampleHelp())
	grain := flag.Int("grain", 0, "increases [+1] or decreases [-1] grain duration by a factor of two")
	push := flag.Int("push", 0, "input chunk size (0 for pull operation, negative for random push chunk size)")
	instrumentation := flag.Bool("instrumentation", false, "report useful diagnostic information to the log")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: stretch [flags] input.wav output.wav")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := checkOptions(*speed, *semitones, *grain, *push); err != nil {
		fatalf("%v", err)
	}

	mode, err := stretch.ParseResampleMode(*resample)
	if err != nil {
		fatalf("unrecognised value for -resample: %q", *resample)
	}

	if *instrumentation {
		logrus.SetLevel(logrus.DebugLevel)
	}

	input, frameCount, rates, bitDepth, channelCount := readInput(flag.Arg(0), *outputRate)

	stretcher, err := stretch.New(rates, channelCount, stretch.WithLog2SynthesisHopAdjust(*grain))
	if err != nil {
		fatalf("could not create stretcher: %v", err)
	}
	stretcher.EnableInstrumentation(*instrumentation)

	outputFrameCount := int(math.Floor(float64(frameCount) / math.Abs(*speed) *
		float64(rates.Output) / float64(rates.Input)))
	if limit := maxOutputBytes / (channelCount * bitDepth / 8); outputFrameCount > limit {
		outputFrameCount = limit
		fmt.Fprintln(os.Stderr, "Warning: output audio will be truncated to 1GB")
	}

	writer, err := wavio.NewWriter(flag.Arg(1), rates.Output, channelCount, bitDepth)
	if err != nil {
		fatalf("could not open output file: %v", err)
	}

	request := stretch.Request{
		Speed:        *speed,
		Pitch:        math.Pow(2, *semitones/12),
		ResampleMode: mode,
	}

	if *push == 0 {
		pull(stretcher, writer, input, frameCount, request, outputFrameCount)
	} else {
		pushProcess(stretcher, writer, input, frameCount, rates, request, outputFrameCount, *push)
	}

	if err := writer.Close(); err != nil {
		fatalf("could not finalise output file: %v", err)
	}
}

// readInput loads the whole input file as planar audio and resolves the
// engine's sample-rate pair.
func readInput(path string, outputRate int) (input [][]float64, frameCount int, rates stretch.SampleRates, bitDepth, channelCount int) {
	reader, err := wavio.NewReader(path, readBlockSize)
	if err != nil {
		fatalf("could not open input file: %v", err)
	}
	defer reader.Close()

	rates.Input = reader.SampleRate()
	if rates.Input < minSampleRate || rates.Input > maxSampleRate {
		fatalf("input sample rate must be in the range [%d, %d] Hz", minSampleRate, maxSampleRate)
	}
	rates.Output = outputRate
	if rates.Output == 0 {
		rates.Output = rates.Input
	}
	if rates.Output < minSampleRate || rates.Output > maxSampleRate {
		fatalf("output sample rate must be in the range [%d, %d] Hz", minSampleRate, maxSampleRate)
	}

	channelCount = reader.ChannelCount()
	bitDepth = reader.BitDepth()

	input = make([][]float64, channelCount)
	block := make([][]float64, channelCount)
	for c := range block {
		block[c] = make([]float64, readBlockSize)
	}
	for {
		n, err := reader.Read(block)
		if n > 0 {
			for c := range input {
				input[c] = append(input[c], block[c][:n]...)
			}
			frameCount += n
		}
		if err != nil {
			break
		}
	}
	if frameCount == 0 {
		fatalf("input file contains no audio")
	}
	return input, frameCount, rates, bitDepth, channelCount
}

// pull drives the grain protocol directly over the in-memory input buffer.
func pull(stretcher stretch.Stretcher, writer *wavio.Writer, input [][]float64, frameCount int, request stretch.Request, outputFrameCount int) {
	channelCount := len(input)
	maxInput := stretcher.MaxInputFrameCount()
	scratch := make([]float64, maxInput*channelCount)
	views := make([][]float64, channelCount)

	if request.Speed < 0 {
		request.Position = float64(frameCount - 1)
	}
	stretcher.Preroll(&request)

	var chunk stretch.OutputChunk
	for written := 0; written < outputFrameCount; {
		inputChunk := stretcher.SpecifyGrain(request, 0)
		muteHead, muteTail := gather(scratch, maxInput, input, frameCount, inputChunk)
		stretcher.AnalyseGrain(scratch, maxInput, muteHead, muteTail)
		stretcher.SynthesiseGrain(&chunk)

		written += writeTrimmed(writer, views, &chunk, frameCount, outputFrameCount-written)

		stretcher.Next(&request)
	}
}

// gather copies the chunk's span from the input buffer into scratch,
// reporting how many leading and trailing frames fall outside the track.
func gather(scratch []float64, stride int, input [][]float64, frameCount int, chunk stretch.InputChunk) (muteHead, muteTail int) {
	lo, hi := chunk.Begin, chunk.End
	if lo < 0 {
		lo = 0
	}
	if hi > frameCount {
		hi = frameCount
	}
	if hi <= lo {
		return chunk.FrameCount(), 0
	}
	for c := range input {
		copy(scratch[c*stride:c*stride+hi-lo], input[c][lo:hi])
	}
	return lo - chunk.Begin, chunk.End - hi
}

// writeTrimmed writes a synthesised chunk, discarding preroll frames that
// map to positions before the start of the track (or past its end for
// reverse playback) and capping the tail at the remaining output budget.
func writeTrimmed(writer *wavio.Writer, views [][]float64, chunk *stretch.OutputChunk, inputFrameCount, remaining int) int {
	begin := chunk.Requests[0].Position
	end := chunk.Requests[1].Position
	if math.IsNaN(begin) || begin == end || chunk.FrameCount == 0 {
		return 0
	}

	prerollInput := -begin
	if chunk.Requests[0].Speed < 0 {
		prerollInput = begin - float64(inputFrameCount-1)
	}
	prerollOutput := 0
	if prerollInput > 0 {
		prerollOutput = int(math.Round(math.Round(prerollInput) * float64(chunk.FrameCount) / math.Abs(end-begin)))
	}
	if prerollOutput >= chunk.FrameCount {
		return 0
	}

	n := chunk.FrameCount - prerollOutput
	if n > remaining {
		n = remaining
	}
	for c := range views {
		offset := c*chunk.ChannelStride + prerollOutput
		views[c] = chunk.Data[offset : offset+n]
	}
	if err := writer.Write(views, n); err != nil {
		fatalf("could not write output: %v", err)
	}
	return n
}

// pushProcess feeds the engine through the streaming adapter in blocks,
// as a real-time caller would.
func pushProcess(stretcher stretch.Stretcher, writer *wavio.Writer, input [][]float64, frameCount int, rates stretch.SampleRates, request stretch.Request, outputFrameCount, push int) {
	channelCount := len(input)
	maxBlock := push
	if maxBlock < 0 {
		maxBlock = -maxBlock
	}

	stream := stretch.NewStream(stretcher, maxBlock, channelCount)

	rng := rand.New(rand.NewSource(1))
	maxOutput := int(math.Ceil(float64(maxBlock)*float64(rates.Output)/
		(float64(rates.Input)*request.Speed))) + 1

	inBlock := make([][]float64, channelCount)
	outBlock := make([][]float64, channelCount)
	views := make([][]float64, channelCount)
	for c := 0; c < channelCount; c++ {
		inBlock[c] = make([]float64, maxBlock)
		outBlock[c] = make([]float64, maxOutput)
	}

	written := 0
	for consumed := 0; written < outputFrameCount; {
		blockSize := maxBlock
		if push < 0 {
			blockSize = rng.Intn(maxBlock) + 1
		}

		var in [][]float64
		n := frameCount - consumed
		if n > blockSize {
			n = blockSize
		}
		if n > 0 {
			for c := range inBlock {
				copy(inBlock[c][:n], input[c][consumed:consumed+n])
				for i := n; i < blockSize; i++ {
					inBlock[c][i] = 0
				}
			}
			in = inBlock
		}
		// Past the end of the track the stream is fed silence so the
		// engine's latency drains into the output.
		consumed += n

		outputSamples := float64(blockSize) * float64(rates.Output) /
			(float64(rates.Input) * request.Speed)
		rendered := stream.Process(in, outBlock, blockSize, outputSamples, request.Pitch)

		// Frames mapping to positions before the start of the track are
		// preroll and are not written.
		skip := 0
		if p := stream.OutputPosition(); !math.IsNaN(p) && p < 0 {
			skip = int(math.Min(float64(rendered), math.Ceil(-p*float64(rates.Output)/float64(rates.Input)/request.Speed)))
		}

		n = rendered - skip
		if n > outputFrameCount-written {
			n = outputFrameCount - written
		}
		if n <= 0 {
			continue
		}
		for c := range views {
			views[c] = outBlock[c][skip : skip+n]
		}
		if err := writer.Write(views, n); err != nil {
			fatalf("could not write output: %v", err)
		}
		written += n
	}
}
