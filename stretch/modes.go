package stretch

import (
	"errors"
	"fmt"
)

// ResampleMode selects the quality/cost trade-off applied to intra-grain
// sample-rate conversion.
type ResampleMode int

const (
	// ResampleModeBalanced uses 4-point cubic Hermite interpolation.
	// It is the default mode and the zero value of ResampleMode.
	ResampleModeBalanced ResampleMode = iota
	// ResampleModeFast uses 2-point linear interpolation, prioritizing
	// lower CPU usage.
	ResampleModeFast
	// ResampleModeBest uses 6-point Lagrange interpolation, prioritizing
	// image rejection over CPU usage.
	ResampleModeBest
)

// ErrUnknownResampleMode is returned when a mode identifier cannot be parsed.
var ErrUnknownResampleMode = errors.New("stretch: unknown resample mode")

// ModeInfo describes one resample mode. The table of all modes drives both
// option-value parsing and help text, so the two can never disagree.
type ModeInfo struct {
	Mode        ResampleMode
	Identifier  string
	Description string
	Default     bool
}

// resampleModeTable lists all modes in display order.
var resampleModeTable = []ModeInfo{
	{ResampleModeFast, "fast", "2-point linear interpolation", false},
	{ResampleModeBalanced, "balanced", "4-point cubic Hermite interpolation", true},
	{ResampleModeBest, "best", "6-point Lagrange interpolation", false},
}

// ResampleModes returns descriptors for all supported modes in display order.
func ResampleModes() []ModeInfo {
	out := make([]ModeInfo, len(resampleModeTable))
	copy(out, resampleModeTable)
	return out
}

// DefaultResampleMode returns the mode marked as default in the mode table.
func DefaultResampleMode() ResampleMode {
	for _, info := range resampleModeTable {
		if info.Default {
			return info.Mode
		}
	}
	return ResampleModeBalanced
}

// ParseResampleMode maps a textual identifier to its mode.
func ParseResampleMode(s string) (ResampleMode, error) {
	for _, info := range resampleModeTable {
		if info.Identifier == s {
			return info.Mode, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownResampleMode, s)
}

// String returns the mode's identifier.
func (m ResampleMode) String() string {
	for _, info := range resampleModeTable {
		if info.Mode == m {
			return info.Identifier
		}
	}
	return fmt.Sprintf("ResampleMode(%d)", int(m))
}

// ResampleRatio returns the factor that scales the nominal synthesis hop
// into an input-frame hop for the given configuration. Pitch shifting and
// mode-specific interpolation happen inside the grain and leave playback
// duration unchanged, so the cadence depends only on the sample-rate ratio.
// The ratio is capped at 1<<maxPitchOctaves so that per-grain output slabs
// stay within MaxOutputFrameCount at extreme downsampling ratios.
func ResampleRatio(rates SampleRates, pitch float64, mode ResampleMode) float64 {
	ratio := float64(rates.Input) / float64(rates.Output)
	if ratio > 1<<maxPitchOctaves {
		ratio = 1 << maxPitchOctaves
	}
	return ratio
}
