package audio

import (
	"errors"
	"fmt"
)

// Limits for reference recordings.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
)

// Supported bit depths.
const (
	BitDepth8  = 8
	BitDepth16 = 16
	BitDepth24 = 24
	BitDepth32 = 32
)

// Error formats for quality validation.
const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtBitDepthValues  = "%w: bit depth must be 8, 16, 24, or 32, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
)

// ErrUnsupportedFormat indicates a readable WAV the extractor cannot consume.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ValidateReference checks that a probed recording is within the bounds the
// extractor accepts.
func ValidateReference(info Info) error {
	if info.SampleRate <= 0 || info.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrUnsupportedFormat, MaxSampleRate, info.SampleRate)
	}

	switch info.BitDepth {
	case BitDepth8, BitDepth16, BitDepth24, BitDepth32:
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrUnsupportedFormat, info.BitDepth)
	}

	if info.Channels <= 0 || info.Channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrUnsupportedFormat, MaxChannels, info.Channels)
	}

	return nil
}
