// Package audio inspects WAV audio exchanged with the inference collaborators.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/cwbudde/wav"
)

var (
	// ErrEmptyAudio is returned for zero-length input.
	ErrEmptyAudio = errors.New("empty WAV input")
	// ErrInvalidWAV is returned when the input is not a decodable WAV file.
	ErrInvalidWAV = errors.New("invalid WAV file")
)

// Info describes a decoded WAV stream.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int
	Duration   time.Duration
}

// Probe decodes data and reports its format and duration.
func Probe(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmptyAudio
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Info{}, ErrInvalidWAV
	}

	info := Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}

	if info.SampleRate < 1 || info.Channels < 1 {
		return Info{}, fmt.Errorf("%w: sample rate %d, channels %d", ErrInvalidWAV, info.SampleRate, info.Channels)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Info{}, fmt.Errorf("%w: reading PCM data: %w", ErrInvalidWAV, err)
	}

	info.Frames = len(buf.Data) / info.Channels
	info.Duration = time.Duration(float64(info.Frames) / float64(info.SampleRate) * float64(time.Second))

	if info.Frames == 0 {
		return Info{}, fmt.Errorf("%w: no samples", ErrInvalidWAV)
	}

	return info, nil
}
