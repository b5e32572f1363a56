package audio_test

import (
	"testing"
	"time"

	"github.com/book-expert/voiceclone-service/internal/audio"
	"github.com/book-expert/voiceclone-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe(t *testing.T) {
	t.Parallel()

	info, err := audio.Probe(testutil.WAV(t, 2*time.Second, 440))
	require.NoError(t, err)

	assert.Equal(t, testutil.SampleRate, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 16, info.BitDepth)
	assert.InDelta(t, 2.0, info.Duration.Seconds(), 0.01)
}

func TestProbe_Rejects(t *testing.T) {
	t.Parallel()

	_, err := audio.Probe(nil)
	require.ErrorIs(t, err, audio.ErrEmptyAudio)

	_, err = audio.Probe([]byte("definitely not a riff header"))
	require.ErrorIs(t, err, audio.ErrInvalidWAV)
}

func TestValidateReference(t *testing.T) {
	t.Parallel()

	valid := audio.Info{SampleRate: 22050, Channels: 1, BitDepth: 16}
	require.NoError(t, audio.ValidateReference(valid))

	testCases := []struct {
		name string
		info audio.Info
	}{
		{name: "sample rate too high", info: audio.Info{SampleRate: 384000, Channels: 1, BitDepth: 16}},
		{name: "odd bit depth", info: audio.Info{SampleRate: 22050, Channels: 1, BitDepth: 12}},
		{name: "too many channels", info: audio.Info{SampleRate: 22050, Channels: 16, BitDepth: 16}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			require.ErrorIs(t, audio.ValidateReference(testCase.info), audio.ErrUnsupportedFormat)
		})
	}
}
