// Package config_test tests the configuration loading for the voiceclone-service.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/voiceclone-service/internal/config"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[nats]
url = "nats://127.0.0.1:4222"
conversion_requested_subject = "voice.convert"
object_store_bucket = "AUDIO_FILES"

[models]
checkpoint_root = "/srv/checkpoints"
device = "cpu"
enable_watermark = true
watermark_message = "@demo"
tau = 0.5

[models.styles]
default = "en_default_se"
style = "en_style_se"

[extraction]
max_duration_seconds = 30
use_vad = false

[inference]
service_url = "http://127.0.0.1:8000"
timeout_seconds = 45

[worker]
max_concurrent = 4
`

	cfg, err := config.Parse([]byte(tomlData))
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "voice.convert", cfg.NATS.ConversionRequestedSubject)
	assert.Equal(t, "AUDIO_FILES", cfg.NATS.ObjectStoreBucket)
	assert.Equal(t, "/srv/checkpoints", cfg.Models.CheckpointRoot)
	assert.InEpsilon(t, 0.5, cfg.Models.Tau, 0.001)
	assert.Equal(t, 30*time.Second, cfg.MaxDuration())
	assert.False(t, cfg.VADEnabled())
	assert.Equal(t, 45*time.Second, cfg.InferenceTimeout())
	assert.Equal(t, 4, cfg.Worker.MaxConcurrent)

	bundle := cfg.BundleConfig()
	assert.Equal(t, "/srv/checkpoints", bundle.CheckpointRoot)
	assert.Equal(t, "base_speakers/EN", bundle.SynthesizerDir)
	assert.Equal(t, "converter", bundle.ConverterDir)
	assert.True(t, bundle.Watermark.Enabled)
	assert.Equal(t, "@demo", bundle.Watermark.Message)
}

func TestParseConfig_Defaults(t *testing.T) {
	t.Parallel()

	tomlData := `
[models]
checkpoint_root = "checkpoints"

[inference]
service_url = "http://127.0.0.1:8000"
`

	cfg, err := config.Parse([]byte(tomlData))
	require.NoError(t, err)

	assert.Equal(t, "English", cfg.Models.Language)
	assert.Equal(t, "cpu", cfg.Models.Device)
	assert.False(t, cfg.Models.EnableWatermark)
	assert.Empty(t, cfg.Models.RemoteBaseURL, "no mirror serves .se files unless configured")
	assert.InEpsilon(t, 0.3, cfg.Models.Tau, 0.001)
	assert.Equal(t, 60*time.Second, cfg.MaxDuration())
	assert.True(t, cfg.VADEnabled())
	assert.Equal(t, "en_default_se", cfg.Models.Styles[string(core.StyleDefault)])
	assert.Equal(t, "en_style_se", cfg.Models.Styles[string(core.StyleStyle)])
	assert.Equal(t, "voice.conversion.requested", cfg.NATS.ConversionRequestedSubject)
	assert.Equal(t, 2, cfg.Worker.MaxConcurrent)
	assert.NotEmpty(t, cfg.Paths.ScratchRoot)
}

func TestParseConfig_ValidationErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		tomlData string
		wantErr  error
	}{
		{
			name:     "missing checkpoint root",
			tomlData: "[inference]\nservice_url = \"http://x\"\n",
			wantErr:  config.ErrCheckpointRootEmpty,
		},
		{
			name:     "missing service url",
			tomlData: "[models]\ncheckpoint_root = \"c\"\n",
			wantErr:  config.ErrServiceURLEmpty,
		},
		{
			name: "negative duration",
			tomlData: "[models]\ncheckpoint_root = \"c\"\n[inference]\nservice_url = \"http://x\"\n" +
				"[extraction]\nmax_duration_seconds = -1\n",
			wantErr: config.ErrMaxDuration,
		},
		{
			name: "tau out of range",
			tomlData: "[models]\ncheckpoint_root = \"c\"\ntau = 1.5\n" +
				"[inference]\nservice_url = \"http://x\"\n",
			wantErr: config.ErrTauRange,
		},
		{
			name: "style without embedding",
			tomlData: "[models]\ncheckpoint_root = \"c\"\n[models.styles]\ndefault = \"en_default_se\"\n" +
				"[inference]\nservice_url = \"http://x\"\n",
			wantErr: config.ErrStyleUnmapped,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.Parse([]byte(testCase.tomlData))
			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voiceclone.toml")
	data := "[models]\ncheckpoint_root = \"checkpoints\"\n[inference]\nservice_url = \"http://127.0.0.1:8000\"\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "checkpoints", cfg.Models.CheckpointRoot)

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
