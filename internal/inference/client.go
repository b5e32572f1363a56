// Package inference talks to the co-located inference sidecar that hosts the
// base speaker synthesizer and the tone-color converter.
//
// The sidecar shares the scratch filesystem with this process, so requests
// carry file paths rather than audio payloads. Audio produced by the sidecar is
// returned in the response body as WAV.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// API endpoints and paths.
const (
	apiModels   = "/v1/models"
	apiSynth    = "/v1/synthesize"
	apiExtract  = "/v1/embeddings/extract"
	apiConvert  = "/v1/convert"
	apiHealth   = "/health"
	defaultWait = 2 * time.Minute
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Model kinds accepted by the sidecar.
const (
	KindSynthesizer = "synthesizer"
	KindConverter   = "converter"
)

// Error messages.
const (
	errFmtUnexpectedContentType = "unexpected content type: expected %s, got %s"
	errFmtServiceError          = "inference service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "inference service returned non-OK status: %s, body: %s"
)

// Static errors.
var (
	ErrEmptyAudio     = errors.New("received empty audio data")
	ErrEmptyEmbedding = errors.New("received empty embedding")
	ErrEmptyModelID   = errors.New("model id cannot be empty")
	ErrTextEmpty      = errors.New("text cannot be empty")
)

// Client is an HTTP client for the inference sidecar.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// LoadModelRequest asks the sidecar to construct a model from checkpoint files.
type LoadModelRequest struct {
	Kind            string `json:"kind"`
	ConfigPath      string `json:"config_path"`
	CheckpointPath  string `json:"checkpoint_path"`
	Device          string `json:"device"`
	EnableWatermark bool   `json:"enable_watermark"`
}

// LoadModelResponse identifies a constructed model for later calls.
type LoadModelResponse struct {
	ModelID string `json:"model_id"`
}

// SynthesizeRequest renders text with a preset speaker.
type SynthesizeRequest struct {
	ModelID  string `json:"model_id"`
	Text     string `json:"text"`
	Speaker  string `json:"speaker"`
	Language string `json:"language"`
}

// ExtractRequest embeds the speaker of a reference file.
type ExtractRequest struct {
	ModelID            string  `json:"model_id"`
	AudioPath          string  `json:"audio_path"`
	MaxDurationSeconds float64 `json:"max_duration_seconds"`
	VAD                bool    `json:"vad"`
	WorkDir            string  `json:"work_dir,omitempty"`
}

// ExtractResponse carries the extracted vector.
type ExtractResponse struct {
	Embedding []float32 `json:"embedding"`
}

// ConvertRequest re-voices a base audio file.
type ConvertRequest struct {
	ModelID         string    `json:"model_id"`
	AudioSrcPath    string    `json:"audio_src_path"`
	SourceEmbedding []float32 `json:"src_se"`
	TargetEmbedding []float32 `json:"tgt_se"`
	Tau             float64   `json:"tau"`
	Message         string    `json:"message,omitempty"`
	EnableWatermark bool      `json:"enable_watermark"`
}

// ErrorResponse is the structured error body returned by the sidecar.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// ServiceError is a non-OK answer from the sidecar.
type ServiceError struct {
	Status    string
	Detail    string
	ErrorCode string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf(errFmtServiceError, e.Status, e.Detail, e.ErrorCode)
}

// NewClient creates a client for the sidecar at baseURL (e.g. "http://localhost:8000").
// A zero timeout uses a two minute default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultWait
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// LoadModel constructs a model on the sidecar and returns its identifier.
func (c *Client) LoadModel(ctx context.Context, req LoadModelRequest) (string, error) {
	var resp LoadModelResponse

	err := c.postJSON(ctx, apiModels, req, &resp)
	if err != nil {
		return "", fmt.Errorf("load %s model: %w", req.Kind, err)
	}

	if resp.ModelID == "" {
		return "", fmt.Errorf("load %s model: %w", req.Kind, ErrEmptyModelID)
	}

	return resp.ModelID, nil
}

// Synthesize returns WAV audio for req.
func (c *Client) Synthesize(ctx context.Context, req SynthesizeRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextEmpty
	}

	return c.postForAudio(ctx, apiSynth, req)
}

// ExtractEmbedding returns the speaker vector of the referenced file.
func (c *Client) ExtractEmbedding(ctx context.Context, req ExtractRequest) ([]float32, error) {
	var resp ExtractResponse

	err := c.postJSON(ctx, apiExtract, req, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	return resp.Embedding, nil
}

// Convert returns the re-voiced WAV audio for req.
func (c *Client) Convert(ctx context.Context, req ConvertRequest) ([]byte, error) {
	return c.postForAudio(ctx, apiConvert, req)
}

// HealthCheck verifies that the sidecar is running and operational.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	resp, err := c.post(ctx, path, payload, contentTypeJSON)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	return nil
}

func (c *Client) postForAudio(ctx context.Context, path string, payload any) ([]byte, error) {
	resp, err := c.post(ctx, path, payload, contentTypeWAV)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, contentTypeWAV, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// post sends payload as JSON and returns the response only when it is 200 OK.
func (c *Client) post(ctx context.Context, path string, payload any, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to inference service at %s: %w", c.baseURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		return nil, parseErrorResponse(resp)
	}

	return resp, nil
}

// parseErrorResponse decodes a structured error, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return &ServiceError{Status: resp.Status, Detail: errorResp.Detail, ErrorCode: errorResp.ErrorCode}
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, strings.TrimSpace(string(body)))
}
