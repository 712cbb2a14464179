package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/songblend/api/internal/config"
)

var (
	ErrGenerationTimeout    = errors.New("generation service timed out")
	ErrGenerationOverloaded = errors.New("generation service overloaded")
	ErrPayloadTooLarge      = errors.New("generation payload too large")
)

// RemoteError is a non-success answer from the generation service.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("generation service error (status %d): %s", e.StatusCode, e.Message)
}

// Generator transforms a set of song assets into a blended track and
// encodes it for download.
type Generator interface {
	Transform(ctx context.Context, req *TransformRequest) ([]byte, error)
	Encode(ctx context.Context, audio []byte) ([]byte, error)
	HealthCheck(ctx context.Context) error
}

// SongAsset is one resolved song's input to the model.
type SongAsset struct {
	SongID string `json:"song_id"`
	Title  string `json:"title"`
	Midi   []byte `json:"midi"`
	Tokens []byte `json:"tokens,omitempty"`
}

// TransformRequest represents the request for a blend
type TransformRequest struct {
	JobID  string      `json:"job_id"`
	Assets []SongAsset `json:"assets"`
}

type transformResponse struct {
	Audio []byte `json:"audio"`
}

type encodeRequest struct {
	Audio  []byte `json:"audio"`
	Format string `json:"format"`
}

type encodeResponse struct {
	Audio []byte `json:"audio"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// GenerationClient implements Generator for the model microservice
type GenerationClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxPayload int
}

// NewGenerationClient creates a new generation service client
func NewGenerationClient(cfg *config.GenerationConfig) *GenerationClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &GenerationClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:    cfg.ServiceURL,
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		maxPayload: cfg.MaxPayloadMB * 1024 * 1024,
	}
}

// Transform sends the assets to the model and returns the raw blended audio
func (c *GenerationClient) Transform(ctx context.Context, req *TransformRequest) ([]byte, error) {
	size := 0
	for _, a := range req.Assets {
		size += len(a.Midi) + len(a.Tokens)
	}
	if c.maxPayload > 0 && size > c.maxPayload {
		return nil, fmt.Errorf("%w: %d bytes of assets", ErrPayloadTooLarge, size)
	}

	var result transformResponse
	if err := c.post(ctx, "/transform", req, &result); err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	if len(result.Audio) == 0 {
		return nil, fmt.Errorf("transform: empty audio in response")
	}
	return result.Audio, nil
}

// Encode converts raw audio to mp3
func (c *GenerationClient) Encode(ctx context.Context, audio []byte) ([]byte, error) {
	var result encodeResponse
	if err := c.post(ctx, "/encode", &encodeRequest{Audio: audio, Format: "mp3"}, &result); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if len(result.Audio) == 0 {
		return nil, fmt.Errorf("encode: empty audio in response")
	}
	return result.Audio, nil
}

// HealthCheck checks if the generation service is available
func (c *GenerationClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generation service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *GenerationClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w after %s", ErrGenerationTimeout, c.timeout)
		}
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w after %s", ErrGenerationTimeout, c.timeout)
		}
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w (status %d)", ErrGenerationOverloaded, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &RemoteError{StatusCode: resp.StatusCode, Message: remoteMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GenerationClient) IsConfigured() bool {
	return c.baseURL != ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func remoteMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if er.Message != "" {
			return er.Message
		}
		if er.Error != "" {
			return er.Error
		}
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return string(bytes.TrimSpace(body))
}
