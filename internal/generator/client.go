// Package generator calls the content generation service on behalf of the
// worker.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"campaign/internal/domain"
	"campaign/internal/infra"
)

const maxErrorBody = 4 << 10

// Options controls how the generator client is configured.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client posts prompts to the generator's /generate endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// Output is what the generator produced for one job.
type Output struct {
	JobID        string
	Text         string
	ArtifactPath string
}

// StatusError is a non-2xx answer from the generator.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("generator status %d", e.Code)
	}
	return fmt.Sprintf("generator status %d: %s", e.Code, e.Detail)
}

type generateRequest struct {
	CampaignID string `json:"campaignId"`
	Prompt     string `json:"prompt"`
}

type generateResponse struct {
	CampaignID    string `json:"campaignId"`
	GeneratedText string `json:"generatedText"`
	ImagePath     string `json:"imagePath"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// NewClient constructs a generator client. Callers may provide a nil HTTP
// client; one bounded by Timeout is created.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 300 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		l := zerolog.Nop()
		logger = &l
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: client,
		logger:     logger,
	}
}

// Generate asks the generator for text and an image for req.
func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (Output, error) {
	body, err := json.Marshal(generateRequest{CampaignID: req.JobID, Prompt: req.Prompt})
	if err != nil {
		return Output{}, fmt.Errorf("encode generate request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return Output{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Output{}, fmt.Errorf("invoke generator: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("job_id", req.JobID).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("generator: response")

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var apiErr errorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Detail != "" {
			return Output{}, &StatusError{Code: resp.StatusCode, Detail: apiErr.Detail}
		}
		return Output{}, &StatusError{Code: resp.StatusCode, Detail: strings.TrimSpace(string(data))}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Output{}, fmt.Errorf("decode generator response: %w", err)
	}
	if out.CampaignID == "" {
		out.CampaignID = req.JobID
	}
	if strings.TrimSpace(out.GeneratedText) == "" && strings.TrimSpace(out.ImagePath) == "" {
		return Output{}, fmt.Errorf("generator returned no content for job %s", req.JobID)
	}
	return Output{JobID: out.CampaignID, Text: out.GeneratedText, ArtifactPath: out.ImagePath}, nil
}
