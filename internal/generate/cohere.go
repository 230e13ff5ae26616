// Package generate requests contract source text from the Cohere generate API.
package generate

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
	"unicode/utf8"

	"github.com/bgricker/contractpipe/internal/retry"
)

var (
	// ErrNetwork marks transport-level failures worth retrying.
	ErrNetwork = errors.New("network error")
	// ErrInvalidResponse marks a response that cannot be used, such as empty text.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrRequest marks a request the API rejected; retrying will not help.
	ErrRequest = errors.New("request rejected")
)

// DefaultEndpoint is the Cohere API base URL.
const DefaultEndpoint = "https://api.cohere.com"

// Params are the sampling parameters sent with every request.
type Params struct {
	Model            string   `yaml:"model" json:"model"`
	MaxTokens        int      `yaml:"max_tokens" json:"max_tokens"`
	Temperature      float64  `yaml:"temperature" json:"temperature"`
	K                int      `yaml:"k" json:"k"`
	P                float64  `yaml:"p" json:"p"`
	FrequencyPenalty float64  `yaml:"frequency_penalty" json:"frequency_penalty"`
	PresencePenalty  float64  `yaml:"presence_penalty" json:"presence_penalty"`
	StopSequences    []string `yaml:"stop_sequences" json:"stop_sequences,omitempty"`
}

// DefaultParams returns the sampling parameters used for contract generation.
func DefaultParams() Params {
	return Params{
		Model:            "command-r-plus-08-2024",
		MaxTokens:        2000,
		Temperature:      0.5,
		K:                50,
		P:                0.9,
		FrequencyPenalty: 0.1,
		PresencePenalty:  0.0,
		StopSequences:    []string{"END"},
	}
}

// Client calls the generate endpoint.
type Client struct {
	Endpoint   string
	APIKey     string
	Params     Params
	HTTPClient *http.Client
}

type generateRequest struct {
	Params
	Prompt            string `json:"prompt"`
	ReturnLikelihoods string `json:"return_likelihoods"`
	NumGenerations    int    `json:"num_generations"`
}

type generateResponse struct {
	ID          string `json:"id"`
	Generations []struct {
		Text string `json:"text"`
	} `json:"generations"`
}

// Generate sends prompt and returns the first generation's text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return "", fmt.Errorf("%w: api key is empty", ErrRequest)
	}
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: prompt is empty", ErrRequest)
	}

	payload := generateRequest{
		Params:            c.Params,
		Prompt:            prompt,
		ReturnLikelihoods: "NONE",
		NumGenerations:    1,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := strings.TrimRight(c.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: creating HTTP request: %v", ErrRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: API request: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrNetwork, err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: API returned %d: %s", ErrNetwork, resp.StatusCode, snippet(respBody))
	default:
		return "", fmt.Errorf("%w: API returned %d: %s", ErrRequest, resp.StatusCode, snippet(respBody))
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", fmt.Errorf("%w: parsing response: %v", ErrInvalidResponse, err)
	}
	if len(genResp.Generations) == 0 {
		return "", fmt.Errorf("%w: no generations in API response", ErrInvalidResponse)
	}
	text := genResp.Generations[0].Text
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty generation text", ErrInvalidResponse)
	}
	return text, nil
}

// Classifier is the retry classification table for generation errors.
func Classifier() retry.Table {
	return retry.Table{
		Retryable: []error{ErrNetwork},
		Fatal:     []error{ErrInvalidResponse, ErrRequest, context.Canceled, context.DeadlineExceeded},
		Default:   retry.Fatal,
	}
}

// CheckText rejects a blank generation.
func CheckText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty generation text", ErrInvalidResponse)
	}
	return nil
}

const snippetLimit = 200

// snippet shortens a response body for error text without splitting a rune.
func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= snippetLimit {
		return s
	}
	cut := snippetLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
