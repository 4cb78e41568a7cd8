package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.5-flash-image"
	defaultTimeout = 120 * time.Second
)

// Client communicates with the generative image API. One Enhance call issues
// exactly one network request: no retries, no streaming, no partial results.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a client for the given API key. An empty model selects
// the default image model. An empty apiKey is allowed; Enhance then fails
// with ErrNotConfigured before any network call.
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for
// testing).
func NewClientWithBaseURL(apiKey, model, baseURL string) *Client {
	c := NewClient(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Model returns the image model this client targets.
func (c *Client) Model() string {
	return c.model
}

// Enhance sends the image and prompt to the image model and returns the
// first inline image found in the response. Failures other than
// ErrNotConfigured are always classified *Error values.
func (c *Client) Enhance(ctx context.Context, req Request) (Result, error) {
	if c.apiKey == "" {
		return Result{}, ErrNotConfigured
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Parts: []part{
				{InlineData: &inlineData{MimeType: req.MimeType, Data: req.ImageData}},
				{Text: req.Prompt},
			},
		}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig: &imageConfig{
				AspectRatio: "1:1",
				ImageSize:   string(req.Resolution),
			},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, Classify(err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, Classify(fmt.Sprintf("reading response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, Classify(rawErrorMessage(resp.StatusCode, respBody))
	}

	var gen generateResponse
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return Result{}, Classify(fmt.Sprintf("decoding response: %v", err))
	}

	return pickImage(gen)
}

// rawErrorMessage flattens the provider's error envelope into the text form
// Classify matches against. The status token leads so marker matching sees
// it before the human-readable message.
func rawErrorMessage(httpStatus int, body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		if er.Error.Status != "" {
			return fmt.Sprintf("%s: %s", er.Error.Status, er.Error.Message)
		}
		return er.Error.Message
	}
	return fmt.Sprintf("unexpected status %d: %s", httpStatus, string(body))
}

// pickImage scans the response's ordered content parts and returns the first
// one carrying inline image bytes, regardless of how many text parts
// surround it.
func pickImage(gen generateResponse) (Result, error) {
	var text string
	for _, cand := range gen.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				mime := p.InlineData.MimeType
				if mime == "" {
					mime = "image/png"
				}
				return Result{ImageData: p.InlineData.Data, MimeType: mime}, nil
			}
			if text == "" && p.Text != "" {
				text = p.Text
			}
		}
	}

	if text != "" {
		return Result{}, newError(KindTextOnly, "the model returned text instead of an image", text)
	}
	return Result{}, newError(KindNoImageData, "the model response contained no image data", "")
}
