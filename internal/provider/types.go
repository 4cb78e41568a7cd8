package provider

import "fmt"

// Resolution is the output size tag supported by the image model.
type Resolution string

const (
	Resolution1K Resolution = "1K"
	Resolution2K Resolution = "2K"
	Resolution4K Resolution = "4K"
)

// DefaultResolution is applied to a fresh enhancement slot and restored when
// the slot is cleared.
const DefaultResolution = Resolution1K

// ParseResolution validates a resolution tag from user input.
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(s) {
	case Resolution1K, Resolution2K, Resolution4K:
		return Resolution(s), nil
	}
	return "", fmt.Errorf("invalid resolution %q (expected 1K, 2K, or 4K)", s)
}

// Request carries one enhancement attempt. ImageData is base64 exactly as
// produced by the browser's file reader; it is passed through unchanged.
type Request struct {
	ImageData  string
	MimeType   string
	Prompt     string
	Resolution Resolution
}

// Result is the enhanced image. MimeType is propagated from the provider
// response and falls back to image/png when the provider omits it.
type Result struct {
	ImageData string
	MimeType  string
}

// --- generateContent wire format ---

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// errorResponse mirrors the JSON error envelope returned on non-200 statuses.
type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
