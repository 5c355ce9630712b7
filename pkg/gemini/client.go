// Package gemini suggests crop regions with the hosted Gemini
// generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/menta2k/aspect-cropper/pkg/client"
	"github.com/menta2k/aspect-cropper/pkg/modeljson"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash"
)

// Config configures the client
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client calls generateContent with an inline image
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a client. A missing API key is reported on first use so
// the rest of the workflow keeps working without one.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string {
	return "gemini"
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature      float64         `json:"temperature"`
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

var regionSchema = json.RawMessage(`{
  "type": "OBJECT",
  "properties": {
    "x": {"type": "NUMBER"},
    "y": {"type": "NUMBER"},
    "width": {"type": "NUMBER"},
    "height": {"type": "NUMBER"},
    "label": {"type": "STRING"}
  },
  "required": ["x", "y", "width", "height"]
}`)

// SuggestRegion sends the image and prompt and parses the returned box
func (c *Client) SuggestRegion(ctx context.Context, req client.Request) (*types.SuggestedRegion, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: no Gemini API key (set GEMINI_API_KEY or suggestion.api_key)", types.ErrConfigMissing)
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	mime := req.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{MIMEType: mime, Data: req.ImageB64}},
				{Text: req.Prompt},
			},
		}},
		GenerationConfig: &generationConfig{
			Temperature:      0.2,
			ResponseMIMEType: "application/json",
			ResponseSchema:   regionSchema,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", types.ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// keep the key out of the URL and therefore out of url.Error text
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", types.ErrTransport, err)
	}

	var gr generateResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: gemini status %d: %s", types.ErrTransport, resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedResponse, err)
	}
	if gr.Error != nil {
		return nil, fmt.Errorf("%w: gemini %s (%d): %s", types.ErrTransport, gr.Error.Status, gr.Error.Code, gr.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: gemini status %d", types.ErrTransport, resp.StatusCode)
	}
	if len(gr.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates in response", types.ErrMalformedResponse)
	}

	var text strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return modeljson.ParseRegion(text.String())
}
