package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/aspect-cropper/pkg/client"
	"github.com/menta2k/aspect-cropper/pkg/modeljson"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

const (
	DefaultURL   = "http://localhost:11434"
	DefaultModel = "qwen2.5vl:7b"
)

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a new Ollama client. Any path on ollamaURL (such as
// /api/chat) is dropped.
func NewClient(ollamaURL, model string) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = DefaultURL
	}
	if model == "" {
		model = DefaultModel
	}

	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host required", ollamaURL)
	}

	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	// Ignore OLLAMA_HOST so the configured URL wins
	return &Client{client: api.NewClient(baseURL, http.DefaultClient), model: model}, nil
}

func (c *Client) Name() string {
	return "ollama"
}

// SuggestRegion runs a non-streaming chat with the image attached and
// parses the JSON box from the reply
func (c *Client) SuggestRegion(ctx context.Context, req client.Request) (*types.SuggestedRegion, error) {
	// Local vision models on CPU are slow
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	imgBytes, err := base64.StdEncoding.DecodeString(req.ImageB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	streamFalse := false
	chatReq := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: req.Prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Format:  json.RawMessage(`"json"`),
		Options: modelOptions(model),
	}

	var reply strings.Builder
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ollama chat: %v", types.ErrTransport, err)
	}

	if strings.TrimSpace(reply.String()) == "" {
		return nil, fmt.Errorf("%w: empty response from ollama", types.ErrMalformedResponse)
	}
	return modeljson.ParseRegion(reply.String())
}

// modelOptions tunes sampling for models known to ramble
func modelOptions(model string) map[string]any {
	options := map[string]any{"temperature": 0.2}

	modelLower := strings.ToLower(model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}
	return options
}
