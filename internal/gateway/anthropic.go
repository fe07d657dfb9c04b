package gateway

import (
	"context"
	"net/http"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diet-analysis/internal/model"
	"github.com/sells-group/diet-analysis/internal/resilience"
	"github.com/sells-group/diet-analysis/pkg/anthropic"
)

// AnthropicBackend sends requests to the Anthropic Messages API. Attachments
// are read from disk on every attempt.
type AnthropicBackend struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropicBackend wraps client.
func NewAnthropicBackend(client anthropic.Client, maxTokens int64) *AnthropicBackend {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicBackend{client: client, maxTokens: maxTokens}
}

// Generate implements Backend.
func (b *AnthropicBackend) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	msg := anthropic.Message{Role: "user", Content: req.Prompt}

	if req.FilePath != "" {
		switch req.MIME {
		case model.MIMEPNG, model.MIMEJPEG, model.MIMEPDF:
		default:
			return "", resilience.Permanent(eris.Errorf("gateway: unsupported attachment type %q", req.MIME))
		}
		data, err := os.ReadFile(req.FilePath)
		if err != nil {
			return "", resilience.Permanent(eris.Wrap(err, "gateway: read attachment"))
		}
		msg.Attachments = []anthropic.Attachment{{MediaType: req.MIME, Data: data}}
	}

	resp, err := b.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     req.Model,
		MaxTokens: b.maxTokens,
		Messages:  []anthropic.Message{msg},
	})
	if err != nil {
		if code, ok := anthropic.StatusCode(err); ok && isInvalidRequest(code) {
			return "", resilience.Permanent(err)
		}
		return "", err
	}

	resp.Usage.LogCost(req.Model, "gateway")
	return resp.Text(), nil
}

// isInvalidRequest reports statuses that no retry can fix. Permission and
// server errors stay retryable.
func isInvalidRequest(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
