package claude

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"berrytrace/internal/describe"
)

// Analyzer implements describe.Describer on the Anthropic Messages API.
type Analyzer struct {
	client *anthropic.Client
	model  anthropic.Model
}

func New(apiKey, model string, opts ...anthropic.ClientOption) *Analyzer {
	return &Analyzer{
		client: anthropic.NewClient(apiKey, opts...),
		model:  anthropic.Model(model),
	}
}

func (a *Analyzer) Describe(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	resp, err := a.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     a.model,
		MaxTokens: 512,
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
						anthropic.MessagesContentSourceTypeBase64, mediaType(imagePath), data)),
					anthropic.NewTextMessageContent(describe.Prompt),
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to call claude: %w", err)
	}

	for _, content := range resp.Content {
		if text := content.GetText(); text != "" {
			return strings.TrimSpace(text), nil
		}
	}
	return "", fmt.Errorf("claude returned no text content")
}

// mediaType maps a file extension to the media types the API accepts;
// anything unknown is sent as jpeg.
func mediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
