// Package openai adapts the OpenAI chat completion API to the provider
// interface.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"snap-solver/internal/provider"
)

type Engine struct {
	client *goopenai.Client
}

func New(apiKey string) *Engine {
	return &Engine{client: goopenai.NewClient(strings.TrimSpace(apiKey))}
}

func (e *Engine) Name() string { return "openai" }

func (e *Engine) Complete(ctx context.Context, req provider.Request) (string, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, convertMessage(m))
	}

	resp, err := e.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	})
	if err != nil {
		return "", &provider.CallError{Provider: e.Name(), Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &provider.CallError{Provider: e.Name(), Err: fmt.Errorf("empty choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

func convertMessage(m provider.Message) goopenai.ChatCompletionMessage {
	// Text-only messages (system instructions in particular) go through the
	// plain Content field; MultiContent is for image-bearing user turns.
	if len(m.Parts) == 1 && m.Parts[0].Image == nil {
		return goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Parts[0].Text}
	}

	parts := make([]goopenai.ChatMessagePart, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Image != nil {
			dataURL := "data:" + p.MIME + ";base64," + base64.StdEncoding.EncodeToString(p.Image)
			parts = append(parts, goopenai.ChatMessagePart{
				Type:     goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{URL: dataURL},
			})
			continue
		}
		parts = append(parts, goopenai.ChatMessagePart{
			Type: goopenai.ChatMessagePartTypeText,
			Text: p.Text,
		})
	}
	return goopenai.ChatCompletionMessage{Role: m.Role, MultiContent: parts}
}
