// Package gemini adapts Google's Gemini models to the provider interface.
package gemini

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"snap-solver/internal/provider"
)

type Engine struct {
	apiKey string
}

func New(apiKey string) *Engine {
	return &Engine{apiKey: strings.TrimSpace(apiKey)}
}

func (e *Engine) Name() string { return "gemini" }

func (e *Engine) Complete(ctx context.Context, req provider.Request) (string, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.apiKey))
	if err != nil {
		return "", &provider.CallError{Provider: e.Name(), Err: err}
	}
	defer cl.Close()

	m := cl.GenerativeModel(req.Model)
	m.GenerationConfig = genai.GenerationConfig{Temperature: ptrFloat32(0)}

	var parts []genai.Part
	for _, msg := range req.Messages {
		if msg.Role == provider.RoleSystem {
			var sys []genai.Part
			for _, p := range msg.Parts {
				if p.Text != "" {
					sys = append(sys, genai.Text(p.Text))
				}
			}
			if len(sys) > 0 {
				m.SystemInstruction = &genai.Content{Parts: sys}
			}
			continue
		}
		for _, p := range msg.Parts {
			if p.Image != nil {
				parts = append(parts, genai.Blob{MIMEType: p.MIME, Data: p.Image})
				continue
			}
			if p.Text != "" {
				parts = append(parts, genai.Text(p.Text))
			}
		}
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", &provider.CallError{Provider: e.Name(), Err: err}
	}

	var b strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
	}
	return b.String(), nil
}

func ptrFloat32(f float32) *float32 { return &f }
