package solve

import (
	"github.com/rs/zerolog"

	"snap-solver/internal/provider"
	"snap-solver/internal/util"
)

// Stages bundles the AI-facing steps of a run around one completion provider.
type Stages struct {
	Provider provider.Provider
	// BaseModel is the configured model id; the per-stage model comes from
	// SelectModel(BaseModel, kind).
	BaseModel string
	// Language is the target language for generated code.
	Language string
	Log      zerolog.Logger
}

// imageMessage builds a user message with optional leading text and every
// screenshot attached as an inline image part.
func imageMessage(text string, images [][]byte) provider.Message {
	parts := make([]provider.Part, 0, len(images)+1)
	if text != "" {
		parts = append(parts, provider.TextPart(text))
	}
	for _, img := range images {
		parts = append(parts, provider.ImagePart(img, util.SniffMime(img)))
	}
	return provider.Message{Role: provider.RoleUser, Parts: parts}
}

func systemMessage(text string) provider.Message {
	return provider.Message{Role: provider.RoleSystem, Parts: []provider.Part{provider.TextPart(text)}}
}
