package solve

import (
	"context"
	"strings"

	"snap-solver/internal/provider"
)

const classifySystem = `You are a strict classifier for screenshots of exam or interview questions.
Look at ALL attached images as one question set and answer with EXACTLY one token:
- "code_solving" if they show a programming problem to be solved with code;
- "structured_answer" if they show multiple-choice or short sub-questions answered with letter options.
No explanations, no punctuation, one token only.`

// Classify labels the screenshot batch with one question kind in a single
// multimodal call. Any output outside the closed vocabulary falls back to
// code_solving. There is no retry.
func (s *Stages) Classify(ctx context.Context, images [][]byte) (QuestionKind, error) {
	out, err := s.Provider.Complete(ctx, provider.Request{
		Model: s.BaseModel,
		Messages: []provider.Message{
			systemMessage(classifySystem),
			imageMessage("Classify these screenshots.", images),
		},
	})
	if err != nil {
		return "", err
	}
	kind := parseKind(out)
	s.Log.Debug().Str("raw", firstLine(out)).Str("kind", string(kind)).Msg("classified")
	return kind, nil
}

// parseKind maps a model reply onto the closed question-kind vocabulary.
func parseKind(out string) QuestionKind {
	t := strings.ToLower(strings.TrimSpace(out))
	switch {
	case strings.Contains(t, string(KindStructuredAnswer)),
		strings.Contains(t, "multiple_choice"),
		strings.Contains(t, "multiple choice"),
		strings.Contains(t, "choice"),
		strings.Contains(t, "选择"):
		return KindStructuredAnswer
	default:
		return KindCodeSolving
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
