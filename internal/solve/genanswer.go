package solve

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"snap-solver/internal/provider"
)

const genAnswerSystem = `You answer multiple-choice questions. Reply with a block:
Answer:
<number> - <letter>
one line per sub-question, nothing else.`

// GenerateAnswers solves a structured_answer problem with one prompt that
// covers every sub-question. The result is best effort: sub-questions the
// reply did not cover are simply absent from the returned set.
func (s *Stages) GenerateAnswers(ctx context.Context, p *ChoiceProblem) ([]ChoiceAnswer, error) {
	var b strings.Builder
	if p.Statement != NotExtracted && p.Statement != "" {
		fmt.Fprintf(&b, "%s\n\n", p.Statement)
	}
	for _, q := range p.SubQuestions {
		fmt.Fprintf(&b, "%s. %s\n", q.Number, q.Text)
	}

	out, err := s.Provider.Complete(ctx, provider.Request{
		Model: SelectModel(s.BaseModel, KindStructuredAnswer),
		Messages: []provider.Message{
			systemMessage(genAnswerSystem),
			{Role: provider.RoleUser, Parts: []provider.Part{provider.TextPart(b.String())}},
		},
	})
	if err != nil {
		return nil, err
	}
	return ParseChoiceAnswers(out), nil
}

// Primary per-line patterns for the answer block, tried per line in order.
var answerLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*(?:问题|题目|question)?\s*(\d+)\s*[-–—.、:：)]\s*\(?([A-Za-z])\)?\s*$`),
	regexp.MustCompile(`^\s*\(?(\d+)\)?\s+([A-Za-z])\s*$`),
}

// Secondary whole-text pattern, used only when the line scan found nothing.
var answerScanPattern = regexp.MustCompile(`(\d+)\s*[^A-Za-z0-9\n]{0,3}\s*\(?([A-E])\)?\b`)

// ParseChoiceAnswers pulls number→letter pairs out of the generator reply.
// A subset result is acceptable; an empty slice just means nothing matched.
func ParseChoiceAnswers(text string) []ChoiceAnswer {
	var answers []ChoiceAnswer
	seen := map[string]bool{}

	for _, line := range strings.Split(text, "\n") {
		for _, re := range answerLinePatterns {
			if m := re.FindStringSubmatch(line); m != nil {
				add(&answers, seen, m[1], m[2])
				break
			}
		}
	}
	if len(answers) > 0 {
		return answers
	}

	for _, m := range answerScanPattern.FindAllStringSubmatch(text, -1) {
		add(&answers, seen, m[1], m[2])
	}
	return answers
}

func add(answers *[]ChoiceAnswer, seen map[string]bool, number, letter string) {
	if seen[number] {
		return
	}
	seen[number] = true
	*answers = append(*answers, ChoiceAnswer{Number: number, Answer: strings.ToUpper(letter)})
}
