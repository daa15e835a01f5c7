package solve

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"snap-solver/internal/provider"
)

const genCodeSystem = `You are a competitive-programming assistant. Solve the problem and reply with:
1. A single fenced code block with the complete solution in the requested language.
2. A short "Approach:" section as a bulleted list.
3. A line "Time complexity: O(...)" and a line "Space complexity: O(...)".`

const (
	defaultTimeComplexity  = "O(n)"
	defaultSpaceComplexity = "O(1)"
)

// GenerateCode solves a code_solving problem. The reply parser always
// returns a fully populated CodeSolution; only a provider failure is an
// error.
func (s *Stages) GenerateCode(ctx context.Context, p *CodeProblem) (*CodeSolution, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Target language: %s\n\n", s.Language)
	fmt.Fprintf(&b, "Problem:\n%s\n", p.Statement)
	if p.Constraints != NotExtracted {
		fmt.Fprintf(&b, "\nConstraints:\n%s\n", p.Constraints)
	}
	if p.SampleInput != NotExtracted {
		fmt.Fprintf(&b, "\nSample input:\n%s\n", p.SampleInput)
	}
	if p.SampleOutput != NotExtracted {
		fmt.Fprintf(&b, "\nSample output:\n%s\n", p.SampleOutput)
	}

	out, err := s.Provider.Complete(ctx, provider.Request{
		Model: SelectModel(s.BaseModel, KindCodeSolving),
		Messages: []provider.Message{
			systemMessage(genCodeSystem),
			{Role: provider.RoleUser, Parts: []provider.Part{provider.TextPart(b.String())}},
		},
	})
	if err != nil {
		return nil, err
	}
	return ParseCodeSolution(out), nil
}

var (
	reFencedCode = regexp.MustCompile("(?s)```[a-zA-Z0-9+#._-]*[ \t]*\n?(.*?)```")
	reBulletLine = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)、])\s+(.+)$`)

	reTimeComplexity  = regexp.MustCompile(`(?i)(?:time\s*complexity|时间复杂度)\s*[:：]?\s*(O\([^)\n]*\)|[^\s][^\n]*)`)
	reSpaceComplexity = regexp.MustCompile(`(?i)(?:space\s*complexity|空间复杂度)\s*[:：]?\s*(O\([^)\n]*\)|[^\s][^\n]*)`)
)

// ParseCodeSolution extracts code, approach and complexities from free-form
// model text. Every field is populated: the first fenced block is the code
// (the whole reply when there is none), the approach falls back from bullet
// markers to plain non-empty lines, and both complexities default when the
// labels are absent.
func ParseCodeSolution(text string) *CodeSolution {
	sol := &CodeSolution{
		TimeComplexity:  defaultTimeComplexity,
		SpaceComplexity: defaultSpaceComplexity,
	}

	prose := text
	if m := reFencedCode.FindStringSubmatchIndex(text); m != nil {
		sol.Code = strings.TrimSpace(text[m[2]:m[3]])
		prose = text[:m[0]] + text[m[1]:]
	} else {
		sol.Code = strings.TrimSpace(text)
	}

	if m := reTimeComplexity.FindStringSubmatch(prose); m != nil {
		sol.TimeComplexity = strings.TrimSpace(m[1])
	}
	if m := reSpaceComplexity.FindStringSubmatch(prose); m != nil {
		sol.SpaceComplexity = strings.TrimSpace(m[1])
	}

	sol.Approach = parseApproach(prose)
	return sol
}

func parseApproach(prose string) []string {
	var bullets []string
	for _, line := range strings.Split(prose, "\n") {
		if m := reBulletLine.FindStringSubmatch(line); m != nil {
			bullets = append(bullets, strings.TrimSpace(m[1]))
		}
	}
	if len(bullets) > 0 {
		return bullets
	}

	// No bullet markers: fall back to non-empty prose lines, skipping the
	// complexity lines already consumed above.
	for _, line := range strings.Split(prose, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || reTimeComplexity.MatchString(t) || reSpaceComplexity.MatchString(t) {
			continue
		}
		bullets = append(bullets, t)
	}
	if len(bullets) == 0 {
		bullets = []string{NotExtracted}
	}
	return bullets
}
