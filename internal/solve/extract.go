package solve

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"snap-solver/internal/provider"
)

const extractCodeSystem = `You read screenshots of a programming problem and return STRICT JSON:
{
  "statement": string,      // full problem statement
  "constraints": string,    // input constraints / data ranges, "" if absent
  "sample_input": string,   // sample input, "" if absent
  "sample_output": string   // sample output, "" if absent
}
Return the JSON object only, no commentary, no code fences.`

const extractChoiceSystem = `You read screenshots of multiple-choice or short-answer questions and return STRICT JSON:
{
  "statement": string,                 // shared context or instructions, "" if absent
  "sub_questions": [{"number": string, "text": string}]
}
List every sub-question with its printed number. Return the JSON object only.`

// Extract turns the screenshot batch into a ProblemInfo of the given kind.
// Only a hard provider failure is returned as an error; any parsing trouble
// degrades through the fallback chain down to placeholder fields.
func (s *Stages) Extract(ctx context.Context, kind QuestionKind, images [][]byte) (ProblemInfo, error) {
	system := extractCodeSystem
	if kind == KindStructuredAnswer {
		system = extractChoiceSystem
	}
	out, err := s.Provider.Complete(ctx, provider.Request{
		Model: SelectModel(s.BaseModel, kind),
		Messages: []provider.Message{
			systemMessage(system),
			imageMessage("Extract the problem from these screenshots.", images),
		},
	})
	if err != nil {
		return ProblemInfo{}, err
	}
	return ParseProblem(kind, out), nil
}

// ParseProblem runs the parser chain for the kind over raw model text. It
// never fails: strict JSON first, the tolerant label scan next, placeholders
// last.
func ParseProblem(kind QuestionKind, text string) ProblemInfo {
	if kind == KindStructuredAnswer {
		p := parseChoiceProblem(text)
		return ProblemInfo{Kind: kind, Choice: p}
	}
	p := parseCodeProblem(text)
	return ProblemInfo{Kind: kind, Code: p}
}

func parseCodeProblem(text string) *CodeProblem {
	for _, parse := range codeProblemChain {
		if p, ok := parse(text); ok {
			fillCodeDefaults(p)
			return p
		}
	}
	p := &CodeProblem{}
	fillCodeDefaults(p)
	return p
}

func parseChoiceProblem(text string) *ChoiceProblem {
	for _, parse := range choiceProblemChain {
		if p, ok := parse(text); ok {
			fillChoiceDefaults(p)
			return p
		}
	}
	p := &ChoiceProblem{}
	fillChoiceDefaults(p)
	return p
}

// Ordered strategies: first success wins.
var codeProblemChain = []func(string) (*CodeProblem, bool){
	parseCodeStrict,
	parseCodeLabels,
}

var choiceProblemChain = []func(string) (*ChoiceProblem, bool){
	parseChoiceStrict,
	parseChoiceLabels,
}

// outermostJSON returns the outermost {...} span of the text, or "" when the
// braces are missing or unbalanced in the trivial sense.
func outermostJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// parseCodeStrict requires a JSON object carrying every expected key.
func parseCodeStrict(text string) (*CodeProblem, bool) {
	span := outermostJSON(text)
	if span == "" {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &fields); err != nil {
		return nil, false
	}
	for _, key := range []string{"statement", "constraints", "sample_input", "sample_output"} {
		if _, ok := fields[key]; !ok {
			return nil, false
		}
	}
	var p CodeProblem
	if err := json.Unmarshal([]byte(span), &p); err != nil {
		return nil, false
	}
	return &p, true
}

func parseChoiceStrict(text string) (*ChoiceProblem, bool) {
	span := outermostJSON(text)
	if span == "" {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &fields); err != nil {
		return nil, false
	}
	for _, key := range []string{"statement", "sub_questions"} {
		if _, ok := fields[key]; !ok {
			return nil, false
		}
	}
	var p ChoiceProblem
	if err := json.Unmarshal([]byte(span), &p); err != nil {
		return nil, false
	}
	return &p, true
}

// Labeled-field patterns for the tolerant line scan. Latin and Chinese labels
// both occur in practice, depending on the screenshot language.
var (
	reStatementLabel    = regexp.MustCompile(`(?i)^\s*(?:statement|description|problem|题目|题目描述|问题描述)\s*[:：]\s*(.*)$`)
	reConstraintsLabel  = regexp.MustCompile(`(?i)^\s*(?:constraints?|limits?|约束|限制|数据范围)\s*[:：]\s*(.*)$`)
	reSampleInputLabel  = regexp.MustCompile(`(?i)^\s*(?:sample\s*input|input\s*example|示例输入|输入样例)\s*[:：]\s*(.*)$`)
	reSampleOutputLabel = regexp.MustCompile(`(?i)^\s*(?:sample\s*output|output\s*example|示例输出|输出样例)\s*[:：]\s*(.*)$`)

	reSubQuestionLine = regexp.MustCompile(`^\s*(?:Q|question\s*|问题\s*|第)?(\d+)(?:题)?\s*[.)、:：-]\s*(.+)$`)
)

// parseCodeLabels scans line by line for labeled fields. Lines following a
// matched label are appended to that field until the next label. Succeeds if
// at least one field was recovered.
func parseCodeLabels(text string) (*CodeProblem, bool) {
	p := &CodeProblem{}
	var current *string
	found := false

	for _, line := range strings.Split(text, "\n") {
		switch {
		case matchInto(reStatementLabel, line, &p.Statement, &current),
			matchInto(reConstraintsLabel, line, &p.Constraints, &current),
			matchInto(reSampleInputLabel, line, &p.SampleInput, &current),
			matchInto(reSampleOutputLabel, line, &p.SampleOutput, &current):
			found = true
		case current != nil && strings.TrimSpace(line) != "":
			if *current != "" {
				*current += "\n"
			}
			*current += strings.TrimSpace(line)
		}
	}
	return p, found
}

// matchInto tries one label pattern and on success points the scanner's
// current field at the destination.
func matchInto(re *regexp.Regexp, line string, dst *string, current **string) bool {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	*dst = strings.TrimSpace(m[1])
	*current = dst
	return true
}

// parseChoiceLabels treats numbered lines as sub-questions and everything
// before the first one as the shared statement.
func parseChoiceLabels(text string) (*ChoiceProblem, bool) {
	p := &ChoiceProblem{}
	var head []string

	for _, line := range strings.Split(text, "\n") {
		if m := reSubQuestionLine.FindStringSubmatch(line); m != nil {
			p.SubQuestions = append(p.SubQuestions, SubQuestion{
				Number: m[1],
				Text:   strings.TrimSpace(m[2]),
			})
			continue
		}
		if len(p.SubQuestions) == 0 && strings.TrimSpace(line) != "" {
			head = append(head, strings.TrimSpace(line))
		}
	}
	if len(p.SubQuestions) == 0 {
		return nil, false
	}
	p.Statement = strings.Join(head, "\n")
	return p, true
}

func fillCodeDefaults(p *CodeProblem) {
	if strings.TrimSpace(p.Statement) == "" {
		p.Statement = NotExtracted
	}
	if strings.TrimSpace(p.Constraints) == "" {
		p.Constraints = NotExtracted
	}
	if strings.TrimSpace(p.SampleInput) == "" {
		p.SampleInput = NotExtracted
	}
	if strings.TrimSpace(p.SampleOutput) == "" {
		p.SampleOutput = NotExtracted
	}
}

func fillChoiceDefaults(p *ChoiceProblem) {
	if strings.TrimSpace(p.Statement) == "" {
		p.Statement = NotExtracted
	}
	if len(p.SubQuestions) == 0 {
		p.SubQuestions = []SubQuestion{{Number: "1", Text: NotExtracted}}
	}
}
