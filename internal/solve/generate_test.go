package solve

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCodeSolutionFull(t *testing.T) {
	text := "Approach:\n" +
		"- sort the array\n" +
		"- walk it once\n\n" +
		"```python\n" +
		"def solve(a):\n    return sorted(a)\n" +
		"```\n\n" +
		"Time complexity: O(n log n)\n" +
		"Space complexity: O(n)\n"

	sol := ParseCodeSolution(text)
	require.Equal(t, "def solve(a):\n    return sorted(a)", sol.Code)
	require.Equal(t, []string{"sort the array", "walk it once"}, sol.Approach)
	require.Equal(t, "O(n log n)", sol.TimeComplexity)
	require.Equal(t, "O(n)", sol.SpaceComplexity)
}

func TestParseCodeSolutionNoFenceUsesWholeReply(t *testing.T) {
	text := "print('hello')"
	sol := ParseCodeSolution(text)
	require.Equal(t, "print('hello')", sol.Code)
	require.Equal(t, defaultTimeComplexity, sol.TimeComplexity)
	require.Equal(t, defaultSpaceComplexity, sol.SpaceComplexity)
	require.NotEmpty(t, sol.Approach)
}

func TestParseCodeSolutionLocalizedComplexity(t *testing.T) {
	text := "```go\nfunc main() {}\n```\n时间复杂度: O(1)\n空间复杂度: O(1)\n"
	sol := ParseCodeSolution(text)
	require.Equal(t, "O(1)", sol.TimeComplexity)
	require.Equal(t, "O(1)", sol.SpaceComplexity)
}

func TestParseCodeSolutionApproachFallsBackToLines(t *testing.T) {
	text := "```c\nint main(){}\n```\nFirst we read input.\nThen we print.\n"
	sol := ParseCodeSolution(text)
	require.Equal(t, []string{"First we read input.", "Then we print."}, sol.Approach)
}

func TestParseCodeSolutionEmptyInputStillPopulated(t *testing.T) {
	sol := ParseCodeSolution("")
	require.NotNil(t, sol)
	require.Equal(t, defaultTimeComplexity, sol.TimeComplexity)
	require.Equal(t, defaultSpaceComplexity, sol.SpaceComplexity)
	require.Equal(t, []string{NotExtracted}, sol.Approach)
}

func TestParseChoiceAnswersPrimary(t *testing.T) {
	// The exact shape a well-behaved generator produces.
	got := ParseChoiceAnswers("Answer:\n1 - A\n2 - B")
	require.Equal(t, []ChoiceAnswer{{Number: "1", Answer: "A"}, {Number: "2", Answer: "B"}}, got)
}

func TestParseChoiceAnswersVariants(t *testing.T) {
	got := ParseChoiceAnswers("1. a\n2: B\n3) C\n题目4 - d")
	require.Equal(t, []ChoiceAnswer{
		{Number: "1", Answer: "A"},
		{Number: "2", Answer: "B"},
		{Number: "3", Answer: "C"},
		{Number: "4", Answer: "D"},
	}, got)
}

func TestParseChoiceAnswersSecondaryScan(t *testing.T) {
	// No standalone answer lines at all; the whole-text scan still finds
	// the pairs.
	got := ParseChoiceAnswers("I believe 1:A and 2:C are correct.")
	require.Equal(t, []ChoiceAnswer{{Number: "1", Answer: "A"}, {Number: "2", Answer: "C"}}, got)
}

func TestParseChoiceAnswersSubsetIsAcceptable(t *testing.T) {
	got := ParseChoiceAnswers("2 - B\nno idea about the rest")
	require.Equal(t, []ChoiceAnswer{{Number: "2", Answer: "B"}}, got)
}

func TestParseChoiceAnswersNothingMatched(t *testing.T) {
	require.Empty(t, ParseChoiceAnswers("I cannot answer this."))
}

func TestParseKindDefaultsToCodeSolving(t *testing.T) {
	for _, raw := range []string{"banana", "", "UNKNOWN KIND", "code_solving", "programming task"} {
		require.Equal(t, KindCodeSolving, parseKind(raw), "raw %q", raw)
	}
	require.Equal(t, KindStructuredAnswer, parseKind("structured_answer"))
	require.Equal(t, KindStructuredAnswer, parseKind("Multiple Choice"))
	require.Equal(t, KindStructuredAnswer, parseKind("这是选择题"))
}

func TestSelectModel(t *testing.T) {
	require.Equal(t, "gpt-4o-mini", SelectModel("gpt-4o", KindStructuredAnswer))
	require.Equal(t, "gpt-4o", SelectModel("gpt-4o", KindCodeSolving))
	require.Equal(t, "custom-model", SelectModel("custom-model", KindCodeSolving))
}
