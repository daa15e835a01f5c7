// Package solve holds the AI stages of the pipeline: classification,
// problem extraction and solution generation, together with the fallback
// parser chains that turn loosely structured model output into values the
// orchestrator can rely on.
package solve

// QuestionKind is the closed set of problem categories the classifier emits.
type QuestionKind string

const (
	// KindCodeSolving is a programming problem answered with code. It is
	// also the default when classification is ambiguous.
	KindCodeSolving QuestionKind = "code_solving"
	// KindStructuredAnswer is a set of sub-questions answered with
	// single-letter choices.
	KindStructuredAnswer QuestionKind = "structured_answer"
)

// NotExtracted is the placeholder written into any problem field the parser
// chain could not recover. Extraction never fails past a successful provider
// call; it degrades to this.
const NotExtracted = "could not be extracted"

// CodeProblem is the structured description of a programming problem.
type CodeProblem struct {
	Statement    string `json:"statement"`
	Constraints  string `json:"constraints"`
	SampleInput  string `json:"sample_input"`
	SampleOutput string `json:"sample_output"`
}

// SubQuestion is one numbered item of a structured-answer problem.
type SubQuestion struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// ChoiceProblem is the structured description of a structured-answer problem.
type ChoiceProblem struct {
	Statement    string        `json:"statement"`
	SubQuestions []SubQuestion `json:"sub_questions"`
}

// ProblemInfo is a tagged union: exactly one variant is set, matching Kind.
// Stage functions switch on Kind instead of probing optional fields.
type ProblemInfo struct {
	Kind   QuestionKind
	Code   *CodeProblem
	Choice *ChoiceProblem
}

// CodeSolution is the fully populated result of the code generator. No field
// is ever left empty; the parser chain substitutes defaults.
type CodeSolution struct {
	Code            string
	Approach        []string
	TimeComplexity  string
	SpaceComplexity string
}

// ChoiceAnswer maps a sub-question number to a single-letter choice.
type ChoiceAnswer struct {
	Number string
	Answer string
}

// Solution is the terminal output of a run, one variant per question kind.
type Solution struct {
	Kind    QuestionKind
	Code    *CodeSolution
	Answers []ChoiceAnswer
}

// modelTable maps a configured base model id and question kind to the model
// actually used for the run. Unknown base models fall through unchanged.
var modelTable = map[string]map[QuestionKind]string{
	"gpt-4o": {
		KindCodeSolving:      "gpt-4o",
		KindStructuredAnswer: "gpt-4o-mini",
	},
	"gpt-4.1": {
		KindCodeSolving:      "gpt-4.1",
		KindStructuredAnswer: "gpt-4.1-mini",
	},
	"gemini-2.5-pro": {
		KindCodeSolving:      "gemini-2.5-pro",
		KindStructuredAnswer: "gemini-2.5-flash",
	},
	"gemini-2.5-flash": {
		KindCodeSolving:      "gemini-2.5-flash",
		KindStructuredAnswer: "gemini-2.5-flash",
	},
}

// SelectModel resolves the model name for a question kind from the static
// lookup table.
func SelectModel(configured string, kind QuestionKind) string {
	if byKind, ok := modelTable[configured]; ok {
		if m, ok := byKind[kind]; ok {
			return m
		}
	}
	return configured
}
