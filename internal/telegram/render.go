package telegram

import (
	"fmt"
	"strings"

	"snap-solver/internal/solve"
)

// renderSolution formats a terminal solution for chat.
func renderSolution(sol *solve.Solution) string {
	var b strings.Builder

	if sol.Kind == solve.KindStructuredAnswer {
		b.WriteString("✅ Answers:\n")
		if len(sol.Answers) == 0 {
			b.WriteString("(none could be parsed from the model reply)\n")
		}
		for _, a := range sol.Answers {
			fmt.Fprintf(&b, "%s - %s\n", a.Number, a.Answer)
		}
		return b.String()
	}

	c := sol.Code
	b.WriteString("✅ Solution\n\nApproach:\n")
	for _, step := range c.Approach {
		fmt.Fprintf(&b, "• %s\n", step)
	}
	fmt.Fprintf(&b, "\n```\n%s\n```\n", c.Code)
	fmt.Fprintf(&b, "\nTime: %s\nSpace: %s\n", c.TimeComplexity, c.SpaceComplexity)
	return b.String()
}
