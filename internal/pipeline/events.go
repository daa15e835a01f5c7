package pipeline

import (
	"snap-solver/internal/queue"
	"snap-solver/internal/solve"
)

// Progress is a non-terminal status update for the host shell.
type Progress struct {
	Message string
	Percent int
}

// Emitter receives run events. The host shell renders them; the orchestrator
// never blocks on presentation concerns, so implementations should return
// quickly.
type Emitter interface {
	Progress(view queue.View, p Progress)
	Done(view queue.View, sol *solve.Solution)
	Failed(view queue.View, err error)
	Cancelled(view queue.View)
}

type nopEmitter struct{}

func (nopEmitter) Progress(queue.View, Progress)    {}
func (nopEmitter) Done(queue.View, *solve.Solution) {}
func (nopEmitter) Failed(queue.View, error)         {}
func (nopEmitter) Cancelled(queue.View)             {}
