// Package pipeline sequences a solve run: classify → deduct credit →
// extract → generate → complete, refunding the charge when generation work
// fails after a successful deduct.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"snap-solver/internal/ledger"
	"snap-solver/internal/queue"
	"snap-solver/internal/solve"
)

// State of a run. Completed, Failed and Cancelled are terminal.
type State string

const (
	StateIdle           State = "idle"
	StateClassifying    State = "classifying"
	StateCreditChecking State = "credit_checking"
	StateExtracting     State = "extracting"
	StateGenerating     State = "generating"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

var (
	// ErrNoScreenshots is returned when the targeted queue is empty at
	// solve time. No credit is involved.
	ErrNoScreenshots = errors.New("no screenshots")
	// ErrRunActive rejects a second trigger while a run is in flight for
	// the same view.
	ErrRunActive = errors.New("a run is already active for this view")
)

// Run is the transient per-execution state, owned by the orchestrator and
// threaded through every stage. There are no module-level globals.
type Run struct {
	View        queue.View
	State       State
	OperationID string
	Problem     solve.ProblemInfo

	runCtx context.Context
	cancel context.CancelFunc
}

// Orchestrator drives runs. One instance serves both views; at most one run
// per view is active at a time.
type Orchestrator struct {
	Queue   *queue.Manager
	Ledger  *ledger.Client
	Stages  *solve.Stages
	Emitter Emitter
	Log     zerolog.Logger

	mu     sync.Mutex
	active map[queue.View]*Run
}

func New(q *queue.Manager, l *ledger.Client, s *solve.Stages, e Emitter, log zerolog.Logger) *Orchestrator {
	if e == nil {
		e = nopEmitter{}
	}
	return &Orchestrator{
		Queue:   q,
		Ledger:  l,
		Stages:  s,
		Emitter: e,
		Log:     log,
		active:  make(map[queue.View]*Run),
	}
}

// Cancel cancels the active run for the view, if any. The run winds down at
// its next suspension point; in-flight provider responses are discarded.
func (o *Orchestrator) Cancel(view queue.View) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.active[view]
	if !ok {
		return false
	}
	r.cancel()
	return true
}

// Solve executes one full run against the view's queue. It blocks until the
// run reaches a terminal state; events are emitted along the way. The caller
// usually runs it on its own goroutine.
func (o *Orchestrator) Solve(ctx context.Context, view queue.View) (*solve.Solution, error) {
	run, err := o.begin(ctx, view)
	if err != nil {
		return nil, err
	}
	defer o.end(run)

	sol, err := o.execute(run.runCtx, run)
	switch {
	case err == nil:
		run.State = StateCompleted
		o.Emitter.Done(view, sol)
		return sol, nil
	case errors.Is(err, context.Canceled):
		run.State = StateCancelled
		o.Emitter.Cancelled(view)
		return nil, err
	default:
		run.State = StateFailed
		o.Emitter.Failed(view, err)
		return nil, err
	}
}

func (o *Orchestrator) begin(ctx context.Context, view queue.View) (*Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[view]; busy {
		return nil, ErrRunActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{View: view, State: StateIdle, cancel: cancel, runCtx: runCtx}
	o.active[view] = r
	return r, nil
}

func (o *Orchestrator) end(r *Run) {
	r.cancel()
	o.mu.Lock()
	delete(o.active, r.View)
	o.mu.Unlock()
}

// execute walks the state machine. Cancellation is checked immediately
// before every suspension point; once a run is cancelled no further remote
// calls are issued for it.
func (o *Orchestrator) execute(ctx context.Context, run *Run) (*solve.Solution, error) {
	snapshot := o.Queue.Snapshot(run.View)
	if len(snapshot) == 0 {
		return nil, ErrNoScreenshots
	}
	images, err := readImages(snapshot)
	if err != nil {
		return nil, err
	}

	// Classifying
	if err := advance(ctx, run, StateClassifying); err != nil {
		return nil, err
	}
	o.Emitter.Progress(run.View, Progress{Message: "classifying question", Percent: 10})
	kind, err := o.Stages.Classify(ctx, images)
	if err != nil {
		return nil, stageError(ctx, err)
	}
	model := solve.SelectModel(o.Stages.BaseModel, kind)
	o.Log.Info().Str("kind", string(kind)).Str("model", model).Str("view", string(run.View)).Msg("run classified")

	// CreditChecking: the single atomic check-and-deduct. Failing here
	// needs no refund, nothing was deducted yet.
	if err := advance(ctx, run, StateCreditChecking); err != nil {
		return nil, err
	}
	o.Emitter.Progress(run.View, Progress{Message: "checking credit", Percent: 30})
	run.OperationID = uuid.NewString()
	op, err := o.Ledger.CheckAndDeduct(ctx, model, string(kind), run.OperationID)
	if err != nil {
		return nil, stageError(ctx, err)
	}

	// Extracting: from here on a hard provider failure refunds the charge.
	if err := advance(ctx, run, StateExtracting); err != nil {
		return nil, err
	}
	o.Emitter.Progress(run.View, Progress{Message: "extracting problem", Percent: 50})
	problem, err := o.Stages.Extract(ctx, kind, images)
	if err != nil {
		return nil, o.failAndRefund(ctx, run, op, err)
	}
	run.Problem = problem

	// Generating
	if err := advance(ctx, run, StateGenerating); err != nil {
		return nil, err
	}
	o.Emitter.Progress(run.View, Progress{Message: "generating solution", Percent: 70})
	sol, err := o.generate(ctx, problem)
	if err != nil {
		return nil, o.failAndRefund(ctx, run, op, err)
	}

	// Complete closes the saga locally; the remote deduction stands.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.Emitter.Progress(run.View, Progress{Message: "finalizing", Percent: 90})
	if err := o.Ledger.Complete(op.ID); err != nil {
		o.Log.Error().Err(err).Str("op", op.ID).Msg("could not close credit operation")
	}
	return sol, nil
}

// generate dispatches on the problem variant.
func (o *Orchestrator) generate(ctx context.Context, problem solve.ProblemInfo) (*solve.Solution, error) {
	switch problem.Kind {
	case solve.KindStructuredAnswer:
		answers, err := o.Stages.GenerateAnswers(ctx, problem.Choice)
		if err != nil {
			return nil, err
		}
		return &solve.Solution{Kind: problem.Kind, Answers: answers}, nil
	default:
		code, err := o.Stages.GenerateCode(ctx, problem.Code)
		if err != nil {
			return nil, err
		}
		return &solve.Solution{Kind: problem.Kind, Code: code}, nil
	}
}

// failAndRefund issues the compensating refund for a provider failure after
// a successful deduct. Cancellation mid-call is not refunded (the response
// is merely discarded), matching the run lifecycle contract.
func (o *Orchestrator) failAndRefund(ctx context.Context, run *Run, op *ledger.CreditOperation, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return cause
	}
	// Refund on a fresh context: the run context may already be poisoned
	// by a provider timeout.
	refundCtx := context.WithoutCancel(ctx)
	if err := o.Ledger.Refund(refundCtx, op.ID, op.Amount, "provider call failed"); err != nil {
		o.Log.Error().Err(err).Str("op", op.ID).Msg("compensating refund failed")
	}
	return fmt.Errorf("solve failed: %w", cause)
}

// advance moves the run to the next state after the mandatory cancellation
// check that precedes every suspension point.
func advance(ctx context.Context, run *Run, next State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run.State = next
	return nil
}

// stageError normalizes an error from a remote call: a cancellation during
// the call wins over whatever the transport reported.
func stageError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func readImages(tasks []queue.Task) ([][]byte, error) {
	images := make([][]byte, 0, len(tasks))
	for _, t := range tasks {
		b, err := os.ReadFile(t.Path)
		if err != nil {
			return nil, fmt.Errorf("read screenshot %s: %w", t.Path, err)
		}
		images = append(images, b)
	}
	return images, nil
}
