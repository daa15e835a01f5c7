package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"snap-solver/internal/ledger"
	"snap-solver/internal/provider"
	"snap-solver/internal/queue"
	"snap-solver/internal/solve"
)

// stubProvider scripts one reply per provider call, in order.
type stubProvider struct {
	mu      sync.Mutex
	replies []func(ctx context.Context) (string, error)
	calls   int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, _ provider.Request) (string, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if i >= len(s.replies) {
		return "", errors.New("unexpected provider call")
	}
	return s.replies[i](ctx)
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func reply(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func failWith(err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", err }
}

// fakeLedgerServer mimics the remote credit service.
type fakeLedgerServer struct {
	mu          sync.Mutex
	credits     int
	cost        int
	refundCalls int
	lastRefund  struct {
		OperationID string `json:"operationId"`
		Amount      int    `json:"amount"`
		Reason      string `json:"reason"`
	}
}

func (f *fakeLedgerServer) start(t *testing.T) *ledger.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/credits/check-and-deduct", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if f.credits < f.cost {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false, "sufficient": false,
				"currentPoints": f.credits, "requiredPoints": f.cost,
				"message": "not enough credits",
			})
			return
		}
		current := f.credits
		f.credits -= f.cost
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true, "sufficient": true,
			"currentPoints": current, "newBalance": f.credits,
		})
	})
	mux.HandleFunc("/credits/refund", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.refundCalls++
		_ = json.NewDecoder(r.Body).Decode(&f.lastRefund)
		f.credits += f.lastRefund.Amount
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("/credits", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"credits": f.credits})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return ledger.New(srv.URL, "", time.Minute, zerolog.Nop())
}

// recorder captures emitted events.
type recorder struct {
	mu        sync.Mutex
	progress  []Progress
	done      int
	failed    []error
	cancelled int
}

func (r *recorder) Progress(_ queue.View, p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) Done(queue.View, *solve.Solution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
}

func (r *recorder) Failed(_ queue.View, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *recorder) Cancelled(queue.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled++
}

func newOrchestrator(t *testing.T, p *stubProvider, l *ledger.Client, rec *recorder) (*Orchestrator, *queue.Manager) {
	t.Helper()
	q, err := queue.NewManager(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("queue.NewManager: %v", err)
	}
	stages := &solve.Stages{Provider: p, BaseModel: "gpt-4o", Language: "python", Log: zerolog.Nop()}
	return New(q, l, stages, rec, zerolog.Nop()), q
}

const codeProblemJSON = `{"statement":"sum a and b","constraints":"1<=a,b<=10","sample_input":"1 2","sample_output":"3"}`

func TestSolveCodeHappyPath(t *testing.T) {
	p := &stubProvider{replies: []func(context.Context) (string, error){
		reply("code_solving"),
		reply(codeProblemJSON),
		reply("Approach:\n- add them\n```python\nprint(sum(map(int, input().split())))\n```\nTime complexity: O(1)\nSpace complexity: O(1)"),
	}}
	f := &fakeLedgerServer{credits: 100, cost: 5}
	rec := &recorder{}
	o, q := newOrchestrator(t, p, f.start(t), rec)

	if _, err := q.Save(queue.ViewPrimary, []byte("img")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sol, err := o.Solve(context.Background(), queue.ViewPrimary)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sol.Kind != solve.KindCodeSolving || sol.Code == nil {
		t.Fatalf("solution = %+v", sol)
	}
	if !strings.Contains(sol.Code.Code, "print(") {
		t.Errorf("code = %q", sol.Code.Code)
	}
	if sol.Code.TimeComplexity != "O(1)" {
		t.Errorf("time complexity = %q", sol.Code.TimeComplexity)
	}
	if f.refundCalls != 0 {
		t.Errorf("refund calls = %d, want 0", f.refundCalls)
	}
	if rec.done != 1 || len(rec.failed) != 0 || rec.cancelled != 0 {
		t.Errorf("events = %+v", rec)
	}
	if len(rec.progress) == 0 {
		t.Error("no progress events emitted")
	}
}

func TestSolveStructuredAnswers(t *testing.T) {
	p := &stubProvider{replies: []func(context.Context) (string, error){
		reply("structured_answer"),
		reply(`{"statement":"pick one","sub_questions":[{"number":"1","text":"q1"},{"number":"2","text":"q2"}]}`),
		reply("Answer:\n1 - A\n2 - B"),
	}}
	f := &fakeLedgerServer{credits: 100, cost: 5}
	o, q := newOrchestrator(t, p, f.start(t), &recorder{})
	_, _ = q.Save(queue.ViewPrimary, []byte("img"))

	sol, err := o.Solve(context.Background(), queue.ViewPrimary)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	want := []solve.ChoiceAnswer{{Number: "1", Answer: "A"}, {Number: "2", Answer: "B"}}
	if len(sol.Answers) != 2 || sol.Answers[0] != want[0] || sol.Answers[1] != want[1] {
		t.Errorf("answers = %+v, want %+v", sol.Answers, want)
	}
}

func TestSolveEmptyQueue(t *testing.T) {
	p := &stubProvider{}
	f := &fakeLedgerServer{credits: 100, cost: 5}
	o, _ := newOrchestrator(t, p, f.start(t), &recorder{})

	_, err := o.Solve(context.Background(), queue.ViewPrimary)
	if !errors.Is(err, ErrNoScreenshots) {
		t.Fatalf("err = %v, want ErrNoScreenshots", err)
	}
	if p.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0", p.callCount())
	}
}

func TestSolveInsufficientCredit(t *testing.T) {
	p := &stubProvider{replies: []func(context.Context) (string, error){
		reply("code_solving"),
	}}
	f := &fakeLedgerServer{credits: 2, cost: 5}
	rec := &recorder{}
	o, q := newOrchestrator(t, p, f.start(t), rec)
	_, _ = q.Save(queue.ViewPrimary, []byte("img"))

	_, err := o.Solve(context.Background(), queue.ViewPrimary)
	var ice *ledger.InsufficientCreditError
	if !errors.As(err, &ice) {
		t.Fatalf("err = %v, want InsufficientCreditError", err)
	}
	if got, want := ice.Error(), "insufficient credit (need 5, have 2)"; got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
	// Classification already ran, but no extract/generate call may follow
	// a declined deduct, and nothing may be refunded.
	if p.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (classify only)", p.callCount())
	}
	if f.refundCalls != 0 {
		t.Errorf("refund calls = %d, want 0", f.refundCalls)
	}
}

func TestSolveFailsWhenLedgerUnreachable(t *testing.T) {
	p := &stubProvider{replies: []func(context.Context) (string, error){
		reply("code_solving"),
	}}
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // keep the URL, kill the listener
	dead := ledger.New(srv.URL, "", time.Minute, zerolog.Nop())

	rec := &recorder{}
	o, q := newOrchestrator(t, p, dead, rec)
	_, _ = q.Save(queue.ViewPrimary, []byte("img"))

	_, err := o.Solve(context.Background(), queue.ViewPrimary)
	if err == nil {
		t.Fatal("Solve succeeded with the ledger down")
	}
	var ice *ledger.InsufficientCreditError
	if errors.As(err, &ice) {
		t.Errorf("err = %v, transport failure misreported as insufficiency", err)
	}
	// Nothing was deducted, so the run ends Failed with no refund and no
	// call past the classify that preceded the deduct attempt.
	if p.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (classify only)", p.callCount())
	}
	if len(rec.failed) != 1 || rec.done != 0 || rec.cancelled != 0 {
		t.Errorf("events = %+v, want one failed", rec)
	}
}

func TestSolveRefundOnProviderFailure(t *testing.T) {
	timeout := &provider.CallError{Provider: "stub", Err: errors.New("timeout")}
	p := &stubProvider{replies: []func(context.Context) (string, error){
		reply("code_solving"),
		reply(codeProblemJSON),
		failWith(timeout),
	}}
	f := &fakeLedgerServer{credits: 100, cost: 5}
	rec := &recorder{}
	o, q := newOrchestrator(t, p, f.start(t), rec)
	_, _ = q.Save(queue.ViewPrimary, []byte("img"))

	_, err := o.Solve(context.Background(), queue.ViewPrimary)
	if err == nil || !provider.IsCallError(err) {
		t.Fatalf("err = %v, want wrapped provider failure", err)
	}

	if f.refundCalls != 1 {
		t.Fatalf("refund calls = %d, want exactly 1", f.refundCalls)
	}
	if f.lastRefund.Amount != 5 {
		t.Errorf("refund amount = %d, want the charged 5", f.lastRefund.Amount)
	}
	if f.lastRefund.Reason != "provider call failed" {
		t.Errorf("refund reason = %q", f.lastRefund.Reason)
	}
	if f.credits != 100 {
		t.Errorf("credits = %d after refund, want 100", f.credits)
	}
	if len(rec.failed) != 1 {
		t.Errorf("failed events = %d, want 1", len(rec.failed))
	}
}

func TestCancelDuringExtractSkipsGenerator(t *testing.T) {
	f := &fakeLedgerServer{credits: 100, cost: 5}
	rec := &recorder{}

	var o *Orchestrator
	p := &stubProvider{}
	p.replies = []func(context.Context) (string, error){
		reply("code_solving"),
		func(ctx context.Context) (string, error) {
			// The user cancels while the extract call is in flight; the
			// response that eventually arrives must be discarded.
			o.Cancel(queue.ViewPrimary)
			<-ctx.Done()
			return codeProblemJSON, ctx.Err()
		},
	}
	var q *queue.Manager
	o, q = newOrchestrator(t, p, f.start(t), rec)
	_, _ = q.Save(queue.ViewPrimary, []byte("img"))

	_, err := o.Solve(context.Background(), queue.ViewPrimary)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if p.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2 (classify + extract, no generate)", p.callCount())
	}
	if rec.cancelled != 1 {
		t.Errorf("cancelled events = %d, want 1", rec.cancelled)
	}
	// Cancellation is not a provider failure: no automatic refund.
	if f.refundCalls != 0 {
		t.Errorf("refund calls = %d, want 0", f.refundCalls)
	}
}

func TestSecondTriggerRejectedWhileActive(t *testing.T) {
	f := &fakeLedgerServer{credits: 100, cost: 5}
	started := make(chan struct{})
	release := make(chan struct{})
	p := &stubProvider{replies: []func(context.Context) (string, error){
		func(context.Context) (string, error) {
			close(started)
			<-release
			return "code_solving", nil
		},
		reply(codeProblemJSON),
		reply("```python\npass\n```"),
	}}
	o, q := newOrchestrator(t, p, f.start(t), &recorder{})
	_, _ = q.Save(queue.ViewPrimary, []byte("img"))

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Solve(context.Background(), queue.ViewPrimary)
		errCh <- err
	}()

	<-started
	if _, err := o.Solve(context.Background(), queue.ViewPrimary); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second trigger err = %v, want ErrRunActive", err)
	}
	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// The view is free again once the run ended.
	p.mu.Lock()
	p.calls = 0
	p.replies = []func(context.Context) (string, error){
		reply("code_solving"),
		reply(codeProblemJSON),
		reply("```python\npass\n```"),
	}
	p.mu.Unlock()
	if _, err := o.Solve(context.Background(), queue.ViewPrimary); err != nil {
		t.Fatalf("run after release: %v", err)
	}
}
