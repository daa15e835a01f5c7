package ledger

import (
	"context"
	"time"
)

// Status is the lifecycle of a credit operation. Transitions are
// pending → completed or pending → refunded, exactly once, never both.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
)

// CreditOperation correlates one successful deduct with its eventual
// completion or refund. The id is caller generated, unique per run.
type CreditOperation struct {
	ID           string
	Model        string
	QuestionType string
	Amount       int
	Status       Status
	CreatedAt    time.Time
	ResolvedAt   time.Time

	// refundStarted is set under the client mutex before the refund call
	// goes out, so at most one refund attempt ever reaches the wire.
	refundStarted bool
}

// Journal persists operation transitions. Without one, a crash between a
// successful deduct and its complete/refund leaves the remote ledger debited
// with no local trace.
type Journal interface {
	Record(ctx context.Context, op CreditOperation) error
	MarkResolved(ctx context.Context, id string, status Status) error
}
