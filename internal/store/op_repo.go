// Package store persists credit operations to Postgres so a crash between a
// successful deduct and its terminal complete/refund leaves a reconcilable
// row instead of a silently debited remote ledger.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"snap-solver/internal/ledger"
)

var ErrNotFound = sql.ErrNoRows

// Open connects a pool suitable for the journal's low write rate and applies
// the schema.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(1 * time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

const schema = `
create table if not exists credit_operations (
  operation_id  text primary key,
  model         text not null,
  question_type text not null,
  amount        integer not null,
  status        text not null,
  created_at    timestamptz not null,
  resolved_at   timestamptz
)`

// OpRepo implements ledger.Journal over Postgres.
type OpRepo struct{ DB *sql.DB }

func NewOpRepo(db *sql.DB) *OpRepo { return &OpRepo{DB: db} }

// Record journals a freshly deducted operation. Re-recording the same id
// overwrites, which keeps the call idempotent across retries.
func (r *OpRepo) Record(ctx context.Context, op ledger.CreditOperation) error {
	const q = `
insert into credit_operations (operation_id, model, question_type, amount, status, created_at)
values ($1,$2,$3,$4,$5,$6)
on conflict (operation_id) do update
set model = excluded.model,
    question_type = excluded.question_type,
    amount = excluded.amount,
    status = excluded.status`
	_, err := r.DB.ExecContext(ctx, q, op.ID, op.Model, op.QuestionType, op.Amount, string(op.Status), op.CreatedAt)
	return err
}

// MarkResolved writes the terminal status of an operation.
func (r *OpRepo) MarkResolved(ctx context.Context, id string, status ledger.Status) error {
	const q = `update credit_operations set status=$2, resolved_at=$3 where operation_id=$1`
	res, err := r.DB.ExecContext(ctx, q, id, string(status), time.Now())
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return ErrNotFound
	}
	return nil
}

// Pending lists operations stuck in pending state, oldest first. This is the
// reconciliation surface after a crash.
func (r *OpRepo) Pending(ctx context.Context) ([]ledger.CreditOperation, error) {
	const q = `
select operation_id, model, question_type, amount, status, created_at
from credit_operations
where status = $1
order by created_at`
	rows, err := r.DB.QueryContext(ctx, q, string(ledger.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.CreditOperation
	for rows.Next() {
		var op ledger.CreditOperation
		var status string
		if err := rows.Scan(&op.ID, &op.Model, &op.QuestionType, &op.Amount, &status, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.Status = ledger.Status(status)
		out = append(out, op)
	}
	return out, rows.Err()
}

// PurgeResolvedOlderThan trims old terminal rows so the journal does not grow
// without bound.
func (r *OpRepo) PurgeResolvedOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	const q = `delete from credit_operations where status <> $1 and created_at < $2`
	res, err := r.DB.ExecContext(ctx, q, string(ledger.StatusPending), cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}
