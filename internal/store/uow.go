package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/roach88/privtx/internal/enc"
)

// UnitOfWork groups encoded-transaction writes into one SQL transaction.
// Hooks registered with AfterCommit run in registration order once Commit
// has succeeded, and never run if the work is rolled back.
type UnitOfWork interface {
	Save(ctx context.Context, tx *enc.EncryptedTransaction) error
	Update(ctx context.Context, tx *enc.EncryptedTransaction) error
	AfterCommit(hook func())
	Commit() error
	Rollback() error
}

type sqlUnitOfWork struct {
	tx    *sql.Tx
	hooks []func()
	done  bool
}

// Begin starts a unit of work. Callers should defer Rollback, which is a
// no-op after a successful Commit.
func (s *TransactionStore) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin unit of work: %w", err)
	}
	return &sqlUnitOfWork{tx: tx}, nil
}

func (u *sqlUnitOfWork) Save(ctx context.Context, et *enc.EncryptedTransaction) error {
	return insertTransaction(ctx, u.tx, et)
}

func (u *sqlUnitOfWork) Update(ctx context.Context, et *enc.EncryptedTransaction) error {
	return updateTransaction(ctx, u.tx, et)
}

func (u *sqlUnitOfWork) AfterCommit(hook func()) {
	u.hooks = append(u.hooks, hook)
}

func (u *sqlUnitOfWork) Commit() error {
	if u.done {
		return fmt.Errorf("commit: unit of work already finished")
	}
	u.done = true
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for i, hook := range u.hooks {
		runHook(i, hook)
	}
	return nil
}

func (u *sqlUnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	u.hooks = nil
	return u.tx.Rollback()
}

// runHook isolates a panicking hook so later hooks still run. The data is
// already durable at this point.
func runHook(i int, hook func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("after-commit hook panicked", "hook", i, "panic", r)
		}
	}()
	hook()
}
