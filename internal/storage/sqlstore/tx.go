package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/roach88/ormso/internal/storage"
)

type txKey struct{}

// txState is the transaction bound to a context. depth counts the open
// Begin calls; only the outermost Commit finalizes.
type txState struct {
	mu           sync.Mutex
	owner        *Store
	tx           *sql.Tx
	depth        int
	rollbackOnly bool
	done         bool
}

func txFrom(ctx context.Context, s *Store) *txState {
	st, ok := ctx.Value(txKey{}).(*txState)
	if !ok || st.owner != s {
		return nil
	}
	return st
}

// BeginTransaction starts a transaction, or joins the one carried by ctx.
// The returned context must be used for every statement of the transaction
// and passed to the matching Commit or Rollback.
func (s *Store) BeginTransaction(ctx context.Context) (context.Context, error) {
	if st := txFrom(ctx, s); st != nil {
		st.mu.Lock()
		defer st.mu.Unlock()
		if !st.done {
			st.depth++
			return ctx, nil
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, fmt.Errorf("begin transaction: %w", err)
	}
	st := &txState{owner: s, tx: tx, depth: 1}
	return context.WithValue(ctx, txKey{}, st), nil
}

// CommitTransaction closes one Begin. The outermost call commits, or rolls
// back with storage.ErrRolledBack when a nested scope called Rollback.
func (s *Store) CommitTransaction(ctx context.Context) error {
	st := txFrom(ctx, s)
	if st == nil {
		return storage.ErrNoTransaction
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return storage.ErrNoTransaction
	}

	st.depth--
	if st.depth > 0 {
		return nil
	}
	st.done = true
	if st.rollbackOnly {
		if err := st.tx.Rollback(); err != nil {
			return fmt.Errorf("rollback transaction: %w", err)
		}
		return storage.ErrRolledBack
	}
	if err := st.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction closes one Begin and marks the transaction
// rollback-only. The outermost call rolls back immediately.
func (s *Store) RollbackTransaction(ctx context.Context) error {
	st := txFrom(ctx, s)
	if st == nil {
		return storage.ErrNoTransaction
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return nil
	}

	st.rollbackOnly = true
	st.depth--
	if st.depth > 0 {
		return nil
	}
	st.done = true
	if err := st.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}
