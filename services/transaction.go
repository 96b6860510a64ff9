package services

import (
	"context"

	"github.com/upb/org-rag-assistant/repositories"
)

// WithTransaction runs fn inside a database transaction.
// Repositories called with the ctx passed to fn join the transaction.
// It commits when fn returns nil and rolls back otherwise.
func WithTransaction(ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context) error) error {
	return txMgr.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		return fn(txCtx)
	})
}

// WithTransactionResult runs fn inside a database transaction and returns its result.
// On error the zero value of T is returned.
func WithTransactionResult[T any](ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := txMgr.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		r, err := fn(txCtx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
