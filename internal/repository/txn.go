package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/consultease/central/pkg/errors"
)

const (
	txAttempts     = 3
	txRetryBackoff = 500 * time.Millisecond
)

// RunInTx runs fn inside a transaction, committing on success and retrying
// transient failures up to three times with a doubling backoff. Domain errors
// abort immediately; only infrastructure errors are worth retrying.
func RunInTx[T any](ctx context.Context, db *sqlx.DB, log *zap.Logger, fn func(tx *sqlx.Tx) (T, error)) (T, error) {
	var zero T
	var lastErr error

	backoff := txRetryBackoff
	for attempt := 1; attempt <= txAttempts; attempt++ {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			lastErr = err
		} else {
			result, err := fn(tx)
			if err == nil {
				if commitErr := tx.Commit(); commitErr == nil {
					return result, nil
				} else {
					lastErr = commitErr
				}
			} else {
				_ = tx.Rollback()
				var domainErr *apperrors.Error
				if errors.As(err, &domainErr) {
					return zero, err
				}
				lastErr = err
			}
		}

		if attempt == txAttempts {
			break
		}
		log.Warn("transaction attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return zero, lastErr
}
