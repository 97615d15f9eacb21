package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"FundLedger/internal/ledger"
)

// FindBatchByIdempotencyKey returns the batch previously created under key,
// entries included. A miss is reported as ErrBatchNotFound.
func (s *PostgresStore) FindBatchByIdempotencyKey(ctx context.Context, key string) (*ledger.Batch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE idempotency_key = $1 LIMIT 1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: idempotency key %q", ledger.ErrBatchNotFound, key)
	}
	if err != nil {
		return nil, wrap("find by idempotency key", err)
	}

	entries, err := s.ListEntries(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Entries = entries
	return b, nil
}

// RecentIdempotencyKeys returns up to limit key/batch pairs, oldest first,
// for warming the in-memory dedup cache on startup.
func (s *PostgresStore) RecentIdempotencyKeys(ctx context.Context, limit int) ([]ledger.IdempotencyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idempotency_key, id FROM (
			SELECT idempotency_key, id, created_at
			FROM batches
			WHERE idempotency_key IS NOT NULL
			ORDER BY created_at DESC
			LIMIT $1
		) recent
		ORDER BY created_at ASC`, limit)
	if err != nil {
		return nil, wrap("recent idempotency keys", err)
	}
	defer rows.Close()

	var out []ledger.IdempotencyRecord
	for rows.Next() {
		var r ledger.IdempotencyRecord
		if err := rows.Scan(&r.Key, &r.BatchID); err != nil {
			return nil, wrap("scan idempotency key", err)
		}
		out = append(out, r)
	}
	return out, wrap("recent idempotency keys", rows.Err())
}
