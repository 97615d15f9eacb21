package persistence

import (
	"context"
	"fmt"
	"strings"

	"FundLedger/internal/ledger"
)

// entryColumns is the column count of one ledger_entries row in the multi-row INSERT.
const entryColumns = 5

// InsertBatchWithEntries writes the batch header and all of its entries in a
// single transaction. Entries go out as one multi-row INSERT.
func (s *PostgresStore) InsertBatchWithEntries(ctx context.Context, b *ledger.Batch) (err error) {
	if len(b.Entries) == 0 {
		return fmt.Errorf("%w: batch %s has no entries", ledger.ErrInvalidBatch, b.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin insert", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var key interface{}
	if b.IdempotencyKey != "" {
		key = b.IdempotencyKey
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches
			(id, batch_date, description, category, status, idempotency_key, total, checksum, entry_count, created_at, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.BatchDate, b.Description, b.Category, b.Status, key,
		b.Total, b.Checksum, len(b.Entries), b.CreatedAt, b.PostedAt)
	if pgCode(err) == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateKey, b.IdempotencyKey)
	}
	if err != nil {
		return wrap("insert batch", err)
	}

	query := `INSERT INTO ledger_entries (id, batch_id, commitment_id, trans_code, amount) VALUES `

	values := make([]string, 0, len(b.Entries))
	args := make([]interface{}, 0, len(b.Entries)*entryColumns)

	for i, e := range b.Entries {
		base := i * entryColumns
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, e.ID, e.BatchID, e.CommitmentID, e.Code, e.Amount)
	}

	query += strings.Join(values, ", ")

	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("%w: entry references an unknown commitment: %w", ledger.ErrCommitmentNotFound, err)
		}
		return wrap("insert entries", err)
	}

	if err = tx.Commit(); err != nil {
		return wrap("commit insert", err)
	}
	return nil
}
