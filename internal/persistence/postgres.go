package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"FundLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres error codes the store maps onto domain errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// PostgresStore implements ledger.Store on database/sql with lib/pq.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ ledger.Store = (*PostgresStore)(nil)

// OpenPostgres opens and pings a connection pool.
func OpenPostgres(ctx context.Context, dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return wrap("ping", s.db.PingContext(ctx))
}

// --- Registry ---

func (s *PostgresStore) CreateInvestor(ctx context.Context, inv *ledger.Investor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO investors (id, name, created_at) VALUES ($1, $2, $3)`,
		inv.ID, inv.Name, inv.CreatedAt)
	return wrap("create investor", err)
}

func (s *PostgresStore) GetInvestor(ctx context.Context, id uuid.UUID) (*ledger.Investor, error) {
	var inv ledger.Investor
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM investors WHERE id = $1`, id,
	).Scan(&inv.ID, &inv.Name, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrInvestorNotFound, id)
	}
	if err != nil {
		return nil, wrap("get investor", err)
	}
	return &inv, nil
}

func (s *PostgresStore) CreateCommitment(ctx context.Context, c *ledger.Commitment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commitments (id, investor_id, committed_amount, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.InvestorID, c.CommittedAmount, c.CreatedAt)

	switch pgCode(err) {
	case pgUniqueViolation:
		return fmt.Errorf("%w: investor %s already has a commitment", ledger.ErrInvalidCommitment, c.InvestorID)
	case pgForeignKeyViolation:
		return fmt.Errorf("%w: %s", ledger.ErrInvestorNotFound, c.InvestorID)
	case pgCheckViolation:
		return fmt.Errorf("%w: committed amount %s must be positive", ledger.ErrInvalidCommitment, c.CommittedAmount)
	}
	return wrap("create commitment", err)
}

const commitmentColumns = `c.id, c.investor_id, i.name, c.committed_amount, c.created_at`

func (s *PostgresStore) GetCommitment(ctx context.Context, id uuid.UUID) (*ledger.Commitment, error) {
	var c ledger.Commitment
	err := s.db.QueryRowContext(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments c JOIN investors i ON i.id = c.investor_id
		WHERE c.id = $1`, id,
	).Scan(&c.ID, &c.InvestorID, &c.InvestorName, &c.CommittedAmount, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrCommitmentNotFound, id)
	}
	if err != nil {
		return nil, wrap("get commitment", err)
	}
	return &c, nil
}

// ListCommitments returns every commitment with its investor name, ordered by id.
func (s *PostgresStore) ListCommitments(ctx context.Context) ([]ledger.Commitment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments c JOIN investors i ON i.id = c.investor_id
		ORDER BY c.id`)
	if err != nil {
		return nil, wrap("list commitments", err)
	}
	defer rows.Close()

	var out []ledger.Commitment
	for rows.Next() {
		var c ledger.Commitment
		if err := rows.Scan(&c.ID, &c.InvestorID, &c.InvestorName, &c.CommittedAmount, &c.CreatedAt); err != nil {
			return nil, wrap("scan commitment", err)
		}
		out = append(out, c)
	}
	return out, wrap("list commitments", rows.Err())
}

// --- Batches ---

const batchColumns = `id, batch_date, description, category, status, idempotency_key,
	total, checksum, entry_count, created_at, posted_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner) (*ledger.Batch, error) {
	var (
		b        ledger.Batch
		key      sql.NullString
		postedAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.BatchDate, &b.Description, &b.Category, &b.Status, &key,
		&b.Total, &b.Checksum, &b.EntryCount, &b.CreatedAt, &postedAt)
	if err != nil {
		return nil, err
	}
	b.BatchDate = ledger.DateOf(b.BatchDate)
	b.IdempotencyKey = key.String
	if postedAt.Valid {
		t := postedAt.Time.UTC()
		b.PostedAt = &t
	}
	return &b, nil
}

// GetBatch returns the batch with its entries.
func (s *PostgresStore) GetBatch(ctx context.Context, id uuid.UUID) (*ledger.Batch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, wrap("get batch", err)
	}

	entries, err := s.ListEntries(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Entries = entries
	return b, nil
}

// ListBatches returns batch headers (no entries) newest first.
func (s *PostgresStore) ListBatches(ctx context.Context, filter ledger.BatchFilter) ([]ledger.Batch, error) {
	var statuses, categories []string
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	for _, c := range filter.Categories {
		categories = append(categories, string(c))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE ($1::text[] IS NULL OR status = ANY($1::text[]))
		  AND ($2::text[] IS NULL OR category = ANY($2::text[]))
		ORDER BY batch_date DESC, created_at DESC, id`,
		pq.Array(statuses), pq.Array(categories))
	if err != nil {
		return nil, wrap("list batches", err)
	}
	defer rows.Close()

	var out []ledger.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, wrap("scan batch", err)
		}
		out = append(out, *b)
	}
	return out, wrap("list batches", rows.Err())
}

func (s *PostgresStore) ListEntries(ctx context.Context, batchID uuid.UUID) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, commitment_id, trans_code, amount
		FROM ledger_entries
		WHERE batch_id = $1
		ORDER BY commitment_id, trans_code, id`, batchID)
	if err != nil {
		return nil, wrap("list entries", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.BatchID, &e.CommitmentID, &e.Code, &e.Amount); err != nil {
			return nil, wrap("scan entry", err)
		}
		out = append(out, e)
	}
	return out, wrap("list entries", rows.Err())
}

// ListPostedEntriesForCommitment joins entries with their parent batch and
// returns only POSTED ones, ordered by batch date then entry id.
func (s *PostgresStore) ListPostedEntriesForCommitment(ctx context.Context, commitmentID uuid.UUID) ([]ledger.PostedEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.batch_id, e.commitment_id, e.trans_code, e.amount,
		       b.status, b.batch_date, b.description, b.category
		FROM ledger_entries e
		JOIN batches b ON b.id = e.batch_id
		WHERE e.commitment_id = $1 AND b.status = 'POSTED'
		ORDER BY b.batch_date, e.id`, commitmentID)
	if err != nil {
		return nil, wrap("list posted entries", err)
	}
	defer rows.Close()

	var out []ledger.PostedEntry
	for rows.Next() {
		var pe ledger.PostedEntry
		if err := rows.Scan(&pe.ID, &pe.BatchID, &pe.CommitmentID, &pe.Code, &pe.Amount,
			&pe.BatchStatus, &pe.BatchDate, &pe.BatchDescription, &pe.Category); err != nil {
			return nil, wrap("scan posted entry", err)
		}
		pe.BatchDate = ledger.DateOf(pe.BatchDate)
		out = append(out, pe)
	}
	return out, wrap("list posted entries", rows.Err())
}

// UpdateBatchStatus is a compare-and-set: the row is only written while its
// status still equals from. When nothing matched, the current row decides
// between not-found and an invalid transition.
func (s *PostgresStore) UpdateBatchStatus(ctx context.Context, id uuid.UUID, from, to ledger.Status, at time.Time) error {
	var postedAt interface{}
	if to == ledger.StatusPosted {
		postedAt = at.UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = $3, posted_at = $4 WHERE id = $1 AND status = $2`,
		id, from, to, postedAt)
	if err != nil {
		return wrap("update batch status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update batch status", err)
	}
	if n == 1 {
		return nil
	}

	var current ledger.Status
	err = s.db.QueryRowContext(ctx, `SELECT status FROM batches WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ledger.ErrBatchNotFound, id)
	}
	if err != nil {
		return wrap("read batch status", err)
	}
	return fmt.Errorf("%w: batch %s is %s, expected %s", ledger.ErrInvalidStateTransition, id, current, from)
}

// DeleteDraftBatch removes a DRAFT batch and all its entries in one transaction.
func (s *PostgresStore) DeleteDraftBatch(ctx context.Context, id uuid.UUID) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin delete", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var status ledger.Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM batches WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ledger.ErrBatchNotFound, id)
	}
	if err != nil {
		return wrap("lock batch", err)
	}
	if status != ledger.StatusDraft {
		return fmt.Errorf("%w: batch %s is %s, only DRAFT can be deleted", ledger.ErrInvalidStateTransition, id, status)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE batch_id = $1`, id); err != nil {
		return wrap("delete entries", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM batches WHERE id = $1`, id); err != nil {
		return wrap("delete batch", err)
	}
	if err = tx.Commit(); err != nil {
		return wrap("commit delete", err)
	}
	return nil
}

// wrap marks a driver error as a persistence failure, keeping the cause in the chain.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ledger.ErrPersistenceFailure, op, err)
}

func pgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
