package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

// maxSerializationRetries bounds how often Update reruns fn after a
// serialization failure (SQLSTATE 40001).
const maxSerializationRetries = 3

// LedgerStore implements domain.LedgerStore. Update runs in a SERIALIZABLE
// transaction and locks every wish and balance row it reads.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Update runs fn in a read-write transaction and commits when fn returns
// nil. fn may run more than once if the database aborts the transaction
// with a serialization failure.
func (s *LedgerStore) Update(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	var err error
	for attempt := 0; attempt <= maxSerializationRetries; attempt++ {
		err = s.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, true, fn)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

// View runs fn in a read-only transaction.
func (s *LedgerStore) View(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, false, fn)
}

func (s *LedgerStore) run(ctx context.Context, opts pgx.TxOptions, writable bool, fn func(tx domain.LedgerTx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("postgres: begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&ledgerTx{tx: tx, forUpdate: writable}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit ledger tx: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

type ledgerTx struct {
	tx        pgx.Tx
	forUpdate bool
}

func (t *ledgerTx) lockClause() string {
	if t.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (t *ledgerTx) NextWishID(ctx context.Context) (uint64, error) {
	var id int64
	if err := t.tx.QueryRow(ctx, "SELECT nextval('wish_id_seq')").Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: next wish id: %w", err)
	}
	return uint64(id), nil
}

const wishColumns = `id, owner, description, target, raised, deadline, status,
	created_at, finalized_at, finalized_by`

func (t *ledgerTx) GetWish(ctx context.Context, id uint64) (domain.Wish, error) {
	row := t.tx.QueryRow(ctx,
		"SELECT "+wishColumns+" FROM wishes WHERE id = $1"+t.lockClause(), int64(id))
	w, err := scanWish(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Wish{}, fmt.Errorf("postgres: wish %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Wish{}, fmt.Errorf("postgres: get wish %d: %w", id, err)
	}

	contribs, err := t.loadContributions(ctx, []int64{int64(id)})
	if err != nil {
		return domain.Wish{}, err
	}
	w.Contributors = contribs[id]
	if w.Contributors == nil {
		w.Contributors = map[common.Address]int64{}
	}
	return w, nil
}

func (t *ledgerTx) PutWish(ctx context.Context, w domain.Wish) error {
	const upsertWish = `
		INSERT INTO wishes (
			id, owner, description, target, raised, deadline, status,
			created_at, finalized_at, finalized_by, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			raised       = EXCLUDED.raised,
			status       = EXCLUDED.status,
			finalized_at = EXCLUDED.finalized_at,
			finalized_by = EXCLUDED.finalized_by,
			updated_at   = NOW()`

	var finalizedBy *string
	if w.FinalizedBy != nil {
		s := w.FinalizedBy.Hex()
		finalizedBy = &s
	}

	batch := &pgx.Batch{}
	batch.Queue(upsertWish,
		int64(w.ID), w.Owner.Hex(), w.Description, w.Target, w.Raised,
		w.Deadline, string(w.Status), w.CreatedAt, w.FinalizedAt, finalizedBy,
	)

	accounts := make([]string, 0, len(w.Contributors))
	for _, c := range w.Contributions() {
		accounts = append(accounts, c.Account.Hex())
		batch.Queue(`
			INSERT INTO wish_contributions (wish_id, account, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (wish_id, account) DO UPDATE SET amount = EXCLUDED.amount`,
			int64(w.ID), c.Account.Hex(), c.Amount,
		)
	}
	batch.Queue(`DELETE FROM wish_contributions WHERE wish_id = $1 AND NOT (account = ANY($2))`,
		int64(w.ID), accounts)

	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: put wish %d: %w", w.ID, err)
	}
	return nil
}

func (t *ledgerTx) ListWishes(ctx context.Context, filter domain.WishFilter) ([]domain.Wish, error) {
	query, args := buildListQuery(filter)

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wishes: %w", err)
	}
	defer rows.Close()

	var (
		out []domain.Wish
		ids []int64
	)
	for rows.Next() {
		w, err := scanWish(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan wish: %w", err)
		}
		out = append(out, w)
		ids = append(ids, int64(w.ID))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list wishes rows: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	contribs, err := t.loadContributions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Contributors = contribs[out[i].ID]
		if out[i].Contributors == nil {
			out[i].Contributors = map[common.Address]int64{}
		}
	}
	return out, nil
}

// buildListQuery renders filter as a parameterized SELECT ordered by id.
func buildListQuery(filter domain.WishFilter) (string, []any) {
	query := "SELECT " + wishColumns + " FROM wishes WHERE 1=1"
	args := []any{}
	argIdx := 1

	if filter.Owner != nil {
		query += fmt.Sprintf(" AND owner = $%d", argIdx)
		args = append(args, filter.Owner.Hex())
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.FinalizedBefore != nil {
		query += fmt.Sprintf(" AND finalized_at < $%d", argIdx)
		args = append(args, *filter.FinalizedBefore)
		argIdx++
	}

	query += " ORDER BY id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}
	return query, args
}

func (t *ledgerTx) loadContributions(ctx context.Context, ids []int64) (map[uint64]map[common.Address]int64, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT wish_id, account, amount FROM wish_contributions WHERE wish_id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: load contributions: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64]map[common.Address]int64, len(ids))
	for rows.Next() {
		var (
			wishID  int64
			account string
			amount  int64
		)
		if err := rows.Scan(&wishID, &account, &amount); err != nil {
			return nil, fmt.Errorf("postgres: scan contribution: %w", err)
		}
		m := out[uint64(wishID)]
		if m == nil {
			m = map[common.Address]int64{}
			out[uint64(wishID)] = m
		}
		m[common.HexToAddress(account)] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load contributions rows: %w", err)
	}
	return out, nil
}

func (t *ledgerTx) Balance(ctx context.Context, account common.Address) (int64, error) {
	var bal int64
	err := t.tx.QueryRow(ctx,
		"SELECT balance FROM balances WHERE account = $1"+t.lockClause(), account.Hex(),
	).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: balance %s: %w", account.Hex(), err)
	}
	return bal, nil
}

func (t *ledgerTx) SetBalance(ctx context.Context, account common.Address, balance int64) error {
	if balance < 0 {
		return fmt.Errorf("postgres: negative balance %d for %s", balance, account.Hex())
	}
	const query = `
		INSERT INTO balances (account, balance, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (account) DO UPDATE SET
			balance    = EXCLUDED.balance,
			updated_at = NOW()`
	if _, err := t.tx.Exec(ctx, query, account.Hex(), balance); err != nil {
		return fmt.Errorf("postgres: set balance %s: %w", account.Hex(), err)
	}
	return nil
}

func scanWish(row pgx.Row) (domain.Wish, error) {
	var (
		w           domain.Wish
		id          int64
		owner       string
		status      string
		finalizedAt *time.Time
		finalizedBy *string
	)
	err := row.Scan(&id, &owner, &w.Description, &w.Target, &w.Raised, &w.Deadline,
		&status, &w.CreatedAt, &finalizedAt, &finalizedBy)
	if err != nil {
		return domain.Wish{}, err
	}
	w.ID = uint64(id)
	w.Owner = common.HexToAddress(owner)
	w.Status = domain.WishStatus(status)
	w.Deadline = w.Deadline.UTC()
	w.CreatedAt = w.CreatedAt.UTC()
	if finalizedAt != nil {
		t := finalizedAt.UTC()
		w.FinalizedAt = &t
	}
	if finalizedBy != nil {
		a := common.HexToAddress(*finalizedBy)
		w.FinalizedBy = &a
	}
	return w, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
