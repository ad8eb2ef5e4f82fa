package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

// AuditStore implements domain.AuditStore on the audit_log table. The wish id
// and the account an event concerns are lifted out of the detail into indexed
// columns so an operator can pull a wish's or an account's history.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore over pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: marshal detail: %w", event, err)
	}

	wishID, account := auditKeys(detail)
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, wish_id, account, detail) VALUES ($1, $2, $3, $4)`,
		event, wishID, account, raw)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first. A NULL limit is unbounded in Postgres,
// which matches the zero-means-all ListOpts contract.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, event, detail, created_at FROM audit_log ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, max(opts.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if err := json.Unmarshal(raw, &e.Detail); err != nil {
			return e, fmt.Errorf("entry %d detail: %w", e.ID, err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return entries, nil
}

// auditKeys extracts the indexed columns from an event detail. Wish events
// carry "wish_id"; account events carry "account".
func auditKeys(detail map[string]any) (wishID *int64, account *string) {
	switch v := detail["wish_id"].(type) {
	case uint64:
		id := int64(v)
		wishID = &id
	case int64:
		wishID = &v
	case int:
		id := int64(v)
		wishID = &id
	}
	if s, ok := detail["account"].(string); ok && common.IsHexAddress(s) {
		hex := common.HexToAddress(s).Hex()
		account = &hex
	}
	return wishID, account
}

var _ domain.AuditStore = (*AuditStore)(nil)
