package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

// AuditStore implements domain.AuditStore in the audit bucket.
type AuditStore struct {
	db *bolt.DB
}

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(auditBucket)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		raw, err := json.Marshal(domain.AuditEntry{
			ID:        int64(id),
			Event:     event,
			Detail:    detail,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return b.Put(itob(id), raw)
	})
	if err != nil {
		return fmt.Errorf("boltdb: audit log: %w", err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(auditBucket).Cursor()
		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if skipped < opts.Offset {
				skipped++
				continue
			}
			if opts.Limit > 0 && len(out) >= opts.Limit {
				break
			}
			var e domain.AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltdb: audit list: %w", err)
	}
	return out, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
