// Package boltdb implements the ledger and audit stores on an embedded bolt
// database file. Bolt allows a single writer at a time, which gives ledger
// updates the same serial ordering as the in-memory store while surviving
// restarts.
package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

var (
	wishesBucket   = []byte("wishes")
	balancesBucket = []byte("balances")
	auditBucket    = []byte("audit")
)

// Store holds the bolt handle shared by LedgerStore and AuditStore.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path and ensures every bucket
// exists.
func Open(path string, timeout time.Duration) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("boltdb: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{wishesBucket, balancesBucket, auditBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltdb: init: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ledger returns the domain.LedgerStore view of the database.
func (s *Store) Ledger() *LedgerStore {
	return &LedgerStore{db: s.db}
}

// Audit returns the domain.AuditStore view of the database.
func (s *Store) Audit() *AuditStore {
	return &AuditStore{db: s.db}
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// LedgerStore implements domain.LedgerStore.
type LedgerStore struct {
	db *bolt.DB
}

// Update runs fn inside a bolt read-write transaction. Returning an error
// from fn, or cancelling ctx, rolls the transaction back.
func (s *LedgerStore) Update(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		if err := fn(&ledgerTx{tx: btx}); err != nil {
			return err
		}
		return ctx.Err()
	})
}

// View runs fn inside a bolt read-only transaction.
func (s *LedgerStore) View(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&ledgerTx{tx: btx})
	})
}

type ledgerTx struct {
	tx *bolt.Tx
}

func (t *ledgerTx) NextWishID(_ context.Context) (uint64, error) {
	id, err := t.tx.Bucket(wishesBucket).NextSequence()
	if err != nil {
		return 0, fmt.Errorf("boltdb: next wish id: %w", err)
	}
	return id, nil
}

func (t *ledgerTx) GetWish(_ context.Context, id uint64) (domain.Wish, error) {
	raw := t.tx.Bucket(wishesBucket).Get(itob(id))
	if raw == nil {
		return domain.Wish{}, fmt.Errorf("boltdb: wish %d: %w", id, domain.ErrNotFound)
	}
	var w domain.Wish
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.Wish{}, fmt.Errorf("boltdb: decode wish %d: %w", id, err)
	}
	if w.Contributors == nil {
		w.Contributors = map[common.Address]int64{}
	}
	return w, nil
}

func (t *ledgerTx) PutWish(_ context.Context, w domain.Wish) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("boltdb: encode wish %d: %w", w.ID, err)
	}
	if err := t.tx.Bucket(wishesBucket).Put(itob(w.ID), raw); err != nil {
		return fmt.Errorf("boltdb: put wish %d: %w", w.ID, err)
	}
	return nil
}

func (t *ledgerTx) ListWishes(_ context.Context, filter domain.WishFilter) ([]domain.Wish, error) {
	var out []domain.Wish
	// Keys are big-endian ids, so cursor order is id order.
	err := t.tx.Bucket(wishesBucket).ForEach(func(k, v []byte) error {
		var w domain.Wish
		if err := json.Unmarshal(v, &w); err != nil {
			return fmt.Errorf("decode wish %d: %w", binary.BigEndian.Uint64(k), err)
		}
		if filter.Match(w) {
			if w.Contributors == nil {
				w.Contributors = map[common.Address]int64{}
			}
			out = append(out, w)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltdb: list wishes: %w", err)
	}
	return domain.Page(out, filter.ListOpts), nil
}

func (t *ledgerTx) Balance(_ context.Context, account common.Address) (int64, error) {
	raw := t.tx.Bucket(balancesBucket).Get(account.Bytes())
	if raw == nil {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("boltdb: corrupt balance for %s", account.Hex())
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func (t *ledgerTx) SetBalance(_ context.Context, account common.Address, balance int64) error {
	if balance < 0 {
		return fmt.Errorf("boltdb: negative balance %d for %s", balance, account.Hex())
	}
	b := t.tx.Bucket(balancesBucket)
	if balance == 0 {
		return b.Delete(account.Bytes())
	}
	if err := b.Put(account.Bytes(), itob(uint64(balance))); err != nil {
		return fmt.Errorf("boltdb: set balance %s: %w", account.Hex(), err)
	}
	return nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
