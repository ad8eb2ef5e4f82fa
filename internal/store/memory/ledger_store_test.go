package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wishledger/internal/domain"
	"github.com/alanyoungcy/wishledger/internal/store/storetest"
)

var acct = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func putNewWish(ctx context.Context, tx domain.LedgerTx, owner common.Address) (uint64, error) {
	id, err := tx.NextWishID(ctx)
	if err != nil {
		return 0, err
	}
	return id, tx.PutWish(ctx, domain.Wish{
		ID:           id,
		Owner:        owner,
		Target:       10,
		Deadline:     time.Now().Add(time.Hour),
		Contributors: map[common.Address]int64{},
		Status:       domain.WishStatusOpen,
	})
}

func TestLedgerStoreUpdateRollback(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx domain.LedgerTx) error {
		if _, err := putNewWish(ctx, tx, acct); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, acct, 50); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.GetWish(ctx, 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		bal, err := tx.Balance(ctx, acct)
		require.NoError(t, err)
		assert.Zero(t, bal)
		return nil
	})
	require.NoError(t, err)

	// The aborted id is reused.
	var id uint64
	require.NoError(t, s.Update(ctx, func(tx domain.LedgerTx) error {
		var err error
		id, err = putNewWish(ctx, tx, acct)
		return err
	}))
	assert.Equal(t, uint64(1), id)
}

func TestLedgerStoreReadYourWrites(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()

	require.NoError(t, s.Update(ctx, func(tx domain.LedgerTx) error {
		id, err := putNewWish(ctx, tx, acct)
		require.NoError(t, err)
		w, err := tx.GetWish(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, acct, w.Owner)

		require.NoError(t, tx.SetBalance(ctx, acct, 9))
		bal, err := tx.Balance(ctx, acct)
		require.NoError(t, err)
		assert.Equal(t, int64(9), bal)

		list, err := tx.ListWishes(ctx, domain.WishFilter{})
		require.NoError(t, err)
		assert.Len(t, list, 1)
		return nil
	}))
}

func TestLedgerStoreViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()

	err := s.View(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.NextWishID(ctx)
		return err
	})
	assert.Error(t, err)

	err = s.View(ctx, func(tx domain.LedgerTx) error {
		return tx.SetBalance(ctx, acct, 1)
	})
	assert.Error(t, err)
}

func TestLedgerStoreIsolatesReturnedWishes(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	require.NoError(t, s.Update(ctx, func(tx domain.LedgerTx) error {
		_, err := putNewWish(ctx, tx, acct)
		return err
	}))

	require.NoError(t, s.View(ctx, func(tx domain.LedgerTx) error {
		w, err := tx.GetWish(ctx, 1)
		require.NoError(t, err)
		w.Contributors[acct] = 1000
		return nil
	}))
	require.NoError(t, s.View(ctx, func(tx domain.LedgerTx) error {
		w, err := tx.GetWish(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, w.Contributors)
		return nil
	}))
}

func TestLedgerStoreCancelledContext(t *testing.T) {
	s := NewLedgerStore()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.Update(ctx, func(tx domain.LedgerTx) error {
		if err := tx.SetBalance(ctx, acct, 5); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, s.View(context.Background(), func(tx domain.LedgerTx) error {
		bal, err := tx.Balance(context.Background(), acct)
		require.NoError(t, err)
		assert.Zero(t, bal)
		return nil
	}))
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	require.NoError(t, s.Log(ctx, "wish_created", map[string]any{"id": 1}))
	require.NoError(t, s.Log(ctx, "wish_funded", map[string]any{"id": 1}))

	entries, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "wish_funded", entries[0].Event)
	assert.Equal(t, int64(2), entries[0].ID)

	entries, err = s.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "wish_created", entries[0].Event)
}

func TestLedgerStoreBehaviour(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.LedgerStore {
		return NewLedgerStore()
	})
}
