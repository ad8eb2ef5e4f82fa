// Package storetest holds behavioural checks shared by every LedgerStore
// backend. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

var (
	owner = common.HexToAddress("0x1111111111111111111111111111111111111111")
	payer = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// Run exercises a fresh store returned by newStore in each subtest.
func Run(t *testing.T, newStore func(t *testing.T) domain.LedgerStore) {
	t.Run("PutGetRoundTrip", func(t *testing.T) { testPutGet(t, newStore(t)) })
	t.Run("MissingWish", func(t *testing.T) { testMissing(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("SequentialIDs", func(t *testing.T) { testSequentialIDs(t, newStore(t)) })
	t.Run("ListFilter", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("Balances", func(t *testing.T) { testBalances(t, newStore(t)) })
}

func newWish(id uint64, o common.Address) domain.Wish {
	return domain.Wish{
		ID:           id,
		Owner:        o,
		Description:  "a wish",
		Target:       100,
		Deadline:     time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		Contributors: map[common.Address]int64{},
		Status:       domain.WishStatusOpen,
		CreatedAt:    time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func create(t *testing.T, s domain.LedgerStore, o common.Address) uint64 {
	t.Helper()
	ctx := context.Background()
	var id uint64
	require.NoError(t, s.Update(ctx, func(tx domain.LedgerTx) error {
		var err error
		if id, err = tx.NextWishID(ctx); err != nil {
			return err
		}
		return tx.PutWish(ctx, newWish(id, o))
	}))
	return id
}

func testPutGet(t *testing.T, s domain.LedgerStore) {
	ctx := context.Background()
	id := create(t, s, owner)

	finalized := time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Update(ctx, func(tx domain.LedgerTx) error {
		w, err := tx.GetWish(ctx, id)
		if err != nil {
			return err
		}
		w.Raised = 70
		w.Contributors[payer] = 50
		w.Contributors[owner] = 20
		w.Status = domain.WishStatusSettled
		w.FinalizedAt = &finalized
		w.FinalizedBy = &payer
		return tx.PutWish(ctx, w)
	}))

	require.NoError(t, s.View(ctx, func(tx domain.LedgerTx) error {
		w, err := tx.GetWish(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, owner, w.Owner)
		assert.Equal(t, "a wish", w.Description)
		assert.Equal(t, int64(70), w.Raised)
		assert.Equal(t, map[common.Address]int64{payer: 50, owner: 20}, w.Contributors)
		assert.Equal(t, domain.WishStatusSettled, w.Status)
		assert.True(t, w.Deadline.Equal(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
		require.NotNil(t, w.FinalizedAt)
		assert.True(t, w.FinalizedAt.Equal(finalized))
		require.NotNil(t, w.FinalizedBy)
		assert.Equal(t, payer, *w.FinalizedBy)
		return nil
	}))
}

func testMissing(t *testing.T, s domain.LedgerStore) {
	ctx := context.Background()
	require.NoError(t, s.View(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.GetWish(ctx, 12345)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
}

func testRollback(t *testing.T, s domain.LedgerStore) {
	ctx := context.Background()
	id := create(t, s, owner)
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx domain.LedgerTx) error {
		w, err := tx.GetWish(ctx, id)
		if err != nil {
			return err
		}
		w.Raised = 99
		w.Contributors[payer] = 99
		if err := tx.PutWish(ctx, w); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, payer, 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx domain.LedgerTx) error {
		w, err := tx.GetWish(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, w.Raised)
		assert.Empty(t, w.Contributors)
		bal, err := tx.Balance(ctx, payer)
		require.NoError(t, err)
		assert.Zero(t, bal)
		return nil
	}))
}

func testSequentialIDs(t *testing.T, s domain.LedgerStore) {
	first := create(t, s, owner)
	second := create(t, s, owner)
	assert.Equal(t, first+1, second)
}

func testList(t *testing.T, s domain.LedgerStore) {
	ctx := context.Background()
	a := create(t, s, owner)
	b := create(t, s, payer)
	c := create(t, s, owner)

	var all, mine, page []domain.Wish
	require.NoError(t, s.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		if all, err = tx.ListWishes(ctx, domain.WishFilter{}); err != nil {
			return err
		}
		o := owner
		if mine, err = tx.ListWishes(ctx, domain.WishFilter{Owner: &o}); err != nil {
			return err
		}
		page, err = tx.ListWishes(ctx, domain.WishFilter{ListOpts: domain.ListOpts{Limit: 1, Offset: 1}})
		return err
	}))

	require.Len(t, all, 3)
	assert.Equal(t, []uint64{a, b, c}, []uint64{all[0].ID, all[1].ID, all[2].ID})
	require.Len(t, mine, 2)
	assert.Equal(t, []uint64{a, c}, []uint64{mine[0].ID, mine[1].ID})
	require.Len(t, page, 1)
	assert.Equal(t, b, page[0].ID)
}

func testBalances(t *testing.T, s domain.LedgerStore) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx domain.LedgerTx) error {
		bal, err := tx.Balance(ctx, payer)
		require.NoError(t, err)
		assert.Zero(t, bal)
		return tx.SetBalance(ctx, payer, 42)
	}))
	require.NoError(t, s.View(ctx, func(tx domain.LedgerTx) error {
		bal, err := tx.Balance(ctx, payer)
		require.NoError(t, err)
		assert.Equal(t, int64(42), bal)
		return nil
	}))
	err := s.Update(ctx, func(tx domain.LedgerTx) error {
		return tx.SetBalance(ctx, payer, -1)
	})
	assert.Error(t, err)
}
