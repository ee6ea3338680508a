// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package escrow

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
)

func TestPointStore_GlobalRoundtrip(t *testing.T) {
	store := NewPointStore(memdb.New())

	p := Point{
		Bias:  tokens18(7),
		Slope: big.NewInt(123456789),
		TS:    testBase + Week,
		Blk:   8000,
	}
	require.NoError(t, store.PutGlobal(3, p))

	got, err := store.Global(3)
	require.NoError(t, err)
	require.Zero(t, p.Bias.Cmp(got.Bias))
	require.Zero(t, p.Slope.Cmp(got.Slope))
	require.Equal(t, p.TS, got.TS)
	require.Equal(t, p.Blk, got.Blk)

	_, err = store.Global(4)
	require.ErrorIs(t, err, database.ErrNotFound)
}

func TestPointStore_UserRoundtrip(t *testing.T) {
	store := NewPointStore(memdb.New())

	p := Point{Bias: tokens18(1), Slope: big.NewInt(42), TS: testBase, Blk: 1000}
	require.NoError(t, store.PutUser(testUserA, 1, p))

	got, err := store.User(testUserA, 1)
	require.NoError(t, err)
	require.Zero(t, p.Bias.Cmp(got.Bias))
	require.Equal(t, p.TS, got.TS)

	// another account's log stays empty
	_, err = store.User(testUserB, 1)
	require.ErrorIs(t, err, database.ErrNotFound)
}

func TestPointStore_SignedSlopeDelta(t *testing.T) {
	for _, delta := range []*big.Int{
		big.NewInt(0),
		big.NewInt(987654321),
		new(big.Int).Neg(tokens18(3)),
	} {
		buf := encodeSigned(delta)
		got, err := decodeSigned(buf)
		require.NoError(t, err)
		require.Zero(t, delta.Cmp(got), "delta %v", delta)
	}

	_, err := decodeSigned([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestPointStore_LoadGlobalInOrder(t *testing.T) {
	store := NewPointStore(memdb.New())

	// write out of order, read back dense and ordered
	for _, epoch := range []uint64{2, 0, 1} {
		p := Point{
			Bias:  big.NewInt(int64(epoch) * 100),
			Slope: big.NewInt(int64(epoch)),
			TS:    testBase + epoch*Week,
			Blk:   1000 + epoch*5000,
		}
		require.NoError(t, store.PutGlobal(epoch, p))
	}

	points, err := store.LoadGlobal()
	require.NoError(t, err)
	require.Len(t, points, 3)
	for i, p := range points {
		require.Equal(t, testBase+uint64(i)*Week, p.TS)
	}
}

func TestPointStore_LoadUsersAndSlopeChanges(t *testing.T) {
	store := NewPointStore(memdb.New())

	require.NoError(t, store.PutUser(testUserA, 0, zeroPoint(0, 0)))
	require.NoError(t, store.PutUser(testUserA, 1, Point{Bias: tokens18(2), Slope: big.NewInt(5), TS: testBase, Blk: 1000}))
	require.NoError(t, store.PutUser(testUserB, 0, zeroPoint(0, 0)))
	require.NoError(t, store.PutSlopeChange(testBase+4*Week, new(big.Int).Neg(big.NewInt(5))))

	users, err := store.LoadUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Len(t, users[testUserA], 2)
	require.Len(t, users[testUserB], 1)
	require.Equal(t, testBase, users[testUserA][1].TS)

	changes, err := store.LoadSlopeChanges()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Zero(t, changes[testBase+4*Week].Cmp(big.NewInt(-5)))
}

func TestRestoreHistory_RebuildsEngine(t *testing.T) {
	db := memdb.New()

	// first engine writes through to the point log as it runs
	ve := newTestEscrow()
	ve.SetStore(NewPointStore(db))
	state := NewMockStateDB(testBase, 1000)
	fundAccount(state, testUserA, tokens18(200))
	fundAccount(state, testUserB, tokens18(50))

	require.NoError(t, ve.Deposit(state, testUserA, testTokenA, tokens18(200), testBase+8*Week))
	state.Advance(Week, 5000)
	require.NoError(t, ve.Deposit(state, testUserB, testTokenA, tokens18(50), testBase+4*Week))
	state.Advance(2*Week, 10_000)
	ve.Checkpoint(state)

	// a fresh engine on the same database sees the same history
	restored := newTestEscrow()
	restored.SetStore(NewPointStore(db))
	require.NoError(t, restored.RestoreHistory())

	require.Equal(t, ve.Epoch(), restored.Epoch())
	for epoch := uint64(0); epoch <= ve.Epoch(); epoch++ {
		orig, ok := ve.PointAt(epoch)
		require.True(t, ok)
		got, ok := restored.PointAt(epoch)
		require.True(t, ok)
		require.Zero(t, orig.Bias.Cmp(got.Bias), "epoch %d", epoch)
		require.Zero(t, orig.Slope.Cmp(got.Slope), "epoch %d", epoch)
		require.Equal(t, orig.TS, got.TS)
		require.Equal(t, orig.Blk, got.Blk)
	}

	// historical queries read identically through the restored engine
	for _, ts := range []uint64{testBase, testBase + Week, testBase + 2*Week + 999, state.timestamp} {
		require.Zero(t, ve.TotalSupplyAtTime(ts).Cmp(restored.TotalSupplyAtTime(ts)), "t=%d", ts)
		require.Zero(t, ve.BalanceOfAtTime(testUserA, ts).Cmp(restored.BalanceOfAtTime(testUserA, ts)), "t=%d", ts)
		require.Zero(t, ve.BalanceOfAtTime(testUserB, ts).Cmp(restored.BalanceOfAtTime(testUserB, ts)), "t=%d", ts)
	}
}

func TestRestoreHistory_RequiresStore(t *testing.T) {
	ve := newTestEscrow()
	require.Error(t, ve.RestoreHistory())
}
