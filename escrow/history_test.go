// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package escrow

import (
	"errors"
	"math/big"
	"testing"
)

// buildHistoryFixture creates an engine with a few weeks of activity:
//
//	t0 = testBase        blk 1000    A locks 300 until t0+10w
//	t1 = testBase + 1w   blk 8000    B locks 100 until t0+5w
//	t2 = testBase + 3w   blk 22000   forced checkpoint
//	t3 = testBase + 6w   blk 43000   forced checkpoint (B expired at +5w)
func buildHistoryFixture(t *testing.T) (*VotingEscrow, *MockStateDB) {
	t.Helper()
	ve := newTestEscrow()
	state := NewMockStateDB(testBase, 1000)
	fundAccount(state, testUserA, tokens18(300))
	fundAccount(state, testUserB, tokens18(100))

	if err := ve.Deposit(state, testUserA, testTokenA, tokens18(300), testBase+10*Week); err != nil {
		t.Fatalf("deposit A failed: %v", err)
	}
	state.Advance(Week, 7000)
	if err := ve.Deposit(state, testUserB, testTokenA, tokens18(100), testBase+5*Week); err != nil {
		t.Fatalf("deposit B failed: %v", err)
	}
	state.Advance(2*Week, 14_000)
	ve.Checkpoint(state)
	state.Advance(3*Week, 21_000)
	ve.Checkpoint(state)
	return ve, state
}

func lockSlope(amount *big.Int) *big.Int {
	return new(big.Int).Quo(amount, new(big.Int).SetUint64(MaxLockDuration))
}

// linear reference for the binary searches
func scanByTimestamp(hist []Point, target uint64) uint64 {
	idx := uint64(0)
	for i := range hist {
		if hist[i].TS <= target {
			idx = uint64(i)
		}
	}
	return idx
}

func scanByBlock(hist []Point, target uint64) uint64 {
	idx := uint64(0)
	for i := range hist {
		if hist[i].Blk <= target {
			idx = uint64(i)
		}
	}
	return idx
}

func TestFindTimestampEpoch_MatchesLinearScan(t *testing.T) {
	ve, state := buildHistoryFixture(t)

	samples := []uint64{
		testBase - 1,
		testBase,
		testBase + 1,
		testBase + Week - 1,
		testBase + Week, // exact boundary point
		testBase + Week + 1,
		testBase + 2*Week + 12345,
		testBase + 5*Week,
		state.timestamp,
		state.timestamp + 50*Week,
	}
	for _, ts := range samples {
		want := scanByTimestamp(ve.pointHistory, ts)
		if got := ve.FindTimestampEpoch(ts); got != want {
			t.Errorf("FindTimestampEpoch(%d) = %d, want %d", ts, got, want)
		}
	}
}

func TestFindBlockEpoch_MatchesLinearScan(t *testing.T) {
	ve, state := buildHistoryFixture(t)

	samples := []uint64{0, 999, 1000, 1001, 7999, 8000, 15_000, 22_000, 42_999, state.block, state.block + 1000}
	for _, blk := range samples {
		want := scanByBlock(ve.pointHistory, blk)
		if got := ve.FindBlockEpoch(blk); got != want {
			t.Errorf("FindBlockEpoch(%d) = %d, want %d", blk, got, want)
		}
	}
}

func TestFindTimestampUserEpoch(t *testing.T) {
	ve, _ := buildHistoryFixture(t)

	// B's only real point is at testBase+1w
	if got := ve.FindTimestampUserEpoch(testUserB, testBase); got != 0 {
		t.Errorf("user epoch before first point = %d, want 0", got)
	}
	if got := ve.FindTimestampUserEpoch(testUserB, testBase+Week); got != 1 {
		t.Errorf("user epoch at first point = %d, want 1", got)
	}
	if got := ve.FindTimestampUserEpoch(testUserB, testBase+20*Week); got != 1 {
		t.Errorf("user epoch far past = %d, want 1", got)
	}

	// an account with no history at all
	if got := ve.FindTimestampUserEpoch(testHandler, testBase+Week); got != 0 {
		t.Errorf("user epoch without history = %d, want 0", got)
	}
}

func TestBalanceOfAtTime_Historical(t *testing.T) {
	ve, _ := buildHistoryFixture(t)
	slopeA := lockSlope(tokens18(300))

	// before A's first point the account had no power
	if got := ve.BalanceOfAtTime(testUserA, testBase-1); got.Sign() != 0 {
		t.Errorf("historical balance before lock = %v, want 0", got)
	}

	// mid-segment: the point at testBase decayed forward
	ts := testBase + 10*86400
	want := new(big.Int).Mul(slopeA, new(big.Int).SetUint64(10*Week))
	want.Sub(want, new(big.Int).Mul(slopeA, new(big.Int).SetUint64(10*86400)))
	if got := ve.BalanceOfAtTime(testUserA, ts); got.Cmp(want) != 0 {
		t.Errorf("historical balance = %v, want %v", got, want)
	}

	// past expiry the floor holds
	if got := ve.BalanceOfAtTime(testUserB, testBase+8*Week); got.Sign() != 0 {
		t.Errorf("historical balance past expiry = %v, want 0", got)
	}
}

func TestTotalSupplyAtTime_Historical(t *testing.T) {
	ve, _ := buildHistoryFixture(t)

	if got := ve.TotalSupplyAtTime(testBase - 1); got.Sign() != 0 {
		t.Errorf("supply before history = %v, want 0", got)
	}

	// while both locks run, and after B expires, the aggregate tracks the sum
	for _, ts := range []uint64{
		testBase + Week,
		testBase + 4*Week + 1000,
		testBase + 5*Week + Week/2,
		testBase + 9*Week,
	} {
		sum := new(big.Int).Add(ve.BalanceOfAtTime(testUserA, ts), ve.BalanceOfAtTime(testUserB, ts))
		if got := ve.TotalSupplyAtTime(ts); got.Cmp(sum) != 0 {
			t.Errorf("at t=%d: supply = %v, sum of balances = %v", ts, got, sum)
		}
	}
}

func TestBalanceOfAtBlock_Interpolates(t *testing.T) {
	ve, state := buildHistoryFixture(t)
	slopeA := lockSlope(tokens18(300))

	// 4500 sits midway between the checkpoints at blocks 1000 and 8000,
	// one week apart, so the secant lands half a week after testBase
	got, err := ve.BalanceOfAtBlock(testUserA, 4500, state.timestamp, state.block)
	if err != nil {
		t.Fatalf("BalanceOfAtBlock failed: %v", err)
	}
	want := new(big.Int).Mul(slopeA, new(big.Int).SetUint64(10*Week))
	want.Sub(want, new(big.Int).Mul(slopeA, new(big.Int).SetUint64(Week/2)))
	if got.Cmp(want) != 0 {
		t.Errorf("balance at block 4500 = %v, want %v", got, want)
	}

	// B had not deposited yet at that block
	gotB, err := ve.BalanceOfAtBlock(testUserB, 4500, state.timestamp, state.block)
	if err != nil {
		t.Fatalf("BalanceOfAtBlock failed: %v", err)
	}
	if gotB.Sign() != 0 {
		t.Errorf("balance before deposit block = %v, want 0", gotB)
	}
}

func TestBalanceOfAtBlock_RejectsFuture(t *testing.T) {
	ve, state := buildHistoryFixture(t)

	if _, err := ve.BalanceOfAtBlock(testUserA, state.block+1, state.timestamp, state.block); !errors.Is(err, ErrFutureLookup) {
		t.Errorf("err = %v, want ErrFutureLookup", err)
	}
	if _, err := ve.TotalSupplyAtBlock(state.block+1, state.timestamp, state.block); !errors.Is(err, ErrFutureLookup) {
		t.Errorf("err = %v, want ErrFutureLookup", err)
	}
}

func TestTotalSupplyAtBlock_MatchesBalances(t *testing.T) {
	ve, state := buildHistoryFixture(t)

	for _, blk := range []uint64{1000, 4500, 8000, 22_000, state.block} {
		balA, err := ve.BalanceOfAtBlock(testUserA, blk, state.timestamp, state.block)
		if err != nil {
			t.Fatalf("BalanceOfAtBlock A failed: %v", err)
		}
		balB, err := ve.BalanceOfAtBlock(testUserB, blk, state.timestamp, state.block)
		if err != nil {
			t.Fatalf("BalanceOfAtBlock B failed: %v", err)
		}
		total, err := ve.TotalSupplyAtBlock(blk, state.timestamp, state.block)
		if err != nil {
			t.Fatalf("TotalSupplyAtBlock failed: %v", err)
		}
		sum := new(big.Int).Add(balA, balB)
		if total.Cmp(sum) != 0 {
			t.Errorf("at blk=%d: total = %v, sum of balances = %v", blk, total, sum)
		}
	}
}

func TestTotalSupplyAtBlock_BeforeHistory(t *testing.T) {
	ve, state := buildHistoryFixture(t)

	got, err := ve.TotalSupplyAtBlock(500, state.timestamp, state.block)
	if err != nil {
		t.Fatalf("TotalSupplyAtBlock failed: %v", err)
	}
	if got.Sign() != 0 {
		t.Errorf("supply before first recorded block = %v, want 0", got)
	}
}
