// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package escrow

import (
	"math/big"
	"testing"
)

func TestCheckpoint_SeedsHistory(t *testing.T) {
	ve := newTestEscrow()
	state := NewMockStateDB(testBase, 1000)

	ve.Checkpoint(state)

	// seed point plus the catch-up point for "now"
	if ve.Epoch() != 1 {
		t.Fatalf("epoch = %d, want 1", ve.Epoch())
	}
	p, ok := ve.PointAt(1)
	if !ok {
		t.Fatal("missing point at epoch 1")
	}
	if p.Bias.Sign() != 0 || p.Slope.Sign() != 0 {
		t.Errorf("empty engine point = bias %v slope %v, want zero", p.Bias, p.Slope)
	}
	if p.TS != testBase || p.Blk != 1000 {
		t.Errorf("point tagged (%d,%d), want (%d,1000)", p.TS, p.Blk, testBase)
	}
}

func TestCheckpoint_IdempotentSameTimestamp(t *testing.T) {
	ve := newTestEscrow()
	state := NewMockStateDB(testBase, 1000)
	fundAccount(state, testUserA, tokens18(100))

	if err := ve.Deposit(state, testUserA, testTokenA, tokens18(100), testBase+4*Week); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	ve.Checkpoint(state)
	first, _ := ve.PointAt(ve.Epoch())
	ve.Checkpoint(state)
	second, _ := ve.PointAt(ve.Epoch())

	if first.Bias.Cmp(second.Bias) != 0 || first.Slope.Cmp(second.Slope) != 0 {
		t.Errorf("repeat checkpoint changed the latest point: (%v,%v) -> (%v,%v)",
			first.Bias, first.Slope, second.Bias, second.Slope)
	}
	if first.TS != second.TS || first.Blk != second.Blk {
		t.Errorf("repeat checkpoint changed tags: (%d,%d) -> (%d,%d)",
			first.TS, first.Blk, second.TS, second.Blk)
	}
}

func TestCheckpoint_FillsWeeklyPoints(t *testing.T) {
	ve := newTestEscrow()
	state := NewMockStateDB(testBase, 1000)
	fundAccount(state, testUserA, tokens18(100))

	if err := ve.Deposit(state, testUserA, testTokenA, tokens18(100), testBase+20*Week); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	epochAfterDeposit := ve.Epoch()

	// five silent weeks, then a forced catch-up
	state.Advance(5*Week, 25_000)
	ve.Checkpoint(state)

	// one synthesized point per interior boundary; "now" falls exactly on
	// the fifth boundary and is recorded once, by the final point
	if got := ve.Epoch(); got != epochAfterDeposit+5 {
		t.Fatalf("epoch = %d, want %d", got, epochAfterDeposit+5)
	}

	slope := new(big.Int).Quo(tokens18(100), new(big.Int).SetUint64(MaxLockDuration))

	// secant slope the walk interpolates along, same truncating math
	blockSlope := new(big.Int).Mul(blockSlopeMultiplier, big.NewInt(25_000))
	blockSlope.Quo(blockSlope, new(big.Int).SetUint64(5*Week))

	// epochs 2..5 are synthesized boundary points; the last is "now"
	for i := uint64(1); i <= 4; i++ {
		p, ok := ve.PointAt(epochAfterDeposit + i)
		if !ok {
			t.Fatalf("missing point at epoch %d", epochAfterDeposit+i)
		}
		if p.TS != testBase+i*Week {
			t.Errorf("point %d at ts %d, want week boundary %d", i, p.TS, testBase+i*Week)
		}
		wantBias := new(big.Int).Mul(slope, new(big.Int).SetUint64(20*Week-i*Week))
		if p.Bias.Cmp(wantBias) != 0 {
			t.Errorf("point %d bias = %v, want %v", i, p.Bias, wantBias)
		}

		dBlk := new(big.Int).Mul(blockSlope, new(big.Int).SetUint64(i*Week))
		dBlk.Quo(dBlk, blockSlopeMultiplier)
		wantBlk := 1000 + dBlk.Uint64()
		if p.Blk != wantBlk {
			t.Errorf("point %d blk = %d, want interpolated %d", i, p.Blk, wantBlk)
		}
		// roughly 5000 blocks per silent week
		if wantBlk < 1000+i*5000-1 || wantBlk > 1000+i*5000 {
			t.Errorf("interpolation drifted: point %d blk = %d", i, wantBlk)
		}
	}

	// the final point carries the real block, not an interpolation
	last, _ := ve.PointAt(ve.Epoch())
	if last.Blk != 26_000 {
		t.Errorf("final point blk = %d, want 26000", last.Blk)
	}

	// an off-boundary "now" is distinct from the boundary it just crossed,
	// so the next catch-up appends two points
	state.Advance(Week+3600, 5000)
	ve.Checkpoint(state)
	if got := ve.Epoch(); got != epochAfterDeposit+7 {
		t.Fatalf("epoch after off-boundary catch-up = %d, want %d", got, epochAfterDeposit+7)
	}
	boundary, _ := ve.PointAt(epochAfterDeposit + 6)
	if boundary.TS != testBase+6*Week {
		t.Errorf("crossed boundary recorded at ts %d, want %d", boundary.TS, testBase+6*Week)
	}
	last, _ = ve.PointAt(ve.Epoch())
	if last.TS != state.timestamp {
		t.Errorf("final point ts = %d, want off-boundary %d", last.TS, state.timestamp)
	}
}

func TestCheckpoint_SlopeTurnsOffAtExpiry(t *testing.T) {
	ve := newTestEscrow()
	state := NewMockStateDB(testBase, 1000)
	fundAccount(state, testUserA, tokens18(100))

	if err := ve.Deposit(state, testUserA, testTokenA, tokens18(100), testBase+2*Week); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	// the expiry week carries a negative scheduled slope change
	slope := new(big.Int).Quo(tokens18(100), new(big.Int).SetUint64(MaxLockDuration))
	sc := ve.slopeChanges[testBase+2*Week]
	if sc == nil || sc.Cmp(new(big.Int).Neg(slope)) != 0 {
		t.Fatalf("slope change at expiry = %v, want %v", sc, new(big.Int).Neg(slope))
	}

	state.Advance(3*Week, 15_000)
	ve.Checkpoint(state)

	last, _ := ve.PointAt(ve.Epoch())
	if last.Bias.Sign() != 0 {
		t.Errorf("bias after expiry = %v, want 0", last.Bias)
	}
	if last.Slope.Sign() != 0 {
		t.Errorf("slope after expiry = %v, want 0", last.Slope)
	}
}

func TestCheckpoint_ExtensionMovesSlopeChange(t *testing.T) {
	ve := newTestEscrow()
	state := NewMockStateDB(testBase, 1000)
	fundAccount(state, testUserA, tokens18(100))

	oldEnd := testBase + 2*Week
	newEnd := testBase + 6*Week
	if err := ve.Deposit(state, testUserA, testTokenA, tokens18(100), oldEnd); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := ve.IncreaseUnlockTime(state, testUserA, newEnd); err != nil {
		t.Fatalf("extend failed: %v", err)
	}

	slope := new(big.Int).Quo(tokens18(100), new(big.Int).SetUint64(MaxLockDuration))
	if sc := ve.slopeChanges[oldEnd]; sc == nil || sc.Sign() != 0 {
		t.Errorf("slope change at old end = %v, want netted to 0", sc)
	}
	if sc := ve.slopeChanges[newEnd]; sc == nil || sc.Cmp(new(big.Int).Neg(slope)) != 0 {
		t.Errorf("slope change at new end = %v, want %v", sc, new(big.Int).Neg(slope))
	}
}

func TestCheckpoint_TwoOverlappingLocks(t *testing.T) {
	ve := newTestEscrow()
	state := NewMockStateDB(testBase, 1000)
	fundAccount(state, testUserA, tokens18(400))
	fundAccount(state, testUserB, tokens18(100))

	if err := ve.Deposit(state, testUserA, testTokenA, tokens18(400), testBase+8*Week); err != nil {
		t.Fatalf("deposit A failed: %v", err)
	}
	state.Advance(Week, 5000)
	if err := ve.Deposit(state, testUserB, testTokenA, tokens18(100), testBase+4*Week); err != nil {
		t.Fatalf("deposit B failed: %v", err)
	}

	// aggregate equals the sum of the parts at every sampled instant
	for _, ts := range []uint64{
		state.timestamp,
		testBase + 2*Week + 12345,
		testBase + 4*Week, // B expires
		testBase + 5*Week,
		testBase + 8*Week, // A expires
		testBase + 9*Week,
	} {
		sum := new(big.Int).Add(ve.BalanceOf(testUserA, ts), ve.BalanceOf(testUserB, ts))
		total := ve.TotalSupply(ts)
		if total.Cmp(sum) != 0 {
			t.Errorf("at t=%d: total = %v, sum = %v", ts, total, sum)
		}
	}
}

func TestDecayMonotonicity(t *testing.T) {
	ve := newTestEscrow()
	state := NewMockStateDB(testBase, 1000)
	fundAccount(state, testUserA, tokens18(123))

	end := testBase + 7*Week
	if err := ve.Deposit(state, testUserA, testTokenA, tokens18(123), end); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	prev := ve.BalanceOf(testUserA, testBase)
	for ts := testBase + 3600; ts <= end+Week; ts += 6 * 3600 {
		cur := ve.BalanceOf(testUserA, ts)
		if cur.Cmp(prev) > 0 {
			t.Fatalf("voting power increased between samples: %v -> %v at t=%d", prev, cur, ts)
		}
		if ts >= end && cur.Sign() != 0 {
			t.Fatalf("voting power past expiry = %v at t=%d, want 0", cur, ts)
		}
		prev = cur
	}
}

func TestUserPoint_ZeroForExpiredTransition(t *testing.T) {
	ve := newTestEscrow()
	state := NewMockStateDB(testBase, 1000)
	fundAccount(state, testUserA, tokens18(10))

	if err := ve.Deposit(state, testUserA, testTokenA, tokens18(10), testBase+Week); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	state.Advance(Week+3600, 5000)
	if _, err := ve.Withdraw(state, testUserA); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	// the withdrawal appended a zero private point
	epoch := ve.UserPointEpoch(testUserA)
	if epoch != 2 {
		t.Fatalf("user epoch = %d, want 2", epoch)
	}
	if got := ve.LastUserSlope(testUserA); got.Sign() != 0 {
		t.Errorf("last slope = %v, want 0", got)
	}
	if got := ve.UserPointHistoryTime(testUserA, epoch); got != state.timestamp {
		t.Errorf("last point ts = %d, want %d", got, state.timestamp)
	}
}
