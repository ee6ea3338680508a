// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package escrow

import (
	"math/big"

	"github.com/luxfi/geth/common"
)

var maxLockSeconds = new(big.Int).SetUint64(MaxLockDuration)

// userPoint derives the (bias, slope) contribution of a lock at [now]:
// slope = amount / MaxLockDuration, bias = slope * (end - now). A lock that
// is expired or empty contributes nothing. Integer division truncates, so
// the decay curve is a deterministic staircase, never a float approximation.
func userPoint(l LockedBalance, now uint64) Point {
	p := zeroPoint(0, 0)
	if l.End > now && l.Amount.Sign() > 0 {
		p.Slope = new(big.Int).Quo(l.Amount, maxLockSeconds)
		p.Bias = new(big.Int).Mul(p.Slope, new(big.Int).SetUint64(l.End-now))
	}
	return p
}

// checkpoint records the lock transition [oldLocked] -> [newLocked] for
// [account] and catches the global history up to the present. The zero
// address is the sentinel for a pure global recompute. Caller must hold the
// write lock.
//
// The global curve is advanced one week at a time from the last recorded
// point: bias decays by slope*elapsed, scheduled slope changes fire exactly
// on their week boundary, and one point is appended per boundary crossed so
// history stays gapless at epoch granularity. Synthesized points get a
// block number interpolated along the secant between the last real
// checkpoint and the current block.
func (ve *VotingEscrow) checkpoint(stateDB StateDB, account common.Address, oldLocked, newLocked LockedBalance) {
	now := stateDB.GetBlockTimestamp()
	blk := stateDB.GetBlockNumber()
	hasAccount := account != (common.Address{})

	uOld := zeroPoint(0, 0)
	uNew := zeroPoint(0, 0)
	oldDslope := big.NewInt(0)
	newDslope := big.NewInt(0)

	if hasAccount {
		uOld = userPoint(oldLocked, now)
		uNew = userPoint(newLocked, now)

		// Read the scheduled slope changes at both ends before the walk
		// below consumes past entries.
		if sc := ve.slopeChanges[oldLocked.End]; sc != nil {
			oldDslope.Set(sc)
		}
		if newLocked.End != 0 {
			if newLocked.End == oldLocked.End {
				newDslope.Set(oldDslope)
			} else if sc := ve.slopeChanges[newLocked.End]; sc != nil {
				newDslope.Set(sc)
			}
		}
	}

	if len(ve.pointHistory) == 0 {
		ve.pointHistory = append(ve.pointHistory, zeroPoint(now, blk))
		ve.persistPoint(stateDB, 0, ve.pointHistory[0])
	}
	lastPoint := ve.pointHistory[ve.epoch].Clone()
	initial := lastPoint.Clone()
	lastCheckpoint := lastPoint.TS

	// Secant block/time slope for interpolating synthetic block numbers.
	blockSlope := big.NewInt(0)
	if now > lastPoint.TS {
		blockSlope.Mul(blockSlopeMultiplier, new(big.Int).SetUint64(blk-lastPoint.Blk))
		blockSlope.Quo(blockSlope, new(big.Int).SetUint64(now-lastPoint.TS))
	}

	// Walk forward one week at a time. Bounded as a safety valve; see
	// maxCheckpointIterations.
	ti := (lastCheckpoint / Week) * Week
	for i := 0; i < maxCheckpointIterations; i++ {
		ti += Week
		var dSlope *big.Int
		if ti > now {
			ti = now
		} else {
			dSlope = ve.slopeChanges[ti]
		}

		elapsed := new(big.Int).SetUint64(ti - lastCheckpoint)
		lastPoint.Bias.Sub(lastPoint.Bias, new(big.Int).Mul(lastPoint.Slope, elapsed))
		if dSlope != nil {
			lastPoint.Slope.Add(lastPoint.Slope, dSlope)
		}
		clampZero(lastPoint.Bias)
		clampZero(lastPoint.Slope)

		lastCheckpoint = ti
		lastPoint.TS = ti
		dBlk := new(big.Int).Mul(blockSlope, new(big.Int).SetUint64(ti-initial.TS))
		dBlk.Quo(dBlk, blockSlopeMultiplier)
		lastPoint.Blk = initial.Blk + dBlk.Uint64()

		if ti == now {
			lastPoint.Blk = blk
			break
		}
		ve.epoch++
		ve.pointHistory = append(ve.pointHistory, lastPoint.Clone())
		ve.persistPoint(stateDB, ve.epoch, lastPoint)
	}

	if hasAccount {
		// Apply the account's delta to the caught-up aggregate point.
		lastPoint.Slope.Add(lastPoint.Slope, new(big.Int).Sub(uNew.Slope, uOld.Slope))
		lastPoint.Bias.Add(lastPoint.Bias, new(big.Int).Sub(uNew.Bias, uOld.Bias))
		clampZero(lastPoint.Slope)
		clampZero(lastPoint.Bias)
	}

	ve.epoch++
	ve.pointHistory = append(ve.pointHistory, lastPoint.Clone())
	ve.persistPoint(stateDB, ve.epoch, lastPoint)

	if !hasAccount {
		return
	}

	// Reschedule the slope changes so this lock's contribution turns off
	// exactly when it expires. If old and new end coincide, the two
	// adjustments net out in the same slot.
	if oldLocked.End > now {
		oldDslope.Add(oldDslope, uOld.Slope)
		if newLocked.End == oldLocked.End {
			oldDslope.Sub(oldDslope, uNew.Slope)
		}
		ve.slopeChanges[oldLocked.End] = oldDslope
		ve.persistSlopeChange(oldLocked.End, oldDslope)
	}
	if newLocked.End > now && newLocked.End > oldLocked.End {
		newDslope.Sub(newDslope, uNew.Slope)
		ve.slopeChanges[newLocked.End] = newDslope
		ve.persistSlopeChange(newLocked.End, newDslope)
	}

	// Private history: index 0 is a zero sentinel, real points from 1.
	hist := ve.userPointHistory[account]
	if len(hist) == 0 {
		hist = append(hist, zeroPoint(0, 0))
	}
	uNew.TS = now
	uNew.Blk = blk
	hist = append(hist, uNew.Clone())
	ve.userPointHistory[account] = hist
	ve.persistUserPoint(stateDB, account, uint64(len(hist)-1), uNew)
}

// persistPoint mirrors a freshly appended global point into the StateDB and
// the optional on-disk point log. Log failures are reported, not fatal: the
// in-memory history remains authoritative for the process lifetime.
func (ve *VotingEscrow) persistPoint(stateDB StateDB, epoch uint64, p Point) {
	ve.savePoint(stateDB, epoch, p)
	if ve.store != nil {
		if err := ve.store.PutGlobal(epoch, p); err != nil {
			ve.log.Warn("point log write failed", "epoch", epoch, "err", err)
		}
	}
}

func (ve *VotingEscrow) persistUserPoint(stateDB StateDB, account common.Address, epoch uint64, p Point) {
	ve.saveUserPoint(stateDB, account, epoch, p)
	if ve.store != nil {
		if err := ve.store.PutUser(account, epoch, p); err != nil {
			ve.log.Warn("user point log write failed", "account", account, "epoch", epoch, "err", err)
		}
	}
}

func (ve *VotingEscrow) persistSlopeChange(ts uint64, delta *big.Int) {
	if ve.store != nil {
		if err := ve.store.PutSlopeChange(ts, delta); err != nil {
			ve.log.Warn("slope change write failed", "ts", ts, "err", err)
		}
	}
}
