// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package escrow

import (
	"math/big"

	"github.com/luxfi/geth/common"
)

// Epoch returns the index of the latest global point.
func (ve *VotingEscrow) Epoch() uint64 {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	return ve.epoch
}

// Supply returns the aggregate locked amount (not the decayed voting power).
func (ve *VotingEscrow) Supply() *big.Int {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	return new(big.Int).Set(ve.supply)
}

// PointAt returns the global point at [epoch].
func (ve *VotingEscrow) PointAt(epoch uint64) (Point, bool) {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	if epoch >= uint64(len(ve.pointHistory)) {
		return Point{}, false
	}
	return ve.pointHistory[epoch].Clone(), true
}

// LockedEnd returns the unlock timestamp of [account]'s lock, zero if none.
func (ve *VotingEscrow) LockedEnd(account common.Address) uint64 {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	return ve.locked[account].End
}

// LockedAmount returns the amount committed in [account]'s lock.
func (ve *VotingEscrow) LockedAmount(account common.Address) *big.Int {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	l, ok := ve.locked[account]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(l.Amount)
}

// UserPointEpoch returns the index of [account]'s latest private point.
func (ve *VotingEscrow) UserPointEpoch(account common.Address) uint64 {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	return ve.userPointEpochLocked(account)
}

func (ve *VotingEscrow) userPointEpochLocked(account common.Address) uint64 {
	hist := ve.userPointHistory[account]
	if len(hist) == 0 {
		return 0
	}
	return uint64(len(hist) - 1)
}

// LastUserSlope returns the decay rate of [account]'s latest private point.
func (ve *VotingEscrow) LastUserSlope(account common.Address) *big.Int {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	epoch := ve.userPointEpochLocked(account)
	if epoch == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Set(ve.userPointHistory[account][epoch].Slope)
}

// LastUserBlock returns the block of [account]'s latest private point.
func (ve *VotingEscrow) LastUserBlock(account common.Address) uint64 {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	epoch := ve.userPointEpochLocked(account)
	if epoch == 0 {
		return 0
	}
	return ve.userPointHistory[account][epoch].Blk
}

// UserPointHistoryTime returns the timestamp of [account]'s point at [idx].
func (ve *VotingEscrow) UserPointHistoryTime(account common.Address, idx uint64) uint64 {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	hist := ve.userPointHistory[account]
	if idx >= uint64(len(hist)) {
		return 0
	}
	return hist[idx].TS
}

// BalanceOf returns [account]'s voting power at [now]: the latest private
// point decayed forward, floored at zero.
func (ve *VotingEscrow) BalanceOf(account common.Address, now uint64) *big.Int {
	ve.mu.RLock()
	defer ve.mu.RUnlock()

	epoch := ve.userPointEpochLocked(account)
	if epoch == 0 {
		return big.NewInt(0)
	}
	last := ve.userPointHistory[account][epoch]
	return decayedBias(last, now)
}

// BalanceOfAtTime returns [account]'s voting power at an arbitrary past
// timestamp, located via binary search over the private history.
func (ve *VotingEscrow) BalanceOfAtTime(account common.Address, t uint64) *big.Int {
	ve.mu.RLock()
	defer ve.mu.RUnlock()

	hist := ve.userPointHistory[account]
	if len(hist) == 0 {
		return big.NewInt(0)
	}
	idx := searchByTimestamp(hist, t)
	if idx == 0 {
		return big.NewInt(0)
	}
	return decayedBias(hist[idx], t)
}

// BalanceOfAtBlock returns [account]'s voting power at a past block. The
// block is mapped to a timestamp by interpolating between the surrounding
// global checkpoints; [nowTS] and [nowBlk] anchor the open-ended last
// segment.
func (ve *VotingEscrow) BalanceOfAtBlock(account common.Address, blk, nowTS, nowBlk uint64) (*big.Int, error) {
	ve.mu.RLock()
	defer ve.mu.RUnlock()

	if blk > nowBlk {
		return nil, ErrFutureLookup
	}
	hist := ve.userPointHistory[account]
	if len(hist) == 0 {
		return big.NewInt(0), nil
	}
	idx := searchByBlock(hist, blk)
	if idx == 0 {
		return big.NewInt(0), nil
	}
	upoint := hist[idx]

	blockTime := ve.blockToTime(blk, nowTS, nowBlk)
	if blockTime < upoint.TS {
		blockTime = upoint.TS
	}
	return decayedBias(upoint, blockTime), nil
}

// TotalSupply returns the aggregate voting power at [now]: a read-only
// epoch-walk replay of the latest global point, no stored state mutated.
func (ve *VotingEscrow) TotalSupply(now uint64) *big.Int {
	ve.mu.RLock()
	defer ve.mu.RUnlock()

	if len(ve.pointHistory) == 0 {
		return big.NewInt(0)
	}
	return ve.supplyAt(ve.pointHistory[ve.epoch], now)
}

// TotalSupplyAtTime returns the aggregate voting power at an arbitrary past
// timestamp: the same replay stopping at [t].
func (ve *VotingEscrow) TotalSupplyAtTime(t uint64) *big.Int {
	ve.mu.RLock()
	defer ve.mu.RUnlock()

	if len(ve.pointHistory) == 0 || t < ve.pointHistory[0].TS {
		return big.NewInt(0)
	}
	idx := searchByTimestamp(ve.pointHistory, t)
	return ve.supplyAt(ve.pointHistory[idx], t)
}

// TotalSupplyAtBlock returns the aggregate voting power at a past block.
func (ve *VotingEscrow) TotalSupplyAtBlock(blk, nowTS, nowBlk uint64) (*big.Int, error) {
	ve.mu.RLock()
	defer ve.mu.RUnlock()

	if blk > nowBlk {
		return nil, ErrFutureLookup
	}
	if len(ve.pointHistory) == 0 {
		return big.NewInt(0), nil
	}
	idx := searchByBlock(ve.pointHistory, blk)
	point := ve.pointHistory[idx]
	if point.Blk > blk {
		return big.NewInt(0), nil
	}
	return ve.supplyAt(point, ve.blockToTime(blk, nowTS, nowBlk)), nil
}

// FindBlockEpoch returns the highest global epoch whose point is at or
// before [blk].
func (ve *VotingEscrow) FindBlockEpoch(blk uint64) uint64 {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	if len(ve.pointHistory) == 0 {
		return 0
	}
	return searchByBlock(ve.pointHistory, blk)
}

// FindTimestampEpoch returns the highest global epoch whose point is at or
// before [t].
func (ve *VotingEscrow) FindTimestampEpoch(t uint64) uint64 {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	if len(ve.pointHistory) == 0 {
		return 0
	}
	return searchByTimestamp(ve.pointHistory, t)
}

// FindTimestampUserEpoch returns the highest private epoch of [account]
// whose point is at or before [t].
func (ve *VotingEscrow) FindTimestampUserEpoch(account common.Address, t uint64) uint64 {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	hist := ve.userPointHistory[account]
	if len(hist) == 0 {
		return 0
	}
	return searchByTimestamp(hist, t)
}

// supplyAt replays the decay curve from [point] forward to [t], applying
// scheduled slope changes at each week boundary. Pure computation; caller
// holds at least the read lock.
func (ve *VotingEscrow) supplyAt(point Point, t uint64) *big.Int {
	last := point.Clone()

	ti := (last.TS / Week) * Week
	for i := 0; i < maxCheckpointIterations; i++ {
		ti += Week
		var dSlope *big.Int
		if ti > t {
			ti = t
		} else {
			dSlope = ve.slopeChanges[ti]
		}
		elapsed := new(big.Int).SetUint64(ti - last.TS)
		last.Bias.Sub(last.Bias, new(big.Int).Mul(last.Slope, elapsed))
		if ti == t {
			break
		}
		if dSlope != nil {
			last.Slope.Add(last.Slope, dSlope)
		}
		last.TS = ti
	}

	clampZero(last.Bias)
	return last.Bias
}

// blockToTime maps a block number to a timestamp using the secant between
// the two global checkpoints surrounding it, or between the last checkpoint
// and (nowTS, nowBlk) when the block is past the recorded history.
func (ve *VotingEscrow) blockToTime(blk, nowTS, nowBlk uint64) uint64 {
	idx := searchByBlock(ve.pointHistory, blk)
	point := ve.pointHistory[idx]

	dBlock := uint64(0)
	dt := uint64(0)
	if idx < ve.epoch {
		next := ve.pointHistory[idx+1]
		dBlock = next.Blk - point.Blk
		dt = next.TS - point.TS
	} else {
		dBlock = nowBlk - point.Blk
		dt = nowTS - point.TS
	}

	blockTime := point.TS
	if dBlock != 0 {
		blockTime += dt * (blk - point.Blk) / dBlock
	}
	return blockTime
}

// decayedBias evaluates a point's bias at [t], floored at zero. [t] at or
// after the point's timestamp; the piecewise curve is linear in between
// checkpoints so no walk is needed.
func decayedBias(p Point, t uint64) *big.Int {
	bias := new(big.Int).Set(p.Bias)
	if t > p.TS {
		elapsed := new(big.Int).SetUint64(t - p.TS)
		bias.Sub(bias, new(big.Int).Mul(p.Slope, elapsed))
	}
	clampZero(bias)
	return bias
}

// searchByTimestamp converges to the highest index whose recorded timestamp
// is at or before [target]. Fixed iteration cap, enough for any index range
// the epoch counters can reach.
func searchByTimestamp(hist []Point, target uint64) uint64 {
	lo, hi := uint64(0), uint64(len(hist)-1)
	for i := 0; i < maxSearchIterations; i++ {
		if lo >= hi {
			break
		}
		mid := (lo + hi + 1) / 2
		if hist[mid].TS <= target {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// searchByBlock is searchByTimestamp over the block field.
func searchByBlock(hist []Point, target uint64) uint64 {
	lo, hi := uint64(0), uint64(len(hist)-1)
	for i := 0; i < maxSearchIterations; i++ {
		if lo >= hi {
			break
		}
		mid := (lo + hi + 1) / 2
		if hist[mid].Blk <= target {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
