// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package escrow implements the voting escrow precompile (LP-9090): tokens
// are locked for up to four years and grant a voting power that decays
// linearly to zero at the unlock time. The engine keeps a gapless weekly
// checkpoint history of the aggregate decay curve so voting power can be
// queried at any past timestamp or block.
package escrow

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	ethtypes "github.com/luxfi/geth/core/types"
	"github.com/zeebo/blake3"

	"github.com/luxfi/escrow/registry"
)

// StateDB interface for accessing and modifying EVM state
type StateDB interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)
	GetBalance(addr common.Address) *uint256.Int
	AddBalance(addr common.Address, amount *uint256.Int)
	SubBalance(addr common.Address, amount *uint256.Int)
	Exist(addr common.Address) bool
	CreateAccount(addr common.Address)
	AddLog(log *ethtypes.Log)
	GetBlockNumber() uint64
	GetBlockTimestamp() uint64
}

// Precompile address (LP-9090 VeEscrow), single-sourced from the registry
const VeEscrowAddress = registry.VeEscrow

var veEscrowAddr = common.HexToAddress(VeEscrowAddress)

// Time constants. Unlock times are rounded down to whole weeks; the weekly
// granularity is load-bearing for the slope-change schedule, which keys on
// week-aligned timestamps.
const (
	// Week is the epoch width in seconds.
	Week uint64 = 7 * 24 * 3600

	// MaxLockDuration is the longest a lock may run (4 years).
	MaxLockDuration uint64 = 4 * 365 * 24 * 3600

	// maxCheckpointIterations bounds the epoch catch-up walk. At one week
	// per step this covers ~4.9 years of checkpoint silence; Checkpoint()
	// is public so any keeper can refresh the history long before the cap
	// is reached. If it ever were exceeded, reported voting weight goes
	// stale but withdrawal still functions.
	maxCheckpointIterations = 255

	// maxSearchIterations bounds the epoch binary searches; 128 halvings
	// cover any index range the epoch counters can reach.
	maxSearchIterations = 128
)

// blockSlopeMultiplier scales the secant block/time slope used to
// interpolate synthetic block numbers for filled-in history points.
var blockSlopeMultiplier = big.NewInt(1e18)

// maxLockAmount is the largest lock magnitude the engine accepts. The decay
// math needs signed intermediates, so amounts are confined to int128 range.
var maxLockAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))

// Gas costs
const (
	GasDeposit    uint64 = 30_000 // Create or top up a lock
	GasExtend     uint64 = 20_000 // Extend unlock time
	GasWithdraw   uint64 = 20_000 // Withdraw an expired lock
	GasCheckpoint uint64 = 15_000 // Forced global catch-up
	GasAdmin      uint64 = 5_000  // Handler list mutation
	GasQuery      uint64 = 3_000  // Read-only queries
)

// Storage key prefixes for escrow state
var (
	lockPrefix      = []byte("ve/lock")
	lockTokenPrefix = []byte("ve/ltok")
	pointPrefix     = []byte("ve/gpnt")
	userPointPrefix = []byte("ve/upnt")
	supplySlot      = makeStorageKey([]byte("ve/glob"), []byte("supply"))
)

// Errors
var (
	ErrTokenNotAccepted  = errors.New("token not on the accepted list")
	ErrZeroValue         = errors.New("deposit value must be positive")
	ErrValueOutOfRange   = errors.New("value outside lockable range")
	ErrNoExistingLock    = errors.New("no existing lock")
	ErrLockExpired       = errors.New("lock expired, withdraw first")
	ErrLockNotExpired    = errors.New("lock has not expired yet")
	ErrUnlockTimeInPast  = errors.New("unlock time must be in the future")
	ErrUnlockTimeTooFar  = errors.New("unlock time exceeds maximum lock duration")
	ErrUnlockTimeShorter = errors.New("unlock time cannot decrease")
	ErrLockTokenMismatch = errors.New("lock already funded with a different token")
	ErrNotAuthorized     = errors.New("caller may not act for this account")
	ErrNotOwner          = errors.New("caller is not the owner")
	ErrFutureLookup      = errors.New("lookup target is in the future")
)

// LockedBalance is one account's lock: the amount committed and the
// week-aligned timestamp it unlocks at. End == 0 means fully withdrawn.
type LockedBalance struct {
	Amount *big.Int
	End    uint64
}

// Clone returns a deep copy.
func (l LockedBalance) Clone() LockedBalance {
	return LockedBalance{Amount: new(big.Int).Set(l.Amount), End: l.End}
}

func emptyLock() LockedBalance {
	return LockedBalance{Amount: big.NewInt(0)}
}

// Point is a snapshot of the decay curve: the voting power (bias) and its
// per-second decay rate (slope) at timestamp TS, correlated with block Blk.
type Point struct {
	Bias  *big.Int
	Slope *big.Int
	TS    uint64
	Blk   uint64
}

// Clone returns a deep copy.
func (p Point) Clone() Point {
	return Point{
		Bias:  new(big.Int).Set(p.Bias),
		Slope: new(big.Int).Set(p.Slope),
		TS:    p.TS,
		Blk:   p.Blk,
	}
}

func zeroPoint(ts, blk uint64) Point {
	return Point{Bias: big.NewInt(0), Slope: big.NewInt(0), TS: ts, Blk: blk}
}

// checkLockAmount validates that [v] is usable as a lock magnitude: positive
// ranges only, confined to the signed 128-bit width the decay math assumes.
// Out-of-range values are a hard failure, never wrapped or clamped.
func checkLockAmount(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return ErrValueOutOfRange
	}
	if v.Cmp(maxLockAmount) > 0 {
		return ErrValueOutOfRange
	}
	return nil
}

// clampZero floors [v] at zero in place. Bias and slope must never go
// negative; everything that rounds below zero reads as zero.
func clampZero(v *big.Int) {
	if v.Sign() < 0 {
		v.SetInt64(0)
	}
}

// makeStorageKey creates a storage key from prefix and identifier
func makeStorageKey(prefix []byte, id []byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	h.Write(id)
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}
