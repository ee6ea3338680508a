// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package escrow

import (
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
)

// VotingEscrow is the escrow accounting engine. All lock state, the global
// and per-account point histories, and the slope-change schedule live here;
// every mutating entry point holds the write lock for the whole
// checkpoint-and-append sequence so concurrent callers observe the history
// as if their transactions ran serially.
type VotingEscrow struct {
	mu sync.RWMutex

	log log.Logger

	// owner may mutate the handler list
	owner common.Address

	// tokens is the fixed allow-list of accepted deposit tokens
	tokens [2]common.Address

	// handlers may deposit/withdraw on behalf of other accounts
	handlers map[common.Address]bool

	// supply is the sum of all locked amounts
	supply *big.Int

	// locked holds each account's current lock
	locked map[common.Address]LockedBalance

	// lockedToken records which accepted token funded each lock
	lockedToken map[common.Address]common.Address

	// epoch indexes the latest entry of pointHistory
	epoch uint64

	// pointHistory is the append-only global decay-curve history
	pointHistory []Point

	// userPointHistory is each account's append-only private history;
	// index 0 is a zero sentinel, real points start at 1
	userPointHistory map[common.Address][]Point

	// slopeChanges maps week-aligned future timestamps to the aggregate
	// slope delta that takes effect there (locks expiring)
	slopeChanges map[uint64]*big.Int

	// weightedUnlock is sum(amount*end) over active locks, kept
	// incrementally for the average unlock time statistic
	weightedUnlock *big.Int

	// store, when set, receives a write-through copy of every appended
	// point for rebuilding history after restart
	store *PointStore
}

// NewVotingEscrow creates the engine. [tokens] is the two-entry accepted
// token allow-list; only [owner] may mutate the handler list.
func NewVotingEscrow(owner common.Address, tokens [2]common.Address, logger log.Logger) *VotingEscrow {
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &VotingEscrow{
		log:              logger,
		owner:            owner,
		tokens:           tokens,
		handlers:         make(map[common.Address]bool),
		supply:           big.NewInt(0),
		locked:           make(map[common.Address]LockedBalance),
		lockedToken:      make(map[common.Address]common.Address),
		pointHistory:     make([]Point, 0),
		userPointHistory: make(map[common.Address][]Point),
		slopeChanges:     make(map[uint64]*big.Int),
		weightedUnlock:   big.NewInt(0),
	}
}

// Owner returns the owner account.
func (ve *VotingEscrow) Owner() common.Address {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	return ve.owner
}

// Tokens returns the accepted token allow-list.
func (ve *VotingEscrow) Tokens() [2]common.Address {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	return ve.tokens
}

// AddHandler allows [handler] to act on behalf of other accounts.
func (ve *VotingEscrow) AddHandler(caller, handler common.Address) error {
	ve.mu.Lock()
	defer ve.mu.Unlock()

	if caller != ve.owner {
		return ErrNotOwner
	}
	ve.handlers[handler] = true
	ve.log.Info("handler added", "handler", handler)
	return nil
}

// RemoveHandler revokes [handler].
func (ve *VotingEscrow) RemoveHandler(caller, handler common.Address) error {
	ve.mu.Lock()
	defer ve.mu.Unlock()

	if caller != ve.owner {
		return ErrNotOwner
	}
	delete(ve.handlers, handler)
	ve.log.Info("handler removed", "handler", handler)
	return nil
}

// IsHandler reports whether [addr] is on the handler allow-list.
func (ve *VotingEscrow) IsHandler(addr common.Address) bool {
	ve.mu.RLock()
	defer ve.mu.RUnlock()
	return ve.handlers[addr]
}

// canActFor reports whether [caller] may operate on [account]'s lock.
// Must be called with the lock held.
func (ve *VotingEscrow) canActFor(caller, account common.Address) bool {
	return caller == account || ve.handlers[caller]
}

func (ve *VotingEscrow) acceptsToken(token common.Address) bool {
	return token == ve.tokens[0] || token == ve.tokens[1]
}

// Deposit creates or tops up the caller's own lock. [unlockTime] is rounded
// down to a whole week and must satisfy the monotonic-extension rules.
func (ve *VotingEscrow) Deposit(stateDB StateDB, caller, token common.Address, value *big.Int, unlockTime uint64) error {
	ve.mu.Lock()
	defer ve.mu.Unlock()
	return ve.depositFor(stateDB, caller, caller, token, value, unlockTime)
}

// DepositFor deposits from [funder]'s balance into [account]'s lock.
// Non-handler callers may only act as themselves.
func (ve *VotingEscrow) DepositFor(stateDB StateDB, caller, funder, account, token common.Address, value *big.Int, unlockTime uint64) error {
	ve.mu.Lock()
	defer ve.mu.Unlock()

	if !ve.handlers[caller] && (caller != funder || caller != account) {
		return ErrNotAuthorized
	}
	return ve.depositFor(stateDB, funder, account, token, value, unlockTime)
}

// IncreaseUnlockTime extends the caller's lock without adding value.
func (ve *VotingEscrow) IncreaseUnlockTime(stateDB StateDB, caller common.Address, unlockTime uint64) error {
	ve.mu.Lock()
	defer ve.mu.Unlock()

	l, ok := ve.locked[caller]
	if !ok || l.Amount.Sign() == 0 {
		return ErrNoExistingLock
	}
	return ve.depositFor(stateDB, caller, caller, ve.lockedToken[caller], big.NewInt(0), unlockTime)
}

// IncreaseUnlockTimeFor extends [account]'s lock. Handler-only unless the
// caller is the account itself.
func (ve *VotingEscrow) IncreaseUnlockTimeFor(stateDB StateDB, caller, account common.Address, unlockTime uint64) error {
	ve.mu.Lock()
	defer ve.mu.Unlock()

	if !ve.canActFor(caller, account) {
		return ErrNotAuthorized
	}
	l, ok := ve.locked[account]
	if !ok || l.Amount.Sign() == 0 {
		return ErrNoExistingLock
	}
	return ve.depositFor(stateDB, account, account, ve.lockedToken[account], big.NewInt(0), unlockTime)
}

// depositFor is the shared create/top-up/extend path. Caller must hold the
// write lock and have authorized [funder]/[account] already.
func (ve *VotingEscrow) depositFor(stateDB StateDB, funder, account, token common.Address, value *big.Int, unlockTime uint64) error {
	if !ve.acceptsToken(token) {
		return ErrTokenNotAccepted
	}
	if err := checkLockAmount(value); err != nil {
		return err
	}

	now := stateDB.GetBlockTimestamp()
	old, ok := ve.locked[account]
	if !ok {
		old = emptyLock()
	}

	unlock := (unlockTime / Week) * Week
	if unlock <= now {
		return ErrUnlockTimeInPast
	}
	if unlock > now+MaxLockDuration {
		return ErrUnlockTimeTooFar
	}
	if unlock < old.End {
		return ErrUnlockTimeShorter
	}

	if old.Amount.Sign() > 0 {
		// An expired lock must go through withdraw before more funds
		// can be committed.
		if old.End <= now {
			return ErrLockExpired
		}
		if ve.lockedToken[account] != token {
			return ErrLockTokenMismatch
		}
	} else {
		// Creating a lock requires funds
		if value.Sign() == 0 {
			return ErrZeroValue
		}
	}

	if err := checkLockAmount(new(big.Int).Add(old.Amount, value)); err != nil {
		return err
	}

	prevSupply := new(big.Int).Set(ve.supply)
	ve.supply.Add(ve.supply, value)

	newLock := LockedBalance{
		Amount: new(big.Int).Add(old.Amount, value),
		End:    unlock,
	}
	ve.locked[account] = newLock
	ve.updateWeightedUnlock(old, newLock)

	ve.checkpoint(stateDB, account, old, newLock)

	if value.Sign() > 0 {
		ve.lockedToken[account] = token
		ve.transferIn(stateDB, funder, value)
	}

	ve.saveLock(stateDB, account, newLock, token)
	ve.saveSupply(stateDB)

	emitDeposit(stateDB, account, token, value, unlock, now)
	emitSupply(stateDB, prevSupply, ve.supply)

	ve.log.Debug("deposit",
		"account", account, "token", token,
		"value", value, "unlock", unlock, "supply", ve.supply)
	return nil
}

// Withdraw returns the caller's tokens once the lock has expired.
func (ve *VotingEscrow) Withdraw(stateDB StateDB, caller common.Address) (*big.Int, error) {
	ve.mu.Lock()
	defer ve.mu.Unlock()
	return ve.withdraw(stateDB, caller)
}

// WithdrawFor withdraws [account]'s expired lock back to [account].
// Handler-only unless the caller is the account itself.
func (ve *VotingEscrow) WithdrawFor(stateDB StateDB, caller, account common.Address) (*big.Int, error) {
	ve.mu.Lock()
	defer ve.mu.Unlock()

	if !ve.canActFor(caller, account) {
		return nil, ErrNotAuthorized
	}
	return ve.withdraw(stateDB, account)
}

func (ve *VotingEscrow) withdraw(stateDB StateDB, account common.Address) (*big.Int, error) {
	old, ok := ve.locked[account]
	if !ok || old.Amount.Sign() == 0 {
		return nil, ErrNoExistingLock
	}

	now := stateDB.GetBlockTimestamp()
	if now < old.End {
		return nil, ErrLockNotExpired
	}

	value := new(big.Int).Set(old.Amount)
	token := ve.lockedToken[account]

	cleared := emptyLock()
	ve.locked[account] = cleared
	delete(ve.lockedToken, account)
	ve.updateWeightedUnlock(old, cleared)

	prevSupply := new(big.Int).Set(ve.supply)
	ve.supply.Sub(ve.supply, value)

	// old.End <= now, so both bias and slope checkpoint to zero
	ve.checkpoint(stateDB, account, old, cleared)

	ve.transferOut(stateDB, account, value)
	ve.saveLock(stateDB, account, cleared, common.Address{})
	ve.saveSupply(stateDB)

	emitWithdraw(stateDB, account, value, now)
	emitSupply(stateDB, prevSupply, ve.supply)

	ve.log.Debug("withdraw", "account", account, "token", token, "value", value)
	return value, nil
}

// Checkpoint forces a global-only history catch-up with no account delta.
func (ve *VotingEscrow) Checkpoint(stateDB StateDB) {
	ve.mu.Lock()
	defer ve.mu.Unlock()
	ve.checkpoint(stateDB, common.Address{}, emptyLock(), emptyLock())
}

// updateWeightedUnlock maintains sum(amount*end) across the single lock
// transition [old] -> [new], never recomputing from scratch.
func (ve *VotingEscrow) updateWeightedUnlock(old, newLock LockedBalance) {
	oldTerm := new(big.Int).Mul(old.Amount, new(big.Int).SetUint64(old.End))
	newTerm := new(big.Int).Mul(newLock.Amount, new(big.Int).SetUint64(newLock.End))
	ve.weightedUnlock.Add(ve.weightedUnlock, newTerm)
	ve.weightedUnlock.Sub(ve.weightedUnlock, oldTerm)
}

// AverageUnlockTime returns the amount-weighted mean unlock timestamp over
// all supply, zero when nothing is locked. An auxiliary statistic: it feeds
// no voting-power math.
func (ve *VotingEscrow) AverageUnlockTime() uint64 {
	ve.mu.RLock()
	defer ve.mu.RUnlock()

	if ve.supply.Sign() == 0 {
		return 0
	}
	avg := new(big.Int).Quo(ve.weightedUnlock, ve.supply)
	return avg.Uint64()
}

// transferIn pulls [value] from [funder] into escrow custody.
func (ve *VotingEscrow) transferIn(stateDB StateDB, funder common.Address, value *big.Int) {
	amount, _ := uint256.FromBig(value)
	stateDB.SubBalance(funder, amount)
	stateDB.AddBalance(veEscrowAddr, amount)
}

// transferOut returns [value] from custody to [account].
func (ve *VotingEscrow) transferOut(stateDB StateDB, account common.Address, value *big.Int) {
	amount, _ := uint256.FromBig(value)
	stateDB.SubBalance(veEscrowAddr, amount)
	stateDB.AddBalance(account, amount)
}

// =========================================================================
// StateDB persistence
// =========================================================================

func (ve *VotingEscrow) saveLock(stateDB StateDB, account common.Address, l LockedBalance, token common.Address) {
	storageKey := makeStorageKey(lockPrefix, account.Bytes())
	var data common.Hash
	amountBytes := l.Amount.Bytes()
	copy(data[16-len(amountBytes):16], amountBytes)
	binary.BigEndian.PutUint64(data[16:24], l.End)
	stateDB.SetState(veEscrowAddr, storageKey, data)

	tokenKey := makeStorageKey(lockTokenPrefix, account.Bytes())
	var tokenData common.Hash
	copy(tokenData[:20], token.Bytes())
	stateDB.SetState(veEscrowAddr, tokenKey, tokenData)
}

func (ve *VotingEscrow) loadLock(stateDB StateDB, account common.Address) (LockedBalance, common.Address) {
	storageKey := makeStorageKey(lockPrefix, account.Bytes())
	data := stateDB.GetState(veEscrowAddr, storageKey)
	l := LockedBalance{
		Amount: new(big.Int).SetBytes(data[:16]),
		End:    binary.BigEndian.Uint64(data[16:24]),
	}

	tokenKey := makeStorageKey(lockTokenPrefix, account.Bytes())
	tokenData := stateDB.GetState(veEscrowAddr, tokenKey)
	return l, common.BytesToAddress(tokenData[:20])
}

func (ve *VotingEscrow) saveSupply(stateDB StateDB) {
	var data common.Hash
	supplyBytes := ve.supply.Bytes()
	copy(data[16-len(supplyBytes):16], supplyBytes)
	stateDB.SetState(veEscrowAddr, supplySlot, data)
}

// savePoint mirrors a global history point into state. Bias and slope are
// clamped non-negative by construction so both pack into 16 unsigned bytes.
func (ve *VotingEscrow) savePoint(stateDB StateDB, epoch uint64, p Point) {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], epoch)
	storageKey := makeStorageKey(pointPrefix, idx[:])

	var data common.Hash
	biasBytes := p.Bias.Bytes()
	slopeBytes := p.Slope.Bytes()
	copy(data[16-len(biasBytes):16], biasBytes)
	copy(data[32-len(slopeBytes):32], slopeBytes)
	stateDB.SetState(veEscrowAddr, storageKey, data)

	metaKey := makeStorageKey(pointPrefix, append(idx[:], 't'))
	var meta common.Hash
	binary.BigEndian.PutUint64(meta[:8], p.TS)
	binary.BigEndian.PutUint64(meta[8:16], p.Blk)
	stateDB.SetState(veEscrowAddr, metaKey, meta)
}

// saveUserPoint mirrors a private history point, keyed on account and index.
func (ve *VotingEscrow) saveUserPoint(stateDB StateDB, account common.Address, epoch uint64, p Point) {
	id := make([]byte, 0, 29)
	id = append(id, account.Bytes()...)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], epoch)
	id = append(id, idx[:]...)
	storageKey := makeStorageKey(userPointPrefix, id)

	var data common.Hash
	biasBytes := p.Bias.Bytes()
	slopeBytes := p.Slope.Bytes()
	copy(data[16-len(biasBytes):16], biasBytes)
	copy(data[32-len(slopeBytes):32], slopeBytes)
	stateDB.SetState(veEscrowAddr, storageKey, data)

	metaKey := makeStorageKey(userPointPrefix, append(id, 't'))
	var meta common.Hash
	binary.BigEndian.PutUint64(meta[:8], p.TS)
	binary.BigEndian.PutUint64(meta[8:16], p.Blk)
	stateDB.SetState(veEscrowAddr, metaKey, meta)
}
