// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/luxfi/escrow/contract"
	"github.com/luxfi/escrow/modules"
	"github.com/luxfi/escrow/precompileconfig"
	"github.com/luxfi/geth/common"
)

var _ contract.Configurator = (*configurator)(nil)
var _ contract.StatefulPrecompiledContract = (*EscrowContract)(nil)

// ConfigKey is the key used in json config files to specify this precompile config.
const ConfigKey = "veEscrowConfig"

// ContractVeEscrowAddress is where the escrow precompile is accessible.
var ContractVeEscrowAddress = common.HexToAddress(VeEscrowAddress)

// VeEscrowPrecompile is the singleton instance
var VeEscrowPrecompile = &EscrowContract{
	engine: NewVotingEscrow(common.Address{}, [2]common.Address{}, nil),
}

// Module is the precompile module (VeEscrow at LP-9090)
var Module = modules.Module{
	ConfigKey:    ConfigKey,
	Address:      ContractVeEscrowAddress,
	Contract:     VeEscrowPrecompile,
	Configurator: &configurator{},
}

// Method selectors
const (
	SelectorDeposit              uint32 = 0x01000000 // deposit(address,uint256,uint256)
	SelectorDepositFor           uint32 = 0x02000000 // depositFor(address,address,address,uint256,uint256)
	SelectorIncreaseUnlockTime   uint32 = 0x03000000 // increaseUnlockTime(uint256)
	SelectorIncreaseUnlockTimeFor uint32 = 0x04000000 // increaseUnlockTimeFor(address,uint256)
	SelectorWithdraw             uint32 = 0x05000000 // withdraw()
	SelectorWithdrawFor          uint32 = 0x06000000 // withdrawFor(address)
	SelectorCheckpoint           uint32 = 0x07000000 // checkpoint()
	SelectorAddHandler           uint32 = 0x08000000 // addHandler(address)
	SelectorRemoveHandler        uint32 = 0x09000000 // removeHandler(address)

	SelectorBalanceOf              uint32 = 0x10000000 // balanceOf(address)
	SelectorBalanceOfAt            uint32 = 0x11000000 // balanceOfAt(address,uint256)
	SelectorTotalSupply            uint32 = 0x12000000 // totalSupply()
	SelectorTotalSupplyAt          uint32 = 0x13000000 // totalSupplyAt(uint256)
	SelectorLockedEnd              uint32 = 0x14000000 // lockedEnd(address)
	SelectorLockedAmount           uint32 = 0x15000000 // lockedAmount(address)
	SelectorLastUserSlope          uint32 = 0x16000000 // getLastUserSlope(address)
	SelectorLastUserBlock          uint32 = 0x17000000 // getLastUserBlock(address)
	SelectorUserPointHistoryTime   uint32 = 0x18000000 // userPointHistoryTime(address,uint256)
	SelectorFindBlockEpoch         uint32 = 0x19000000 // findBlockEpoch(uint256)
	SelectorFindTimestampEpoch     uint32 = 0x1a000000 // findTimestampEpoch(uint256)
	SelectorFindTimestampUserEpoch uint32 = 0x1b000000 // findTimestampUserEpoch(address,uint256)
	SelectorAverageUnlockTime      uint32 = 0x1c000000 // averageUnlockTime()
	SelectorBalanceOfAtBlock       uint32 = 0x1d000000 // balanceOfAtBlock(address,uint256)
	SelectorTotalSupplyAtBlock     uint32 = 0x1e000000 // totalSupplyAtBlock(uint256)
)

type configurator struct{}

func init() {
	if err := modules.RegisterModule(Module); err != nil {
		panic(err)
	}
}

func (*configurator) MakeConfig() precompileconfig.Config {
	return new(Config)
}

func (*configurator) Configure(
	chainConfig precompileconfig.ChainConfig,
	cfg precompileconfig.Config,
	state contract.StateDB,
	blockContext contract.ConfigurationBlockContext,
) error {
	config, ok := cfg.(*Config)
	if !ok {
		return fmt.Errorf("expected config type %T, got %T: %v", &Config{}, cfg, cfg)
	}

	engine := VeEscrowPrecompile.engine
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if config.Owner != (common.Address{}) {
		engine.owner = config.Owner
	}
	engine.tokens = [2]common.Address{config.TokenA, config.TokenB}
	for _, handler := range config.Handlers {
		engine.handlers[handler] = true
	}
	return nil
}

// Config implements the precompileconfig.Config interface
type Config struct {
	Upgrade  precompileconfig.Upgrade `json:"upgrade,omitempty"`
	Owner    common.Address           `json:"owner,omitempty"`
	TokenA   common.Address           `json:"tokenA,omitempty"`
	TokenB   common.Address           `json:"tokenB,omitempty"`
	Handlers []common.Address         `json:"handlers,omitempty"`
}

func (c *Config) Key() string {
	return ConfigKey
}

func (c *Config) Timestamp() *uint64 {
	return c.Upgrade.Timestamp()
}

func (c *Config) IsDisabled() bool {
	return c.Upgrade.Disable
}

func (c *Config) Equal(cfg precompileconfig.Config) bool {
	other, ok := cfg.(*Config)
	if !ok {
		return false
	}
	if len(c.Handlers) != len(other.Handlers) {
		return false
	}
	for i := range c.Handlers {
		if c.Handlers[i] != other.Handlers[i] {
			return false
		}
	}
	return c.Upgrade.Equal(&other.Upgrade) &&
		c.Owner == other.Owner &&
		c.TokenA == other.TokenA &&
		c.TokenB == other.TokenB
}

func (c *Config) Verify(chainConfig precompileconfig.ChainConfig) error {
	if c.TokenA == c.TokenB {
		return fmt.Errorf("accepted tokens must differ")
	}
	return nil
}

// EscrowContract implements the VeEscrow precompile
type EscrowContract struct {
	engine *VotingEscrow
}

// Engine exposes the accounting engine for embedders and tests.
func (c *EscrowContract) Engine() *VotingEscrow {
	return c.engine
}

// Run executes the precompile
func (c *EscrowContract) Run(
	accessibleState contract.AccessibleState,
	caller common.Address,
	addr common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) (ret []byte, remainingGas uint64, err error) {
	if len(input) < 4 {
		return nil, suppliedGas, fmt.Errorf("input too short")
	}

	selector := binary.BigEndian.Uint32(input[:4])
	data := input[4:]
	// contract.StateDB carries the full escrow.StateDB method set
	var stateDB StateDB = accessibleState.GetStateDB()

	switch selector {
	case SelectorDeposit:
		return c.runDeposit(stateDB, caller, data, suppliedGas, readOnly)
	case SelectorDepositFor:
		return c.runDepositFor(stateDB, caller, data, suppliedGas, readOnly)
	case SelectorIncreaseUnlockTime:
		return c.runIncreaseUnlockTime(stateDB, caller, data, suppliedGas, readOnly)
	case SelectorIncreaseUnlockTimeFor:
		return c.runIncreaseUnlockTimeFor(stateDB, caller, data, suppliedGas, readOnly)
	case SelectorWithdraw:
		return c.runWithdraw(stateDB, caller, suppliedGas, readOnly)
	case SelectorWithdrawFor:
		return c.runWithdrawFor(stateDB, caller, data, suppliedGas, readOnly)
	case SelectorCheckpoint:
		return c.runCheckpoint(stateDB, suppliedGas, readOnly)
	case SelectorAddHandler:
		return c.runSetHandler(stateDB, caller, data, suppliedGas, readOnly, true)
	case SelectorRemoveHandler:
		return c.runSetHandler(stateDB, caller, data, suppliedGas, readOnly, false)
	default:
		return c.runQuery(stateDB, selector, data, suppliedGas)
	}
}

// RequiredGas returns the gas required for the precompile input
func (c *EscrowContract) RequiredGas(input []byte) uint64 {
	if len(input) < 4 {
		return GasQuery
	}

	selector := binary.BigEndian.Uint32(input[:4])
	switch selector {
	case SelectorDeposit, SelectorDepositFor:
		return GasDeposit
	case SelectorIncreaseUnlockTime, SelectorIncreaseUnlockTimeFor:
		return GasExtend
	case SelectorWithdraw, SelectorWithdrawFor:
		return GasWithdraw
	case SelectorCheckpoint:
		return GasCheckpoint
	case SelectorAddHandler, SelectorRemoveHandler:
		return GasAdmin
	default:
		return GasQuery
	}
}

func (c *EscrowContract) runDeposit(
	stateDB StateDB,
	caller common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, suppliedGas, fmt.Errorf("cannot write in read-only mode")
	}
	if suppliedGas < GasDeposit {
		return nil, 0, fmt.Errorf("out of gas")
	}
	if len(input) < 96 {
		return nil, suppliedGas - GasDeposit, fmt.Errorf("input too short")
	}

	token := wordToAddress(input, 0)
	value := wordToBig(input, 1)
	unlockTime := wordToUint64(input, 2)

	if err := c.engine.Deposit(stateDB, caller, token, value, unlockTime); err != nil {
		return nil, suppliedGas - GasDeposit, err
	}
	return trueWord(), suppliedGas - GasDeposit, nil
}

func (c *EscrowContract) runDepositFor(
	stateDB StateDB,
	caller common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, suppliedGas, fmt.Errorf("cannot write in read-only mode")
	}
	if suppliedGas < GasDeposit {
		return nil, 0, fmt.Errorf("out of gas")
	}
	if len(input) < 160 {
		return nil, suppliedGas - GasDeposit, fmt.Errorf("input too short")
	}

	funder := wordToAddress(input, 0)
	account := wordToAddress(input, 1)
	token := wordToAddress(input, 2)
	value := wordToBig(input, 3)
	unlockTime := wordToUint64(input, 4)

	if err := c.engine.DepositFor(stateDB, caller, funder, account, token, value, unlockTime); err != nil {
		return nil, suppliedGas - GasDeposit, err
	}
	return trueWord(), suppliedGas - GasDeposit, nil
}

func (c *EscrowContract) runIncreaseUnlockTime(
	stateDB StateDB,
	caller common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, suppliedGas, fmt.Errorf("cannot write in read-only mode")
	}
	if suppliedGas < GasExtend {
		return nil, 0, fmt.Errorf("out of gas")
	}
	if len(input) < 32 {
		return nil, suppliedGas - GasExtend, fmt.Errorf("input too short")
	}

	unlockTime := wordToUint64(input, 0)
	if err := c.engine.IncreaseUnlockTime(stateDB, caller, unlockTime); err != nil {
		return nil, suppliedGas - GasExtend, err
	}
	return trueWord(), suppliedGas - GasExtend, nil
}

func (c *EscrowContract) runIncreaseUnlockTimeFor(
	stateDB StateDB,
	caller common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, suppliedGas, fmt.Errorf("cannot write in read-only mode")
	}
	if suppliedGas < GasExtend {
		return nil, 0, fmt.Errorf("out of gas")
	}
	if len(input) < 64 {
		return nil, suppliedGas - GasExtend, fmt.Errorf("input too short")
	}

	account := wordToAddress(input, 0)
	unlockTime := wordToUint64(input, 1)
	if err := c.engine.IncreaseUnlockTimeFor(stateDB, caller, account, unlockTime); err != nil {
		return nil, suppliedGas - GasExtend, err
	}
	return trueWord(), suppliedGas - GasExtend, nil
}

func (c *EscrowContract) runWithdraw(
	stateDB StateDB,
	caller common.Address,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, suppliedGas, fmt.Errorf("cannot write in read-only mode")
	}
	if suppliedGas < GasWithdraw {
		return nil, 0, fmt.Errorf("out of gas")
	}

	value, err := c.engine.Withdraw(stateDB, caller)
	if err != nil {
		return nil, suppliedGas - GasWithdraw, err
	}
	return bigWord(value), suppliedGas - GasWithdraw, nil
}

func (c *EscrowContract) runWithdrawFor(
	stateDB StateDB,
	caller common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, suppliedGas, fmt.Errorf("cannot write in read-only mode")
	}
	if suppliedGas < GasWithdraw {
		return nil, 0, fmt.Errorf("out of gas")
	}
	if len(input) < 32 {
		return nil, suppliedGas - GasWithdraw, fmt.Errorf("input too short")
	}

	account := wordToAddress(input, 0)
	value, err := c.engine.WithdrawFor(stateDB, caller, account)
	if err != nil {
		return nil, suppliedGas - GasWithdraw, err
	}
	return bigWord(value), suppliedGas - GasWithdraw, nil
}

func (c *EscrowContract) runCheckpoint(
	stateDB StateDB,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, suppliedGas, fmt.Errorf("cannot write in read-only mode")
	}
	if suppliedGas < GasCheckpoint {
		return nil, 0, fmt.Errorf("out of gas")
	}

	c.engine.Checkpoint(stateDB)
	return trueWord(), suppliedGas - GasCheckpoint, nil
}

func (c *EscrowContract) runSetHandler(
	stateDB StateDB,
	caller common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
	add bool,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, suppliedGas, fmt.Errorf("cannot write in read-only mode")
	}
	if suppliedGas < GasAdmin {
		return nil, 0, fmt.Errorf("out of gas")
	}
	if len(input) < 32 {
		return nil, suppliedGas - GasAdmin, fmt.Errorf("input too short")
	}

	handler := wordToAddress(input, 0)
	var err error
	if add {
		err = c.engine.AddHandler(caller, handler)
	} else {
		err = c.engine.RemoveHandler(caller, handler)
	}
	if err != nil {
		return nil, suppliedGas - GasAdmin, err
	}
	return trueWord(), suppliedGas - GasAdmin, nil
}

func (c *EscrowContract) runQuery(
	stateDB StateDB,
	selector uint32,
	input []byte,
	suppliedGas uint64,
) ([]byte, uint64, error) {
	if suppliedGas < GasQuery {
		return nil, 0, fmt.Errorf("out of gas")
	}
	remaining := suppliedGas - GasQuery
	now := stateDB.GetBlockTimestamp()

	switch selector {
	case SelectorBalanceOf:
		if len(input) < 32 {
			return nil, remaining, fmt.Errorf("input too short")
		}
		return bigWord(c.engine.BalanceOf(wordToAddress(input, 0), now)), remaining, nil

	case SelectorBalanceOfAt:
		if len(input) < 64 {
			return nil, remaining, fmt.Errorf("input too short")
		}
		return bigWord(c.engine.BalanceOfAtTime(wordToAddress(input, 0), wordToUint64(input, 1))), remaining, nil

	case SelectorTotalSupply:
		return bigWord(c.engine.TotalSupply(now)), remaining, nil

	case SelectorTotalSupplyAt:
		if len(input) < 32 {
			return nil, remaining, fmt.Errorf("input too short")
		}
		return bigWord(c.engine.TotalSupplyAtTime(wordToUint64(input, 0))), remaining, nil

	case SelectorLockedEnd:
		if len(input) < 32 {
			return nil, remaining, fmt.Errorf("input too short")
		}
		return uint64Word(c.engine.LockedEnd(wordToAddress(input, 0))), remaining, nil

	case SelectorLockedAmount:
		if len(input) < 32 {
			return nil, remaining, fmt.Errorf("input too short")
		}
		return bigWord(c.engine.LockedAmount(wordToAddress(input, 0))), remaining, nil

	case SelectorLastUserSlope:
		if len(input) < 32 {
			return nil, remaining, fmt.Errorf("input too short")
		}
		return bigWord(c.engine.LastUserSlope(wordToAddress(input, 0))), remaining, nil

	case SelectorLastUserBlock:
		if len(input) < 32 {
			return nil, remaining, fmt.Errorf("input too short")
		}
		return uint64Word(c.engine.LastUserBlock(wordToAddress(input, 0))), remaining, nil

	case SelectorUserPointHistoryTime:
		if len(input) < 64 {
			return nil, remaining, fmt.Errorf("input too short")
		}
		return uint64Word(c.engine.UserPointHistoryTime(wordToAddress(input, 0), wordToUint64(input, 1))), remaining, nil

	case SelectorFindBlockEpoch:
		if len(input) < 32 {
			return nil, remaining, fmt.Errorf("input too short")
		}
		return uint64Word(c.engine.FindBlockEpoch(wordToUint64(input, 0))), remaining, nil

	case SelectorFindTimestampEpoch:
		if len(input) < 32 {
			return nil, remaining, fmt.Errorf("input too short")
		}
		return uint64Word(c.engine.FindTimestampEpoch(wordToUint64(input, 0))), remaining, nil

	case SelectorFindTimestampUserEpoch:
		if len(input) < 64 {
			return nil, remaining, fmt.Errorf("input too short")
		}
		return uint64Word(c.engine.FindTimestampUserEpoch(wordToAddress(input, 0), wordToUint64(input, 1))), remaining, nil

	case SelectorAverageUnlockTime:
		return uint64Word(c.engine.AverageUnlockTime()), remaining, nil

	case SelectorBalanceOfAtBlock:
		if len(input) < 64 {
			return nil, remaining, fmt.Errorf("input too short")
		}
		v, err := c.engine.BalanceOfAtBlock(wordToAddress(input, 0), wordToUint64(input, 1), now, stateDB.GetBlockNumber())
		if err != nil {
			return nil, remaining, err
		}
		return bigWord(v), remaining, nil

	case SelectorTotalSupplyAtBlock:
		if len(input) < 32 {
			return nil, remaining, fmt.Errorf("input too short")
		}
		v, err := c.engine.TotalSupplyAtBlock(wordToUint64(input, 0), now, stateDB.GetBlockNumber())
		if err != nil {
			return nil, remaining, err
		}
		return bigWord(v), remaining, nil

	default:
		return nil, suppliedGas, fmt.Errorf("unknown method selector: %x", selector)
	}
}

// word helpers: arguments are packed as 32-byte words after the selector

func wordToAddress(input []byte, idx int) common.Address {
	return common.BytesToAddress(input[idx*32+12 : idx*32+32])
}

func wordToBig(input []byte, idx int) *big.Int {
	return new(big.Int).SetBytes(input[idx*32 : idx*32+32])
}

func wordToUint64(input []byte, idx int) uint64 {
	return binary.BigEndian.Uint64(input[idx*32+24 : idx*32+32])
}

func bigWord(v *big.Int) []byte {
	out := make([]byte, 32)
	b := v.Bytes()
	copy(out[32-len(b):], b)
	return out
}

func uint64Word(v uint64) []byte {
	out := make([]byte, 32)
	binary.BigEndian.PutUint64(out[24:], v)
	return out
}

func trueWord() []byte {
	out := make([]byte, 32)
	out[31] = 1
	return out
}
