// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package contract defines the interfaces between the EVM and stateful
// precompiled contracts: the state surface a precompile may touch and the
// entry points the EVM calls into.
package contract

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/escrow/precompileconfig"
	"github.com/luxfi/geth/common"
	ethtypes "github.com/luxfi/geth/core/types"
)

// StateDB is the subset of EVM state a stateful precompile can read and
// mutate. Block metadata accessors are included so precompiles that account
// over time (interest accrual, decay curves) can read the clock without a
// separate context parameter.
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

// AccessibleState is passed to a precompile's Run method.
type AccessibleState interface {
	GetStateDB() StateDB
}

// ConfigurationBlockContext describes the block a precompile is being
// configured in.
type ConfigurationBlockContext interface {
	Number() *big.Int
	Timestamp() uint64
}

// StatefulPrecompiledContract is the interface all stateful precompiles
// implement.
type StatefulPrecompiledContract interface {
	// Run executes the precompile with the given input, returning the
	// output, the remaining gas, and any error. A non-nil error reverts
	// every state change made during the call.
	Run(
		accessibleState AccessibleState,
		caller common.Address,
		addr common.Address,
		input []byte,
		suppliedGas uint64,
		readOnly bool,
	) (ret []byte, remainingGas uint64, err error)

	// RequiredGas returns the gas required to execute the precompile with
	// the given input.
	RequiredGas(input []byte) uint64
}

// Configurator applies a precompile's config when its activation timestamp
// is reached.
type Configurator interface {
	MakeConfig() precompileconfig.Config
	Configure(
		chainConfig precompileconfig.ChainConfig,
		cfg precompileconfig.Config,
		state StateDB,
		blockContext ConfigurationBlockContext,
	) error
}
