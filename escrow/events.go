// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package escrow

import (
	"encoding/binary"
	"math/big"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	ethtypes "github.com/luxfi/geth/core/types"
)

// Event topics
var (
	depositEventID  = common.BytesToHash(crypto.Keccak256([]byte("Deposit(address,address,uint256,uint256,uint256)")))
	withdrawEventID = common.BytesToHash(crypto.Keccak256([]byte("Withdraw(address,uint256,uint256)")))
	supplyEventID   = common.BytesToHash(crypto.Keccak256([]byte("Supply(uint256,uint256)")))
)

func wordFromBig(v *big.Int) common.Hash {
	var w common.Hash
	b := v.Bytes()
	copy(w[32-len(b):], b)
	return w
}

func wordFromUint64(v uint64) common.Hash {
	var w common.Hash
	binary.BigEndian.PutUint64(w[24:], v)
	return w
}

// emitDeposit records Deposit(provider, token, value, locktime, ts).
func emitDeposit(stateDB StateDB, provider, token common.Address, value *big.Int, locktime, ts uint64) {
	data := make([]byte, 0, 128)
	data = append(data, common.BytesToHash(token.Bytes()).Bytes()...)
	data = append(data, wordFromBig(value).Bytes()...)
	data = append(data, wordFromUint64(locktime).Bytes()...)
	data = append(data, wordFromUint64(ts).Bytes()...)

	stateDB.AddLog(&ethtypes.Log{
		Address: veEscrowAddr,
		Topics: []common.Hash{
			depositEventID,
			common.BytesToHash(provider.Bytes()),
		},
		Data: data,
	})
}

// emitWithdraw records Withdraw(provider, value, ts).
func emitWithdraw(stateDB StateDB, provider common.Address, value *big.Int, ts uint64) {
	data := make([]byte, 0, 64)
	data = append(data, wordFromBig(value).Bytes()...)
	data = append(data, wordFromUint64(ts).Bytes()...)

	stateDB.AddLog(&ethtypes.Log{
		Address: veEscrowAddr,
		Topics: []common.Hash{
			withdrawEventID,
			common.BytesToHash(provider.Bytes()),
		},
		Data: data,
	})
}

// emitSupply records Supply(prevSupply, supply) around every supply change.
func emitSupply(stateDB StateDB, prev, supply *big.Int) {
	data := make([]byte, 0, 64)
	data = append(data, wordFromBig(prev).Bytes()...)
	data = append(data, wordFromBig(supply).Bytes()...)

	stateDB.AddLog(&ethtypes.Log{
		Address: veEscrowAddr,
		Topics:  []common.Hash{supplyEventID},
		Data:    data,
	})
}
