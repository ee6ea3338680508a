// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"fmt"

	"github.com/luxfi/geth/common"
)

// ============================================================================
// PRECOMPILE ADDRESS SCHEME - Aligned with LP Numbering (LP-0099)
// ============================================================================
//
// All Lux-native precompiles use trailing-significant 20-byte addresses:
//   Format: 0x0000000000000000000000000000000000PCII
//
// The address ends with the 16-bit LP number (PCII) for easy identification.
// P nibble = LP range first digit; the voting escrow family lives on the
// DEX/Markets page:
//   P=9 → LP-9xxx (DEX/Markets)
//
// The escrow precompiles continue the LP-90xx series after the trading
// stack (LXPool 9010 ... LiquidFX 9080).

const (
	// =========================================================================
	// VOTING ESCROW (LP-909x)
	// =========================================================================

	// VeEscrow is the voting escrow itself (lock, extend, withdraw, query)
	VeEscrow = "0x0000000000000000000000000000000000009090"

	// VeProxy is reserved for a future handler-aggregation helper contract
	VeProxy = "0x0000000000000000000000000000000000009091"
)

// PrecompileInfo describes a registered precompile
type PrecompileInfo struct {
	Address     string
	Name        string
	Description string
	Gas         uint64
	Chains      []string
	LPRange     string
}

// AllPrecompiles lists every precompile this module provides
var AllPrecompiles = []PrecompileInfo{
	{VeEscrow, "VE_ESCROW", "Voting escrow (time-decay voting power)", 30000, []string{"C", "Zoo"}, "LP-9090"},
}

// ChainPrecompiles maps chain letter to the precompile addresses enabled there
var ChainPrecompiles = map[string][]string{
	"C":   {VeEscrow},
	"Zoo": {VeEscrow},
}

// GetPrecompileAddress returns the address for a precompile by name
func GetPrecompileAddress(name string) common.Address {
	for _, p := range AllPrecompiles {
		if p.Name == name {
			return common.HexToAddress(p.Address)
		}
	}
	return common.Address{}
}

// GetChainPrecompiles returns all precompile addresses for a chain
func GetChainPrecompiles(chainLetter string) []common.Address {
	addrs, ok := ChainPrecompiles[chainLetter]
	if !ok {
		return nil
	}

	result := make([]common.Address, len(addrs))
	for i, addr := range addrs {
		result[i] = common.HexToAddress(addr)
	}
	return result
}

// IsPrecompileEnabled checks if a precompile is enabled for a chain
func IsPrecompileEnabled(chainLetter string, precompileAddr common.Address) bool {
	addrs := ChainPrecompiles[chainLetter]

	for _, addr := range addrs {
		if common.HexToAddress(addr) == precompileAddr {
			return true
		}
	}
	return false
}

// Describe returns a human-readable summary of a precompile address
func Describe(addr common.Address) string {
	for _, p := range AllPrecompiles {
		if common.HexToAddress(p.Address) == addr {
			return fmt.Sprintf("%s (%s): %s", p.Name, p.LPRange, p.Description)
		}
	}
	return "unknown precompile"
}
