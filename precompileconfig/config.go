// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package precompileconfig defines the configuration interface shared by all
// stateful precompile modules and the upgrade scheduling primitive used to
// activate or disable them at a block timestamp.
package precompileconfig

// Config is implemented by each precompile's JSON-configurable settings.
type Config interface {
	// Key returns the unique key for the precompile in JSON config files.
	Key() string
	// Timestamp returns the activation timestamp, nil if never activated.
	Timestamp() *uint64
	// IsDisabled returns true if the upgrade deactivates the precompile.
	IsDisabled() bool
	// Equal reports whether the given config is equivalent to this one.
	Equal(Config) bool
	// Verify checks the config is well formed at chain-config load time.
	Verify(ChainConfig) error
}

// ChainConfig exposes the subset of chain configuration precompiles may
// inspect during Verify and Configure.
type ChainConfig interface {
	// IsDurango reports whether the fork at [time] is active.
	IsDurango(time uint64) bool
}

// Upgrade schedules the activation (or deactivation) of a precompile.
type Upgrade struct {
	BlockTimestamp *uint64 `json:"blockTimestamp,omitempty"`
	Disable        bool    `json:"disable,omitempty"`
}

// Timestamp returns the timestamp the upgrade activates at, nil if unset.
func (u *Upgrade) Timestamp() *uint64 {
	return u.BlockTimestamp
}

// Equal reports whether [other] schedules the same upgrade.
func (u *Upgrade) Equal(other *Upgrade) bool {
	if other == nil {
		return false
	}
	if u.Disable != other.Disable {
		return false
	}
	if (u.BlockTimestamp == nil) != (other.BlockTimestamp == nil) {
		return false
	}
	if u.BlockTimestamp != nil && *u.BlockTimestamp != *other.BlockTimestamp {
		return false
	}
	return true
}
