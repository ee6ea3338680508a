// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
)

// Database key prefixes for the point log
var (
	globalPointDBPrefix = []byte("ve/g/")
	userPointDBPrefix   = []byte("ve/u/")
	slopeChangeDBPrefix = []byte("ve/s/")
)

const pointRecordSize = 80 // bias 32 | slope 32 | ts 8 | blk 8

// PointStore is an append-only log of checkpoint history on a
// database.Database, letting an embedding VM rebuild the in-memory history
// after a restart instead of replaying every historical transaction.
type PointStore struct {
	db database.Database
}

// NewPointStore wraps [db]. The store takes no ownership; Close stays with
// the caller.
func NewPointStore(db database.Database) *PointStore {
	return &PointStore{db: db}
}

// SetStore attaches a write-through point log to the engine.
func (ve *VotingEscrow) SetStore(store *PointStore) {
	ve.mu.Lock()
	defer ve.mu.Unlock()
	ve.store = store
}

func globalPointKey(epoch uint64) []byte {
	key := make([]byte, 0, len(globalPointDBPrefix)+8)
	key = append(key, globalPointDBPrefix...)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], epoch)
	return append(key, idx[:]...)
}

func userPointKey(account common.Address, epoch uint64) []byte {
	key := make([]byte, 0, len(userPointDBPrefix)+20+8)
	key = append(key, userPointDBPrefix...)
	key = append(key, account.Bytes()...)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], epoch)
	return append(key, idx[:]...)
}

func slopeChangeKey(ts uint64) []byte {
	key := make([]byte, 0, len(slopeChangeDBPrefix)+8)
	key = append(key, slopeChangeDBPrefix...)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], ts)
	return append(key, idx[:]...)
}

func encodePoint(p Point) []byte {
	buf := make([]byte, pointRecordSize)
	biasBytes := p.Bias.Bytes()
	slopeBytes := p.Slope.Bytes()
	copy(buf[32-len(biasBytes):32], biasBytes)
	copy(buf[64-len(slopeBytes):64], slopeBytes)
	binary.BigEndian.PutUint64(buf[64:72], p.TS)
	binary.BigEndian.PutUint64(buf[72:80], p.Blk)
	return buf
}

func decodePoint(buf []byte) (Point, error) {
	if len(buf) != pointRecordSize {
		return Point{}, fmt.Errorf("point record: expected %d bytes, got %d", pointRecordSize, len(buf))
	}
	return Point{
		Bias:  new(big.Int).SetBytes(buf[:32]),
		Slope: new(big.Int).SetBytes(buf[32:64]),
		TS:    binary.BigEndian.Uint64(buf[64:72]),
		Blk:   binary.BigEndian.Uint64(buf[72:80]),
	}, nil
}

// encodeSigned serializes a possibly negative slope delta: sign byte + abs.
func encodeSigned(v *big.Int) []byte {
	buf := make([]byte, 33)
	if v.Sign() < 0 {
		buf[0] = 1
	}
	abs := new(big.Int).Abs(v).Bytes()
	copy(buf[33-len(abs):], abs)
	return buf
}

func decodeSigned(buf []byte) (*big.Int, error) {
	if len(buf) != 33 {
		return nil, fmt.Errorf("slope record: expected 33 bytes, got %d", len(buf))
	}
	v := new(big.Int).SetBytes(buf[1:])
	if buf[0] == 1 {
		v.Neg(v)
	}
	return v, nil
}

// PutGlobal writes the global point at [epoch].
func (s *PointStore) PutGlobal(epoch uint64, p Point) error {
	return s.db.Put(globalPointKey(epoch), encodePoint(p))
}

// Global reads the global point at [epoch].
func (s *PointStore) Global(epoch uint64) (Point, error) {
	buf, err := s.db.Get(globalPointKey(epoch))
	if err != nil {
		return Point{}, err
	}
	return decodePoint(buf)
}

// PutUser writes [account]'s private point at [epoch].
func (s *PointStore) PutUser(account common.Address, epoch uint64, p Point) error {
	return s.db.Put(userPointKey(account, epoch), encodePoint(p))
}

// User reads [account]'s private point at [epoch].
func (s *PointStore) User(account common.Address, epoch uint64) (Point, error) {
	buf, err := s.db.Get(userPointKey(account, epoch))
	if err != nil {
		return Point{}, err
	}
	return decodePoint(buf)
}

// PutSlopeChange writes the scheduled slope delta at week-aligned [ts].
func (s *PointStore) PutSlopeChange(ts uint64, delta *big.Int) error {
	return s.db.Put(slopeChangeKey(ts), encodeSigned(delta))
}

// LoadGlobal returns the full global history in epoch order.
func (s *PointStore) LoadGlobal() ([]Point, error) {
	points := make([]Point, 0)
	for epoch := uint64(0); ; epoch++ {
		buf, err := s.db.Get(globalPointKey(epoch))
		if err == database.ErrNotFound {
			break
		}
		if err != nil {
			return nil, err
		}
		p, err := decodePoint(buf)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

// LoadUsers returns every account's private history, sentinel included.
func (s *PointStore) LoadUsers() (map[common.Address][]Point, error) {
	users := make(map[common.Address][]Point)
	it := s.db.NewIteratorWithPrefix(userPointDBPrefix)
	defer it.Release()

	for it.Next() {
		key := it.Key()
		if len(key) != len(userPointDBPrefix)+28 {
			return nil, fmt.Errorf("user point key: unexpected length %d", len(key))
		}
		account := common.BytesToAddress(key[len(userPointDBPrefix) : len(userPointDBPrefix)+20])
		epoch := binary.BigEndian.Uint64(key[len(userPointDBPrefix)+20:])
		p, err := decodePoint(it.Value())
		if err != nil {
			return nil, err
		}
		hist := users[account]
		for uint64(len(hist)) <= epoch {
			hist = append(hist, zeroPoint(0, 0))
		}
		hist[epoch] = p
		users[account] = hist
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return users, nil
}

// LoadSlopeChanges returns the persisted slope-change schedule.
func (s *PointStore) LoadSlopeChanges() (map[uint64]*big.Int, error) {
	changes := make(map[uint64]*big.Int)
	it := s.db.NewIteratorWithPrefix(slopeChangeDBPrefix)
	defer it.Release()

	for it.Next() {
		key := it.Key()
		if len(key) != len(slopeChangeDBPrefix)+8 {
			return nil, fmt.Errorf("slope change key: unexpected length %d", len(key))
		}
		ts := binary.BigEndian.Uint64(key[len(slopeChangeDBPrefix):])
		delta, err := decodeSigned(it.Value())
		if err != nil {
			return nil, err
		}
		changes[ts] = delta
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return changes, nil
}

// RestoreHistory reloads the global and private histories and the
// slope-change schedule from the attached store. Lock table and supply are
// restored from the StateDB, not the point log; callers rebuild those with
// loadLock per account.
func (ve *VotingEscrow) RestoreHistory() error {
	ve.mu.Lock()
	defer ve.mu.Unlock()

	if ve.store == nil {
		return fmt.Errorf("no point store attached")
	}

	global, err := ve.store.LoadGlobal()
	if err != nil {
		return fmt.Errorf("load global history: %w", err)
	}
	users, err := ve.store.LoadUsers()
	if err != nil {
		return fmt.Errorf("load user histories: %w", err)
	}
	changes, err := ve.store.LoadSlopeChanges()
	if err != nil {
		return fmt.Errorf("load slope changes: %w", err)
	}

	if len(global) > 0 {
		ve.pointHistory = global
		ve.epoch = uint64(len(global) - 1)
	}
	ve.userPointHistory = users
	ve.slopeChanges = changes
	return nil
}
