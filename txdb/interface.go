// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txdb implements the in-memory transaction store at the core of
// the watcher engine. It enforces a small state machine per transaction
// (unsent -> unconfirmed -> confirmed), detects possible blockchain
// reorganizations, and expires stale unconfirmed entries at serialization
// time.
package txdb

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TxState is a tagged enumeration describing where a transaction sits in
// the store's lifecycle.
type TxState uint8

const (
	// StateUnsent means the transaction was created locally and has not
	// yet been acknowledged by the server.
	StateUnsent TxState = iota

	// StateUnconfirmed means the server knows about the transaction
	// (mempool or recently seen) but it has no block height.
	StateUnconfirmed

	// StateConfirmed means the transaction appears in a block at a known
	// height.
	StateConfirmed
)

// String returns a human-readable name for the state.
func (s TxState) String() string {
	switch s {
	case StateUnsent:
		return "unsent"
	case StateUnconfirmed:
		return "unconfirmed"
	case StateConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// OutputInfo describes a single unspent transaction output.
type OutputInfo struct {
	Hash  chainhash.Hash
	Index uint32
	Value btcutil.Amount
}

// txRow is the store's unit of storage, keyed by the transaction's hash.
type txRow struct {
	tx          *wire.MsgTx
	state       TxState
	blockHeight int32
	timestamp   time.Time
	needCheck   bool
}

// AddressSet is a set of encoded payment addresses, the Go rendering of
// the watcher's address_set.
type AddressSet map[string]struct{}

// NewAddressSet builds an AddressSet from a list of encoded addresses.
func NewAddressSet(addrs ...string) AddressSet {
	set := make(AddressSet, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return set
}
