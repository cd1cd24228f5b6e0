// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// defaultUnconfirmedTimeout is the length of time an unconfirmed
// transaction may go unseen by the server before it is dropped from a
// serialized blob.
const defaultUnconfirmedTimeout = 24 * time.Hour

// DB is the transaction database: an in-memory table of transactions of
// interest, keyed by hash, along with the highest block height the
// engine has observed. All exported methods are safe for concurrent use.
//
// DB never re-enters a caller-supplied callback while holding its own
// lock; iteration helpers snapshot the matching keys under the lock and
// invoke the callback afterwards, so a callback is free to call back into
// the DB without deadlocking.
type DB struct {
	mu sync.Mutex

	chainParams        *chaincfg.Params
	unconfirmedTimeout time.Duration

	lastHeight int32
	rows       map[chainhash.Hash]*txRow
}

// Option configures a DB at construction time.
type Option func(*DB)

// WithUnconfirmedTimeout overrides the default 24-hour window an
// unconfirmed transaction may go unseen before Serialize drops it.
func WithUnconfirmedTimeout(d time.Duration) Option {
	return func(db *DB) {
		db.unconfirmedTimeout = d
	}
}

// New creates an empty transaction database for the given network.
func New(chainParams *chaincfg.Params, opts ...Option) *DB {
	db := &DB{
		chainParams:        chainParams,
		unconfirmedTimeout: defaultUnconfirmedTimeout,
		rows:               make(map[chainhash.Hash]*txRow),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// LastHeight returns the highest block height the database has observed.
func (db *DB) LastHeight() int32 {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.lastHeight
}

// HasTx reports whether the database holds a transaction with the given
// hash.
func (db *DB) HasTx(hash chainhash.Hash) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, ok := db.rows[hash]
	return ok
}

// GetTx returns the transaction stored under hash, or an empty
// transaction if the hash is not present. Callers should check HasTx
// first if the distinction matters.
func (db *DB) GetTx(hash chainhash.Hash) *wire.MsgTx {
	db.mu.Lock()
	defer db.mu.Unlock()

	row, ok := db.rows[hash]
	if !ok {
		return wire.NewMsgTx(wire.TxVersion)
	}
	return row.tx
}

// GetTxHeight returns the block height a transaction confirmed at, or 0
// if the hash is unknown or not yet confirmed.
func (db *DB) GetTxHeight(hash chainhash.Hash) int32 {
	db.mu.Lock()
	defer db.mu.Unlock()

	row, ok := db.rows[hash]
	if !ok || row.state != StateConfirmed {
		return 0
	}
	return row.blockHeight
}

// IsSpend reports whether every input of the transaction identified by
// hash pays from an address in addrs. An input whose funding address
// cannot be determined -- because the previous output isn't in the
// store, or its script doesn't resolve to a single address -- causes
// IsSpend to return false; this conflates "not a spend of mine" with
// "can't tell", which is the conservative interpretation the original
// watcher used and that this store preserves.
func (db *DB) IsSpend(hash chainhash.Hash, addrs AddressSet) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	row, ok := db.rows[hash]
	if !ok {
		return false
	}
	if len(row.tx.TxIn) == 0 {
		return false
	}
	for _, in := range row.tx.TxIn {
		addr, ok := db.inputAddress(in)
		if !ok {
			return false
		}
		if _, ok := addrs[addr]; !ok {
			return false
		}
	}
	return true
}

// HasHistory reports whether any output of any stored transaction pays
// the given address.
func (db *DB) HasHistory(addr string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, row := range db.rows {
		for _, out := range row.tx.TxOut {
			a, ok := db.scriptAddress(out.PkScript)
			if ok && a == addr {
				return true
			}
		}
	}
	return false
}

// GetUTXOs computes the set of unspent outputs across the entire table:
// every output not referenced by any stored input.
func (db *DB) GetUTXOs() []OutputInfo {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.utxosLocked(nil)
}

// GetUTXOsForAddresses is GetUTXOs filtered to outputs whose script
// resolves to an address in addrs.
func (db *DB) GetUTXOsForAddresses(addrs AddressSet) []OutputInfo {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.utxosLocked(addrs)
}

func (db *DB) utxosLocked(filter AddressSet) []OutputInfo {
	spent := make(map[wire.OutPoint]struct{})
	for _, row := range db.rows {
		for _, in := range row.tx.TxIn {
			spent[in.PreviousOutPoint] = struct{}{}
		}
	}

	var out []OutputInfo
	for hash, row := range db.rows {
		for i, txOut := range row.tx.TxOut {
			point := wire.OutPoint{Hash: hash, Index: uint32(i)}
			if _, ok := spent[point]; ok {
				continue
			}
			if filter != nil {
				addr, ok := db.scriptAddress(txOut.PkScript)
				if !ok {
					continue
				}
				if _, ok := filter[addr]; !ok {
					continue
				}
			}
			out = append(out, OutputInfo{
				Hash:  hash,
				Index: uint32(i),
				Value: btcutil.Amount(txOut.Value),
			})
		}
	}
	return out
}

// Insert creates a new row keyed by the transaction's hash, with a block
// height of zero, a timestamp of now, and needCheck cleared. It returns
// true if the row was created, or false if the hash already existed, in
// which case the existing row is left untouched.
func (db *DB) Insert(tx *wire.MsgTx, state TxState) bool {
	hash := tx.TxHash()

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.rows[hash]; ok {
		return false
	}
	db.rows[hash] = &txRow{
		tx:        tx,
		state:     state,
		timestamp: time.Now(),
	}
	log.Infof("Inserting %v transaction %v", state, hash)
	return true
}

// AtHeight sets the tip height and runs reorg-suspect marking against it.
func (db *DB) AtHeight(height int32) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.lastHeight = height
	db.checkFork(height)
}

// Confirmed marks a transaction as confirmed at the given height. If the
// row was already confirmed at a different height, reorg-suspect marking
// runs against the old height first. If the row was already confirmed at
// the same height, its reorg-suspect flag is cleared instead: the server
// has just re-affirmed the block this row sits in, so the earlier
// suspicion no longer holds. The row must already exist; calling
// Confirmed for an unknown hash is a programming error.
func (db *DB) Confirmed(hash chainhash.Hash, height int32) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row, ok := db.rows[hash]
	if !ok {
		panic(storeError(ErrTxHashNotFound,
			fmt.Sprintf("Confirmed called for unknown hash %v", hash), nil))
	}

	switch {
	case row.state == StateConfirmed && row.blockHeight != height:
		log.Debugf("Transaction %v reconfirmed at height %d, was %d",
			hash, height, row.blockHeight)
		db.checkFork(row.blockHeight)
	case row.state == StateConfirmed && row.blockHeight == height:
		row.needCheck = false
	}
	row.state = StateConfirmed
	row.blockHeight = height
}

// Unconfirmed marks a transaction as unconfirmed. If the row was
// confirmed, reorg-suspect marking runs against its former height first.
// needCheck is always cleared: a row that isn't confirmed can never
// legitimately be a reorg suspect, so a later reconfirmation at the same
// height it held before starts from a clean slate rather than an
// inherited suspicion that nothing will ever clear. The row must already
// exist; calling Unconfirmed for an unknown hash is a programming error.
func (db *DB) Unconfirmed(hash chainhash.Hash) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row, ok := db.rows[hash]
	if !ok {
		panic(storeError(ErrTxHashNotFound,
			fmt.Sprintf("Unconfirmed called for unknown hash %v", hash), nil))
	}

	if row.state == StateConfirmed {
		db.checkFork(row.blockHeight)
		log.Debugf("Transaction %v unconfirmed from height %d", hash, row.blockHeight)
	}
	row.state = StateUnconfirmed
	row.needCheck = false
}

// Forget removes a row, if present. The only legitimate caller is a
// rejected broadcast.
func (db *DB) Forget(hash chainhash.Hash) {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.rows, hash)
}

// ResetTimestamp extends a row's expiry window by stamping it with the
// current time, if the row exists.
func (db *DB) ResetTimestamp(hash chainhash.Hash) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if row, ok := db.rows[hash]; ok {
		row.timestamp = time.Now()
	}
}

// ForEachUnconfirmed invokes f once for every row whose state is not
// confirmed. Matching hashes are snapshotted under the lock; f runs
// outside it, so it may safely call back into the DB.
func (db *DB) ForEachUnconfirmed(f func(hash chainhash.Hash)) {
	db.mu.Lock()
	var hashes []chainhash.Hash
	for hash, row := range db.rows {
		if row.state != StateConfirmed {
			hashes = append(hashes, hash)
		}
	}
	db.mu.Unlock()

	for _, hash := range hashes {
		f(hash)
	}
}

// ForEachForked invokes f once for every confirmed row flagged as a
// reorg suspect.
func (db *DB) ForEachForked(f func(hash chainhash.Hash)) {
	db.mu.Lock()
	var hashes []chainhash.Hash
	for hash, row := range db.rows {
		if row.state == StateConfirmed && row.needCheck {
			hashes = append(hashes, hash)
		}
	}
	db.mu.Unlock()

	for _, hash := range hashes {
		f(hash)
	}
}

// ForEachUnsent invokes f once for every row still awaiting broadcast.
func (db *DB) ForEachUnsent(f func(tx *wire.MsgTx)) {
	db.mu.Lock()
	var txs []*wire.MsgTx
	for _, row := range db.rows {
		if row.state == StateUnsent {
			txs = append(txs, row.tx)
		}
	}
	db.mu.Unlock()

	for _, tx := range txs {
		f(tx)
	}
}

// checkFork marks every confirmed row sitting at the highest confirmed
// height strictly below referenceHeight as a reorg suspect. Callers must
// hold db.mu.
func (db *DB) checkFork(referenceHeight int32) {
	var prevHeight int32
	for _, row := range db.rows {
		if row.state == StateConfirmed && row.blockHeight < referenceHeight &&
			row.blockHeight > prevHeight {
			prevHeight = row.blockHeight
		}
	}

	marked := 0
	for _, row := range db.rows {
		if row.state == StateConfirmed && row.blockHeight == prevHeight {
			row.needCheck = true
			marked++
		}
	}
	if marked > 0 {
		log.Debugf("Marked %d transaction(s) at height %d as reorg suspects", marked, prevHeight)
	}
}
