// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package scripted implements a deterministic, in-memory chain.Codec used
// by the txupdate test suite. Responses are
// scripted ahead of time by the caller and, unless configured otherwise,
// resolve synchronously and in-line -- a degenerate but valid instance of
// "at an unspecified later time".
package scripted

import (
	"context"
	"errors"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/btcwatch/chain"
)

// ErrNotScripted is returned by FetchTransaction,
// FetchUnconfirmedTransaction and FetchTransactionIndex when the request
// has no scripted response. Unscripted history queries succeed with no
// rows, unscripted broadcasts succeed, and an unscripted height query
// reports height 0.
var ErrNotScripted = errors.New("scripted: no response configured")

type indexResponse struct {
	height int32
	index  uint32
	err    error
}

// Codec is a scriptable, mock implementation of chain.Codec.
type Codec struct {
	mu sync.Mutex

	// async, when set, dispatches every completion on its own goroutine
	// instead of calling back in-line. Tests that care about ordering
	// hazards (out-of-order completions) turn this on.
	async bool

	height    int32
	heightErr error

	txs    map[chainhash.Hash]*wire.MsgTx
	txErrs map[chainhash.Hash]error

	memTxs    map[chainhash.Hash]*wire.MsgTx
	memTxErrs map[chainhash.Hash]error

	indices map[chainhash.Hash]indexResponse

	broadcastErrs map[chainhash.Hash]error

	history     map[string][]chain.HistoryRow
	historyErrs map[string]error

	calls map[string]int
}

// New returns an empty scripted codec. Configure responses with the
// Set* methods before driving it from a txupdate.Updater.
func New() *Codec {
	return &Codec{
		txs:           make(map[chainhash.Hash]*wire.MsgTx),
		txErrs:        make(map[chainhash.Hash]error),
		memTxs:        make(map[chainhash.Hash]*wire.MsgTx),
		memTxErrs:     make(map[chainhash.Hash]error),
		indices:       make(map[chainhash.Hash]indexResponse),
		broadcastErrs: make(map[chainhash.Hash]error),
		history:       make(map[string][]chain.HistoryRow),
		historyErrs:   make(map[string]error),
		calls:         make(map[string]int),
	}
}

// SetAsync toggles whether completions dispatch on their own goroutine.
func (c *Codec) SetAsync(async bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.async = async
}

// SetHeight scripts a successful FetchLastHeight response.
func (c *Codec) SetHeight(height int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = height
	c.heightErr = nil
}

// SetHeightError scripts a failing FetchLastHeight response.
func (c *Codec) SetHeightError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heightErr = err
}

// SetTx scripts a successful FetchTransaction response for hash.
func (c *Codec) SetTx(hash chainhash.Hash, tx *wire.MsgTx) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[hash] = tx
	delete(c.txErrs, hash)
}

// SetTxError scripts a failing FetchTransaction response for hash.
func (c *Codec) SetTxError(hash chainhash.Hash, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txErrs[hash] = err
}

// SetMemTx scripts a successful FetchUnconfirmedTransaction response.
func (c *Codec) SetMemTx(hash chainhash.Hash, tx *wire.MsgTx) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memTxs[hash] = tx
	delete(c.memTxErrs, hash)
}

// SetMemTxError scripts a failing FetchUnconfirmedTransaction response.
func (c *Codec) SetMemTxError(hash chainhash.Hash, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memTxErrs[hash] = err
}

// SetIndex scripts a successful FetchTransactionIndex response.
func (c *Codec) SetIndex(hash chainhash.Hash, height int32, index uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indices[hash] = indexResponse{height: height, index: index}
}

// SetIndexError scripts a failing FetchTransactionIndex response.
func (c *Codec) SetIndexError(hash chainhash.Hash, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indices[hash] = indexResponse{err: err}
}

// SetBroadcastError scripts a failing BroadcastTransaction response for
// the transaction that hashes to hash. Absent an entry, broadcasts
// succeed.
func (c *Codec) SetBroadcastError(hash chainhash.Hash, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcastErrs[hash] = err
}

// SetHistory scripts a successful AddressFetchHistory response.
func (c *Codec) SetHistory(addr string, rows []chain.HistoryRow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[addr] = rows
	delete(c.historyErrs, addr)
}

// SetHistoryError scripts a failing AddressFetchHistory response.
func (c *Codec) SetHistoryError(addr string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.historyErrs[addr] = err
}

// CallCount returns how many times the named method was invoked.
func (c *Codec) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Codec) dispatch(f func()) {
	c.mu.Lock()
	async := c.async
	c.mu.Unlock()

	if async {
		go f()
		return
	}
	f()
}

func (c *Codec) count(method string) {
	c.mu.Lock()
	c.calls[method]++
	c.mu.Unlock()
}

// FetchLastHeight implements chain.Codec.
func (c *Codec) FetchLastHeight(_ context.Context, onOk func(int32), onErr func(error)) {
	c.count("FetchLastHeight")
	c.mu.Lock()
	height, err := c.height, c.heightErr
	c.mu.Unlock()

	c.dispatch(func() {
		if err != nil {
			onErr(err)
			return
		}
		onOk(height)
	})
}

// FetchTransaction implements chain.Codec.
func (c *Codec) FetchTransaction(_ context.Context, hash chainhash.Hash,
	onOk func(*wire.MsgTx), onErr func(error)) {

	c.count("FetchTransaction")
	c.mu.Lock()
	tx, hasTx := c.txs[hash]
	err, hasErr := c.txErrs[hash]
	c.mu.Unlock()

	c.dispatch(func() {
		if hasErr {
			onErr(err)
			return
		}
		if !hasTx {
			onErr(ErrNotScripted)
			return
		}
		onOk(tx)
	})
}

// FetchUnconfirmedTransaction implements chain.Codec.
func (c *Codec) FetchUnconfirmedTransaction(_ context.Context, hash chainhash.Hash,
	onOk func(*wire.MsgTx), onErr func(error)) {

	c.count("FetchUnconfirmedTransaction")
	c.mu.Lock()
	tx, hasTx := c.memTxs[hash]
	err, hasErr := c.memTxErrs[hash]
	c.mu.Unlock()

	c.dispatch(func() {
		if hasErr {
			onErr(err)
			return
		}
		if !hasTx {
			onErr(ErrNotScripted)
			return
		}
		onOk(tx)
	})
}

// FetchTransactionIndex implements chain.Codec.
func (c *Codec) FetchTransactionIndex(_ context.Context, hash chainhash.Hash,
	onOk func(int32, uint32), onErr func(error)) {

	c.count("FetchTransactionIndex")
	c.mu.Lock()
	resp, ok := c.indices[hash]
	c.mu.Unlock()

	c.dispatch(func() {
		if !ok {
			onErr(ErrNotScripted)
			return
		}
		if resp.err != nil {
			onErr(resp.err)
			return
		}
		onOk(resp.height, resp.index)
	})
}

// BroadcastTransaction implements chain.Codec.
func (c *Codec) BroadcastTransaction(_ context.Context, tx *wire.MsgTx,
	onOk func(), onErr func(error)) {

	c.count("BroadcastTransaction")
	hash := tx.TxHash()
	c.mu.Lock()
	err := c.broadcastErrs[hash]
	c.mu.Unlock()

	c.dispatch(func() {
		if err != nil {
			onErr(err)
			return
		}
		onOk()
	})
}

// AddressFetchHistory implements chain.Codec.
func (c *Codec) AddressFetchHistory(_ context.Context, addr btcutil.Address,
	onOk func([]chain.HistoryRow), onErr func(error)) {

	c.count("AddressFetchHistory")
	key := addr.EncodeAddress()
	c.mu.Lock()
	rows, hasRows := c.history[key]
	err, hasErr := c.historyErrs[key]
	c.mu.Unlock()

	c.dispatch(func() {
		if hasErr {
			onErr(err)
			return
		}
		if !hasRows {
			onOk(nil)
			return
		}
		onOk(rows)
	})
}
