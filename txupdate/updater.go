// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txupdate

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/btcwatch/chain"
	"github.com/btcsuite/btcwatch/txdb"
)

// heightPollPeriod is how often Wakeup polls the server's chain tip.
const heightPollPeriod = 30 * time.Second

// watchedAddress is a single entry in the watch set: an address of
// interest, how often to re-query its history, and when it was last
// checked.
type watchedAddress struct {
	addr         btcutil.Address
	pollInterval time.Duration
	lastCheck    time.Time
}

// Updater drives a txdb.DB toward a remote server's view of the chain.
// Its public methods may be called from any goroutine, including
// concurrently with Wakeup, and the underlying chain.Codec may deliver
// completions from arbitrary goroutines as well; Updater guards its own
// local state (the watch set, the pending counters, and the failure
// latch) with an internal mutex that it never holds while calling into
// Callbacks or the codec.
type Updater struct {
	db        *txdb.DB
	codec     chain.Codec
	callbacks Callbacks

	mu               sync.Mutex
	addrs            map[string]*watchedAddress
	failed           bool
	queuedQueries    int
	queuedGetIndices int
	lastWakeup       time.Time
}

// New creates an updater bound to db and codec, reporting through
// callbacks.
func New(db *txdb.DB, codec chain.Codec, callbacks Callbacks) *Updater {
	return &Updater{
		db:         db,
		codec:      codec,
		callbacks:  callbacks,
		addrs:      make(map[string]*watchedAddress),
		lastWakeup: time.Now(),
	}
}

// Start initiates an initial height poll and a probe pass over
// forked-suspect rows, re-attempts broadcast for every unsent row, and
// enqueues an index probe for every unconfirmed row. Broadcasts are issued
// before the unconfirmed probes so that a probe's completion cannot move
// an unsent row out of the unsent state before it has been re-broadcast.
func (u *Updater) Start(ctx context.Context) {
	u.getHeight(ctx)
	u.queueGetIndices(ctx)
	u.db.ForEachUnsent(func(tx *wire.MsgTx) {
		u.broadcast(ctx, tx)
	})
	u.db.ForEachUnconfirmed(func(hash chainhash.Hash) {
		u.getIndex(ctx, hash)
	})
}

// Watch upserts addr into the watch set with a fresh last-check time and
// immediately issues a history query for it. Callers are responsible for
// enforcing any minimum poll interval; Watch itself accepts any positive
// interval.
func (u *Updater) Watch(ctx context.Context, addr btcutil.Address, pollInterval time.Duration) {
	u.mu.Lock()
	u.addrs[addr.EncodeAddress()] = &watchedAddress{
		addr:         addr,
		pollInterval: pollInterval,
		lastCheck:    time.Now(),
	}
	u.mu.Unlock()

	u.queryAddress(ctx, addr)
}

// Send inserts tx as unsent -- firing OnAdd if it wasn't already known --
// then broadcasts it.
func (u *Updater) Send(ctx context.Context, tx *wire.MsgTx) {
	if u.db.Insert(tx, txdb.StateUnsent) {
		u.callbacks.OnAdd(tx)
	}
	u.broadcast(ctx, tx)
}

// Busy reports whether the updater has any server request outstanding,
// whether a history/transaction query or a confirmation-index probe.
func (u *Updater) Busy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.queuedQueries > 0 || u.queuedGetIndices > 0
}

// Watching returns a snapshot of the addresses currently in the watch
// set.
func (u *Updater) Watching() []btcutil.Address {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]btcutil.Address, 0, len(u.addrs))
	for _, w := range u.addrs {
		out = append(out, w.addr)
	}
	return out
}

// Wakeup is the cooperative tick. The host should call it, then sleep no
// longer than the returned duration (or wake sooner on inbound network
// activity) before calling it again.
func (u *Updater) Wakeup(ctx context.Context) time.Duration {
	now := time.Now()

	u.mu.Lock()
	elapsed := now.Sub(u.lastWakeup)
	pollHeight := elapsed >= heightPollPeriod
	if pollHeight {
		u.lastWakeup = now
		elapsed = 0
	}
	nextWakeup := heightPollPeriod - elapsed

	var toQuery []btcutil.Address
	for _, w := range u.addrs {
		e := now.Sub(w.lastCheck)
		if e >= w.pollInterval {
			w.lastCheck = now
			toQuery = append(toQuery, w.addr)
			if w.pollInterval < nextWakeup {
				nextWakeup = w.pollInterval
			}
		} else if remaining := w.pollInterval - e; remaining < nextWakeup {
			nextWakeup = remaining
		}
	}

	failed := u.failed
	u.failed = false
	u.mu.Unlock()

	if pollHeight {
		u.getHeight(ctx)
	}
	for _, addr := range toQuery {
		u.queryAddress(ctx, addr)
	}
	if failed {
		u.callbacks.OnFail()
	}

	return nextWakeup
}

// watch is the internal convergence funnel: it resets a hash's expiry
// timer, fetches it if unknown, or -- if known and wantInputs is set --
// recurses one level into its stored inputs so ancestry reshuffled by a
// reorg eventually resolves too.
func (u *Updater) watch(ctx context.Context, hash chainhash.Hash, wantInputs bool) {
	u.db.ResetTimestamp(hash)

	if !u.db.HasTx(hash) {
		u.getTx(ctx, hash, wantInputs)
		return
	}
	if wantInputs {
		tx := u.db.GetTx(hash)
		for _, in := range tx.TxIn {
			u.watch(ctx, in.PreviousOutPoint.Hash, false)
		}
	}
}

// queueGetIndices enqueues an index probe for every forked-suspect row,
// unless a previous batch is still draining.
func (u *Updater) queueGetIndices(ctx context.Context) {
	u.mu.Lock()
	busy := u.queuedGetIndices > 0
	u.mu.Unlock()
	if busy {
		return
	}

	u.db.ForEachForked(func(hash chainhash.Hash) {
		u.getIndex(ctx, hash)
	})
}

func (u *Updater) beginQuery() {
	u.mu.Lock()
	u.queuedQueries++
	u.mu.Unlock()
}

func (u *Updater) endQuery() {
	u.mu.Lock()
	u.queuedQueries--
	quiet := u.queuedQueries == 0
	u.mu.Unlock()

	if quiet {
		u.callbacks.OnQuiet()
	}
}

func (u *Updater) setFailed() {
	u.mu.Lock()
	u.failed = true
	u.mu.Unlock()
}

// - server queries --------------------

func (u *Updater) getHeight(ctx context.Context) {
	u.codec.FetchLastHeight(ctx,
		func(height int32) {
			if height == u.db.LastHeight() {
				return
			}
			u.db.AtHeight(height)
			u.callbacks.OnHeight(height)

			u.db.ForEachUnconfirmed(func(hash chainhash.Hash) {
				u.getIndex(ctx, hash)
			})
			u.queueGetIndices(ctx)
		},
		func(err error) {
			log.Debugf("get_height failed: %v", err)
			u.setFailed()
		},
	)
}

func (u *Updater) getTx(ctx context.Context, hash chainhash.Hash, wantInputs bool) {
	u.beginQuery()
	u.codec.FetchTransaction(ctx, hash,
		func(tx *wire.MsgTx) {
			u.endQuery()
			u.onTxFetched(ctx, hash, tx, wantInputs)
		},
		func(err error) {
			log.Debugf("get_tx failed for %v, falling back to mempool: %v", hash, err)
			u.endQuery()
			u.getTxMem(ctx, hash, wantInputs)
		},
	)
}

func (u *Updater) getTxMem(ctx context.Context, hash chainhash.Hash, wantInputs bool) {
	u.beginQuery()
	u.codec.FetchUnconfirmedTransaction(ctx, hash,
		func(tx *wire.MsgTx) {
			u.endQuery()
			u.onTxFetched(ctx, hash, tx, wantInputs)
		},
		func(err error) {
			log.Debugf("get_tx_mem failed for %v: %v", hash, err)
			u.endQuery()
			u.setFailed()
		},
	)
}

// onTxFetched applies a newly-retrieved transaction the same way whether
// it came from get_tx or its mempool fallback.
func (u *Updater) onTxFetched(ctx context.Context, hash chainhash.Hash, tx *wire.MsgTx, wantInputs bool) {
	if u.db.Insert(tx, txdb.StateUnconfirmed) {
		u.callbacks.OnAdd(tx)
	}
	if wantInputs {
		for _, in := range tx.TxIn {
			u.watch(ctx, in.PreviousOutPoint.Hash, false)
		}
	}
	u.getIndex(ctx, hash)
}

func (u *Updater) getIndex(ctx context.Context, hash chainhash.Hash) {
	u.mu.Lock()
	u.queuedGetIndices++
	u.mu.Unlock()

	done := func() {
		u.mu.Lock()
		u.queuedGetIndices--
		u.mu.Unlock()
		u.queueGetIndices(ctx)
	}

	u.codec.FetchTransactionIndex(ctx, hash,
		func(height int32, index uint32) {
			_ = index
			u.db.Confirmed(hash, height)
			done()
		},
		func(err error) {
			log.Debugf("get_index failed for %v, treating as unconfirmed: %v", hash, err)
			u.db.Unconfirmed(hash)
			done()
		},
	)
}

func (u *Updater) broadcast(ctx context.Context, tx *wire.MsgTx) {
	hash := tx.TxHash()
	u.codec.BroadcastTransaction(ctx, tx,
		func() {
			u.db.Unconfirmed(hash)
			u.callbacks.OnSend(nil, tx)
		},
		func(err error) {
			u.db.Forget(hash)
			u.callbacks.OnSend(err, tx)
		},
	)
}

func (u *Updater) queryAddress(ctx context.Context, addr btcutil.Address) {
	u.beginQuery()
	u.codec.AddressFetchHistory(ctx, addr,
		func(history []chain.HistoryRow) {
			u.endQuery()
			for _, row := range history {
				u.watch(ctx, row.Output.Hash, true)
				if !row.Spend.IsZero() {
					u.watch(ctx, row.Spend.Hash, true)
				}
			}
		},
		func(err error) {
			log.Debugf("query_address failed for %v: %v", addr.EncodeAddress(), err)
			u.endQuery()
			u.setFailed()
		},
	)
}
