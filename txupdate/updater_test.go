// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txupdate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/btcsuite/btcwatch/chain"
	"github.com/btcsuite/btcwatch/chain/scripted"
	"github.com/btcsuite/btcwatch/txdb"
	"github.com/btcsuite/btcwatch/txupdate"
)

func mustAddr(t *testing.T, seed byte) btcutil.Address {
	t.Helper()

	hash := make([]byte, 20)
	for i := range hash {
		hash[i] = seed
	}
	addr, err := btcutil.NewAddressPubKeyHash(hash, &chaincfg.MainNetParams)
	require.NoError(t, err)
	return addr
}

func newPayingTx(t *testing.T, addr btcutil.Address, value int64, prevOuts ...wire.OutPoint) *wire.MsgTx {
	t.Helper()

	tx := wire.NewMsgTx(wire.TxVersion)
	if len(prevOuts) == 0 {
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
			Sequence:         wire.MaxTxInSequenceNum,
		})
	}
	for _, p := range prevOuts {
		tx.AddTxIn(&wire.TxIn{PreviousOutPoint: p, Sequence: wire.MaxTxInSequenceNum})
	}

	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	tx.AddTxOut(&wire.TxOut{Value: value, PkScript: script})

	return tx
}

// recordingCallbacks implements txupdate.Callbacks, recording every event
// under a mutex so tests can assert on them regardless of which goroutine
// the scripted codec dispatched from.
type recordingCallbacks struct {
	mu sync.Mutex

	added  []*wire.MsgTx
	sent   []error
	quiet  int
	failed int
	height []int32
}

func (r *recordingCallbacks) OnAdd(tx *wire.MsgTx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, tx)
}

func (r *recordingCallbacks) OnHeight(height int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.height = append(r.height, height)
}

func (r *recordingCallbacks) OnSend(err error, _ *wire.MsgTx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, err)
}

func (r *recordingCallbacks) OnQuiet() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quiet++
}

func (r *recordingCallbacks) OnFail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
}

func (r *recordingCallbacks) quietCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quiet
}

func (r *recordingCallbacks) sendCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestStartBroadcastsUnsentTransactions(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	tx := newPayingTx(t, mustAddr(t, 1), 1000)
	require.True(t, db.Insert(tx, txdb.StateUnsent))

	codec := scripted.New()
	cb := &recordingCallbacks{}
	u := txupdate.New(db, codec, cb)

	u.Start(context.Background())

	require.Equal(t, 1, cb.sendCount())
	require.Equal(t, 1, codec.CallCount("BroadcastTransaction"))

	var stillUnsent bool
	db.ForEachUnsent(func(*wire.MsgTx) { stillUnsent = true })
	require.False(t, stillUnsent)
}

func TestSendRejectedBroadcastForgetsTransaction(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	tx := newPayingTx(t, mustAddr(t, 2), 1000)
	hash := tx.TxHash()

	codec := scripted.New()
	codec.SetBroadcastError(hash, scripted.ErrNotScripted)
	cb := &recordingCallbacks{}
	u := txupdate.New(db, codec, cb)

	u.Send(context.Background(), tx)

	require.Len(t, cb.sent, 1)
	require.Error(t, cb.sent[0])
	require.False(t, db.HasTx(hash))
}

func TestWatchDiscoversHistoryAndConfirms(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	addr := mustAddr(t, 3)

	fundingTx := newPayingTx(t, addr, 5000)
	fundingHash := fundingTx.TxHash()

	codec := scripted.New()
	codec.SetTx(fundingHash, fundingTx)
	codec.SetIndex(fundingHash, 200, 0)
	codec.SetHistory(addr.EncodeAddress(), []chain.HistoryRow{
		{Output: chain.OutPoint{Hash: fundingHash, Index: 0}, Value: 5000},
	})

	cb := &recordingCallbacks{}
	u := txupdate.New(db, codec, cb)

	u.Watch(context.Background(), addr, time.Minute)

	require.True(t, db.HasTx(fundingHash))
	require.Equal(t, int32(200), db.GetTxHeight(fundingHash))
	require.Len(t, cb.added, 1)
	require.Equal(t, fundingHash, cb.added[0].TxHash())

	watching := u.Watching()
	require.Len(t, watching, 1)
	require.Equal(t, addr.EncodeAddress(), watching[0].EncodeAddress())
}

func TestWatchFallsBackToMempoolTransaction(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	addr := mustAddr(t, 4)

	tx := newPayingTx(t, addr, 1500)
	hash := tx.TxHash()

	codec := scripted.New()
	codec.SetTxError(hash, scripted.ErrNotScripted)
	codec.SetMemTx(hash, tx)
	codec.SetIndexError(hash, scripted.ErrNotScripted)
	codec.SetHistory(addr.EncodeAddress(), []chain.HistoryRow{
		{Output: chain.OutPoint{Hash: hash, Index: 0}, Value: 1500},
	})

	cb := &recordingCallbacks{}
	u := txupdate.New(db, codec, cb)

	u.Watch(context.Background(), addr, time.Minute)

	require.True(t, db.HasTx(hash))
	// The index probe failed, so the row settles as unconfirmed rather
	// than confirmed.
	require.Equal(t, int32(0), db.GetTxHeight(hash))
}

func TestQuiescenceFiresPerSynchronousQuery(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	addr := mustAddr(t, 5)

	codec := scripted.New()
	codec.SetHistory(addr.EncodeAddress(), nil)

	cb := &recordingCallbacks{}
	u := txupdate.New(db, codec, cb)

	u.Watch(context.Background(), addr, time.Minute)
	u.Watch(context.Background(), addr, time.Minute)

	// Each Watch call's history query begins and ends its own query
	// span synchronously, so quiescence fires once per call.
	require.Equal(t, 2, cb.quietCount())
}

func TestQueryAddressFailureSetsFailedLatch(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	addr := mustAddr(t, 6)

	codec := scripted.New()
	codec.SetHistoryError(addr.EncodeAddress(), scripted.ErrNotScripted)

	cb := &recordingCallbacks{}
	u := txupdate.New(db, codec, cb)

	u.Watch(context.Background(), addr, time.Minute)
	u.Wakeup(context.Background())

	require.Equal(t, 1, cb.failed)
}

// TestNeedCheckClearingBoundsIndexProbing exercises the interaction between
// the need_check clearing fix in txdb and queueGetIndices' batch-drain
// guard: reconfirming a reorg-suspect row at its already-stored height
// must remove it from the forked set so a later probe pass doesn't
// re-enqueue it forever.
func TestNeedCheckClearingBoundsIndexProbing(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)

	tx := newPayingTx(t, mustAddr(t, 7), 1000)
	hash := tx.TxHash()
	db.Insert(tx, txdb.StateUnconfirmed)
	db.Confirmed(hash, 100)

	// Advance the tip past the row's height, flagging it as a reorg
	// suspect.
	db.AtHeight(105)

	var forkedBefore []chainhash.Hash
	db.ForEachForked(func(h chainhash.Hash) { forkedBefore = append(forkedBefore, h) })
	require.Len(t, forkedBefore, 1)

	codec := scripted.New()
	codec.SetHeight(105) // matches db.LastHeight already, getHeight is a no-op
	codec.SetIndex(hash, 100, 0)

	cb := &recordingCallbacks{}
	u := txupdate.New(db, codec, cb)

	u.Start(context.Background())

	// Exactly one index probe was needed: the row's re-affirmation
	// clears need_check, so the batch-drain guard's recursive call
	// finds nothing left to probe.
	require.Equal(t, 1, codec.CallCount("FetchTransactionIndex"))

	var forkedAfter []chainhash.Hash
	db.ForEachForked(func(h chainhash.Hash) { forkedAfter = append(forkedAfter, h) })
	require.Empty(t, forkedAfter)
}
