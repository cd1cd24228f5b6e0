// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb_test

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"

	"github.com/btcsuite/btcwatch/txdb"
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

// newPayingTx builds a transaction with one output paying addr, spending
// whatever prevOuts are given (or none, for a root transaction).
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

func TestInsertRejectsDuplicateHash(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	addr := mustAddr(t, 1)
	tx := newPayingTx(t, addr, 1000)

	require.True(t, db.Insert(tx, txdb.StateUnsent))
	require.False(t, db.Insert(tx, txdb.StateUnsent))
	require.True(t, db.HasTx(tx.TxHash()))
}

func TestConfirmedUnconfirmedTransitions(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	addr := mustAddr(t, 2)
	tx := newPayingTx(t, addr, 1000)
	hash := tx.TxHash()

	db.Insert(tx, txdb.StateUnsent)
	require.Equal(t, int32(0), db.GetTxHeight(hash))

	db.Confirmed(hash, 100)
	require.Equal(t, int32(100), db.GetTxHeight(hash))

	db.Unconfirmed(hash)
	require.Equal(t, int32(0), db.GetTxHeight(hash))
}

func TestConfirmedOnUnknownHashPanics(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	require.Panics(t, func() {
		db.Confirmed(chainhash.Hash{}, 100)
	})
}

func TestUnconfirmedOnUnknownHashPanics(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	require.Panics(t, func() {
		db.Unconfirmed(chainhash.Hash{})
	})
}

// TestReorgSuspectMarking checks that advancing the tip flags every
// confirmed row sitting at the highest height below the new tip as a
// reorg suspect.
func TestReorgSuspectMarking(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)

	txOld := newPayingTx(t, mustAddr(t, 3), 1000)
	hashOld := txOld.TxHash()
	db.Insert(txOld, txdb.StateUnconfirmed)
	db.Confirmed(hashOld, 100)

	// The tip advances past hashOld's height; it becomes the highest
	// confirmed row below the new tip and is flagged as a reorg suspect.
	db.AtHeight(105)

	var forked []chainhash.Hash
	db.ForEachForked(func(h chainhash.Hash) { forked = append(forked, h) })
	require.Equal(t, []chainhash.Hash{hashOld}, forked)
}

// TestConfirmedSameHeightClearsNeedCheck exercises the resolved need_check
// open question: reconfirming a suspect row at the height it already sits
// at clears the suspicion instead of leaving it flagged forever.
func TestConfirmedSameHeightClearsNeedCheck(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)

	txOld := newPayingTx(t, mustAddr(t, 5), 1000)
	hashOld := txOld.TxHash()
	db.Insert(txOld, txdb.StateUnconfirmed)
	db.Confirmed(hashOld, 100)

	db.AtHeight(105)

	var forkedBefore []chainhash.Hash
	db.ForEachForked(func(h chainhash.Hash) { forkedBefore = append(forkedBefore, h) })
	require.Len(t, forkedBefore, 1)

	// The server re-affirms hashOld at the same height it was already
	// confirmed at.
	db.Confirmed(hashOld, 100)

	var forkedAfter []chainhash.Hash
	db.ForEachForked(func(h chainhash.Hash) { forkedAfter = append(forkedAfter, h) })
	require.Empty(t, forkedAfter)
}

// TestUnconfirmedClearsNeedCheck covers the reorg-repair path spec.md §4.2
// walks through: a suspect row whose index probe fails goes back through
// Unconfirmed before it is ever reconfirmed. If Unconfirmed left
// needCheck set, the row would violate the invariant that needCheck only
// ever holds for a confirmed row, and would be re-enqueued by
// ForEachForked forever even after the server settles on the very height
// it originally held.
func TestUnconfirmedClearsNeedCheck(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)

	tx := newPayingTx(t, mustAddr(t, 6), 1000)
	hash := tx.TxHash()
	db.Insert(tx, txdb.StateUnconfirmed)
	db.Confirmed(hash, 100)

	db.AtHeight(105)

	var forkedBefore []chainhash.Hash
	db.ForEachForked(func(h chainhash.Hash) { forkedBefore = append(forkedBefore, h) })
	require.Len(t, forkedBefore, 1)

	// The confirmation-index probe for the suspect row fails, so the
	// updater falls back to marking it unconfirmed.
	db.Unconfirmed(hash)

	var forkedDuring []chainhash.Hash
	db.ForEachForked(func(h chainhash.Hash) { forkedDuring = append(forkedDuring, h) })
	require.Empty(t, forkedDuring)

	// The server later reconfirms the transaction at the same height it
	// originally held.
	db.Confirmed(hash, 100)

	var forkedAfter []chainhash.Hash
	db.ForEachForked(func(h chainhash.Hash) { forkedAfter = append(forkedAfter, h) })
	require.Empty(t, forkedAfter)
}

func TestIsSpend(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	addrA := mustAddr(t, 7)
	addrB := mustAddr(t, 8)

	funding := newPayingTx(t, addrA, 5000)
	fundingHash := funding.TxHash()
	db.Insert(funding, txdb.StateConfirmed)

	spend := newPayingTx(t, addrB, 4000, wire.OutPoint{Hash: fundingHash, Index: 0})
	spendHash := spend.TxHash()
	db.Insert(spend, txdb.StateUnconfirmed)

	require.True(t, db.IsSpend(spendHash, txdb.NewAddressSet(addrA.EncodeAddress())))
	require.False(t, db.IsSpend(spendHash, txdb.NewAddressSet(addrB.EncodeAddress())))

	// A spend of an input the store never saw resolves conservatively.
	unknown := newPayingTx(t, addrB, 100, wire.OutPoint{Hash: chainhash.Hash{1}, Index: 0})
	db.Insert(unknown, txdb.StateUnconfirmed)
	require.False(t, db.IsSpend(unknown.TxHash(), txdb.NewAddressSet(addrA.EncodeAddress())))
}

func TestGetUTXOsExcludesSpentOutputs(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	addr := mustAddr(t, 9)

	funding := newPayingTx(t, addr, 5000)
	fundingHash := funding.TxHash()
	db.Insert(funding, txdb.StateConfirmed)

	spend := newPayingTx(t, mustAddr(t, 10), 4000, wire.OutPoint{Hash: fundingHash, Index: 0})
	db.Insert(spend, txdb.StateUnconfirmed)

	utxos := db.GetUTXOs()
	t.Logf("utxos: %s", spew.Sdump(utxos))
	require.Len(t, utxos, 1)
	require.Equal(t, spend.TxHash(), utxos[0].Hash)
}

func TestHasHistory(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	addr := mustAddr(t, 11)
	tx := newPayingTx(t, addr, 1000)
	db.Insert(tx, txdb.StateUnsent)

	require.True(t, db.HasHistory(addr.EncodeAddress()))
	require.False(t, db.HasHistory(mustAddr(t, 12).EncodeAddress()))
}

func TestSerializeLoadRoundTrip(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	db.AtHeight(500)

	unsent := newPayingTx(t, mustAddr(t, 13), 1000)
	db.Insert(unsent, txdb.StateUnsent)

	confirmed := newPayingTx(t, mustAddr(t, 14), 2000)
	confirmedHash := confirmed.TxHash()
	db.Insert(confirmed, txdb.StateUnconfirmed)
	db.Confirmed(confirmedHash, 400)

	blob, err := db.Serialize()
	require.NoError(t, err)

	loaded := txdb.New(&chaincfg.MainNetParams)
	require.NoError(t, loaded.Load(blob))

	require.Equal(t, int32(500), loaded.LastHeight())
	require.True(t, loaded.HasTx(unsent.TxHash()))
	require.True(t, loaded.HasTx(confirmedHash))
	require.Equal(t, int32(400), loaded.GetTxHeight(confirmedHash))
}

func TestSerializeDropsExpiredUnconfirmed(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams, txdb.WithUnconfirmedTimeout(0))

	stale := newPayingTx(t, mustAddr(t, 15), 1000)
	db.Insert(stale, txdb.StateUnconfirmed)

	// A zero timeout means any positive elapsed time is expired.
	time.Sleep(time.Millisecond)

	blob, err := db.Serialize()
	require.NoError(t, err)

	loaded := txdb.New(&chaincfg.MainNetParams)
	require.NoError(t, loaded.Load(blob))
	require.False(t, loaded.HasTx(stale.TxHash()))

	// The original table is untouched by Serialize.
	require.True(t, db.HasTx(stale.TxHash()))
}

func TestLoadRejectsMalformedBlob(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	err := db.Load([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)

	var storeErr txdb.Error
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, txdb.ErrMalformedBlob, storeErr.ErrorCode)
}

func TestLoadRecognizesLegacyMagicWithoutRows(t *testing.T) {
	db := txdb.New(&chaincfg.MainNetParams)
	blob := []byte{0xc3, 0x61, 0xab, 0x3e} // oldSerialMagic, little-endian
	require.NoError(t, db.Load(blob))
	require.Equal(t, int32(0), db.LastHeight())
}
