// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain defines the abstract, asynchronous request/response
// surface the transaction updater drives against a remote full-node
// query service. It intentionally says nothing about wire framing,
// transport, or codec -- those live in a concrete implementation such as
// chain/btcdcodec or chain/scripted.
package chain

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// OutPoint identifies a transaction output the way a full-node's history
// response does: by transaction hash and output index.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// IsZero reports whether the outpoint is the null outpoint the server
// uses to mean "not yet spent".
func (o OutPoint) IsZero() bool {
	var zero chainhash.Hash
	return o.Hash == zero
}

// HistoryRow is one entry in a server's address history response: an
// output paying the queried address, and -- if it has been spent -- the
// input that spends it.
type HistoryRow struct {
	Output OutPoint
	Spend  OutPoint
	Value  btcutil.Amount
	Height int32
}

// Codec is the asynchronous request/response surface the updater
// consumes. Every method registers onOk/onErr continuations and returns
// immediately; exactly one of the two fires, at most once, at an
// unspecified later time. Implementations may invoke continuations from
// any goroutine -- the updater synchronizes its own state internally, so
// callers need not serialize completions onto a particular thread.
//
// This mirrors the callback-registration idiom
// rpcclient.NotificationHandlers uses for asynchronous chain
// notifications, adapted here to a request/response shape instead of a
// fire-and-forget notification stream.
type Codec interface {
	// FetchLastHeight requests the server's current chain tip.
	FetchLastHeight(ctx context.Context, onOk func(height int32), onErr func(err error))

	// FetchTransaction requests a transaction by hash, expected to
	// succeed for transactions the server has fully indexed.
	FetchTransaction(ctx context.Context, hash chainhash.Hash,
		onOk func(tx *wire.MsgTx), onErr func(err error))

	// FetchUnconfirmedTransaction requests a transaction by hash from
	// the server's mempool, used as a fallback when FetchTransaction
	// fails.
	FetchUnconfirmedTransaction(ctx context.Context, hash chainhash.Hash,
		onOk func(tx *wire.MsgTx), onErr func(err error))

	// FetchTransactionIndex requests the confirming block height and
	// in-block index for a transaction. An error is interpreted as
	// "the server no longer considers this transaction confirmed".
	FetchTransactionIndex(ctx context.Context, hash chainhash.Hash,
		onOk func(height int32, index uint32), onErr func(err error))

	// BroadcastTransaction submits a transaction to the network.
	BroadcastTransaction(ctx context.Context, tx *wire.MsgTx,
		onOk func(), onErr func(err error))

	// AddressFetchHistory requests the list of outputs paying addr and
	// their spends, if any.
	AddressFetchHistory(ctx context.Context, addr btcutil.Address,
		onOk func(history []HistoryRow), onErr func(err error))
}
