// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txupdate implements the cooperative polling engine that drives
// a txdb.DB toward a remote server's view of the chain: address history
// queries, transaction fetches, confirmation-index lookups, unsent
// broadcasts, and tip-height polling.
package txupdate

import "github.com/btcsuite/btcd/wire"

// Callbacks receives the events the updater raises as it converges the
// local store toward the server's view. OnAdd from Send and OnFail from
// Wakeup run on the goroutine that called into the Updater; every other
// event runs on whichever goroutine the driving codec's completion
// arrives on.
type Callbacks interface {
	// OnAdd fires when a new transaction is inserted into the store.
	OnAdd(tx *wire.MsgTx)

	// OnHeight fires when the tip advances to height.
	OnHeight(height int32)

	// OnSend fires when a broadcast attempt completes, successfully or
	// not.
	OnSend(err error, tx *wire.MsgTx)

	// OnQuiet fires when the outstanding non-index queries the updater
	// is tracking drain to zero.
	OnQuiet()

	// OnFail fires at most once per Wakeup call when at least one
	// server request has failed since the last time it fired.
	OnFail()
}
