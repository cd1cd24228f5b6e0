// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// shellCallbacks implements txupdate.Callbacks by printing each event to
// the console, mirroring the demo shell's original transaction and send
// callbacks.
type shellCallbacks struct{}

func (shellCallbacks) OnAdd(tx *wire.MsgTx) {
	fmt.Printf("got transaction %v\n", tx.TxHash())
}

func (shellCallbacks) OnHeight(height int32) {
	mainLog.Infof("chain tip at height %d", height)
}

func (shellCallbacks) OnSend(err error, tx *wire.MsgTx) {
	if err != nil {
		fmt.Printf("failed to send transaction %v: %v\n", tx.TxHash(), err)
		return
	}
	fmt.Printf("sent transaction %v\n", tx.TxHash())
}

func (shellCallbacks) OnQuiet() {
	mainLog.Debug("updater is quiescent")
}

func (shellCallbacks) OnFail() {
	mainLog.Warn("one or more server requests failed since the last check")
}
