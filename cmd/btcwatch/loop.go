// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// wakeupTick is how often the host loop drives the updater's cooperative
// tick. It only needs to be at least as frequent as the shortest interval
// anything in the watcher is scheduled against; Wakeup itself is a cheap
// no-op for any timer that hasn't come due yet.
const wakeupTick = 500 * time.Millisecond

// runLoop drives w.Wakeup on a fixed cadence until ctx is canceled.
func runLoop(ctx context.Context, w *Watcher) {
	t := ticker.New(wakeupTick)
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			w.Wakeup(ctx)
		case <-ctx.Done():
			return
		}
	}
}
