// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"os/signal"
)

var (
	interruptChannel      = make(chan os.Signal, 1)
	addHandlerChannel     = make(chan func())
	interruptHandlersDone = make(chan struct{})
)

var signals = []os.Signal{os.Interrupt}

// mainInterruptHandler listens for SIGINT and runs the registered shutdown
// callbacks in LIFO order before returning. It must be run as a goroutine.
func mainInterruptHandler() {
	var callbacks []func()
	signal.Notify(interruptChannel, signals...)

	for {
		select {
		case sig := <-interruptChannel:
			mainLog.Infof("Received signal (%s). Shutting down...", sig)
			for i := len(callbacks) - 1; i >= 0; i-- {
				callbacks[i]()
			}
			close(interruptHandlersDone)
			return

		case handler := <-addHandlerChannel:
			callbacks = append(callbacks, handler)
		}
	}
}

// addInterruptHandler registers handler to run when SIGINT is received.
func addInterruptHandler(handler func()) {
	addHandlerChannel <- handler
}
