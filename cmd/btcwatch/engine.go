// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/btcwatch/chain"
	"github.com/btcsuite/btcwatch/txdb"
	"github.com/btcsuite/btcwatch/txupdate"
)

// Status mirrors the two-state health indicator the original watcher
// exposed: whether the store is caught up with the server, or still
// converging.
type Status int

const (
	// StatusOK indicates no queries are outstanding.
	StatusOK Status = iota

	// StatusSyncing indicates the updater is still waiting on one or
	// more in-flight server requests.
	StatusSyncing
)

func (s Status) String() string {
	if s == StatusSyncing {
		return "syncing"
	}
	return "ok"
}

// Watcher bundles a transaction database, its updater, and the codec that
// drives it into the single object the CLI shell drives. It adds nothing
// to the two subsystems' contracts; it exists so the shell has one thing
// to hold instead of three.
type Watcher struct {
	db      *txdb.DB
	updater *txupdate.Updater
	codec   chain.Codec
}

// NewWatcher constructs a Watcher over a fresh, empty database.
func NewWatcher(chainParams *chaincfg.Params, codec chain.Codec, callbacks txupdate.Callbacks) *Watcher {
	db := txdb.New(chainParams)
	return &Watcher{
		db:      db,
		updater: txupdate.New(db, codec, callbacks),
		codec:   codec,
	}
}

// Start kicks off the updater's initial convergence pass.
func (w *Watcher) Start(ctx context.Context) {
	w.updater.Start(ctx)
}

// Wakeup drives the updater's cooperative tick.
func (w *Watcher) Wakeup(ctx context.Context) {
	w.updater.Wakeup(ctx)
}

// Watch begins tracking addr, polling its history at pollInterval.
func (w *Watcher) Watch(ctx context.Context, addr btcutil.Address, pollInterval time.Duration) {
	w.updater.Watch(ctx, addr, pollInterval)
}

// Watching returns the addresses currently being tracked.
func (w *Watcher) Watching() []btcutil.Address {
	return w.updater.Watching()
}

// Send broadcasts tx and tracks it until it either confirms or the
// broadcast itself fails.
func (w *Watcher) Send(ctx context.Context, tx *wire.MsgTx) {
	w.updater.Send(ctx, tx)
}

// GetStatus reports whether the updater currently has any query in
// flight.
func (w *Watcher) GetStatus() Status {
	if w.updater.Busy() {
		return StatusSyncing
	}
	return StatusOK
}

// GetLastBlockHeight returns the highest height the store has observed.
func (w *Watcher) GetLastBlockHeight() int32 {
	return w.db.LastHeight()
}

// GetTxHeight returns the confirming height of hash, or 0 if unknown or
// unconfirmed.
func (w *Watcher) GetTxHeight(hash chainhash.Hash) int32 {
	return w.db.GetTxHeight(hash)
}

// FindTx returns the stored transaction for hash, or an empty transaction
// if it isn't known.
func (w *Watcher) FindTx(hash chainhash.Hash) *wire.MsgTx {
	return w.db.GetTx(hash)
}

// GetUTXOs returns every unspent output known to the store, optionally
// restricted to a single address.
func (w *Watcher) GetUTXOs(addr btcutil.Address) []txdb.OutputInfo {
	if addr == nil {
		return w.db.GetUTXOs()
	}
	return w.db.GetUTXOsForAddresses(txdb.NewAddressSet(addr.EncodeAddress()))
}

// Serialize snapshots the database to its persistence blob format.
func (w *Watcher) Serialize() ([]byte, error) {
	return w.db.Serialize()
}

// Load replaces the database contents from a previously serialized blob.
func (w *Watcher) Load(data []byte) error {
	return w.db.Load(data)
}

// SaveToFile writes the current database snapshot to path.
func (w *Watcher) SaveToFile(path string) error {
	data, err := w.Serialize()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadFromFile replaces the database contents from a snapshot previously
// written by SaveToFile.
func (w *Watcher) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return w.db.Load(data)
}
