// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btcwatch/chain/btcdcodec"
)

var cfg *config

func main() {
	if err := btcwatchMain(); err != nil {
		os.Exit(1)
	}
}

// btcwatchMain is a work-around main function so that deferred log
// flushing still happens before an unsuccessful run's exit status is set.
func btcwatchMain() error {
	tcfg, chainParams, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg

	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	setLogLevels(cfg.DebugLevel)
	defer logRotator.Close()

	var certs []byte
	if !cfg.NoTLS {
		certs, err = os.ReadFile(cfg.RPCCert)
		if err != nil {
			mainLog.Warnf("cannot open RPC cert file: %v", err)
		}
	}

	codec, err := btcdcodec.New(&btcdcodec.Config{
		Host:         cfg.RPCConnect.Value,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		Certificates: certs,
		DisableTLS:   cfg.NoTLS,
		ChainParams:  chainParams,
		HasAddrIndex: cfg.HasAddrIndex,
	})
	if err != nil {
		mainLog.Errorf("unable to connect to btcd: %v", err)
		return err
	}
	defer codec.Shutdown()

	watcher := NewWatcher(chainParams, codec, shellCallbacks{})

	if err := watcher.LoadFromFile(cfg.dbPath()); err != nil && !os.IsNotExist(err) {
		mainLog.Warnf("could not load existing database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			cancel()
			if err := watcher.SaveToFile(cfg.dbPath()); err != nil {
				mainLog.Errorf("failed to save database: %v", err)
			}
		})
	}
	go mainInterruptHandler()
	addInterruptHandler(shutdown)

	watcher.Start(ctx)
	for _, addrStr := range cfg.WatchAddress {
		addr, err := decodeAddress(addrStr, chainParams)
		if err != nil {
			mainLog.Warnf("skipping invalid watch address %s: %v", addrStr, err)
			continue
		}
		watcher.Watch(ctx, addr, cfg.PollInterval)
	}

	go runLoop(ctx, watcher)

	fmt.Printf("btcwatch %s connected to %s\n", version(), cfg.RPCConnect.Value)
	newREPL(watcher, chainParams).run(ctx)

	shutdown()
	return nil
}
