// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// repl is a thin, out-of-scope demonstration shell for driving a Watcher
// interactively. It does not participate in the correctness of the two
// core subsystems.
type repl struct {
	watcher     *Watcher
	chainParams *chaincfg.Params
	scanner     *bufio.Scanner
	done        bool
}

func newREPL(w *Watcher, chainParams *chaincfg.Params) *repl {
	return &repl{
		watcher:     w,
		chainParams: chainParams,
		scanner:     bufio.NewScanner(os.Stdin),
	}
}

func (r *repl) run(ctx context.Context) {
	fmt.Println(`type "help" for instructions`)
	for !r.done {
		fmt.Print("> ")
		if !r.scanner.Scan() {
			return
		}
		fields := strings.Fields(r.scanner.Text())
		if len(fields) == 0 {
			continue
		}
		r.dispatch(ctx, fields[0], fields[1:])
	}
}

func (r *repl) dispatch(ctx context.Context, cmd string, args []string) {
	switch cmd {
	case "exit", "quit":
		r.done = true
	case "help":
		r.cmdHelp()
	case "height":
		fmt.Println(r.watcher.GetLastBlockHeight())
	case "status":
		fmt.Println(r.watcher.GetStatus())
	case "watch":
		r.cmdWatch(ctx, args)
	case "txheight":
		r.cmdTxHeight(args)
	case "txdump":
		r.cmdTxDump(args)
	case "txsend":
		r.cmdTxSend(ctx, args)
	case "utxos":
		r.cmdUTXOs(args)
	case "save":
		r.cmdSave(args)
	case "load":
		r.cmdLoad(args)
	default:
		fmt.Printf("unknown command %s\n", cmd)
	}
}

func (r *repl) cmdHelp() {
	fmt.Println("commands:")
	fmt.Println("  exit                       - leave the program")
	fmt.Println("  help                       - this menu")
	fmt.Println("  height                     - get the current blockchain height")
	fmt.Println("  status                     - get the watcher state")
	fmt.Println("  watch <address> [poll_ms]  - watch an address")
	fmt.Println("  txheight <hash>            - get a transaction's height")
	fmt.Println("  txdump <hash>              - show the contents of a transaction")
	fmt.Println("  txsend <hex>               - push a transaction to the server")
	fmt.Println("  utxos [address]            - get utxos for an address")
	fmt.Println("  save <filename>            - dump the database to disk")
	fmt.Println("  load <filename>            - load the database from disk")
}

func (r *repl) cmdWatch(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Println("no address given")
		return
	}
	addr, err := decodeAddress(args[0], r.chainParams)
	if err != nil {
		fmt.Printf("invalid address %s: %v\n", args[0], err)
		return
	}
	pollInterval := defaultPollInterval
	if len(args) >= 2 {
		ms, err := strconv.Atoi(args[1])
		if err == nil {
			pollInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if pollInterval < 500*time.Millisecond {
		fmt.Println("warning: poll too short, setting to 500ms")
		pollInterval = 500 * time.Millisecond
	}
	r.watcher.Watch(ctx, addr, pollInterval)
}

func (r *repl) cmdTxHeight(args []string) {
	hash, ok := readTxid(args)
	if !ok {
		return
	}
	height := r.watcher.GetTxHeight(hash)
	if height == 0 {
		fmt.Println("Synchronizing...")
		return
	}
	fmt.Println(height)
}

func (r *repl) cmdTxDump(args []string) {
	hash, ok := readTxid(args)
	if !ok {
		return
	}
	tx := r.watcher.FindTx(hash)
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		fmt.Printf("failed to serialize transaction: %v\n", err)
		return
	}
	fmt.Println(hex.EncodeToString(buf.Bytes()))
}

func (r *repl) cmdTxSend(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Println("no transaction given")
		return
	}
	data, err := hex.DecodeString(args[0])
	if err != nil {
		fmt.Println("not a valid transaction")
		return
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(data)); err != nil {
		fmt.Println("not a valid transaction")
		return
	}
	r.watcher.Send(ctx, tx)
}

func (r *repl) cmdUTXOs(args []string) {
	var target btcutil.Address
	if len(args) >= 1 {
		addr, err := decodeAddress(args[0], r.chainParams)
		if err != nil {
			fmt.Printf("invalid address %s: %v\n", args[0], err)
			return
		}
		target = addr
	}

	utxos := r.watcher.GetUTXOs(target)
	var total int64
	for _, u := range utxos {
		fmt.Printf("%v:%d value: %d\n", u.Hash, u.Index, u.Value)
		total += int64(u.Value)
	}
	fmt.Printf("total: %d\n", total)
}

// decodeAddress parses an address string for the active network.
func decodeAddress(s string, chainParams *chaincfg.Params) (btcutil.Address, error) {
	return btcutil.DecodeAddress(s, chainParams)
}

func (r *repl) cmdSave(args []string) {
	if len(args) < 1 {
		fmt.Println("no file name given")
		return
	}
	if err := r.watcher.SaveToFile(args[0]); err != nil {
		fmt.Printf("cannot save %s: %v\n", args[0], err)
	}
}

func (r *repl) cmdLoad(args []string) {
	if len(args) < 1 {
		fmt.Println("no file name given")
		return
	}
	if err := r.watcher.LoadFromFile(args[0]); err != nil {
		fmt.Printf("error while loading data: %v\n", err)
	}
}

func readTxid(args []string) (chainhash.Hash, bool) {
	if len(args) < 1 {
		fmt.Println("no txid given")
		return chainhash.Hash{}, false
	}
	hash, err := chainhash.NewHashFromStr(args[0])
	if err != nil {
		fmt.Printf("invalid txid %s: %v\n", args[0], err)
		return chainhash.Hash{}, false
	}
	return *hash, true
}
