// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcdcodec implements chain.Codec against a btcd (or
// btcd-compatible, addrindex-enabled) JSON-RPC full node using
// github.com/btcsuite/btcd/rpcclient. Each request runs on its own
// goroutine -- either resolving a Future from the client's Async form or,
// for the block lookup in FetchTransactionIndex and the history search in
// AddressFetchHistory, making the blocking call there -- which then
// invokes the caller's onOk/onErr continuation. This keeps
// the codec itself non-blocking while reusing rpcclient's own
// battle-tested request/response plumbing.
package btcdcodec

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/btcwatch/chain"
)

// ErrNoAddrIndex is returned when AddressFetchHistory is called against a
// node that wasn't started with -addrindex.
var ErrNoAddrIndex = errors.New("btcdcodec: address history requires -addrindex")

// Codec adapts an rpcclient.Client to the chain.Codec surface.
type Codec struct {
	client      *rpcclient.Client
	chainParams *chaincfg.Params
	addrIndex   bool
}

// Config carries the connection parameters for New.
type Config struct {
	Host         string
	User         string
	Pass         string
	Certificates []byte
	DisableTLS   bool
	ChainParams  *chaincfg.Params
	HasAddrIndex bool
}

// New dials a btcd RPC server and returns a Codec backed by it.
func New(cfg *Config) (*Codec, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		Certificates: cfg.Certificates,
		DisableTLS:   cfg.DisableTLS,
		HTTPPostMode: true,
	}
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}
	return &Codec{
		client:      client,
		chainParams: cfg.ChainParams,
		addrIndex:   cfg.HasAddrIndex,
	}, nil
}

// Shutdown tears down the underlying RPC connection.
func (c *Codec) Shutdown() {
	c.client.Shutdown()
	c.client.WaitForShutdown()
}

// FetchLastHeight implements chain.Codec.
func (c *Codec) FetchLastHeight(_ context.Context, onOk func(int32), onErr func(error)) {
	future := c.client.GetBlockCountAsync()
	go func() {
		height, err := future.Receive()
		if err != nil {
			log.Errorf("Failed to receive best block height from chain server: %v", err)
			onErr(err)
			return
		}
		onOk(int32(height))
	}()
}

// FetchTransaction implements chain.Codec.
func (c *Codec) FetchTransaction(_ context.Context, hash chainhash.Hash,
	onOk func(*wire.MsgTx), onErr func(error)) {

	future := c.client.GetRawTransactionAsync(&hash)
	go func() {
		tx, err := future.Receive()
		if err != nil {
			log.Debugf("Failed to fetch transaction %v: %v", hash, err)
			onErr(err)
			return
		}
		onOk(tx.MsgTx())
	}()
}

// FetchUnconfirmedTransaction implements chain.Codec. btcd's
// getrawtransaction already serves mempool transactions when the node
// hasn't pruned them, so this reissues the same request; a dedicated
// mempool-only endpoint would only matter against nodes that reject
// getrawtransaction for unconfirmed transactions.
func (c *Codec) FetchUnconfirmedTransaction(ctx context.Context, hash chainhash.Hash,
	onOk func(*wire.MsgTx), onErr func(error)) {

	c.FetchTransaction(ctx, hash, onOk, onErr)
}

// FetchTransactionIndex implements chain.Codec. It resolves the
// confirming block via the verbose transaction result, then locates the
// transaction's position within that block.
func (c *Codec) FetchTransactionIndex(_ context.Context, hash chainhash.Hash,
	onOk func(int32, uint32), onErr func(error)) {

	future := c.client.GetRawTransactionVerboseAsync(&hash)
	go func() {
		result, err := future.Receive()
		if err != nil {
			log.Debugf("Failed to fetch verbose transaction %v: %v", hash, err)
			onErr(err)
			return
		}
		if result.BlockHash == "" {
			onErr(errors.New("btcdcodec: transaction is unconfirmed"))
			return
		}

		blockHash, err := chainhash.NewHashFromStr(result.BlockHash)
		if err != nil {
			log.Errorf("Malformed block hash for transaction %v: %v", hash, err)
			onErr(err)
			return
		}
		block, err := c.client.GetBlockVerbose(blockHash)
		if err != nil {
			log.Errorf("Failed to fetch block %v: %v", blockHash, err)
			onErr(err)
			return
		}
		for i, txid := range block.Tx {
			if txid == hash.String() {
				onOk(int32(block.Height), uint32(i))
				return
			}
		}
		log.Warnf("Transaction %v not found in its reported block %v", hash, blockHash)
		onErr(errors.New("btcdcodec: transaction not found in its own block"))
	}()
}

// BroadcastTransaction implements chain.Codec.
func (c *Codec) BroadcastTransaction(_ context.Context, tx *wire.MsgTx,
	onOk func(), onErr func(error)) {

	future := c.client.SendRawTransactionAsync(tx, false)
	go func() {
		if _, err := future.Receive(); err != nil {
			log.Errorf("Failed to broadcast transaction %v: %v", tx.TxHash(), err)
			onErr(err)
			return
		}
		onOk()
	}()
}

// AddressFetchHistory implements chain.Codec. It requires the connected
// node to run with -addrindex, mirroring the search-raw-transactions
// endpoint rpcclient exposes for such nodes.
func (c *Codec) AddressFetchHistory(_ context.Context, addr btcutil.Address,
	onOk func([]chain.HistoryRow), onErr func(error)) {

	if !c.addrIndex {
		onErr(ErrNoAddrIndex)
		return
	}
	if !addr.IsForNet(c.chainParams) {
		onErr(errors.New("btcdcodec: address is for the wrong network"))
		return
	}

	go func() {
		results, err := c.client.SearchRawTransactionsVerbose(
			addr, 0, 1000, true, true, nil,
		)
		if err != nil {
			log.Errorf("Failed to fetch history for %v: %v", addr.EncodeAddress(), err)
			onErr(err)
			return
		}

		target := addr.EncodeAddress()
		byOutput := make(map[chain.OutPoint]*chain.HistoryRow)
		for _, res := range results {
			txHash, err := chainhash.NewHashFromStr(res.Txid)
			if err != nil {
				continue
			}
			for _, out := range res.Vout {
				if !paysAddress(out.ScriptPubKey.Addresses, target) {
					continue
				}
				op := chain.OutPoint{Hash: *txHash, Index: out.N}
				byOutput[op] = &chain.HistoryRow{
					Output: op,
					Value:  btcutil.Amount(out.Value * btcutil.SatoshiPerBitcoin),
					Height: 0,
				}
			}
		}

		// A second pass over every result's inputs links a later spend
		// back to the output it consumes -- Vout alone only ever tells
		// us about outputs paying addr, never who spent them.
		for _, res := range results {
			spendHash, err := chainhash.NewHashFromStr(res.Txid)
			if err != nil {
				continue
			}
			for i, in := range res.Vin {
				if in.Txid == "" {
					// Coinbase input.
					continue
				}
				prevHash, err := chainhash.NewHashFromStr(in.Txid)
				if err != nil {
					continue
				}
				spent := chain.OutPoint{Hash: *prevHash, Index: in.Vout}
				row, ok := byOutput[spent]
				if !ok {
					continue
				}
				row.Spend = chain.OutPoint{Hash: *spendHash, Index: uint32(i)}
			}
		}

		rows := make([]chain.HistoryRow, 0, len(byOutput))
		for _, row := range byOutput {
			rows = append(rows, *row)
		}
		onOk(rows)
	}()
}

// paysAddress reports whether target appears among the addresses a
// script's ScriptPubKey resolves to.
func paysAddress(addresses []string, target string) bool {
	for _, a := range addresses {
		if a == target {
			return true
		}
	}
	return false
}
