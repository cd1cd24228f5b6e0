// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// scriptAddress extracts the single payment address a pkScript pays to,
// following the conservative interpretation from the original watcher's
// bc::extract: a script that is not a standard single-address pay-to
// pattern (multisig, bare OP_RETURN, unrecognized templates) yields no
// address rather than a best-effort guess.
func (db *DB) scriptAddress(pkScript []byte) (string, bool) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, db.chainParams)
	if err != nil || len(addrs) != 1 {
		return "", false
	}
	return addrs[0].EncodeAddress(), true
}

// inputAddress resolves the payment address that funded an input by
// looking up the previous output in the store. This mirrors what the
// original codebase's script-based extraction achieved implicitly: an
// input's address is only knowable if we already hold the transaction it
// spends.
func (db *DB) inputAddress(in *wire.TxIn) (string, bool) {
	prevRow, ok := db.rows[in.PreviousOutPoint.Hash]
	if !ok {
		return "", false
	}
	if int(in.PreviousOutPoint.Index) >= len(prevRow.tx.TxOut) {
		return "", false
	}
	out := prevRow.tx.TxOut[in.PreviousOutPoint.Index]
	return db.scriptAddress(out.PkScript)
}
