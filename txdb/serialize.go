// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// serialMagic marks the current persistence format.
	serialMagic uint32 = 0xfecdb760

	// oldSerialMagic is a legacy magic recognized for compatibility: a
	// blob with this header parses successfully but contributes no
	// rows.
	oldSerialMagic uint32 = 0x3eab61c3

	// serialTxTag prefixes every transaction record.
	serialTxTag byte = 0x42
)

// Serialize writes the database to an in-memory blob: a 4-byte magic, an
// 8-byte tip height, then zero or more transaction records. Rows with
// state unsent are always included; rows with state unconfirmed whose
// timestamp has exceeded the unconfirmed timeout are dropped.
func (db *DB) Serialize() ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, serialMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint64(db.lastHeight)); err != nil {
		return nil, err
	}

	now := time.Now()
	for hash, row := range db.rows {
		if row.state == StateUnconfirmed &&
			now.Sub(row.timestamp) >= db.unconfirmedTimeout {
			continue
		}

		if err := buf.WriteByte(serialTxTag); err != nil {
			return nil, err
		}
		if _, err := buf.Write(hash[:]); err != nil {
			return nil, err
		}
		if err := row.tx.Serialize(&buf); err != nil {
			return nil, err
		}
		if err := buf.WriteByte(byte(row.state)); err != nil {
			return nil, err
		}

		var field uint64
		switch row.state {
		case StateConfirmed:
			field = uint64(row.blockHeight)
		case StateUnconfirmed:
			field = uint64(row.timestamp.Unix())
		case StateUnsent:
			field = 0
		}
		if err := binary.Write(&buf, binary.LittleEndian, field); err != nil {
			return nil, err
		}

		needCheck := byte(0)
		if row.needCheck {
			needCheck = 1
		}
		if err := buf.WriteByte(needCheck); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Load reconstitutes the database from a blob written by Serialize. It is
// atomic: on any parse error the existing table is left unchanged, and
// Load returns the parse error wrapped as an ErrMalformedBlob Error. A
// blob carrying the legacy magic parses successfully but contributes no
// rows, leaving the existing table unchanged as well.
func (db *DB) Load(data []byte) error {
	rows, lastHeight, err := decodeBlob(data)
	if err != nil {
		log.Warnf("Rejecting malformed database blob (%d bytes): %v", len(data), err)
		return err
	}
	if rows == nil {
		// Legacy magic: recognized, nothing to import.
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.rows = rows
	db.lastHeight = lastHeight
	log.Infof("Loaded %d transaction(s) at height %d", len(rows), lastHeight)
	return nil
}

func decodeBlob(data []byte) (map[chainhash.Hash]*txRow, int32, error) {
	r := bytes.NewReader(data)

	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, 0, storeError(ErrMalformedBlob, "failed to read blob magic", err)
	}
	if magic == oldSerialMagic {
		return nil, 0, nil
	}
	if magic != serialMagic {
		return nil, 0, storeError(ErrMalformedBlob,
			fmt.Sprintf("unrecognized blob magic %#x", magic), nil)
	}

	var height uint64
	if err := binary.Read(r, binary.LittleEndian, &height); err != nil {
		return nil, 0, storeError(ErrMalformedBlob, "failed to read tip height", err)
	}

	rows := make(map[chainhash.Hash]*txRow)
	now := time.Now()
	for r.Len() > 0 {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, 0, storeError(ErrMalformedBlob, "failed to read record tag", err)
		}
		if tag != serialTxTag {
			return nil, 0, storeError(ErrMalformedBlob,
				fmt.Sprintf("unrecognized record tag %#x", tag), nil)
		}

		var hash chainhash.Hash
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return nil, 0, storeError(ErrMalformedBlob, "failed to read transaction hash", err)
		}

		tx := wire.NewMsgTx(wire.TxVersion)
		if err := tx.Deserialize(r); err != nil {
			return nil, 0, storeError(ErrMalformedBlob,
				fmt.Sprintf("failed to deserialize transaction %v", hash), err)
		}
		if tx.TxHash() != hash {
			return nil, 0, storeError(ErrMalformedBlob,
				fmt.Sprintf("transaction hash mismatch: record says %v, body hashes to %v",
					hash, tx.TxHash()), nil)
		}

		stateByte, err := r.ReadByte()
		if err != nil {
			return nil, 0, storeError(ErrMalformedBlob,
				fmt.Sprintf("failed to read state for transaction %v", hash), err)
		}
		if stateByte > byte(StateConfirmed) {
			return nil, 0, storeError(ErrMalformedBlob,
				fmt.Sprintf("invalid state %d for transaction %v", stateByte, hash), nil)
		}
		state := TxState(stateByte)

		var field uint64
		if err := binary.Read(r, binary.LittleEndian, &field); err != nil {
			return nil, 0, storeError(ErrMalformedBlob,
				fmt.Sprintf("failed to read state field for transaction %v", hash), err)
		}

		needCheckByte, err := r.ReadByte()
		if err != nil {
			return nil, 0, storeError(ErrMalformedBlob,
				fmt.Sprintf("failed to read needCheck flag for transaction %v", hash), err)
		}

		row := &txRow{
			tx:        tx,
			state:     state,
			needCheck: needCheckByte != 0,
			timestamp: now,
		}
		switch state {
		case StateConfirmed:
			row.blockHeight = int32(field)
		case StateUnconfirmed:
			row.timestamp = time.Unix(int64(field), 0)
		}
		rows[hash] = row
	}

	return rows, int32(height), nil
}
