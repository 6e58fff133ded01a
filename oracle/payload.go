package oracle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/holiman/uint256"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/merkle"
)

// IndexTransferPrefix tags bridge payloads that carry an index update.
var IndexTransferPrefix = []byte("M0IT")

const (
	prefixLen     = 4
	indexLen      = 16
	rootLen       = 32
	timestampLen  = 8
	minPayloadLen = prefixLen + indexLen
	maxPayloadLen = minPayloadLen + 2*rootLen + timestampLen
)

var ErrInvalidPayload = errors.New("oracle: invalid index transfer payload")

// DecodeIndexTransfer parses
//
//	"M0IT" | index u128 BE | [earner root] | [manager root] | [roots timestamp u64 BE]
//
// Roots absent from the payload are left zero, which the ledger ignores. The
// timestamp only follows both roots and is the hub time they were read at.
func DecodeIndexTransfer(payload []byte) (earn.IndexUpdate, error) {
	switch len(payload) {
	case minPayloadLen, minPayloadLen + rootLen, minPayloadLen + 2*rootLen, maxPayloadLen:
	default:
		return earn.IndexUpdate{}, fmt.Errorf("%w: length %d", ErrInvalidPayload, len(payload))
	}
	if !bytes.Equal(payload[:prefixLen], IndexTransferPrefix) {
		return earn.IndexUpdate{}, fmt.Errorf("%w: prefix %x", ErrInvalidPayload, payload[:prefixLen])
	}

	dec := bin.NewBinDecoder(payload[prefixLen:])
	raw, err := dec.ReadUint128(binary.BigEndian)
	if err != nil {
		return earn.IndexUpdate{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	index := new(uint256.Int)
	index[0], index[1] = raw.Lo, raw.Hi

	update := earn.IndexUpdate{Index: index}
	for _, root := range []*merkle.Hash{&update.EarnerRoot, &update.ManagerRoot} {
		if !dec.HasRemaining() {
			break
		}
		b, err := dec.ReadNBytes(rootLen)
		if err != nil {
			return earn.IndexUpdate{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		copy(root[:], b)
	}
	if dec.HasRemaining() {
		ts, err := dec.ReadUint64(binary.BigEndian)
		if err != nil {
			return earn.IndexUpdate{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if ts == 0 {
			return earn.IndexUpdate{}, fmt.Errorf("%w: zero roots timestamp", ErrInvalidPayload)
		}
		update.RootsTimestamp = ts
	}
	return update, nil
}

// EncodeIndexTransfer is the inverse of DecodeIndexTransfer. Zero roots are
// omitted from the tail unless a roots timestamp is set.
func EncodeIndexTransfer(update earn.IndexUpdate) ([]byte, error) {
	if update.Index == nil || update.Index.BitLen() > 128 {
		return nil, fmt.Errorf("%w: index out of range", ErrInvalidPayload)
	}
	out := make([]byte, 0, maxPayloadLen)
	out = append(out, IndexTransferPrefix...)
	out = binary.BigEndian.AppendUint64(out, update.Index[1])
	out = binary.BigEndian.AppendUint64(out, update.Index[0])

	switch {
	case update.RootsTimestamp != 0:
		out = append(out, update.EarnerRoot[:]...)
		out = append(out, update.ManagerRoot[:]...)
		out = binary.BigEndian.AppendUint64(out, update.RootsTimestamp)
	case update.ManagerRoot != merkle.Hash{}:
		out = append(out, update.EarnerRoot[:]...)
		out = append(out, update.ManagerRoot[:]...)
	case update.EarnerRoot != merkle.Hash{}:
		out = append(out, update.EarnerRoot[:]...)
	}
	return out, nil
}
