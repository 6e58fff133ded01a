package merkle

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Domain separation prefixes. Leaves and inner nodes never share a preimage space.
const (
	LeafPrefix byte = 0x00
	NodePrefix byte = 0x01
)

// Hash is a keccak-256 digest.
type Hash [32]byte

// HashLeaf returns keccak(0x00 || value).
func HashLeaf(value [32]byte) Hash {
	var h Hash
	copy(h[:], crypto.Keccak256([]byte{LeafPrefix}, value[:]))
	return h
}

// HashNode returns keccak(0x01 || left || right).
func HashNode(left, right Hash) Hash {
	var h Hash
	copy(h[:], crypto.Keccak256([]byte{NodePrefix}, left[:], right[:]))
	return h
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 32-byte hex string, with or without the 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("invalid hash length: %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}
