package merkle

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ReadList parses one 32 byte value per line, either as a base58 address or
// as 0x-prefixed hex. Blank lines and lines starting with # are skipped.
func ReadList(r io.Reader) ([][32]byte, error) {
	var out [][32]byte
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		v, err := ParseValue(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadList reads a list file, see ReadList.
func LoadList(path string) ([][32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadList(f)
}

// ParseValue accepts a base58 address or a 0x-prefixed 32 byte hex string.
func ParseValue(s string) ([32]byte, error) {
	var v [32]byte
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		b, err := hex.DecodeString(rest)
		if err != nil {
			return v, fmt.Errorf("invalid hex value %q: %w", s, err)
		}
		if len(b) != len(v) {
			return v, fmt.Errorf("invalid hex value %q: %d bytes", s, len(b))
		}
		copy(v[:], b)
		return v, nil
	}
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return v, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return key, nil
}
