package merkle

import (
	"bytes"
	"errors"
	"sort"
)

var (
	ErrEmptyTree     = errors.New("merkle: empty leaf set")
	ErrZeroLeaf      = errors.New("merkle: zero-valued leaf")
	ErrDuplicateLeaf = errors.New("merkle: duplicate leaf")
	ErrLeafNotFound  = errors.New("merkle: value is not a leaf")
	ErrLeafPresent   = errors.New("merkle: value is a leaf")
	ErrTreeTooDeep   = errors.New("merkle: tree exceeds maximum depth")
)

var zeroValue [32]byte

// Tree is the off-chain producer side. Leaves are sorted by raw value and odd
// levels are padded by duplicating their last node.
type Tree struct {
	values [][32]byte
	levels [][]Hash
}

// NewTree builds a tree over values. The input slice is not modified.
func NewTree(values [][32]byte) (*Tree, error) {
	if len(values) == 0 {
		return nil, ErrEmptyTree
	}

	sorted := make([][32]byte, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	for i, v := range sorted {
		if v == zeroValue {
			return nil, ErrZeroLeaf
		}
		if i > 0 && v == sorted[i-1] {
			return nil, ErrDuplicateLeaf
		}
	}

	level := make([]Hash, len(sorted))
	for i, v := range sorted {
		level[i] = HashLeaf(v)
	}

	t := &Tree{values: sorted}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		t.levels = append(t.levels, level)

		next := make([]Hash, len(level)/2)
		for i := range next {
			next[i] = HashNode(level[2*i], level[2*i+1])
		}
		level = next
	}
	t.levels = append(t.levels, level)

	if t.Depth() > MaxDepth {
		return nil, ErrTreeTooDeep
	}
	return t, nil
}

func (t *Tree) Root() Hash {
	return t.levels[len(t.levels)-1][0]
}

// Depth is the proof length for every leaf.
func (t *Tree) Depth() int {
	return len(t.levels) - 1
}

func (t *Tree) Len() int {
	return len(t.values)
}

// Values returns the sorted leaf values.
func (t *Tree) Values() [][32]byte {
	out := make([][32]byte, len(t.values))
	copy(out, t.values)
	return out
}

func (t *Tree) Contains(value [32]byte) bool {
	_, ok := t.position(value)
	return ok
}

// Prove returns the inclusion proof of value.
func (t *Tree) Prove(value [32]byte) ([]ProofElement, error) {
	pos, ok := t.position(value)
	if !ok {
		return nil, ErrLeafNotFound
	}
	return t.proveAt(pos), nil
}

// ProveAbsence returns the neighbors bracketing value with their proofs.
func (t *Tree) ProveAbsence(value [32]byte) (NonInclusionProof, error) {
	pos, found := t.position(value)
	if found {
		return NonInclusionProof{}, ErrLeafPresent
	}

	switch {
	case pos == 0:
		first := t.values[0]
		return NonInclusionProof{
			Proofs:    [][]ProofElement{t.proveAt(0)},
			Neighbors: [][32]byte{first},
		}, nil
	case pos == len(t.values):
		last := t.values[len(t.values)-1]
		return NonInclusionProof{
			Proofs:    [][]ProofElement{t.proveRightmost()},
			Neighbors: [][32]byte{last},
		}, nil
	default:
		return NonInclusionProof{
			Proofs:    [][]ProofElement{t.proveAt(pos - 1), t.proveAt(pos)},
			Neighbors: [][32]byte{t.values[pos-1], t.values[pos]},
		}, nil
	}
}

// position is the sort position of value and whether it is a leaf.
func (t *Tree) position(value [32]byte) (int, bool) {
	pos := sort.Search(len(t.values), func(i int) bool {
		return bytes.Compare(t.values[i][:], value[:]) >= 0
	})
	return pos, pos < len(t.values) && t.values[pos] == value
}

func (t *Tree) proveAt(pos int) []ProofElement {
	proof := make([]ProofElement, 0, t.Depth())
	for _, level := range t.levels[:t.Depth()] {
		if pos%2 == 0 {
			proof = append(proof, ProofElement{Node: level[pos+1], OnRight: true})
		} else {
			proof = append(proof, ProofElement{Node: level[pos-1], OnRight: false})
		}
		pos /= 2
	}
	return proof
}

// proveRightmost proves the last leaf from the rightmost padded position, so the
// verifier reconstructs index 2^depth-1 regardless of padding.
func (t *Tree) proveRightmost() []ProofElement {
	proof := make([]ProofElement, 0, t.Depth())
	for _, level := range t.levels[:t.Depth()] {
		proof = append(proof, ProofElement{Node: level[len(level)-2], OnRight: false})
	}
	return proof
}
