package merkle

import "bytes"

// MaxDepth bounds proof length so the reconstructed leaf index fits in a uint64.
const MaxDepth = 63

// ProofElement is one sibling on the path from a leaf to the root.
// OnRight reports whether the sibling sits to the right of the running hash.
type ProofElement struct {
	Node    Hash `json:"node"`
	OnRight bool `json:"on_right"`
}

// NonInclusionProof brackets an absent value with one or two leaves of the tree.
type NonInclusionProof struct {
	Proofs    [][]ProofElement `json:"proofs"`
	Neighbors [][32]byte       `json:"neighbors"`
}

// VerifyInclusion folds proof from the leaf of value up to root. On success it
// returns the leaf position, where every left sibling at depth i adds 2^i.
func VerifyInclusion(root Hash, value [32]byte, proof []ProofElement) (uint64, bool) {
	if len(proof) > MaxDepth {
		return 0, false
	}

	computed := HashLeaf(value)
	var index uint64
	for i, el := range proof {
		if el.OnRight {
			computed = HashNode(computed, el.Node)
		} else {
			computed = HashNode(el.Node, computed)
			index += uint64(1) << uint(i)
		}
	}

	if computed != root {
		return 0, false
	}
	return index, true
}

// VerifyNonInclusion proves value is not a leaf of root.
//
// With one neighbor, value must sort before a neighbor proven at index 0, or after a
// neighbor proven at index 2^len(proof)-1. With two neighbors, value must sit strictly
// between them and their proven indices must be adjacent.
func VerifyNonInclusion(root Hash, value [32]byte, proofs [][]ProofElement, neighbors [][32]byte) bool {
	if len(proofs) != len(neighbors) {
		return false
	}

	switch len(proofs) {
	case 1:
		neighbor, proof := neighbors[0], proofs[0]
		switch bytes.Compare(value[:], neighbor[:]) {
		case -1:
			index, ok := VerifyInclusion(root, neighbor, proof)
			return ok && index == 0
		case 1:
			if len(proof) > MaxDepth {
				return false
			}
			expected := uint64(1)<<uint(len(proof)) - 1
			index, ok := VerifyInclusion(root, neighbor, proof)
			return ok && index == expected
		default:
			return false
		}

	case 2:
		left, right := neighbors[0], neighbors[1]
		if bytes.Compare(left[:], right[:]) >= 0 ||
			bytes.Compare(value[:], left[:]) <= 0 ||
			bytes.Compare(value[:], right[:]) >= 0 {
			return false
		}
		leftIndex, ok := VerifyInclusion(root, left, proofs[0])
		if !ok {
			return false
		}
		rightIndex, ok := VerifyInclusion(root, right, proofs[1])
		if !ok {
			return false
		}
		return leftIndex+1 == rightIndex

	default:
		return false
	}
}

// Verify is shorthand for VerifyNonInclusion over the bundle.
func (p NonInclusionProof) Verify(root Hash, value [32]byte) bool {
	return VerifyNonInclusion(root, value, p.Proofs, p.Neighbors)
}
