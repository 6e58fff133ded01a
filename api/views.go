package api

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/merkle"
)

type GlobalView struct {
	Admin          string  `json:"admin"`
	EarnAuthority  string  `json:"earn_authority"`
	Portal         string  `json:"portal"`
	Mint           string  `json:"mint"`
	Index          string  `json:"index"`
	IndexFloat     float64 `json:"index_float"`
	Timestamp      uint64  `json:"timestamp"`
	ClaimCooldown  uint64  `json:"claim_cooldown"`
	MaxSupply      uint64  `json:"max_supply"`
	MaxYield       uint64  `json:"max_yield"`
	Distributed    uint64  `json:"distributed"`
	ClaimComplete  bool    `json:"claim_complete"`
	EarnerRoot     string  `json:"earner_root"`
	ManagerRoot    string  `json:"manager_root"`
	RootsUpdatedAt uint64  `json:"roots_updated_at"`
}

func newGlobalView(g *earn.Global) GlobalView {
	return GlobalView{
		Admin:          g.Admin.String(),
		EarnAuthority:  g.EarnAuthority.String(),
		Portal:         g.Portal.String(),
		Mint:           g.Mint.String(),
		Index:          g.Index.Dec(),
		IndexFloat:     earn.IndexFloat(&g.Index),
		Timestamp:      g.Timestamp,
		ClaimCooldown:  g.ClaimCooldown,
		MaxSupply:      g.MaxSupply,
		MaxYield:       g.MaxYield,
		Distributed:    g.Distributed,
		ClaimComplete:  g.ClaimComplete,
		EarnerRoot:     g.EarnerRoot.String(),
		ManagerRoot:    g.ManagerRoot.String(),
		RootsUpdatedAt: g.RootsUpdatedAt,
	}
}

type EarnerView struct {
	User               string `json:"user"`
	UserTokenAccount   string `json:"user_token_account"`
	Recipient          string `json:"recipient"`
	Manager            string `json:"manager,omitempty"`
	LastClaimIndex     string `json:"last_claim_index"`
	LastClaimTimestamp uint64 `json:"last_claim_timestamp"`
	IsEarning          bool   `json:"is_earning"`
}

func newEarnerView(e *earn.Earner) EarnerView {
	v := EarnerView{
		User:               e.User.String(),
		UserTokenAccount:   e.UserTokenAccount.String(),
		Recipient:          e.Payee().String(),
		LastClaimIndex:     e.LastClaimIndex.Dec(),
		LastClaimTimestamp: e.LastClaimTimestamp,
		IsEarning:          e.IsEarning,
	}
	if m, ok := e.Manager(); ok {
		v.Manager = m.String()
	}
	return v
}

type EarnManagerView struct {
	Manager         string `json:"manager"`
	IsActive        bool   `json:"is_active"`
	FeeBps          uint16 `json:"fee_bps"`
	FeeTokenAccount string `json:"fee_token_account"`
}

func newEarnManagerView(m *earn.EarnManager) EarnManagerView {
	return EarnManagerView{
		Manager:         m.Manager.String(),
		IsActive:        m.IsActive,
		FeeBps:          m.FeeBps,
		FeeTokenAccount: m.FeeTokenAccount.String(),
	}
}

// ProofView answers a proof request. Exactly one of Proof and
// NonInclusion is set, depending on Included.
type ProofView struct {
	List         string                `json:"list"`
	Address      string                `json:"address"`
	Root         string                `json:"root"`
	Included     bool                  `json:"included"`
	Proof        []merkle.ProofElement `json:"proof,omitempty"`
	NonInclusion *NonInclusionView     `json:"non_inclusion,omitempty"`
}

// BuildProof proves membership of address in tree, or its absence.
func BuildProof(list string, tree *merkle.Tree, address solana.PublicKey) (ProofView, error) {
	view := ProofView{
		List:     list,
		Address:  address.String(),
		Root:     tree.Root().String(),
		Included: tree.Contains(address),
	}
	if view.Included {
		proof, err := tree.Prove(address)
		if err != nil {
			return ProofView{}, err
		}
		view.Proof = proof
		return view, nil
	}
	absence, err := tree.ProveAbsence(address)
	if err != nil {
		return ProofView{}, err
	}
	view.NonInclusion = newNonInclusionView(absence)
	return view, nil
}

// Decode converts the view back into a verifiable proof.
func (v *NonInclusionView) Decode() (merkle.NonInclusionProof, error) {
	proof := merkle.NonInclusionProof{Proofs: v.Proofs}
	for _, n := range v.Neighbors {
		key, err := solana.PublicKeyFromBase58(n)
		if err != nil {
			return merkle.NonInclusionProof{}, fmt.Errorf("invalid neighbor %q: %w", n, err)
		}
		proof.Neighbors = append(proof.Neighbors, key)
	}
	return proof, nil
}

type NonInclusionView struct {
	Proofs    [][]merkle.ProofElement `json:"proofs"`
	Neighbors []string                `json:"neighbors"`
}

func newNonInclusionView(p merkle.NonInclusionProof) *NonInclusionView {
	v := &NonInclusionView{Proofs: p.Proofs}
	for _, n := range p.Neighbors {
		v.Neighbors = append(v.Neighbors, solana.PublicKey(n).String())
	}
	return v
}

type PropagationView struct {
	Opened       bool       `json:"opened"`
	RootsUpdated bool       `json:"roots_updated"`
	Global       GlobalView `json:"global"`
}
