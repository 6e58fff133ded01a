package solprogram

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/merkle"
)

// getAnchorDiscriminator - Generate Anchor instruction discriminator
// Anchor uses: sha256("global:<method_name>")[:8]
func getAnchorDiscriminator(methodName string) []byte {
	hash := sha256.Sum256([]byte("global:" + methodName))
	return hash[:8]
}

// Anchor instruction discriminators
var (
	DiscriminatorClaimFor              = getAnchorDiscriminator("claim_for")
	DiscriminatorCompleteClaims        = getAnchorDiscriminator("complete_claims")
	DiscriminatorAddRegistrarEarner    = getAnchorDiscriminator("add_registrar_earner")
	DiscriminatorRemoveRegistrarEarner = getAnchorDiscriminator("remove_registrar_earner")
	DiscriminatorRemoveOrphanedEarner  = getAnchorDiscriminator("remove_orphaned_earner")
	DiscriminatorSetClaimCooldown      = getAnchorDiscriminator("set_claim_cooldown")
)

// instructionData writes the discriminator followed by the borsh encoded arguments.
func instructionData(discriminator []byte, args func(enc *bin.Encoder) error) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(discriminator)
	if args != nil {
		if err := args(bin.NewBorshEncoder(buf)); err != nil {
			return nil, fmt.Errorf("failed to encode instruction args: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func writeProof(enc *bin.Encoder, proof []merkle.ProofElement) error {
	if err := enc.WriteLength(len(proof)); err != nil {
		return err
	}
	for _, el := range proof {
		if err := enc.WriteBytes(el.Node[:], false); err != nil {
			return err
		}
		if err := enc.WriteBool(el.OnRight); err != nil {
			return err
		}
	}
	return nil
}

// optional marks an absent optional account the way Anchor expects, by
// passing the program ID in its slot.
func (c *Client) optional(key solana.PublicKey, present bool) *solana.AccountMeta {
	if !present {
		return solana.Meta(c.ProgramID)
	}
	return solana.Meta(key)
}

// BuildClaimForInstruction - Build claim_for instruction
func (c *Client) BuildClaimForInstruction(
	authority solana.PublicKey,
	mint solana.PublicKey,
	earner *earn.Earner,
	manager *earn.EarnManager,
	snapshotBalance uint64,
) (solana.Instruction, error) {
	globalPDA, _, err := c.DeriveGlobalPDA()
	if err != nil {
		return nil, err
	}
	earnerPDA, _, err := c.DeriveEarnerPDA(earner.UserTokenAccount)
	if err != nil {
		return nil, err
	}

	data, err := instructionData(DiscriminatorClaimFor, func(enc *bin.Encoder) error {
		return enc.WriteUint64(snapshotBalance, bin.LE)
	})
	if err != nil {
		return nil, err
	}

	var managerPDA, feeTokenAccount solana.PublicKey
	if manager != nil {
		managerPDA, _, err = c.DeriveEarnManagerPDA(manager.Manager)
		if err != nil {
			return nil, err
		}
		feeTokenAccount = manager.FeeTokenAccount
	}

	feeMeta := c.optional(feeTokenAccount, manager != nil)
	if manager != nil {
		feeMeta.WRITE()
	}

	accounts := []*solana.AccountMeta{
		solana.Meta(authority).SIGNER(),
		solana.Meta(globalPDA).WRITE(),
		solana.Meta(mint).WRITE(),
		solana.Meta(earner.UserTokenAccount),
		solana.Meta(earnerPDA).WRITE(),
		solana.Meta(earner.Payee()).WRITE(),
		c.optional(managerPDA, manager != nil),
		feeMeta,
		solana.Meta(c.TokenProgram),
	}

	return solana.NewInstruction(c.ProgramID, accounts, data), nil
}

// BuildCompleteClaimsInstruction - Build complete_claims instruction
func (c *Client) BuildCompleteClaimsInstruction(authority solana.PublicKey) (solana.Instruction, error) {
	globalPDA, _, err := c.DeriveGlobalPDA()
	if err != nil {
		return nil, err
	}

	accounts := []*solana.AccountMeta{
		solana.Meta(authority).SIGNER(),
		solana.Meta(globalPDA).WRITE(),
	}
	return solana.NewInstruction(c.ProgramID, accounts, DiscriminatorCompleteClaims), nil
}

// BuildAddRegistrarEarnerInstruction - Build add_registrar_earner instruction
func (c *Client) BuildAddRegistrarEarnerInstruction(
	signer solana.PublicKey,
	user solana.PublicKey,
	userTokenAccount solana.PublicKey,
	proof []merkle.ProofElement,
) (solana.Instruction, error) {
	globalPDA, _, err := c.DeriveGlobalPDA()
	if err != nil {
		return nil, err
	}
	earnerPDA, _, err := c.DeriveEarnerPDA(userTokenAccount)
	if err != nil {
		return nil, err
	}

	data, err := instructionData(DiscriminatorAddRegistrarEarner, func(enc *bin.Encoder) error {
		if err := enc.WriteBytes(user.Bytes(), false); err != nil {
			return err
		}
		return writeProof(enc, proof)
	})
	if err != nil {
		return nil, err
	}

	accounts := []*solana.AccountMeta{
		solana.Meta(signer).SIGNER().WRITE(),
		solana.Meta(globalPDA),
		solana.Meta(userTokenAccount),
		solana.Meta(earnerPDA).WRITE(),
		solana.Meta(SystemProgramID),
	}
	return solana.NewInstruction(c.ProgramID, accounts, data), nil
}

// BuildRemoveRegistrarEarnerInstruction - Build remove_registrar_earner instruction.
// The closed account's rent goes to signer.
func (c *Client) BuildRemoveRegistrarEarnerInstruction(
	signer solana.PublicKey,
	userTokenAccount solana.PublicKey,
	absence merkle.NonInclusionProof,
) (solana.Instruction, error) {
	globalPDA, _, err := c.DeriveGlobalPDA()
	if err != nil {
		return nil, err
	}
	earnerPDA, _, err := c.DeriveEarnerPDA(userTokenAccount)
	if err != nil {
		return nil, err
	}

	data, err := instructionData(DiscriminatorRemoveRegistrarEarner, func(enc *bin.Encoder) error {
		if err := enc.WriteLength(len(absence.Proofs)); err != nil {
			return err
		}
		for _, proof := range absence.Proofs {
			if err := writeProof(enc, proof); err != nil {
				return err
			}
		}
		if err := enc.WriteLength(len(absence.Neighbors)); err != nil {
			return err
		}
		for _, n := range absence.Neighbors {
			if err := enc.WriteBytes(n[:], false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	accounts := []*solana.AccountMeta{
		solana.Meta(signer).SIGNER().WRITE(),
		solana.Meta(globalPDA),
		solana.Meta(earnerPDA).WRITE(),
	}
	return solana.NewInstruction(c.ProgramID, accounts, data), nil
}

// BuildRemoveOrphanedEarnerInstruction - Build remove_orphaned_earner instruction
func (c *Client) BuildRemoveOrphanedEarnerInstruction(
	signer solana.PublicKey,
	userTokenAccount solana.PublicKey,
	manager solana.PublicKey,
) (solana.Instruction, error) {
	earnerPDA, _, err := c.DeriveEarnerPDA(userTokenAccount)
	if err != nil {
		return nil, err
	}
	managerPDA, _, err := c.DeriveEarnManagerPDA(manager)
	if err != nil {
		return nil, err
	}

	accounts := []*solana.AccountMeta{
		solana.Meta(signer).SIGNER().WRITE(),
		solana.Meta(earnerPDA).WRITE(),
		solana.Meta(managerPDA),
	}
	return solana.NewInstruction(c.ProgramID, accounts, DiscriminatorRemoveOrphanedEarner), nil
}

// BuildSetClaimCooldownInstruction - Build set_claim_cooldown instruction
func (c *Client) BuildSetClaimCooldownInstruction(admin solana.PublicKey, seconds uint64) (solana.Instruction, error) {
	if seconds > earn.MaxClaimCooldown {
		return nil, earn.ErrInvalidParam
	}
	globalPDA, _, err := c.DeriveGlobalPDA()
	if err != nil {
		return nil, err
	}

	data, err := instructionData(DiscriminatorSetClaimCooldown, func(enc *bin.Encoder) error {
		return enc.WriteUint64(seconds, bin.LE)
	})
	if err != nil {
		return nil, err
	}

	accounts := []*solana.AccountMeta{
		solana.Meta(admin).SIGNER(),
		solana.Meta(globalPDA).WRITE(),
	}
	return solana.NewInstruction(c.ProgramID, accounts, data), nil
}
