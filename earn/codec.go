package earn

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
)

// Encoded record sizes, discriminator included.
const (
	GlobalSize      = 8 + 4*32 + 16 + 5*8 + 1 + 2*32 + 8
	EarnerSize      = 8 + 2*32 + 2*33 + 16 + 8 + 1
	EarnManagerSize = 8 + 32 + 1 + 2 + 32
)

// AccountDiscriminator is the 8-byte record tag: sha256("account:<name>")[:8].
func AccountDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("account:" + name))
	var disc [8]byte
	copy(disc[:], hash[:8])
	return disc
}

var (
	globalDisc      = AccountDiscriminator(GlobalAccountName)
	earnerDisc      = AccountDiscriminator(EarnerAccountName)
	earnManagerDisc = AccountDiscriminator(EarnManagerAccountName)
)

func (g Global) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(globalDisc[:], false); err != nil {
		return err
	}
	for _, key := range []solana.PublicKey{g.Admin, g.EarnAuthority, g.Portal, g.Mint} {
		if err := enc.WriteBytes(key[:], false); err != nil {
			return err
		}
	}
	if err := writeIndex(enc, &g.Index); err != nil {
		return err
	}
	for _, v := range []uint64{g.Timestamp, g.ClaimCooldown, g.MaxSupply, g.MaxYield, g.Distributed} {
		if err := enc.WriteUint64(v, binary.LittleEndian); err != nil {
			return err
		}
	}
	if err := enc.WriteBool(g.ClaimComplete); err != nil {
		return err
	}
	if err := enc.WriteBytes(g.EarnerRoot[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(g.ManagerRoot[:], false); err != nil {
		return err
	}
	return enc.WriteUint64(g.RootsUpdatedAt, binary.LittleEndian)
}

func (g *Global) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if err = readDiscriminator(dec, globalDisc, GlobalAccountName); err != nil {
		return err
	}
	for _, key := range []*solana.PublicKey{&g.Admin, &g.EarnAuthority, &g.Portal, &g.Mint} {
		if *key, err = readKey(dec); err != nil {
			return err
		}
	}
	if g.Index, err = readIndex(dec); err != nil {
		return err
	}
	for _, v := range []*uint64{&g.Timestamp, &g.ClaimCooldown, &g.MaxSupply, &g.MaxYield, &g.Distributed} {
		if *v, err = dec.ReadUint64(binary.LittleEndian); err != nil {
			return err
		}
	}
	if g.ClaimComplete, err = dec.ReadBool(); err != nil {
		return err
	}
	if g.EarnerRoot, err = readKey(dec); err != nil {
		return err
	}
	if g.ManagerRoot, err = readKey(dec); err != nil {
		return err
	}
	g.RootsUpdatedAt, err = dec.ReadUint64(binary.LittleEndian)
	return err
}

func (e Earner) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(earnerDisc[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(e.User[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(e.UserTokenAccount[:], false); err != nil {
		return err
	}

	var recipient *solana.PublicKey
	switch r := e.Recipient.(type) {
	case OverrideRecipient:
		recipient = &r.Account
	case DefaultRecipient, nil:
	default:
		return fmt.Errorf("earn: unknown payout route %T", r)
	}
	if err := writeOptionalKey(enc, recipient); err != nil {
		return err
	}

	var manager *solana.PublicKey
	switch s := e.Sponsor.(type) {
	case Managed:
		manager = &s.Manager
	case Registrar, nil:
	default:
		return fmt.Errorf("earn: unknown sponsor %T", s)
	}
	if err := writeOptionalKey(enc, manager); err != nil {
		return err
	}

	if err := writeIndex(enc, &e.LastClaimIndex); err != nil {
		return err
	}
	if err := enc.WriteUint64(e.LastClaimTimestamp, binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBool(e.IsEarning)
}

func (e *Earner) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if err = readDiscriminator(dec, earnerDisc, EarnerAccountName); err != nil {
		return err
	}
	if e.User, err = readKey(dec); err != nil {
		return err
	}
	if e.UserTokenAccount, err = readKey(dec); err != nil {
		return err
	}

	recipient, err := readOptionalKey(dec)
	if err != nil {
		return err
	}
	e.Recipient = DefaultRecipient{}
	if recipient != nil {
		e.Recipient = OverrideRecipient{Account: *recipient}
	}

	manager, err := readOptionalKey(dec)
	if err != nil {
		return err
	}
	e.Sponsor = Registrar{}
	if manager != nil {
		e.Sponsor = Managed{Manager: *manager}
	}

	if e.LastClaimIndex, err = readIndex(dec); err != nil {
		return err
	}
	if e.LastClaimTimestamp, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	e.IsEarning, err = dec.ReadBool()
	return err
}

func (m EarnManager) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(earnManagerDisc[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(m.Manager[:], false); err != nil {
		return err
	}
	if err := enc.WriteBool(m.IsActive); err != nil {
		return err
	}
	if err := enc.WriteUint16(m.FeeBps, binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBytes(m.FeeTokenAccount[:], false)
}

func (m *EarnManager) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if err = readDiscriminator(dec, earnManagerDisc, EarnManagerAccountName); err != nil {
		return err
	}
	if m.Manager, err = readKey(dec); err != nil {
		return err
	}
	if m.IsActive, err = dec.ReadBool(); err != nil {
		return err
	}
	if m.FeeBps, err = dec.ReadUint16(binary.LittleEndian); err != nil {
		return err
	}
	m.FeeTokenAccount, err = readKey(dec)
	return err
}

// EncodeGlobal, EncodeEarner and EncodeEarnManager produce the persisted layout.
func EncodeGlobal(g *Global) ([]byte, error) { return encode(g) }

func EncodeEarner(e *Earner) ([]byte, error) { return encode(e) }

func EncodeEarnManager(m *EarnManager) ([]byte, error) { return encode(m) }

func DecodeGlobal(data []byte) (*Global, error) {
	g := new(Global)
	if err := decode(data, g); err != nil {
		return nil, err
	}
	return g, nil
}

func DecodeEarner(data []byte) (*Earner, error) {
	e := new(Earner)
	if err := decode(data, e); err != nil {
		return nil, err
	}
	return e, nil
}

func DecodeEarnManager(data []byte) (*EarnManager, error) {
	m := new(EarnManager)
	if err := decode(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

func encode(v bin.BinaryMarshaler) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := v.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode accepts trailing bytes: on-chain accounts may be allocated larger than the layout.
func decode(data []byte, v bin.BinaryUnmarshaler) error {
	return v.UnmarshalWithDecoder(bin.NewBorshDecoder(data))
}

func readDiscriminator(dec *bin.Decoder, want [8]byte, name string) error {
	got, err := dec.ReadNBytes(8)
	if err != nil {
		return fmt.Errorf("earn: read %s discriminator: %w", name, err)
	}
	if !bytes.Equal(got, want[:]) {
		return fmt.Errorf("earn: not a %s record", name)
	}
	return nil
}

func readKey(dec *bin.Decoder) ([32]byte, error) {
	var out [32]byte
	b, err := dec.ReadNBytes(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// Optional keys are a presence byte plus 32 bytes, zeroed when absent.
func writeOptionalKey(enc *bin.Encoder, key *solana.PublicKey) error {
	var body solana.PublicKey
	if key != nil {
		body = *key
	}
	if err := enc.WriteBool(key != nil); err != nil {
		return err
	}
	return enc.WriteBytes(body[:], false)
}

func readOptionalKey(dec *bin.Decoder) (*solana.PublicKey, error) {
	present, err := dec.ReadBool()
	if err != nil {
		return nil, err
	}
	body, err := readKey(dec)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	key := solana.PublicKey(body)
	return &key, nil
}

func writeIndex(enc *bin.Encoder, v *uint256.Int) error {
	if !fitsU128(v) {
		return ErrMathOverflow
	}
	return enc.WriteUint128(bin.Uint128{Lo: v[0], Hi: v[1]}, binary.LittleEndian)
}

func readIndex(dec *bin.Decoder) (uint256.Int, error) {
	u, err := dec.ReadUint128(binary.LittleEndian)
	if err != nil {
		return uint256.Int{}, err
	}
	return uint256.Int{u.Lo, u.Hi, 0, 0}, nil
}
