package consensus

import (
	"os"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

// GenesisParams are the protocol parameters fixed by the genesis
// file. They override the corresponding Config fields.
type GenesisParams struct {
	SlotDurationMs uint64
	SlotsPerEpoch  uint64
	StabilitySlots uint64
	LeadersPerSlot uint64
	Strength       uint64
	FinalityDepth  uint64
}

// Genesis is the genesis of the chain.
type Genesis struct {
	// Time is the start of slot 0 in unix milliseconds.
	Time uint64
	// Seed is the randomness every epoch nonce is derived from.
	Seed Hash
	// State is the encoded genesis ledger snapshot.
	State  []byte
	Params GenesisParams
}

// NewGenesisParams returns the parameters of the configuration.
func NewGenesisParams(cfg Config) GenesisParams {
	return GenesisParams{
		SlotDurationMs: uint64(cfg.SlotDuration / time.Millisecond),
		SlotsPerEpoch:  cfg.SlotsPerEpoch,
		StabilitySlots: cfg.StabilitySlots,
		LeadersPerSlot: uint64(cfg.LeadersPerSlot),
		Strength:       uint64(cfg.Strength),
		FinalityDepth:  cfg.FinalityDepth,
	}
}

// Apply sets the protocol parameters of the configuration.
func (g *Genesis) Apply(cfg *Config) {
	p := g.Params
	cfg.SlotDuration = time.Duration(p.SlotDurationMs) * time.Millisecond
	cfg.SlotsPerEpoch = p.SlotsPerEpoch
	cfg.StabilitySlots = p.StabilitySlots
	cfg.LeadersPerSlot = int(p.LeadersPerSlot)
	cfg.Strength = StrengthPolicy(p.Strength)
	cfg.FinalityDepth = p.FinalityDepth
}

// StartTime returns the start of slot 0.
func (g *Genesis) StartTime() time.Time {
	return time.Unix(0, int64(g.Time)*int64(time.Millisecond))
}

// Block returns the genesis block. Its hash commits to every
// genesis field.
func (g *Genesis) Block() *Block {
	return &Block{
		Header: Header{
			ContentHash: SHA3(g.Encode()),
		},
	}
}

// Encode encodes the genesis.
func (g *Genesis) Encode() []byte {
	b, err := rlp.EncodeToBytes(g)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeGenesis decodes the genesis.
func DecodeGenesis(b []byte) (*Genesis, error) {
	var g Genesis
	err := rlp.DecodeBytes(b, &g)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadGenesis loads the genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return DecodeGenesis(b)
}

// SaveGenesis writes the genesis file.
func SaveGenesis(path string, g *Genesis) error {
	return os.WriteFile(path, g.Encode(), 0644)
}
