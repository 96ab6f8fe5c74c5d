package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Genesis is the YAML seed profile applied at boot: membership token mints,
// marketplace listings, and the treasury's opening state. It overrides the
// corresponding environment defaults when set.
type Genesis struct {
	Owner          string    `yaml:"owner" json:"owner"`
	Currency       string    `yaml:"currency" json:"currency"`
	InitialBalance int64     `yaml:"initial_balance" json:"initial_balance"`
	VotingPeriod   string    `yaml:"voting_period,omitempty" json:"voting_period,omitempty"`
	Members        []Member  `yaml:"members" json:"members"`
	Listings       []Listing `yaml:"listings,omitempty" json:"listings,omitempty"`
	BasePrice      int64     `yaml:"base_price,omitempty" json:"base_price,omitempty"`
}

// Member maps one address to the membership tokens it holds.
type Member struct {
	Address string   `yaml:"address" json:"address"`
	Tokens  []uint64 `yaml:"tokens" json:"tokens"`
}

// Listing overrides the marketplace quote for one asset.
type Listing struct {
	AssetID uint64 `yaml:"asset_id" json:"asset_id"`
	Price   int64  `yaml:"price" json:"price"`
}

// LoadGenesis reads and validates a genesis profile.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load genesis %q: %w", path, err)
	}

	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse genesis %q: %w", path, err)
	}
	if err := g.validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis %q: %w", path, err)
	}
	return &g, nil
}

func (g *Genesis) validate() error {
	if g.InitialBalance < 0 {
		return fmt.Errorf("initial_balance must be >= 0, got %d", g.InitialBalance)
	}
	seen := make(map[uint64]string)
	for _, m := range g.Members {
		if m.Address == "" {
			return fmt.Errorf("member with empty address")
		}
		for _, tok := range m.Tokens {
			if holder, dup := seen[tok]; dup {
				return fmt.Errorf("token %d assigned to both %s and %s", tok, holder, m.Address)
			}
			seen[tok] = m.Address
		}
	}
	for _, l := range g.Listings {
		if l.Price < 0 {
			return fmt.Errorf("listing %d has negative price %d", l.AssetID, l.Price)
		}
	}
	return nil
}
