package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakepool/crypto"
)

// Addresses holds the parsed account identifiers of a pool.
type Addresses struct {
	Owner  common.Address
	Engine common.Address
}

// ParsedAddresses decodes the owner and escrow addresses.
func (c *Config) ParsedAddresses() (Addresses, error) {
	var out Addresses
	owner, err := crypto.ParseAddress(c.Owner)
	if err != nil {
		return out, fmt.Errorf("Owner: %w", err)
	}
	engine, err := crypto.ParseAddress(c.EngineAddress)
	if err != nil {
		return out, fmt.Errorf("EngineAddress: %w", err)
	}
	out.Owner, out.Engine = owner, engine
	return out, nil
}

// Validate checks addresses and backend-specific requirements.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("Owner must be set to the pool administrator address")
	}
	addrs, err := c.ParsedAddresses()
	if err != nil {
		return err
	}
	if addrs.Owner == addrs.Engine {
		return fmt.Errorf("Owner must differ from EngineAddress")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("HistoryLimit must not be negative")
	}
	switch c.Tokens.Backend {
	case BackendMemory:
		for i, mint := range c.Genesis {
			if mint.Token != MintStake && mint.Token != MintReward {
				return fmt.Errorf("Genesis[%d]: Token must be %q or %q", i, MintStake, MintReward)
			}
			if _, err := crypto.ParseAddress(mint.Account); err != nil {
				return fmt.Errorf("Genesis[%d]: %w", i, err)
			}
			if _, err := uint256.FromDecimal(mint.Amount); err != nil {
				return fmt.Errorf("Genesis[%d]: invalid Amount %q", i, mint.Amount)
			}
		}
	case BackendEVM:
		if strings.TrimSpace(c.Tokens.RPCURL) == "" {
			return fmt.Errorf("Tokens.RPCURL required for the evm backend")
		}
		if c.Tokens.ChainID == 0 {
			return fmt.Errorf("Tokens.ChainID required for the evm backend")
		}
		if _, err := crypto.ParseAddress(c.Tokens.StakeTokenAddress); err != nil {
			return fmt.Errorf("Tokens.StakeTokenAddress: %w", err)
		}
		if _, err := crypto.ParseAddress(c.Tokens.RewardTokenAddress); err != nil {
			return fmt.Errorf("Tokens.RewardTokenAddress: %w", err)
		}
		if strings.TrimSpace(c.Tokens.KeystorePath) == "" {
			return fmt.Errorf("Tokens.KeystorePath required for the evm backend")
		}
		if len(c.Genesis) > 0 {
			return fmt.Errorf("Genesis mints are only supported by the memory backend")
		}
	default:
		return fmt.Errorf("unknown Tokens.Backend %q", c.Tokens.Backend)
	}
	return nil
}
