package config

const (
	// BackendMemory keeps token balances in process; used for local pools and tests.
	BackendMemory = "memory"
	// BackendEVM binds ERC-20 contracts over JSON-RPC.
	BackendEVM = "evm"

	// MintStake and MintReward select the ledger a genesis mint credits.
	MintStake  = "stake"
	MintReward = "reward"
)

// Tokens selects and configures the stake and reward token collaborators.
type Tokens struct {
	Backend            string `toml:"Backend"`
	StakeSymbol        string `toml:"StakeSymbol"`
	RewardSymbol       string `toml:"RewardSymbol"`
	RPCURL             string `toml:"RPCURL,omitempty"`
	ChainID            uint64 `toml:"ChainID,omitempty"`
	StakeTokenAddress  string `toml:"StakeTokenAddress,omitempty"`
	RewardTokenAddress string `toml:"RewardTokenAddress,omitempty"`
	KeystorePath       string `toml:"KeystorePath,omitempty"`
	PassphraseEnv      string `toml:"PassphraseEnv,omitempty"`
}

// SharedToken reports whether stake and reward resolve to the same asset.
func (t Tokens) SharedToken() bool {
	if t.Backend == BackendEVM {
		return t.StakeTokenAddress != "" && normalizeHex(t.StakeTokenAddress) == normalizeHex(t.RewardTokenAddress)
	}
	return t.StakeSymbol != "" && t.StakeSymbol == t.RewardSymbol
}

// Mint credits an account at startup when the memory backend is used.
type Mint struct {
	Token   string `toml:"Token"`
	Account string `toml:"Account"`
	Amount  string `toml:"Amount"`
}
