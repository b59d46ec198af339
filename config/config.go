package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"stakepool/crypto"
)

// Config describes a single staking pool.
type Config struct {
	Owner           string `toml:"Owner"`
	EngineAddress   string `toml:"EngineAddress"`
	RewardsDuration uint64 `toml:"RewardsDuration"`
	DataDir         string `toml:"DataDir"`
	HistoryLimit    int    `toml:"HistoryLimit"`
	Paused          bool   `toml:"Paused"`
	Tokens          Tokens `toml:"Tokens"`
	Genesis         []Mint `toml:"Genesis,omitempty"`
}

// DefaultRewardsDuration is the cycle length used by freshly created pools.
const DefaultRewardsDuration = 30 * 24 * 60 * 60

// Load loads the pool configuration from the given path, creating a default
// file when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, "")
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Init writes a default configuration owned by owner. An existing file is
// left untouched and loaded instead.
func Init(path, owner string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}
	return createDefault(path, owner)
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./stakepool-data"
	}
	if strings.TrimSpace(c.Tokens.Backend) == "" {
		c.Tokens.Backend = BackendMemory
	}
	c.Tokens.Backend = strings.ToLower(strings.TrimSpace(c.Tokens.Backend))
	if c.Tokens.StakeSymbol == "" {
		c.Tokens.StakeSymbol = "STK"
	}
	if c.Tokens.RewardSymbol == "" {
		c.Tokens.RewardSymbol = "RWD"
	}
	if c.Genesis == nil {
		c.Genesis = []Mint{}
	}
}

// createDefault generates the escrow signer and saves a default configuration.
func createDefault(path, owner string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		Owner:           strings.TrimSpace(owner),
		EngineAddress:   key.Address().Hex(),
		RewardsDuration: DefaultRewardsDuration,
		DataDir:         filepath.Join(filepath.Dir(path), "stakepool-data"),
		Tokens: Tokens{
			Backend:      BackendMemory,
			StakeSymbol:  "STK",
			RewardSymbol: "RWD",
			KeystorePath: keystorePath,
		},
	}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "escrow.keystore")
}

func normalizeHex(value string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
}
