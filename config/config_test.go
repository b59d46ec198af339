package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testOwner = "0x00000000000000000000000000000000000000a1"

func TestInitCreatesDefaultPool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.toml")

	cfg, err := Init(path, testOwner)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if cfg.RewardsDuration != DefaultRewardsDuration {
		t.Fatalf("unexpected duration %d", cfg.RewardsDuration)
	}
	if cfg.Tokens.Backend != BackendMemory {
		t.Fatalf("unexpected backend %q", cfg.Tokens.Backend)
	}
	if _, err := os.Stat(filepath.Join(dir, "escrow.keystore")); err != nil {
		t.Fatalf("escrow keystore not written: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.EngineAddress != cfg.EngineAddress || !strings.EqualFold(reloaded.Owner, testOwner) {
		t.Fatalf("reloaded config differs: %+v", reloaded)
	}
	addrs, err := reloaded.ParsedAddresses()
	if err != nil {
		t.Fatalf("parse addresses: %v", err)
	}
	if addrs.Engine.Hex() != cfg.EngineAddress {
		t.Fatalf("engine address not checksummed: %s", cfg.EngineAddress)
	}
}

func TestLoadWithoutOwnerFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.toml")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "Owner") {
		t.Fatalf("expected missing owner error, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file should still be written: %v", err)
	}
}

func TestLoadParsesEVMBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.toml")
	contents := `Owner = "0x00000000000000000000000000000000000000a1"
EngineAddress = "0x00000000000000000000000000000000000000ee"
RewardsDuration = 604800

[Tokens]
Backend = "EVM"
RPCURL = "http://127.0.0.1:8545"
ChainID = 31337
StakeTokenAddress = "0x00000000000000000000000000000000000000c1"
RewardTokenAddress = "0x00000000000000000000000000000000000000C1"
KeystorePath = "./escrow.keystore"
PassphraseEnv = "STAKEPOOL_ESCROW_PASSPHRASE"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tokens.Backend != BackendEVM || cfg.Tokens.ChainID != 31337 {
		t.Fatalf("unexpected tokens: %+v", cfg.Tokens)
	}
	if !cfg.Tokens.SharedToken() {
		t.Fatalf("identical token addresses should be detected as shared")
	}
	if cfg.DataDir == "" {
		t.Fatalf("data dir default not applied")
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Owner:         testOwner,
			EngineAddress: "0x00000000000000000000000000000000000000ee",
		}
		cfg.applyDefaults()
		return cfg
	}
	cases := map[string]func(*Config){
		"same owner and engine": func(c *Config) { c.EngineAddress = c.Owner },
		"bad genesis token":     func(c *Config) { c.Genesis = []Mint{{Token: "gold", Account: testOwner, Amount: "1"}} },
		"bad genesis amount":    func(c *Config) { c.Genesis = []Mint{{Token: MintStake, Account: testOwner, Amount: "-1"}} },
		"unknown backend":       func(c *Config) { c.Tokens.Backend = "ledger" },
		"evm without rpc":       func(c *Config) { c.Tokens.Backend = BackendEVM },
		"negative history":      func(c *Config) { c.HistoryLimit = -1 },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
}
