package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"stakepool/config"
	nativecommon "stakepool/native/common"
)

var (
	ownerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	aliceAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func memoryConfig(shared bool) *config.Config {
	cfg := &config.Config{
		Owner:           ownerAddr.Hex(),
		EngineAddress:   engineAddr.Hex(),
		RewardsDuration: 100,
		Tokens: config.Tokens{
			Backend:      config.BackendMemory,
			StakeSymbol:  "STK",
			RewardSymbol: "RWD",
		},
		Genesis: []config.Mint{
			{Token: config.MintStake, Account: aliceAddr.Hex(), Amount: "1000"},
			{Token: config.MintReward, Account: ownerAddr.Hex(), Amount: "5000"},
		},
	}
	if shared {
		cfg.Tokens.RewardSymbol = "STK"
	}
	return cfg
}

func fixedClock() time.Time { return time.Unix(10_000, 0) }

func TestOpenMemoryRuntimeMintsGenesisAndStakes(t *testing.T) {
	rt, err := Open(memoryConfig(false), Options{Clock: fixedClock, HistoryLimit: 16})
	require.NoError(t, err)
	defer rt.Close()

	stakeLedger, ok := rt.Ledger(config.MintStake)
	require.True(t, ok)
	rewardLedger, ok := rt.Ledger(config.MintReward)
	require.True(t, ok)
	require.NotSame(t, stakeLedger, rewardLedger)

	ctx := context.Background()
	stakeLedger.Approve(aliceAddr, engineAddr, uint256.NewInt(100))
	require.NoError(t, rt.Engine.Stake(ctx, aliceAddr, uint256.NewInt(100)))
	require.Equal(t, uint64(100), rt.Engine.TotalStaked().Uint64())
	require.Equal(t, uint64(1), rt.Facts.Latest())

	balance, err := stakeLedger.As(aliceAddr).BalanceOf(ctx, aliceAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(900), balance.Uint64())
	require.Equal(t, ownerAddr, rt.Engine.Owner())
}

func TestOpenSharedTokenUsesSingleLedger(t *testing.T) {
	rt, err := Open(memoryConfig(true), Options{Clock: fixedClock})
	require.NoError(t, err)
	defer rt.Close()

	stakeLedger, _ := rt.Ledger(config.MintStake)
	rewardLedger, _ := rt.Ledger(config.MintReward)
	require.Same(t, stakeLedger, rewardLedger)
	require.Equal(t, uint64(6000), stakeLedger.TotalSupply().Uint64())
}

func TestRuntimePauseBlocksStake(t *testing.T) {
	cfg := memoryConfig(false)
	cfg.Paused = true
	rt, err := Open(cfg, Options{Clock: fixedClock})
	require.NoError(t, err)
	defer rt.Close()

	require.True(t, rt.Engine.Paused())
	stakeLedger, _ := rt.Ledger(config.MintStake)
	stakeLedger.Approve(aliceAddr, engineAddr, uint256.NewInt(10))
	err = rt.Engine.Stake(context.Background(), aliceAddr, uint256.NewInt(10))
	require.True(t, errors.Is(err, nativecommon.ErrModulePaused))

	rt.SetPaused(false)
	require.NoError(t, rt.Engine.Stake(context.Background(), aliceAddr, uint256.NewInt(10)))
}

func TestOpenResumesFactChain(t *testing.T) {
	hash := "0000000000000000000000000000000000000000000000000000000000000042"
	rt, err := Open(memoryConfig(false), Options{Clock: fixedClock, ResumeSequence: 41, ResumeHash: hash})
	require.NoError(t, err)
	defer rt.Close()
	require.Equal(t, uint64(41), rt.Facts.Latest())
}

func TestOpenRejectsEVMWithoutPassphrase(t *testing.T) {
	cfg := memoryConfig(false)
	cfg.Tokens.Backend = config.BackendEVM
	cfg.Genesis = nil
	_, err := Open(cfg, Options{})
	require.ErrorContains(t, err, "passphrase")
}
