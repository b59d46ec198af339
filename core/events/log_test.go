package events

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"stakepool/core/types"
)

func TestLogAssignsSequenceAndChainsHashes(t *testing.T) {
	log := NewLog(16)
	log.Emit(Staked{Account: [20]byte{1}, Amount: uint256.NewInt(5), Timestamp: 100})
	log.Emit(RewardPaid{Account: [20]byte{1}, Amount: uint256.NewInt(2), Timestamp: 101})

	facts, truncated := log.Since(0)
	require.False(t, truncated)
	require.Len(t, facts, 2)
	require.Equal(t, uint64(1), facts[0].Sequence)
	require.Equal(t, uint64(100), facts[0].Timestamp)
	require.Equal(t, TypeStaked, facts[0].Type)
	require.Equal(t, "5", facts[0].Attributes["amount"])
	require.Equal(t, facts[0].Hash, facts[1].PrevHash)
	require.NoError(t, VerifyChain(facts))

	facts[1].Attributes["amount"] = "3"
	require.ErrorIs(t, VerifyChain(facts), ErrChainBroken)
}

func TestLogWindowReportsTruncation(t *testing.T) {
	log := NewLog(3)
	for i := 0; i < 5; i++ {
		log.Append(uint64(10+i), &types.Event{Type: TypeStaked, Attributes: map[string]string{}})
	}
	require.Equal(t, uint64(5), log.Latest())

	facts, truncated := log.Since(0)
	require.True(t, truncated)
	require.Len(t, facts, 3)
	require.Equal(t, uint64(3), facts[0].Sequence)

	facts, truncated = log.Since(2)
	require.False(t, truncated)
	require.Len(t, facts, 3)

	facts, truncated = log.Since(5)
	require.False(t, truncated)
	require.Empty(t, facts)
}

func TestLogSubscribeDeliversBacklogThenLive(t *testing.T) {
	log := NewLog(8)
	log.Append(1, &types.Event{Type: TypeStaked})
	log.Append(2, &types.Event{Type: TypeWithdrawn})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, backlog, truncated, stop := log.Subscribe(ctx, 1)
	defer stop()
	require.False(t, truncated)
	require.Len(t, backlog, 1)
	require.Equal(t, TypeWithdrawn, backlog[0].Type)

	log.Append(3, &types.Event{Type: TypeRewardPaid})
	select {
	case fact := <-updates:
		require.Equal(t, uint64(3), fact.Sequence)
	case <-time.After(time.Second):
		t.Fatal("live fact not delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestLogResumeContinuesChain(t *testing.T) {
	first := NewLog(4)
	fact := first.Append(7, &types.Event{Type: TypeStaked})

	resumed := NewLog(4)
	require.NoError(t, resumed.Resume(fact.Sequence, fact.Hash))
	next := resumed.Append(8, &types.Event{Type: TypeWithdrawn})
	require.Equal(t, uint64(2), next.Sequence)
	require.NoError(t, VerifyChain([]Fact{fact, next}))

	backlog, truncated := resumed.Since(0)
	require.True(t, truncated)
	require.Len(t, backlog, 1)

	require.Error(t, resumed.Resume(1, fact.Hash))
	require.Error(t, NewLog(1).Resume(0, "zz"))
}
