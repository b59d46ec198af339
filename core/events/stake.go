package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakepool/core/types"
)

const (
	// TypeStaked is emitted when an account deposits stake tokens into the pool.
	TypeStaked = "staking.staked"
	// TypeWithdrawn is emitted when an account withdraws stake tokens.
	TypeWithdrawn = "staking.withdrawn"
	// TypeRewardPaid is emitted when accrued rewards are transferred out.
	TypeRewardPaid = "staking.rewardPaid"
	// TypeRewardAdded captures a new or rolled over reward cycle.
	TypeRewardAdded = "staking.rewardAdded"
	// TypeRewardsDurationUpdated captures a change of the cycle length.
	TypeRewardsDurationUpdated = "staking.rewardsDurationUpdated"
	// TypeRewardsCycleReset is emitted when the owner terminates an active cycle.
	TypeRewardsCycleReset = "staking.rewardsCycleReset"
	// TypeRewardsFunded is emitted when reward tokens are escrowed by the owner.
	TypeRewardsFunded = "staking.rewardsFunded"
	// TypeOwnershipTransferred records a change of pool administrator.
	TypeOwnershipTransferred = "staking.ownershipTransferred"
)

// Staked records a deposit and the resulting balances.
type Staked struct {
	Account     common.Address
	Amount      *uint256.Int
	Balance     *uint256.Int
	TotalSupply *uint256.Int
	Timestamp   uint64
}

// EventType satisfies the Event interface.
func (Staked) EventType() string { return TypeStaked }

// OccurredAt returns the unix time of the deposit.
func (e Staked) OccurredAt() uint64 { return e.Timestamp }

// Event converts the structured payload into a broadcastable event.
func (e Staked) Event() *types.Event {
	return &types.Event{Type: TypeStaked, Attributes: balanceAttrs(e.Account, e.Amount, e.Balance, e.TotalSupply, e.Timestamp)}
}

// Withdrawn records a withdrawal and the resulting balances.
type Withdrawn struct {
	Account     common.Address
	Amount      *uint256.Int
	Balance     *uint256.Int
	TotalSupply *uint256.Int
	Timestamp   uint64
}

// EventType satisfies the Event interface.
func (Withdrawn) EventType() string { return TypeWithdrawn }

// OccurredAt returns the unix time of the withdrawal.
func (e Withdrawn) OccurredAt() uint64 { return e.Timestamp }

// Event converts the structured payload into a broadcastable event.
func (e Withdrawn) Event() *types.Event {
	return &types.Event{Type: TypeWithdrawn, Attributes: balanceAttrs(e.Account, e.Amount, e.Balance, e.TotalSupply, e.Timestamp)}
}

// RewardPaid records a reward transfer to an account.
type RewardPaid struct {
	Account   common.Address
	Amount    *uint256.Int
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (RewardPaid) EventType() string { return TypeRewardPaid }

// OccurredAt returns the unix time of the payout.
func (e RewardPaid) OccurredAt() uint64 { return e.Timestamp }

// Event converts the structured payload into a broadcastable event.
func (e RewardPaid) Event() *types.Event {
	return &types.Event{Type: TypeRewardPaid, Attributes: map[string]string{
		"account":   e.Account.Hex(),
		"amount":    formatAmount(e.Amount),
		"timestamp": formatUnix(e.Timestamp),
	}}
}

// RewardAdded captures the parameters of a freshly notified cycle. Leftover is
// the unaccrued reward carried over from the cycle it replaced.
type RewardAdded struct {
	Amount    *uint256.Int
	Leftover  *uint256.Int
	Rate      *uint256.Int
	FinishAt  uint64
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (RewardAdded) EventType() string { return TypeRewardAdded }

// OccurredAt returns the unix time the cycle started.
func (e RewardAdded) OccurredAt() uint64 { return e.Timestamp }

// Event converts the structured payload into a broadcastable event.
func (e RewardAdded) Event() *types.Event {
	attrs := map[string]string{
		"amount":    formatAmount(e.Amount),
		"rate":      formatAmount(e.Rate),
		"finishAt":  formatUnix(e.FinishAt),
		"timestamp": formatUnix(e.Timestamp),
	}
	if e.Leftover != nil && !e.Leftover.IsZero() {
		attrs["leftover"] = e.Leftover.Dec()
	}
	return &types.Event{Type: TypeRewardAdded, Attributes: attrs}
}

// RewardsDurationUpdated records a new cycle length in seconds.
type RewardsDurationUpdated struct {
	Duration  uint64
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (RewardsDurationUpdated) EventType() string { return TypeRewardsDurationUpdated }

// OccurredAt returns the unix time of the update.
func (e RewardsDurationUpdated) OccurredAt() uint64 { return e.Timestamp }

// Event converts the structured payload into a broadcastable event.
func (e RewardsDurationUpdated) Event() *types.Event {
	return &types.Event{Type: TypeRewardsDurationUpdated, Attributes: map[string]string{
		"duration":  strconv.FormatUint(e.Duration, 10),
		"timestamp": formatUnix(e.Timestamp),
	}}
}

// RewardsCycleReset records an early termination. Forfeited is the reward that
// would have accrued over the cancelled remainder and stays in escrow.
type RewardsCycleReset struct {
	FinishAt  uint64
	Forfeited *uint256.Int
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (RewardsCycleReset) EventType() string { return TypeRewardsCycleReset }

// OccurredAt returns the unix time of the reset.
func (e RewardsCycleReset) OccurredAt() uint64 { return e.Timestamp }

// Event converts the structured payload into a broadcastable event.
func (e RewardsCycleReset) Event() *types.Event {
	return &types.Event{Type: TypeRewardsCycleReset, Attributes: map[string]string{
		"finishAt":  formatUnix(e.FinishAt),
		"forfeited": formatAmount(e.Forfeited),
		"timestamp": formatUnix(e.Timestamp),
	}}
}

// RewardsFunded records reward tokens pulled into escrow.
type RewardsFunded struct {
	From      common.Address
	Amount    *uint256.Int
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (RewardsFunded) EventType() string { return TypeRewardsFunded }

// OccurredAt returns the unix time of the deposit.
func (e RewardsFunded) OccurredAt() uint64 { return e.Timestamp }

// Event converts the structured payload into a broadcastable event.
func (e RewardsFunded) Event() *types.Event {
	return &types.Event{Type: TypeRewardsFunded, Attributes: map[string]string{
		"from":      e.From.Hex(),
		"amount":    formatAmount(e.Amount),
		"timestamp": formatUnix(e.Timestamp),
	}}
}

// OwnershipTransferred records a change of pool owner.
type OwnershipTransferred struct {
	Previous  common.Address
	Owner     common.Address
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (OwnershipTransferred) EventType() string { return TypeOwnershipTransferred }

// OccurredAt returns the unix time of the transfer.
func (e OwnershipTransferred) OccurredAt() uint64 { return e.Timestamp }

// Event converts the structured payload into a broadcastable event.
func (e OwnershipTransferred) Event() *types.Event {
	return &types.Event{Type: TypeOwnershipTransferred, Attributes: map[string]string{
		"previous":  e.Previous.Hex(),
		"owner":     e.Owner.Hex(),
		"timestamp": formatUnix(e.Timestamp),
	}}
}

func balanceAttrs(account common.Address, amount, balance, total *uint256.Int, ts uint64) map[string]string {
	attrs := map[string]string{
		"account":   account.Hex(),
		"amount":    formatAmount(amount),
		"timestamp": formatUnix(ts),
	}
	if balance != nil {
		attrs["balance"] = balance.Dec()
	}
	if total != nil {
		attrs["totalSupply"] = total.Dec()
	}
	return attrs
}
