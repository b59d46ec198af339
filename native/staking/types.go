package staking

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Account is the per-staker checkpoint. All amounts are 18-decimal fixed point.
type Account struct {
	Address            common.Address
	Balance            *uint256.Int
	RewardPerTokenPaid *uint256.Int
	Rewards            *uint256.Int
}

func newAccount(addr common.Address) *Account {
	return &Account{Address: addr, Balance: zero(), RewardPerTokenPaid: zero(), Rewards: zero()}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	return &Account{
		Address:            a.Address,
		Balance:            cloneAmount(a.Balance),
		RewardPerTokenPaid: cloneAmount(a.RewardPerTokenPaid),
		Rewards:            cloneAmount(a.Rewards),
	}
}

// Pool is the global accounting state. Emitted tracks reward released into the
// accumulator while stake was present and Paid tracks reward transferred out;
// their difference bounds the reward still owed to stakers.
type Pool struct {
	Owner                common.Address
	TotalSupply          *uint256.Int
	RewardPerTokenStored *uint256.Int
	RewardRate           *uint256.Int
	Duration             uint64
	FinishAt             uint64
	UpdatedAt            uint64
	Emitted              *uint256.Int
	Paid                 *uint256.Int
}

func newPool(owner common.Address, duration uint64) *Pool {
	return &Pool{
		Owner:                owner,
		TotalSupply:          zero(),
		RewardPerTokenStored: zero(),
		RewardRate:           zero(),
		Duration:             duration,
		Emitted:              zero(),
		Paid:                 zero(),
	}
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		Owner:                p.Owner,
		TotalSupply:          cloneAmount(p.TotalSupply),
		RewardPerTokenStored: cloneAmount(p.RewardPerTokenStored),
		RewardRate:           cloneAmount(p.RewardRate),
		Duration:             p.Duration,
		FinishAt:             p.FinishAt,
		UpdatedAt:            p.UpdatedAt,
		Emitted:              cloneAmount(p.Emitted),
		Paid:                 cloneAmount(p.Paid),
	}
}

// normalize replaces nil amounts, which appear after decoding legacy records.
func (p *Pool) normalize() {
	for _, field := range []**uint256.Int{&p.TotalSupply, &p.RewardPerTokenStored, &p.RewardRate, &p.Emitted, &p.Paid} {
		if *field == nil {
			*field = zero()
		}
	}
}

func (a *Account) normalize() {
	for _, field := range []**uint256.Int{&a.Balance, &a.RewardPerTokenPaid, &a.Rewards} {
		if *field == nil {
			*field = zero()
		}
	}
}

// CycleStatus is the read-only projection of the reward cycle.
type CycleStatus struct {
	EndTime       uint64 `json:"endTime"`
	IsActive      bool   `json:"isActive"`
	RemainingTime uint64 `json:"remainingTime"`
}

// AccountView summarises an account at a point in time.
type AccountView struct {
	Address            common.Address `json:"address"`
	Staked             *uint256.Int   `json:"staked"`
	Earned             *uint256.Int   `json:"earned"`
	Rewards            *uint256.Int   `json:"rewards"`
	RewardPerTokenPaid *uint256.Int   `json:"rewardPerTokenPaid"`
}

// PoolView summarises the pool at a point in time.
type PoolView struct {
	Owner                    common.Address `json:"owner"`
	TotalSupply              *uint256.Int   `json:"totalSupply"`
	RewardRate               *uint256.Int   `json:"rewardRate"`
	Duration                 uint64         `json:"duration"`
	FinishAt                 uint64         `json:"finishAt"`
	UpdatedAt                uint64         `json:"updatedAt"`
	RewardPerToken           *uint256.Int   `json:"rewardPerToken"`
	RewardPerTokenStored     *uint256.Int   `json:"rewardPerTokenStored"`
	LastTimeRewardApplicable uint64         `json:"lastTimeRewardApplicable"`
	RewardForDuration        *uint256.Int   `json:"rewardForDuration"`
	EstimatedAPRBps          *uint256.Int   `json:"estimatedAprBps"`
	Cycle                    CycleStatus    `json:"cycle"`
	Paused                   bool           `json:"paused"`
	Now                      uint64         `json:"now"`
}
