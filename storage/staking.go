package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"stakepool/native/staking"
)

var (
	stakingPoolKey      = []byte("staking/pool")
	stakingAccountStart = []byte("staking/account/")
)

func stakingAccountKey(addr common.Address) []byte {
	key := make([]byte, 0, len(stakingAccountStart)+common.AddressLength)
	key = append(key, stakingAccountStart...)
	return append(key, addr.Bytes()...)
}

// StakingStore persists staking engine checkpoints as RLP records.
type StakingStore struct {
	db Database
}

// NewStakingStore wraps db for use by the staking engine.
func NewStakingStore(db Database) *StakingStore {
	return &StakingStore{db: db}
}

// LoadPool returns the persisted pool or nil when none was written yet.
func (s *StakingStore) LoadPool() (*staking.Pool, error) {
	raw, err := s.db.Get(stakingPoolKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pool := new(staking.Pool)
	if err := rlp.DecodeBytes(raw, pool); err != nil {
		return nil, fmt.Errorf("storage: decode staking pool: %w", err)
	}
	return pool, nil
}

// LoadAccounts streams every persisted account checkpoint to fn.
func (s *StakingStore) LoadAccounts(fn func(*staking.Account) error) error {
	return s.db.Iterate(stakingAccountStart, func(key, value []byte) error {
		account := new(staking.Account)
		if err := rlp.DecodeBytes(value, account); err != nil {
			return fmt.Errorf("storage: decode staking account %x: %w", key[len(stakingAccountStart):], err)
		}
		return fn(account)
	})
}

// Commit writes the pool and the touched accounts atomically.
func (s *StakingStore) Commit(pool *staking.Pool, accounts []*staking.Account) error {
	entries := make([]Entry, 0, len(accounts)+1)
	encoded, err := rlp.EncodeToBytes(pool)
	if err != nil {
		return fmt.Errorf("storage: encode staking pool: %w", err)
	}
	entries = append(entries, Entry{Key: stakingPoolKey, Value: encoded})
	for _, account := range accounts {
		if account == nil {
			continue
		}
		value, err := rlp.EncodeToBytes(account)
		if err != nil {
			return fmt.Errorf("storage: encode staking account %s: %w", account.Address.Hex(), err)
		}
		entries = append(entries, Entry{Key: stakingAccountKey(account.Address), Value: value})
	}
	return s.db.WriteBatch(entries)
}
