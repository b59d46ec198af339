package staking

import (
	"errors"

	nativecommon "stakepool/native/common"
)

var (
	ErrZeroAmount                = errors.New("staking: amount must be positive")
	ErrInsufficientBalance       = errors.New("staking: insufficient staked balance")
	ErrInsufficientAllowance     = errors.New("staking: insufficient token allowance")
	ErrTransferFailed            = errors.New("staking: token transfer failed")
	ErrUnauthorized              = errors.New("staking: caller is not the owner")
	ErrCycleActive               = errors.New("staking: reward cycle still active")
	ErrZeroDuration              = errors.New("staking: rewards duration is zero")
	ErrInsufficientRewardBalance = errors.New("staking: reward escrow below committed rewards")
	ErrZeroRewardRate            = errors.New("staking: reward rate rounds to zero")
	ErrInvalidAccount            = errors.New("staking: invalid account")
	ErrOverflow                  = errors.New("staking: arithmetic overflow")
)

// ErrorClass groups errors by who can resolve them.
type ErrorClass int

const (
	// ClassUnknown is returned for nil and foreign errors.
	ClassUnknown ErrorClass = iota
	// ClassCaller marks conditions the caller can fix by changing the request,
	// their allowance or their credentials.
	ClassCaller
	// ClassState marks requests rejected because of the pool's current state.
	ClassState
	// ClassSystem marks failures of collaborators or internal limits.
	ClassSystem
)

func (c ErrorClass) String() string {
	switch c {
	case ClassCaller:
		return "caller"
	case ClassState:
		return "state"
	case ClassSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Classify maps an engine error to its class. Wrapped errors are unwrapped.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrZeroAmount),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientAllowance),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrZeroRewardRate),
		errors.Is(err, ErrInvalidAccount):
		return ClassCaller
	case errors.Is(err, ErrCycleActive),
		errors.Is(err, ErrZeroDuration),
		errors.Is(err, ErrInsufficientRewardBalance),
		errors.Is(err, nativecommon.ErrModulePaused):
		return ClassState
	case errors.Is(err, ErrTransferFailed),
		errors.Is(err, ErrOverflow):
		return ClassSystem
	default:
		return ClassUnknown
	}
}
