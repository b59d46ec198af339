package events

import (
	"strconv"

	"github.com/holiman/uint256"
)

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatUnix(ts uint64) string {
	return strconv.FormatUint(ts, 10)
}
