package util

import (
	"math/big"
	"time"
)

// Number of 100ns ticks between 0001-01-01 and the Unix epoch
const unixEpochTicks = 621355968000000000

// Returns the number of 100 nanosecond intervals elapsed since
// 0001-01-01T00:00:00Z for the provided time.
func Ticks(t time.Time) int64 {
	return t.UTC().UnixNano()/100 + unixEpochTicks
}

// Returns a positive serial number derived from the provided timestamp
func TicksSerialNumber(t time.Time) *big.Int {
	return big.NewInt(Ticks(t))
}
