package lifecycle

import (
	"strconv"
	"sync/atomic"
	"time"
)

var lastID atomic.Int64

// NewID returns the current unix time in milliseconds as a decimal string. Ids are strictly
// increasing within the process, so trackers created in the same millisecond stay distinct.
func NewID(now time.Time) string {
	ms := now.UnixMilli()

	for {
		last := lastID.Load()

		next := ms
		if next <= last {
			next = last + 1
		}

		if lastID.CompareAndSwap(last, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}
