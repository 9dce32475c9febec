package xid

import (
	"fmt"
	"time"
)

// Local builds the order reconciliation key: <shopId>-<creation epoch millis>.
// It is unique per device with overwhelming probability, not globally.
func Local(shopID string, at time.Time) string {
	return fmt.Sprintf("%s-%d", shopID, at.UnixMilli())
}

// LocalAfter returns a key for at, bumped forward a millisecond at a time
// until taken reports false.
func LocalAfter(shopID string, at time.Time, taken func(string) bool) string {
	id := Local(shopID, at)
	for taken != nil && taken(id) {
		at = at.Add(time.Millisecond)
		id = Local(shopID, at)
	}
	return id
}
