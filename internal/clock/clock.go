// Package clock abstracts time for TTL and cooldown logic.
package clock

import "time"

// Clock returns the current time (swapped for a fake in tests).
type Clock interface {
	Now() time.Time
}
