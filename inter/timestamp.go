package inter

import (
	"time"
)

// Timestamp is a UNIX nanoseconds timestamp.
type Timestamp uint64

// FromTime converts a time.Time into a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

// Time converts the Timestamp back into a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t))
}
