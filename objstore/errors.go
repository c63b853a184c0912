package objstore

import (
	"errors"
)

// ErrConflict is returned by commit methods when a target (ID, version) or
// effects record already exists. It marks either a replay of an
// already-committed batch or a bug; it is never resolved by retrying.
// Every other commit error is an I/O failure and must be retried in full.
var ErrConflict = errors.New("already committed")
