package epochs

import (
	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/veridian-network/go-veridian/inter"
	"github.com/veridian-network/go-veridian/veridian"
)

// Context is the explicit epoch state value handed to the execution
// coordinator and checkpoint builder instead of a shared global. It is
// immutable; the manager swaps the whole value at epoch boundaries.
type Context struct {
	// Epoch is the current epoch number.
	Epoch idx.Epoch
	// Committee is the validator set of the epoch.
	Committee Committee
	// Rules is the protocol configuration snapshot of the epoch.
	Rules veridian.Rules
	// FirstCheckpoint is the sequence number of the first checkpoint
	// belonging to the epoch.
	FirstCheckpoint inter.CheckpointSeq
}

// Copy creates a deep copy of the context.
func (c Context) Copy() Context {
	cp := c
	cp.Committee = c.Committee.Copy()
	cp.Rules = c.Rules.Copy()
	return cp
}
