// Package executor drives certified transactions through execution: it
// resolves and locks inputs, invokes the command interpreter, turns its
// outcome into immutable effects and commits them atomically with the
// object writes. Owned-only transactions run on a worker pool; anything
// touching a shared object runs serially in consensus order.
package executor

import (
	"github.com/Fantom-foundation/lachesis-base/hash"

	"github.com/veridian-network/go-veridian/inter"
)

// VM is the command interpreter collaborator. It is a pure function of the
// transaction payload and the resolved inputs; everything stateful (version
// assignment, locking, commitment) stays in the coordinator.
type VM interface {
	// Execute interprets the payload against the resolved inputs. Inputs
	// arrive in the transaction's input order.
	Execute(tx *inter.CertifiedTransaction, inputs []*inter.Object) *Result
}

// Result is the outcome a VM reports back to the coordinator.
type Result struct {
	// AbortCode is zero on success. VM-level aborts use codes at or above
	// inter.AbortVMBase.
	AbortCode uint64
	// Writes are the objects the command created or mutated. Versions are
	// assigned by the coordinator; anything the VM sets is overwritten.
	Writes []*inter.Object
	// Deletes names input objects removed from live state.
	Deletes []inter.ObjectID
	// Dependencies are digests of transactions whose outputs were read.
	Dependencies []hash.Hash
}

// Sink receives every executed transaction together with its effects, in no
// particular order. The checkpoint builder implements it and re-sequences
// by consensus position.
type Sink interface {
	Push(tx *inter.CertifiedTransaction, fx *inter.TransactionEffects) error
}
