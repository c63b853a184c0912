package inter

import (
	"crypto/sha256"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/rlp"
)

// StatusCode is the terminal outcome class of an executed transaction.
type StatusCode uint8

const (
	// StatusSuccess means the transaction committed its writes.
	StatusSuccess StatusCode = iota
	// StatusAborted means execution failed deterministically. An abort is a
	// first-class, permanent outcome: it still produces effects, so the
	// digest stays accounted for in checkpoints.
	StatusAborted
)

// Abort codes produced by the core itself. VM-level abort codes start at
// AbortVMBase; everything below is reserved.
const (
	AbortNone            uint64 = 0
	AbortVersionMismatch uint64 = 1
	AbortAlreadyReserved uint64 = 2
	AbortVMBase          uint64 = 1 << 16
)

// ExecStatus is the status part of transaction effects.
type ExecStatus struct {
	Code StatusCode
	// AbortCode identifies the failure reason when Code == StatusAborted.
	AbortCode uint64
}

// IsSuccess reports whether the execution succeeded.
func (s ExecStatus) IsSuccess() bool {
	return s.Code == StatusSuccess
}

// TransactionEffects is the deterministic outcome of executing a certified
// transaction. It is produced exactly once per digest and is immutable
// thereafter. Two validators executing the same transaction against the
// same inputs must produce byte-identical effects.
type TransactionEffects struct {
	// TxDigest is the digest of the executed transaction.
	TxDigest hash.Hash
	// Epoch is the epoch the transaction executed in.
	Epoch idx.Epoch
	// ConsensusSeq mirrors the transaction's consensus position; checkpoint
	// contents are ordered by it.
	ConsensusSeq uint64
	Status       ExecStatus

	// Created, Mutated and Deleted name the object versions this execution
	// produced. Refs carry the *new* versions.
	Created []ObjectRef
	Mutated []ObjectRef
	Deleted []ObjectRef

	// Dependencies are digests of transactions whose outputs were consumed.
	Dependencies []hash.Hash
}

// Digest returns the content hash of the effects. Checkpoint accumulator
// digests are computed over these.
func (fx *TransactionEffects) Digest() hash.Hash {
	hasher := sha256.New()
	err := rlp.Encode(hasher, fx)
	if err != nil {
		panic("can't hash: " + err.Error())
	}
	return hash.BytesToHash(hasher.Sum(nil))
}

// AllChanged returns every ref the effects produced, including deletions
// expressed as refs with a zero digest.
func (fx *TransactionEffects) AllChanged() []ObjectRef {
	all := make([]ObjectRef, 0, len(fx.Created)+len(fx.Mutated)+len(fx.Deleted))
	all = append(all, fx.Created...)
	all = append(all, fx.Mutated...)
	all = append(all, fx.Deleted...)
	return all
}

// Copy creates a deep copy of the effects.
func (fx *TransactionEffects) Copy() *TransactionEffects {
	cp := *fx
	cp.Created = append([]ObjectRef(nil), fx.Created...)
	cp.Mutated = append([]ObjectRef(nil), fx.Mutated...)
	cp.Deleted = append([]ObjectRef(nil), fx.Deleted...)
	cp.Dependencies = append([]hash.Hash(nil), fx.Dependencies...)
	return &cp
}

// AbortEffects builds the deterministic effects recorded for a certified
// transaction that cannot execute (e.g. an input version mismatch). The
// digest still receives effects so checkpoint sequencing stays consistent;
// the abort is never silently dropped.
func AbortEffects(tx *CertifiedTransaction, epoch idx.Epoch, abortCode uint64) *TransactionEffects {
	return &TransactionEffects{
		TxDigest:     tx.Digest(),
		Epoch:        epoch,
		ConsensusSeq: tx.ConsensusSeq,
		Status: ExecStatus{
			Code:      StatusAborted,
			AbortCode: abortCode,
		},
	}
}
