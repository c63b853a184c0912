package integration

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/veridian-network/go-veridian/executor"
	"github.com/veridian-network/go-veridian/inter"
)

// FakeVM is the command interpreter of the fake network: it overwrites the
// payload of every mutable input with the transaction payload. Deterministic
// and stateless, which is all the fake network needs.
type FakeVM struct{}

func (FakeVM) Execute(tx *inter.CertifiedTransaction, inputs []*inter.Object) *executor.Result {
	res := &executor.Result{}
	for _, obj := range inputs {
		if obj.Owner.Kind == inter.OwnerImmutable {
			continue
		}
		cp := obj.Copy()
		cp.Payload = common.CopyBytes(tx.Payload)
		res.Writes = append(res.Writes, cp)
	}
	return res
}
