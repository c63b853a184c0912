package executor

import (
	"github.com/veridian-network/go-veridian/inter"
)

// Snapshot is the resolved read set of one transaction: the exact object
// versions it executes against. Owned inputs are locked, shared inputs
// carry their consensus-assigned versions.
type Snapshot struct {
	objects []*inter.Object
	byID    map[inter.ObjectID]*inter.Object

	// locked lists the owned inputs holding a reservation, for release.
	locked []inter.ObjectID
	// shared lists the shared inputs, for the head bump after commit.
	shared []inter.ObjectID

	maxVersion inter.Version
}

func newSnapshot(n int) *Snapshot {
	return &Snapshot{
		objects: make([]*inter.Object, 0, n),
		byID:    make(map[inter.ObjectID]*inter.Object, n),
	}
}

func (s *Snapshot) add(obj *inter.Object) {
	s.objects = append(s.objects, obj)
	s.byID[obj.ID] = obj
	if obj.Version > s.maxVersion {
		s.maxVersion = obj.Version
	}
}

// Objects returns the inputs in the transaction's input order.
func (s *Snapshot) Objects() []*inter.Object {
	return s.objects
}

// Get returns the resolved input by ID, or nil.
func (s *Snapshot) Get(id inter.ObjectID) *inter.Object {
	return s.byID[id]
}

// NextVersion is the Lamport version stamped on every write and deletion
// of the transaction: one past the highest input version.
func (s *Snapshot) NextVersion() inter.Version {
	return s.maxVersion + 1
}
