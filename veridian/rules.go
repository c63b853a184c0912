// Package veridian defines the network rules for a Veridian deployment:
// network identity, epoch sealing thresholds and checkpoint limits. Rules
// are part of the epoch state; they may only change at an epoch boundary.
package veridian

import (
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/veridian-network/go-veridian/inter"
)

// Network identification constants.
const (
	MainNetworkID uint64 = 0x76
	TestNetworkID uint64 = 0x762
	FakeNetworkID uint64 = 0x763
)

// Rules describes the consensus-critical configuration of a Veridian
// network. Every validator of an epoch must run identical Rules.
type Rules struct {
	// Name is the human-readable network identifier ("main", "test", "fake").
	Name string
	// NetworkID distinguishes this network from others.
	NetworkID uint64

	Epochs      EpochsRules
	Checkpoints CheckpointsRules
}

// EpochsRules defines when an epoch should be sealed. The reconfiguration
// transaction is injected by the consensus collaborator once either
// threshold is crossed; the core only reacts to its committed effects.
type EpochsRules struct {
	// MaxEpochCheckpoints is the checkpoint count after which the epoch
	// should seal.
	MaxEpochCheckpoints inter.CheckpointSeq
	// MaxEpochDuration is the wall-clock epoch length limit.
	MaxEpochDuration inter.Timestamp
}

// CheckpointsRules bounds checkpoint construction.
type CheckpointsRules struct {
	// MaxCheckpointTxs caps the number of transactions a single checkpoint
	// may include. A consensus round exceeding it is split across
	// consecutive checkpoints.
	MaxCheckpointTxs uint32
}

// MainNetRules returns the rules of the main network.
func MainNetRules() Rules {
	return Rules{
		Name:        "main",
		NetworkID:   MainNetworkID,
		Epochs:      DefaultEpochsRules(),
		Checkpoints: DefaultCheckpointsRules(),
	}
}

// TestNetRules returns the rules of the public test network.
func TestNetRules() Rules {
	return Rules{
		Name:        "test",
		NetworkID:   TestNetworkID,
		Epochs:      DefaultEpochsRules(),
		Checkpoints: DefaultCheckpointsRules(),
	}
}

// FakeNetRules returns the rules of a local network for testing. Epochs are
// short so that reconfiguration and pruning paths are exercised quickly.
func FakeNetRules() Rules {
	return Rules{
		Name:      "fake",
		NetworkID: FakeNetworkID,
		Epochs: EpochsRules{
			MaxEpochCheckpoints: 10,
			MaxEpochDuration:    inter.Timestamp(10 * time.Minute),
		},
		Checkpoints: DefaultCheckpointsRules(),
	}
}

// DefaultEpochsRules returns the epoch sealing thresholds used by the
// public networks.
func DefaultEpochsRules() EpochsRules {
	return EpochsRules{
		MaxEpochCheckpoints: 10000,
		MaxEpochDuration:    inter.Timestamp(4 * time.Hour),
	}
}

// DefaultCheckpointsRules returns the checkpoint limits used by the public
// networks.
func DefaultCheckpointsRules() CheckpointsRules {
	return CheckpointsRules{
		MaxCheckpointTxs: 10000,
	}
}

// Copy returns a deep copy of the rules.
func (r Rules) Copy() Rules {
	cp := r
	return cp
}

// Hash returns a deterministic fingerprint of the rules, recorded in epoch
// records so rule changes are auditable.
func (r Rules) Hash() hash.Hash {
	hasher := sha256.New()
	err := rlp.Encode(hasher, &r)
	if err != nil {
		panic("can't hash: " + err.Error())
	}
	return hash.BytesToHash(hasher.Sum(nil))
}

// String returns the JSON representation for logs and config dumps.
func (r Rules) String() string {
	b, err := json.Marshal(&r)
	if err != nil {
		panic("can't encode: " + err.Error())
	}
	return string(b)
}
