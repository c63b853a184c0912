package integration

import (
	"crypto/rand"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/veridian-network/go-veridian/epochs"
	"github.com/veridian-network/go-veridian/executor"
	"github.com/veridian-network/go-veridian/inter/validatorpk"
	"github.com/veridian-network/go-veridian/lifecycle"
	"github.com/veridian-network/go-veridian/veridian"
)

// ValidatorConfig is the preset of a pruning validator node: state of
// expired epochs is removed, no blob sinks.
func ValidatorConfig() Config {
	return Config{
		Executor:  executor.DefaultConfig(),
		Lifecycle: lifecycle.DefaultConfig(),
	}
}

// ArchiveConfig is the preset of an archive node: pruning is disabled and
// sealed epochs are mirrored into the blob archive.
func ArchiveConfig() Config {
	cfg := ValidatorConfig()
	cfg.Lifecycle = lifecycle.ArchiveNodeConfig()
	return cfg
}

// LiteConfig is the preset of a resource-constrained node: aggressive
// retention and a single execution worker.
func LiteConfig() Config {
	cfg := ValidatorConfig()
	cfg.Executor.OwnedWorkers = 1
	cfg.Lifecycle.Retention.NumEpochsToRetain = 2
	cfg.Lifecycle.Retention.NumEpochsToRetainForCheckpoints = 8
	return cfg
}

// FakeGenesis builds the epoch context of a local fake network with n
// equally weighted validators. Keys are random; the fake network never
// verifies signatures.
func FakeGenesis(n int) (epochs.Context, error) {
	members := make([]epochs.Member, n)
	for i := range members {
		raw := make([]byte, 33)
		if _, err := rand.Read(raw); err != nil {
			return epochs.Context{}, err
		}
		members[i] = epochs.Member{
			ID:     idx.ValidatorID(i + 1),
			Weight: 1,
			PubKey: validatorpk.PubKey{Type: validatorpk.Types.Secp256k1, Raw: raw},
		}
	}
	committee, err := epochs.NewCommittee(members)
	if err != nil {
		return epochs.Context{}, err
	}
	return epochs.Context{
		Epoch:           1,
		Committee:       committee,
		Rules:           veridian.FakeNetRules(),
		FirstCheckpoint: 1,
	}, nil
}
