package veridian

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRulesPresetsDistinct(t *testing.T) {
	require := require.New(t)

	ids := map[uint64]string{}
	for _, r := range []Rules{MainNetRules(), TestNetRules(), FakeNetRules()} {
		require.NotEmpty(r.Name)
		_, dup := ids[r.NetworkID]
		require.False(dup, "network ID reused by %s", r.Name)
		ids[r.NetworkID] = r.Name
	}
}

func TestRulesHash(t *testing.T) {
	require := require.New(t)

	require.Equal(MainNetRules().Hash(), MainNetRules().Hash())
	require.NotEqual(MainNetRules().Hash(), TestNetRules().Hash())

	changed := MainNetRules()
	changed.Checkpoints.MaxCheckpointTxs++
	require.NotEqual(MainNetRules().Hash(), changed.Hash())
}

func TestRulesCopy(t *testing.T) {
	require := require.New(t)

	r := FakeNetRules()
	cp := r.Copy()
	cp.Epochs.MaxEpochCheckpoints++
	require.NotEqual(r.Epochs.MaxEpochCheckpoints, cp.Epochs.MaxEpochCheckpoints)
}

func TestRulesString(t *testing.T) {
	require.Contains(t, FakeNetRules().String(), `"fake"`)
}
