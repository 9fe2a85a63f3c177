package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `
log_level = "info"
listen_addr = "0.0.0.0:7200"
metrics_addr = "127.0.0.1:9100"
watch_quorums = true

[[quorum]]
type_id = 1
name = "llmq_50_60"
size = 50
min_size = 40
threshold = 30
dkg_interval = 24
dkg_phase_blocks = 2
dkg_bad_votes_threshold = 2
`

func TestParseDecodesQuorumTable(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, c.Quorums, 1)
	require.Equal(t, "llmq_50_60", c.Quorums[0].Name)
	require.Equal(t, uint32(24), c.Quorums[0].DKGInterval)
	require.True(t, c.WatchQuorums)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse(nil)
	require.Error(t, err)
}

func TestParseRejectsBadThreshold(t *testing.T) {
	_, err := Parse([]byte(`
[[quorum]]
type_id = 1
name = "bad"
size = 10
threshold = 20
dkg_interval = 24
`))
	require.Error(t, err)
}

func TestParseRejectsDuplicateTypeID(t *testing.T) {
	_, err := Parse([]byte(`
[[quorum]]
type_id = 1
name = "a"
size = 10
threshold = 5
dkg_interval = 24

[[quorum]]
type_id = 1
name = "b"
size = 10
threshold = 5
dkg_interval = 24
`))
	require.Error(t, err)
}

func TestKnobsAppliesOverrides(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	k := c.Knobs()
	require.True(t, k.WatchQuorums)
}
