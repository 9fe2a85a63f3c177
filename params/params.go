// Package params holds the immutable per-quorum-type DKG parameters and the
// process-wide runtime knobs.
package params

import "time"

// QuorumType identifies one configured kind of quorum (e.g. "every 24 blocks,
// 50 members").
type QuorumType uint8

// QuorumParams is immutable once loaded.
type QuorumParams struct {
	TypeID    QuorumType `toml:"type_id"`
	Name      string     `toml:"name"`
	Size      int        `toml:"size"`
	MinSize   int        `toml:"min_size"`
	Threshold int        `toml:"threshold"`

	DKGInterval       uint32 `toml:"dkg_interval"`
	DKGPhaseBlocks    uint32 `toml:"dkg_phase_blocks"`
	MiningWindowStart uint32 `toml:"dkg_mining_window_start"`
	MiningWindowEnd   uint32 `toml:"dkg_mining_window_end"`

	BadVotesThreshold int `toml:"dkg_bad_votes_threshold"`

	SigningActiveQuorumCount int  `toml:"signing_active_quorum_count"`
	KeepOldConnections       bool `toml:"keep_old_connections"`
	RecoveryMembers          int  `toml:"recovery_members"`
}

// BaseHeight returns the height of the ancestor block that anchors the
// quorum containing tip: the nearest height at or below tip that is a
// multiple of the DKG interval.
func (p QuorumParams) BaseHeight(tip uint32) uint32 {
	if p.DKGInterval == 0 {
		return tip
	}
	return tip - (tip % p.DKGInterval)
}

// IsQuorumBoundary reports whether tip is the first height of a new quorum.
func (p QuorumParams) IsQuorumBoundary(tip uint32) bool {
	return p.DKGInterval != 0 && tip%p.DKGInterval == 0
}

// PhaseWindow returns the [start, end) height range during which phase k
// (1-indexed: Contribute=1, Complain=2, Justify=3, Commit=4) is active.
func (p QuorumParams) PhaseWindow(base uint32, k int) (start, end uint32) {
	start = base + uint32(k-1)*p.DKGPhaseBlocks
	end = base + uint32(k)*p.DKGPhaseBlocks
	return
}

// Sporks is the opaque, externally-configured predicate set consulted by the
// connection planner. Which network rule backs each predicate is policy
// external to this core, supplied by the embedding node.
type Sporks interface {
	AllConnected(t QuorumType) bool
	QuorumPoSe(t QuorumType) bool
}

// StaticSporks is a fixed-value Sporks implementation, useful for tests and
// for deployments that don't need live spork toggling.
type StaticSporks struct {
	AllConnectedTypes map[QuorumType]bool
	QuorumPoSeTypes   map[QuorumType]bool
}

func (s StaticSporks) AllConnected(t QuorumType) bool { return s.AllConnectedTypes[t] }
func (s StaticSporks) QuorumPoSe(t QuorumType) bool   { return s.QuorumPoSeTypes[t] }

// Knobs holds the process-wide runtime configuration options.
type Knobs struct {
	WatchQuorums       bool
	MaxMessagesPerPeer int
	PhaseSleepFactor   float64
	DrainBatchSize     int
}

// DefaultKnobs returns the documented defaults.
func DefaultKnobs() Knobs {
	return Knobs{
		WatchQuorums:       false,
		MaxMessagesPerPeer: 5,
		PhaseSleepFactor:   0.5,
		DrainBatchSize:     16,
	}
}

// DefaultTimeBetweenPolls bounds the drain-loop and wait-for-next-phase
// wakeup interval: every blocking point in a scheduler wakes at least this
// often to service shutdown and reorg checks.
const DefaultTimeBetweenPolls = 100 * time.Millisecond
