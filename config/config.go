// Package config loads this module's process configuration from TOML.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/dashpay/llmq/params"
)

// Config is the top-level process configuration: log level/format, listen
// addresses, the configured quorum-type table, and the runtime knobs.
type Config struct {
	LogLevel    string `toml:"log_level"`
	LogJSON     bool   `toml:"log_json"`
	ListenAddr  string `toml:"listen_addr"`
	MetricsAddr string `toml:"metrics_addr"`

	WatchQuorums       bool    `toml:"watch_quorums"`
	MaxMessagesPerPeer int     `toml:"max_messages_per_peer"`
	PhaseSleepFactor   float64 `toml:"phase_sleep_factor"`
	DrainBatchSize     int     `toml:"drain_batch_size"`

	// WatchSeed overrides the process-wide watch-mode random-walk seed;
	// left empty to generate a fresh one at startup.
	WatchSeed string `toml:"watch_seed"`

	Quorums []params.QuorumParams `toml:"quorum"`

	// Demo configures cmd/llmqd's local multi-node reference runner: it has
	// no bearing on a host process that embeds this module's packages
	// directly and supplies its own chain.Source/member.Registry.
	Demo DemoConfig `toml:"demo"`
}

// DemoConfig drives cmd/llmqd's in-process demo network: every configured
// node runs in this one process, each with its own gRPC listener and
// diagnostics port, exchanging real frames over loopback instead of
// in-memory function calls.
type DemoConfig struct {
	NodeCount       int `toml:"node_count"`
	BasePort        int `toml:"base_port"`
	MetricsBasePort int `toml:"metrics_base_port"`
	BlockIntervalMS int `toml:"block_interval_ms"`
}

// Knobs extracts the runtime knobs this config carries into params.Knobs.
func (c Config) Knobs() params.Knobs {
	k := params.DefaultKnobs()
	k.WatchQuorums = c.WatchQuorums
	if c.MaxMessagesPerPeer > 0 {
		k.MaxMessagesPerPeer = c.MaxMessagesPerPeer
	}
	if c.PhaseSleepFactor > 0 {
		k.PhaseSleepFactor = c.PhaseSleepFactor
	}
	if c.DrainBatchSize > 0 {
		k.DrainBatchSize = c.DrainBatchSize
	}
	return k
}

// Load reads and decodes a Config from a TOML file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes raw TOML bytes into a Config and validates the quorum table.
func Parse(raw []byte) (*Config, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("config: empty configuration")
	}
	var c Config
	if _, err := toml.NewDecoder(bytes.NewReader(raw)).Decode(&c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c Config) validate() error {
	seen := make(map[params.QuorumType]bool, len(c.Quorums))
	for _, q := range c.Quorums {
		if seen[q.TypeID] {
			return fmt.Errorf("config: duplicate quorum type_id %d", q.TypeID)
		}
		seen[q.TypeID] = true
		if q.DKGInterval == 0 {
			return fmt.Errorf("config: quorum %q has zero dkg_interval", q.Name)
		}
		if q.Threshold <= 0 || q.Threshold > q.Size {
			return fmt.Errorf("config: quorum %q has invalid threshold %d for size %d", q.Name, q.Threshold, q.Size)
		}
	}
	return nil
}

// Bytes re-encodes c as TOML.
func (c Config) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	return b.Bytes(), nil
}
