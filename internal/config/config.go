// Package config assembles a broker's full runtime configuration from
// defaults, an optional config file, and environment variable overrides,
// using Viper the way the rest of the ecosystem does.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"dlog/internal/replication"
	"dlog/internal/storage"
)

type NodeConfig struct {
	NodeID       uint64
	DataDir      string
	ClusterNodes []uint64
}

type NetworkConfig struct {
	ListenAddress   string
	InternalAddress string
	MaxConnections  int
	RequestTimeout  time.Duration
}

// RetentionConfig controls the background sweep that archives and deletes
// closed segments once a log's retention policy ages them out.
type RetentionConfig struct {
	CheckIntervalMs int64
	ArchiveDir      string // empty disables tiered archival; segments are just deleted
}

// DLogConfig is the top-level configuration for one broker process.
type DLogConfig struct {
	Node        NodeConfig
	Storage     storage.Config
	Replication replication.Config
	Network     NetworkConfig
	Retention   RetentionConfig
}

func Default() DLogConfig {
	return DLogConfig{
		Node: NodeConfig{
			NodeID:       1,
			DataDir:      "./data",
			ClusterNodes: []uint64{1},
		},
		Storage: storage.DefaultConfig(),
		Replication: replication.Config{
			Quorum:        replication.DefaultQuorumConfig(),
			MaxInFlight:   1000,
			RetryAttempts: 3,
			Timeout:       5 * time.Second,
		},
		Network: NetworkConfig{
			ListenAddress:   "0.0.0.0:9092",
			InternalAddress: "0.0.0.0:9093",
			MaxConnections:  10000,
			RequestTimeout:  30 * time.Second,
		},
		Retention: RetentionConfig{
			CheckIntervalMs: 60_000,
		},
	}
}

// Load builds a DLogConfig from defaults, optionally merging a config file
// at path (if non-empty) and DLOG_-prefixed environment variables, which
// take precedence over the file.
func Load(path string) (DLogConfig, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("dlog")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}

	applyOverrides(&cfg, v)
	return cfg, nil
}

func applyOverrides(cfg *DLogConfig, v *viper.Viper) {
	if v.IsSet("node.node_id") {
		cfg.Node.NodeID = uint64(v.GetInt64("node.node_id"))
	}
	if v.IsSet("node.data_dir") {
		cfg.Node.DataDir = v.GetString("node.data_dir")
	}
	if v.IsSet("node.cluster_nodes") {
		ints := v.GetIntSlice("node.cluster_nodes")
		nodes := make([]uint64, len(ints))
		for i, n := range ints {
			nodes[i] = uint64(n)
		}
		cfg.Node.ClusterNodes = nodes
	}

	if v.IsSet("network.listen_address") {
		cfg.Network.ListenAddress = v.GetString("network.listen_address")
	}
	if v.IsSet("network.internal_address") {
		cfg.Network.InternalAddress = v.GetString("network.internal_address")
	}
	if v.IsSet("network.max_connections") {
		cfg.Network.MaxConnections = v.GetInt("network.max_connections")
	}
	if v.IsSet("network.request_timeout_ms") {
		cfg.Network.RequestTimeout = time.Duration(v.GetInt64("network.request_timeout_ms")) * time.Millisecond
	}

	if v.IsSet("storage.segment.segment_max_bytes") {
		cfg.Storage.Segment.SegmentMaxBytes = v.GetInt64("storage.segment.segment_max_bytes")
	}
	if v.IsSet("storage.segment.index_max_bytes") {
		cfg.Storage.Segment.IndexMaxBytes = v.GetInt64("storage.segment.index_max_bytes")
	}
	if v.IsSet("storage.segment.use_mmap") {
		cfg.Storage.Segment.UseMmap = v.GetBool("storage.segment.use_mmap")
	}
	if v.IsSet("storage.write_cache.enabled") {
		cfg.Storage.WriteCache.Enabled = v.GetBool("storage.write_cache.enabled")
	}
	if v.IsSet("storage.write_cache.max_bytes") {
		cfg.Storage.WriteCache.MaxBytes = v.GetInt64("storage.write_cache.max_bytes")
	}

	if v.IsSet("replication.quorum.replication_factor") {
		cfg.Replication.Quorum.ReplicationFactor = v.GetInt("replication.quorum.replication_factor")
	}
	if v.IsSet("replication.quorum.write_quorum") {
		cfg.Replication.Quorum.WriteQuorum = v.GetInt("replication.quorum.write_quorum")
	}
	if v.IsSet("replication.quorum.read_quorum") {
		cfg.Replication.Quorum.ReadQuorum = v.GetInt("replication.quorum.read_quorum")
	}

	if v.IsSet("retention.check_interval_ms") {
		cfg.Retention.CheckIntervalMs = v.GetInt64("retention.check_interval_ms")
	}
	if v.IsSet("retention.archive_dir") {
		cfg.Retention.ArchiveDir = v.GetString("retention.archive_dir")
	}
}
