package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.EqualValues(t, 1, cfg.Node.NodeID)
	require.Equal(t, "0.0.0.0:9092", cfg.Network.ListenAddress)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlog.json")
	content := `{
		"node": {"node_id": 7, "cluster_nodes": [1, 2, 3]},
		"network": {"listen_address": "127.0.0.1:7000"},
		"replication": {"quorum": {"replication_factor": 5, "write_quorum": 3, "read_quorum": 3}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.EqualValues(t, 7, cfg.Node.NodeID)
	require.Len(t, cfg.Node.ClusterNodes, 3)
	require.Equal(t, "127.0.0.1:7000", cfg.Network.ListenAddress)
	require.EqualValues(t, 5, cfg.Replication.Quorum.ReplicationFactor)
}
