// Package config defines the configuration structs consumed by the master
// and chunkserver, and a thin YAML loader. Building a full CLI/config
// front-end around this is explicitly out of scope; gfscore only needs the
// shape the core consumes.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// MasterConfig holds every tunable named in spec §6.
type MasterConfig struct {
	ListenAddress         string        `yaml:"listen_address"`
	ChunkSize             uint64        `yaml:"chunk_size"`
	ReplicationFactor     int           `yaml:"replication_factor"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout      time.Duration `yaml:"heartbeat_timeout"`
	LeaseDuration         time.Duration `yaml:"lease_duration"`
	SnapshotInterval      time.Duration `yaml:"snapshot_interval"`
	GarbageRetentionDays  int           `yaml:"garbage_retention_days"`
	WALDir                string        `yaml:"wal_dir"`
	WALFile               string        `yaml:"wal_file"`
	EtcdEndpoints         []string      `yaml:"etcd_endpoints"`
}

// ChunkServerConfig holds the chunkserver-side tunables.
type ChunkServerConfig struct {
	ID                string        `yaml:"id"`
	ListenAddress     string        `yaml:"listen_address"`
	MasterAddress     string        `yaml:"master_address"`
	DataDir           string        `yaml:"data_dir"`
	RackID            string        `yaml:"rack_id"`
	ChunkSize         uint64        `yaml:"chunk_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	EtcdEndpoints     []string      `yaml:"etcd_endpoints"`
}

// DefaultChunkServerConfig returns a ChunkServerConfig populated with spec defaults.
func DefaultChunkServerConfig() ChunkServerConfig {
	return ChunkServerConfig{
		ListenAddress:     ":9100",
		DataDir:           "data",
		ChunkSize:         64 * 1024 * 1024,
		HeartbeatInterval: 10 * time.Second,
	}
}

// DefaultMasterConfig returns a MasterConfig populated with spec defaults.
func DefaultMasterConfig() MasterConfig {
	return MasterConfig{
		ListenAddress:        ":9000",
		ChunkSize:            64 * 1024 * 1024,
		ReplicationFactor:    3,
		HeartbeatInterval:    10 * time.Second,
		HeartbeatTimeout:     30 * time.Second,
		LeaseDuration:        60 * time.Second,
		SnapshotInterval:     60 * time.Second,
		GarbageRetentionDays: 3,
		WALDir:               "wal",
		WALFile:              "wal.log",
	}
}

// LoadMasterConfig reads a YAML file at path, applying spec defaults for any
// field the file omits; a field the file sets explicitly, even to zero,
// overrides its default.
func LoadMasterConfig(path string) (MasterConfig, error) {
	cfg := DefaultMasterConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadChunkServerConfig reads a YAML file at path, applying spec defaults for
// any field the file omits; a field the file sets explicitly, even to zero,
// overrides its default.
func LoadChunkServerConfig(path string) (ChunkServerConfig, error) {
	cfg := DefaultChunkServerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
