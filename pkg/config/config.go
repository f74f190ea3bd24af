// Package config defines chbackup's configuration surface (spec §6).
// Loading and flag-merging are thin: parsing config files is an external
// collaborator per spec §1, not a focus of this module.
package config

import (
	"os"
	"time"

	"github.com/chbackup/chbackup/pkg/errs"
	"gopkg.in/yaml.v3"
)

type MainConfig struct {
	User  string `yaml:"user"`
	Group string `yaml:"group"`
}

type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	CAPath   string `yaml:"ca_path"`
	Insecure bool   `yaml:"insecure"`
	DataPath string `yaml:"data_path"`
}

type StorageConfig struct {
	Type        string        `yaml:"type"`
	Endpoint    string        `yaml:"endpoint"`
	Region      string        `yaml:"region"`
	Bucket      string        `yaml:"bucket"`
	Path        string        `yaml:"path"`
	AccessKeyID string        `yaml:"access_key_id"`
	SecretKey   string        `yaml:"secret_key"`
	PartSize    int64         `yaml:"part_size"`
	Concurrency int           `yaml:"concurrency"`
	Retries     int           `yaml:"retries"`
	Timeout     time.Duration `yaml:"timeout"`
}

type EncryptionConfig struct {
	Type      string `yaml:"type"`
	Key       string `yaml:"key"`
	ChunkSize int    `yaml:"chunk_size"`
}

type BackupConfig struct {
	MinInterval             time.Duration `yaml:"min_interval"`
	DeduplicationAgeLimit   time.Duration `yaml:"deduplication_age_limit"`
	ValidatePartAfterUpload bool          `yaml:"validate_part_after_upload"`
	RetainCount             int           `yaml:"retain_count"`
	RetainTime              time.Duration `yaml:"retain_time"`
	TarballThresholdFiles   int           `yaml:"tarball_threshold_files"`

	// ExcludedDBEngines lists database-engine names whose DDL is not
	// uploaded because the database proxies an external server
	// (supplemented from ch_backup/logic/table.py).
	ExcludedDBEngines []string `yaml:"excluded_db_engines"`
	// TableEngineAllowlist, when non-empty, restricts which table engines
	// get their parts (not just DDL) backed up.
	TableEngineAllowlist []string `yaml:"table_engine_allowlist"`
}

type RestoreConfig struct {
	KeepGoing            bool `yaml:"keep_going"`
	CleanZookeeper       bool `yaml:"clean_zookeeper"`
	CloudStorageLatest   bool `yaml:"cloud_storage_latest"`
	SkipCloudStorage     bool `yaml:"skip_cloud_storage"`
	ForceNonReplicated   bool `yaml:"force_non_replicated"`
	ReplicaName          string `yaml:"replica_name"`
	RestoreReplicaMinVer string `yaml:"restore_replica_min_version"`
	ProgressPath         string `yaml:"progress_path"`
}

type ZookeeperConfig struct {
	Hosts   []string      `yaml:"hosts"`
	Timeout time.Duration `yaml:"timeout"`
}

type CloudStorageConfig struct {
	SourceBucket   string `yaml:"source_bucket"`
	SourcePath     string `yaml:"source_path"`
	SourceEndpoint string `yaml:"source_endpoint"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type Config struct {
	Main         MainConfig         `yaml:"main"`
	ClickHouse   ClickHouseConfig   `yaml:"clickhouse"`
	Storage      StorageConfig      `yaml:"storage"`
	Encryption   EncryptionConfig   `yaml:"encryption"`
	Backup       BackupConfig       `yaml:"backup"`
	Restore      RestoreConfig      `yaml:"restore"`
	Zookeeper    ZookeeperConfig    `yaml:"zookeeper"`
	CloudStorage CloudStorageConfig `yaml:"cloud_storage"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// Default returns a Config with the built-in defaults from spec §6 and the
// supplemented excluded-engine list from ch_backup/logic/table.py.
func Default() *Config {
	return &Config{
		ClickHouse: ClickHouseConfig{Host: "localhost", Port: 8123, Protocol: "http"},
		Storage:    StorageConfig{PartSize: 512 << 20, Concurrency: 4, Retries: 3, Timeout: 30 * time.Second},
		Encryption: EncryptionConfig{ChunkSize: 64 << 10},
		Backup: BackupConfig{
			TarballThresholdFiles: 10,
			ExcludedDBEngines:     []string{"MySQL", "PostgreSQL", "MaterializedPostgreSQL"},
		},
		Restore: RestoreConfig{ProgressPath: "/var/lib/chbackup/restore-state.json"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads and decodes a YAML config file on top of Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Config("reading config file", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Config("parsing config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot possibly run (ConfigError),
// before any DB or network call is made (supplemented from ch_backup/cli.py).
func (c *Config) Validate() error {
	if c.Storage.Bucket == "" {
		return errs.Config("storage.bucket is required", nil)
	}
	if c.Encryption.Type != "" && c.Encryption.Key == "" {
		return errs.Config("encryption.key is required when encryption.type is set", nil)
	}
	if c.Encryption.ChunkSize <= 0 {
		return errs.Config("encryption.chunk_size must be positive", nil)
	}
	return nil
}
