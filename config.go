package procession

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML-loadable configuration for snapshot emission and the
// optional integrations around a recorder. Every section has a usable
// zero/default value; absent sections leave the corresponding integration
// disabled.
type Config struct {
	// Snapshot controls how snapshots are serialized.
	Snapshot SnapshotFileConfig `yaml:"snapshot"`

	// Stream configures live-tail fan-out of recorded events.
	Stream StreamConfig `yaml:"stream"`

	// RemoteWrite configures Prometheus remote-write export.
	RemoteWrite *RemoteWriteConfig `yaml:"remote_write,omitempty"`

	// SQLite configures the SQLite snapshot store.
	SQLite *SQLiteSinkConfig `yaml:"sqlite,omitempty"`

	// S3 configures the S3 snapshot store.
	S3 *S3SinkConfig `yaml:"s3,omitempty"`
}

// SnapshotFileConfig is the file-friendly form of SnapshotConfig.
type SnapshotFileConfig struct {
	// Path is where snapshots are written by tools that emit them.
	Path string `yaml:"path"`
	// Format is one of "binary", "json", or "jsonl".
	Format string `yaml:"format"`
	// Compress enables snappy compression of binary snapshots.
	Compress bool `yaml:"compress"`
	// KeyPassword, when set, encrypts binary snapshots.
	KeyPassword string `yaml:"key_password,omitempty"`
}

// DefaultConfig returns the default configuration: compressed binary
// snapshots, streaming disabled, no sinks.
func DefaultConfig() Config {
	return Config{
		Snapshot: SnapshotFileConfig{
			Path:     "procession.pcsn",
			Format:   FormatBinary.String(),
			Compress: true,
		},
	}
}

// SnapshotConfig resolves the file-friendly form into a SnapshotConfig.
func (c SnapshotFileConfig) SnapshotConfig() (SnapshotConfig, error) {
	cfg := DefaultSnapshotConfig()
	if c.Format != "" {
		format, err := ParseFormat(c.Format)
		if err != nil {
			return SnapshotConfig{}, err
		}
		cfg.Format = format
	}
	cfg.Compress = c.Compress
	if c.KeyPassword != "" {
		cfg.Encryption = &EncryptionConfig{Enabled: true, KeyPassword: c.KeyPassword}
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file. Unknown fields are
// rejected so typos do not silently disable an integration.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if _, err := cfg.Snapshot.SnapshotConfig(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
