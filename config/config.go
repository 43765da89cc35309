// Package config holds the flags shared by every node and loads their values
// from the command line, the environment (prefix BAZAAR) and an optional
// config file, in that order of precedence.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variable of every flag, e.g. BAZAAR_KEY for --key.
const EnvPrefix = "BAZAAR"

const (
	configFile  = "config"
	keyPath     = "key"
	generateKey = "generate-key"
	logLevel    = "loglevel"
	metricsAddr = "metrics-addr"
	dataDir     = "datadir"
	storageKind = "storage"
	s3Bucket    = "s3-bucket"
	s3Prefix    = "s3-prefix"
	s3Region    = "s3-region"
	s3Endpoint  = "s3-endpoint"
)

// StorageKind selects where proofs and inputs are stored.
type StorageKind string

const (
	StorageMemory StorageKind = "memory"
	StorageBadger StorageKind = "badger"
	StorageS3     StorageKind = "s3"
)

// BaseConfig is the configuration common to every node.
type BaseConfig struct {
	KeyPath     string
	GenerateKey bool
	LogLevel    string
	// MetricsAddr is the address of the prometheus endpoint, disabled when empty.
	MetricsAddr string
	DataDir     string
	Storage     StorageKind
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
}

// InitializeBaseFlags registers the flags shared by every node.
func InitializeBaseFlags(flags *pflag.FlagSet) {
	flags.String(configFile, "", "path to a config file (yaml, json or toml) holding flag values")
	flags.String(keyPath, "", "path of the Ed25519 networking key")
	flags.Bool(generateKey, false, "generate the networking key when the key file is missing")
	flags.String(logLevel, "info", "level for logging output (debug, info, warn, error)")
	flags.String(metricsAddr, "", "address of the prometheus metrics endpoint, e.g. :8080")
	flags.String(dataDir, "data", "directory holding local state")
	flags.String(storageKind, string(StorageBadger), "content storage backend (memory, badger, s3)")
	flags.String(s3Bucket, "", "bucket holding content when --storage=s3")
	flags.String(s3Prefix, "bazaar", "key prefix of content objects when --storage=s3")
	flags.String(s3Region, "", "region of the bucket, from the environment when empty")
	flags.String(s3Endpoint, "", "endpoint of an S3 compatible store")
}

// NewViper returns a viper store with flags bound, the environment enabled and
// the config file named by --config read.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("could not bind flags: %w", err)
	}
	// BAZAAR_LOG is accepted as well as BAZAAR_LOGLEVEL
	if err := v.BindEnv(logLevel, EnvPrefix+"_LOGLEVEL", EnvPrefix+"_LOG"); err != nil {
		return nil, fmt.Errorf("could not bind log level: %w", err)
	}

	if path := v.GetString(configFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config file %s: %w", path, err)
		}
	}
	return v, nil
}

// LoadBase reads and validates the base configuration.
func LoadBase(v *viper.Viper) (BaseConfig, error) {
	cfg := BaseConfig{
		KeyPath:     v.GetString(keyPath),
		GenerateKey: v.GetBool(generateKey),
		LogLevel:    v.GetString(logLevel),
		MetricsAddr: v.GetString(metricsAddr),
		DataDir:     v.GetString(dataDir),
		Storage:     StorageKind(v.GetString(storageKind)),
		S3Bucket:    v.GetString(s3Bucket),
		S3Prefix:    v.GetString(s3Prefix),
		S3Region:    v.GetString(s3Region),
		S3Endpoint:  v.GetString(s3Endpoint),
	}
	if cfg.KeyPath == "" {
		cfg.KeyPath = filepath.Join(cfg.DataDir, "key")
	}
	switch cfg.Storage {
	case StorageMemory, StorageBadger:
	case StorageS3:
		if cfg.S3Bucket == "" {
			return BaseConfig{}, fmt.Errorf("--%s is required with --%s=s3", s3Bucket, storageKind)
		}
	default:
		return BaseConfig{}, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
	return cfg, nil
}
