package images

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// DefaultConfigPath is read when no config path is given and the file exists.
const DefaultConfigPath = "config/config.yaml"

// Backend names accepted in the configuration.
const (
	BackendS3         = "s3"
	BackendDynamoDB   = "dynamodb"
	BackendDocumentDB = "documentdb"
	BackendMemory     = "memory"
)

// Config represents the service configuration. It is built once by
// LoadConfig and not modified afterwards.
type Config struct {
	Env         string            `yaml:"env"`
	AWS         AWSConfig         `yaml:"aws"`
	BlobStore   BlobStoreConfig   `yaml:"blob_store"`
	RecordStore RecordStoreConfig `yaml:"record_store"`
	Cache       CacheConfig       `yaml:"cache"`
	Log         LogConfig         `yaml:"log"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type AWSConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type BlobStoreConfig struct {
	Backend       string `yaml:"backend"`
	BucketName    string `yaml:"bucket_name"`
	URLTTLSeconds int    `yaml:"url_ttl_seconds"`
}

// URLTTL is the lifetime of presigned download links.
func (c BlobStoreConfig) URLTTL() time.Duration {
	return time.Duration(c.URLTTLSeconds) * time.Second
}

type RecordStoreConfig struct {
	Backend    string           `yaml:"backend"`
	TableName  string           `yaml:"table_name"`
	DocumentDB DocumentDBConfig `yaml:"documentdb"`
}

type DocumentDBConfig struct {
	ConnectionString string `yaml:"connection_string"`
	DatabaseName     string `yaml:"database_name"`
	TLSCAFile        string `yaml:"tls_ca_file"`
}

// CacheConfig configures the optional Redis record cache. An empty
// Address disables it.
type CacheConfig struct {
	Address    string `yaml:"address"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// LoadConfig builds the configuration from defaults, the YAML file at path
// and the environment, in that order of precedence (environment wins).
// An empty path falls back to DefaultConfigPath if that file exists.
func LoadConfig(path string) (*Config, error) {
	var config Config

	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); err == nil {
			path = DefaultConfigPath
		}
	}
	if path != "" {
		if err := loadConfigFile(path, &config); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&config)
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// loadConfigFile loads the configuration from a YAML file
func loadConfigFile(path string, config *Config) error {
	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyEnvOverrides replaces file values with TESTAGRAM_* variables, e.g.
// TESTAGRAM_BLOB_STORE_BUCKET_NAME. The usual AWS_* variables are honoured
// for the AWS section.
func applyEnvOverrides(config *Config) {
	v := viper.New()
	v.SetEnvPrefix("TESTAGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("aws.region", "TESTAGRAM_AWS_REGION", "AWS_REGION")
	_ = v.BindEnv("aws.endpoint", "TESTAGRAM_AWS_ENDPOINT", "AWS_ENDPOINT_URL")
	_ = v.BindEnv("aws.access_key_id", "TESTAGRAM_AWS_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("aws.secret_access_key", "TESTAGRAM_AWS_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("localstack_hostname", "LOCALSTACK_HOSTNAME")

	overrideString(v, "env", &config.Env)
	overrideString(v, "aws.region", &config.AWS.Region)
	overrideString(v, "aws.endpoint", &config.AWS.Endpoint)
	overrideString(v, "aws.access_key_id", &config.AWS.AccessKeyID)
	overrideString(v, "aws.secret_access_key", &config.AWS.SecretAccessKey)
	overrideString(v, "blob_store.backend", &config.BlobStore.Backend)
	overrideString(v, "blob_store.bucket_name", &config.BlobStore.BucketName)
	overrideInt(v, "blob_store.url_ttl_seconds", &config.BlobStore.URLTTLSeconds)
	overrideString(v, "record_store.backend", &config.RecordStore.Backend)
	overrideString(v, "record_store.table_name", &config.RecordStore.TableName)
	overrideString(v, "record_store.documentdb.connection_string", &config.RecordStore.DocumentDB.ConnectionString)
	overrideString(v, "record_store.documentdb.database_name", &config.RecordStore.DocumentDB.DatabaseName)
	overrideString(v, "record_store.documentdb.tls_ca_file", &config.RecordStore.DocumentDB.TLSCAFile)
	overrideString(v, "cache.address", &config.Cache.Address)
	overrideInt(v, "cache.ttl_seconds", &config.Cache.TTLSeconds)
	overrideString(v, "log.level", &config.Log.Level)
	overrideString(v, "log.format", &config.Log.Format)
	overrideString(v, "telemetry.otlp_endpoint", &config.Telemetry.OTLPEndpoint)

	// LocalStack injects its hostname into containers it starts.
	if config.AWS.Endpoint == "" && v.IsSet("localstack_hostname") {
		config.AWS.Endpoint = fmt.Sprintf("http://%s:4566", v.GetString("localstack_hostname"))
	}
}

func overrideString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func overrideInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

// applyDefaults sets default values for the configuration
func applyDefaults(config *Config) {
	if config.Env == "" {
		config.Env = "dev"
	}
	if config.AWS.Region == "" {
		config.AWS.Region = "us-east-1"
	}
	if config.BlobStore.Backend == "" {
		config.BlobStore.Backend = BackendS3
	}
	if config.BlobStore.BucketName == "" {
		config.BlobStore.BucketName = "testagram-images"
	}
	if config.BlobStore.URLTTLSeconds == 0 {
		config.BlobStore.URLTTLSeconds = int(DefaultURLTTL / time.Second)
	}
	if config.RecordStore.Backend == "" {
		config.RecordStore.Backend = BackendDynamoDB
	}
	if config.RecordStore.TableName == "" {
		config.RecordStore.TableName = "testagram-metadata"
	}
	if config.RecordStore.DocumentDB.DatabaseName == "" {
		config.RecordStore.DocumentDB.DatabaseName = "testagram"
	}
	if config.Cache.TTLSeconds == 0 {
		config.Cache.TTLSeconds = 300
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// Validate checks backend names and required fields.
func (c *Config) Validate() error {
	switch c.BlobStore.Backend {
	case BackendS3, BackendMemory:
	default:
		return fmt.Errorf("unknown blob store backend: %q", c.BlobStore.Backend)
	}
	switch c.RecordStore.Backend {
	case BackendDynamoDB, BackendMemory:
	case BackendDocumentDB:
		if c.RecordStore.DocumentDB.ConnectionString == "" {
			return fmt.Errorf("record_store.documentdb.connection_string is required for the documentdb backend")
		}
	default:
		return fmt.Errorf("unknown record store backend: %q", c.RecordStore.Backend)
	}
	if c.BlobStore.URLTTLSeconds < 0 {
		return fmt.Errorf("blob_store.url_ttl_seconds must not be negative")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format: %q", c.Log.Format)
	}
	return nil
}
