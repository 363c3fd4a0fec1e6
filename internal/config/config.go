// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Env is the application environment (e.g. "development", "production"). Gates the offline auth override.
	Env string `mapstructure:"APP_ENV"`
	// CORSAllowedOrigin is the origin echoed in CORS headers (e.g. https://console.example.com).
	CORSAllowedOrigin string `mapstructure:"CORS_ALLOWED_ORIGIN"`
	// OfflineAuthOverride when true lets requests select a provider/organization via query
	// parameters instead of a bearer token. Must not be true when Env is production.
	OfflineAuthOverride bool `mapstructure:"OFFLINE_AUTH_OVERRIDE"`

	// OIDCIssuerURL is the expected iss claim of access tokens (the IdP realm URL).
	OIDCIssuerURL string `mapstructure:"OIDC_JWT_ISSUER_URL"`
	// OIDCClientID is the expected aud claim of access tokens.
	OIDCClientID string `mapstructure:"OIDC_CLIENT_ID"`
	// OIDCClientSecret is the client secret used for the directory admin API service token.
	OIDCClientSecret string `mapstructure:"OIDC_CLIENT_SECRET"`
	// OIDCPublicKey is the PEM-encoded IdP signing public key (RSA or ECDSA) or path to file.
	OIDCPublicKey string `mapstructure:"OIDC_JWT_PUBLIC_KEY"`
	// AdminRole is the token role that grants unscoped access to every provider (default admin).
	AdminRole string `mapstructure:"ADMIN_ROLE"`

	// DirectoryAPIBaseURL is the IdP admin API base URL used to list provider groups.
	DirectoryAPIBaseURL string `mapstructure:"DIRECTORY_API_BASE_URL"`

	// AWSEndpointURL overrides the endpoint of every AWS client (localstack). Empty in real deployments.
	AWSEndpointURL string `mapstructure:"AWS_ENDPOINT_URL"`
	// FleetIndexRegion is the region of the IoT fleet index.
	FleetIndexRegion string `mapstructure:"FLEET_INDEX_REGION"`
	// DeactivatedThingGroup is the IoT thing group that hides devices from listings.
	DeactivatedThingGroup string `mapstructure:"DEACTIVATED_THING_GROUP"`
	// DeviceLedgerTableName is the DynamoDB table holding durable device records.
	DeviceLedgerTableName string `mapstructure:"DEVICE_LEDGER_TABLE_NAME"`
	// DeviceLedgerRegion is the region of the device ledger table.
	DeviceLedgerRegion string `mapstructure:"DEVICE_LEDGER_REGION"`
	// SchemaRegistryTableName is the DynamoDB table holding device data schemas.
	SchemaRegistryTableName string `mapstructure:"SCHEMA_REGISTRY_TABLE_NAME"`
	// SchemaRegistryRegion is the region of the schema registry table.
	SchemaRegistryRegion string `mapstructure:"SCHEMA_REGISTRY_REGION"`
	// AlarmsTableName is the DynamoDB table holding alarm notification subscriptions.
	AlarmsTableName string `mapstructure:"DEVICE_ALARMS_TABLE_NAME"`
	// AlarmsRegion is the region of the alarms table and SNS topics.
	AlarmsRegion string `mapstructure:"DEVICE_ALARMS_REGION"`
	// AlarmsTopicARNPrefix is the SNS topic ARN prefix; per-device topics are <prefix>_<device>.
	AlarmsTopicARNPrefix string `mapstructure:"DEVICE_ALARMS_SNS_TOPIC_ARN_PREFIX"`
	// AlarmsDefaultSink is the topic suffix receiving alarms no routing rule claims.
	AlarmsDefaultSink string `mapstructure:"DEVICE_ALARMS_DEFAULT_SINK"`
	// AlarmsRoutingPolicy optionally replaces the built-in routing rules with a Rego policy (inline or path).
	AlarmsRoutingPolicy string `mapstructure:"DEVICE_ALARMS_ROUTING_POLICY"`
	// StreamDataBucketName is the S3 bucket holding raw device stream objects for previews.
	StreamDataBucketName string `mapstructure:"STREAM_DATA_BUCKET_NAME"`
	// StreamDataRegion is the region of the stream data bucket.
	StreamDataRegion string `mapstructure:"STREAM_DATA_REGION"`

	// DatabaseURL is the Postgres DSN for the alarm history store; empty disables history.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AlarmsKafkaTopic is the topic carrying device alarm events (default device-alarms).
	AlarmsKafkaTopic string `mapstructure:"DEVICE_ALARMS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the alarms router.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// DevicePageSize is the default device listing page size. Capped at DevicePageSizeMax.
	DevicePageSize int `mapstructure:"DEVICE_PAGE_SIZE"`
	// DevicePageSizeMax bounds caller-supplied page sizes.
	DevicePageSizeMax int `mapstructure:"DEVICE_PAGE_SIZE_MAX"`
	// DownstreamTimeout bounds each downstream call (e.g. "10s").
	DownstreamTimeout string `mapstructure:"DOWNSTREAM_TIMEOUT"`
	// LedgerJoinTimeout bounds the ledger attribute join during listing (e.g. "3s");
	// on expiry the page degrades to partial records instead of failing.
	LedgerJoinTimeout string `mapstructure:"LEDGER_JOIN_TIMEOUT"`

	// OTELEndpoint is the OTLP gRPC endpoint for traces/metrics/logs; empty disables export.
	OTELEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTELServiceName identifies this process in telemetry (default streaming-status-api).
	OTELServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("CORS_ALLOWED_ORIGIN", "*")
	v.SetDefault("OFFLINE_AUTH_OVERRIDE", false)
	v.SetDefault("OIDC_JWT_ISSUER_URL", "")
	v.SetDefault("OIDC_CLIENT_ID", "")
	v.SetDefault("OIDC_CLIENT_SECRET", "")
	v.SetDefault("OIDC_JWT_PUBLIC_KEY", "")
	v.SetDefault("ADMIN_ROLE", "admin")
	v.SetDefault("DIRECTORY_API_BASE_URL", "")
	v.SetDefault("AWS_ENDPOINT_URL", "")
	v.SetDefault("FLEET_INDEX_REGION", "")
	v.SetDefault("DEACTIVATED_THING_GROUP", "deactivated")
	v.SetDefault("DEVICE_LEDGER_TABLE_NAME", "")
	v.SetDefault("DEVICE_LEDGER_REGION", "")
	v.SetDefault("SCHEMA_REGISTRY_TABLE_NAME", "")
	v.SetDefault("SCHEMA_REGISTRY_REGION", "")
	v.SetDefault("DEVICE_ALARMS_TABLE_NAME", "")
	v.SetDefault("DEVICE_ALARMS_REGION", "")
	v.SetDefault("DEVICE_ALARMS_SNS_TOPIC_ARN_PREFIX", "")
	v.SetDefault("DEVICE_ALARMS_DEFAULT_SINK", "unrouted")
	v.SetDefault("DEVICE_ALARMS_ROUTING_POLICY", "")
	v.SetDefault("STREAM_DATA_BUCKET_NAME", "")
	v.SetDefault("STREAM_DATA_REGION", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("DEVICE_ALARMS_KAFKA_TOPIC", "device-alarms")
	v.SetDefault("KAFKA_GROUP_ID", "alarms-router")
	v.SetDefault("DEVICE_PAGE_SIZE", 20)
	v.SetDefault("DEVICE_PAGE_SIZE_MAX", 100)
	v.SetDefault("DOWNSTREAM_TIMEOUT", "10s")
	v.SetDefault("LEDGER_JOIN_TIMEOUT", "3s")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_SERVICE_NAME", "streaming-status-api")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.OfflineAuthOverride && cfg.Env == "production" {
		return nil, errors.New("config: OFFLINE_AUTH_OVERRIDE must not be true when APP_ENV=production")
	}

	if !cfg.OfflineAuthOverride {
		if cfg.OIDCIssuerURL == "" {
			return nil, errors.New("config: OIDC_JWT_ISSUER_URL must be set unless OFFLINE_AUTH_OVERRIDE is enabled")
		}
		if cfg.OIDCClientID == "" {
			return nil, errors.New("config: OIDC_CLIENT_ID must be set unless OFFLINE_AUTH_OVERRIDE is enabled")
		}
		if cfg.OIDCPublicKey == "" {
			return nil, errors.New("config: OIDC_JWT_PUBLIC_KEY must be set unless OFFLINE_AUTH_OVERRIDE is enabled")
		}
	}

	if cfg.DevicePageSize <= 0 {
		cfg.DevicePageSize = 20
	}
	if cfg.DevicePageSizeMax <= 0 {
		cfg.DevicePageSizeMax = 100
	}
	if cfg.DevicePageSize > cfg.DevicePageSizeMax {
		return nil, errors.New("config: DEVICE_PAGE_SIZE must not exceed DEVICE_PAGE_SIZE_MAX")
	}

	return &cfg, nil
}

// RequestTimeout parses DownstreamTimeout as a time.Duration. Returns 10s if unset or invalid.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.DownstreamTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// JoinTimeout parses LedgerJoinTimeout as a time.Duration. Returns 3s if unset or invalid.
func (c *Config) JoinTimeout() time.Duration {
	if c == nil {
		return 3 * time.Second
	}
	d, err := time.ParseDuration(c.LedgerJoinTimeout)
	if err != nil || d <= 0 {
		return 3 * time.Second
	}
	return d
}

// IsProduction reports whether the app runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the alarms pipeline is enabled (non-empty list) and to create clients.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
