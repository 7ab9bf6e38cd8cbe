// Package config provides application configuration management from a YAML
// file and environment variables.
//
// # Overview
//
// Configuration is layered: built-in defaults, then the optional YAML file
// named by ENGAGE_CONFIG_FILE, then ENGAGE_* environment variables. The
// result is validated before it is returned.
//
// # Configuration Structure
//
// Ops server settings:
//
//	ENGAGE_HOST="0.0.0.0"
//	ENGAGE_PORT="9090"
//	ENGAGE_SHUTDOWN_TIMEOUT="30s"
//
// Data store settings:
//
//	ENGAGE_POSTGRES_URL="postgres://localhost/crm"
//	ENGAGE_POSTGRES_REPLICA_URLS="postgres://r1/crm,postgres://r2/crm"
//	ENGAGE_POSTGRES_MAX_CONNS="25"
//
// Cache settings:
//
//	ENGAGE_CACHE_ENABLED="true"
//	ENGAGE_REDIS_URL="redis://localhost:6379"
//	ENGAGE_L1_CACHE_SIZE="1024"
//	ENGAGE_CACHE_SERIES_TTL="10m"
//	ENGAGE_CACHE_ANALYSIS_TTL="1h"
//	ENGAGE_CACHE_SUMMARY_TTL="5m"
//
// Analytics settings (hot-reloaded from the file by Watcher):
//
//	ENGAGE_DEFAULT_MONTHS="12"
//	ENGAGE_DEFAULT_SENSITIVITY="2.0"
//	ENGAGE_WARM_SCHEDULE="*/15 * * * *"
//
// Observability settings:
//
//	ENGAGE_LOG_LEVEL="info"  # debug, info, warn, error
//	ENGAGE_LOG_FORMAT="json" # json, text
//	ENGAGE_METRICS_ENABLED="true"
//	ENGAGE_OTEL_ENABLED="true"
//	ENGAGE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	engine := analytics.NewEngine(db, analytics.WithDefaults(cfg.Analytics.Defaults()))
//
// # Related Packages
//
//   - pkg/storage/postgres: Uses PostgresConfig.Connection
//   - pkg/cache: Uses CacheConfig.Backend
//   - pkg/observability: Uses ObservabilityConfig.OTel
package config
