// Package config loads the report service configuration.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. A YAML configuration file
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern REPORTS_<SECTION>_<FIELD>:
//
//	REPORTS_SERVER_PORT=8080
//	REPORTS_SOURCE_BASE_URL=https://admin.example.com
//	REPORTS_SOURCE_TOKEN=...
//	REPORTS_REPORT_DEFAULT_CHUNK_SIZE=1000
//	REPORTS_STORE_DSN=data/runs.db
//
// The file is taken from REPORTS_CONFIG_FILE, or config.yaml / configs/config.yaml
// in the working directory.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Tests use config.Default(), which carries the same defaults without reading
// the environment.
package config
