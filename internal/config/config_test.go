package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad tests the Load function with various scenarios
func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		fileContent string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "default configuration with no env vars",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 30*time.Minute, cfg.Server.RunTimeout)
				assert.Equal(t, []string{"http://localhost:8080"}, cfg.Security.AllowedOrigins)
				assert.Equal(t, 100, cfg.Source.PageSize)
				assert.Equal(t, 30*time.Second, cfg.Source.Timeout)
				assert.Equal(t, 8, cfg.Source.EnrichConcurrency)
				assert.True(t, cfg.Source.EnrichDetails)
				assert.Equal(t, "/api/v1/admin/payments", cfg.Source.PaymentsPath)
				assert.Equal(t, "/api/v1/admin/users", cfg.Source.UsersPath)
				assert.Equal(t, "/api/v1/auth", cfg.Source.UserDetailPath)
				assert.Equal(t, 0, cfg.Report.DefaultChunkSize)
				assert.Equal(t, "sqlite", cfg.Store.Driver)
				assert.False(t, cfg.Sheets.Enabled)
				assert.Equal(t, "json", cfg.Logging.Format)
			},
		},
		{
			name: "environment overrides",
			env: map[string]string{
				"REPORTS_SERVER_PORT":                "9090",
				"REPORTS_SOURCE_BASE_URL":            "https://admin.example.com",
				"REPORTS_SOURCE_PAGE_SIZE":           "250",
				"REPORTS_REPORT_DEFAULT_CHUNK_SIZE":  "1000",
				"REPORTS_SECURITY_ALLOWED_ORIGINS":   "http://a.test,http://b.test",
				"REPORTS_SOURCE_ENRICH_DETAILS":      "false",
				"REPORTS_STORE_DRIVER":               "memory",
				"REPORTS_LOGGING_OUTPUT":             "nowhere",
				"REPORTS_SOURCE_REQUESTS_PER_SECOND": "2.5",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, "https://admin.example.com", cfg.Source.BaseURL)
				assert.Equal(t, 250, cfg.Source.PageSize)
				assert.Equal(t, 1000, cfg.Report.DefaultChunkSize)
				assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Security.AllowedOrigins)
				assert.False(t, cfg.Source.EnrichDetails)
				assert.Equal(t, "memory", cfg.Store.Driver)
				assert.Equal(t, "console", cfg.Logging.Output)
				assert.Equal(t, 2.5, cfg.Source.RequestsPerSecond)
			},
		},
		{
			name: "file values apply under env",
			env: map[string]string{
				"REPORTS_SERVER_PORT": "7070",
			},
			fileContent: `
server:
  port: 9000
source:
  base_url: https://file.example.com
  page_size: 50
report:
  timezone: UTC
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7070, cfg.Server.Port)
				assert.Equal(t, "https://file.example.com", cfg.Source.BaseURL)
				assert.Equal(t, 50, cfg.Source.PageSize)
				assert.Equal(t, "UTC", cfg.Report.Timezone)
				assert.Equal(t, 100.0, cfg.Security.RateLimit.RPS)
			},
		},
		{
			name:    "invalid port",
			env:     map[string]string{"REPORTS_SERVER_PORT": "70000"},
			wantErr: true,
		},
		{
			name:    "invalid base url",
			env:     map[string]string{"REPORTS_SOURCE_BASE_URL": "not a url"},
			wantErr: true,
		},
		{
			name:    "unknown timezone",
			env:     map[string]string{"REPORTS_REPORT_TIMEZONE": "Mars/Olympus"},
			wantErr: true,
		},
		{
			name:    "unsupported store driver",
			env:     map[string]string{"REPORTS_STORE_DRIVER": "postgres"},
			wantErr: true,
		},
		{
			name:    "sheets without spreadsheet",
			env:     map[string]string{"REPORTS_SHEETS_ENABLED": "true"},
			wantErr: true,
		},
		{
			name:    "invalid env value",
			env:     map[string]string{"REPORTS_SOURCE_PAGE_SIZE": "many"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Point at an empty file by default so a stray config.yaml never leaks in
			configFile := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(configFile, []byte(tt.fileContent), 0644))
			t.Setenv("REPORTS_CONFIG_FILE", configFile)

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
			if tt.validateCfg != nil {
				tt.validateCfg(t, cfg)
			}
		})
	}
}

// TestLoadFromFile tests the loadFromFile function
func TestLoadFromFile(t *testing.T) {
	tests := []struct {
		name        string
		fileContent string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "valid YAML config",
			fileContent: `
server:
  port: 9000
  read_timeout: 25s
source:
  token: secret
  enrich_concurrency: 4
sheets:
  enabled: true
  spreadsheet_id: sheet-1
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, 25*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, "secret", cfg.Source.Token)
				assert.Equal(t, 4, cfg.Source.EnrichConcurrency)
				assert.True(t, cfg.Sheets.Enabled)
				assert.Equal(t, "sheet-1", cfg.Sheets.SpreadsheetID)
			},
		},
		{
			name:        "invalid YAML syntax",
			fileContent: "invalid: yaml: content: [unclosed",
			wantErr:     true,
		},
		{
			name: "partial config",
			fileContent: `
server:
  port: 8888
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8888, cfg.Server.Port)
				// Other fields should be zero values
				assert.Equal(t, time.Duration(0), cfg.Server.ReadTimeout)
				assert.Empty(t, cfg.Source.BaseURL)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(configFile, []byte(tt.fileContent), 0644))

			cfg, err := loadFromFile(configFile)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
			tt.validateCfg(t, cfg)
		})
	}

	t.Run("non-existent file", func(t *testing.T) {
		_, err := loadFromFile("/non/existent/file.yaml")
		assert.Error(t, err)
	})
}

// TestMergeConfigs tests that env values win and file values fill defaults
func TestMergeConfigs(t *testing.T) {
	t.Setenv("REPORTS_SOURCE_PAGE_SIZE", "300")

	envConfig := *Default()
	envConfig.Source.PageSize = 300

	fileConfig := Config{
		Source: SourceConfig{
			PageSize: 25,
			BaseURL:  "https://file.example.com",
		},
		Report: ReportConfig{OutputDir: "/srv/reports"},
	}

	merged := mergeConfigs(fileConfig, envConfig)

	assert.Equal(t, 300, merged.Source.PageSize)
	assert.Equal(t, "https://file.example.com", merged.Source.BaseURL)
	assert.Equal(t, "/srv/reports", merged.Report.OutputDir)
	assert.Equal(t, 8080, merged.Server.Port)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Source.PageSize)
	assert.Equal(t, "Europe/Moscow", cfg.Report.Timezone)
	assert.Equal(t, "Europe/Moscow", cfg.Location().String())
}

func TestLocationFallback(t *testing.T) {
	cfg := Default()
	cfg.Report.Timezone = "Nowhere/Special"
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.Report.Timezone = ""
	assert.Equal(t, time.UTC, cfg.Location())
}
