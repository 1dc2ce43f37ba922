package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, Path: "/capture"},
		Log:    LogConfig{Level: "info"},
		Capture: CaptureConfig{
			EndpointPattern: "reportconfig",
			Method:          "PUT",
			Buffer:          8,
		},
		Upstream: UpstreamConfig{
			BaseURL:    "https://analytics.example.com/reporting",
			ReportPath: "reportconfig",
		},
		Replay: ReplayConfig{
			Pacing:      PacingConfig{Mode: "fixed", Interval: time.Second, Burst: 1},
			Methods:     MethodsConfig{Create: "POST", Update: "PUT", Delete: "DELETE"},
			EventBuffer: 8,
		},
		Output: OutputConfig{Mode: "console"},
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("Default config", func(t *testing.T) {
		cfg, err := LoadConfig("", viper.New())
		if err != nil {
			t.Fatalf("Failed to load default config: %v", err)
		}

		if cfg.Server.Port != 38989 {
			t.Errorf("Expected default port 38989, got %d", cfg.Server.Port)
		}
		if cfg.Server.Path != "/capture" {
			t.Errorf("Expected default path '/capture', got %s", cfg.Server.Path)
		}
		if cfg.Capture.EndpointPattern != "reportconfig" || cfg.Capture.Method != "PUT" {
			t.Errorf("Unexpected capture defaults: %+v", cfg.Capture)
		}
		if cfg.Upstream.XSSIPrefixLength != 5 {
			t.Errorf("Expected xssi prefix length 5, got %d", cfg.Upstream.XSSIPrefixLength)
		}
		if cfg.Replay.Pacing.Interval != 2*time.Second {
			t.Errorf("Expected pacing interval 2s, got %s", cfg.Replay.Pacing.Interval)
		}
		if cfg.Replay.Methods.Create != "POST" || cfg.Replay.Methods.Delete != "DELETE" {
			t.Errorf("Unexpected replay methods: %+v", cfg.Replay.Methods)
		}
		if len(cfg.Upstream.HeaderBlacklist) == 0 {
			t.Error("Expected default header blacklist")
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Default config must validate: %v", err)
		}
	})
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{name: "Valid config", mutate: func(*Config) {}},
		{name: "Invalid port", mutate: func(c *Config) { c.Server.Port = 70000 }, errorMsg: "invalid port"},
		{name: "Empty path", mutate: func(c *Config) { c.Server.Path = "" }, errorMsg: "server path cannot be empty"},
		{name: "Invalid log level", mutate: func(c *Config) { c.Log.Level = "invalid" }, errorMsg: "invalid log level"},
		{
			name: "File logging enabled but empty path",
			mutate: func(c *Config) {
				c.Log.FileLogging = FileLogConfig{Enable: true}
			},
			errorMsg: "log file path cannot be empty",
		},
		{name: "Bad endpoint pattern", mutate: func(c *Config) { c.Capture.EndpointPattern = "(" }, errorMsg: "not a valid regexp"},
		{
			name: "DevTools without websocket url",
			mutate: func(c *Config) {
				c.Capture.DevTools = DevToolsConfig{Enable: true, URL: "http://localhost:9222"}
			},
			errorMsg: "ws:// or wss://",
		},
		{name: "Relative upstream", mutate: func(c *Config) { c.Upstream.BaseURL = "/reporting" }, errorMsg: "absolute url"},
		{name: "Negative xssi prefix", mutate: func(c *Config) { c.Upstream.XSSIPrefixLength = -1 }, errorMsg: "xssi prefix"},
		{name: "Unknown pacing mode", mutate: func(c *Config) { c.Replay.Pacing.Mode = "burst" }, errorMsg: "pacing mode"},
		{name: "Missing delete method", mutate: func(c *Config) { c.Replay.Methods.Delete = "" }, errorMsg: "replay method for delete"},
		{
			name: "Auth without users",
			mutate: func(c *Config) {
				c.Web = WebConfig{Enable: true, AdminPath: "/api", Auth: WebAuthConfig{Enable: true, SessionTimeout: time.Hour}}
			},
			errorMsg: "at least one user",
		},
		{name: "Bad output mode", mutate: func(c *Config) { c.Output.Mode = "xml" }, errorMsg: "output mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error, but got: %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("Expected error containing '%s', but got no error", tt.errorMsg)
			} else if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestLoadConfigWithFile(t *testing.T) {
	configContent := `
server:
  port: 9999
  path: "/ingest"

log:
  level: "debug"

capture:
  endpoint_pattern: "reportconfig|explorer"
  buffer: 16

upstream:
  base_url: "http://127.0.0.1:9000/reporting"
  cookie: "SID=abc"
  header_blacklist:
    - "X-Debug"
    - "x-debug"
    - "Host"

replay:
  pacing:
    mode: token_bucket
    interval: 500ms
    burst: 2
  methods:
    delete: post
`

	tmpFile, err := os.CreateTemp("", "reportsync_test_config_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("Failed to write config content: %v", err)
	}
	tmpFile.Close()

	cfg, err := LoadConfig(tmpFile.Name(), viper.New())
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9999 || cfg.Server.Path != "/ingest" {
		t.Errorf("Unexpected server config: %+v", cfg.Server)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level 'debug', got %s", cfg.Log.Level)
	}
	if cfg.Capture.Buffer != 16 {
		t.Errorf("Expected capture buffer 16, got %d", cfg.Capture.Buffer)
	}
	if cfg.Upstream.Cookie != "SID=abc" {
		t.Errorf("Expected cookie to load, got %q", cfg.Upstream.Cookie)
	}
	if len(cfg.Upstream.HeaderBlacklist) != 2 || cfg.Upstream.HeaderBlacklist[0] != "x-debug" {
		t.Errorf("Expected normalized blacklist, got %v", cfg.Upstream.HeaderBlacklist)
	}
	if cfg.Replay.Pacing.Mode != "token_bucket" || cfg.Replay.Pacing.Interval != 500*time.Millisecond || cfg.Replay.Pacing.Burst != 2 {
		t.Errorf("Unexpected pacing: %+v", cfg.Replay.Pacing)
	}
	if cfg.Replay.Methods.Delete != "POST" || cfg.Replay.Methods.Create != "POST" {
		t.Errorf("Unexpected methods: %+v", cfg.Replay.Methods)
	}
}

func TestLoadConfigInvalidFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml", viper.New())
	if err == nil {
		t.Error("Expected error for missing config file")
	}
	if cfg != nil {
		t.Error("Expected nil config for missing file")
	}
}
