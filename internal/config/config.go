package config

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config application configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Capture  CaptureConfig  `yaml:"capture" mapstructure:"capture"`
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`
	Replay   ReplayConfig   `yaml:"replay" mapstructure:"replay"`
	Web      WebConfig      `yaml:"web" mapstructure:"web"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
}

// ServerConfig HTTP server configuration
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// Path is where observed requests are ingested
	Path string `yaml:"path" mapstructure:"path"`
	// MaxBodyBytes limits the size of accepted request bodies (0 = unlimited)
	MaxBodyBytes int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// LogConfig log configuration
type LogConfig struct {
	Level       string        `yaml:"level" mapstructure:"level"`
	FileLogging FileLogConfig `yaml:"file_logging" mapstructure:"file_logging"`
}

// FileLogConfig file log configuration
type FileLogConfig struct {
	Enable     bool   `yaml:"enable" mapstructure:"enable"`
	Path       string `yaml:"path" mapstructure:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// CaptureConfig controls which observed requests become captures
type CaptureConfig struct {
	EndpointPattern string         `yaml:"endpoint_pattern" mapstructure:"endpoint_pattern"`
	Method          string         `yaml:"method" mapstructure:"method"`
	Buffer          int            `yaml:"buffer" mapstructure:"buffer"`
	Mirror          bool           `yaml:"mirror" mapstructure:"mirror"`
	DevTools        DevToolsConfig `yaml:"devtools" mapstructure:"devtools"`
}

// DevToolsConfig configures the Chrome DevTools protocol observer
type DevToolsConfig struct {
	Enable         bool          `yaml:"enable" mapstructure:"enable"`
	URL            string        `yaml:"url" mapstructure:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay"`
}

// UpstreamConfig describes the analytics frontend endpoints and transport
type UpstreamConfig struct {
	BaseURL               string   `yaml:"base_url" mapstructure:"base_url"`
	ReportPath            string   `yaml:"report_path" mapstructure:"report_path"`
	UserDimensionsPath    string   `yaml:"user_dimensions_path" mapstructure:"user_dimensions_path"`
	CustomDefinitionsPath string   `yaml:"custom_definitions_path" mapstructure:"custom_definitions_path"`
	DefinitionsQuery      string   `yaml:"definitions_query" mapstructure:"definitions_query"`
	Referrer              string   `yaml:"referrer" mapstructure:"referrer"`
	LinkTemplate          string   `yaml:"link_template" mapstructure:"link_template"`
	TokenHeader           string   `yaml:"token_header" mapstructure:"token_header"`
	Cookie                string   `yaml:"cookie" mapstructure:"cookie"`
	XSSIPrefixLength      int      `yaml:"xssi_prefix_length" mapstructure:"xssi_prefix_length"`
	Timeout               int      `yaml:"timeout" mapstructure:"timeout"`
	MaxIdleConns          int      `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	IdleConnTimeout       int      `yaml:"idle_conn_timeout" mapstructure:"idle_conn_timeout"`
	ResponseHeaderTimeout int      `yaml:"response_header_timeout" mapstructure:"response_header_timeout"`
	TLSHandshakeTimeout   int      `yaml:"tls_handshake_timeout" mapstructure:"tls_handshake_timeout"`
	TLSInsecureSkipVerify bool     `yaml:"tls_insecure_skip_verify" mapstructure:"tls_insecure_skip_verify"`
	HeaderBlacklist       []string `yaml:"header_blacklist" mapstructure:"header_blacklist"`
}

// ReplayConfig controls the replay orchestrator
type ReplayConfig struct {
	Pacing      PacingConfig  `yaml:"pacing" mapstructure:"pacing"`
	Methods     MethodsConfig `yaml:"methods" mapstructure:"methods"`
	EventBuffer int           `yaml:"event_buffer" mapstructure:"event_buffer"`
}

// PacingConfig rate limits consecutive submissions
type PacingConfig struct {
	Mode     string        `yaml:"mode" mapstructure:"mode"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	Burst    int           `yaml:"burst" mapstructure:"burst"`
}

// MethodsConfig maps each action to an HTTP method
type MethodsConfig struct {
	Create string `yaml:"create" mapstructure:"create"`
	Update string `yaml:"update" mapstructure:"update"`
	Delete string `yaml:"delete" mapstructure:"delete"`
}

// WebConfig control API configuration
type WebConfig struct {
	Enable    bool            `yaml:"enable" mapstructure:"enable"`
	AdminPath string          `yaml:"admin_path" mapstructure:"admin_path"`
	Auth      WebAuthConfig   `yaml:"auth" mapstructure:"auth"`
	Export    WebExportConfig `yaml:"export" mapstructure:"export"`
}

// WebAuthConfig authentication configuration
type WebAuthConfig struct {
	Enable         bool            `yaml:"enable" mapstructure:"enable"`
	SessionTimeout time.Duration   `yaml:"session_timeout" mapstructure:"session_timeout"`
	Users          []WebUserConfig `yaml:"users" mapstructure:"users"`
}

// WebUserConfig user credential configuration
type WebUserConfig struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Role     string `yaml:"role" mapstructure:"role"`
}

// WebExportConfig export configuration
type WebExportConfig struct {
	Enable  bool     `yaml:"enable" mapstructure:"enable"`
	Formats []string `yaml:"formats" mapstructure:"formats"`
}

// OutputConfig controls CLI output style
type OutputConfig struct {
	Mode    string            `yaml:"mode" mapstructure:"mode"`
	Silence bool              `yaml:"silence" mapstructure:"silence"`
	Locale  string            `yaml:"locale" mapstructure:"locale"`
	Payload PayloadViewConfig `yaml:"payload" mapstructure:"payload"`
}

// PayloadViewConfig controls how captured payloads are previewed on the console
type PayloadViewConfig struct {
	Enable          bool `yaml:"enable" mapstructure:"enable"`
	Pretty          bool `yaml:"pretty" mapstructure:"pretty"`
	MaxPreviewBytes int  `yaml:"max_preview_bytes" mapstructure:"max_preview_bytes"`
	MaxIndentBytes  int  `yaml:"max_indent_bytes" mapstructure:"max_indent_bytes"`
}

// StorageConfig bounds the in-memory capture and result log
type StorageConfig struct {
	MaxRecords int           `yaml:"max_records" mapstructure:"max_records"`
	Retention  time.Duration `yaml:"retention" mapstructure:"retention"`
}

// LoadConfig load configuration
// If v is nil, a new viper instance will be created
func LoadConfig(configPath string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	setDefaults(v)

	v.SetEnvPrefix("REPORTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.reportsync")
		v.AddConfigPath("/etc/reportsync")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		log.Printf("Config file loaded: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	applyDefaults(&config, v)

	return &config, nil
}

// applyDefaults fills zero-value fields from viper. Command line flags are
// handled separately in main.go to ensure highest priority.
func applyDefaults(cfg *Config, v *viper.Viper) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if cfg.Server.Path == "" {
		cfg.Server.Path = v.GetString("server.path")
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = v.GetInt64("server.max_body_bytes")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = v.GetString("log.level")
	}
	// Bool fields always come from viper: it already merges file values and defaults.
	cfg.Log.FileLogging.Enable = v.GetBool("log.file_logging.enable")
	cfg.Log.FileLogging.Compress = v.GetBool("log.file_logging.compress")
	if cfg.Log.FileLogging.Path == "" {
		cfg.Log.FileLogging.Path = v.GetString("log.file_logging.path")
	}
	if cfg.Log.FileLogging.MaxSizeMB == 0 {
		cfg.Log.FileLogging.MaxSizeMB = v.GetInt("log.file_logging.max_size_mb")
	}
	if cfg.Log.FileLogging.MaxBackups == 0 {
		cfg.Log.FileLogging.MaxBackups = v.GetInt("log.file_logging.max_backups")
	}
	if cfg.Log.FileLogging.MaxAgeDays == 0 {
		cfg.Log.FileLogging.MaxAgeDays = v.GetInt("log.file_logging.max_age_days")
	}

	if cfg.Capture.EndpointPattern == "" {
		cfg.Capture.EndpointPattern = v.GetString("capture.endpoint_pattern")
	}
	if cfg.Capture.Method == "" {
		cfg.Capture.Method = v.GetString("capture.method")
	}
	cfg.Capture.Method = strings.ToUpper(strings.TrimSpace(cfg.Capture.Method))
	if cfg.Capture.Buffer == 0 {
		cfg.Capture.Buffer = v.GetInt("capture.buffer")
	}
	cfg.Capture.Mirror = v.GetBool("capture.mirror")
	cfg.Capture.DevTools.Enable = v.GetBool("capture.devtools.enable")
	if cfg.Capture.DevTools.URL == "" {
		cfg.Capture.DevTools.URL = v.GetString("capture.devtools.url")
	}
	if cfg.Capture.DevTools.ReconnectDelay == 0 {
		cfg.Capture.DevTools.ReconnectDelay = v.GetDuration("capture.devtools.reconnect_delay")
	}

	u := &cfg.Upstream
	if u.BaseURL == "" {
		u.BaseURL = v.GetString("upstream.base_url")
	}
	if u.ReportPath == "" {
		u.ReportPath = v.GetString("upstream.report_path")
	}
	if u.UserDimensionsPath == "" {
		u.UserDimensionsPath = v.GetString("upstream.user_dimensions_path")
	}
	if u.CustomDefinitionsPath == "" {
		u.CustomDefinitionsPath = v.GetString("upstream.custom_definitions_path")
	}
	if u.DefinitionsQuery == "" {
		u.DefinitionsQuery = v.GetString("upstream.definitions_query")
	}
	if u.Referrer == "" {
		u.Referrer = v.GetString("upstream.referrer")
	}
	if u.LinkTemplate == "" {
		u.LinkTemplate = v.GetString("upstream.link_template")
	}
	if u.TokenHeader == "" {
		u.TokenHeader = v.GetString("upstream.token_header")
	}
	if u.Cookie == "" {
		u.Cookie = v.GetString("upstream.cookie")
	}
	if u.XSSIPrefixLength == 0 {
		u.XSSIPrefixLength = v.GetInt("upstream.xssi_prefix_length")
	}
	if u.Timeout == 0 {
		u.Timeout = v.GetInt("upstream.timeout")
	}
	if u.MaxIdleConns == 0 {
		u.MaxIdleConns = v.GetInt("upstream.max_idle_conns")
	}
	if u.IdleConnTimeout == 0 {
		u.IdleConnTimeout = v.GetInt("upstream.idle_conn_timeout")
	}
	if u.ResponseHeaderTimeout == 0 {
		u.ResponseHeaderTimeout = v.GetInt("upstream.response_header_timeout")
	}
	if u.TLSHandshakeTimeout == 0 {
		u.TLSHandshakeTimeout = v.GetInt("upstream.tls_handshake_timeout")
	}
	u.TLSInsecureSkipVerify = v.GetBool("upstream.tls_insecure_skip_verify")
	if len(u.HeaderBlacklist) == 0 {
		u.HeaderBlacklist = v.GetStringSlice("upstream.header_blacklist")
	}
	u.HeaderBlacklist = normalizeHeaderList(u.HeaderBlacklist)

	if cfg.Replay.Pacing.Mode == "" {
		cfg.Replay.Pacing.Mode = v.GetString("replay.pacing.mode")
	}
	if cfg.Replay.Pacing.Interval == 0 {
		if interval, err := time.ParseDuration(v.GetString("replay.pacing.interval")); err == nil {
			cfg.Replay.Pacing.Interval = interval
		}
	}
	if cfg.Replay.Pacing.Burst == 0 {
		cfg.Replay.Pacing.Burst = v.GetInt("replay.pacing.burst")
	}
	if cfg.Replay.Methods.Create == "" {
		cfg.Replay.Methods.Create = v.GetString("replay.methods.create")
	}
	if cfg.Replay.Methods.Update == "" {
		cfg.Replay.Methods.Update = v.GetString("replay.methods.update")
	}
	if cfg.Replay.Methods.Delete == "" {
		cfg.Replay.Methods.Delete = v.GetString("replay.methods.delete")
	}
	cfg.Replay.Methods.Create = strings.ToUpper(cfg.Replay.Methods.Create)
	cfg.Replay.Methods.Update = strings.ToUpper(cfg.Replay.Methods.Update)
	cfg.Replay.Methods.Delete = strings.ToUpper(cfg.Replay.Methods.Delete)
	if cfg.Replay.EventBuffer == 0 {
		cfg.Replay.EventBuffer = v.GetInt("replay.event_buffer")
	}

	cfg.Web.Enable = v.GetBool("web.enable")
	if cfg.Web.AdminPath == "" {
		cfg.Web.AdminPath = v.GetString("web.admin_path")
	}
	cfg.Web.Auth.Enable = v.GetBool("web.auth.enable")
	if cfg.Web.Auth.SessionTimeout == 0 {
		timeoutStr := v.GetString("web.auth.session_timeout")
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			cfg.Web.Auth.SessionTimeout = timeout
		} else {
			cfg.Web.Auth.SessionTimeout = 24 * time.Hour
		}
	}
	if len(cfg.Web.Auth.Users) == 0 {
		var users []WebUserConfig
		if err := v.UnmarshalKey("web.auth.users", &users); err == nil {
			cfg.Web.Auth.Users = users
		}
	}
	cfg.Web.Export.Enable = v.GetBool("web.export.enable")
	if len(cfg.Web.Export.Formats) == 0 {
		cfg.Web.Export.Formats = v.GetStringSlice("web.export.formats")
	}

	if cfg.Output.Mode == "" {
		cfg.Output.Mode = v.GetString("output.mode")
	}
	cfg.Output.Silence = v.GetBool("output.silence")
	if cfg.Output.Locale == "" {
		cfg.Output.Locale = v.GetString("output.locale")
	}
	if cfg.Output.Payload.MaxPreviewBytes == 0 {
		cfg.Output.Payload.MaxPreviewBytes = v.GetInt("output.payload.max_preview_bytes")
	}
	if cfg.Output.Payload.MaxIndentBytes == 0 {
		cfg.Output.Payload.MaxIndentBytes = v.GetInt("output.payload.max_indent_bytes")
	}

	if cfg.Storage.MaxRecords == 0 {
		cfg.Storage.MaxRecords = v.GetInt("storage.max_records")
	}
}

// setDefaults set default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 38989)
	v.SetDefault("server.path", "/capture")
	v.SetDefault("server.max_body_bytes", int64(10*1024*1024))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_logging.enable", false)
	v.SetDefault("log.file_logging.path", "./reportsync.log")
	v.SetDefault("log.file_logging.max_size_mb", 10)
	v.SetDefault("log.file_logging.max_backups", 5)
	v.SetDefault("log.file_logging.max_age_days", 30)
	v.SetDefault("log.file_logging.compress", true)

	v.SetDefault("capture.endpoint_pattern", "reportconfig")
	v.SetDefault("capture.method", http.MethodPut)
	v.SetDefault("capture.buffer", 64)
	v.SetDefault("capture.mirror", false)
	v.SetDefault("capture.devtools.enable", false)
	v.SetDefault("capture.devtools.url", "")
	v.SetDefault("capture.devtools.reconnect_delay", "5s")

	v.SetDefault("upstream.base_url", "https://analytics.google.com/analytics/app/data/v2/reporting")
	v.SetDefault("upstream.report_path", "reportconfig")
	v.SetDefault("upstream.user_dimensions_path", "customdefinitions/user")
	v.SetDefault("upstream.custom_definitions_path", "customdefinitions")
	v.SetDefault("upstream.definitions_query", "gamonitor=gafe&hl=en_US&state=app.reports.assetlibrary.explorer_edit")
	v.SetDefault("upstream.referrer", "https://analytics.google.com/analytics/web/")
	v.SetDefault("upstream.link_template", "https://analytics.google.com/analytics/web/#/p{property}/assetlibrary/explorer/edit?r={resource}")
	v.SetDefault("upstream.token_header", "x-gafe4-xsrf-token")
	v.SetDefault("upstream.cookie", "")
	v.SetDefault("upstream.xssi_prefix_length", 5)
	v.SetDefault("upstream.timeout", 30)
	v.SetDefault("upstream.max_idle_conns", 16)
	v.SetDefault("upstream.idle_conn_timeout", 90)
	v.SetDefault("upstream.response_header_timeout", 15)
	v.SetDefault("upstream.tls_handshake_timeout", 10)
	v.SetDefault("upstream.tls_insecure_skip_verify", false)
	v.SetDefault("upstream.header_blacklist", []string{
		"host",
		"connection",
		"keep-alive",
		"proxy-authenticate",
		"proxy-authorization",
		"te",
		"trailers",
		"transfer-encoding",
		"upgrade",
		"content-length",
		"accept-encoding",
		"referer",
	})

	v.SetDefault("replay.pacing.mode", "fixed")
	v.SetDefault("replay.pacing.interval", "2s")
	v.SetDefault("replay.pacing.burst", 1)
	v.SetDefault("replay.methods.create", http.MethodPost)
	v.SetDefault("replay.methods.update", http.MethodPut)
	v.SetDefault("replay.methods.delete", http.MethodDelete)
	v.SetDefault("replay.event_buffer", 64)

	v.SetDefault("web.enable", true)
	v.SetDefault("web.admin_path", "/api")
	v.SetDefault("web.auth.enable", false)
	v.SetDefault("web.auth.session_timeout", "24h")
	v.SetDefault("web.auth.users", []map[string]string{
		{"username": "admin", "password": "admin123", "role": "admin"},
	})
	v.SetDefault("web.export.enable", true)
	v.SetDefault("web.export.formats", []string{"csv", "json"})

	v.SetDefault("output.mode", "console")
	v.SetDefault("output.silence", false)
	v.SetDefault("output.locale", "en")
	v.SetDefault("output.payload.enable", true)
	v.SetDefault("output.payload.pretty", true)
	v.SetDefault("output.payload.max_preview_bytes", 2048)
	v.SetDefault("output.payload.max_indent_bytes", 256*1024)

	v.SetDefault("storage.max_records", 5000)
	v.SetDefault("storage.retention", "0s")
}

// Validate checks the configuration and normalizes optional values
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.Path == "" {
		return fmt.Errorf("server path cannot be empty")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server path must start with '/'")
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server max body bytes cannot be negative")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.FileLogging.Enable {
		if c.Log.FileLogging.Path == "" {
			return fmt.Errorf("log file path cannot be empty when file logging is enabled")
		}
		if c.Log.FileLogging.MaxSizeMB < 1 {
			return fmt.Errorf("log file max size must be at least 1MB")
		}
		if c.Log.FileLogging.MaxBackups < 0 {
			return fmt.Errorf("log file max backups cannot be negative")
		}
		if c.Log.FileLogging.MaxAgeDays < 0 {
			return fmt.Errorf("log file max age cannot be negative")
		}
	}

	if strings.TrimSpace(c.Capture.EndpointPattern) == "" {
		return fmt.Errorf("capture endpoint pattern cannot be empty")
	}
	if _, err := regexp.Compile(c.Capture.EndpointPattern); err != nil {
		return fmt.Errorf("capture endpoint pattern is not a valid regexp: %w", err)
	}
	if c.Capture.Method == "" {
		c.Capture.Method = http.MethodPut
	}
	if c.Capture.Buffer < 1 {
		return fmt.Errorf("capture buffer must be at least 1")
	}
	if c.Capture.DevTools.Enable {
		if !strings.HasPrefix(c.Capture.DevTools.URL, "ws://") && !strings.HasPrefix(c.Capture.DevTools.URL, "wss://") {
			return fmt.Errorf("capture devtools url must be a ws:// or wss:// websocket debugger url")
		}
		if c.Capture.DevTools.ReconnectDelay < 0 {
			return fmt.Errorf("capture devtools reconnect delay cannot be negative")
		}
	}

	base, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("upstream base url must be an absolute url: %q", c.Upstream.BaseURL)
	}
	if strings.TrimSpace(c.Upstream.ReportPath) == "" {
		return fmt.Errorf("upstream report path cannot be empty")
	}
	if c.Upstream.XSSIPrefixLength < 0 {
		return fmt.Errorf("upstream xssi prefix length cannot be negative")
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("upstream timeout cannot be negative")
	}
	for i, h := range c.Upstream.HeaderBlacklist {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("upstream header_blacklist[%d] cannot be empty", i)
		}
	}

	switch strings.ToLower(c.Replay.Pacing.Mode) {
	case "", "fixed", "token_bucket", "none":
		if c.Replay.Pacing.Mode == "" {
			c.Replay.Pacing.Mode = "fixed"
		}
	default:
		return fmt.Errorf("replay pacing mode must be fixed, token_bucket or none")
	}
	if c.Replay.Pacing.Interval < 0 {
		return fmt.Errorf("replay pacing interval cannot be negative")
	}
	if c.Replay.Pacing.Burst < 1 {
		c.Replay.Pacing.Burst = 1
	}
	for action, method := range map[string]string{
		"create": c.Replay.Methods.Create,
		"update": c.Replay.Methods.Update,
		"delete": c.Replay.Methods.Delete,
	} {
		if method == "" {
			return fmt.Errorf("replay method for %s cannot be empty", action)
		}
	}
	if c.Replay.EventBuffer < 1 {
		return fmt.Errorf("replay event buffer must be at least 1")
	}

	if c.Web.Enable {
		if c.Web.AdminPath == "" {
			return fmt.Errorf("web admin path cannot be empty")
		}
		if !strings.HasPrefix(c.Web.AdminPath, "/") {
			return fmt.Errorf("web admin path must start with '/'")
		}
		if c.Web.Auth.Enable {
			if c.Web.Auth.SessionTimeout <= 0 {
				return fmt.Errorf("web auth session timeout must be greater than zero")
			}
			if len(c.Web.Auth.Users) == 0 {
				return fmt.Errorf("web auth requires at least one user")
			}
			validRoles := map[string]struct{}{"admin": {}, "operator": {}, "viewer": {}}
			for i, user := range c.Web.Auth.Users {
				if user.Username == "" {
					return fmt.Errorf("web auth user %d username cannot be empty", i+1)
				}
				if user.Password == "" {
					return fmt.Errorf("web auth user %d password cannot be empty", i+1)
				}
				if _, ok := validRoles[strings.ToLower(user.Role)]; !ok {
					return fmt.Errorf("web auth user %d role must be admin, operator or viewer", i+1)
				}
			}
		}
		if c.Web.Export.Enable && len(c.Web.Export.Formats) == 0 {
			return fmt.Errorf("web export formats cannot be empty when export enabled")
		}
	}

	switch strings.ToLower(c.Output.Mode) {
	case "", "console", "json":
		if c.Output.Mode == "" {
			c.Output.Mode = "console"
		}
	default:
		return fmt.Errorf("output mode must be 'console' or 'json'")
	}
	if strings.TrimSpace(c.Output.Locale) == "" {
		c.Output.Locale = "en"
	}

	if c.Storage.MaxRecords < 0 {
		return fmt.Errorf("storage max_records cannot be negative")
	}
	if c.Storage.Retention < 0 {
		return fmt.Errorf("storage retention cannot be negative")
	}

	return nil
}

func normalizeHeaderList(list []string) []string {
	if len(list) == 0 {
		return list
	}
	set := make(map[string]struct{}, len(list))
	result := make([]string, 0, len(list))
	for _, h := range list {
		norm := strings.ToLower(strings.TrimSpace(h))
		if norm == "" {
			continue
		}
		if _, exists := set[norm]; exists {
			continue
		}
		set[norm] = struct{}{}
		result = append(result, norm)
	}
	return result
}
