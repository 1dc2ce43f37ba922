package main

import (
	"fmt"
	"os"
	"time"

	"github.com/funnyzak/reportsync/internal/config"
	"github.com/funnyzak/reportsync/internal/logger"
	"github.com/funnyzak/reportsync/internal/server"
	"github.com/funnyzak/reportsync/pkg/i18n"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "reportsync",
	Short: "Capture custom report configurations and replay them into other properties",
	Long: `ReportSync observes report-configuration requests made by the analytics web UI,
collects them into a selection, and replays the selection into one or more
destination properties with custom dimension and metric slots remapped.
`,
	RunE: runServer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the capture endpoint and control API",
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run:   showVersion,
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().IntP("port", "p", 0, "Listen port")
	rootCmd.PersistentFlags().String("path", "", "URL path prefix where captured requests are ingested")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().Bool("log-file-enable", false, "Enable file logging")
	rootCmd.PersistentFlags().String("log-file-path", "", "Log file path")
	rootCmd.PersistentFlags().Int("log-file-max-size", 0, "Maximum size of a single log file (MB)")
	rootCmd.PersistentFlags().Int("log-file-max-backups", 0, "Maximum number of old log files to retain")
	rootCmd.PersistentFlags().Int("log-file-max-age", 0, "Maximum retention days for old log files")
	rootCmd.PersistentFlags().Bool("log-file-compress", false, "Whether to compress old log files")

	// Output flags
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output mode (console, json)")
	rootCmd.PersistentFlags().Bool("silence", false, "Suppress capture and result output")
	rootCmd.PersistentFlags().String("locale", "", "Console locale (en, zh-CN, ja)")

	// Capture and upstream flags
	rootCmd.PersistentFlags().String("capture-pattern", "", "Substring or regular expression matched against request URLs")
	rootCmd.PersistentFlags().String("capture-method", "", "HTTP method of captured requests")
	rootCmd.PersistentFlags().String("devtools-url", "", "DevTools websocket URL to observe (enables the observer)")
	rootCmd.PersistentFlags().String("upstream-base-url", "", "Analytics frontend base URL")
	rootCmd.PersistentFlags().String("cookie", "", "Session cookie used when captures carry none")
	rootCmd.PersistentFlags().String("pacing-mode", "", "Replay pacing (fixed, token_bucket, none)")
	rootCmd.PersistentFlags().String("pacing-interval", "", "Delay between consecutive submissions")

	// Control API flags
	rootCmd.PersistentFlags().Bool("web-enable", false, "Enable/disable the control API")
	rootCmd.PersistentFlags().String("web-admin-path", "", "Control API path")
	rootCmd.PersistentFlags().Bool("web-auth-enable", false, "Enable/disable control API authentication")
	rootCmd.PersistentFlags().String("web-auth-session-timeout", "", "Control API session timeout duration")
	rootCmd.PersistentFlags().Bool("web-export-enable", false, "Enable/disable result export")
	rootCmd.PersistentFlags().StringSlice("web-export-formats", []string{}, "Supported result export formats")

	bindFlags(rootCmd)

	rootCmd.AddCommand(serveCmd, replayCmd, versionCmd)
}

func bindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	viper.BindPFlag("server.port", flags.Lookup("port"))
	viper.BindPFlag("server.path", flags.Lookup("path"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.file_logging.enable", flags.Lookup("log-file-enable"))
	viper.BindPFlag("log.file_logging.path", flags.Lookup("log-file-path"))
	viper.BindPFlag("log.file_logging.max_size_mb", flags.Lookup("log-file-max-size"))
	viper.BindPFlag("log.file_logging.max_backups", flags.Lookup("log-file-max-backups"))
	viper.BindPFlag("log.file_logging.max_age_days", flags.Lookup("log-file-max-age"))
	viper.BindPFlag("log.file_logging.compress", flags.Lookup("log-file-compress"))

	viper.BindPFlag("output.mode", flags.Lookup("output"))
	viper.BindPFlag("output.silence", flags.Lookup("silence"))
	viper.BindPFlag("output.locale", flags.Lookup("locale"))

	viper.BindPFlag("capture.endpoint_pattern", flags.Lookup("capture-pattern"))
	viper.BindPFlag("capture.method", flags.Lookup("capture-method"))
	viper.BindPFlag("capture.devtools.url", flags.Lookup("devtools-url"))
	viper.BindPFlag("upstream.base_url", flags.Lookup("upstream-base-url"))
	viper.BindPFlag("upstream.cookie", flags.Lookup("cookie"))
	viper.BindPFlag("replay.pacing.mode", flags.Lookup("pacing-mode"))
	viper.BindPFlag("replay.pacing.interval", flags.Lookup("pacing-interval"))

	viper.BindPFlag("web.enable", flags.Lookup("web-enable"))
	viper.BindPFlag("web.admin_path", flags.Lookup("web-admin-path"))
	viper.BindPFlag("web.auth.enable", flags.Lookup("web-auth-enable"))
	viper.BindPFlag("web.auth.session_timeout", flags.Lookup("web-auth-session-timeout"))
	viper.BindPFlag("web.export.enable", flags.Lookup("web-export-enable"))
	viper.BindPFlag("web.export.formats", flags.Lookup("web-export-formats"))
}

// loadConfig reads the configuration and applies command line overrides.
// Command line flags have the highest priority.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")

	cfg, err := config.LoadConfig(configPath, viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if port, err := flags.GetInt("port"); err == nil && port != 0 {
		cfg.Server.Port = port
	}
	if path, err := flags.GetString("path"); err == nil && path != "" {
		cfg.Server.Path = path
	}
	if logLevel, err := flags.GetString("log-level"); err == nil && logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFileEnable, err := flags.GetBool("log-file-enable"); err == nil && flags.Changed("log-file-enable") {
		cfg.Log.FileLogging.Enable = logFileEnable
	}
	if logFilePath, err := flags.GetString("log-file-path"); err == nil && logFilePath != "" {
		cfg.Log.FileLogging.Path = logFilePath
	}
	if logFileSize, err := flags.GetInt("log-file-max-size"); err == nil && logFileSize != 0 {
		cfg.Log.FileLogging.MaxSizeMB = logFileSize
	}
	if logFileBackups, err := flags.GetInt("log-file-max-backups"); err == nil && logFileBackups != 0 {
		cfg.Log.FileLogging.MaxBackups = logFileBackups
	}
	if logFileAge, err := flags.GetInt("log-file-max-age"); err == nil && logFileAge != 0 {
		cfg.Log.FileLogging.MaxAgeDays = logFileAge
	}
	if logFileCompress, err := flags.GetBool("log-file-compress"); err == nil && flags.Changed("log-file-compress") {
		cfg.Log.FileLogging.Compress = logFileCompress
	}

	if mode, err := flags.GetString("output"); err == nil && mode != "" {
		cfg.Output.Mode = mode
	}
	if silence, err := flags.GetBool("silence"); err == nil && flags.Changed("silence") {
		cfg.Output.Silence = silence
	}
	if locale, err := flags.GetString("locale"); err == nil && locale != "" {
		cfg.Output.Locale = locale
	}

	if pattern, err := flags.GetString("capture-pattern"); err == nil && pattern != "" {
		cfg.Capture.EndpointPattern = pattern
	}
	if method, err := flags.GetString("capture-method"); err == nil && method != "" {
		cfg.Capture.Method = method
	}
	if devtoolsURL, err := flags.GetString("devtools-url"); err == nil && devtoolsURL != "" {
		cfg.Capture.DevTools.URL = devtoolsURL
		cfg.Capture.DevTools.Enable = true
	}
	if baseURL, err := flags.GetString("upstream-base-url"); err == nil && baseURL != "" {
		cfg.Upstream.BaseURL = baseURL
	}
	if cookie, err := flags.GetString("cookie"); err == nil && cookie != "" {
		cfg.Upstream.Cookie = cookie
	}
	if mode, err := flags.GetString("pacing-mode"); err == nil && mode != "" {
		cfg.Replay.Pacing.Mode = mode
	}
	if interval, err := flags.GetString("pacing-interval"); err == nil && interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid --pacing-interval: %w", err)
		}
		cfg.Replay.Pacing.Interval = d
	}

	if webEnable, err := flags.GetBool("web-enable"); err == nil && flags.Changed("web-enable") {
		cfg.Web.Enable = webEnable
	}
	if webAdminPath, err := flags.GetString("web-admin-path"); err == nil && webAdminPath != "" {
		cfg.Web.AdminPath = webAdminPath
	}
	if webAuthEnable, err := flags.GetBool("web-auth-enable"); err == nil && flags.Changed("web-auth-enable") {
		cfg.Web.Auth.Enable = webAuthEnable
	}
	if webAuthSessionTimeout, err := flags.GetString("web-auth-session-timeout"); err == nil && webAuthSessionTimeout != "" {
		if timeout, err := time.ParseDuration(webAuthSessionTimeout); err == nil {
			cfg.Web.Auth.SessionTimeout = timeout
		}
	}
	if webExportEnable, err := flags.GetBool("web-export-enable"); err == nil && flags.Changed("web-export-enable") {
		cfg.Web.Export.Enable = webExportEnable
	}
	if webExportFormats, err := flags.GetStringSlice("web-export-formats"); err == nil && len(webExportFormats) > 0 {
		cfg.Web.Export.Formats = webExportFormats
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := server.CheckPaths(cfg); err != nil {
		return err
	}

	log := logger.NewLogger(&cfg.Log, cfg.Output.Mode)

	translator, err := i18n.NewTranslator("en")
	if err != nil {
		return fmt.Errorf("failed to load locales: %w", err)
	}

	printStartupBanner(bannerOutput(cfg), cfg, translator)
	log.Info("ReportSync starting",
		"version", version,
		"port", cfg.Server.Port,
		"path", cfg.Server.Path,
		"capture_pattern", cfg.Capture.EndpointPattern,
		"capture_method", cfg.Capture.Method,
		"devtools", cfg.Capture.DevTools.Enable,
		"upstream", cfg.Upstream.BaseURL,
		"pacing", cfg.Replay.Pacing.Mode,
		"web_enable", cfg.Web.Enable,
		"web_admin_path", cfg.Web.AdminPath,
		"web_auth", cfg.Web.Auth.Enable,
	)

	srv, err := server.New(cfg, log, translator)
	if err != nil {
		return err
	}
	return srv.Start()
}

func showVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("ReportSync version %s\n", version)
	fmt.Printf("Commit: %s\n", commit)
	fmt.Printf("Built: %s\n", buildDate)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
