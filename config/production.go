// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	JWT        JWTConfig        `json:"jwt"`
	Shopify    ShopifyConfig    `json:"shopify"`
	RateLimits RateLimitsConfig `json:"rate_limits"`
	Engine     EngineConfig     `json:"engine"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	BodyLimit         int           `json:"body_limit"`
	EnablePprof       bool          `json:"enable_pprof"`
	EnableMetrics     bool          `json:"enable_metrics"`
	TrustedProxies    []string      `json:"trusted_proxies"`
	ProxyHeader       string        `json:"proxy_header"`
	EnableCompression bool          `json:"enable_compression"`
	CompressionLevel  int           `json:"compression_level"`
}

type SecurityConfig struct {
	// TLS/HTTPS
	TLSEnabled         bool   `json:"tls_enabled"`
	TLSCertFile        string `json:"tls_cert_file"`
	TLSKeyFile         string `json:"tls_key_file"`
	TLSMinVersion      string `json:"tls_min_version"`
	HSTSMaxAge         int    `json:"hsts_max_age"`
	HSTSIncludeSubDoms bool   `json:"hsts_include_subdomains"`
	HSTSPreload        bool   `json:"hsts_preload"`

	// CORS. The storefront widget calls from arbitrary shop origins, so the
	// storefront group overrides this with a permissive policy at the router.
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	CORSMaxAge       int      `json:"cors_max_age"`

	// Content Security
	CSPPolicy           string `json:"csp_policy"`
	XFrameOptions       string `json:"x_frame_options"`
	XContentTypeOptions string `json:"x_content_type_options"`
	XSSProtection       string `json:"xss_protection"`
	ReferrerPolicy      string `json:"referrer_policy"`

	// Password & Auth
	PasswordMinLength     int  `json:"password_min_length"`
	PasswordRequireUpper  bool `json:"password_require_upper"`
	PasswordRequireLower  bool `json:"password_require_lower"`
	PasswordRequireNum    bool `json:"password_require_number"`
	PasswordRequireSymbol bool `json:"password_require_symbol"`
	BcryptCost            int  `json:"bcrypt_cost"`

	// Session Security
	SessionTimeout         time.Duration `json:"session_timeout"`
	SessionCleanupInterval time.Duration `json:"session_cleanup_interval"`
}

type JWTConfig struct {
	SecretKey       string        `json:"secret_key"`
	AccessTokenTTL  time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl"`
	Issuer          string        `json:"issuer"`
	Audience        string        `json:"audience"`
	Algorithm       string        `json:"algorithm"`
}

// ShopifyConfig covers admin API access for discount code creation and
// audience segment pulls. Per-store access tokens live on the Store record;
// this holds the shared client settings.
type ShopifyConfig struct {
	APIVersion string        `json:"api_version"`
	Timeout    time.Duration `json:"timeout"`
	MaxRPS     int           `json:"max_rps"`
}

// RateLimitRule is a fixed window limit for one protected action
type RateLimitRule struct {
	Enabled bool          `json:"enabled"`
	Max     int64         `json:"max"`
	Window  time.Duration `json:"window"`
}

// RateLimitsConfig holds the per-action abuse limits enforced in Redis
type RateLimitsConfig struct {
	ChallengeRequest RateLimitRule `json:"challenge_request"`
	LeadSubmit       RateLimitRule `json:"lead_submit"`
	Login            RateLimitRule `json:"login"`
}

// EngineConfig holds the delivery engine knobs: frequency windows,
// challenge token behavior, and attribution bounds.
type EngineConfig struct {
	SessionWindow   time.Duration `json:"session_window"`
	DayWindow       time.Duration `json:"day_window"`
	CooldownDefault time.Duration `json:"cooldown_default"`

	ChallengeTokenTTL time.Duration `json:"challenge_token_ttl"`
	IPHashSalt        string        `json:"ip_hash_salt"`

	// StrictTokenIP rejects token consumption when the consuming IP hash
	// differs from the issuing one. Off by default: carrier NAT and mobile
	// network switches make IP churn common for legitimate visitors.
	StrictTokenIP bool `json:"strict_token_ip"`

	// ViewThroughLookbackDays bounds how far back a view-through match may
	// reach for a prior lead.
	ViewThroughLookbackDays int `json:"view_through_lookback_days"`

	PreviewBypassesRateLimit bool `json:"preview_bypasses_rate_limit"`
}

// SchedulerConfig holds intervals for the background refresh loops
type SchedulerConfig struct {
	CampaignCacheInterval time.Duration `json:"campaign_cache_interval"`
	AudienceSyncInterval  time.Duration `json:"audience_sync_interval"`
	LockTTL               time.Duration `json:"lock_ttl"`
	AudienceStaleAfter    time.Duration `json:"audience_stale_after"`
}

type LoggingConfig struct {
	Level            string `json:"level"`  // debug, info, warn, error
	Format           string `json:"format"` // json, text
	Output           string `json:"output"` // stdout, file, both
	FilePath         string `json:"file_path"`
	MaxSize          int    `json:"max_size"` // MB
	MaxBackups       int    `json:"max_backups"`
	MaxAge           int    `json:"max_age"` // days
	Compress         bool   `json:"compress"`
	EnableCaller     bool   `json:"enable_caller"`
	EnableStacktrace bool   `json:"enable_stacktrace"`

	// Access Logs
	EnableAccessLog bool   `json:"enable_access_log"`
	AccessLogPath   string `json:"access_log_path"`
	AccessLogFormat string `json:"access_log_format"`

	// Audit Logs
	EnableAuditLog bool   `json:"enable_audit_log"`
	AuditLogPath   string `json:"audit_log_path"`

	// Security Logs
	EnableSecurityLog bool   `json:"enable_security_log"`
	SecurityLogPath   string `json:"security_log_path"`
}

type MetricsConfig struct {
	Enabled     bool   `json:"enabled"`
	Port        int    `json:"port"`
	Path        string `json:"path"`
	EnablePprof bool   `json:"enable_pprof"`
	PprofPort   int    `json:"pprof_port"`

	// Prometheus
	EnablePrometheus bool   `json:"enable_prometheus"`
	PrometheusPath   string `json:"prometheus_path"`

	// Custom Metrics
	CollectDBMetrics     bool `json:"collect_db_metrics"`
	CollectCacheMetrics  bool `json:"collect_cache_metrics"`
	CollectEngineMetrics bool `json:"collect_engine_metrics"`
}

type CacheConfig struct {
	Enabled         bool          `json:"enabled"`
	Provider        string        `json:"provider"` // redis, memory
	RedisURL        string        `json:"redis_url"`
	RedisDB         int           `json:"redis_db"`
	RedisPrefix     string        `json:"redis_prefix"`
	DefaultTTL      time.Duration `json:"default_ttl"`
	MaxMemory       int           `json:"max_memory"` // MB
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

type DeploymentConfig struct {
	// Domain Configuration
	Domain           string `json:"domain"`
	APIDomain        string `json:"api_domain"`
	MonitoringDomain string `json:"monitoring_domain"`

	// SSL/TLS Configuration
	CertbotEmail string `json:"certbot_email"`

	// Monitoring Configuration
	GrafanaAdminPassword string `json:"grafana_admin_password"`

	// Additional Security
	RedisPassword string `json:"redis_password"`

	// Build Information
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "postgres"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024), // 4MB
			EnablePprof:       getEnvBool("SERVER_ENABLE_PPROF", false),
			EnableMetrics:     getEnvBool("SERVER_ENABLE_METRICS", true),
			TrustedProxies:    getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
			ProxyHeader:       getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
			CompressionLevel:  getEnvInt("SERVER_COMPRESSION_LEVEL", 6),
		},
		Security: SecurityConfig{
			TLSEnabled:             getEnvBool("TLS_ENABLED", true),
			TLSCertFile:            getEnvString("TLS_CERT_FILE", "/etc/ssl/certs/nurikabe.crt"),
			TLSKeyFile:             getEnvString("TLS_KEY_FILE", "/etc/ssl/private/nurikabe.key"),
			TLSMinVersion:          getEnvString("TLS_MIN_VERSION", "1.3"),
			HSTSMaxAge:             getEnvInt("HSTS_MAX_AGE", 31536000), // 1 year
			HSTSIncludeSubDoms:     getEnvBool("HSTS_INCLUDE_SUBDOMAINS", true),
			HSTSPreload:            getEnvBool("HSTS_PRELOAD", true),
			AllowedOrigins:         getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"https://app.nurikabe.io", "https://api.nurikabe.io"}),
			AllowedMethods:         getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders:         getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}),
			AllowCredentials:       getEnvBool("CORS_ALLOW_CREDENTIALS", true),
			CORSMaxAge:             getEnvInt("CORS_MAX_AGE", 86400),
			CSPPolicy:              getEnvString("CSP_POLICY", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'"),
			XFrameOptions:          getEnvString("X_FRAME_OPTIONS", "DENY"),
			XContentTypeOptions:    getEnvString("X_CONTENT_TYPE_OPTIONS", "nosniff"),
			XSSProtection:          getEnvString("XSS_PROTECTION", "1; mode=block"),
			ReferrerPolicy:         getEnvString("REFERRER_POLICY", "strict-origin-when-cross-origin"),
			PasswordMinLength:      getEnvInt("PASSWORD_MIN_LENGTH", 8),
			PasswordRequireUpper:   getEnvBool("PASSWORD_REQUIRE_UPPER", true),
			PasswordRequireLower:   getEnvBool("PASSWORD_REQUIRE_LOWER", true),
			PasswordRequireNum:     getEnvBool("PASSWORD_REQUIRE_NUMBER", true),
			PasswordRequireSymbol:  getEnvBool("PASSWORD_REQUIRE_SYMBOL", true),
			BcryptCost:             getEnvInt("BCRYPT_COST", 12),
			SessionTimeout:         getEnvDuration("SESSION_TIMEOUT", 24*time.Hour),
			SessionCleanupInterval: getEnvDuration("SESSION_CLEANUP_INTERVAL", 1*time.Hour),
		},
		JWT: JWTConfig{
			SecretKey:       getEnvString("JWT_SECRET_KEY", ""),
			AccessTokenTTL:  getEnvDuration("JWT_ACCESS_TOKEN_TTL", 24*time.Hour),
			RefreshTokenTTL: getEnvDuration("JWT_REFRESH_TOKEN_TTL", 7*24*time.Hour),
			Issuer:          getEnvString("JWT_ISSUER", "nurikabe"),
			Audience:        getEnvString("JWT_AUDIENCE", "nurikabe-dashboard"),
			Algorithm:       getEnvString("JWT_ALGORITHM", "HS256"),
		},
		Shopify: ShopifyConfig{
			APIVersion: getEnvString("SHOPIFY_API_VERSION", "2024-07"),
			Timeout:    getEnvDuration("SHOPIFY_TIMEOUT", 10*time.Second),
			MaxRPS:     getEnvInt("SHOPIFY_MAX_RPS", 2),
		},
		RateLimits: RateLimitsConfig{
			ChallengeRequest: RateLimitRule{
				Enabled: getEnvBool("RL_CHALLENGE_ENABLED", true),
				Max:     int64(getEnvInt("RL_CHALLENGE_MAX", 30)),
				Window:  getEnvDuration("RL_CHALLENGE_WINDOW", 1*time.Minute),
			},
			LeadSubmit: RateLimitRule{
				Enabled: getEnvBool("RL_LEAD_SUBMIT_ENABLED", true),
				Max:     int64(getEnvInt("RL_LEAD_SUBMIT_MAX", 5)),
				Window:  getEnvDuration("RL_LEAD_SUBMIT_WINDOW", 1*time.Hour),
			},
			Login: RateLimitRule{
				Enabled: getEnvBool("RL_LOGIN_ENABLED", true),
				Max:     int64(getEnvInt("RL_LOGIN_MAX", 10)),
				Window:  getEnvDuration("RL_LOGIN_WINDOW", 15*time.Minute),
			},
		},
		Engine: EngineConfig{
			SessionWindow:            getEnvDuration("ENGINE_SESSION_WINDOW", 30*time.Minute),
			DayWindow:                getEnvDuration("ENGINE_DAY_WINDOW", 36*time.Hour),
			CooldownDefault:          getEnvDuration("ENGINE_COOLDOWN_DEFAULT", 0),
			ChallengeTokenTTL:        getEnvDuration("ENGINE_CHALLENGE_TOKEN_TTL", 15*time.Minute),
			IPHashSalt:               getEnvString("ENGINE_IP_HASH_SALT", ""),
			StrictTokenIP:            getEnvBool("ENGINE_STRICT_TOKEN_IP", false),
			ViewThroughLookbackDays:  getEnvInt("ENGINE_VIEW_THROUGH_LOOKBACK_DAYS", 90),
			PreviewBypassesRateLimit: getEnvBool("ENGINE_PREVIEW_BYPASSES_RATE_LIMIT", true),
		},
		Scheduler: SchedulerConfig{
			CampaignCacheInterval: getEnvDuration("SCHEDULER_CAMPAIGN_CACHE_INTERVAL", 1*time.Minute),
			AudienceSyncInterval:  getEnvDuration("SCHEDULER_AUDIENCE_SYNC_INTERVAL", 30*time.Minute),
			LockTTL:               getEnvDuration("SCHEDULER_LOCK_TTL", 5*time.Minute),
			AudienceStaleAfter:    getEnvDuration("SCHEDULER_AUDIENCE_STALE_AFTER", 72*time.Hour),
		},
		Logging: LoggingConfig{
			Level:             getEnvString("LOG_LEVEL", "info"),
			Format:            getEnvString("LOG_FORMAT", "json"),
			Output:            getEnvString("LOG_OUTPUT", "file"),
			FilePath:          getEnvString("LOG_FILE_PATH", "/var/log/nurikabe/app.log"),
			MaxSize:           getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:        getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:            getEnvInt("LOG_MAX_AGE", 30),
			Compress:          getEnvBool("LOG_COMPRESS", true),
			EnableCaller:      getEnvBool("LOG_ENABLE_CALLER", true),
			EnableStacktrace:  getEnvBool("LOG_ENABLE_STACKTRACE", true),
			EnableAccessLog:   getEnvBool("LOG_ENABLE_ACCESS", true),
			AccessLogPath:     getEnvString("LOG_ACCESS_PATH", "/var/log/nurikabe/access.log"),
			AccessLogFormat:   getEnvString("LOG_ACCESS_FORMAT", "combined"),
			EnableAuditLog:    getEnvBool("LOG_ENABLE_AUDIT", true),
			AuditLogPath:      getEnvString("LOG_AUDIT_PATH", "/var/log/nurikabe/audit.log"),
			EnableSecurityLog: getEnvBool("LOG_ENABLE_SECURITY", true),
			SecurityLogPath:   getEnvString("LOG_SECURITY_PATH", "/var/log/nurikabe/security.log"),
		},
		Metrics: MetricsConfig{
			Enabled:              getEnvBool("METRICS_ENABLED", true),
			Port:                 getEnvInt("METRICS_PORT", 9090),
			Path:                 getEnvString("METRICS_PATH", "/metrics"),
			EnablePprof:          getEnvBool("METRICS_ENABLE_PPROF", false),
			PprofPort:            getEnvInt("METRICS_PPROF_PORT", 6060),
			EnablePrometheus:     getEnvBool("METRICS_ENABLE_PROMETHEUS", true),
			PrometheusPath:       getEnvString("METRICS_PROMETHEUS_PATH", "/prometheus"),
			CollectDBMetrics:     getEnvBool("METRICS_COLLECT_DB", true),
			CollectCacheMetrics:  getEnvBool("METRICS_COLLECT_CACHE", true),
			CollectEngineMetrics: getEnvBool("METRICS_COLLECT_ENGINE", true),
		},
		Cache: CacheConfig{
			Enabled:         getEnvBool("CACHE_ENABLED", true),
			Provider:        getEnvString("CACHE_PROVIDER", "redis"),
			RedisURL:        getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:         getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix:     getEnvString("CACHE_REDIS_PREFIX", "nurikabe:"),
			DefaultTTL:      getEnvDuration("CACHE_DEFAULT_TTL", 1*time.Hour),
			MaxMemory:       getEnvInt("CACHE_MAX_MEMORY", 256),
			CleanupInterval: getEnvDuration("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Deployment: DeploymentConfig{
			Domain:               getEnvString("DOMAIN", "nurikabe.io"),
			APIDomain:            getEnvString("API_DOMAIN", "api.nurikabe.io"),
			MonitoringDomain:     getEnvString("MONITORING_DOMAIN", "monitoring.nurikabe.io"),
			CertbotEmail:         getEnvString("CERTBOT_EMAIL", "admin@nurikabe.io"),
			GrafanaAdminPassword: getEnvString("GRAFANA_ADMIN_PASSWORD", ""),
			RedisPassword:        getEnvString("REDIS_PASSWORD", ""),
			Environment:          getEnvString("APP_ENV", "production"),
			Version:              getEnvString("VERSION", "1.0.0"),
			CommitHash:           getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:            getEnvString("BUILD_TIME", "unknown"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads environment variables from .env file if it exists
func loadEnvFile() error {
	envFile := ".env"

	// Check if .env file exists
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		// .env file doesn't exist, continue with environment variables
		return nil
	}

	// Open .env file
	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	// Read file line by line
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key=value pairs
		if strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])

				// Remove quotes if present
				if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
					(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
					value = value[1 : len(value)-1]
				}

				// Set environment variable if not already set
				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		// Use standard library strings.Split and strings.TrimSpace
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}
	if cfg.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD is required")
	}

	// Validate JWT configuration
	if cfg.JWT.SecretKey == "" {
		errors = append(errors, "JWT_SECRET_KEY is required")
	}
	if len(cfg.JWT.SecretKey) < 32 {
		errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		errors = append(errors, "JWT_ACCESS_TOKEN_TTL must be positive")
	}
	if cfg.JWT.RefreshTokenTTL <= 0 {
		errors = append(errors, "JWT_REFRESH_TOKEN_TTL must be positive")
	}
	if cfg.JWT.Issuer == "" {
		errors = append(errors, "JWT_ISSUER is required")
	}
	if cfg.JWT.Audience == "" {
		errors = append(errors, "JWT_AUDIENCE is required")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_WRITE_TIMEOUT must be positive")
	}
	if cfg.Server.IdleTimeout <= 0 {
		errors = append(errors, "SERVER_IDLE_TIMEOUT must be positive")
	}

	// Validate security configuration
	if cfg.Security.PasswordMinLength < 6 {
		errors = append(errors, "PASSWORD_MIN_LENGTH must be at least 6")
	}
	if cfg.Security.BcryptCost < 10 || cfg.Security.BcryptCost > 14 {
		errors = append(errors, "BCRYPT_COST must be between 10 and 14")
	}

	// Validate engine configuration
	if cfg.Engine.SessionWindow <= 0 {
		errors = append(errors, "ENGINE_SESSION_WINDOW must be positive")
	}
	if cfg.Engine.DayWindow < 24*time.Hour {
		errors = append(errors, "ENGINE_DAY_WINDOW must cover at least a full day")
	}
	if cfg.Engine.ChallengeTokenTTL <= 0 {
		errors = append(errors, "ENGINE_CHALLENGE_TOKEN_TTL must be positive")
	}
	if cfg.Engine.IPHashSalt == "" {
		errors = append(errors, "ENGINE_IP_HASH_SALT is required")
	}
	if cfg.Engine.ViewThroughLookbackDays <= 0 {
		errors = append(errors, "ENGINE_VIEW_THROUGH_LOOKBACK_DAYS must be positive")
	}

	// Validate rate limit rules
	for name, rule := range map[string]RateLimitRule{
		"RL_CHALLENGE":   cfg.RateLimits.ChallengeRequest,
		"RL_LEAD_SUBMIT": cfg.RateLimits.LeadSubmit,
		"RL_LOGIN":       cfg.RateLimits.Login,
	} {
		if !rule.Enabled {
			continue
		}
		if rule.Max <= 0 {
			errors = append(errors, fmt.Sprintf("%s_MAX must be positive when the rule is enabled", name))
		}
		if rule.Window <= 0 {
			errors = append(errors, fmt.Sprintf("%s_WINDOW must be positive when the rule is enabled", name))
		}
	}

	// Validate TLS configuration if enabled
	if cfg.Security.TLSEnabled {
		if cfg.Security.TLSCertFile == "" {
			errors = append(errors, "TLS_CERT_FILE is required when TLS is enabled")
		}
		if cfg.Security.TLSKeyFile == "" {
			errors = append(errors, "TLS_KEY_FILE is required when TLS is enabled")
		}
	}

	// Validate logging configuration
	if cfg.Logging.Level != "" {
		validLevels := []string{"debug", "info", "warn", "error"}
		valid := false
		for _, level := range validLevels {
			if cfg.Logging.Level == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
		}
	}

	// Validate cache configuration if enabled
	if cfg.Cache.Enabled {
		if cfg.Cache.Provider == "redis" && cfg.Cache.RedisURL == "" {
			errors = append(errors, "CACHE_REDIS_URL is required when cache is enabled with redis provider")
		}
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
