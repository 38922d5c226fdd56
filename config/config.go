// gateway/config/config.go
package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration stores all the configurations
type Configuration struct {
	Server        ServerConfiguration
	Cache         CacheConfiguration
	Breaker       BreakerConfiguration
	RateLimit     RateLimitConfiguration
	Session       SessionConfiguration
	Identity      IdentityConfiguration
	Validation    ValidationConfiguration
	Audit         AuditConfiguration
	Elasticsearch ElasticsearchConfiguration
	Upstream      UpstreamConfiguration
}

// ServerConfiguration stores the port and other web server settings
type ServerConfiguration struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// CacheConfiguration stores connection settings for the cache cluster
type CacheConfiguration struct {
	Addresses            []string
	Username             string
	Password             string
	TLS                  bool
	DialTimeout          time.Duration
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	CompressionThreshold int
}

// BreakerConfiguration stores circuit breaker tunables
type BreakerConfiguration struct {
	ErrorThreshold float64
	MinVolume      int
	Window         time.Duration
	Cooldown       time.Duration
	Timeout        time.Duration
}

// RateLimitConfiguration stores fixed-window limiter tunables
type RateLimitConfiguration struct {
	Window      time.Duration
	MaxRequests int
	Whitelist   []string
	FailOpen    bool
	FallbackRPS float64
}

// SessionConfiguration stores concurrent session settings
type SessionConfiguration struct {
	MaxConcurrent int
	ActivityTTL   time.Duration
}

// IdentityConfiguration stores identity provider client settings
type IdentityConfiguration struct {
	BaseURL     string
	Timeout     time.Duration
	CacheTTLCap time.Duration
}

// ValidationConfiguration stores request validation settings
type ValidationConfiguration struct {
	MaxPayloadBytes  int64
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// AuditConfiguration stores audit trail settings
type AuditConfiguration struct {
	Enabled bool
}

// ElasticsearchConfiguration stores data for Elasticsearch connection
type ElasticsearchConfiguration struct {
	URL string
}

// UpstreamConfiguration stores the proxied service targets
type UpstreamConfiguration struct {
	Members   string
	Analytics string
	Graph     string
}

var config *Configuration

func InitConfig() error {
	viper.AddConfigPath("config") // path to look for the config file in
	viper.SetConfigName("config") // name of the config file (without extension)
	viper.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// Set default configurations
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.readTimeout", "10s")
	viper.SetDefault("server.writeTimeout", "10s")

	viper.SetDefault("cache.addresses", []string{"localhost:6379"})
	viper.SetDefault("cache.username", "")
	viper.SetDefault("cache.password", "")
	viper.SetDefault("cache.tls", false)
	viper.SetDefault("cache.dialTimeout", "2s")
	viper.SetDefault("cache.readTimeout", "250ms")
	viper.SetDefault("cache.writeTimeout", "250ms")
	viper.SetDefault("cache.compressionThreshold", 4096)

	viper.SetDefault("breaker.errorThreshold", 0.5)
	viper.SetDefault("breaker.minVolume", 10)
	viper.SetDefault("breaker.window", "30s")
	viper.SetDefault("breaker.cooldown", "15s")
	viper.SetDefault("breaker.timeout", "500ms")

	viper.SetDefault("ratelimit.window", "1m")
	viper.SetDefault("ratelimit.maxRequests", 120)
	viper.SetDefault("ratelimit.whitelist", []string{"127.0.0.1"})
	viper.SetDefault("ratelimit.failOpen", true)
	viper.SetDefault("ratelimit.fallbackRPS", 5.0)

	viper.SetDefault("session.maxConcurrent", 3)
	viper.SetDefault("session.activityTTL", "30m")

	viper.SetDefault("identity.baseURL", "http://localhost:9000")
	viper.SetDefault("identity.timeout", "3s")
	viper.SetDefault("identity.cacheTTLCap", "15m")

	viper.SetDefault("validation.maxPayloadBytes", 1048576)
	viper.SetDefault("validation.timeout", "200ms")
	viper.SetDefault("validation.failureThreshold", 5)
	viper.SetDefault("validation.cooldown", "30s")

	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("elasticsearch.url", "http://localhost:9200")

	viper.SetDefault("upstream.members", "http://localhost:4001")
	viper.SetDefault("upstream.analytics", "http://localhost:4002")
	viper.SetDefault("upstream.graph", "http://localhost:4003")

	viper.SetDefault("log.dir", "logging")

	// Attempt to read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found. Using default settings and environment variables.")
		} else {
			return err
		}
	}

	// Unmarshal the configuration into the Configuration struct
	err := viper.Unmarshal(&config)
	if err != nil {
		return err
	}

	return nil
}

// GetConfig returns the loaded configuration
func GetConfig() *Configuration {
	return config
}

// GetString retrieves a string value from the configuration
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt retrieves an integer value from the configuration
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetInt64 retrieves an int64 value from the configuration
func GetInt64(key string) int64 {
	return viper.GetInt64(key)
}

// GetBool retrieves a boolean value from the configuration
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat64 retrieves a float64 value from the configuration
func GetFloat64(key string) float64 {
	return viper.GetFloat64(key)
}

// GetDuration retrieves a duration value from the configuration
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetStringSlice retrieves a string slice value from the configuration
func GetStringSlice(key string) []string {
	return viper.GetStringSlice(key)
}
