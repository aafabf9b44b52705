// shared/config/config.go
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// CommonConfig holds configuration fields shared across services and tools.
type CommonConfig struct {
	RedisAddrs              []string      // Redis server addresses (e.g., "redis-cluster:6379")
	RedisPassword           string        // Redis password for authentication
	HeartbeatInterval       time.Duration // How often an instance heartbeats into the registry
	HeartbeatTTL            time.Duration // How long an instance counts as alive without a heartbeat
	RegistryCleanupInterval time.Duration // How often stale registry entries are swept
	ServiceIP               string        // The IP this instance advertises for registration
	ServicePort             int           // The port this instance listens on
}

// SessionServiceConfig holds configuration specific to the session-service.
type SessionServiceConfig struct {
	CommonConfig                            // Embed CommonConfig
	ListenAddr                string        // Address for the HTTP server (e.g., ":8080")
	MongoDBConnStr            string        // MongoDB connection string
	MongoDBDatabase           string        // MongoDB database name
	MongoDBSessionsCollection string        // MongoDB collection for team sessions
	JWTSecret                 string        // Secret for signing bearer tokens
	TokenTTL                  time.Duration // Bearer token lifetime
	TimeBudget                time.Duration // The fixed game time budget per team
	LevelCount                int           // Number of levels in this instance of the game
	WatcherInterval           time.Duration // How often the timeout watcher scans active sessions
	ResetClearsProgress       bool          // Whether a timer reset also resets level progress
}

// LoadCommonConfig loads common configuration from environment variables.
func LoadCommonConfig() (CommonConfig, error) {
	cfg := CommonConfig{}
	var err error

	redisAddrsStr := os.Getenv("REDIS_ADDRS")
	if redisAddrsStr == "" {
		cfg.RedisAddrs = []string{"localhost:6379"}
	} else {
		for _, addr := range strings.Split(redisAddrsStr, ",") {
			cfg.RedisAddrs = append(cfg.RedisAddrs, strings.TrimSpace(addr))
		}
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.HeartbeatInterval, err = getDuration("SERVICE_HEARTBEAT_INTERVAL", 5*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.HeartbeatTTL, err = getDuration("SERVICE_HEARTBEAT_TTL", 15*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.RegistryCleanupInterval, err = getDuration("SERVICE_REGISTRY_CLEANUP_INTERVAL", 30*time.Second)
	if err != nil {
		return cfg, err
	}

	cfg.ServiceIP = os.Getenv("POD_IP") // Injected by Kubernetes
	if cfg.ServiceIP == "" {
		cfg.ServiceIP = "0.0.0.0"
	}

	return cfg, nil
}

// LoadSessionServiceConfig loads configuration for the session-service.
func LoadSessionServiceConfig() (*SessionServiceConfig, error) {
	common, err := LoadCommonConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load common config for session-service: %w", err)
	}

	cfg := &SessionServiceConfig{
		CommonConfig:              common,
		ListenAddr:                os.Getenv("SESSION_SERVICE_LISTEN_ADDR"),
		MongoDBConnStr:            os.Getenv("MONGODB_CONN_STR"),
		MongoDBDatabase:           os.Getenv("MONGODB_DATABASE"),
		MongoDBSessionsCollection: os.Getenv("MONGODB_SESSIONS_COLLECTION"),
		JWTSecret:                 os.Getenv("JWT_SECRET"),
	}

	// Apply defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.MongoDBConnStr == "" {
		cfg.MongoDBConnStr = "mongodb://localhost:27017"
	}
	if cfg.MongoDBDatabase == "" {
		cfg.MongoDBDatabase = "escape"
	}
	if cfg.MongoDBSessionsCollection == "" {
		cfg.MongoDBSessionsCollection = "sessions"
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}

	cfg.TokenTTL, err = getDuration("AUTH_TOKEN_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.TimeBudget, err = getDuration("GAME_TIME_BUDGET", 3000*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.LevelCount, err = getInt("GAME_LEVEL_COUNT", 5)
	if err != nil {
		return nil, err
	}
	if cfg.LevelCount <= 0 {
		return nil, fmt.Errorf("GAME_LEVEL_COUNT must be a positive integer (got %d)", cfg.LevelCount)
	}
	cfg.WatcherInterval, err = getDuration("TIMEOUT_WATCHER_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.ResetClearsProgress, err = getBool("RESET_TIMER_CLEARS_PROGRESS", false)
	if err != nil {
		return nil, err
	}

	// Extract ServicePort from ListenAddr
	cfg.ServicePort, err = extractPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to extract port from SESSION_SERVICE_LISTEN_ADDR '%s': %w", cfg.ListenAddr, err)
	}

	return cfg, nil
}

// Helper function to parse duration from environment variable
func getDuration(envKey string, defaultVal time.Duration) (time.Duration, error) {
	valStr := os.Getenv(envKey)
	if valStr == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(valStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format for %s: %w", envKey, err)
	}
	return d, nil
}

// Helper function to parse int from environment variable
func getInt(envKey string, defaultVal int) (int, error) {
	valStr := os.Getenv(envKey)
	if valStr == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer format for %s: %w", envKey, err)
	}
	return i, nil
}

// Helper function to parse bool from environment variable
func getBool(envKey string, defaultVal bool) (bool, error) {
	valStr := os.Getenv(envKey)
	if valStr == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(valStr)
	if err != nil {
		return false, fmt.Errorf("invalid boolean format for %s: %w", envKey, err)
	}
	return b, nil
}

// extractPort extracts the numeric port from a listen address (e.g., ":8080" -> 8080)
func extractPort(listenAddr string) (int, error) {
	_, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		if strings.HasPrefix(listenAddr, ":") {
			portStr = strings.TrimPrefix(listenAddr, ":")
		} else {
			return 0, fmt.Errorf("invalid ListenAddr format for port extraction: %w", err)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port number '%s': %w", portStr, err)
	}
	return port, nil
}
