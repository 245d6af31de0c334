package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Config holds all application configuration values for the secure video gateway.
// It includes settings for token issuance, rate limiting, local storage mapping,
// upstream proxying, caching, and the admin API.
type Config struct {
	BaseURL             string        `json:"baseURL"`             // Public base URL of the gateway (used when building streaming URLs)
	ListenPort          int           `json:"listenPort"`          // TCP port the HTTP server binds to
	StorageRoot         string        `json:"storageRoot"`         // Filesystem directory holding locally stored media
	StorageBaseURL      string        `json:"storageBaseURL"`      // URL prefix that maps onto StorageRoot for local serving
	AllowedProxyDomains []string      `json:"allowedProxyDomains"` // Hosts (and their subdomains) trusted as remote origins
	AppSecret           string        `json:"appSecret"`           // Static half of the token signing secret
	AdminPasswordHash   string        `json:"adminPasswordHash"`   // bcrypt hash protecting the admin API; empty disables admin routes
	DatabasePath        string        `json:"databasePath"`        // Path to the SQLite database file
	TokenTTL            time.Duration `json:"tokenTTL"`            // Lifetime of issued capability tokens
	NonceTTL            time.Duration `json:"nonceTTL"`            // Length of one anti-forgery nonce validity window
	RateLimitRequests   int           `json:"rateLimitRequests"`   // Issuance requests allowed per client per window
	RateLimitWindow     time.Duration `json:"rateLimitWindow"`     // Length of the issuance rate-limit window
	ProxyTimeout        time.Duration `json:"proxyTimeout"`        // Response header timeout for upstream requests
	ProxyMaxRedirects   int           `json:"proxyMaxRedirects"`   // Redirects followed before an upstream request is abandoned
	UpstreamPerSecond   int           `json:"upstreamPerSecond"`   // Per-host upstream request rate for the proxy path
	UserAgent           string        `json:"userAgent"`           // User-Agent sent on upstream requests
	ChunkSize           int           `json:"chunkSize"`           // Copy chunk size in bytes for streamed responses
	CacheEnabled        bool          `json:"cacheEnabled"`        // Whether the resource descriptor cache is enabled
	CacheDuration       time.Duration `json:"cacheDuration"`       // TTL for cached resource descriptors
	WorkerThreads       int           `json:"workerThreads"`       // Worker pool size for admin probe tasks
	Debug               bool          `json:"debug"`               // Enable debug logging
	ObfuscateUrls       bool          `json:"obfuscateUrls"`       // Obfuscate source URLs in logs
	LogLevel            string        `json:"logLevel"`            // Minimum log level (DEBUG, INFO, WARN, ERROR)
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling configuration.
// String duration fields (e.g., "60s") are parsed into time.Duration values.
type ConfigFile struct {
	BaseURL             string   `json:"baseURL"`
	ListenPort          int      `json:"listenPort"`
	StorageRoot         string   `json:"storageRoot"`
	StorageBaseURL      string   `json:"storageBaseURL"`
	AllowedProxyDomains []string `json:"allowedProxyDomains"`
	AppSecret           string   `json:"appSecret"`
	AdminPasswordHash   string   `json:"adminPasswordHash"`
	DatabasePath        string   `json:"databasePath"`
	TokenTTL            string   `json:"tokenTTL"`        // Duration string (e.g., "60s")
	NonceTTL            string   `json:"nonceTTL"`        // Duration string (e.g., "12h")
	RateLimitRequests   int      `json:"rateLimitRequests"`
	RateLimitWindow     string   `json:"rateLimitWindow"` // Duration string (e.g., "60s")
	ProxyTimeout        string   `json:"proxyTimeout"`    // Duration string (e.g., "30s")
	ProxyMaxRedirects   int      `json:"proxyMaxRedirects"`
	UpstreamPerSecond   int      `json:"upstreamPerSecond"`
	UserAgent           string   `json:"userAgent"`
	ChunkSize           int      `json:"chunkSize"`
	CacheEnabled        bool     `json:"cacheEnabled"`
	CacheDuration       string   `json:"cacheDuration"` // Duration string (e.g., "5m")
	WorkerThreads       int      `json:"workerThreads"`
	Debug               bool     `json:"debug"`
	ObfuscateUrls       bool     `json:"obfuscateUrls"`
	LogLevel            string   `json:"logLevel"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from `/settings/config.json` (overridable via SVP_CONFIG).
//   - Falls back to default config if file is missing or invalid.
//   - Runs validation to ensure safe defaults.
//
// Returns:
//   - *Config: fully validated configuration object
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	// Attempt to load from file
	configPath := "/settings/config.json"
	if env := os.Getenv("SVP_CONFIG"); env != "" {
		configPath = env
	}
	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	// Ensure safe defaults for missing values
	validateAndSetDefaults(config)

	// Cache for future calls
	configCache = config

	// Debug logging of loaded config
	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Base URL: %s", config.BaseURL)
		log.Printf("  Storage root: %s (mapped from %s)", config.StorageRoot, config.StorageBaseURL)
		log.Printf("  Allowed proxy domains: %d configured", len(config.AllowedProxyDomains))
		log.Printf("  Token TTL: %s", config.TokenTTL)
		log.Printf("  Rate limit: %d requests per %s", config.RateLimitRequests, config.RateLimitWindow)
		log.Printf("  Obfuscate URLs: %v", config.ObfuscateUrls)
	}

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
//
// Parameters:
//   - path: path to JSON config file
//
// Returns:
//   - *Config: parsed configuration
//   - error: if reading/parsing failed
func loadFromFile(path string) (*Config, error) {

	// read from the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// unmarshal the config file
	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// convert to our settings
	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:             cf.BaseURL,
		ListenPort:          cf.ListenPort,
		StorageRoot:         cf.StorageRoot,
		StorageBaseURL:      cf.StorageBaseURL,
		AllowedProxyDomains: cf.AllowedProxyDomains,
		AppSecret:           cf.AppSecret,
		AdminPasswordHash:   cf.AdminPasswordHash,
		DatabasePath:        cf.DatabasePath,
		RateLimitRequests:   cf.RateLimitRequests,
		ProxyMaxRedirects:   cf.ProxyMaxRedirects,
		UpstreamPerSecond:   cf.UpstreamPerSecond,
		UserAgent:           cf.UserAgent,
		ChunkSize:           cf.ChunkSize,
		CacheEnabled:        cf.CacheEnabled,
		WorkerThreads:       cf.WorkerThreads,
		Debug:               cf.Debug,
		ObfuscateUrls:       cf.ObfuscateUrls,
		LogLevel:            cf.LogLevel,
	}

	// Parse duration fields
	var err error
	if config.TokenTTL, err = parseDuration(cf.TokenTTL); err != nil {
		return nil, fmt.Errorf("invalid tokenTTL: %w", err)
	}
	if config.NonceTTL, err = parseDuration(cf.NonceTTL); err != nil {
		return nil, fmt.Errorf("invalid nonceTTL: %w", err)
	}
	if config.RateLimitWindow, err = parseDuration(cf.RateLimitWindow); err != nil {
		return nil, fmt.Errorf("invalid rateLimitWindow: %w", err)
	}
	if config.ProxyTimeout, err = parseDuration(cf.ProxyTimeout); err != nil {
		return nil, fmt.Errorf("invalid proxyTimeout: %w", err)
	}
	if config.CacheDuration, err = parseDuration(cf.CacheDuration); err != nil {
		return nil, fmt.Errorf("invalid cacheDuration: %w", err)
	}

	return config, nil
}

// parseDuration parses a duration string, treating an empty string as zero
// so that missing fields fall through to validateAndSetDefaults.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:             "http://localhost:8080",
		ListenPort:          8080,
		StorageRoot:         "/media",
		StorageBaseURL:      "http://localhost:8080/media",
		AllowedProxyDomains: []string{},
		DatabasePath:        "/settings/gateway.db",
		TokenTTL:            60 * time.Second, // Tokens live for one minute
		NonceTTL:            12 * time.Hour,   // Nonce windows tick every 12 hours
		RateLimitRequests:   60,               // 60 issuance requests...
		RateLimitWindow:     60 * time.Second, // ...per minute per client
		ProxyTimeout:        30 * time.Second, // Upstream header timeout
		ProxyMaxRedirects:   3,                // Redirect cap on upstream requests
		UpstreamPerSecond:   10,               // Per-host upstream request rate
		UserAgent:           "SVP-Gateway/1.0",
		ChunkSize:           8192, // 8 KiB copy chunks
		CacheEnabled:        true,
		CacheDuration:       5 * time.Minute,
		WorkerThreads:       8,
		Debug:               false,
		ObfuscateUrls:       false,
		LogLevel:            "INFO",
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.ListenPort <= 0 {
		config.ListenPort = 8080
	}
	if config.StorageRoot == "" {
		config.StorageRoot = "/media"
	}
	if config.StorageBaseURL == "" {
		config.StorageBaseURL = config.BaseURL + "/media"
	}
	config.StorageBaseURL = strings.TrimRight(config.StorageBaseURL, "/")
	if config.DatabasePath == "" {
		config.DatabasePath = "/settings/gateway.db"
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = 60 * time.Second
	}
	if config.NonceTTL <= 0 {
		config.NonceTTL = 12 * time.Hour
	}
	if config.RateLimitRequests <= 0 {
		config.RateLimitRequests = 60
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = 60 * time.Second
	}
	if config.ProxyTimeout <= 0 {
		config.ProxyTimeout = 30 * time.Second
	}
	if config.ProxyMaxRedirects <= 0 {
		config.ProxyMaxRedirects = 3
	}
	if config.UpstreamPerSecond <= 0 {
		config.UpstreamPerSecond = 10
	}
	if config.UserAgent == "" {
		config.UserAgent = "SVP-Gateway/1.0"
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 8192
	}
	if config.CacheDuration <= 0 {
		config.CacheDuration = 5 * time.Minute
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	if config.AppSecret == "" {
		// Installs stay safe regardless: the persisted random salt is appended at runtime.
		config.AppSecret = "secure-video-gateway-secret"
	}
}

// IsDomainAllowed reports whether the given host is covered by the configured
// proxy allow-list, either as an exact match or as a subdomain of an entry.
func (c *Config) IsDomainAllowed(host string) bool {
	host = strings.ToLower(host)

	// loop the domains to make sure the host is trusted
	for _, domain := range c.AllowedProxyDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// CreateExampleConfig creates an example config file on disk.
//
// Parameters:
//   - path: file path to write example config
//
// Returns:
//   - error: if write fails
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		BaseURL:             "http://localhost:8080",
		ListenPort:          8080,
		StorageRoot:         "/media",
		StorageBaseURL:      "http://localhost:8080/media",
		AllowedProxyDomains: []string{"cdn.example.com", "media.example.org"},
		AppSecret:           "change-me",
		AdminPasswordHash:   "",
		DatabasePath:        "/settings/gateway.db",
		TokenTTL:            "60s",
		NonceTTL:            "12h",
		RateLimitRequests:   60,
		RateLimitWindow:     "60s",
		ProxyTimeout:        "30s",
		ProxyMaxRedirects:   3,
		UpstreamPerSecond:   10,
		UserAgent:           "SVP-Gateway/1.0",
		ChunkSize:           8192,
		CacheEnabled:        true,
		CacheDuration:       "5m",
		WorkerThreads:       4,
		Debug:               false,
		ObfuscateUrls:       true,
		LogLevel:            "INFO",
	}

	// setup the data properly
	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	// write the config file
	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfig() call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}
