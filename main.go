package main

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"svp-gateway/work/cache"
	"svp-gateway/work/client"
	"svp-gateway/work/config"
	"svp-gateway/work/database"
	"svp-gateway/work/gateway"
	"svp-gateway/work/handlers"
	"svp-gateway/work/issuer"
	"svp-gateway/work/logger"
	"svp-gateway/work/middleware"
	"svp-gateway/work/nonce"
	"svp-gateway/work/ratelimit"
	"svp-gateway/work/resource"
	"svp-gateway/work/secrets"
)

var (
	Version = "v0.1.0" // default version
)

// App bundles the wired components so the admin handlers can reach them.
type App struct {
	Config     *config.Config
	DB         *database.DB
	Cache      *cache.VideoCache
	Store      resource.Store
	Secrets    *secrets.Keeper
	HttpClient *client.HeaderSettingClient
	WorkerPool *ants.Pool
	StartTime  time.Time
}

// isAdmin checks the request's bearer credential against the configured
// bcrypt hash. An empty hash disables admin access entirely.
func (app *App) isAdmin(r *http.Request) bool {
	if app.Config.AdminPasswordHash == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	password, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(app.Config.AdminPasswordHash), []byte(password)) == nil
}

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	// Set up logging
	logger.SetLogLevel(cfg.LogLevel)
	if cfg.Debug {
		logger.SetLogLevel("DEBUG")
	}

	// Open the database (videos + persisted secret salt)
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Signing secret keeper over the persisted salt
	keeper := secrets.NewKeeper(cfg.AppSecret, db)

	// Resource descriptor store, optionally fronted by the TTL cache
	videoCache := cache.NewVideoCache(cfg.CacheDuration)
	defer videoCache.Close()
	var store resource.Store = &resource.SQLStore{DB: db}
	if cfg.CacheEnabled {
		store = &resource.CachedStore{Inner: store, Cache: videoCache}
	}

	// Anti-forgery nonces and the issuance rate limiter
	nonces := nonce.NewService("svp_video", cfg.NonceTTL, keeper)
	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)

	// Initialize HTTP client for upstream proxying
	httpClient := client.NewHeaderSettingClient(cfg)

	// Initialize worker pool for admin probe tasks
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	app := &App{
		Config:     cfg,
		DB:         db,
		Cache:      videoCache,
		Store:      store,
		Secrets:    keeper,
		HttpClient: httpClient,
		WorkerPool: workerPool,
		StartTime:  time.Now(),
	}

	// Token issuer and streaming gateway
	iss := issuer.New(cfg, store, nonces, limiter, keeper)
	gw := gateway.New(cfg, keeper, httpClient)

	// Setup HTTP routes
	router := mux.NewRouter()

	// Anti-forgery nonce refresh
	router.HandleFunc("/api/nonce", middleware.GzipMiddleware(handlers.HandleNonce(nonces))).Methods("GET")

	// Capability token issuance
	router.HandleFunc("/api/token", middleware.GzipMiddleware(handlers.HandleToken(iss, app.isAdmin))).Methods("GET")

	// Token-gated streaming endpoint
	router.HandleFunc("/stream", handlers.HandleStream(gw)).Methods("GET")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, app)

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("Starting SVP Gateway %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Storage Root: %s", cfg.StorageRoot)
	logger.Info("  - Allowed Proxy Domains: %d", len(cfg.AllowedProxyDomains))
	logger.Info("  - Token TTL: %s", cfg.TokenTTL)
	logger.Info("  - Rate Limit: %d req / %s", cfg.RateLimitRequests, cfg.RateLimitWindow)
	logger.Info("  - Cache Enabled: %v", cfg.CacheEnabled)
	logger.Info("  - Cache Duration: %s", cfg.CacheDuration)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Admin API Enabled: %v", cfg.AdminPasswordHash != "")
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// fire us up
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
