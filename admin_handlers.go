package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"svp-gateway/work/database"
	"svp-gateway/work/logger"
	"svp-gateway/work/middleware"
	"svp-gateway/work/utils"
)

// StatsResponse represents system statistics exposed through the admin API,
// providing operational metrics for monitoring and capacity planning.
type StatsResponse struct {
	TotalVideos   int    `json:"totalVideos"`
	Uptime        string `json:"uptime"`
	MemoryUsage   string `json:"memoryUsage"`
	Goroutines    int    `json:"goroutines"`
	WorkerThreads int    `json:"workerThreads"`
	CacheEnabled  bool   `json:"cacheEnabled"`
	LogLevel      string `json:"logLevel"`
	Version       string `json:"version"`
}

// ProbeResult reports the reachability of one stored quality URL, produced by
// the concurrent source probe.
type ProbeResult struct {
	VideoID int64  `json:"videoId"`
	Quality string `json:"quality"`
	URL     string `json:"url"` // obfuscated when configured
	OK      bool   `json:"ok"`
	Status  int    `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// setupAdminRoutes registers the admin API. Every route requires the bearer
// credential; when no admin password hash is configured the routes exist but
// always reject.
func setupAdminRoutes(router *mux.Router, app *App) {
	admin := router.PathPrefix("/admin").Subrouter()

	admin.HandleFunc("/videos", app.requireAdmin(middleware.GzipMiddleware(app.handleListVideos))).Methods("GET")
	admin.HandleFunc("/videos", app.requireAdmin(app.handleCreateVideo)).Methods("POST")
	admin.HandleFunc("/videos/{id:[0-9]+}", app.requireAdmin(app.handleGetVideo)).Methods("GET")
	admin.HandleFunc("/videos/{id:[0-9]+}", app.requireAdmin(app.handleUpdateVideo)).Methods("PUT")
	admin.HandleFunc("/videos/{id:[0-9]+}", app.requireAdmin(app.handleDeleteVideo)).Methods("DELETE")
	admin.HandleFunc("/stats", app.requireAdmin(middleware.GzipMiddleware(app.handleStats))).Methods("GET")
	admin.HandleFunc("/salt/rotate", app.requireAdmin(app.handleRotateSalt)).Methods("POST")
	admin.HandleFunc("/probe", app.requireAdmin(middleware.GzipMiddleware(app.handleProbe))).Methods("POST")
}

// requireAdmin gates a handler behind the bearer credential check.
func (app *App) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !app.isAdmin(r) {
			adminJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next(w, r)
	}
}

func (app *App) handleListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := app.DB.ListVideos()
	if err != nil {
		logger.Error("{admin - handleListVideos} %v", err)
		adminJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
		return
	}
	if videos == nil {
		videos = []*database.Video{}
	}
	adminJSON(w, http.StatusOK, videos)
}

func (app *App) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	video, err := app.DB.GetVideo(id)
	if errors.Is(err, database.ErrVideoNotFound) {
		adminJSON(w, http.StatusNotFound, map[string]string{"error": "Video not found"})
		return
	}
	if err != nil {
		logger.Error("{admin - handleGetVideo} %v", err)
		adminJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
		return
	}
	adminJSON(w, http.StatusOK, video)
}

func (app *App) handleCreateVideo(w http.ResponseWriter, r *http.Request) {
	var video database.Video
	if err := json.NewDecoder(r.Body).Decode(&video); err != nil {
		adminJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}
	if msg := validateVideo(&video); msg != "" {
		adminJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	created, err := app.DB.CreateVideo(&video)
	if err != nil {
		logger.Error("{admin - handleCreateVideo} %v", err)
		adminJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
		return
	}

	logger.Info("{admin - handleCreateVideo} Created video %d: %s", created.ID, created.Title)
	adminJSON(w, http.StatusCreated, created)
}

func (app *App) handleUpdateVideo(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	var video database.Video
	if err := json.NewDecoder(r.Body).Decode(&video); err != nil {
		adminJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}
	video.ID = id
	if msg := validateVideo(&video); msg != "" {
		adminJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	err := app.DB.UpdateVideo(&video)
	if errors.Is(err, database.ErrVideoNotFound) {
		adminJSON(w, http.StatusNotFound, map[string]string{"error": "Video not found"})
		return
	}
	if err != nil {
		logger.Error("{admin - handleUpdateVideo} %v", err)
		adminJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
		return
	}

	// the descriptor cache must not serve the stale row
	app.Cache.Invalidate(id)

	adminJSON(w, http.StatusOK, &video)
}

func (app *App) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	err := app.DB.DeleteVideo(id)
	if errors.Is(err, database.ErrVideoNotFound) {
		adminJSON(w, http.StatusNotFound, map[string]string{"error": "Video not found"})
		return
	}
	if err != nil {
		logger.Error("{admin - handleDeleteVideo} %v", err)
		adminJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
		return
	}

	app.Cache.Invalidate(id)
	logger.Info("{admin - handleDeleteVideo} Deleted video %d", id)
	adminJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (app *App) handleStats(w http.ResponseWriter, r *http.Request) {
	videos, err := app.DB.ListVideos()
	if err != nil {
		logger.Error("{admin - handleStats} %v", err)
		adminJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	adminJSON(w, http.StatusOK, StatsResponse{
		TotalVideos:   len(videos),
		Uptime:        time.Since(app.StartTime).Round(time.Second).String(),
		MemoryUsage:   utils.FormatBytes(int64(mem.Alloc)),
		Goroutines:    runtime.NumGoroutine(),
		WorkerThreads: app.Config.WorkerThreads,
		CacheEnabled:  app.Config.CacheEnabled,
		LogLevel:      logger.GetLogLevel(),
		Version:       Version,
	})
}

// handleRotateSalt regenerates the persisted signing salt. All in-flight
// tokens stop verifying; players recover by requesting fresh tokens.
func (app *App) handleRotateSalt(w http.ResponseWriter, r *http.Request) {
	if err := app.Secrets.Rotate(); err != nil {
		logger.Error("{admin - handleRotateSalt} %v", err)
		adminJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
		return
	}
	adminJSON(w, http.StatusOK, map[string]bool{"rotated": true})
}

// handleProbe checks every stored quality URL concurrently through the
// bounded worker pool and reports reachability per variant.
func (app *App) handleProbe(w http.ResponseWriter, r *http.Request) {
	videos, err := app.DB.ListVideos()
	if err != nil {
		logger.Error("{admin - handleProbe} %v", err)
		adminJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
		return
	}

	type target struct {
		videoID int64
		quality string
		url     string
	}

	var targets []target
	for _, v := range videos {
		for quality, u := range map[string]string{"hd": v.HDURL, "sd": v.SDURL, "ld": v.LDURL} {
			if u != "" {
				targets = append(targets, target{videoID: v.ID, quality: quality, url: u})
			}
		}
	}

	results := make([]ProbeResult, 0, len(targets))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, t := range targets {
		t := t
		wg.Add(1)
		submitErr := app.WorkerPool.Submit(func() {
			defer wg.Done()
			result := app.probeURL(r.Context(), t.videoID, t.quality, t.url)
			resultsMu.Lock()
			results = append(results, result)
			resultsMu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			logger.Warn("{admin - handleProbe} Failed to submit probe task: %v", submitErr)
		}
	}
	wg.Wait()

	adminJSON(w, http.StatusOK, results)
}

// probeURL issues one bounded HEAD request against a stored source URL.
func (app *App) probeURL(ctx context.Context, videoID int64, quality, rawURL string) ProbeResult {
	result := ProbeResult{
		VideoID: videoID,
		Quality: quality,
		URL:     utils.LogURL(app.Config, rawURL),
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	resp, err := app.HttpClient.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	resp.Body.Close()

	result.Status = resp.StatusCode
	result.OK = resp.StatusCode >= 200 && resp.StatusCode < 400
	return result
}

// validateVideo enforces the descriptor invariants shared by create and update.
func validateVideo(v *database.Video) string {
	if v.HDURL == "" {
		return "hdUrl is required"
	}
	if v.Visibility == "" {
		v.Visibility = "public"
	}
	if v.Visibility != "public" && v.Visibility != "private" {
		return fmt.Sprintf("invalid visibility %q", v.Visibility)
	}
	return ""
}

func adminJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
