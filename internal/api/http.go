package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/pcsc-tools/cardid-agent/internal/config"
	"github.com/pcsc-tools/cardid-agent/internal/core"
	"github.com/pcsc-tools/cardid-agent/internal/logging"
	"github.com/pcsc-tools/cardid-agent/internal/service"
	"github.com/pcsc-tools/cardid-agent/internal/settings"
)

// Version information (set via ldflags in production builds)
var (
	Version   = ""
	BuildTime = ""
	GitCommit = ""
)

func init() {
	// If version wasn't set via ldflags, this is a dev build
	// Try to get VCS info from Go's build info
	if Version == "" {
		Version = "dev"
		if info, ok := debug.ReadBuildInfo(); ok {
			var vcsRevision, vcsTime string
			var vcsModified bool
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					vcsRevision = setting.Value
				case "vcs.time":
					vcsTime = setting.Value
				case "vcs.modified":
					vcsModified = setting.Value == "true"
				}
			}
			if vcsRevision != "" {
				shortCommit := vcsRevision
				if len(shortCommit) > 7 {
					shortCommit = shortCommit[:7]
				}
				GitCommit = vcsRevision
				Version = "dev-" + shortCommit
				if vcsModified {
					Version += "-dirty"
				}
			}
			if vcsTime != "" {
				BuildTime = vcsTime
			}
		}
	}
}

// Controller is the part of the agent the API drives. *core.Agent
// implements it.
type Controller interface {
	ReaderName() string
	StartMonitor() error
	StopMonitor()
	MonitorState() core.MonitorState
	MonitorErr() error
	ReadNow() core.ReadResult
	ListReaders() ([]string, error)
	Subscribe(buffer int) (<-chan core.Event, func())
}

// controller is the agent served by the API
var controller Controller

// shutdownHandler is called when a shutdown is requested via API
var shutdownHandler func()

// agentConfig is the resolved configuration autostart entries reproduce
var agentConfig *config.Config

// SetController sets the agent the handlers operate on.
func SetController(c Controller) {
	controller = c
}

// SetConfig sets the configuration used when installing autostart.
func SetConfig(cfg *config.Config) {
	agentConfig = cfg
}

// SetShutdownHandler sets the callback for shutdown requests
func SetShutdownHandler(handler func()) {
	shutdownHandler = handler
}

// NewMux constructs and returns the HTTP mux for the API.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", corsMiddleware(handleIndex))

	// API routes
	mux.HandleFunc("/v1/readers", corsMiddleware(handleListReaders))
	mux.HandleFunc("/v1/monitor", corsMiddleware(handleMonitor))
	mux.HandleFunc("/v1/read", corsMiddleware(handleRead))
	mux.HandleFunc("/v1/version", corsMiddleware(handleVersion))
	mux.HandleFunc("/v1/health", corsMiddleware(handleHealth))
	mux.HandleFunc("/v1/logs", corsMiddleware(handleLogs))
	mux.HandleFunc("/v1/crashes", corsMiddleware(handleCrashes))
	mux.HandleFunc("/v1/settings", corsMiddleware(handleSettings))
	mux.HandleFunc("/v1/shutdown", corsMiddleware(handleShutdown))
	mux.HandleFunc("/v1/autostart", corsMiddleware(handleAutostart))
	return mux
}

// recoveryMiddleware catches panics and logs them to crash files.
func recoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				context := fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)

				logging.CapturePanic(rec, stack, context)

				logging.Error(logging.CatHTTP, fmt.Sprintf("PANIC in %s: %v", context, rec), map[string]any{
					"panic":  fmt.Sprintf("%v", rec),
					"method": r.Method,
					"path":   r.URL.Path,
				})

				crashFile, err := logging.WriteCrashLog(rec, stack)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
					crashFile = ""
				}

				fmt.Fprintf(os.Stderr, "\n=== PANIC in %s ===\n%v\n\nStack trace:\n%s\n", context, rec, string(stack))

				respondJSON(w, http.StatusInternalServerError, map[string]string{
					"error":     "internal server error",
					"crashFile": crashFile,
				})
			}
		}()
		next(w, r)
	}
}

// corsMiddleware adds CORS headers to allow browser access from any origin.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		recoveryMiddleware(next)(w, r)
	}
}

// requireController answers 503 when no agent is attached.
func requireController(w http.ResponseWriter) bool {
	if controller == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "agent not running",
		})
		return false
	}
	return true
}

// errorStatus maps agent errors to HTTP status codes.
func errorStatus(err error) int {
	var notFound *core.ReaderNotFoundError
	var unavailable *core.ServiceUnavailableError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrMonitorRunning):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	resp := map[string]interface{}{
		"name":    "cardid-agent",
		"version": Version,
	}
	if controller != nil {
		resp["reader"] = controller.ReaderName()
		resp["monitor"] = controller.MonitorState().String()
	}
	respondJSON(w, http.StatusOK, resp)
}

func handleListReaders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if !requireController(w) {
		return
	}

	readers, err := controller.ListReaders()
	if err != nil {
		respondJSON(w, errorStatus(err), map[string]string{
			"error": err.Error(),
		})
		return
	}
	if readers == nil {
		readers = []string{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"readers":    readers,
		"configured": controller.ReaderName(),
	})
}

// monitorStatus is the JSON view of the monitor lifecycle.
func monitorStatus() map[string]interface{} {
	status := map[string]interface{}{
		"reader": controller.ReaderName(),
		"state":  controller.MonitorState().String(),
	}
	if err := controller.MonitorErr(); err != nil {
		status["error"] = err.Error()
	}
	return status
}

func handleMonitor(w http.ResponseWriter, r *http.Request) {
	if !requireController(w) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		respondJSON(w, http.StatusOK, monitorStatus())

	case http.MethodPost:
		if err := controller.StartMonitor(); err != nil {
			logging.Warn(logging.CatHTTP, "Monitor start failed", map[string]any{
				"reader": controller.ReaderName(),
				"error":  err.Error(),
			})
			respondJSON(w, errorStatus(err), map[string]string{
				"error": err.Error(),
			})
			return
		}
		logging.Info(logging.CatHTTP, "Monitor started via API", nil)
		respondJSON(w, http.StatusOK, monitorStatus())

	case http.MethodDelete:
		controller.StopMonitor()
		logging.Info(logging.CatHTTP, "Monitor stopped via API", nil)
		respondJSON(w, http.StatusOK, monitorStatus())

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if !requireController(w) {
		return
	}

	result := controller.ReadNow()
	if result.Err != nil {
		respondJSON(w, http.StatusBadGateway, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	resp := map[string]interface{}{
		"status":      "ok",
		"readerCount": 0,
	}
	if controller == nil {
		resp["status"] = "degraded"
		respondJSON(w, http.StatusOK, resp)
		return
	}

	readers, err := controller.ListReaders()
	if err != nil {
		resp["status"] = "degraded"
		resp["error"] = err.Error()
	}
	resp["readerCount"] = len(readers)
	resp["monitor"] = controller.MonitorState().String()

	respondJSON(w, http.StatusOK, resp)
}

func handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if shutdownHandler == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "shutdown not available",
		})
		return
	}

	logging.Info(logging.CatSystem, "Shutdown requested via API", nil)
	respondJSON(w, http.StatusOK, map[string]string{
		"success": "shutting down",
	})

	// Trigger shutdown after response is sent
	go func() {
		shutdownHandler()
	}()
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Error logged but not returned (header already sent)
}

func handleAutostart(w http.ResponseWriter, r *http.Request) {
	svc := service.New(agentConfig)

	switch r.Method {
	case http.MethodGet:
		installed := svc.IsInstalled()
		status, _ := svc.Status()

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"enabled": installed,
			"status":  status,
		})

	case http.MethodPost:
		if svc.IsInstalled() {
			respondJSON(w, http.StatusOK, map[string]string{
				"success": "auto-start already enabled",
			})
			return
		}

		if err := svc.Install(); err != nil {
			logging.Error(logging.CatSystem, "Failed to enable auto-start", map[string]any{
				"error": err.Error(),
			})
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error": err.Error(),
			})
			return
		}

		logging.Info(logging.CatSystem, "Auto-start enabled via API", nil)
		respondJSON(w, http.StatusOK, map[string]string{
			"success": "auto-start enabled",
		})

	case http.MethodDelete:
		if !svc.IsInstalled() {
			respondJSON(w, http.StatusOK, map[string]string{
				"success": "auto-start already disabled",
			})
			return
		}

		if err := svc.Uninstall(); err != nil {
			logging.Error(logging.CatSystem, "Failed to disable auto-start", map[string]any{
				"error": err.Error(),
			})
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error": err.Error(),
			})
			return
		}

		logging.Info(logging.CatSystem, "Auto-start disabled via API", nil)
		respondJSON(w, http.StatusOK, map[string]string{
			"success": "auto-start disabled",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()

		// Limit (default 100, max 1000)
		limit := 100
		if limitStr := query.Get("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
				limit = min(l, 1000)
			}
		}

		minLevel := logging.LevelDebug
		if levelStr := query.Get("level"); levelStr != "" {
			l, ok := logging.ParseLevel(levelStr)
			if !ok {
				respondJSON(w, http.StatusBadRequest, map[string]string{
					"error": "level must be 'debug', 'info', 'warn', or 'error'",
				})
				return
			}
			minLevel = l
		}

		category := logging.Category(query.Get("category"))

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"entries": logging.GetEntries(limit, minLevel, category),
		})

	case http.MethodDelete:
		logging.Default().Clear()
		respondJSON(w, http.StatusOK, map[string]string{
			"success": "logs cleared",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func handleCrashes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()

	// Check if requesting a specific crash log
	if filename := query.Get("file"); filename != "" {
		content, err := logging.ReadCrashLog(filename)
		if err != nil {
			respondJSON(w, http.StatusNotFound, map[string]string{
				"error": "crash log not found: " + err.Error(),
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"filename": filename,
			"content":  content,
		})
		return
	}

	limit := 20
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = min(l, 100)
		}
	}

	logs, err := logging.GetCrashLogs(limit)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list crash logs: " + err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"crashes":  logs,
		"crashDir": logging.CrashLogDir(),
	})
}

// handleSettings handles GET and PUT requests for user settings.
func handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondJSON(w, http.StatusOK, settings.Get())

	case http.MethodPut, http.MethodPost:
		var req struct {
			CrashReporting       *bool   `json:"crashReporting"`
			ReaderName           *string `json:"readerName"`
			StartMonitorOnLaunch *bool   `json:"startMonitorOnLaunch"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid request body: " + err.Error(),
			})
			return
		}

		s, err := settings.Update(func(s *settings.Settings) {
			if req.CrashReporting != nil {
				s.CrashReporting = *req.CrashReporting
			}
			if req.ReaderName != nil {
				s.ReaderName = *req.ReaderName
			}
			if req.StartMonitorOnLaunch != nil {
				s.StartMonitorOnLaunch = *req.StartMonitorOnLaunch
			}
		})
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save settings: " + err.Error(),
			})
			return
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"settings": s,
			"message":  "Settings updated. Restart may be required for some changes to take effect.",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}
