// Package api exposes the bridge's admin HTTP surface: status, stored
// connection and publisher configuration, and the reload trigger that
// drives live reconfiguration.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arena-data/mocap.bridge/internal/bridge"
	"github.com/arena-data/mocap.bridge/internal/db"
)

// ANSI escape codes for request logging
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	bridge  *bridge.Bridge
	manager *bridge.Manager
	db      *db.DB
}

// NewServer constructs the admin API over a running bridge and its
// config store.
func NewServer(b *bridge.Bridge, manager *bridge.Manager, database *db.DB) *Server {
	return &Server{
		bridge:  b,
		manager: manager,
		db:      database,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf("%s %s %s %v", r.Method, r.URL.Path,
			statusCodeColor(lrw.statusCode), time.Since(start).Round(time.Microsecond))
	})
}

// Handler returns the routed admin API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/configs", s.handleConfigs)
	mux.HandleFunc("/api/configs/", s.handleConfigByID)
	mux.HandleFunc("/api/publishers", s.handlePublishers)
	mux.HandleFunc("/api/publishers/", s.handlePublisherByID)
	mux.HandleFunc("/api/config/reload", s.handleReload)
	return logRequests(mux)
}

// writeJSON writes data as a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusResponse struct {
	Bridge bridge.Status         `json:"bridge"`
	Config bridge.ConfigSnapshot `json:"config"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Bridge: s.bridge.Status(),
		Config: s.manager.Snapshot(),
	})
}

func (s *Server) handleConfigs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		configs, err := s.db.GetConnectionConfigs()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if configs == nil {
			configs = []db.ConnectionConfig{}
		}
		writeJSON(w, http.StatusOK, configs)

	case http.MethodPost:
		var cfg db.ConnectionConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid config: %v", err))
			return
		}
		if cfg.Name == "" {
			writeError(w, http.StatusBadRequest, "config name is required")
			return
		}
		id, err := s.db.CreateConnectionConfig(&cfg)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		cfg.ID = int(id)
		writeJSON(w, http.StatusCreated, cfg)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleConfigByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/configs/")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid config id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		cfg, err := s.db.GetConnectionConfig(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if cfg == nil {
			writeError(w, http.StatusNotFound, "config not found")
			return
		}
		writeJSON(w, http.StatusOK, cfg)

	case http.MethodPut:
		var cfg db.ConnectionConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid config: %v", err))
			return
		}
		cfg.ID = id
		if err := s.db.UpdateConnectionConfig(&cfg); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, cfg)

	case http.MethodDelete:
		if err := s.db.DeleteConnectionConfig(id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePublishers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		configs, err := s.db.GetPublisherConfigs()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if configs == nil {
			configs = []db.PublisherConfig{}
		}
		writeJSON(w, http.StatusOK, configs)

	case http.MethodPost:
		var cfg db.PublisherConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid publisher config: %v", err))
			return
		}
		if cfg.Name == "" {
			writeError(w, http.StatusBadRequest, "publisher name is required")
			return
		}
		id, err := s.db.CreatePublisherConfig(&cfg)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		cfg.ID = int(id)
		writeJSON(w, http.StatusCreated, cfg)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePublisherByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/publishers/")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid publisher id")
		return
	}

	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.db.DeletePublisherConfig(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleReload is the reconfiguration trigger: it re-reads the stored
// configuration and applies it to the running bridge. The response
// reports whether the new configuration took effect; on failure the
// previously working connection stays up.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := s.manager.ReloadConfig(r.Context())
	if err != nil {
		writeJSON(w, http.StatusConflict, bridge.ReloadResult{
			Success: false,
			Message: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
