// Package statusserver exposes a read-only HTTP surface for inspecting the
// control loop: current status, the cached forecast, the transition history,
// and a websocket live feed of per-tick status.
package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/passivehome/climatecore/internal/orchestrator"
	"github.com/passivehome/climatecore/internal/types"
	"github.com/passivehome/climatecore/internal/weather"
)

// Server serves the status API for every configured device.
type Server struct {
	server http.Server
	caches map[string]*weather.Cache
	hub    *Hub
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	latest map[string]orchestrator.TickStatus
}

// New creates a status server listening on the configured address. The caches
// map holds each device's forecast cache keyed by device name.
func New(cfg types.StatusConfig, caches map[string]*weather.Cache, logger *zap.SugaredLogger) *Server {
	s := &Server{
		caches: caches,
		hub:    NewHub(logger),
		logger: logger.Named("statusserver"),
		latest: make(map[string]orchestrator.TickStatus),
	}

	router := mux.NewRouter()
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/status/{device}", s.handleDeviceStatus).Methods(http.MethodGet)
	router.HandleFunc("/forecast", s.handleForecast).Methods(http.MethodGet)
	router.HandleFunc("/forecast/{device}", s.handleForecast).Methods(http.MethodGet)
	router.HandleFunc("/history/{device}", s.handleHistory).Methods(http.MethodGet)
	router.HandleFunc("/live", s.hub.HandleWS)

	s.server = http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Publish records the latest tick status for a device and broadcasts it to
// websocket subscribers. Wire it as an orchestrator OnTick callback.
func (s *Server) Publish(status orchestrator.TickStatus) {
	s.mu.Lock()
	s.latest[status.Device] = status
	s.mu.Unlock()
	s.hub.Broadcast(status)
}

// Run starts the HTTP listener and shuts it down when the context ends.
func (s *Server) Run(ctx context.Context, wg *sync.WaitGroup) {
	s.hub.Run(ctx, wg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Infow("status server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Errorw("status server failed", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorw("status server shutdown failed", "error", err)
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	statuses := make([]orchestrator.TickStatus, 0, len(s.latest))
	for _, st := range s.latest {
		statuses = append(statuses, st)
	}
	s.mu.RUnlock()
	writeJSON(w, statuses)
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["device"]
	s.mu.RLock()
	status, ok := s.latest[device]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	writeJSON(w, status)
}

// handleForecast serves /forecast/{device}. The bare /forecast form resolves
// only for single-device installs.
func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	var cache *weather.Cache
	if device, ok := mux.Vars(r)["device"]; ok {
		cache = s.caches[device]
		if cache == nil {
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
	} else {
		if len(s.caches) != 1 {
			http.Error(w, "more than one device configured, use /forecast/{device}", http.StatusBadRequest)
			return
		}
		for _, c := range s.caches {
			cache = c
		}
	}

	forecast, fresh := cache.Forecast()
	if forecast == nil {
		http.Error(w, "no forecast available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]interface{}{
		"fresh":    fresh,
		"forecast": forecast,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["device"]
	s.mu.RLock()
	status, ok := s.latest[device]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	writeJSON(w, status.History)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
