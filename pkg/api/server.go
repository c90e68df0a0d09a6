// Package api exposes the record store over HTTP: CRUD and batch
// mutations, ordered scans, CSV import/export, health and Prometheus
// metrics. Payloads travel in the codec's JSON interchange encoding.
package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/muninndb/muninn/pkg/coordinator"
)

// statsSource is satisfied by access layers that report queue occupancy.
// The coordinator implements it; plain stores and test fakes need not.
type statsSource interface {
	Stats() coordinator.Stats
}

// Router builds the HTTP routing table for the given server.
func Router(server *Server, metrics *Metrics, apiKey string) chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Prometheus metrics endpoint (unprotected for scraping)
	r.Handle("/metrics", promhttp.Handler())

	// API key authentication middleware for protected routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiKeyMiddleware(apiKey))

		// Health check
		r.Get("/health", metrics.InstrumentHandler("GET", "/api/v1/health", server.handleHealth))

		// Record operations
		r.Put("/records/{partition}/{id}", metrics.InstrumentHandler("PUT", "/api/v1/records/{partition}/{id}", server.handlePutRecord))
		r.Get("/records/{partition}/{id}", metrics.InstrumentHandler("GET", "/api/v1/records/{partition}/{id}", server.handleGetRecord))
		r.Delete("/records/{partition}/{id}", metrics.InstrumentHandler("DELETE", "/api/v1/records/{partition}/{id}", server.handleDeleteRecord))
		r.Get("/records/{partition}", metrics.InstrumentHandler("GET", "/api/v1/records/{partition}", server.handleScan))

		// Atomic cross-record batches
		r.Post("/batch", metrics.InstrumentHandler("POST", "/api/v1/batch", server.handleBatch))

		// Bulk CSV transfer
		r.Post("/records/{partition}/import", metrics.InstrumentHandler("POST", "/api/v1/records/{partition}/import", server.handleImportCSV))
		r.Get("/records/{partition}/export", metrics.InstrumentHandler("GET", "/api/v1/records/{partition}/export", server.handleExportCSV))

		// Diagnostics
		r.Get("/stats", metrics.InstrumentHandler("GET", "/api/v1/stats", server.handleStats))
	})

	return r
}

// StartServer starts the HTTP server with all routes configured
func StartServer(access RecordAccess, config ServerConfig) error {
	metrics := NewMetrics()
	server := NewServer(access, config, metrics)

	r := Router(server, metrics, config.APIKey)

	// Start background metrics updater
	go server.startMetricsUpdater()

	addr := fmt.Sprintf("%s:%d", config.Bind, config.Port)
	fmt.Printf("Starting muninn REST API server on %s\n", addr)
	fmt.Printf("Metrics available at: http://localhost:%d/metrics\n", config.Port)
	log.Fatal(http.ListenAndServe(addr, r))

	return nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	src, ok := s.access.(statsSource)
	if !ok {
		sendError(w, "Stats are not available for this deployment", http.StatusNotFound)
		return
	}
	stats := src.Stats()
	sendSuccess(w, map[string]interface{}{
		"active_queues":   stats.ActiveQueues,
		"pending_batches": stats.PendingBatches,
	})
}

// startMetricsUpdater periodically mirrors coordinator occupancy into the
// Prometheus gauges.
func (s *Server) startMetricsUpdater() {
	src, ok := s.access.(statsSource)
	if !ok || s.metrics == nil {
		return
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := src.Stats()
		s.metrics.UpdateCoordinatorStats(stats.ActiveQueues, stats.PendingBatches)
	}
}
