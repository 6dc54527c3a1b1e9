package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"warelay/internal/constants"
	"warelay/internal/database"
	"warelay/internal/metrics"
	"warelay/internal/service"
	"warelay/pkg/waclient"
	"warelay/pkg/waclient/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxWebhookBodyBytes = 1 << 20

type Server struct {
	router     *mux.Router
	logger     *logrus.Logger
	health     *service.HealthService
	registry   *metrics.Registry
	sender     *service.Sender
	primary    types.WAClient
	fallback   types.WAClient
	restClient *waclient.RestClient
	journal    *database.Database
	server     *http.Server
}

// NewServer wires the diagnostics, webhook-ingress, and send HTTP surface.
// restClient and journal may be nil when the corresponding feature is not
// configured; their routes then answer with an error status.
func NewServer(port int, health *service.HealthService, registry *metrics.Registry, sender *service.Sender, primary, fallback types.WAClient, restClient *waclient.RestClient, journal *database.Database, logger *logrus.Logger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		health:     health,
		registry:   registry,
		sender:     sender,
		primary:    primary,
		fallback:   fallback,
		restClient: restClient,
		journal:    journal,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(constants.DefaultServerWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.HandleFunc("/journal/recent", s.handleRecentDeliveries()).Methods(http.MethodGet)
	s.router.HandleFunc("/send", s.handleSend()).Methods(http.MethodPost)

	whatsapp := s.router.PathPrefix("/webhook/whatsapp").Subrouter()
	whatsapp.HandleFunc("", s.handleWhatsAppWebhook()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("Starting HTTP server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := s.health.Snapshot()
		status := http.StatusOK
		if report.Status != service.HealthStatusOK {
			status = http.StatusServiceUnavailable
		}
		s.writeJSON(w, status, report)
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.registry.GetSummary())
	}
}

func (s *Server) handleRecentDeliveries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.journal == nil {
			http.Error(w, "delivery journal not configured", http.StatusNotFound)
			return
		}
		entries, err := s.journal.RecentDeliveries(r.Context(), 50)
		if err != nil {
			s.logger.WithError(err).Error("Failed to query delivery journal")
			http.Error(w, "journal query failed", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, entries)
	}
}

type sendRequest struct {
	ChatID string              `json:"chatId"`
	Text   string              `json:"text,omitempty"`
	Media  *types.MediaContent `json:"media,omitempty"`
}

type sendResponse struct {
	Delivered bool `json:"delivered"`
}

func (s *Server) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBodyBytes)).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		if req.ChatID == "" || (req.Text == "" && req.Media == nil) {
			http.Error(w, "chatId and text or media are required", http.StatusBadRequest)
			return
		}

		content := types.OutboundContent{Text: req.Text, Media: req.Media}
		delivered := s.sender.SendWithFallback(r.Context(), service.FallbackRequest{
			ChatID:   req.ChatID,
			Content:  content,
			Primary:  s.primary,
			Fallback: s.fallback,
		})

		status := http.StatusOK
		if !delivered {
			status = http.StatusBadGateway
		}
		s.writeJSON(w, status, sendResponse{Delivered: delivered})
	}
}

func (s *Server) handleWhatsAppWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.restClient == nil {
			http.Error(w, "rest adapter not configured", http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		var event types.WebhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			s.logger.WithError(err).Warn("Rejected malformed webhook payload")
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		if err := s.restClient.HandleWebhookEvent(r.Context(), &event); err != nil {
			s.logger.WithError(err).WithField("event", event.Event).Warn("Webhook event processing failed")
			http.Error(w, "event processing failed", http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to write response")
	}
}
