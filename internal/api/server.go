// Package api exposes the service over HTTP as a JSON API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/satsplit/satsplit/internal/auth"
	"github.com/satsplit/satsplit/internal/contacts"
	"github.com/satsplit/satsplit/internal/keyvault"
	"github.com/satsplit/satsplit/internal/rates"
	"github.com/satsplit/satsplit/internal/relay"
	"github.com/satsplit/satsplit/internal/service"
	"github.com/satsplit/satsplit/internal/split"
	"github.com/satsplit/satsplit/internal/storage"
)

// Server holds the handlers' collaborators.
type Server struct {
	orch     *service.Orchestrator
	keys     *service.KeyService
	rates    *rates.Provider
	registry *relay.Registry
	contacts *contacts.Directory
	sessions *auth.SessionManager
}

// NewServer wires the HTTP layer.
func NewServer(
	orch *service.Orchestrator,
	keys *service.KeyService,
	rateProvider *rates.Provider,
	registry *relay.Registry,
	directory *contacts.Directory,
	sessions *auth.SessionManager,
) *Server {
	return &Server{
		orch:     orch,
		keys:     keys,
		rates:    rateProvider,
		registry: registry,
		contacts: directory,
		sessions: sessions,
	}
}

// Router builds the route tree. Key management and session creation are
// open; everything touching receipts requires an unlock session.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", s.handleCreateSession)
		r.Post("/keys/generate", s.handleGenerateKey)
		r.Post("/keys/import", s.handleImportKey)
		r.Get("/keys", s.handleListKeys)
		r.Get("/rates/{currency}", s.handleGetRate)
		r.Get("/contacts/{pubkey}", s.handleGetContact)
		r.Get("/relays", s.handleGetRelays)
		r.Post("/relays/probe", s.handleProbeRelay)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Put("/relays", s.handleReplaceRelays)
			r.Post("/requests", s.handleCreateRequest)
			r.Get("/requests", s.handleListRequests)
			r.Get("/requests/{id}", s.handleGetRequest)
			r.Get("/requests/{id}/audit", s.handleGetAudit)
			r.Get("/requests/{id}/zaps", s.handleGetZaps)
			r.Post("/requests/{id}/paid", s.handleMarkPaid)
			r.Post("/requests/{id}/retry", s.handleRetryPublish)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encoding failed", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP status codes. Unlock failures are
// deliberately vague: a wrong password and a tampered vault look the same.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrReceiptNotFound),
		errors.Is(err, storage.ErrParticipantNotFound),
		errors.Is(err, storage.ErrKeyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, split.ErrInvalidSplit),
		errors.Is(err, rates.ErrUnsupportedCurrency):
		status = http.StatusBadRequest
	case errors.Is(err, keyvault.ErrDecryptionFailed),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrMissingToken):
		status = http.StatusUnauthorized
	case errors.Is(err, rates.ErrAllSourcesUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", service.ErrInvalidRequest, err)
	}
	return nil
}
