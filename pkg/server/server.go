package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/nexio-tech/statusbridge/pkg/config"
	"github.com/nexio-tech/statusbridge/pkg/scheduler"
	"github.com/nexio-tech/statusbridge/pkg/store"
)

const maxWebhookBodyBytes = 64 * 1024

// SyncScheduler is the slice of the scheduler the HTTP surface needs.
type SyncScheduler interface {
	Start()
	Stop()
	Status() scheduler.Snapshot
	TriggerSync(ctx context.Context) (scheduler.Summary, error)
}

// TokenSource reports whether the CRM credential is usable; the scheduler
// status endpoint surfaces a failure as a structured error field.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Server is the HTTP surface: webhook ingestion, challenge verification,
// and the authenticated query/scheduler-control endpoints.
type Server struct {
	router *mux.Router
	repo   store.EventRepository
	sched  SyncScheduler
	crm    TokenSource
	auth   config.AuthSettings
	logger *logrus.Logger
}

func New(repo store.EventRepository, sched SyncScheduler, crm TokenSource, auth config.AuthSettings, logger *logrus.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		repo:   repo,
		sched:  sched,
		crm:    crm,
		auth:   auth,
		logger: logger,
	}
	s.routes()
	return s
}

// Router returns the handler for use by http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/webhook", s.handleVerify).Methods(http.MethodGet)
	s.router.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	s.router.HandleFunc("/records", s.handleRecords).Methods(http.MethodPost)
	s.router.HandleFunc("/records/lookup", s.handleQueueLookup).Methods(http.MethodPost)
	s.router.HandleFunc("/sync/trigger", s.handleSyncTrigger).Methods(http.MethodPost)
	s.router.HandleFunc("/sync/start", s.handleSyncStart).Methods(http.MethodPost)
	s.router.HandleFunc("/sync/stop", s.handleSyncStop).Methods(http.MethodPost)
	s.router.HandleFunc("/sync/status", s.handleSyncStatus).Methods(http.MethodPost)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, map[string]string{"error": message})
}
