package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nexio-tech/statusbridge/pkg/consolidate"
	"github.com/nexio-tech/statusbridge/pkg/scheduler"
	"github.com/nexio-tech/statusbridge/pkg/webhook"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Delivery Status Webhook Bridge"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleVerify echoes the provider's challenge parameter back verbatim.
// Several historically-used parameter names are accepted, including the
// misspelled "challange" kept for backward compatibility.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	for _, name := range []string{"hub.challenge", "challenge", "challange"} {
		if challenge := query.Get(name); challenge != "" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(challenge))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleWebhook ingests a provider payload. The sender always sees a
// success acknowledgement, even when normalization or persistence fails
// internally, to avoid provider-side retry storms. Only a transport-level
// body read failure surfaces an error status.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.WithError(err).Error("failed to read webhook body")
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	event, err := webhook.Normalize(body)
	if err != nil {
		s.logger.WithError(err).Warn("discarding unprocessable webhook payload")
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	record, err := s.repo.Append(r.Context(), event)
	if err != nil {
		s.logger.WithError(err).Error("failed to store webhook event")
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	s.logger.WithFields(map[string]interface{}{
		"record_id":  record.ID,
		"message_id": event.MessageID,
		"status":     event.Status,
	}).Info("stored webhook event")

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRecords returns all consolidated records, optionally filtered by
// one of the four recognized statuses.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	var req struct {
		credentials
		Status string `json:"status"`
	}
	if !s.decodeAuthenticated(w, r, &req, &req.credentials) {
		return
	}

	var filter webhook.Status
	if req.Status != "" {
		parsed, ok := webhook.ParseStatus(req.Status)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unrecognized status filter: "+req.Status)
			return
		}
		filter = parsed
	}

	records, err := s.repo.ReadAll(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("failed to read event store")
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve data")
		return
	}

	s.writeJSON(w, http.StatusOK, consolidate.Consolidate(records, filter))
}

// handleQueueLookup returns the consolidated status for one queue_id.
func (s *Server) handleQueueLookup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		credentials
		QueueID string `json:"queue_id"`
	}
	if !s.decodeAuthenticated(w, r, &req, &req.credentials) {
		return
	}
	if req.QueueID == "" {
		s.writeError(w, http.StatusBadRequest, "queue_id is required")
		return
	}

	records, err := s.repo.FindByQueueID(r.Context(), req.QueueID)
	if err != nil {
		s.logger.WithError(err).Error("failed to read event store")
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve data")
		return
	}

	record, ok := consolidate.LatestForQueueID(records, req.QueueID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no events found for queue_id")
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	var req struct{ credentials }
	if !s.decodeAuthenticated(w, r, &req, &req.credentials) {
		return
	}

	summary, err := s.sched.TriggerSync(r.Context())
	if errors.Is(err, scheduler.ErrPassInProgress) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("manual sync failed")
		s.writeError(w, http.StatusInternalServerError, "synchronization failed")
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	var req struct{ credentials }
	if !s.decodeAuthenticated(w, r, &req, &req.credentials) {
		return
	}
	s.sched.Start()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleSyncStop(w http.ResponseWriter, r *http.Request) {
	var req struct{ credentials }
	if !s.decodeAuthenticated(w, r, &req, &req.credentials) {
		return
	}
	s.sched.Stop()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleSyncStatus reports the scheduler snapshot. A CRM credential
// failure shows up as an error field rather than failing the request.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	var req struct{ credentials }
	if !s.decodeAuthenticated(w, r, &req, &req.credentials) {
		return
	}

	response := struct {
		scheduler.Snapshot
		CRMError string `json:"crm_error,omitempty"`
	}{Snapshot: s.sched.Status()}

	if _, err := s.crm.AccessToken(r.Context()); err != nil {
		response.CRMError = err.Error()
	}

	s.writeJSON(w, http.StatusOK, response)
}

// decodeAuthenticated decodes the request body and checks the operator
// credential carried in it. Writes the error response and returns false on
// failure.
func (s *Server) decodeAuthenticated(w http.ResponseWriter, r *http.Request, dst interface{}, creds *credentials) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusUnauthorized, "authentication required")
		return false
	}
	if creds.Username == "" || creds.Password == "" {
		s.writeError(w, http.StatusUnauthorized, "authentication required")
		return false
	}
	if err := authorize(s.auth, *creds); err != nil {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return false
	}
	return true
}
