package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/staykey-io/staykey/internal/lifecycle"
	"github.com/staykey-io/staykey/internal/middleware"
	"github.com/staykey-io/staykey/internal/models"
	"github.com/staykey-io/staykey/internal/queue"
	"github.com/staykey-io/staykey/internal/store"
	ws "github.com/staykey-io/staykey/internal/websocket"
)

// Store is the read side the API exposes
type Store interface {
	GetBookingByExternalID(externalID string) (*models.Booking, error)
	ListCredentialsForBooking(bookingID string) ([]models.Credential, error)
	ListAuditEntries(entityID string, limit int) ([]models.AuditEntry, error)
	LastSuccessfulRecon() (*models.ReconRun, error)
}

// Lifecycle consumes webhook events. *lifecycle.Handler satisfies this.
type Lifecycle interface {
	Handle(ctx context.Context, ev *lifecycle.Event) error
}

// JobStatus reports a booking's scheduled jobs. *scheduler.Scheduler
// satisfies this.
type JobStatus interface {
	Status(bookingID string, kind models.JobKind) (*models.QueueJob, error)
}

// Router wraps the mux router with the API dependencies
type Router struct {
	*mux.Router
	store     Store
	lifecycle Lifecycle
	jobs      JobStatus
	hub       *ws.Hub
}

// NewRouter creates the HTTP router with all routes
func NewRouter(st Store, lc Lifecycle, jobs JobStatus, hub *ws.Hub, jwtSecret string) *Router {
	r := &Router{
		Router:    mux.NewRouter(),
		store:     st,
		lifecycle: lc,
		jobs:      jobs,
		hub:       hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	auth := middleware.Auth(jwtSecret)

	// Webhook intake from the booking system
	hooks := r.PathPrefix("/webhooks").Subrouter()
	hooks.Use(auth)
	hooks.HandleFunc("/bookings", r.bookingWebhook).Methods("POST")

	// Read API (protected)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth)
	api.HandleFunc("/bookings/{externalId}", r.getBooking).Methods("GET")
	api.HandleFunc("/bookings/{externalId}/credentials", r.listCredentials).Methods("GET")
	api.HandleFunc("/bookings/{externalId}/jobs", r.listJobs).Methods("GET")
	api.HandleFunc("/audit/{entityId}", r.listAudit).Methods("GET")
	api.HandleFunc("/recon/last", r.lastRecon).Methods("GET")

	// Ops event feed
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(r.hub, w, req)
	})

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// bookingWebhook ingests one booking lifecycle event
func (r *Router) bookingWebhook(w http.ResponseWriter, req *http.Request) {
	var ev lifecycle.Event
	if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := ev.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.lifecycle.Handle(req.Context(), &ev); err != nil {
		if errors.Is(err, lifecycle.ErrRejected) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

// getBooking returns the locally tracked booking
func (r *Router) getBooking(w http.ResponseWriter, req *http.Request) {
	booking, ok := r.lookupBooking(w, req)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, booking)
}

// listCredentials returns all credentials of a booking. Code hashes are
// excluded from serialization at the model level; plaintext codes are
// never stored at all.
func (r *Router) listCredentials(w http.ResponseWriter, req *http.Request) {
	booking, ok := r.lookupBooking(w, req)
	if !ok {
		return
	}

	creds, err := r.store.ListCredentialsForBooking(booking.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	active := 0
	for i := range creds {
		if creds[i].IsActive() {
			active++
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"bookingId":   booking.ID,
		"active":      active,
		"credentials": creds,
	})
}

// listJobs returns the queue entries for both of a booking's jobs
func (r *Router) listJobs(w http.ResponseWriter, req *http.Request) {
	booking, ok := r.lookupBooking(w, req)
	if !ok {
		return
	}

	out := map[string]interface{}{"bookingId": booking.ID}
	for _, kind := range []models.JobKind{models.JobKindGenerate, models.JobKindRevoke} {
		job, err := r.jobs.Status(booking.ID, kind)
		if err != nil {
			if errors.Is(err, queue.ErrJobNotFound) {
				out[string(kind)] = nil
				continue
			}
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out[string(kind)] = job
	}
	respondJSON(w, http.StatusOK, out)
}

// listAudit returns recent audit entries for an entity
func (r *Router) listAudit(w http.ResponseWriter, req *http.Request) {
	entityID := mux.Vars(req)["entityId"]

	limit := 50
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := r.store.ListAuditEntries(entityID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// lastRecon returns the most recent successful reconciliation run
func (r *Router) lastRecon(w http.ResponseWriter, req *http.Request) {
	run, err := r.store.LastSuccessfulRecon()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "no successful reconciliation run yet")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (r *Router) lookupBooking(w http.ResponseWriter, req *http.Request) (*models.Booking, bool) {
	externalID := mux.Vars(req)["externalId"]
	booking, err := r.store.GetBookingByExternalID(externalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "booking not found")
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return booking, true
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
