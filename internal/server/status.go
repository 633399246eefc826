package server

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/resilience"
	"github.com/desertthunder/ytsync/internal/shared"
)

// CollectionLister lists registered collections. [repositories.CollectionRepository] implements it.
type CollectionLister interface {
	List(ctx context.Context, criteria map[string]any) ([]*models.Collection, error)
}

// UsageReporter reports today's quota usage. [quota.Ledger] implements it.
type UsageReporter interface {
	Usage(ctx context.Context) (models.QuotaUsage, error)
}

// BreakerReporter exposes breaker state. [resilience.CircuitBreaker] implements it.
type BreakerReporter interface {
	Snapshot() resilience.Snapshot
}

type collectionStatus struct {
	ID           string     `json:"id"`
	RemoteID     string     `json:"remote_id"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	ItemCount    int        `json:"item_count"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

type quotaStatus struct {
	Day       string `json:"day"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

type breakerStatus struct {
	Name     string     `json:"name"`
	State    string     `json:"state"`
	Failures int        `json:"failures"`
	RetryAt  *time.Time `json:"retry_at,omitempty"`
}

// StatusHandler serves read-only JSON views of the local mirror.
//
// Routes: /healthz, /api/collections, /api/quota, /api/breaker. Nil dependencies answer 404.
type StatusHandler struct {
	collections CollectionLister
	usage       UsageReporter
	breaker     BreakerReporter
	logger      *log.Logger
	mux         *http.ServeMux
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(collections CollectionLister, usage UsageReporter, breaker BreakerReporter, logger *log.Logger) *StatusHandler {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	h := &StatusHandler{collections: collections, usage: usage, breaker: breaker, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /healthz", h.health)
	h.mux.HandleFunc("GET /api/collections", h.listCollections)
	h.mux.HandleFunc("GET /api/quota", h.quota)
	h.mux.HandleFunc("GET /api/breaker", h.breakerState)
	return h
}

// Routes returns the HTTP routes this handler serves.
func (h *StatusHandler) Routes() []string {
	return []string{"/healthz", "/api/collections", "/api/quota", "/api/breaker"}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *StatusHandler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *StatusHandler) listCollections(w http.ResponseWriter, r *http.Request) {
	if h.collections == nil {
		http.NotFound(w, r)
		return
	}

	criteria := map[string]any{}
	if status := r.URL.Query().Get("status"); status != "" {
		if !models.SyncStatus(status).Valid() {
			http.Error(w, "Invalid status filter", http.StatusBadRequest)
			return
		}
		criteria["status"] = status
	}

	collections, err := h.collections.List(r.Context(), criteria)
	if err != nil {
		h.logger.Error("failed to list collections", "error", err)
		http.Error(w, "Failed to list collections", http.StatusInternalServerError)
		return
	}

	out := make([]collectionStatus, len(collections))
	for i, c := range collections {
		out[i] = collectionStatus{
			ID:           c.ID(),
			RemoteID:     c.RemoteID,
			Title:        c.Title,
			Status:       string(c.Status),
			ItemCount:    c.ItemCount,
			LastSyncedAt: c.LastSyncedAt,
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *StatusHandler) quota(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		http.NotFound(w, r)
		return
	}

	usage, err := h.usage.Usage(r.Context())
	if err != nil {
		h.logger.Error("failed to read quota usage", "error", err)
		http.Error(w, "Failed to read quota usage", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, quotaStatus{Day: usage.Day, Used: usage.Used, Limit: usage.Limit, Remaining: usage.Remaining()})
}

func (h *StatusHandler) breakerState(w http.ResponseWriter, r *http.Request) {
	if h.breaker == nil {
		http.NotFound(w, r)
		return
	}

	snap := h.breaker.Snapshot()
	out := breakerStatus{Name: snap.Name, State: snap.State.String(), Failures: snap.Failures}
	if !snap.RetryAt.IsZero() {
		out.RetryAt = &snap.RetryAt
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *StatusHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := shared.MarshalJSON(v, true)
	if err != nil {
		h.logger.Error("failed to encode response", "error", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
