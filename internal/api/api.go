// Package api implements the REST resource dispatch: it maps the
// management API paths onto the action queue, the collections and the
// collector, and handles content negotiation between json:api and plain
// JSON.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/actions"
	"github.com/threadscope/borderd/internal/collection"
	"github.com/threadscope/borderd/internal/collector"
	"github.com/threadscope/borderd/internal/threadapi"
)

// MIME types of the management API.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeJSONAPI = "application/vnd.api+json"
)

// API serves the /api/* resource tree.
type API struct {
	queue     *actions.Queue
	collector *collector.Collector
	devices   *collection.Collection
	diags     *collection.Collection
	thread    threadapi.Client
	logger    *zap.Logger
}

// New creates the resource dispatcher.
func New(queue *actions.Queue, coll *collector.Collector, devices, diags *collection.Collection, thread threadapi.Client, logger *zap.Logger) *API {
	return &API{
		queue:     queue,
		collector: coll,
		devices:   devices,
		diags:     diags,
		thread:    thread,
		logger:    logger,
	}
}

// RegisterRoutes mounts all resource handlers on the mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/actions", a.handleActionsSubmit)
	mux.HandleFunc("GET /api/actions", a.handleActionsList)
	mux.HandleFunc("GET /api/actions/{id}", a.handleActionsGet)
	mux.HandleFunc("DELETE /api/actions", a.handleActionsDeleteAll)
	mux.HandleFunc("DELETE /api/actions/{id}", a.handleActionsDelete)

	mux.HandleFunc("GET /api/devices", a.handleCollection(a.devices))
	mux.HandleFunc("GET /api/devices/{id}", a.handleCollectionItem(a.devices))
	mux.HandleFunc("POST /api/devices", a.handleDiscovery)
	mux.HandleFunc("DELETE /api/devices", a.handleCollectionClear(a.devices))

	mux.HandleFunc("GET /api/diagnostics", a.handleCollection(a.diags))
	mux.HandleFunc("GET /api/diagnostics/{id}", a.handleCollectionItem(a.diags))
	mux.HandleFunc("DELETE /api/diagnostics", a.handleCollectionClear(a.diags))

	mux.HandleFunc("GET /api/node", a.handleNode)
}

// wantsJSONAPI reports whether the client asked for the json:api envelope.
func wantsJSONAPI(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), ContentTypeJSONAPI)
}

func writeJSON(w http.ResponseWriter, contentType string, status int, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSONValue(w http.ResponseWriter, contentType string, status int, value any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// writeProblem writes an RFC 7807 problem detail response.
func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "about:blank",
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
