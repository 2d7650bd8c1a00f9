package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/collection"
	"github.com/threadscope/borderd/internal/collector"
)

// discoveryWait is how long POST /api/devices waits before answering with
// the partial result.
const discoveryWait = 12 * time.Second

// handleCollection renders a whole collection: json:api when the client
// accepts application/vnd.api+json, plain JSON otherwise.
//
//	@Summary	List collection
//	@Tags		collections
//	@Produce	json
//	@Param		fields[threadDevice]	query	string	false	"sparse fieldset"
//	@Success	200
//	@Router		/api/devices [get]
func (a *API) handleCollection(coll *collection.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if wantsJSONAPI(r) {
			fields := collection.ParseFields(r.URL.Query())
			body, err := coll.ToJSONAPI(fields)
			if err != nil {
				writeProblem(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, ContentTypeJSONAPI, http.StatusOK, body)
			return
		}
		body, err := coll.ToPlainJSON()
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, ContentTypeJSON, http.StatusOK, body)
	}
}

// handleCollectionItem renders one collection item.
//
//	@Summary	Get collection item
//	@Tags		collections
//	@Produce	json
//	@Success	200
//	@Failure	404
//	@Router		/api/devices/{id} [get]
func (a *API) handleCollectionItem(coll *collection.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if wantsJSONAPI(r) {
			fields := collection.ParseFields(r.URL.Query())
			body, ok := coll.ToJSONAPIItem(id, fields)
			if !ok {
				writeProblem(w, http.StatusNotFound, "unknown item id")
				return
			}
			writeJSON(w, ContentTypeJSONAPI, http.StatusOK, body)
			return
		}
		body, ok := coll.ToPlainJSONItem(id)
		if !ok {
			writeProblem(w, http.StatusNotFound, "unknown item id")
			return
		}
		writeJSON(w, ContentTypeJSON, http.StatusOK, body)
	}
}

// handleCollectionClear empties a collection.
//
//	@Summary	Clear collection
//	@Tags		collections
//	@Success	204
//	@Router		/api/devices [delete]
func (a *API) handleCollectionClear(coll *collection.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		coll.Clear()
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleDiscovery runs a network discovery cycle and long-polls its
// completion. A cycle that outlives the wait is finalised from the partial
// data gathered so far and answers 408; responses arriving after that are
// dropped.
//
//	@Summary	Run device discovery
//	@Tags		collections
//	@Produce	json
//	@Success	200
//	@Failure	408	"timeout, partial result"
//	@Failure	409	"another collection cycle is active"
//	@Router		/api/devices [post]
func (a *API) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	done := make(chan struct{}, 1)
	err := a.collector.Configure(collector.DefaultTimeout, collector.DefaultMaxAge, collector.DefaultRetries, func() {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	if err != nil {
		writeProblem(w, http.StatusConflict, "another collection cycle is active")
		return
	}
	if err := a.collector.StartDiscovery(a.devices.Name()); err != nil {
		a.collector.Cancel()
		a.logger.Warn("discovery start failed", zap.Error(err))
		writeProblem(w, http.StatusConflict, err.Error())
		return
	}

	// Poll the collector alongside the completion callback: retries and
	// the deadline are time-driven.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(discoveryWait)
	defer deadline.Stop()

	status := http.StatusOK
poll:
	for {
		select {
		case <-r.Context().Done():
			a.collector.Cancel()
			return
		case <-done:
			break poll
		case <-deadline.C:
			// Keep whatever was gathered; the devices collection should
			// converge even under packet loss.
			a.collector.Abort()
			status = http.StatusRequestTimeout
			break poll
		case <-ticker.C:
			if _, err := a.collector.Continue(); err != nil {
				a.logger.Warn("discovery aborted", zap.Error(err))
				writeProblem(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
	}

	body, err := a.devices.ToJSONAPI(collection.ParseFields(r.URL.Query()))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, ContentTypeJSONAPI, status, body)
}

// handleNode summarises this border router's node state.
//
//	@Summary	Node info
//	@Tags		node
//	@Produce	json
//	@Success	200
//	@Router		/api/node [get]
func (a *API) handleNode(w http.ResponseWriter, _ *http.Request) {
	leader := a.thread.LeaderData()
	writeJSONValue(w, ContentTypeJSON, http.StatusOK, map[string]any{
		"role":        a.thread.DeviceRole(),
		"networkName": a.thread.NetworkName(),
		"extAddress":  a.thread.ExtAddress().String(),
		"rloc16":      a.thread.Rloc16(),
		"rlocAddress": a.thread.RlocAddr().String(),
		"baState":     a.thread.BorderAgentState(),
		"leaderData": map[string]any{
			"partitionId":       leader.PartitionID,
			"weighting":         leader.Weighting,
			"dataVersion":       leader.DataVersion,
			"stableDataVersion": leader.StableDataVersion,
			"leaderRouterId":    leader.LeaderRouterID,
		},
	})
}
