package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/actions"
)

// submitBody is the POST /api/actions request document.
type submitBody struct {
	Data []struct {
		Type       string         `json:"type"`
		Attributes map[string]any `json:"attributes"`
	} `json:"data"`
}

// handleActionsSubmit accepts a batch of tasks. The whole batch is rejected
// on any validation failure or when the queue cannot make room.
//
//	@Summary		Submit actions
//	@Description	Queue a batch of management actions.
//	@Tags			actions
//	@Accept			json
//	@Produce		json
//	@Success		200
//	@Failure		400	"malformed JSON"
//	@Failure		409	"validation error or queue overflow"
//	@Failure		415	"unsupported media type"
//	@Router			/api/actions [post]
func (a *API) handleActionsSubmit(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" &&
		!strings.Contains(contentType, ContentTypeJSON) &&
		!strings.Contains(contentType, ContentTypeJSONAPI) {
		writeProblem(w, http.StatusUnsupportedMediaType, "expected application/json")
		return
	}

	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed JSON: "+err.Error())
		return
	}

	tasks := make([]actions.Task, 0, len(body.Data))
	for _, t := range body.Data {
		tasks = append(tasks, actions.Task{Type: t.Type, Attributes: t.Attributes})
	}

	accepted, err := a.queue.Submit(tasks)
	if err != nil {
		a.logger.Warn("submission rejected", zap.Error(err))
		switch {
		case errors.Is(err, actions.ErrQueueFull), errors.Is(err, actions.ErrInvalidTask):
			writeProblem(w, http.StatusConflict, err.Error())
		default:
			writeProblem(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	a.queue.Kick()

	data := make([]map[string]any, 0, len(accepted))
	for _, act := range accepted {
		data = append(data, a.queue.Render(act))
	}
	writeJSONValue(w, ContentTypeJSONAPI, http.StatusOK, map[string]any{
		"data": data,
		"meta": a.actionsMeta(len(accepted)),
	})
}

func (a *API) actionsMeta(total int) map[string]any {
	return map[string]any{
		"collection": map[string]any{
			"offset":  0,
			"limit":   actions.DefaultQueueMax,
			"total":   total,
			"pending": a.queue.PendingCount(),
		},
	}
}

// handleActionsList returns every action in the queue.
//
//	@Summary	List actions
//	@Tags		actions
//	@Produce	json
//	@Success	200
//	@Router		/api/actions [get]
func (a *API) handleActionsList(w http.ResponseWriter, _ *http.Request) {
	all := a.queue.List()
	data := make([]map[string]any, 0, len(all))
	for _, act := range all {
		data = append(data, a.queue.Render(act))
	}
	writeJSONValue(w, ContentTypeJSONAPI, http.StatusOK, map[string]any{
		"data": data,
		"meta": a.actionsMeta(len(all)),
	})
}

// handleActionsGet returns one action by id.
//
//	@Summary	Get action
//	@Tags		actions
//	@Produce	json
//	@Success	200
//	@Failure	404
//	@Router		/api/actions/{id} [get]
func (a *API) handleActionsGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeProblem(w, http.StatusNotFound, "unknown action id")
		return
	}
	act, ok := a.queue.Get(id)
	if !ok {
		writeProblem(w, http.StatusNotFound, "unknown action id")
		return
	}
	writeJSONValue(w, ContentTypeJSONAPI, http.StatusOK, map[string]any{"data": a.queue.Render(act)})
}

// handleActionsDeleteAll marks every action for deletion.
//
//	@Summary	Delete all actions
//	@Tags		actions
//	@Success	204
//	@Router		/api/actions [delete]
func (a *API) handleActionsDeleteAll(w http.ResponseWriter, _ *http.Request) {
	a.queue.MarkAllDeleted()
	a.queue.Kick()
	w.WriteHeader(http.StatusNoContent)
}

// handleActionsDelete marks one action for deletion.
//
//	@Summary	Delete action
//	@Tags		actions
//	@Success	204
//	@Failure	404
//	@Router		/api/actions/{id} [delete]
func (a *API) handleActionsDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeProblem(w, http.StatusNotFound, "unknown action id")
		return
	}
	if err := a.queue.MarkDeleted(id); err != nil {
		writeProblem(w, http.StatusNotFound, "unknown action id")
		return
	}
	a.queue.Kick()
	w.WriteHeader(http.StatusNoContent)
}
