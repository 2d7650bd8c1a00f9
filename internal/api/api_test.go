package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/actions"
	"github.com/threadscope/borderd/internal/allowlist"
	"github.com/threadscope/borderd/internal/collection"
	"github.com/threadscope/borderd/internal/collector"
	"github.com/threadscope/borderd/internal/threadapi/threadapitest"
	"github.com/threadscope/borderd/pkg/thread"
)

type apiFixture struct {
	fake    *threadapitest.Fake
	devices *collection.Collection
	diags   *collection.Collection
	queue   *actions.Queue
	mux     *http.ServeMux
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zap.NewNop()
	fake := threadapitest.New()
	devices := collection.New(collection.DevicesName, collection.MaxDevicesItems, logger)
	diags := collection.New(collection.DiagnosticsName, collection.MaxDiagnosticsItems, logger)
	coll := collector.New(fake, devices, diags, logger)
	queue := actions.NewQueue(actions.DefaultQueueMax, nil, logger)
	allow := allowlist.New(fake, logger, queue.Kick)
	actions.RegisterHandlers(queue, actions.Deps{
		API:       fake,
		Collector: coll,
		AllowList: allow,
		Devices:   devices,
		Diags:     diags,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	New(queue, coll, devices, diags, fake, logger).RegisterRoutes(mux)
	return &apiFixture{fake: fake, devices: devices, diags: diags, queue: queue, mux: mux}
}

func (f *apiFixture) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

const submitReset = `{"data":[{"type":"resetNetworkDiagCounterTask","attributes":{"types":["macCounter"],"timeout":60}}]}`

func TestSubmitAccepted(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, "POST", "/api/actions", "application/json", submitReset)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}

	var doc struct {
		Data []struct {
			ID         string         `json:"id"`
			Type       string         `json:"type"`
			Attributes map[string]any `json:"attributes"`
		} `json:"data"`
		Meta struct {
			Collection struct {
				Total   int `json:"total"`
				Pending int `json:"pending"`
			} `json:"collection"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(doc.Data) != 1 || doc.Data[0].ID == "" {
		t.Fatalf("data = %+v", doc.Data)
	}
	if doc.Data[0].Attributes["status"] != "pending" {
		t.Errorf("status = %v", doc.Data[0].Attributes["status"])
	}
	if doc.Meta.Collection.Total != 1 || doc.Meta.Collection.Pending != 1 {
		t.Errorf("meta = %+v", doc.Meta.Collection)
	}
}

func TestSubmitMalformedJSON(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, "POST", "/api/actions", "application/json", `{"data":[`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSubmitUnsupportedMediaType(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, "POST", "/api/actions", "text/plain", submitReset)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", w.Code)
	}
}

func TestSubmitValidationConflict(t *testing.T) {
	f := newAPIFixture(t)
	body := `{"data":[{"type":"addThreadDeviceTask","attributes":{"eui":"zz","pskd":"J01NME","timeout":60}}]}`
	w := f.do(t, "POST", "/api/actions", "application/json", body)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if f.queue.Len() != 0 {
		t.Error("invalid batch must not enqueue")
	}
}

func TestSubmitQueueOverflow(t *testing.T) {
	f := newAPIFixture(t)
	// Diagnostic tasks stay pending while the collector is owned, so they
	// are never evictable.
	task := `{"type":"getNetworkDiagnosticTask","attributes":{"destination":"0000000000000001","types":["extAddress"],"timeout":600}}`
	batch := `{"data":[` + task + strings.Repeat(","+task, 99) + `]}`
	w := f.do(t, "POST", "/api/actions", "application/json", batch)
	if w.Code != http.StatusOK {
		t.Fatalf("seed batch status = %d", w.Code)
	}

	w = f.do(t, "POST", "/api/actions", "application/json", `{"data":[`+task+`]}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 on overflow", w.Code)
	}
	if f.queue.Len() != 100 {
		t.Errorf("queue length = %d, want unchanged 100", f.queue.Len())
	}
}

func TestGetActionNotFound(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, "GET", "/api/actions/6a8f0bd2-55f6-4a3f-9c1a-aaaaaaaaaaaa", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDeleteAllActions(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, "POST", "/api/actions", "application/json", submitReset)

	w := f.do(t, "DELETE", "/api/actions", "", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	f.queue.Tick()
	if f.queue.Len() != 0 {
		t.Errorf("queue length = %d after delete-all tick", f.queue.Len())
	}
}

func TestDevicesPlainAndJSONAPI(t *testing.T) {
	f := newAPIFixture(t)
	ea, _ := thread.ParseExtAddress("aabbccddeeff0011")
	f.devices.Add(collection.NewDevice(ea))

	w := f.do(t, "GET", "/api/devices", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != ContentTypeJSON {
		t.Errorf("content-type = %q", ct)
	}
	var plain []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &plain); err != nil {
		t.Fatalf("plain body not an array: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/devices", nil)
	req.Header.Set("Accept", ContentTypeJSONAPI)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if ct := rec.Header().Get("Content-Type"); ct != ContentTypeJSONAPI {
		t.Errorf("content-type = %q", ct)
	}
	var doc struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil || len(doc.Data) != 1 {
		t.Errorf("json:api body = %s", rec.Body)
	}
}

func TestDeviceItemNotFound(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, "GET", "/api/devices/0000000000000000", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDeleteDevicesClears(t *testing.T) {
	f := newAPIFixture(t)
	ea, _ := thread.ParseExtAddress("aabbccddeeff0011")
	f.devices.Add(collection.NewDevice(ea))

	w := f.do(t, "DELETE", "/api/devices", "", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if f.devices.Len() != 0 {
		t.Error("collection not cleared")
	}
}

func TestNodeSummary(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, "GET", "/api/node", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["networkName"] != f.fake.Name {
		t.Errorf("networkName = %v", doc["networkName"])
	}
	if doc["extAddress"] != f.fake.ExtAddr.String() {
		t.Errorf("extAddress = %v", doc["extAddress"])
	}
}
