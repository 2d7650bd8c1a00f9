package actions

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/allowlist"
	"github.com/threadscope/borderd/internal/collection"
	"github.com/threadscope/borderd/internal/collector"
	"github.com/threadscope/borderd/internal/threadapi"
	"github.com/threadscope/borderd/pkg/thread"
)

// Accepted action type names.
const (
	TaskAddThreadDevice   = "addThreadDeviceTask"
	TaskNetworkDiagnostic = "getNetworkDiagnosticTask"
	TaskResetDiagCounter  = "resetNetworkDiagCounterTask"
	TaskEnergyScan        = "getEnergyScanTask"
)

// Deps bundles the collaborators the type handlers drive.
type Deps struct {
	API       threadapi.Client
	Collector *collector.Collector
	AllowList *allowlist.AllowList
	Devices   *collection.Collection
	Diags     *collection.Collection
	Logger    *zap.Logger
}

// RegisterHandlers installs the four built-in action types on the queue.
func RegisterHandlers(q *Queue, deps Deps) {
	q.Register(newAddThreadDeviceHandler(q, deps))
	q.Register(newNetworkDiagnosticHandler(q, deps))
	q.Register(newResetDiagCounterHandler(deps))
	q.Register(newEnergyScanHandler(q, deps))
}

// requireNumber validates a numeric attribute.
func requireNumber(attrs map[string]any, key string) error {
	if _, ok := numberAttr(attrs, key); !ok {
		return fmt.Errorf("attribute %q missing or not a number", key)
	}
	return nil
}

// requireHexString validates a hex string attribute of the given character
// length.
func requireHexString(attrs map[string]any, key string, length int) error {
	s, ok := stringAttr(attrs, key)
	if !ok {
		return fmt.Errorf("attribute %q missing or not a string", key)
	}
	if len(s) != length || !thread.IsHexString(s) {
		return fmt.Errorf("attribute %q must be %d hex chars", key, length)
	}
	return nil
}

// stringSliceAttr decodes a JSON array-of-strings attribute.
func stringSliceAttr(attrs map[string]any, key string) ([]string, bool) {
	raw, ok := attrs[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
