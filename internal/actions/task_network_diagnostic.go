package actions

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/collector"
	"github.com/threadscope/borderd/internal/threadapi"
	"github.com/threadscope/borderd/pkg/thread"
)

// newNetworkDiagnosticHandler builds the handler that drives a unicast
// diagnostic collection cycle and stores the result in the diagnostics
// collection.
func newNetworkDiagnosticHandler(q *Queue, deps Deps) Handler {
	return Handler{
		Name: TaskNetworkDiagnostic,

		Validate: func(attrs map[string]any) error {
			if err := requireNumber(attrs, "timeout"); err != nil {
				return err
			}
			dest, ok := stringAttr(attrs, "destination")
			if !ok {
				return fmt.Errorf("attribute %q missing or not a string", "destination")
			}
			if dest != "" {
				if (len(dest) != 16 && len(dest) != 4) || !thread.IsHexString(dest) {
					return fmt.Errorf("destination %q must be empty, 16-hex ml-eid-iid or 4-hex rloc16", dest)
				}
			}
			names, ok := stringSliceAttr(attrs, "types")
			if !ok {
				return fmt.Errorf("attribute %q missing or not a string array", "types")
			}
			for _, name := range names {
				if _, ok := thread.TLVTypeByName(name); !ok {
					return fmt.Errorf("unknown TLV type %q", name)
				}
			}
			return nil
		},

		Process: func(a *Action) Result {
			timeout, _ := numberAttr(a.Attributes, "timeout")
			if err := deps.Collector.Configure(secondsToDuration(timeout), collector.DefaultMaxAge, 1, q.Kick); err != nil {
				// Another cycle owns the collector; try again next tick.
				return ResultRetry
			}
			dest, _ := stringAttr(a.Attributes, "destination")
			names, _ := stringSliceAttr(a.Attributes, "types")
			err := deps.Collector.HandleAction(a, deps.Diags.Name(), dest, names)
			switch {
			case err == nil:
				return ResultSuccess
			case errors.Is(err, threadapi.ErrInvalidState):
				return ResultRetry
			default:
				deps.Logger.Warn("network diagnostic start failed", zap.Error(err))
				return ResultFailure
			}
		},

		Evaluate: func(_ *Action) Result {
			progress, err := deps.Collector.Continue()
			if err != nil {
				deps.Logger.Warn("network diagnostic failed", zap.Error(err))
				return ResultFailure
			}
			switch progress {
			case collector.ProgressComplete:
				return ResultSuccess
			case collector.ProgressTimeout:
				return ResultStopped
			default:
				return ResultPending
			}
		},

		Clean: func(a *Action) {
			if a.Status() == StatusActive {
				deps.Collector.Cancel()
			}
		},
	}
}
