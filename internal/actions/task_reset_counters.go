package actions

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/threadscope/borderd/pkg/thread"
)

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// resettableTLVs maps the counter names a Diagnostic Reset can clear to
// their TLV type codes. Both the singular wire form and the TLV list form
// are accepted.
var resettableTLVs = map[string]uint8{
	"macCounter":  thread.TLVMacCounters,
	"macCounters": thread.TLVMacCounters,
	"mleCounter":  thread.TLVMleCounters,
	"mleCounters": thread.TLVMleCounters,
}

// newResetDiagCounterHandler builds the handler that multicasts a
// Diagnostic Reset for the requested counter TLVs to all thread nodes.
func newResetDiagCounterHandler(deps Deps) Handler {
	return Handler{
		Name: TaskResetDiagCounter,

		Validate: func(attrs map[string]any) error {
			if _, ok := attrs["destination"]; ok {
				return fmt.Errorf("unicast counter reset is not supported")
			}
			names, ok := stringSliceAttr(attrs, "types")
			if !ok {
				return fmt.Errorf("attribute %q missing or not a string array", "types")
			}
			for _, name := range names {
				if _, ok := resettableTLVs[name]; !ok {
					return fmt.Errorf("TLV %q is not resettable", name)
				}
			}
			return requireNumber(attrs, "timeout")
		},

		Process: func(a *Action) Result {
			names, _ := stringSliceAttr(a.Attributes, "types")
			tlvTypes := make([]uint8, 0, len(names))
			for _, name := range names {
				tlvTypes = append(tlvTypes, resettableTLVs[name])
			}
			dst := deps.API.RealmLocalAllThreadNodes()
			if err := deps.API.SendDiagnosticReset(dst, tlvTypes); err != nil {
				deps.Logger.Warn("diagnostic reset failed", zap.Error(err))
				return ResultFailure
			}
			return ResultSuccess
		},

		Evaluate: func(_ *Action) Result {
			// The reset is fire-and-forget; it succeeds once sent.
			return ResultSuccess
		},

		Clean: func(_ *Action) {},
	}
}
