package actions

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/allowlist"
	"github.com/threadscope/borderd/internal/threadapi"
	"github.com/threadscope/borderd/pkg/thread"
)

// newAddThreadDeviceHandler builds the handler that enrolls a joiner
// through the commissioner and tracks it in the allow-list.
func newAddThreadDeviceHandler(q *Queue, deps Deps) Handler {
	return Handler{
		Name: TaskAddThreadDevice,

		Validate: func(attrs map[string]any) error {
			if err := requireNumber(attrs, "timeout"); err != nil {
				return err
			}
			if err := requireHexString(attrs, "eui", 16); err != nil {
				return err
			}
			pskd, ok := stringAttr(attrs, "pskd")
			if !ok {
				return fmt.Errorf("attribute %q missing or not a string", "pskd")
			}
			return allowlist.ValidatePskd(pskd)
		},

		Process: func(a *Action) Result {
			if deps.AllowList.CommissionerState() != threadapi.CommissionerActive {
				// Petition for the commissioner role; the state-change
				// callback kicks the queue once active.
				err := deps.AllowList.CommissionerStart()
				switch {
				case err == nil,
					errors.Is(err, threadapi.ErrInvalidState),
					errors.Is(err, threadapi.ErrBusy):
					return ResultRetry
				default:
					deps.Logger.Warn("commissioner start failed", zap.Error(err))
					return ResultRetry
				}
			}

			eui := euiAttr(a)
			timeout, _ := numberAttr(a.Attributes, "timeout")
			pskd, _ := stringAttr(a.Attributes, "pskd")

			// A joiner can only be pending once: stop the earlier action
			// that still references this EUI-64 before re-registering.
			if entry, ok := deps.AllowList.Find(eui); ok && !entry.State.Terminal() && entry.UUID != a.ID {
				q.stopByIDLocked(entry.UUID)
			}
			if err := deps.AllowList.AddJoiner(eui, pskd, time.Duration(timeout)*time.Second, a.ID); err != nil {
				if errors.Is(err, threadapi.ErrInvalidState) || errors.Is(err, threadapi.ErrBusy) {
					return ResultRetry
				}
				deps.Logger.Error("cannot add joiner", zap.String("eui64", eui.String()), zap.Error(err))
				return ResultFailure
			}
			return ResultSuccess
		},

		Evaluate: func(a *Action) Result {
			switch deps.AllowList.JoinStatus(euiAttr(a)) {
			case allowlist.JoinSucceeded:
				return ResultSuccess
			case allowlist.JoinFailed:
				return ResultFailure
			default:
				return ResultPending
			}
		},

		Clean: func(a *Action) {
			eui := euiAttr(a)
			if err := deps.AllowList.RemoveJoiner(eui); err != nil {
				deps.Logger.Warn("remove joiner failed", zap.Error(err))
			}
			if err := deps.AllowList.Erase(eui); err != nil && !errors.Is(err, threadapi.ErrNotFound) {
				deps.Logger.Warn("erase allow-list entry failed", zap.Error(err))
			}
		},

		Decorate: func(a *Action, attrs map[string]any) {
			if a.Status() == StatusPending {
				return
			}
			if entry, ok := deps.AllowList.Find(euiAttr(a)); ok {
				attrs["status"] = entry.State.String()
			}
		},
	}
}

// euiAttr reads the validated eui attribute of an add-thread-device action.
func euiAttr(a *Action) thread.ExtAddress {
	s, _ := stringAttr(a.Attributes, "eui")
	eui, _ := thread.ParseExtAddress(s)
	return eui
}
