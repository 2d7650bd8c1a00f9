package actions

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/collection"
	"github.com/threadscope/borderd/internal/threadapi"
	"github.com/threadscope/borderd/pkg/thread"
)

// energyScanState serialises energy scans: the commissioner supports only
// one scan at a time.
type energyScanState uint8

const (
	esIdle energyScanState = iota
	esSendReq
	esCallbackWait
	esComplete
)

// energyScan owns the single in-flight commissioner energy scan.
type energyScan struct {
	q    *Queue
	deps Deps

	mu       sync.Mutex
	state    energyScanState
	action   *Action
	report   *collection.EnergyScanReport
	channels []uint8
	received int
}

// newEnergyScanHandler builds the handler that runs a commissioner energy
// scan and stores the per-channel RSSI report in the diagnostics
// collection.
func newEnergyScanHandler(q *Queue, deps Deps) Handler {
	es := &energyScan{q: q, deps: deps}
	return Handler{
		Name:     TaskEnergyScan,
		Validate: es.validate,
		Process:  es.process,
		Evaluate: es.evaluate,
		Clean:    es.clean,
	}
}

func (es *energyScan) validate(attrs map[string]any) error {
	if err := requireNumber(attrs, "timeout"); err != nil {
		return err
	}
	if err := requireHexString(attrs, "destination", 16); err != nil {
		return err
	}
	channels, ok := channelMaskAttr(attrs)
	if !ok || len(channels) == 0 {
		return fmt.Errorf("attribute %q missing or not a number array", "channelMask")
	}
	for _, ch := range channels {
		if ch < 11 || ch > 26 {
			return fmt.Errorf("channel %d out of range 11..26", ch)
		}
	}
	for _, key := range []string{"count", "period", "scanDuration"} {
		if err := requireNumber(attrs, key); err != nil {
			return err
		}
	}
	return nil
}

func channelMaskAttr(attrs map[string]any) ([]uint8, bool) {
	raw, ok := attrs["channelMask"].([]any)
	if !ok {
		return nil, false
	}
	channels := make([]uint8, 0, len(raw))
	for _, v := range raw {
		n, ok := v.(float64)
		if !ok {
			return nil, false
		}
		channels = append(channels, uint8(n))
	}
	return channels, true
}

func (es *energyScan) process(a *Action) Result {
	if es.deps.API.CommissionerState() != threadapi.CommissionerActive {
		err := es.deps.AllowList.CommissionerStart()
		if err != nil && !errors.Is(err, threadapi.ErrInvalidState) && !errors.Is(err, threadapi.ErrBusy) {
			es.deps.Logger.Warn("commissioner start failed", zap.Error(err))
		}
		return ResultRetry
	}

	err := es.start(a)
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, threadapi.ErrBusy), errors.Is(err, threadapi.ErrInvalidState):
		return ResultRetry
	default:
		es.deps.Logger.Warn("energy scan start failed", zap.Error(err))
		return ResultFailure
	}
}

// start issues the scan request and prepares the result container.
func (es *energyScan) start(a *Action) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.state != esIdle {
		return fmt.Errorf("energy scan in progress: %w", threadapi.ErrBusy)
	}
	es.state = esSendReq

	channels, _ := channelMaskAttr(a.Attributes)
	var mask uint32
	for _, ch := range channels {
		mask |= 1 << ch
	}
	count, _ := numberAttr(a.Attributes, "count")
	period, _ := numberAttr(a.Attributes, "period")
	duration, _ := numberAttr(a.Attributes, "scanDuration")

	iid := es.destinationIid(a)
	dst := es.deps.API.MeshLocalPrefix().Combine(iid)

	err := es.deps.API.EnergyScan(mask, uint8(count), uint16(period), uint16(duration), dst, es.handleReport)
	if err != nil {
		es.state = esIdle
		if errors.Is(err, threadapi.ErrInvalidState) {
			return fmt.Errorf("commissioner owned elsewhere: %w", threadapi.ErrBusy)
		}
		return err
	}

	es.report = collection.NewEnergyScanReport(iid, uint8(count), channels)
	es.channels = channels
	es.received = 0
	es.state = esCallbackWait
	es.action = a
	es.deps.Logger.Info("energy scan started",
		zap.String("destination", dst.String()),
		zap.Uint8("count", uint8(count)))
	return nil
}

// destinationIid resolves the destination attribute: a known device id with
// a learned ml-eid-iid, or a literal ml-eid-iid.
func (es *energyScan) destinationIid(a *Action) thread.ExtAddress {
	dest, _ := stringAttr(a.Attributes, "destination")
	if dev, ok := es.deps.Devices.Get(dest).(*collection.Device); ok && !dev.MlEidIid.IsZero() {
		return dev.MlEidIid
	}
	iid, _ := thread.ParseExtAddress(dest)
	return iid
}

// handleReport accumulates one energy-report chunk. Results may arrive in
// several callbacks; rows interleave channels in scan order.
func (es *energyScan) handleReport(channelMask uint32, energyList []int8) {
	es.mu.Lock()
	if es.state != esCallbackWait {
		es.mu.Unlock()
		es.deps.Logger.Debug("dropping stale energy report")
		return
	}

	channelCount := bits.OnesCount32(channelMask)
	if channelCount == 0 || len(energyList)%channelCount != 0 {
		es.mu.Unlock()
		es.deps.Logger.Warn("malformed energy report",
			zap.Uint32("mask", channelMask),
			zap.Int("samples", len(energyList)))
		return
	}

	rows := len(energyList) / channelCount
	for j := 0; j < rows; j++ {
		for i := 0; i < channelCount && i < len(es.report.Reports); i++ {
			es.report.Reports[i].MaxRssi = append(es.report.Reports[i].MaxRssi, energyList[j*channelCount+i])
		}
	}
	es.received += rows

	if es.received < int(es.report.Count) {
		es.deps.Logger.Debug("energy scan partial",
			zap.Int("received", es.received),
			zap.Uint8("expected", es.report.Count))
		es.mu.Unlock()
		return
	}

	report := es.report
	action := es.action
	es.state = esComplete
	es.action = nil
	es.mu.Unlock()

	report.Touch()
	es.deps.Diags.Add(report)
	if action != nil {
		action.SetRelationship(es.deps.Diags.Name(), report.ID())
	}
	es.q.Kick()
}

func (es *energyScan) evaluate(_ *Action) Result {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.state != esComplete {
		return ResultPending
	}
	es.state = esIdle
	es.report = nil
	return ResultSuccess
}

func (es *energyScan) clean(a *Action) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.action == a {
		// Abandon outstanding callback rows for this scan.
		es.state = esIdle
		es.action = nil
		es.report = nil
	}
}
