// Package probe periodically verifies off-mesh reachability of discovered
// devices by pinging their OMR addresses over the backbone interface.
// Results are published on the event bus and exported as metrics; items in
// the devices collection are never mutated.
package probe

import (
	"context"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/collection"
	"github.com/threadscope/borderd/internal/event"
)

// TopicUnreachable is published for every device whose OMR address does
// not answer.
const TopicUnreachable = "probe.unreachable"

var reachableGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "borderd_probe_reachable_devices",
	Help: "Devices whose OMR address answered the last reachability probe.",
})

// Prober pings the OMR addresses of the devices collection on a fixed
// interval.
type Prober struct {
	devices  *collection.Collection
	bus      event.Publisher
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a prober over the devices collection.
func New(devices *collection.Collection, bus event.Publisher, interval, timeout time.Duration, logger *zap.Logger) *Prober {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Prober{devices: devices, bus: bus, interval: interval, timeout: timeout, logger: logger}
}

// Run probes until the context is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep pings every device with a known OMR address.
func (p *Prober) sweep(ctx context.Context) {
	reachable := 0
	for _, id := range p.devices.IDs() {
		dev, ok := p.devices.Get(id).(*collection.Device)
		if !ok || !dev.OmrIPv6.IsValid() {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if p.ping(ctx, dev.OmrIPv6.String()) {
			reachable++
			continue
		}
		p.logger.Debug("device unreachable",
			zap.String("id", id),
			zap.String("omr", dev.OmrIPv6.String()))
		if p.bus != nil {
			p.bus.PublishAsync(ctx, event.Event{
				Topic:     TopicUnreachable,
				Source:    "probe",
				Timestamp: time.Now(),
				Payload:   map[string]any{"id": id, "omrIpv6": dev.OmrIPv6.String()},
			})
		}
	}
	reachableGauge.Set(float64(reachable))
}

// ping sends a single echo request and waits for the reply.
func (p *Prober) ping(ctx context.Context, addr string) bool {
	pinger, err := probing.NewPinger(addr)
	if err != nil {
		return false
	}
	pinger.Count = 1
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	if err := pinger.RunWithContext(ctx); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}
