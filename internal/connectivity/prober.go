package connectivity

import (
	"context"
	"log/slog"
	"time"
)

// Defaults for Prober fields left zero.
const (
	DefaultProbeInterval = 10 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
	DefaultFailThreshold = 2
)

// CheckFunc probes the remote. A nil error means reachable.
type CheckFunc func(ctx context.Context) error

// Prober derives reachability by calling Check on an interval and feeding the
// result to a Monitor. One success flips to online; FailThreshold consecutive
// failures flip to offline, so a single dropped probe does not flap the state.
type Prober struct {
	Monitor       *Monitor
	Check         CheckFunc
	Interval      time.Duration
	Timeout       time.Duration
	FailThreshold int

	failures int
}

// Probe runs one check and updates the monitor.
func (p *Prober) Probe(ctx context.Context) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	threshold := p.FailThreshold
	if threshold <= 0 {
		threshold = DefaultFailThreshold
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	err := p.Check(cctx)
	cancel()

	if err == nil {
		p.failures = 0
		p.Monitor.Set(true)
		return
	}
	if ctx.Err() != nil {
		return
	}
	p.failures++
	slog.Debug("connectivity: probe failed", "failures", p.failures, "err", err)
	if p.failures >= threshold || !p.Monitor.Online() {
		p.Monitor.Set(false)
	}
}

// Run probes immediately and then every Interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	p.Probe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
