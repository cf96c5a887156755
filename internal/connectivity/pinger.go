// Package connectivity detects whether the remote calendar service is
// reachable. The [Pinger] polls an injected health check and publishes
// online/offline transitions on a channel, so the sync orchestrator can react
// to reconnects without platform-specific network events.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is how often the Pinger re-checks reachability.
const DefaultInterval = 30 * time.Second

// PingFunc performs one reachability check. A nil return means online.
// Usually [remote.Client.Ping].
type PingFunc func(ctx context.Context) error

// Pinger is a polling connectivity probe. Create one with [New] and start it
// with [Pinger.Run]; consumers read [Pinger.Online] and [Pinger.Changes].
type Pinger struct {
	ping     PingFunc
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	online bool

	changes chan bool
}

// New creates a Pinger. It starts optimistically online: if the first real
// check fails, callers have already degraded to the cache through the normal
// fallback path. interval <= 0 uses [DefaultInterval].
func New(ping PingFunc, interval time.Duration, logger *slog.Logger) *Pinger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Pinger{
		ping:     ping,
		interval: interval,
		log:      logger,
		online:   true,
		changes:  make(chan bool, 1),
	}
}

// Online reports the last observed reachability.
func (p *Pinger) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Changes returns the transition channel. It carries the new online state,
// conflated: if the consumer lags, only the most recent transition is kept.
func (p *Pinger) Changes() <-chan bool {
	return p.changes
}

// Run polls until ctx is cancelled. The first check happens immediately.
func (p *Pinger) Run(ctx context.Context) error {
	p.check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

// check runs one reachability probe and publishes a transition if the state
// flipped.
func (p *Pinger) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := p.ping(probeCtx)
	cancel()

	online := err == nil

	p.mu.Lock()
	changed := online != p.online
	p.online = online
	p.mu.Unlock()

	if !changed {
		return
	}
	if online {
		p.log.Info("connectivity restored")
	} else {
		p.log.Info("connectivity lost", "error", err)
	}

	// Conflate: drop a stale unread transition so the channel always holds
	// the newest state.
	select {
	case <-p.changes:
	default:
	}
	p.changes <- online
}
