package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/Lack-Of-Name/CadNav/internal/session"
)

const (
	livenessInterval = 30 * time.Second
	livenessTimeout  = 10 * time.Second
)

// StartSupervisors launches the two periodic loops: transport liveness
// probing and session expiry. Both stop with ctx.
func (r *Relay) StartSupervisors(ctx context.Context) {
	go r.livenessLoop(ctx)
	go r.expiryLoop(ctx)
}

func (r *Relay) livenessLoop(ctx context.Context) {
	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.probeConnections(ctx)
		}
	}
}

// probeConnections ping-pongs every tracked transport. A transport that
// misses the pong deadline is force-terminated.
func (r *Relay) probeConnections(ctx context.Context) {
	r.mu.RLock()
	links := make([]session.Link, 0, len(r.conns))
	for _, c := range r.conns {
		links = append(links, c.link)
	}
	r.mu.RUnlock()

	for _, link := range links {
		go func(l session.Link) {
			probeCtx, cancel := context.WithTimeout(ctx, livenessTimeout)
			defer cancel()
			if err := l.Ping(probeCtx); err != nil {
				r.logger.Warn("Liveness probe failed, terminating transport",
					slog.String("connID", l.ID().String()),
					slog.Any("error", err),
				)
				l.CloseWith(closeCodeHost, "liveness timeout")
			}
		}(link)
	}
}

// sweepInterval derives the expiry cadence from the session TTL.
func (r *Relay) sweepInterval() time.Duration {
	interval := r.cfg.Session.TTL() / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}

func (r *Relay) expiryLoop(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepSessions()
		}
	}
}

// sweepSessions applies the two bounded lifespans: the host-resume grace
// and the overall idle TTL.
func (r *Relay) sweepSessions() {
	now := r.now()
	grace := r.cfg.Session.HostResumeGrace()
	ttl := r.cfg.Session.TTL()

	for _, sess := range r.sessions.Snapshot() {
		sess.Lock()
		var reason string
		switch {
		case !sess.HostAttached() && !sess.HostDetachedAt.IsZero() && now.Sub(sess.HostDetachedAt) > grace:
			reason = "host-timeout"
		case sess.LastActivity.Before(now.Add(-ttl)):
			reason = "session-expired"
		}
		sess.Unlock()

		if reason != "" {
			r.Terminate(sess, reason)
		}
	}
}
