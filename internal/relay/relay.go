// Package relay implements the protocol dispatcher: the command table,
// the per-connection binding records, broadcast fan-out, and the session
// lifecycle including the supervisor loops.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/Lack-Of-Name/CadNav/internal/protocol"
	"github.com/Lack-Of-Name/CadNav/internal/session"
	"github.com/Lack-Of-Name/CadNav/pkg/config"
	"github.com/Lack-Of-Name/CadNav/pkg/traffic"
)

// binding ties a transport to its place in a session. A connection with
// a nil binding has not yet joined anything.
type binding struct {
	code          string
	participantID string
	role          session.Role
}

type conn struct {
	link    session.Link
	ip      string
	binding *binding
}

type Relay struct {
	logger   *slog.Logger
	cfg      *config.Config
	sessions *session.Registry
	meter    *traffic.Meter

	mu    sync.RWMutex
	conns map[uuid.UUID]*conn

	now func() time.Time
}

func New(logger *slog.Logger, cfg *config.Config, meter *traffic.Meter) *Relay {
	return &Relay{
		logger:   logger.With(slog.String("component", "relay")),
		cfg:      cfg,
		sessions: session.NewRegistry(logger),
		meter:    meter,
		conns:    make(map[uuid.UUID]*conn),
		now:      time.Now,
	}
}

// Register tracks a freshly accepted transport in the not-yet-bound
// state.
func (r *Relay) Register(link session.Link, ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[link.ID()] = &conn{link: link, ip: ip}
}

// SessionCount backs the health endpoint.
func (r *Relay) SessionCount() int {
	return r.sessions.Len()
}

// ConnectionCountByIP backs the per-IP connection limiter.
func (r *Relay) ConnectionCountByIP(ip string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conns {
		if c.ip == ip {
			n++
		}
	}
	return n
}

// HandleMessage is the transport's message callback: decode, dispatch,
// account bytes.
func (r *Relay) HandleMessage(_ context.Context, connID uuid.UUID, msg []byte) {
	r.meter.Record(traffic.In, len(msg))

	c := r.connFor(connID)
	if c == nil {
		r.logger.Warn("Frame from untracked connection", slog.String("connID", connID.String()))
		return
	}

	env, err := protocol.Decode(msg)
	if err != nil {
		r.sendError(c.link, "Invalid JSON payload.")
		return
	}

	handler, ok := getHandler(env.Type)
	if !ok {
		r.sendError(c.link, "Unknown message type: "+env.Type)
		return
	}
	handler(r, c, gjson.ParseBytes(env.Payload))
}

// HandleClose is the transport's close callback; it runs the
// drop-participant pathway.
func (r *Relay) HandleClose(connID uuid.UUID, err error) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	r.mu.Unlock()
	if !ok || c.binding == nil {
		return
	}
	r.dropParticipant(c.binding, connID)
}

func (r *Relay) connFor(connID uuid.UUID) *conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[connID]
}

func (r *Relay) bind(c *conn, code, participantID string, role session.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.binding = &binding{code: code, participantID: participantID, role: role}
}

func (r *Relay) bindingOf(c *conn) *binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.binding
}

func (r *Relay) unbind(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.binding = nil
}

// unbindConn clears the binding of a still-tracked connection by id.
// Used during termination so the later transport close callbacks no-op.
func (r *Relay) unbindConn(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		c.binding = nil
	}
}

// boundSession resolves a connection's binding to its live session. On a
// stale binding the connection is unbound and told the session is gone.
func (r *Relay) boundSession(c *conn) (*session.Session, *binding, bool) {
	b := r.bindingOf(c)
	if b == nil {
		r.sendError(c.link, "Not joined to a session.")
		return nil, nil, false
	}
	sess, ok := r.sessions.Get(b.code)
	if !ok {
		r.unbind(c)
		r.sendError(c.link, "Session not found.")
		return nil, nil, false
	}
	return sess, b, true
}

// Shutdown closes every tracked transport. Sessions are left in place;
// the process is going away with them.
func (r *Relay) Shutdown() {
	r.mu.RLock()
	links := make([]session.Link, 0, len(r.conns))
	for _, c := range r.conns {
		links = append(links, c.link)
	}
	r.mu.RUnlock()
	for _, link := range links {
		link.CloseWith(closeCodeHost, "server shutdown")
	}
}
