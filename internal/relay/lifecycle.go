package relay

import (
	"log/slog"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/Lack-Of-Name/CadNav/internal/protocol"
	"github.com/Lack-Of-Name/CadNav/internal/session"
)

// Termination close codes: service-restart for clients, going-away for
// the host transport.
const (
	closeCodeClient = int(websocket.StatusServiceRestart)
	closeCodeHost   = int(websocket.StatusGoingAway)
)

// dropParticipant runs when a bound transport closes. Hosts are detached
// and their session kept for the resume grace; clients are removed
// outright.
func (r *Relay) dropParticipant(b *binding, connID uuid.UUID) {
	sess, ok := r.sessions.Get(b.code)
	if !ok {
		return
	}
	now := r.now()

	sess.Lock()
	defer sess.Unlock()

	switch b.role {
	case session.RoleHost:
		// Only detach if this transport still owns the host slot; a
		// resumed host must not be knocked off by the old socket's close.
		if sess.Host == nil || sess.Host.Link == nil || sess.Host.Link.ID() != connID {
			return
		}
		sess.DetachHost(now)
		r.logger.Info("Host detached", slog.String("code", sess.Code))
		r.sendToClients(sess, protocol.MsgSessionHostStatus, protocol.HostStatusPayload{
			Online:    false,
			Reason:    "host-disconnected",
			Timestamp: now.UnixMilli(),
		}, "")

	case session.RoleClient:
		peer := sess.Clients[b.participantID]
		if peer == nil || peer.Link == nil || peer.Link.ID() != connID {
			return
		}
		delete(sess.Clients, b.participantID)
		sess.Touch(now)
		r.logger.Info("Client left",
			slog.String("code", sess.Code),
			slog.String("participantID", b.participantID),
		)
		r.sendToHost(sess, protocol.MsgSessionPeerLeft, protocol.PeerLeftPayload{
			ParticipantID: b.participantID,
		})
	}
}

// Terminate ends a session: session:ended to everyone, registry removal,
// then protocol-level closes. Bindings are cleared before the transports
// close so the close callbacks do not re-enter the session.
func (r *Relay) Terminate(sess *session.Session, reason string) {
	now := r.now()

	type closeTarget struct {
		link session.Link
		code int
	}
	var targets []closeTarget

	sess.Lock()
	ended := protocol.EndedPayload{Reason: reason, Timestamp: now.UnixMilli()}
	r.sendToAll(sess, protocol.MsgSessionEnded, ended, "")
	if sess.Host != nil && sess.Host.Link != nil {
		targets = append(targets, closeTarget{sess.Host.Link, closeCodeHost})
	}
	for _, peer := range sess.Clients {
		if peer.Link != nil {
			targets = append(targets, closeTarget{peer.Link, closeCodeClient})
		}
	}
	sess.Unlock()

	r.sessions.Delete(sess.Code)
	for _, t := range targets {
		r.unbindConn(t.link.ID())
	}
	for _, t := range targets {
		t.link.CloseWith(t.code, reason)
	}
	r.logger.Info("Session terminated",
		slog.String("code", sess.Code),
		slog.String("reason", reason),
	)
}
