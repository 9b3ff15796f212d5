package relay

import (
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/Lack-Of-Name/CadNav/internal/payload"
	"github.com/Lack-Of-Name/CadNav/internal/protocol"
	"github.com/Lack-Of-Name/CadNav/internal/session"
	"github.com/Lack-Of-Name/CadNav/pkg/ident"
)

func handleClientJoin(r *Relay, c *conn, p gjson.Result) {
	if r.bindingOf(c) != nil {
		r.sendError(c.link, "Already joined a session.")
		return
	}
	code := ident.Canonical(p.Get("sessionId").String())
	if code == "" {
		r.sendError(c.link, "Missing session code.")
		return
	}
	sess, ok := r.sessions.Get(code)
	if !ok {
		r.sendError(c.link, "Session not found.")
		return
	}

	now := r.now()
	sess.Lock()
	defer sess.Unlock()

	id := ident.ParticipantID()
	for sess.Clients[id] != nil || (sess.Host != nil && sess.Host.ID == id) {
		id = ident.ParticipantID()
	}
	peer := session.NewClientPeer(id, ident.ClientLabel(), sess.NextColor(), c.link)
	sess.Clients[id] = peer
	sess.Touch(now)
	r.bind(c, sess.Code, id, session.RoleClient)
	r.logger.Info("Client joined session",
		slog.String("code", sess.Code),
		slog.String("participantID", id),
	)

	r.send(c.link, protocol.MsgSessionReady, protocol.ReadyPayload{
		SessionID:     sess.Code,
		Role:          protocol.RoleClient,
		ParticipantID: id,
		Label:         peer.Label,
		Color:         peer.Color,
		Peers:         []protocol.PeerSummary{},
		State:         nil,
		IntervalMS:    sess.IntervalMS,
	})
	r.sendToHost(sess, protocol.MsgSessionPeerJoined, protocol.PeerJoinedPayload{
		ParticipantID: id,
		Label:         peer.Label,
		Color:         peer.Color,
	})
}

func handleClientRoutes(r *Relay, c *conn, p gjson.Result) {
	sess, b, ok := r.boundSession(c)
	if !ok {
		return
	}
	if b.role != session.RoleClient {
		r.sendError(c.link, "Only clients can upload routes.")
		return
	}

	sanitized, err := payload.SanitizeRoutes(p.Get("routes"), r.cfg.Session.MaxClientRoutes, r.cfg.Session.MaxRoutePoints)
	if err != nil {
		r.sendError(c.link, "Invalid routes payload.")
		return
	}
	hash := payload.HashRoutes(sanitized)
	now := r.now()

	sess.Lock()
	defer sess.Unlock()

	peer := sess.Clients[b.participantID]
	if peer == nil {
		r.sendError(c.link, "Not joined to a session.")
		return
	}
	if hash == peer.RouteHash {
		return
	}
	if len(sanitized) == 0 {
		// an upload that sanitizes to nothing clears the peer's routes
		peer.Routes = nil
	} else {
		peer.Routes = sanitized
	}
	peer.RouteHash = hash
	sess.Touch(now)

	r.sendToHost(sess, protocol.MsgSessionPeerRoutes, protocol.PeerRoutesPayload{
		ParticipantID: b.participantID,
		Routes:        sanitized,
	})
}
