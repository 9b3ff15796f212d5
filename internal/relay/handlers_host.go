package relay

import (
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/Lack-Of-Name/CadNav/internal/payload"
	"github.com/Lack-Of-Name/CadNav/internal/protocol"
	"github.com/Lack-Of-Name/CadNav/internal/session"
	"github.com/Lack-Of-Name/CadNav/pkg/ident"
)

func handleHostInit(r *Relay, c *conn, _ gjson.Result) {
	if r.bindingOf(c) != nil {
		r.sendError(c.link, "Already joined a session.")
		return
	}

	now := r.now()
	token := ident.ResumeToken()
	var sess *session.Session
	for {
		candidate := session.New(ident.SessionCode(r.cfg.Session.CodeLength), r.cfg.Session.LocationIntervalMS, token, now)
		candidate.Host = session.NewHostPeer(ident.ParticipantID(), c.link)
		if err := r.sessions.Put(candidate); err == nil {
			sess = candidate
			break
		}
		// code collision with a live session, mint another
	}

	r.bind(c, sess.Code, sess.Host.ID, session.RoleHost)
	r.logger.Info("Session created",
		slog.String("code", sess.Code),
		slog.String("hostID", sess.Host.ID),
	)

	r.send(c.link, protocol.MsgSessionReady, protocol.ReadyPayload{
		SessionID:     sess.Code,
		Role:          protocol.RoleHost,
		ParticipantID: sess.Host.ID,
		Label:         sess.Host.Label,
		Color:         sess.Host.Color,
		Peers:         []protocol.PeerSummary{},
		State:         nil,
		IntervalMS:    sess.IntervalMS,
		ResumeToken:   token,
	})
}

func handleHostResume(r *Relay, c *conn, p gjson.Result) {
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

	if sess.HostAttached() {
		r.sendError(c.link, "Host already connected.")
		return
	}
	token := p.Get("resumeToken").String()
	if token == "" || token != sess.ResumeToken {
		r.sendError(c.link, "Invalid resume token.")
		return
	}

	// Token is single-use: rotate on every successful resume.
	fresh := ident.ResumeToken()
	sess.ResumeToken = fresh
	sess.AttachHost(c.link, now)
	r.bind(c, sess.Code, sess.Host.ID, session.RoleHost)
	r.logger.Info("Host resumed session", slog.String("code", sess.Code))

	r.send(c.link, protocol.MsgSessionReady, protocol.ReadyPayload{
		SessionID:     sess.Code,
		Role:          protocol.RoleHost,
		ParticipantID: sess.Host.ID,
		Label:         sess.Host.Label,
		Color:         sess.Host.Color,
		Peers:         peerSummaries(sess),
		State:         stateSnapshot(sess),
		IntervalMS:    sess.IntervalMS,
		ResumeToken:   fresh,
	})
	r.sendToClients(sess, protocol.MsgSessionHostStatus, protocol.HostStatusPayload{
		Online:    true,
		Reason:    "host-resumed",
		Timestamp: now.UnixMilli(),
	}, "")
}

func handleHostState(r *Relay, c *conn, p gjson.Result) {
	sess, b, ok := r.boundSession(c)
	if !ok {
		return
	}
	if b.role != session.RoleHost {
		r.sendError(c.link, "Only the host can publish state.")
		return
	}

	data := p.Get("data")
	if data.Type != gjson.String || data.String() == "" {
		r.sendError(c.link, "Empty state payload.")
		return
	}
	blob := data.String()
	if err := payload.VerifyStateBlob(blob); err != nil {
		r.sendError(c.link, "State payload could not be decoded.")
		return
	}

	hash := payload.HashState(blob)
	now := r.now()

	sess.Lock()
	defer sess.Unlock()
	sess.Touch(now)
	version, changed := sess.SetState(blob, hash)
	if !changed {
		return
	}
	r.sendToHost(sess, protocol.MsgSessionState, protocol.StateSnapshot{
		Version:    version,
		Data:       blob,
		Compressed: true,
		Hash:       hash,
		Size:       len(blob),
	})
}

func handleHostInterval(r *Relay, c *conn, p gjson.Result) {
	sess, b, ok := r.boundSession(c)
	if !ok {
		return
	}
	if b.role != session.RoleHost {
		r.sendError(c.link, "Only the host can change the cadence.")
		return
	}
	ms, ok := intervalFromPayload(p)
	if !ok {
		r.sendError(c.link, "Invalid interval.")
		return
	}

	now := r.now()
	sess.Lock()
	defer sess.Unlock()
	sess.Touch(now)
	applied, changed := sess.SetInterval(ms)
	if !changed {
		return
	}
	r.sendToAll(sess, protocol.MsgSessionInterval, protocol.IntervalPayload{IntervalMS: applied}, "")
}

func handleHostShutdown(r *Relay, c *conn, _ gjson.Result) {
	sess, b, ok := r.boundSession(c)
	if !ok {
		return
	}
	if b.role != session.RoleHost {
		r.sendError(c.link, "Only the host can end the session.")
		return
	}
	r.Terminate(sess, "host-ended")
}
