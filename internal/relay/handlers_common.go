package relay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Lack-Of-Name/CadNav/internal/payload"
	"github.com/Lack-Of-Name/CadNav/internal/protocol"
	"github.com/Lack-Of-Name/CadNav/internal/session"
	"github.com/Lack-Of-Name/CadNav/pkg/traffic"
)

func handleLocation(r *Relay, c *conn, p gjson.Result) {
	sess, b, ok := r.boundSession(c)
	if !ok {
		return
	}
	now := r.now()

	sess.Lock()
	defer sess.Unlock()

	peer := peerFor(sess, b)
	if peer == nil {
		r.sendError(c.link, "Not joined to a session.")
		return
	}
	// Throttle gate: reads the session's current cadence on every frame,
	// so a host:interval change applies from the next evaluation.
	if !peer.LastLocationAt.IsZero() && now.Sub(peer.LastLocationAt) < sess.Interval() {
		return
	}
	fix, valid := payload.SanitizeLocation(p, now)
	if !valid {
		return
	}

	peer.LastLocation = fix
	peer.LastLocationAt = now
	sess.Touch(now)

	if b.role == session.RoleClient {
		r.sendToHost(sess, protocol.MsgSessionLocation, protocol.LocationPayload{
			ParticipantID: b.participantID,
			Location:      *fix,
		})
	}
}

func handleChat(r *Relay, c *conn, p gjson.Result) {
	sess, b, ok := r.boundSession(c)
	if !ok {
		return
	}
	text := strings.TrimSpace(p.Get("text").String())
	if text == "" {
		return
	}
	now := r.now()

	sess.Lock()
	defer sess.Unlock()
	sess.Touch(now)

	if strings.HasPrefix(text, "/data") {
		window := 0
		if fields := strings.Fields(text); len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
				window = n
			}
		}
		r.send(c.link, protocol.MsgSessionMessage, protocol.ChatPayload{
			ParticipantID: protocol.SystemParticipantID,
			Text:          formatTrafficReport(r.meter.Summarize(window)),
			Role:          protocol.RoleSystem,
			Timestamp:     now.UnixMilli(),
		})
		return
	}

	role := protocol.RoleClient
	if b.role == session.RoleHost {
		role = protocol.RoleHost
	}
	r.sendToAll(sess, protocol.MsgSessionMessage, protocol.ChatPayload{
		ParticipantID: b.participantID,
		Text:          text,
		Role:          role,
		Timestamp:     now.UnixMilli(),
	}, "")
}

func handleHeartbeat(r *Relay, c *conn, _ gjson.Result) {
	sess, _, ok := r.boundSession(c)
	if !ok {
		return
	}
	now := r.now()
	sess.Lock()
	sess.Touch(now)
	sess.Unlock()

	r.send(c.link, protocol.MsgSessionHeartbeat, protocol.HeartbeatPayload{Timestamp: now.UnixMilli()})
}

func peerFor(sess *session.Session, b *binding) *session.Peer {
	if b.role == session.RoleHost {
		if sess.Host != nil && sess.Host.ID == b.participantID {
			return sess.Host
		}
		return nil
	}
	return sess.Clients[b.participantID]
}

// peerSummaries lists the current client set for a resuming host. Caller
// holds the session lock.
func peerSummaries(sess *session.Session) []protocol.PeerSummary {
	out := make([]protocol.PeerSummary, 0, len(sess.Clients))
	for _, peer := range sess.Clients {
		out = append(out, protocol.PeerSummary{
			ParticipantID: peer.ID,
			Label:         peer.Label,
			Color:         peer.Color,
			LastLocation:  peer.LastLocation,
			Routes:        peer.Routes,
		})
	}
	return out
}

func stateSnapshot(sess *session.Session) *protocol.StateSnapshot {
	if sess.StateVersion == 0 {
		return nil
	}
	return &protocol.StateSnapshot{
		Version:    sess.StateVersion,
		Data:       sess.StateBlob,
		Compressed: true,
		Hash:       sess.StateHash,
		Size:       sess.StateSize,
	}
}

// intervalFromPayload coerces a cadence from intervalMs, falling back to
// seconds*1000.
func intervalFromPayload(p gjson.Result) (int, bool) {
	if ms := p.Get("intervalMs"); ms.Exists() {
		if f, ok := payload.FiniteNumber(ms); ok {
			return int(f), true
		}
		return 0, false
	}
	if secs := p.Get("seconds"); secs.Exists() {
		if f, ok := payload.FiniteNumber(secs); ok {
			return int(f * 1000), true
		}
	}
	return 0, false
}

func formatTrafficReport(s traffic.Summary) string {
	kb := func(n int64) float64 { return float64(n) / 1024 }
	text := fmt.Sprintf("Traffic total: %.1f KB (%.1f KB in / %.1f KB out).",
		kb(s.TotalBytes()), kb(s.TotalIn), kb(s.TotalOut))
	if s.Windowed {
		windowKB := kb(s.WindowBytes())
		text += fmt.Sprintf(" Last %ds: %.1f KB (%.2f KB/s)", s.WindowS, windowKB, windowKB/float64(s.WindowS))
	}
	return text
}
