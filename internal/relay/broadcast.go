package relay

import (
	"log/slog"

	"github.com/Lack-Of-Name/CadNav/internal/protocol"
	"github.com/Lack-Of-Name/CadNav/internal/session"
	"github.com/Lack-Of-Name/CadNav/pkg/traffic"
)

// send serializes one frame to one link. Closed transports make it a
// no-op; there is no queueing and no retry. Byte accounting is charged
// on frames the transport accepted.
func (r *Relay) send(link session.Link, msgType string, pl any) bool {
	if link == nil || !link.Open() {
		return false
	}
	frame, err := protocol.Encode(msgType, pl)
	if err != nil {
		r.logger.Error("Failed to encode outbound frame",
			slog.String("type", msgType), slog.Any("error", err))
		return false
	}
	if !link.Send(frame) {
		return false
	}
	r.meter.Record(traffic.Out, len(frame))
	return true
}

func (r *Relay) sendError(link session.Link, message string) {
	r.send(link, protocol.MsgSessionError, protocol.ErrorPayload{Message: message})
}

// The three directed fan-outs. Callers hold the session lock.

func (r *Relay) sendToHost(sess *session.Session, msgType string, pl any) {
	if sess.Host == nil {
		return
	}
	r.send(sess.Host.Link, msgType, pl)
}

func (r *Relay) sendToClients(sess *session.Session, msgType string, pl any, exclude string) {
	for id, peer := range sess.Clients {
		if id == exclude {
			continue
		}
		r.send(peer.Link, msgType, pl)
	}
}

func (r *Relay) sendToAll(sess *session.Session, msgType string, pl any, exclude string) {
	if sess.Host != nil && sess.Host.ID != exclude {
		r.send(sess.Host.Link, msgType, pl)
	}
	r.sendToClients(sess, msgType, pl, exclude)
}
