package protocol

import "github.com/Lack-Of-Name/CadNav/internal/payload"

// Inbound message types (peer → server).
const (
	MsgHostInit      = "host:init"
	MsgHostResume    = "host:resume"
	MsgHostState     = "host:state"
	MsgHostInterval  = "host:interval"
	MsgHostShutdown  = "host:shutdown"
	MsgClientJoin    = "client:join"
	MsgClientRoutes  = "client:routes"
	MsgLocation      = "participant:location"
	MsgChat          = "participant:message"
	MsgHeartbeat     = "participant:heartbeat"
)

// Outbound message types (server → peer).
const (
	MsgSessionReady      = "session:ready"
	MsgSessionPeerJoined = "session:peer-joined"
	MsgSessionPeerLeft   = "session:peer-left"
	MsgSessionLocation   = "session:location"
	MsgSessionPeerRoutes = "session:peer-routes"
	MsgSessionState      = "session:state"
	MsgSessionInterval   = "session:interval"
	MsgSessionHostStatus = "session:host-status"
	MsgSessionHeartbeat  = "session:heartbeat"
	MsgSessionMessage    = "session:message"
	MsgSessionEnded      = "session:ended"
	MsgSessionError      = "session:error"
)

// Roles carried in session:ready and chat frames.
const (
	RoleHost   = "host"
	RoleClient = "client"
	RoleSystem = "system"
)

// SystemParticipantID is the pseudo-sender of server-originated chat.
const SystemParticipantID = "server"

// PeerSummary describes a peer to the resuming host.
type PeerSummary struct {
	ParticipantID string               `json:"participantId"`
	Label         string               `json:"label"`
	Color         string               `json:"color"`
	LastLocation  *payload.LocationFix `json:"lastLocation,omitempty"`
	Routes        []payload.Route      `json:"routes,omitempty"`
}

// StateSnapshot is the cached host state as shipped to the host.
type StateSnapshot struct {
	Version    uint64 `json:"version"`
	Data       string `json:"data"`
	Compressed bool   `json:"compressed"`
	Hash       string `json:"hash"`
	Size       int    `json:"size"`
}

type ReadyPayload struct {
	SessionID     string         `json:"sessionId"`
	Role          string         `json:"role"`
	ParticipantID string         `json:"participantId"`
	Label         string         `json:"label"`
	Color         string         `json:"color"`
	Peers         []PeerSummary  `json:"peers"`
	State         *StateSnapshot `json:"state"`
	IntervalMS    int            `json:"intervalMs"`
	ResumeToken   string         `json:"resumeToken,omitempty"`
}

type PeerJoinedPayload struct {
	ParticipantID string `json:"participantId"`
	Label         string `json:"label"`
	Color         string `json:"color"`
}

type PeerLeftPayload struct {
	ParticipantID string `json:"participantId"`
}

type LocationPayload struct {
	ParticipantID string              `json:"participantId"`
	Location      payload.LocationFix `json:"location"`
}

type PeerRoutesPayload struct {
	ParticipantID string          `json:"participantId"`
	Routes        []payload.Route `json:"routes"`
}

type IntervalPayload struct {
	IntervalMS int `json:"intervalMs"`
}

type HostStatusPayload struct {
	Online    bool   `json:"online"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type ChatPayload struct {
	ParticipantID string `json:"participantId"`
	Text          string `json:"text"`
	Role          string `json:"role"`
	Timestamp     int64  `json:"timestamp"`
}

type EndedPayload struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
