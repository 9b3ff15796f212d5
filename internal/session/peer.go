package session

import (
	"time"

	"github.com/Lack-Of-Name/CadNav/internal/payload"
)

type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// HostLabel is the fixed display label of every session's host.
const HostLabel = "HQ"

// HostColor is the host's fixed color; clients draw from Palette.
const HostColor = "#1d4ed8"

// Palette is the 10-entry client color cycle.
var Palette = [...]string{
	"#ef4444", "#f97316", "#eab308", "#22c55e", "#14b8a6",
	"#3b82f6", "#8b5cf6", "#ec4899", "#f43f5e", "#84cc16",
}

// Peer is one participant of a session. A nil Link means the peer is
// detached (only ever true for hosts; clients are removed on disconnect).
type Peer struct {
	ID    string
	Label string
	Color string
	Role  Role
	Link  Link

	LastLocation   *payload.LocationFix
	LastLocationAt time.Time

	// Client route uploads and their dedup hash. The hash corresponds
	// byte-for-byte to the current Routes value.
	Routes    []payload.Route
	RouteHash string
}

func NewHostPeer(id string, link Link) *Peer {
	return &Peer{
		ID:    id,
		Label: HostLabel,
		Color: HostColor,
		Role:  RoleHost,
		Link:  link,
	}
}

func NewClientPeer(id, label, color string, link Link) *Peer {
	return &Peer{
		ID:    id,
		Label: label,
		Color: color,
		Role:  RoleClient,
		Link:  link,
	}
}
