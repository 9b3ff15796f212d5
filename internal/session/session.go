// Package session holds the relay's data model: one Session per live
// code, its host and client peers, and the process-global registry.
package session

import (
	"sync"
	"time"

	"github.com/Lack-Of-Name/CadNav/pkg/config"
)

// Session is the authoritative record for one code. All mutation happens
// under the session mutex; the dispatcher, the close pathway, and the
// supervisor loops all lock it, which serializes every event for a given
// session.
type Session struct {
	mu sync.Mutex

	Code string
	Host *Peer
	// Clients keyed by participant id.
	Clients map[string]*Peer

	// Cached host state snapshot. StateVersion increases strictly
	// monotonically whenever the blob is replaced.
	StateVersion uint64
	StateBlob    string
	StateHash    string
	StateSize    int

	IntervalMS  int
	ResumeToken string

	LastActivity time.Time
	// Zero while the host slot has a bound transport.
	HostDetachedAt time.Time

	colorCursor int
}

func New(code string, intervalMS int, resumeToken string, now time.Time) *Session {
	return &Session{
		Code:         code,
		Clients:      make(map[string]*Peer),
		IntervalMS:   config.ClampIntervalMS(intervalMS),
		ResumeToken:  resumeToken,
		LastActivity: now,
	}
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch records activity. LastActivity never moves backwards.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// NextColor advances the palette cursor and returns the color for the
// next client.
func (s *Session) NextColor() string {
	color := Palette[s.colorCursor%len(Palette)]
	s.colorCursor++
	return color
}

// AttachHost binds a transport to the host slot and clears the detach
// stamp.
func (s *Session) AttachHost(link Link, now time.Time) {
	s.Host.Link = link
	s.HostDetachedAt = time.Time{}
	s.Touch(now)
}

// DetachHost unbinds the host transport and stamps the detach time. The
// session stays alive for the resume grace.
func (s *Session) DetachHost(now time.Time) {
	s.Host.Link = nil
	s.HostDetachedAt = now
	s.Touch(now)
}

func (s *Session) HostAttached() bool {
	return s.Host != nil && s.Host.Link != nil
}

// SetState replaces the cached snapshot if the hash differs. Returns the
// new version and whether anything changed.
func (s *Session) SetState(blob, hash string) (uint64, bool) {
	if hash == s.StateHash {
		return s.StateVersion, false
	}
	s.StateBlob = blob
	s.StateHash = hash
	s.StateSize = len(blob)
	s.StateVersion++
	return s.StateVersion, true
}

// SetInterval clamps and stores a new cadence. Returns the effective
// value and whether it changed.
func (s *Session) SetInterval(ms int) (int, bool) {
	clamped := config.ClampIntervalMS(ms)
	if clamped == s.IntervalMS {
		return clamped, false
	}
	s.IntervalMS = clamped
	return clamped, true
}

// Interval returns the current cadence as a duration.
func (s *Session) Interval() time.Duration {
	return time.Duration(s.IntervalMS) * time.Millisecond
}
