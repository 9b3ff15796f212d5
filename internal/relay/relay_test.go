package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	lzstring "github.com/daku10/go-lz-string"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/Lack-Of-Name/CadNav/internal/protocol"
	"github.com/Lack-Of-Name/CadNav/pkg/config"
	"github.com/Lack-Of-Name/CadNav/pkg/traffic"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeLink struct {
	id uuid.UUID

	mu         sync.Mutex
	frames     [][]byte
	open       bool
	closeCode  int
	closeRzn   string
	pingErr    error
}

func newFakeLink() *fakeLink {
	return &fakeLink{id: uuid.New(), open: true}
}

func (f *fakeLink) ID() uuid.UUID { return f.id }

func (f *fakeLink) Send(message []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return false
	}
	f.frames = append(f.frames, message)
	return true
}

func (f *fakeLink) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeLink) Ping(context.Context) error { return f.pingErr }

func (f *fakeLink) CloseWith(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closeCode = code
	f.closeRzn = reason
}

// framesOfType returns the decoded payloads of every frame of one type.
func (f *fakeLink) framesOfType(t *testing.T, msgType string) []gjson.Result {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gjson.Result
	for _, raw := range f.frames {
		env := gjson.ParseBytes(raw)
		if env.Get("type").String() == msgType {
			out = append(out, env.Get("payload"))
		}
	}
	return out
}

func (f *fakeLink) lastOfType(t *testing.T, msgType string) gjson.Result {
	t.Helper()
	frames := f.framesOfType(t, msgType)
	if len(frames) == 0 {
		t.Fatalf("expected a %s frame, got none (have %s)", msgType, f.typeList())
	}
	return frames[len(frames)-1]
}

func (f *fakeLink) typeList() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, raw := range f.frames {
		types = append(types, gjson.ParseBytes(raw).Get("type").String())
	}
	return strings.Join(types, ",")
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		Session: config.SessionConfig{
			CodeLength:         6,
			LocationIntervalMS: 10_000,
			MaxClientRoutes:    8,
			MaxRoutePoints:     80,
			TrafficWindowS:     900,
			TTLMS:              6 * 60 * 60 * 1000,
			HostResumeGraceMS:  15 * 60 * 1000,
		},
	}
}

func newTestRelay() (*Relay, *fakeClock) {
	RegisterCoreHandlers()
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	r := New(newTestLogger(), testConfig(), traffic.NewMeter(900))
	r.now = clock.Now
	return r, clock
}

func dispatch(r *Relay, link *fakeLink, frame string) {
	r.HandleMessage(context.Background(), link.ID(), []byte(frame))
}

// initHost runs host:init on a fresh link and returns the link plus the
// session:ready payload.
func initHost(t *testing.T, r *Relay) (*fakeLink, gjson.Result) {
	t.Helper()
	link := newFakeLink()
	r.Register(link, "10.0.0.1")
	dispatch(r, link, `{"type":"host:init"}`)
	return link, link.lastOfType(t, protocol.MsgSessionReady)
}

func joinClient(t *testing.T, r *Relay, code string) (*fakeLink, gjson.Result) {
	t.Helper()
	link := newFakeLink()
	r.Register(link, "10.0.0.2")
	dispatch(r, link, fmt.Sprintf(`{"type":"client:join","payload":{"sessionId":%q}}`, code))
	return link, link.lastOfType(t, protocol.MsgSessionReady)
}

// --- Session establishment ---

func TestHostInitCreatesSession(t *testing.T) {
	r, _ := newTestRelay()
	_, ready := initHost(t, r)

	code := ready.Get("sessionId").String()
	if len(code) != 6 || code != strings.ToUpper(code) {
		t.Errorf("expected a 6-char uppercase code, got %q", code)
	}
	if ready.Get("role").String() != "host" {
		t.Errorf("expected role host, got %q", ready.Get("role").String())
	}
	if ready.Get("participantId").String() == "" {
		t.Error("expected a participantId")
	}
	if len(ready.Get("resumeToken").String()) != 48 {
		t.Errorf("expected a 48-char resume token, got %q", ready.Get("resumeToken").String())
	}
	if ready.Get("intervalMs").Int() != 10_000 {
		t.Errorf("expected intervalMs 10000, got %d", ready.Get("intervalMs").Int())
	}
	if !ready.Get("peers").IsArray() || len(ready.Get("peers").Array()) != 0 {
		t.Errorf("expected empty peers, got %s", ready.Get("peers").Raw)
	}
	if ready.Get("state").Type != gjson.Null {
		t.Errorf("expected null state, got %s", ready.Get("state").Raw)
	}
	if r.SessionCount() != 1 {
		t.Errorf("expected 1 live session, got %d", r.SessionCount())
	}
}

func TestHostInitWhileBoundErrors(t *testing.T) {
	r, _ := newTestRelay()
	host, _ := initHost(t, r)
	dispatch(r, host, `{"type":"host:init"}`)
	host.lastOfType(t, protocol.MsgSessionError)
	if r.SessionCount() != 1 {
		t.Errorf("second init must not create a session, have %d", r.SessionCount())
	}
}

func TestClientJoinNormalizesCode(t *testing.T) {
	r, _ := newTestRelay()
	host, hostReady := initHost(t, r)
	code := hostReady.Get("sessionId").String()

	client, ready := joinClient(t, r, " "+strings.ToLower(code)+" ")
	if ready.Get("role").String() != "client" {
		t.Fatalf("expected role client, got %q", ready.Get("role").String())
	}
	if ready.Get("sessionId").String() != code {
		t.Errorf("expected canonical code %q, got %q", code, ready.Get("sessionId").String())
	}
	if ready.Get("resumeToken").Exists() {
		t.Error("clients must not receive a resume token")
	}
	if ready.Get("state").Type != gjson.Null {
		t.Error("client session:ready must carry null state")
	}

	joined := host.lastOfType(t, protocol.MsgSessionPeerJoined)
	if joined.Get("participantId").String() != ready.Get("participantId").String() {
		t.Error("host peer-joined must name the new participant")
	}
	if joined.Get("color").String() == "" || joined.Get("label").String() == "" {
		t.Error("peer-joined must carry label and color")
	}
	if frames := client.framesOfType(t, protocol.MsgSessionPeerJoined); len(frames) != 0 {
		t.Error("the joining client must not see its own peer-joined")
	}
}

func TestClientJoinUnknownSession(t *testing.T) {
	r, _ := newTestRelay()
	link := newFakeLink()
	r.Register(link, "10.0.0.2")
	dispatch(r, link, `{"type":"client:join","payload":{"sessionId":"ZZZZZZ"}}`)
	if msg := link.lastOfType(t, protocol.MsgSessionError).Get("message").String(); msg != "Session not found." {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestClientJoinMissingCode(t *testing.T) {
	r, _ := newTestRelay()
	link := newFakeLink()
	r.Register(link, "10.0.0.2")
	dispatch(r, link, `{"type":"client:join","payload":{}}`)
	if msg := link.lastOfType(t, protocol.MsgSessionError).Get("message").String(); msg != "Missing session code." {
		t.Errorf("unexpected error message %q", msg)
	}
}

// --- Location relay & throttling ---

func TestLocationThrottle(t *testing.T) {
	r, clock := newTestRelay()
	host, hostReady := initHost(t, r)
	client, _ := joinClient(t, r, hostReady.Get("sessionId").String())

	fix := `{"type":"participant:location","payload":{"lat":51.5,"lng":-0.12}}`
	dispatch(r, client, fix)
	clock.Advance(2 * time.Second)
	dispatch(r, client, fix)

	if got := len(host.framesOfType(t, protocol.MsgSessionLocation)); got != 1 {
		t.Fatalf("expected exactly 1 relayed location, got %d", got)
	}

	clock.Advance(9 * time.Second) // 11s since the accepted fix
	dispatch(r, client, fix)
	if got := len(host.framesOfType(t, protocol.MsgSessionLocation)); got != 2 {
		t.Errorf("expected the post-interval fix to be relayed, got %d", got)
	}
}

func TestLocationInvalidIsSilent(t *testing.T) {
	r, _ := newTestRelay()
	host, hostReady := initHost(t, r)
	client, _ := joinClient(t, r, hostReady.Get("sessionId").String())

	dispatch(r, client, `{"type":"participant:location","payload":{"lat":"north","lng":-0.12}}`)
	if got := len(host.framesOfType(t, protocol.MsgSessionLocation)); got != 0 {
		t.Errorf("invalid fix must not be relayed, got %d", got)
	}
	if got := len(client.framesOfType(t, protocol.MsgSessionError)); got != 0 {
		t.Errorf("invalid fix must be dropped silently, got %d errors", got)
	}
}

func TestLocationWithoutSession(t *testing.T) {
	r, _ := newTestRelay()
	link := newFakeLink()
	r.Register(link, "10.0.0.2")
	dispatch(r, link, `{"type":"participant:location","payload":{"lat":1,"lng":2}}`)
	if msg := link.lastOfType(t, protocol.MsgSessionError).Get("message").String(); msg != "Not joined to a session." {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestHostLocationNotRelayedToClients(t *testing.T) {
	r, _ := newTestRelay()
	host, hostReady := initHost(t, r)
	client, _ := joinClient(t, r, hostReady.Get("sessionId").String())

	dispatch(r, host, `{"type":"participant:location","payload":{"lat":1,"lng":2}}`)
	if got := len(client.framesOfType(t, protocol.MsgSessionLocation)); got != 0 {
		t.Errorf("host fixes must not fan out, got %d", got)
	}
}

// --- Cadence changes ---

func TestIntervalSecondsCoercionAndBroadcast(t *testing.T) {
	r, clock := newTestRelay()
	host, hostReady := initHost(t, r)
	client, _ := joinClient(t, r, hostReady.Get("sessionId").String())

	dispatch(r, host, `{"type":"host:interval","payload":{"seconds":20}}`)
	for _, link := range []*fakeLink{host, client} {
		if got := link.lastOfType(t, protocol.MsgSessionInterval).Get("intervalMs").Int(); got != 20_000 {
			t.Errorf("expected intervalMs 20000, got %d", got)
		}
	}

	// The new cadence gates the next evaluation.
	fix := `{"type":"participant:location","payload":{"lat":1,"lng":2}}`
	dispatch(r, client, fix)
	clock.Advance(15 * time.Second)
	dispatch(r, client, fix)
	if got := len(host.framesOfType(t, protocol.MsgSessionLocation)); got != 1 {
		t.Fatalf("fix inside the widened interval must be dropped, got %d", got)
	}
	clock.Advance(6 * time.Second) // 21s since accept
	dispatch(r, client, fix)
	if got := len(host.framesOfType(t, protocol.MsgSessionLocation)); got != 2 {
		t.Errorf("fix past the widened interval must be relayed, got %d", got)
	}
}

func TestIntervalClampBoundaries(t *testing.T) {
	r, _ := newTestRelay()
	host, _ := initHost(t, r)

	dispatch(r, host, `{"type":"host:interval","payload":{"intervalMs":4000}}`)
	if got := host.lastOfType(t, protocol.MsgSessionInterval).Get("intervalMs").Int(); got != 5_000 {
		t.Errorf("expected clamp to 5000, got %d", got)
	}
	dispatch(r, host, `{"type":"host:interval","payload":{"intervalMs":125000}}`)
	if got := host.lastOfType(t, protocol.MsgSessionInterval).Get("intervalMs").Int(); got != 120_000 {
		t.Errorf("expected clamp to 120000, got %d", got)
	}
	dispatch(r, host, `{"type":"host:interval","payload":{"intervalMs":"soonish"}}`)
	if msg := host.lastOfType(t, protocol.MsgSessionError).Get("message").String(); msg != "Invalid interval." {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestIntervalUnchangedIsNoOp(t *testing.T) {
	r, _ := newTestRelay()
	host, _ := initHost(t, r)
	dispatch(r, host, `{"type":"host:interval","payload":{"intervalMs":10000}}`)
	if got := len(host.framesOfType(t, protocol.MsgSessionInterval)); got != 0 {
		t.Errorf("unchanged interval must not broadcast, got %d", got)
	}
}

func TestIntervalFromClientRejected(t *testing.T) {
	r, _ := newTestRelay()
	_, hostReady := initHost(t, r)
	client, _ := joinClient(t, r, hostReady.Get("sessionId").String())
	dispatch(r, client, `{"type":"host:interval","payload":{"intervalMs":30000}}`)
	client.lastOfType(t, protocol.MsgSessionError)
}

// --- Host state snapshots ---

func compressState(t *testing.T, doc string) string {
	t.Helper()
	blob, err := lzstring.CompressToBase64(doc)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	return blob
}

func TestHostStateDedup(t *testing.T) {
	r, _ := newTestRelay()
	host, _ := initHost(t, r)

	b1 := compressState(t, `{"mission":"alpha"}`)
	dispatch(r, host, fmt.Sprintf(`{"type":"host:state","payload":{"data":%q}}`, b1))
	first := host.lastOfType(t, protocol.MsgSessionState)
	if first.Get("version").Int() != 1 {
		t.Fatalf("expected version 1, got %d", first.Get("version").Int())
	}
	if !first.Get("compressed").Bool() || first.Get("hash").String() == "" {
		t.Error("state frame must carry compressed flag and hash")
	}
	if first.Get("size").Int() != int64(len(b1)) {
		t.Errorf("expected size %d, got %d", len(b1), first.Get("size").Int())
	}

	dispatch(r, host, fmt.Sprintf(`{"type":"host:state","payload":{"data":%q}}`, b1))
	if got := len(host.framesOfType(t, protocol.MsgSessionState)); got != 1 {
		t.Fatalf("identical blob must not re-emit, got %d state frames", got)
	}

	b2 := compressState(t, `{"mission":"bravo"}`)
	dispatch(r, host, fmt.Sprintf(`{"type":"host:state","payload":{"data":%q}}`, b2))
	if got := host.lastOfType(t, protocol.MsgSessionState).Get("version").Int(); got != 2 {
		t.Errorf("expected version 2 after new blob, got %d", got)
	}
}

func TestHostStateRejectsBadPayloads(t *testing.T) {
	r, _ := newTestRelay()
	host, _ := initHost(t, r)

	dispatch(r, host, `{"type":"host:state","payload":{}}`)
	if msg := host.lastOfType(t, protocol.MsgSessionError).Get("message").String(); msg != "Empty state payload." {
		t.Errorf("unexpected error %q", msg)
	}
	dispatch(r, host, `{"type":"host:state","payload":{"data":"not-compressed"}}`)
	if msg := host.lastOfType(t, protocol.MsgSessionError).Get("message").String(); msg != "State payload could not be decoded." {
		t.Errorf("unexpected error %q", msg)
	}
	if got := len(host.framesOfType(t, protocol.MsgSessionState)); got != 0 {
		t.Errorf("bad payloads must not produce state frames, got %d", got)
	}
}

func TestHostStateFromClientRejected(t *testing.T) {
	r, _ := newTestRelay()
	_, hostReady := initHost(t, r)
	client, _ := joinClient(t, r, hostReady.Get("sessionId").String())
	dispatch(r, client, fmt.Sprintf(`{"type":"host:state","payload":{"data":%q}}`, compressState(t, `{}`)))
	client.lastOfType(t, protocol.MsgSessionError)
}

// --- Client routes ---

func TestClientRoutesRelayAndDedup(t *testing.T) {
	r, _ := newTestRelay()
	host, hostReady := initHost(t, r)
	client, clientReady := joinClient(t, r, hostReady.Get("sessionId").String())

	upload := `{"type":"client:routes","payload":{"routes":[{"id":"r1","name":"patrol","items":[{"id":"a","position":{"lat":1,"lng":2}}]}]}}`
	dispatch(r, client, upload)
	relayed := host.lastOfType(t, protocol.MsgSessionPeerRoutes)
	if relayed.Get("participantId").String() != clientReady.Get("participantId").String() {
		t.Error("peer-routes must name the uploading client")
	}
	if len(relayed.Get("routes").Array()) != 1 {
		t.Fatalf("expected 1 route, got %s", relayed.Get("routes").Raw)
	}

	dispatch(r, client, upload)
	if got := len(host.framesOfType(t, protocol.MsgSessionPeerRoutes)); got != 1 {
		t.Errorf("identical upload must dedupe, got %d frames", got)
	}
}

func TestClientRoutesNonListRejected(t *testing.T) {
	r, _ := newTestRelay()
	_, hostReady := initHost(t, r)
	client, _ := joinClient(t, r, hostReady.Get("sessionId").String())
	dispatch(r, client, `{"type":"client:routes","payload":{"routes":{"id":"r1"}}}`)
	if msg := client.lastOfType(t, protocol.MsgSessionError).Get("message").String(); msg != "Invalid routes payload." {
		t.Errorf("unexpected error %q", msg)
	}
}

func TestClientRoutesFromHostRejected(t *testing.T) {
	r, _ := newTestRelay()
	host, _ := initHost(t, r)
	dispatch(r, host, `{"type":"client:routes","payload":{"routes":[]}}`)
	host.lastOfType(t, protocol.MsgSessionError)
}

// --- Chat & diagnostics ---

func TestChatBroadcast(t *testing.T) {
	r, _ := newTestRelay()
	host, hostReady := initHost(t, r)
	code := hostReady.Get("sessionId").String()
	c1, c1Ready := joinClient(t, r, code)
	c2, _ := joinClient(t, r, code)

	dispatch(r, c1, `{"type":"participant:message","payload":{"text":"  on my way  "}}`)
	for _, link := range []*fakeLink{host, c1, c2} {
		msg := link.lastOfType(t, protocol.MsgSessionMessage)
		if msg.Get("text").String() != "on my way" {
			t.Errorf("expected trimmed text, got %q", msg.Get("text").String())
		}
		if msg.Get("role").String() != "client" {
			t.Errorf("expected role client, got %q", msg.Get("role").String())
		}
		if msg.Get("participantId").String() != c1Ready.Get("participantId").String() {
			t.Error("chat must carry the sender's participantId")
		}
	}
}

func TestEmptyChatIgnored(t *testing.T) {
	r, _ := newTestRelay()
	host, _ := initHost(t, r)
	dispatch(r, host, `{"type":"participant:message","payload":{"text":"   "}}`)
	if got := len(host.framesOfType(t, protocol.MsgSessionMessage)); got != 0 {
		t.Errorf("blank chat must be ignored, got %d frames", got)
	}
}

func TestDataCommandAnswersRequesterOnly(t *testing.T) {
	r, _ := newTestRelay()
	host, hostReady := initHost(t, r)
	client, _ := joinClient(t, r, hostReady.Get("sessionId").String())
	hostChatBefore := len(host.framesOfType(t, protocol.MsgSessionMessage))

	dispatch(r, client, `{"type":"participant:message","payload":{"text":"/data 60"}}`)

	report := client.lastOfType(t, protocol.MsgSessionMessage)
	if report.Get("participantId").String() != "server" || report.Get("role").String() != "system" {
		t.Errorf("expected a system report, got %s", report.Raw)
	}
	text := report.Get("text").String()
	if !strings.Contains(text, "Traffic total:") || !strings.Contains(text, "Last 60s:") || !strings.Contains(text, "KB/s") {
		t.Errorf("unexpected report text %q", text)
	}
	if got := len(host.framesOfType(t, protocol.MsgSessionMessage)); got != hostChatBefore {
		t.Error("/data must not reach other peers")
	}
}

func TestDataCommandWindowCapped(t *testing.T) {
	r, _ := newTestRelay()
	host, _ := initHost(t, r)
	dispatch(r, host, `{"type":"participant:message","payload":{"text":"/data 99999"}}`)
	text := host.lastOfType(t, protocol.MsgSessionMessage).Get("text").String()
	if !strings.Contains(text, "Last 900s:") {
		t.Errorf("expected the window capped at 900s, got %q", text)
	}
}

func TestDataCommandTotalsOnly(t *testing.T) {
	r, _ := newTestRelay()
	host, _ := initHost(t, r)
	dispatch(r, host, `{"type":"participant:message","payload":{"text":"/data"}}`)
	text := host.lastOfType(t, protocol.MsgSessionMessage).Get("text").String()
	if strings.Contains(text, "Last") {
		t.Errorf("totals-only report must not include a window, got %q", text)
	}
}

// --- Heartbeat, errors, unknown types ---

func TestHeartbeatEcho(t *testing.T) {
	r, clock := newTestRelay()
	host, _ := initHost(t, r)
	clock.Advance(time.Minute)
	dispatch(r, host, `{"type":"participant:heartbeat"}`)
	hb := host.lastOfType(t, protocol.MsgSessionHeartbeat)
	if hb.Get("timestamp").Int() != clock.Now().UnixMilli() {
		t.Errorf("heartbeat must echo the server clock, got %d", hb.Get("timestamp").Int())
	}
}

func TestUnknownTypeSingleError(t *testing.T) {
	r, _ := newTestRelay()
	host, _ := initHost(t, r)
	before := len(host.frames)
	dispatch(r, host, `{"type":"participant:leave"}`)
	if msg := host.lastOfType(t, protocol.MsgSessionError).Get("message").String(); msg != "Unknown message type: participant:leave" {
		t.Errorf("unexpected error %q", msg)
	}
	if len(host.frames) != before+1 {
		t.Errorf("unknown type must emit exactly one frame, got %d", len(host.frames)-before)
	}
}

func TestInvalidJSONError(t *testing.T) {
	r, _ := newTestRelay()
	link := newFakeLink()
	r.Register(link, "10.0.0.2")
	dispatch(r, link, `{not json`)
	if msg := link.lastOfType(t, protocol.MsgSessionError).Get("message").String(); msg != "Invalid JSON payload." {
		t.Errorf("unexpected error %q", msg)
	}
}

// --- Detach, resume, termination ---

func TestHostDetachAndResume(t *testing.T) {
	r, clock := newTestRelay()
	host, hostReady := initHost(t, r)
	code := hostReady.Get("sessionId").String()
	token := hostReady.Get("resumeToken").String()
	client, _ := joinClient(t, r, code)

	blob := compressState(t, `{"mission":"alpha"}`)
	dispatch(r, host, fmt.Sprintf(`{"type":"host:state","payload":{"data":%q}}`, blob))

	// Host transport drops.
	r.HandleClose(host.ID(), errors.New("connection reset"))
	status := client.lastOfType(t, protocol.MsgSessionHostStatus)
	if status.Get("online").Bool() || status.Get("reason").String() != "host-disconnected" {
		t.Fatalf("expected offline host-status, got %s", status.Raw)
	}
	if r.SessionCount() != 1 {
		t.Fatal("detach must not terminate the session")
	}

	// Resume within the grace window on a fresh transport.
	clock.Advance(5 * time.Minute)
	resumed := newFakeLink()
	r.Register(resumed, "10.0.0.3")
	dispatch(r, resumed, fmt.Sprintf(`{"type":"host:resume","payload":{"sessionId":%q,"resumeToken":%q}}`, strings.ToLower(code), token))

	ready := resumed.lastOfType(t, protocol.MsgSessionReady)
	if ready.Get("state.data").String() != blob {
		t.Error("resume must carry the cached snapshot unchanged")
	}
	if ready.Get("state.version").Int() != 1 {
		t.Errorf("expected cached version 1, got %d", ready.Get("state.version").Int())
	}
	if len(ready.Get("peers").Array()) != 1 {
		t.Errorf("resume must list the current peer set, got %s", ready.Get("peers").Raw)
	}
	newToken := ready.Get("resumeToken").String()
	if newToken == token || len(newToken) != 48 {
		t.Error("resume must rotate the token")
	}

	online := client.lastOfType(t, protocol.MsgSessionHostStatus)
	if !online.Get("online").Bool() || online.Get("reason").String() != "host-resumed" {
		t.Errorf("expected online host-status, got %s", online.Raw)
	}

	// The old token is spent.
	stale := newFakeLink()
	r.Register(stale, "10.0.0.4")
	r.HandleClose(resumed.ID(), errors.New("gone again"))
	dispatch(r, stale, fmt.Sprintf(`{"type":"host:resume","payload":{"sessionId":%q,"resumeToken":%q}}`, code, token))
	if msg := stale.lastOfType(t, protocol.MsgSessionError).Get("message").String(); msg != "Invalid resume token." {
		t.Errorf("unexpected error %q", msg)
	}
}

func TestResumeWhileHostConnected(t *testing.T) {
	r, _ := newTestRelay()
	_, hostReady := initHost(t, r)
	code := hostReady.Get("sessionId").String()
	token := hostReady.Get("resumeToken").String()

	intruder := newFakeLink()
	r.Register(intruder, "10.0.0.9")
	dispatch(r, intruder, fmt.Sprintf(`{"type":"host:resume","payload":{"sessionId":%q,"resumeToken":%q}}`, code, token))
	if msg := intruder.lastOfType(t, protocol.MsgSessionError).Get("message").String(); msg != "Host already connected." {
		t.Errorf("unexpected error %q", msg)
	}
}

func TestClientDropNotifiesHost(t *testing.T) {
	r, _ := newTestRelay()
	host, hostReady := initHost(t, r)
	client, clientReady := joinClient(t, r, hostReady.Get("sessionId").String())

	r.HandleClose(client.ID(), errors.New("gone"))
	left := host.lastOfType(t, protocol.MsgSessionPeerLeft)
	if left.Get("participantId").String() != clientReady.Get("participantId").String() {
		t.Error("peer-left must name the departed client")
	}
}

func TestHostShutdownTerminates(t *testing.T) {
	r, _ := newTestRelay()
	host, hostReady := initHost(t, r)
	client, _ := joinClient(t, r, hostReady.Get("sessionId").String())

	dispatch(r, host, `{"type":"host:shutdown"}`)

	for _, link := range []*fakeLink{host, client} {
		ended := link.lastOfType(t, protocol.MsgSessionEnded)
		if ended.Get("reason").String() != "host-ended" {
			t.Errorf("expected reason host-ended, got %q", ended.Get("reason").String())
		}
	}
	if client.closeCode != 1012 {
		t.Errorf("expected client close code 1012, got %d", client.closeCode)
	}
	if host.closeCode != 1001 {
		t.Errorf("expected host close code 1001, got %d", host.closeCode)
	}
	if r.SessionCount() != 0 {
		t.Errorf("expected the session gone, have %d", r.SessionCount())
	}
}

func TestHostShutdownFromClientRejected(t *testing.T) {
	r, _ := newTestRelay()
	_, hostReady := initHost(t, r)
	client, _ := joinClient(t, r, hostReady.Get("sessionId").String())
	dispatch(r, client, `{"type":"host:shutdown"}`)
	client.lastOfType(t, protocol.MsgSessionError)
	if r.SessionCount() != 1 {
		t.Error("client must not be able to terminate the session")
	}
}

// --- Expiry sweeps ---

func TestSweepTerminatesDetachedHostAfterGrace(t *testing.T) {
	r, clock := newTestRelay()
	host, hostReady := initHost(t, r)
	client, _ := joinClient(t, r, hostReady.Get("sessionId").String())

	r.HandleClose(host.ID(), errors.New("gone"))
	clock.Advance(16 * time.Minute)
	r.sweepSessions()

	if r.SessionCount() != 0 {
		t.Fatal("expected session terminated after the resume grace")
	}
	if got := client.lastOfType(t, protocol.MsgSessionEnded).Get("reason").String(); got != "host-timeout" {
		t.Errorf("expected reason host-timeout, got %q", got)
	}
}

func TestSweepKeepsDetachedHostWithinGrace(t *testing.T) {
	r, clock := newTestRelay()
	host, _ := initHost(t, r)
	r.HandleClose(host.ID(), errors.New("gone"))
	clock.Advance(5 * time.Minute)
	r.sweepSessions()
	if r.SessionCount() != 1 {
		t.Error("session must survive within the resume grace")
	}
}

func TestSweepTerminatesIdleSession(t *testing.T) {
	r, clock := newTestRelay()
	host, _ := initHost(t, r)

	clock.Advance(7 * time.Hour)
	r.sweepSessions()
	if r.SessionCount() != 0 {
		t.Fatal("expected idle session expired")
	}
	if got := host.lastOfType(t, protocol.MsgSessionEnded).Get("reason").String(); got != "session-expired" {
		t.Errorf("expected reason session-expired, got %q", got)
	}
}

func TestHeartbeatDefersExpiry(t *testing.T) {
	r, clock := newTestRelay()
	host, _ := initHost(t, r)

	clock.Advance(5 * time.Hour)
	dispatch(r, host, `{"type":"participant:heartbeat"}`)
	clock.Advance(5 * time.Hour)
	r.sweepSessions()
	if r.SessionCount() != 1 {
		t.Error("heartbeat must defer the idle TTL")
	}
}
