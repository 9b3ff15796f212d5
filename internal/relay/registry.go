package relay

import (
	"fmt"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/Lack-Of-Name/CadNav/internal/protocol"
)

// HandlerFunc is one command of the wire protocol, keyed on the frame's
// type tag.
type HandlerFunc func(r *Relay, c *conn, payload gjson.Result)

var (
	handlerRegistry = make(map[string]HandlerFunc)
	handlerMu       sync.RWMutex
	coreOnce        sync.Once
)

func registerHandler(name string, fn HandlerFunc) {
	handlerMu.Lock()
	defer handlerMu.Unlock()
	if _, exists := handlerRegistry[name]; exists {
		panic(fmt.Sprintf("handler already registered: %s", name))
	}
	handlerRegistry[name] = fn
}

func getHandler(name string) (HandlerFunc, bool) {
	handlerMu.RLock()
	defer handlerMu.RUnlock()
	fn, ok := handlerRegistry[name]
	return fn, ok
}

// RegisterCoreHandlers populates the command table. Called once from
// main (and from tests); later calls are no-ops.
func RegisterCoreHandlers() {
	coreOnce.Do(func() {
		registerHandler(protocol.MsgHostInit, handleHostInit)
		registerHandler(protocol.MsgHostResume, handleHostResume)
		registerHandler(protocol.MsgHostState, handleHostState)
		registerHandler(protocol.MsgHostInterval, handleHostInterval)
		registerHandler(protocol.MsgHostShutdown, handleHostShutdown)
		registerHandler(protocol.MsgClientJoin, handleClientJoin)
		registerHandler(protocol.MsgClientRoutes, handleClientRoutes)
		registerHandler(protocol.MsgLocation, handleLocation)
		registerHandler(protocol.MsgChat, handleChat)
		registerHandler(protocol.MsgHeartbeat, handleHeartbeat)
	})
}
