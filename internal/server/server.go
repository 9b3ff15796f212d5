package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Lack-Of-Name/CadNav/internal/relay"
	"github.com/Lack-Of-Name/CadNav/internal/server/middleware"
	"github.com/Lack-Of-Name/CadNav/pkg/config"
	"github.com/Lack-Of-Name/CadNav/pkg/traffic"
	"github.com/Lack-Of-Name/CadNav/pkg/transport"
)

type App struct {
	logger *slog.Logger
	relay  *relay.Relay
	wg     sync.WaitGroup
	http   *http.Server
	config *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	meter := traffic.NewMeter(cfg.Session.TrafficWindowS)
	rly := relay.New(logger, cfg, meter)

	app := &App{
		logger: logger,
		relay:  rly,
		config: cfg,
		ctx:    rootCtx,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewUpgradeLogger(app.logger, rly.ConnectionCountByIP),
			middleware.NewConnectionLimiter(logger, rly.ConnectionCountByIP, cfg.Server.MaxConnsPerIP),
		),
	)
	mux.HandleFunc("/health", app.healthHandler)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	a.relay.StartSupervisors(a.ctx)

	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	a.relay.Register(conn, reqMeta.IP)
	conn.SetOnMessageHandler(a.relay.HandleMessage)
	conn.SetOnCloseHandler(a.relay.HandleClose)

	connLogger.Debug("Transport accepted", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	a.relay.Shutdown()

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
