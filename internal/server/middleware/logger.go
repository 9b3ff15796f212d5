package middleware

import (
	"log/slog"
	"net/http"
)

// NewUpgradeLogger creates a middleware that logs each inbound transport
// request together with how many live transports the address already
// holds, which is the count the limiter downstream judges it by.
func NewUpgradeLogger(logger *slog.Logger, counter IPConnectionCounter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ip string
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip = reqMeta.IP
			}

			logger.Info("Inbound transport request",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
				slog.Int("activeConns", counter(ip)),
			)
			next.ServeHTTP(w, r)
		})
	}
}
