package config

import (
	"fmt"
	"log/slog"

	"github.com/spf13/viper"
)

const (
	MinLocationIntervalMS = 5_000
	MaxLocationIntervalMS = 120_000
	MinTrafficWindowS     = 60
)

// Load reads configuration from an optional config file and the
// environment. Environment names are bound explicitly because the
// deployment contract predates this process and uses bare names
// (SERVER_PORT, SESSION_TTL_MS, ...) rather than a prefixed scheme.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.maxConnsPerIP", 32)
	v.SetDefault("session.codeLength", 6)
	v.SetDefault("session.locationIntervalMs", 10_000)
	v.SetDefault("session.maxClientRoutes", 8)
	v.SetDefault("session.maxRoutePoints", 80)
	v.SetDefault("session.trafficWindowS", 900)
	v.SetDefault("session.ttlMs", 6*60*60*1000)
	v.SetDefault("session.hostResumeGraceMs", 15*60*1000)
	v.SetDefault("transport.readTimeout", "75s")
	v.SetDefault("transport.readLimit", 1<<20)

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Bind recognized environment variables. SERVER_PORT wins over the
	// legacy MISSION_SERVER_PORT name.
	for key, names := range map[string][]string{
		"server.port":               {"SERVER_PORT", "MISSION_SERVER_PORT"},
		"session.codeLength":        {"SESSION_CODE_LENGTH"},
		"session.locationIntervalMs": {"LOCATION_INTERVAL_MS"},
		"session.maxClientRoutes":   {"MAX_CLIENT_ROUTES"},
		"session.maxRoutePoints":    {"MAX_ROUTE_POINTS"},
		"session.trafficWindowS":    {"TRAFFIC_WINDOW_S"},
		"session.ttlMs":             {"SESSION_TTL_MS"},
		"session.hostResumeGraceMs": {"HOST_RESUME_GRACE_MS"},
	} {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, err
		}
	}

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Server.Address = fmt.Sprintf(":%d", cfg.Server.Port)
	applyBounds(logger, &cfg)

	return &cfg, nil
}

// applyBounds enforces the runtime floors and clamps regardless of where
// a value came from.
func applyBounds(logger *slog.Logger, cfg *Config) {
	if cfg.Session.CodeLength < 4 {
		cfg.Session.CodeLength = 4
	}
	if clamped := ClampIntervalMS(cfg.Session.LocationIntervalMS); clamped != cfg.Session.LocationIntervalMS {
		logger.Warn("Location interval out of range, clamping",
			slog.Int("requested", cfg.Session.LocationIntervalMS),
			slog.Int("clamped", clamped),
		)
		cfg.Session.LocationIntervalMS = clamped
	}
	if cfg.Session.TrafficWindowS < MinTrafficWindowS {
		cfg.Session.TrafficWindowS = MinTrafficWindowS
	}
	if cfg.Session.MaxClientRoutes < 1 {
		cfg.Session.MaxClientRoutes = 1
	}
	if cfg.Session.MaxRoutePoints < 1 {
		cfg.Session.MaxRoutePoints = 1
	}
}

// ClampIntervalMS bounds a location cadence to the protocol range.
func ClampIntervalMS(ms int) int {
	if ms < MinLocationIntervalMS {
		return MinLocationIntervalMS
	}
	if ms > MaxLocationIntervalMS {
		return MaxLocationIntervalMS
	}
	return ms
}
