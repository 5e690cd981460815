// Package server provides the public entry point for initializing the
// TapCanvas AI engine server.
//
// This package exists in pkg/ (not internal/) so that hosting shells can
// import it and compose the full engine with their own middleware:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8090", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/api"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/api/handlers"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/assist"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/bridge"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/capability"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/config"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/credentials"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/events"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/execution"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/intent"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/orchestrator"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/plan"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/prompts"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/store"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/telemetry"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/thinking"

	"github.com/rs/zerolog/log"
)

// Config is the public configuration for the AI engine server.
type Config struct {
	Port         int
	Version      string
	OTELEnabled  bool
	OTELEndpoint string
	ServiceName  string
}

// Server holds the initialized TapCanvas AI engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store (in-memory).
	Store store.Store

	// Config is the server configuration.
	Config *Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry
	// and stop background workers.
	ShutdownFunc func(context.Context) error
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	cfg := config.Load()
	return &Config{
		Port:         cfg.Port,
		Version:      cfg.Version,
		OTELEnabled:  cfg.Telemetry.Enabled,
		OTELEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
	}
}

// New initializes all engine components and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, LoadConfig())
}

// NewWithConfig initializes the engine with an explicit configuration.
func NewWithConfig(ctx context.Context, pubCfg *Config) (*Server, error) {
	// Build internal config from public config
	cfg := config.Load()
	if pubCfg.Port > 0 {
		cfg.Port = pubCfg.Port
	}

	// Initialize telemetry
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// All engine state is in-memory: provider records, prompt samples,
	// and plans are lost on restart.
	dataStore := store.NewMemoryStore()
	log.Info().Msg("✅ In-memory store initialized")

	library := prompts.NewLibrary(dataStore)
	if err := library.SeedDefaults(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to seed prompt samples")
	} else {
		log.Info().Msg("✅ Prompt sample library seeded")
	}

	registry := capability.NewRegistry()
	if err := capability.RegisterBuiltins(registry); err != nil {
		return nil, fmt.Errorf("register capabilities: %w", err)
	}
	log.Info().Int("capabilities", registry.Len()).Msg("✅ Capability registry frozen")

	bus := events.NewBus()
	resolver := credentials.NewResolver(dataStore)
	loop := assist.NewLoop(resolver, library, cfg.Assist)
	br := bridge.NewBridge(resolver, bus)

	recognizer := intent.NewRecognizer(registry)
	thinker := thinking.NewStreamer(registry, bus, cfg.Assist.ThinkingDelay)
	plans := plan.NewManager()
	engine := execution.NewEngine(registry, bus)
	orch := orchestrator.New(recognizer, thinker, plans, engine, loop, bus)
	log.Info().Msg("✅ Orchestrator initialized")

	// Terminal plans are evicted after their TTL.
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitor := plan.NewJanitor(plans, cfg.Plans.TerminalTTL, cfg.Plans.SweepInterval)
	go janitor.Run(janitorCtx)

	// Build handlers + API router
	h := handlers.New(dataStore, loop, br, orch, plans, library, bus)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler: router,
		Store:   dataStore,
		Config:  pubCfg,
		Port:    cfg.Port,
		ShutdownFunc: func(ctx context.Context) error {
			stopJanitor()
			return shutdown(ctx)
		},
	}, nil
}
