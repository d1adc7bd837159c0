// Package app wires the repository, services, hub, and HTTP server
// together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rlarsen/althing/internal/auth"
	"github.com/rlarsen/althing/internal/handlers"
	"github.com/rlarsen/althing/internal/logger"
	"github.com/rlarsen/althing/internal/repository"
	"github.com/rlarsen/althing/internal/services"
	"github.com/rlarsen/althing/internal/websocket"
)

// Config is the server configuration
type Config struct {
	Addr     string
	DBPath   string
	BaseURL  string // externally reachable address for claim QR links
	Password string // facilitator password; empty generates one
	LogLevel string
}

// App is the assembled server
type App struct {
	log    logger.Logger
	repo   *repository.Repository
	hub    *websocket.Hub
	auth   *auth.Manager
	server *http.Server
}

// New builds the full dependency graph
func New(cfg Config) (*App, error) {
	log := logger.NewWithLevel(logger.ParseLevel(cfg.LogLevel))

	repo, err := repository.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}

	authManager := auth.NewManager(log, cfg.Password)

	runService := services.NewRunService(log, repo)
	setupService := services.NewSetupService(log, repo)
	phaseService := services.NewPhaseService(log, repo)
	electionService := services.NewElectionService(log, repo)
	allegianceService := services.NewAllegianceService(log, repo)
	registrationService := services.NewRegistrationService(log, repo, cfg.BaseURL)

	hub := websocket.NewHub(log)
	hub.SetSources(websocket.Sources{
		Run:        runService,
		Phase:      phaseService,
		Election:   electionService,
		Allegiance: allegianceService,
	})
	phaseService.SetBroadcaster(hub)
	electionService.SetBroadcaster(hub)
	allegianceService.SetBroadcaster(hub)
	registrationService.SetBroadcaster(hub)

	handler := handlers.New(log, authManager, runService, setupService,
		phaseService, electionService, allegianceService, registrationService)
	router := handlers.Routes(handler, authManager, hub.ServeWS)

	return &App{
		log:  log,
		repo: repo,
		hub:  hub,
		auth: authManager,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// FacilitatorPassword returns the password in effect, for display at startup
func (a *App) FacilitatorPassword() string {
	return a.auth.Password()
}

// Run starts the hub and serves HTTP until the server is shut down
func (a *App) Run() error {
	go a.hub.Run()
	a.log.Info("server listening", "addr", a.server.Addr)
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server, the hub, and the database in order
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.hub.Stop()
	if closeErr := a.repo.Close(); err == nil {
		err = closeErr
	}
	a.log.Info("server stopped")
	return err
}
