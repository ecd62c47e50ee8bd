package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tableside/internal/agentauth"
	"tableside/internal/backend"
	"tableside/internal/config"
	"tableside/internal/conversation"
	"tableside/internal/engine"
	"tableside/internal/engine/anthropic"
	"tableside/internal/oauth"
	"tableside/internal/server"
	"tableside/internal/session"
	"tableside/internal/toolclient"
	"tableside/pkg/logging"
)

// shutdownTimeout bounds graceful shutdown of the HTTP servers.
const shutdownTimeout = 10 * time.Second

// systemPrompt frames every conversation handed to the completion engine.
const systemPrompt = `You are a friendly ordering assistant for a restaurant.
You help guests browse the menu, build a cart, and place orders using the
tools available to you. Always confirm quantities and prices before placing
an order. Prices from the tools are in cents; present them to the guest in
dollars. If a tool call fails, apologize briefly and suggest trying again.
Never invent menu items or prices.`

// Application holds the fully wired service graph. It is built by
// NewApplication and driven by Run; nothing starts listening until Run is
// called.
type Application struct {
	config config.Config

	chatServer *server.Server
	sessions   *session.Manager

	// Embedded ordering backend, nil when an external endpoint is configured.
	backendServer *http.Server
	menuWatcher   *backend.MenuWatcher
}

// NewApplication loads configuration, initializes logging, and wires the
// session manager, completion engine, and HTTP surfaces together.
func NewApplication(opts *Options) (*Application, error) {
	if opts == nil {
		opts = &Options{}
	}

	level := logging.LevelInfo
	if opts.Debug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stdout)

	configPath := opts.ConfigPath
	if configPath == "" {
		var err error
		configPath, err = config.GetDefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{config: cfg}

	toolEndpoint := cfg.Backend.Endpoint
	if toolEndpoint == "" {
		toolEndpoint, err = app.buildEmbeddedBackend()
		if err != nil {
			return nil, err
		}
	}

	var agentProvider *agentauth.Provider
	if cfg.Agent.ID != "" {
		agentProvider, err = agentauth.NewProvider(agentauth.Config{
			AgentID:              cfg.Agent.ID,
			AgentPassword:        cfg.Agent.Password,
			ClientID:             cfg.OAuth.ClientID,
			AuthorizeEndpoint:    cfg.OAuth.AuthorizeEndpoint,
			AuthenticateEndpoint: cfg.Agent.AuthenticateEndpoint,
			TokenEndpoint:        cfg.OAuth.TokenEndpoint,
			Scope:                cfg.OAuth.Scope,
			Required:             cfg.Agent.Required,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create agent identity provider: %w", err)
		}
	}

	establisher, err := toolclient.NewEstablisher(toolclient.EstablisherConfig{
		Endpoint:          toolEndpoint,
		AuthorizeEndpoint: cfg.OAuth.AuthorizeEndpoint,
		Agent:             agentProvider,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection establisher: %w", err)
	}

	redirectURI := cfg.OAuth.RedirectURI
	if redirectURI == "" {
		host := cfg.Server.Host
		if host == "" {
			host = "localhost"
		}
		redirectURI = fmt.Sprintf("http://%s:%d%s", host, cfg.Server.Port, cfg.Server.CallbackPath)
	}

	app.sessions, err = session.NewManager(session.ManagerConfig{
		Establisher: establisher,
		Credentials: oauth.ClientConfig{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURI:  redirectURI,
			Scope:        cfg.OAuth.Scope,
		},
		IdleTimeout:   cfg.Sessions.IdleTimeout,
		SweepInterval: cfg.Sessions.SweepInterval,
		MaxSessions:   cfg.Sessions.MaxSessions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	provider, err := anthropic.New(cfg.Engine)
	if err != nil {
		app.sessions.Destroy()
		return nil, fmt.Errorf("failed to create completion provider: %w", err)
	}

	loop := engine.NewLoop(provider, engine.LoopConfig{SystemPrompt: systemPrompt})

	orchestrator, err := conversation.NewOrchestrator(conversation.Config{
		TokenEndpoint:   cfg.OAuth.TokenEndpoint,
		DevelopmentMode: cfg.Development,
	}, app.sessions, loop)
	if err != nil {
		app.sessions.Destroy()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	app.chatServer = server.New(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		CallbackPath: cfg.Server.CallbackPath,
	}, orchestrator, app.sessions)

	return app, nil
}

// buildEmbeddedBackend assembles the in-process ordering backend. It returns
// the MCP endpoint URL the tool client should connect to.
func (a *Application) buildEmbeddedBackend() (string, error) {
	cfg := a.config

	store := backend.NewStore()
	watcher, err := backend.NewMenuWatcher(cfg.Backend.MenuPath, store)
	if err != nil {
		return "", fmt.Errorf("failed to load menu: %w", err)
	}
	a.menuWatcher = watcher

	var validator backend.TokenValidator
	if cfg.OAuth.UserinfoEndpoint != "" {
		validator = newUserinfoValidator(cfg.OAuth.UserinfoEndpoint)
	} else {
		logging.Warn("app", "No userinfo endpoint configured, embedded backend runs unprotected")
	}

	mcpServer := backend.NewMCPServer(backend.MCPServerConfig{
		Name:             "tableside-backend",
		Version:          Version,
		Validator:        validator,
		Realm:            "tableside",
		AuthorizationURI: cfg.OAuth.AuthorizeEndpoint,
	}, store)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpServer.Handler())
	mux.Handle("/", backend.NewRESTHandler(store))

	a.backendServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Backend.Port),
		Handler:           mux,
		ReadHeaderTimeout: server.DefaultReadHeaderTimeout,
		WriteTimeout:      server.DefaultWriteTimeout,
		IdleTimeout:       server.DefaultIdleTimeout,
	}

	return fmt.Sprintf("http://127.0.0.1:%d/mcp", cfg.Backend.Port), nil
}

// Run starts the HTTP servers and blocks until the context is cancelled, a
// termination signal arrives, or a server fails. Shutdown is graceful and
// runs in reverse startup order.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	if a.backendServer != nil {
		go func() {
			logging.Info("app", "Ordering backend listening on %s", a.backendServer.Addr)
			if err := a.backendServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("backend server failed: %w", err)
			}
		}()
	}

	go func() {
		logging.Info("app", "Chat server listening on %s:%d", a.config.Server.Host, a.config.Server.Port)
		if err := a.chatServer.Start(); err != nil {
			errCh <- fmt.Errorf("chat server failed: %w", err)
		}
	}()

	// Best effort, no-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("app", "Shutdown signal received")
	case runErr = <-errCh:
		logging.Error("app", runErr, "Server failed, shutting down")
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown tears the application down in reverse startup order.
func (a *Application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error

	if err := a.chatServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("chat server shutdown: %w", err))
	}
	if a.backendServer != nil {
		if err := a.backendServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("backend server shutdown: %w", err))
		}
	}
	if a.menuWatcher != nil {
		a.menuWatcher.Stop()
	}
	a.sessions.Destroy()

	logging.Info("app", "Shutdown complete")
	return errors.Join(errs...)
}
