package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/rizrmd/clay-studio-sub001/internal/common/config"
	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"github.com/rizrmd/clay-studio-sub001/internal/events/bus"
	gwws "github.com/rizrmd/clay-studio-sub001/internal/gateway/websocket"
	"github.com/rizrmd/clay-studio-sub001/internal/identity"
	mcpserver "github.com/rizrmd/clay-studio-sub001/internal/mcp"
	"github.com/rizrmd/clay-studio-sub001/internal/pool"
	"github.com/rizrmd/clay-studio-sub001/internal/provision"
	"github.com/rizrmd/clay-studio-sub001/internal/sandbox"
	"github.com/rizrmd/clay-studio-sub001/internal/store"
	"github.com/rizrmd/clay-studio-sub001/internal/stream"
	ws "github.com/rizrmd/clay-studio-sub001/pkg/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting clay studio runtime")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect to the event bus: NATS when nats.url is set, otherwise the
	// in-process bus.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
	} else {
		eventBus = bus.NewMemoryEventBus(log)
	}
	defer eventBus.Close()
	log.Info("connected to event bus")

	// 5. Open the primary datastore
	storePool, err := openStorePool(cfg.Database)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer storePool.Close()

	repo, err := store.NewRepository(storePool)
	if err != nil {
		log.Fatal("failed to initialize schema", zap.Error(err))
	}
	log.Info("connected to database", zap.String("driver", cfg.Database.Driver))

	// 6. Initialize the connection pool registry (C2)
	poolRegistry := pool.New(pool.Config{
		MaxConnections: cfg.Pool.MaxConnections,
		MinConnections: cfg.Pool.MinConnections,
		IdleTimeout:    time.Duration(cfg.Pool.IdleTimeoutSeconds) * time.Second,
		MaxLifetime:    time.Duration(cfg.Pool.MaxLifetimeSeconds) * time.Second,
		SweepInterval:  time.Duration(cfg.Pool.SweepIntervalSeconds) * time.Second,
	}, pool.DefaultOpener, log)

	// 7. Initialize the agent provisioning engine (C4)
	provisionEngine := provision.New(cfg.Tenancy, repo, log)

	// 8. Initialize the analysis sandbox bridge (C6). Its own MCP deps carry
	// no Sandbox runner and no Bus, so a sandboxed script cannot trigger a
	// nested analysis job or spoof a stream event.
	sandboxDeps := mcpserver.Deps{Repo: repo, Pool: poolRegistry, AttachDir: attachDir(cfg.Tenancy)}
	sandboxBridge := sandbox.New(cfg.Sandbox, provisionEngine, sandboxDeps, log)

	// 9. Initialize the conversation stream engine (C5), wired to the
	// sandbox bridge so the agent's run_analysis tool has somewhere to go.
	streamEngine := stream.New(repo, poolRegistry, provisionEngine, eventBus, attachDir(cfg.Tenancy), sandboxBridge, log)

	// 10. Initialize the session resolver (C8) and the subscription hub (C7)
	sessionResolver := identity.NewMemoryResolver()
	dispatcher := ws.NewDispatcher()
	hub := gwws.NewHub(dispatcher, streamEngine, log)
	gwws.RegisterHandlers(dispatcher, repo, streamEngine)

	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	go func() {
		if err := hub.Run(hubCtx, eventBus, cfg.Events.Namespace+".ws-hub"); err != nil {
			log.Error("subscription hub stopped with error", zap.Error(err))
		}
	}()

	// 11. Set up the HTTP server: a thin WebSocket upgrade plus health check.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	wsHandler := gwws.NewHandler(hub, sessionResolver, log)
	router.GET("/ws", wsHandler.HandleConnection)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "clay-studio"})
	})

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 12. Start the server in a goroutine
	go func() {
		log.Info("http server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start http server", zap.Error(err))
		}
	}()

	// 13. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down clay studio runtime")

	// 14. Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	hubCancel()
	cancel()
	_ = poolRegistry.Close()

	log.Info("clay studio runtime stopped")
}

// attachDir is where uploaded conversation files live, one level under the
// tenancy root so it shares lifecycle with the rest of a tenant's layout.
func attachDir(cfg config.TenancyConfig) string {
	return cfg.ClientsRootDir + "/_attachments"
}

// openStorePool opens the writer/reader pair store.Pool expects, per
// §10.3: SQLite gets a single-writer, multi-reader split to avoid
// SQLITE_BUSY; Postgres shares one pool for both since pgx already pools
// internally.
func openStorePool(cfg config.DatabaseConfig) (*store.Pool, error) {
	if cfg.Driver == "postgres" {
		db, err := store.OpenPostgres(cfg.DSN(), 0, 0)
		if err != nil {
			return nil, err
		}
		x := sqlx.NewDb(db, "pgx")
		return store.NewPool(x, x), nil
	}

	writer, err := store.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, err
	}
	reader, err := store.OpenSQLiteReader(cfg.Path)
	if err != nil {
		return nil, err
	}
	return store.NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3")), nil
}
