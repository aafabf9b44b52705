// main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sessionapi "github.com/cybercatalyst/escape-services/session/api"
	"github.com/cybercatalyst/escape-services/session/events"
	"github.com/cybercatalyst/escape-services/session/gateway"
	"github.com/cybercatalyst/escape-services/session/service"
	"github.com/cybercatalyst/escape-services/session/store"
	"github.com/cybercatalyst/escape-services/session/watcher"
	"github.com/cybercatalyst/escape-services/shared/api"
	"github.com/cybercatalyst/escape-services/shared/auth"
	"github.com/cybercatalyst/escape-services/shared/cluster"
	"github.com/cybercatalyst/escape-services/shared/config"
	"github.com/cybercatalyst/escape-services/shared/models"
	mongodbu "github.com/cybercatalyst/escape-services/shared/mongodb"
	redisu "github.com/cybercatalyst/escape-services/shared/redis"
	"github.com/cybercatalyst/escape-services/shared/registry"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

func main() {
	// --- 1. Load Configuration ---
	if err := godotenv.Load(); err != nil {
		log.Println("INFO: No .env file found, reading configuration from the environment.")
	}
	cfg, err := config.LoadSessionServiceConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- 2. Connect to MongoDB ---
	mongoClient, err := mongodbu.NewClient(cfg.MongoDBConnStr, cfg.MongoDBDatabase)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		if err = mongoClient.Disconnect(context.Background()); err != nil {
			log.Fatalf("Failed to disconnect from MongoDB: %v", err)
		}
		log.Println("Disconnected from MongoDB.")
	}()

	// --- 3. Connect to Redis ---
	redisClient, err := redisu.NewRedisClusterClient(cfg.RedisAddrs, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("Failed to connect to Redis Cluster: %v", err)
	}
	defer func() {
		if err = redisClient.Close(); err != nil {
			log.Fatalf("Error closing Redis client: %v", err)
		}
		log.Println("Redis Client closed.")
	}()

	// --- 4. Initialize the Session Store ---
	sessionsCollection := mongoClient.Collection(cfg.MongoDBSessionsCollection)
	sessionStore := store.NewSessionStore(sessionsCollection)
	if err := sessionStore.EnsureIndexes(context.Background()); err != nil {
		log.Fatalf("Failed to ensure session indexes: %v", err)
	}

	// --- 5. Initialize Fan-out and Business Logic ---
	publisher := events.NewRedisPublisher(redisClient)
	levels := service.DefaultLevelConfig()
	if levels.MaxLevel() != cfg.LevelCount {
		log.Fatalf("GAME_LEVEL_COUNT is %d but the puzzle table defines %d levels", cfg.LevelCount, levels.MaxLevel())
	}
	sessionService := service.NewSessionService(sessionStore, publisher, levels, cfg.TimeBudget, clockwork.NewRealClock())

	// --- 6. Initialize API Handlers ---
	tokenIssuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	authHandlers := sessionapi.NewAuthAPIHandlers(sessionService, tokenIssuer)
	gameHandlers := sessionapi.NewGameAPIHandlers(sessionService)
	adminHandlers := sessionapi.NewAdminAPIHandlers(sessionService, cfg.ResetClearsProgress)

	// --- 7. Initialize and Start Service Registrar ---
	registrar := registry.NewServiceRegistrar(redisClient, "session-service", &cfg.CommonConfig)
	go registrar.Start()
	defer registrar.Stop()

	// --- 8. Timeout Watcher (one announcement per team across instances) ---
	registryClient := registry.NewRegistryClient(redisClient, cfg.HeartbeatTTL)
	assignmentManager := cluster.NewServiceAssignmentManager(registryClient, registrar, cfg.HeartbeatInterval)
	go assignmentManager.Start()
	defer assignmentManager.Stop()

	watcherCtx, watcherCancel := context.WithCancel(context.Background())
	defer watcherCancel()
	timeoutWatcher := watcher.NewTimeoutWatcher(sessionStore, publisher, assignmentManager, cfg.TimeBudget, cfg.WatcherInterval, clockwork.NewRealClock())
	go timeoutWatcher.Run(watcherCtx)

	// --- 9. Websocket Gateway fed by the fan-out channel ---
	hub := gateway.NewHub()
	defer hub.Close()
	subscriber := events.NewSubscriber(redisClient, hub.Broadcast)
	go subscriber.Run(watcherCtx)

	// --- 10. Setup HTTP Server and Register Routes ---
	baseServer := api.NewBaseServer(cfg.ListenAddr, log.Default())
	authHandlers.RegisterPublicRoutes(baseServer.Router)

	protected := baseServer.Router.NewRoute().Subrouter()
	protected.Use(api.AuthMiddleware(tokenIssuer))
	authHandlers.RegisterProtectedRoutes(protected)
	gameHandlers.RegisterRoutes(protected)

	admin := protected.NewRoute().Subrouter()
	admin.Use(api.RequireRole(models.RoleOperator))
	adminHandlers.RegisterRoutes(admin)
	admin.HandleFunc("/admin/live", hub.ServeWS).Methods("GET")

	// --- 11. Start HTTP Server ---
	go func() {
		if err := baseServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed to start: %v", err)
		}
	}()

	// --- 12. Graceful Shutdown ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := baseServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP server graceful shutdown failed: %v", err)
	}
	log.Println("Server gracefully stopped.")
}
