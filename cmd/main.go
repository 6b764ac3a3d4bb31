/**
 * @description
 * This is the main entry point for the ticket-service. It is responsible for
 * initializing all components of the service, including configuration, the ticket
 * store, the user-service client, message brokers, rate limiting, the core
 * application service, and the HTTP server. It wires everything together and starts
 * the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Shared scan rate limiting.
 * - github.com/prometheus/client_golang: Metrics endpoint.
 * - internal/api, internal/app, internal/config, internal/fare, internal/render, internal/store.
 * - pkg/rabbitmq: Client for RabbitMQ.
 * - pkg/userclient: Client for the user-service.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/urbantransit/ticket-service/internal/api"
	"github.com/urbantransit/ticket-service/internal/app"
	"github.com/urbantransit/ticket-service/internal/config"
	"github.com/urbantransit/ticket-service/internal/fare"
	"github.com/urbantransit/ticket-service/internal/render"
	"github.com/urbantransit/ticket-service/internal/store"
	rmrabbit "github.com/urbantransit/ticket-service/pkg/rabbitmq"
	"github.com/urbantransit/ticket-service/pkg/userclient"
)

func main() {
	// Load a local .env into the process environment so alias lookups see it too.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("level=warn component=bootstrap msg=\".env load failed\" err=%v", err)
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting ticket-service\" port=%s store=%s", cfg.ServerPort, cfg.StoreDriver)

	shutdownTracing, err := setupTracing(context.Background(), cfg.OTelExporterEndpoint, cfg.OTelServiceName)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"tracing exporter unavailable; spans disabled\" err=%v", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				log.Printf("level=warn component=bootstrap msg=\"tracing shutdown failed\" err=%v", err)
			}
		}()
	}

	// Initialize the data access layer (repository).
	var repository store.Repository
	if cfg.UsesPostgres() {
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}
		poolConfig.MaxConns = 100
		poolConfig.MinConns = 20
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute

		// Disable prepared statement caching to prevent conflicts behind poolers.
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		defer dbpool.Close()
		log.Println("level=info component=bootstrap msg=\"database connected\"")

		pgRepo := store.NewPostgresRepository(dbpool)
		if cfg.AutoMigrate {
			migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
			err := pgRepo.EnsureSchema(migrateCtx)
			cancelMigrate()
			if err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
			}
			log.Println("level=info component=bootstrap msg=\"schema ensured\"")
		}
		repository = pgRepo
	} else {
		log.Println("level=warn component=bootstrap msg=\"using in-memory store; data is lost on restart\"")
		repository = store.NewMemoryRepository()
	}

	// Initialize the RabbitMQ producer to publish events.
	var publisher rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	if rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// The user-service is optional; owners then come only from user.registered events.
	var users app.UserDirectory
	if cfg.UserServiceURL == "" || cfg.UserServiceInternalAPIKey == "" {
		log.Printf("level=warn component=bootstrap msg=\"user-service client not configured; owner lookups use local projection only\" user_service_url_set=%t user_service_internal_key_set=%t",
			cfg.UserServiceURL != "",
			cfg.UserServiceInternalAPIKey != "",
		)
	} else {
		users = userclient.NewClient(cfg.UserServiceURL, cfg.UserServiceInternalAPIKey)
	}

	var scanLimiter app.ScanRateLimiter = app.NewLocalScanRateLimiter()
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; scan rate limiting is per instance\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; scan rate limiting is per instance\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; scan rate limiting is per instance\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				scanLimiter = app.NewRedisScanRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	catalog, err := fare.NewCatalog(fare.WithPrices(cfg.FarePrices()), cfg.Location(), fare.Policy{
		RejectDuplicateActive: cfg.FareDuplicateCheck,
		RequireBalance:        cfg.FareBalanceCheck,
	})
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"fare catalog invalid\" err=%v", err)
	}

	// Initialize the core application service with its dependencies.
	ticketService := app.NewService(
		repository,
		catalog,
		app.NewOwnerDirectory(repository, users),
		app.NewEventNotifier(publisher, cfg.EventsExchange),
		app.WithRenderer(render.NewQRRenderer()),
		app.WithBalanceChecker(app.StaticBalance(cfg.StubBalanceMinor)),
	)

	// Initialize the API handlers.
	ticketHandlers := api.NewTicketHandlers(ticketService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/tickets", api.TicketRoutes(ticketHandlers, api.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins(),
		Auth: api.AuthConfig{
			JWKSURL:  cfg.JWKSURL,
			Audience: cfg.JWTAudience,
			Issuer:   cfg.JWTIssuer,
		},
		ScanLimiter:    scanLimiter,
		ScansPerMinute: cfg.ScanRateLimitPerMinute,
	}))

	// Keep the owner projection current from user-service events. Consumer failures
	// are logged and do not stop the service.
	userConsumer := app.NewUserEventConsumer(repository)
	if rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, rmrabbit.DefaultPrefetch); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; owner projection will not update\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		bindings := map[string]rmrabbit.Handler{
			app.UserRegisteredRoutingKey: userConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.UserEventQueue, bindings); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"user event consumer start failed\" err=%v", err)
		}
	}

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
