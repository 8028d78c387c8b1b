package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/noosphere/hub/handlers"
	"github.com/noosphere/hub/internal/cache"
	"github.com/noosphere/hub/internal/config"
	"github.com/noosphere/hub/internal/database"
	"github.com/noosphere/hub/internal/keycloak"
	"github.com/noosphere/hub/internal/oidc"
	"github.com/noosphere/hub/internal/security"
	"github.com/noosphere/hub/internal/tokens"
	"github.com/noosphere/hub/internal/users"
	"github.com/noosphere/hub/pkg/logger"
	"github.com/noosphere/hub/pkg/metrics"
	"github.com/noosphere/hub/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// initialize logging (can be controlled with LOG_LEVEL env: debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)
	logger.Infof("config loaded: keycloak=%v mongo=%v redis=%v cache=%s", cfg.Keycloak.URL != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Cache.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if addr := cfg.Redis.Addr(); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", addr, err)
		} else {
			logger.Infof("connected to Redis: %s", addr)
		}
		defer func() { _ = rdb.Close() }()
	}

	// user storage: Mongo when configured, process memory otherwise
	var (
		userRepo  users.UserRepository
		authRepo  users.AuthorityRepository
		mongoUsed bool
	)
	if cfg.MongoDB.URI != "" {
		client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 30*time.Second)
		if err != nil {
			logger.Fatalf("could not connect to MongoDB: %v", err)
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		db := client.Database(cfg.MongoDB.Database)
		if err := database.EnsureUserIndexes(ctx, db); err != nil {
			logger.Warnf("%v", err)
		}
		userRepo = users.NewMongoUserRepository(db.Collection(database.UsersCollection))
		authRepo = users.NewMongoAuthorityRepository(db.Collection(database.AuthoritiesCollection))
		mongoUsed = true
	} else {
		userRepo = users.NewMemoryUserRepository()
		authRepo = users.NewMemoryAuthorityRepository(users.RoleAdmin, users.RoleUser)
	}

	var caches *cache.Manager
	if cfg.Cache.Backend == "redis" && rdb != nil {
		caches = cache.NewRedisManager(rdb, cfg.Cache.TTL)
	} else {
		caches = cache.NewLRUManager(cfg.Cache.Size, cfg.Cache.TTL)
	}

	var idp users.IdentityProvider
	if cfg.Keycloak.AdminEnabled() {
		idp = keycloak.NewClient(ctx, cfg.Keycloak)
	}
	userSvc := users.NewService(userRepo, authRepo, caches, idp)

	verifier := buildVerifier(ctx, cfg)

	gin.SetMode(ginMode(cfg.Server.Environment))
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness: 200 only when the configured backends answer
	r.GET("/ready", func(c *gin.Context) {
		deps := map[string]bool{
			"mongo":    mongoUsed || cfg.MongoDB.URI == "",
			"keycloak": idp != nil || !cfg.Keycloak.AdminEnabled(),
			"redis":    true,
		}
		if rdb != nil && (cfg.Cache.Backend == "redis" || cfg.RateLimit.UseRedis) {
			deps["redis"] = rdb.Ping(c.Request.Context()).Err() == nil
		}
		status, code := "ready", http.StatusOK
		for _, ok := range deps {
			if !ok {
				status, code = "not_ready", http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var limits []gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		limits = append(limits, rateLimiter(cfg, rdb))
	}
	mountAPI(r, userSvc, verifier, cfg.Security.APIKeyHeader, limits...)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("starting hub on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

// buildVerifier accepts Keycloak ID tokens and, when JWT_SECRET is set,
// HS256 resource-server tokens.
func buildVerifier(ctx context.Context, cfg *config.Config) middleware.Verifier {
	var vers []middleware.Verifier
	if cfg.Keycloak.URL != "" && cfg.Keycloak.ClientID != "" {
		ver, err := oidc.NewVerifier(ctx, cfg.Keycloak.Issuer(), cfg.Keycloak.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			vers = append(vers, ver)
		}
	}
	if cfg.JWT.Secret != "" {
		vers = append(vers, tokens.HS256Verifier{Secret: cfg.JWT.Secret})
	}
	// Optional insecure verifier for integration tests: parse token claims without signature verification
	if len(vers) == 0 && strings.EqualFold(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN")), "true") {
		logger.Warn("enabling insecure token verifier (integration mode)")
		vers = append(vers, oidc.NewInsecureVerifier())
	}
	if len(vers) == 0 {
		logger.Warn("no bearer token verifier configured; /api/account will reject every request")
	}
	return middleware.FirstOf(vers...)
}

func rateLimiter(cfg *config.Config, rdb *redis.Client) gin.HandlerFunc {
	if cfg.RateLimit.UseRedis && rdb != nil {
		win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
		return middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win)
	}
	return middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
}

// mountAPI installs the /api routes. Each route authenticates first, then
// runs limits, then the handler.
func mountAPI(r *gin.Engine, svc *users.Service, ver middleware.Verifier, apiKeyHeader string, limits ...gin.HandlerFunc) {
	authn := security.NewAuthenticator(svc)
	handlers.NewAccountHandler(svc).Register(r.Group("/api"),
		middleware.APIKeyAuth(authn, apiKeyHeader),
		middleware.AuthMiddleware(ver),
		limits...)
}

func ginMode(env string) string {
	if env == "production" {
		return gin.ReleaseMode
	}
	return gin.DebugMode
}
