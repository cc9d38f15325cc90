package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasksync/api"
	"tasksync/config"
	"tasksync/labeler"
	"tasksync/profile"
	"tasksync/reconciler"
	"tasksync/storage"
)

func main() {
	config.Load()
	cfg, err := config.Require("STORAGE_CONNECTION_STRING", "TASKS_TABLE", "REDIS_CONNECTION_STRING")
	if err != nil {
		log.Fatal(err)
	}
	redisOpts, err := config.RedisOptions(cfg["REDIS_CONNECTION_STRING"])
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	var cacheTTL time.Duration
	if config.Bool("TASKS_CACHE", true) {
		cacheTTL = config.Duration("TASKS_CACHE_TTL", 5*time.Minute)
	}
	backend, err := storage.OpenBackend(storage.BackendConfig{
		ConnectionString: cfg["STORAGE_CONNECTION_STRING"],
		TasksTable:       cfg["TASKS_TABLE"],
		ChangesQueue:     config.String("CHANGES_QUEUE", ""),
		Redis:            rc,
		CacheTTL:         cacheTTL,
	})
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	auth, err := newAuth()
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	policy, err := labeler.ParsePolicy(config.String("LABEL_POLICY", "fallback"))
	if err != nil {
		log.Fatal(err)
	}

	logger := log.StandardLogger()
	hub := api.NewHub(backend.Tasks, api.HubOptions{
		IdleTTL: config.Duration("SESSION_IDLE_TTL", 15*time.Minute),
		Reconciler: reconciler.Options{
			Logger:            logger,
			CorrelationWindow: config.Duration("CORRELATION_WINDOW", 2*time.Minute),
			RequestTimeout:    config.Duration("STORE_TIMEOUT", 30*time.Second),
		},
	})

	deps := api.Deps{
		Hub:    hub,
		Auth:   auth,
		Dedupe: api.NewRedisDeduper(rc, config.Duration("DEDUPER_TTL", 24*time.Hour)),
		Labels: newGenerator(),
		Policy: policy,
		Logger: logger,
	}
	if profiles, err := newProfiles(cfg["STORAGE_CONNECTION_STRING"]); err != nil {
		log.WithError(err).Warn("Profile routes disabled")
	} else {
		deps.Profiles = profiles
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.HTTPErrorHandler = api.ErrorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.Decompress())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	api.Register(e, deps)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx)

	listenAddr := ":" + config.String("TASKBOARD_PORT", "8080")
	go func() {
		if err := e.Start(listenAddr); err != nil {
			log.WithError(err).Info("Server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdown); err != nil {
		log.WithError(err).Error("Shutdown failed")
	}
	hub.Close()
}

func newAuth() (*api.Auth, error) {
	if config.String("LOCAL_AUTH_MODE", "") == "hs256" {
		secret := config.String("LOCAL_AUTH_SHARED_SECRET", "")
		if secret == "" {
			return nil, fmt.Errorf("LOCAL_AUTH_SHARED_SECRET is required in local auth mode")
		}
		return api.NewAuth(api.AuthConfig{
			SharedSecret: []byte(secret),
			Audience:     config.String("AUTH0_AUDIENCE", ""),
			Issuer:       config.String("LOCAL_AUTH_ISSUER", ""),
		})
	}
	vals, err := config.Require("AUTH0_DOMAIN", "AUTH0_AUDIENCE")
	if err != nil {
		return nil, err
	}
	domain := vals["AUTH0_DOMAIN"]
	jwks, err := keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", domain), keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Warn("JWKS refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(api.AuthConfig{
		JWKS:        jwks,
		Audience:    vals["AUTH0_AUDIENCE"],
		Issuer:      "https://" + domain + "/",
		KeyCacheTTL: config.Duration("JWKS_CACHE_TTL", api.DefaultKeyCacheTTL),
	})
}

func newGenerator() labeler.Generator {
	if url := config.String("LABEL_FUNCTION_URL", ""); url != "" {
		return labeler.NewProxy(url, config.String("LABEL_FUNCTION_TOKEN", ""))
	}
	if key := config.String("OPENAI_API_KEY", ""); key != "" {
		return labeler.NewOpenAI(key)
	}
	log.Warn("No label generator configured, new tasks get the default label")
	return nil
}

func newProfiles(connStr string) (*profile.Service, error) {
	table := config.String("PROFILES_TABLE", "")
	container := config.String("AVATARS_CONTAINER", "")
	if table == "" || container == "" {
		return nil, fmt.Errorf("PROFILES_TABLE and AVATARS_CONTAINER are required")
	}
	svc, err := storage.NewTableService(connStr)
	if err != nil {
		return nil, err
	}
	avatars, err := storage.NewAvatarStore(connStr, container)
	if err != nil {
		return nil, err
	}
	return profile.NewService(storage.NewProfileStore(svc.NewClient(table)), avatars), nil
}
