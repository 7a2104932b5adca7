package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-pos/internal/archive"
	"github.com/noah-isme/toko-pos/internal/audit"
	"github.com/noah-isme/toko-pos/internal/auth"
	"github.com/noah-isme/toko-pos/internal/billing"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/config"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/employee"
	"github.com/noah-isme/toko-pos/internal/events"
	"github.com/noah-isme/toko-pos/internal/health"
	"github.com/noah-isme/toko-pos/internal/lock"
	"github.com/noah-isme/toko-pos/internal/obs"
	"github.com/noah-isme/toko-pos/internal/ratelimit"
	"github.com/noah-isme/toko-pos/internal/resilience"
	"github.com/noah-isme/toko-pos/internal/security"
	"github.com/noah-isme/toko-pos/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "toko")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	if err := resilience.RegisterMetrics(nil); err != nil {
		logger.Fatal().Err(err).Msg("register breaker metrics")
	}

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:    "toko-pos",
			ServiceVersion: envOrDefault("APP_VERSION", "dev"),
			Endpoint:       envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:       envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio:  envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:    cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
	defer cancel()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = connectRedis(ctx, cfg.RedisURL, metricsEnabled, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	var backend docstore.Store
	switch cfg.StoreBackend {
	case config.BackendRedis:
		backend = docstore.NewRedis(redisClient)
	case config.BackendPostgres:
		if err := docstore.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migrate database")
		}
		pool := connectPostgres(ctx, cfg.DatabaseURL, obs.NewPGXTracer(metricsNamespace, nil), logger)
		defer pool.Close()
		backend = docstore.NewPostgres(pool)
	default:
		logger.Warn().Msg("using in-memory document store; data is lost on restart")
		backend = docstore.NewMemory()
	}
	breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailRatio, cfg.BreakerOpenFor).
		WithTarget("docstore").
		WithLogger(logger)
	store := docstore.WithBreaker(backend, breaker)

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Store: store,
		Cache: catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: catalogService})

	bus := &events.Bus{
		Notifiers: []events.Notifier{
			catalogService,
			events.NotifierFunc(func(ctx context.Context, ev events.Event) error {
				zerolog.Ctx(ctx).Debug().Str("topic", ev.Topic).Str("aggregate_id", ev.AggregateID).Msg("event emitted")
				return nil
			}),
		},
	}
	if redisClient != nil {
		bus.Store = events.RedisStream{Client: redisClient, Stream: envOrDefault("EVENTS_STREAM", "toko:events")}
	}

	var locker lock.Locker
	if redisClient != nil {
		locker = lock.Redis{Client: redisClient}
	}
	bills, err := archive.New(cfg.ArchiveDir, locker)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.ArchiveDir).Msg("open bill archive")
	}

	billingService, err := billing.NewService(billing.Config{
		Store:      store,
		Numbers:    &billing.Numberer{},
		Archive:    bills,
		Events:     bus,
		Header:     billing.ReceiptHeader{StoreName: cfg.StoreName, PhoneLine: cfg.StorePhoneLine},
		MaxRetries: cfg.CommitMaxRetries,
		RetryBase:  cfg.CommitRetryBase,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise billing service")
	}

	sessions, err := session.NewManager(session.Config{
		IdleTTL:   cfg.SessionIdleTTL,
		NewEngine: func() *billing.Engine { return billingService.NewEngine(catalogService) },
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise session manager")
	}
	go sessions.Run(rootCtx, time.Minute)

	billingHandler := billing.NewHandler(billing.HandlerConfig{
		Service:  billingService,
		Engines:  sessions,
		Products: catalogService,
		Archive:  bills,
	})

	roster, err := employee.NewService(employee.Config{Store: store, HashPasswords: cfg.HashPasswords})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise employee service")
	}
	employeeHandler := employee.NewHandler(roster)

	authService, err := auth.NewService(auth.Config{
		Roster:         roster,
		Sessions:       sessions,
		Events:         bus,
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		ClockSkew:      30 * time.Second,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	accessCookie := envOrDefault("AUTH_ACCESS_COOKIE", "access_token")
	authHandler := &auth.Handler{
		Service:          authService,
		AccessCookieName: accessCookie,
		CookieDomain:     envOrDefault("AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:     cfg.CookieSecure,
		CookieSameSite:   cfg.CookieSameSite,
	}
	authMiddleware := auth.Middleware{Service: authService, AccessCookie: accessCookie}
	csrf := security.CSRF{SessionCookie: accessCookie, Secure: cfg.CookieSecure, SameSite: cfg.CookieSameSite}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	var auditStore audit.Store = &audit.MemoryLog{}
	if redisClient != nil {
		auditStore = audit.RedisLog{Client: redisClient}
	}
	auditRecorder := audit.HTTPRecorder{
		Service: &audit.Service{Store: auditStore, Enabled: envBool("AUDIT_ENABLED", true)},
		OnError: func(err error) { logger.Warn().Err(err).Msg("audit record failed") },
	}

	loginLimit := func(next http.Handler) http.Handler { return next }
	if redisClient != nil && cfg.LoginRateLimit > 0 {
		loginLimit = ratelimit.Handler{
			Limiter: ratelimit.Limiter{Client: redisClient},
			Config: ratelimit.Config{
				Key:    ratelimit.ByClientIP("login"),
				Window: cfg.LoginRateWindow,
				Max:    cfg.LoginRateLimit,
			},
			OnError: func(err error) { logger.Warn().Err(err).Msg("login rate limiter unavailable") },
		}.Middleware
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.Annotate)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.ContextLogger(logger))
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	probes := map[string]health.Probe{"store": backend.Ping, "store_breaker": breaker.Probe}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	healthHandler := health.Handler{
		Probes:  probes,
		Timeout: envDurationMillis("HEALTH_READY_TIMEOUT_MS", 500),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.Headers{
			Enable:              envBool("SECURE_HEADERS_ENABLED", true),
			EnableHSTS:          envBool("SECURE_HSTS_ENABLED", false),
			TrustForwardedProto: envBool("SECURE_TRUST_FORWARDED_PROTO", false),
		}.Middleware)
		v.Use(security.BodyLimit{Max: int64(envInt("SECURE_MAX_BODY_BYTES", 1<<20))}.Middleware)
		v.Use(csrf.Middleware)

		v.Route("/auth", func(a chi.Router) {
			a.Get("/csrf", csrf.Issue)
			a.With(loginLimit).Post("/login", authHandler.Login)
			a.With(loginLimit).Post("/register", authHandler.Register)

			a.Group(func(protected chi.Router) {
				protected.Use(authMiddleware.RequireAuth)
				protected.Post("/logout", authHandler.Logout)
				protected.Get("/me", authHandler.Me)
			})
		})

		v.Group(func(till chi.Router) {
			till.Use(authMiddleware.RequireAuth)

			till.Get("/products", catalogHandler.Products)
			till.Get("/products/{pid}", catalogHandler.Product)

			till.Get("/cart", billingHandler.Cart)
			till.Delete("/cart", billingHandler.ClearCart)
			till.Put("/cart/items/{pid}", billingHandler.PutItem)
			till.Delete("/cart/items/{pid}", billingHandler.RemoveItem)

			till.Post("/bills/generate", billingHandler.Generate)
			till.With(
				idem.Middleware,
				auditRecorder.Middleware(audit.Route{Action: "bill.commit", ResourceType: "bills", ResourceID: audit.CommittedBill}),
			).Post("/bills/commit", billingHandler.Commit)
			till.Get("/bills/search", billingHandler.Search)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth)
			admin.Use(auth.RequireRole(common.RoleAdmin))
			admin.Use(auditRecorder.Middleware(audit.Route{}))

			admin.Get("/products", catalogHandler.AdminProducts)
			admin.Post("/products", catalogHandler.Create)
			admin.Patch("/products/{pid}", catalogHandler.Update)
			admin.Delete("/products/{pid}", catalogHandler.Delete)

			admin.Get("/employees", employeeHandler.List)
			admin.Post("/employees", employeeHandler.Create)
			admin.Patch("/employees/{username}", employeeHandler.Update)
			admin.Delete("/employees/{username}", employeeHandler.Delete)

			admin.Get("/bills", billingHandler.List)
			admin.Get("/bills/{number}", billingHandler.Get)

			admin.Get("/audit", audit.Handler{Store: auditStore}.List)
		})
	})

	var handler http.Handler = r
	if tracingEnabled {
		handler = otelhttp.NewHandler(r, "http.server")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_GRACE_MS", 10000))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("store", cfg.StoreBackend).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func connectRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}

func connectPostgres(ctx context.Context, url string, tracer pgx.QueryTracer, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = tracer
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "toko-pos"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
