package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/common"
	"github.com/noah-isme/pos-settlement/internal/config"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/health"
	"github.com/noah-isme/pos-settlement/internal/obs"
	"github.com/noah-isme/pos-settlement/internal/preference"
	"github.com/noah-isme/pos-settlement/internal/ratelimit"
	"github.com/noah-isme/pos-settlement/internal/resilience"
	"github.com/noah-isme/pos-settlement/internal/settlement"
	"github.com/noah-isme/pos-settlement/internal/store"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "pos-settlement",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var probes []health.Probe

	var (
		pool   *pgxpool.Pool
		loader settlement.Source
		err    error
	)
	if cfg.DatabaseURL != "" {
		if cfg.DBAutoMigrate {
			if err := store.Migrate(cfg.DatabaseURL); err != nil {
				logger.Fatal().Err(err).Msg("apply migrations")
			}
		}
		pool, err = openPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect database")
		}
		defer pool.Close()
		loader = store.Loader{DB: pool}
		probes = append(probes, health.Probe{Name: "db", Timeout: 500 * time.Millisecond, Check: pool.Ping})
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = openRedis(ctx, cfg.RedisURL, cfg.Obs.EnablePrometheus, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect redis")
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		probes = append(probes, health.Probe{Name: "redis", Timeout: 300 * time.Millisecond, Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	snapshot := settlement.Snapshot{}
	descs := []currency.Descriptor{{
		Code:      cfg.BaseCurrency,
		Rate:      decimal.NewFromInt(1),
		Precision: 2,
		Active:    true,
		Base:      true,
	}}
	if loader != nil {
		loaded, loadedDescs, err := loader.Load(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("load settlement snapshot")
		}
		snapshot = loaded
		if len(loadedDescs) > 0 {
			descs = loadedDescs
		}
	}
	base := cfg.BaseCurrency
	if !hasCurrency(descs, base) {
		logger.Warn().Str("base", base).Msg("base currency not configured, using stored base")
		base = ""
	}
	document := cfg.DocumentCurrency
	if !hasCurrency(descs, document) {
		logger.Warn().Str("document", document).Msg("document currency not configured, using base")
		document = ""
	}
	currencies, err := currency.NewStore(descs, base, document)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise currency store")
	}

	var registry prometheus.Registerer = prometheus.DefaultRegisterer
	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.EnablePrometheus {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), registry)
	}
	domainMetrics := obs.NewSettlementMetrics(cfg.Obs.MetricsNamespace, registry)

	unsubscribe := currencies.Subscribe(func(snap currency.Snapshot) {
		logger.Info().
			Uint64("version", snap.Version).
			Str("base", snap.BaseCode).
			Str("document", snap.Document).
			Msg("currency configuration changed")
	})
	defer unsubscribe()

	var prefs preference.Store = preference.NewMemoryStore()
	if redisClient != nil {
		prefs = preference.RedisStore{Client: redisClient, Prefix: cfg.PreferencePrefix, TTL: cfg.PreferenceTTL}
	}

	settlementLogger := logger.With().Str("component", "settlement").Logger()
	svc, err := settlement.NewService(settlement.ServiceConfig{
		Currency:    currencies,
		Snapshot:    snapshot,
		Preferences: prefs,
		Notifier: settlement.Notifiers{
			settlement.LogNotifier{Logger: settlementLogger},
			settlement.MetricsNotifier{Metrics: domainMetrics},
		},
		Metrics:       domainMetrics,
		Logger:        logger,
		QuantityTiers: cfg.QuantityTiers,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise settlement service")
	}
	if loader != nil && cfg.SnapshotReloadInterval > 0 {
		breaker := resilience.NewBreaker(3, 0.5, 4*cfg.SnapshotReloadInterval).
			WithTarget("snapshot").
			WithLogger(settlementLogger).
			WithMetrics(resilience.NewBreakerMetrics(cfg.Obs.MetricsNamespace, registry))
		go svc.Watch(ctx, settlement.GuardedSource{Source: loader, Breaker: breaker}, cfg.SnapshotReloadInterval)
	}

	currencyHandler := &currency.Handler{Store: currencies, Metrics: domainMetrics}
	settlementHandler := &settlement.Handler{Svc: svc, Logger: settlementLogger}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	var limiter ratelimit.Allower = ratelimit.NewMemoryFixedWindow("pos")
	if redisClient != nil {
		limiter = ratelimit.Limiter{Client: redisClient, Prefix: "pos:rl:"}
	}
	rateLimit := ratelimit.Handler{
		Limiter: limiter,
		Config:  ratelimit.Config{Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(common.TerminalMiddleware)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", common.TerminalHeader},
		ExposedHeaders:   []string{"X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.Obs.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Obs.EnablePprof {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.Obs.PprofUser, cfg.Obs.PprofPass))
	}

	healthHandler := health.Handler{Probes: probes}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(rateLimit.Middleware)

		v.Route("/currencies", func(c chi.Router) {
			c.Get("/", currencyHandler.List)
			c.Post("/convert", currencyHandler.Convert)
			c.Post("/format", currencyHandler.Format)
			c.Group(func(g chi.Router) {
				g.Use(idem.Middleware)
				g.Put("/{code}", currencyHandler.Update)
				g.Post("/base", currencyHandler.SetBase)
				g.Post("/document", currencyHandler.SetDocument)
			})
		})

		v.Post("/prices/resolve", settlementHandler.ResolvePrice)
		v.Post("/settlements/quote", settlementHandler.Quote)
		v.Post("/settlements/preview", settlementHandler.Preview)

		v.Get("/terminals/{terminal}/price-column", settlementHandler.GetPriceColumn)
		v.Put("/terminals/{terminal}/price-column", settlementHandler.SetPriceColumn)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().
		Str("addr", srv.Addr).
		Str("base_currency", currencies.Base()).
		Uint64("snapshot_revision", svc.Snapshot().Revision).
		Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func openPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{Component: "snapshot-loader"}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "pos-settlement"

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func openRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
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
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func hasCurrency(descs []currency.Descriptor, code string) bool {
	code = currency.NormalizeCode(code)
	for _, d := range descs {
		if currency.NormalizeCode(d.Code) == code {
			return true
		}
	}
	return false
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
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
