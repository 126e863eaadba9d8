package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"txcat/internal/cache"
	"txcat/internal/core"
	"txcat/internal/insights"
	logpkg "txcat/internal/log"
	"txcat/internal/middleware/ratelimit"
	"txcat/internal/middleware/security"
	"txcat/internal/middleware/trace"
	"txcat/internal/predictor"
)

// Predictor is the part of the predictor the API serves.
type Predictor interface {
	Predict(ctx context.Context, tx core.Transaction) (predictor.Result, error)
	PredictBatch(ctx context.Context, txs []core.Transaction) ([]predictor.BatchItem, error)
	State() predictor.State
	ModelVersion() string
}

// Config holds the API server settings.
type Config struct {
	Addr              string
	TopN              int
	CacheSize         int
	CacheTTL          time.Duration
	RequestsPerMinute int
	// MaxBatchSize bounds the transactions of one batch request.
	MaxBatchSize int
	Logger       *logpkg.Logger
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8081",
		TopN:              insights.DefaultTopN,
		CacheSize:         1000,
		CacheTTL:          10 * time.Minute,
		RequestsPerMinute: ratelimit.DefaultConfig().RequestsPerMinute,
		MaxBatchSize:      1000,
	}
}

// Server is the categorization HTTP API.
type Server struct {
	http.Server
	predictor Predictor
	topN      int
	maxBatch  int
	now       func() time.Time

	// Single predictions keyed by normalized input and model version.
	predictionCache *cache.LRUCache[predictor.Result]
	cacheManager    *cache.Manager

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	appMetrics       *appMetrics

	shutdownOnce sync.Once
}

// NewServer wires the routes and middleware around p. Background cache
// and rate limiter cleanup run until Shutdown.
func NewServer(cfg Config, p Predictor) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logpkg.New(logpkg.DefaultConfig())
	}

	detector := security.NewDetector()
	s := &Server{
		predictor:        p,
		topN:             cfg.TopN,
		maxBatch:         cfg.MaxBatchSize,
		now:              time.Now,
		predictionCache:  cache.NewLRUCache[predictor.Result](cfg.CacheSize, cfg.CacheTTL),
		cacheManager:     cache.NewManager(),
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RequestsPerMinute}),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(cfg.Logger, detector.ExtractClientIP),
		appMetrics:       newAppMetrics(),
	}
	s.cacheManager.Register(s.predictionCache)
	s.cacheManager.StartCleanup(context.Background(), time.Minute)

	limited := s.rateLimiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, r, http.StatusTooManyRequests, "rate limit exceeded, retry later")
	})

	r := mux.NewRouter()
	r.Handle("/predict", limited(http.HandlerFunc(s.handlePredict))).Methods(http.MethodPost)
	r.Handle("/predict-batch", limited(http.HandlerFunc(s.handlePredictBatch))).Methods(http.MethodPost)
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Router middleware only runs on matched routes, so the chain wraps
	// the router to cover 404s and blocked probes too.
	var handler http.Handler = r
	handler = detector.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown stops background work and gracefully shuts down the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	// Ensure shutdown logic runs only once
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
