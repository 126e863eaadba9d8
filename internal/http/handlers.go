package http

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"txcat/internal/core"
	"txcat/internal/insights"
	logpkg "txcat/internal/log"
	"txcat/internal/predictor"
)

// appMetrics holds application-level counters exposed on /metrics.
type appMetrics struct {
	predictions         int64
	batchRequests       int64
	batchItems          int64
	rejectedItems       int64
	fallbackPredictions int64
	degradedPredictions int64
	uptime              time.Time
}

func newAppMetrics() *appMetrics {
	return &appMetrics{uptime: time.Now()}
}

func (m *appMetrics) record(res predictor.Result) {
	atomic.AddInt64(&m.predictions, 1)
	if res.Source == predictor.SourceFallback {
		atomic.AddInt64(&m.fallbackPredictions, 1)
	}
	if res.Degraded {
		atomic.AddInt64(&m.degradedPredictions, 1)
	}
}

// cacheKey identifies a prediction by everything it depends on.
func cacheKey(tx core.Transaction, modelVersion string) string {
	desc := strings.Join(strings.Fields(strings.ToLower(tx.Description)), " ")
	return fmt.Sprintf("%s|%s|%s|%s", modelVersion, tx.Amount.String(), tx.Date.Format(core.DateLayout), desc)
}

// handlePredict categorizes a single transaction.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := s.toTransaction(r, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	key := cacheKey(tx, s.predictor.ModelVersion())
	res, hit := s.predictionCache.Get(key)
	if !hit {
		res, err = s.predictor.Predict(ctx, tx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		// A degraded answer reflects a transient model failure.
		if !res.Degraded {
			s.predictionCache.Set(key, res)
		}
	}
	s.appMetrics.record(res)

	logpkg.NewStructuredLogger(logpkg.FromContext(ctx)).LogPrediction(ctx, logpkg.OpPredict,
		string(res.Category), string(res.Source), res.Confidence, res.ModelVersion)
	writeJSON(w, r, http.StatusOK, newPredictionResponse(tx, res))
}

// handlePredictBatch categorizes a list of transactions and summarizes the
// accepted ones. Invalid items are reported in place and never fail the
// request.
func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logpkg.FromContext(ctx)

	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Transactions == nil {
		writeError(w, r, &core.ValidationError{Field: "transactions", Reason: "is required"})
		return
	}
	if len(req.Transactions) > s.maxBatch {
		writeError(w, r, &core.ValidationError{
			Field:  "transactions",
			Reason: fmt.Sprintf("at most %d transactions per request", s.maxBatch),
		})
		return
	}

	out := make([]BatchPrediction, len(req.Transactions))
	accepted := make([]core.Transaction, 0, len(req.Transactions))
	positions := make([]int, 0, len(req.Transactions))
	for i, item := range req.Transactions {
		out[i] = BatchPrediction{Index: i, Description: item.Description, UserID: item.UserID}
		if f, err := item.Amount.Float64(); err == nil {
			out[i].Amount = f
		}
		tx, err := s.toTransaction(r, item)
		if err != nil {
			out[i].Error = err.Error()
			continue
		}
		accepted = append(accepted, tx)
		positions = append(positions, i)
	}

	items, err := s.predictor.PredictBatch(ctx, accepted)
	if err != nil {
		writeError(w, r, err)
		return
	}

	for j, it := range items {
		i := positions[j]
		if it.Err != nil {
			out[i].Error = it.Err.Error()
			continue
		}
		out[i].PredictedCategory = it.Result.Category
		out[i].Confidence = it.Result.Confidence
		out[i].Source = it.Result.Source
		out[i].Degraded = it.Result.Degraded
		s.appMetrics.record(it.Result)
	}

	rejected := 0
	for _, p := range out {
		if p.Error != "" {
			rejected++
		}
	}
	atomic.AddInt64(&s.appMetrics.batchRequests, 1)
	atomic.AddInt64(&s.appMetrics.batchItems, int64(len(out)))
	atomic.AddInt64(&s.appMetrics.rejectedItems, int64(rejected))

	summary := insights.Summarize(insights.FromBatch(accepted, items), s.topN)
	logger.InfoContext(ctx, "Batch categorized",
		logpkg.FieldOperation, logpkg.OpPredictBatch,
		logpkg.FieldBatchSize, len(out),
		"rejected", rejected)

	writeJSON(w, r, http.StatusOK, BatchResponse{
		Predictions:       out,
		Insights:          insights.NewReport(summary),
		TotalTransactions: len(out),
		ModelVersion:      s.predictor.ModelVersion(),
	})
}

func (s *Server) healthResponse(status string) HealthResponse {
	return HealthResponse{
		Status:       status,
		State:        s.predictor.State().String(),
		ModelLoaded:  s.predictor.State() == predictor.StateModelReady,
		ModelVersion: s.predictor.ModelVersion(),
		Timestamp:    s.now().UTC().Format(time.RFC3339),
		Uptime:       time.Since(s.appMetrics.uptime).Round(time.Second).String(),
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, StatusResponse{Message: "txcat categorization API", Status: "running"})
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.healthResponse("healthy"))
}

// handleReady reports whether predictions can be served, from the model or
// from the fallback rules.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	switch s.predictor.State() {
	case predictor.StateModelReady, predictor.StateFallbackReady:
		writeJSON(w, r, http.StatusOK, s.healthResponse("ready"))
	default:
		writeJSON(w, r, http.StatusServiceUnavailable, s.healthResponse("not_ready"))
	}
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.traceMiddleware.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	securityMetrics := s.securityDetector.GetMetrics()
	cacheStats := s.predictionCache.Stats()

	w.WriteHeader(http.StatusOK)

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
		fmt.Fprintf(w, "%s %v\n\n", name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("http_errors_total", "counter", "Total number of 5xx responses", traceMetrics.TotalErrors)
	metric("http_request_duration_avg_ms", "gauge", "Mean request duration", traceMetrics.AverageResponseTime().Milliseconds())
	metric("predictions_total", "counter", "Total transactions categorized", atomic.LoadInt64(&s.appMetrics.predictions))
	metric("predictions_fallback_total", "counter", "Predictions answered by fallback rules", atomic.LoadInt64(&s.appMetrics.fallbackPredictions))
	metric("predictions_degraded_total", "counter", "Model failures answered by fallback rules", atomic.LoadInt64(&s.appMetrics.degradedPredictions))
	metric("batch_requests_total", "counter", "Total batch requests", atomic.LoadInt64(&s.appMetrics.batchRequests))
	metric("batch_items_total", "counter", "Total batch items received", atomic.LoadInt64(&s.appMetrics.batchItems))
	metric("batch_items_rejected_total", "counter", "Batch items rejected as invalid", atomic.LoadInt64(&s.appMetrics.rejectedItems))
	metric("cache_hits_total", "counter", "Total prediction cache hits", cacheStats.Hits)
	metric("cache_misses_total", "counter", "Total prediction cache misses", cacheStats.Misses)
	metric("cache_entries", "gauge", "Current prediction cache entries", cacheStats.Size)
	metric("rate_limit_hits_total", "counter", "Total rate limit hits", rateLimitMetrics.TotalHits)
	metric("active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", rateLimitMetrics.ClientCount)
	metric("suspicious_requests_total", "counter", "Total suspicious requests detected", securityMetrics.SuspiciousRequests)
	metric("uptime_seconds", "gauge", "Application uptime in seconds", int64(time.Since(s.appMetrics.uptime).Seconds()))
}
