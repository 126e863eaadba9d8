package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"txcat/internal/core"
	logpkg "txcat/internal/log"
	"txcat/internal/predictor"
)

func newTestServer(t *testing.T, p Predictor, cfg Config) *Server {
	t.Helper()
	cfg.Logger = logpkg.New(logpkg.Config{Output: &bytes.Buffer{}})
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 100
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 1000
	}
	srv := NewServer(cfg, p)
	srv.now = func() time.Time { return time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func fallbackPredictor(t *testing.T) *predictor.Predictor {
	t.Helper()
	p := predictor.New(predictor.Config{Workers: 2})
	// No artifact: the predictor serves the keyword rules.
	_ = p.Load(context.Background(), nil)
	return p
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

// countingPredictor answers every transaction with Food.
type countingPredictor struct {
	calls atomic.Int64
	state predictor.State
}

func (c *countingPredictor) Predict(ctx context.Context, tx core.Transaction) (predictor.Result, error) {
	c.calls.Add(1)
	return predictor.Result{Category: core.Food, Confidence: 0.9, Source: predictor.SourceModel, ModelVersion: "v1"}, nil
}

func (c *countingPredictor) PredictBatch(ctx context.Context, txs []core.Transaction) ([]predictor.BatchItem, error) {
	out := make([]predictor.BatchItem, len(txs))
	for i, tx := range txs {
		out[i].Result, out[i].Err = c.Predict(ctx, tx)
	}
	return out, nil
}

func (c *countingPredictor) State() predictor.State { return c.state }
func (c *countingPredictor) ModelVersion() string   { return "v1" }

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, fallbackPredictor(t), Config{})

	for _, path := range []string{"/healthz", "/health", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		var body HealthResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if body.ModelLoaded || body.State != "fallback_ready" {
			t.Fatalf("%s: unexpected body %+v", path, body)
		}
	}

	rr := do(t, srv, http.MethodGet, "/", "")
	var root StatusResponse
	if rr.Code != http.StatusOK || json.Unmarshal(rr.Body.Bytes(), &root) != nil || root.Status != "running" {
		t.Fatalf("root: status=%d body=%s", rr.Code, rr.Body.String())
	}

	notReady := newTestServer(t, &countingPredictor{state: predictor.StateLoading}, Config{})
	if rr := do(t, notReady, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz while loading: status=%d", rr.Code)
	}
	if rr := do(t, notReady, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz must not depend on the model: status=%d", rr.Code)
	}
}

func TestPredictValidation(t *testing.T) {
	srv := newTestServer(t, fallbackPredictor(t), Config{})

	tests := []struct {
		name  string
		body  string
		code  int
		field string
	}{
		{"empty body", ``, http.StatusBadRequest, "body"},
		{"malformed", `{"description":`, http.StatusBadRequest, "body"},
		{"two documents", `{"description":"a","amount":1}{}`, http.StatusBadRequest, "body"},
		{"missing description", `{"amount":12.5}`, http.StatusBadRequest, "description"},
		{"blank description", `{"description":"   ","amount":12.5}`, http.StatusBadRequest, "description"},
		{"missing amount", `{"description":"Uber ride"}`, http.StatusBadRequest, "amount"},
		{"zero amount", `{"description":"Uber ride","amount":0}`, http.StatusBadRequest, "amount"},
		{"negative amount", `{"description":"Uber ride","amount":-3}`, http.StatusBadRequest, "amount"},
		{"ok", `{"description":"Uber ride downtown","amount":25.5,"date":"2024-01-15"}`, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/predict", tt.body)
			if rr.Code != tt.code {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			if rr.Header().Get("Content-Type") != "application/json" {
				t.Fatalf("content type %q", rr.Header().Get("Content-Type"))
			}
			if tt.code != http.StatusOK {
				var e ErrorResponse
				if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil || e.Error == "" || e.Field != tt.field {
					t.Fatalf("unexpected error body %s (%v)", rr.Body.String(), err)
				}
			}
		})
	}
}

func TestPredictFallback(t *testing.T) {
	srv := newTestServer(t, fallbackPredictor(t), Config{})

	rr := do(t, srv, http.MethodPost, "/predict", `{"description":"Uber ride downtown","amount":25.50}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got PredictionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Category != core.Transport || got.Source != predictor.SourceFallback {
		t.Fatalf("unexpected prediction %+v", got)
	}
	if got.Confidence != predictor.DefaultFallbackConfidence || got.Amount != 25.5 {
		t.Fatalf("unexpected confidence/amount %+v", got)
	}
	var sum float64
	for _, p := range got.Probabilities {
		sum += p
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("probabilities sum to %v", sum)
	}
}

func TestPredictCache(t *testing.T) {
	p := &countingPredictor{state: predictor.StateModelReady}
	srv := newTestServer(t, p, Config{})

	bodies := []string{
		`{"description":"Starbucks Coffee","amount":4.5,"date":"2024-05-14"}`,
		`{"description":"  starbucks   coffee ","amount":4.50}`,
		`{"description":"Starbucks Coffee","amount":4.5,"date":"2024-05-15"}`,
	}
	for _, b := range bodies {
		if rr := do(t, srv, http.MethodPost, "/predict", b); rr.Code != http.StatusOK {
			t.Fatalf("status=%d", rr.Code)
		}
	}
	// The second body normalizes to the first: same text, amount and,
	// with no date, today.
	if n := p.calls.Load(); n != 2 {
		t.Fatalf("predictor called %d times, want 2", n)
	}
	if st := srv.predictionCache.Stats(); st.Hits != 1 {
		t.Fatalf("unexpected cache stats %+v", st)
	}
}

func TestPredictBatch(t *testing.T) {
	srv := newTestServer(t, fallbackPredictor(t), Config{})

	body := `{"transactions":[
		{"description":"Uber ride downtown","amount":25.5,"date":"2024-01-15","user_id":"u1"},
		{"description":"","amount":10},
		{"description":"Starbucks coffee","amount":4.75},
		{"description":"Monthly salary","amount":3500},
		{"description":"Refund","amount":-20}
	]}`
	rr := do(t, srv, http.MethodPost, "/predict-batch", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got BatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalTransactions != 5 || len(got.Predictions) != 5 {
		t.Fatalf("unexpected totals %+v", got)
	}

	want := []struct {
		category core.Category
		rejected bool
	}{
		{core.Transport, false},
		{"", true},
		{core.Food, false},
		{core.Income, false},
		{"", true},
	}
	for i, w := range want {
		p := got.Predictions[i]
		if p.Index != i || (p.Error != "") != w.rejected || p.PredictedCategory != w.category {
			t.Errorf("item %d: %+v", i, p)
		}
	}
	if got.Predictions[0].UserID != "u1" {
		t.Errorf("user id not echoed: %+v", got.Predictions[0])
	}

	in := got.Insights
	if in.TotalTransactions != 3 || in.TotalSpent != 3530.25 {
		t.Fatalf("unexpected insights %+v", in)
	}
	if len(in.TopCategories) == 0 || in.TopCategories[0].Category != core.Income {
		t.Fatalf("unexpected top categories %+v", in.TopCategories)
	}
}

func TestPredictBatchValidation(t *testing.T) {
	srv := newTestServer(t, fallbackPredictor(t), Config{MaxBatchSize: 2})

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing list", `{}`, http.StatusBadRequest},
		{"too many", `{"transactions":[{"description":"a","amount":1},{"description":"b","amount":1},{"description":"c","amount":1}]}`, http.StatusBadRequest},
		{"empty list", `{"transactions":[]}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := do(t, srv, http.MethodPost, "/predict-batch", tt.body); rr.Code != tt.code {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestPredictNotReady(t *testing.T) {
	srv := newTestServer(t, predictor.New(predictor.Config{}), Config{})
	rr := do(t, srv, http.MethodPost, "/predict", `{"description":"Uber","amount":10}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestRoutingAndMiddleware(t *testing.T) {
	srv := newTestServer(t, fallbackPredictor(t), Config{RequestsPerMinute: 1})

	if rr := do(t, srv, http.MethodGet, "/predict", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /predict status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/nope", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown route status=%d", rr.Code)
	}

	body := `{"description":"Uber","amount":10}`
	first := do(t, srv, http.MethodPost, "/predict", body)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status=%d", first.Code)
	}
	if first.Header().Get("X-Request-ID") == "" || first.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("middleware headers missing: %v", first.Header())
	}
	if rr := do(t, srv, http.MethodPost, "/predict", body); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status=%d", rr.Code)
	}

	rr := do(t, srv, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "rate_limit_hits_total 1") {
		t.Fatalf("metrics: %d %s", rr.Code, rr.Body.String())
	}
}
