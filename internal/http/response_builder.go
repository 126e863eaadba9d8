// This file builds the JSON responses of the API.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"txcat/internal/core"
	"txcat/internal/features"
	"txcat/internal/insights"
	logpkg "txcat/internal/log"
	"txcat/internal/predictor"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// PredictionResponse is the body of POST /predict.
type PredictionResponse struct {
	Category      core.Category             `json:"category"`
	Confidence    float64                   `json:"confidence"`
	Description   string                    `json:"description"`
	Amount        float64                   `json:"amount"`
	Probabilities map[core.Category]float64 `json:"probabilities"`
	Source        predictor.Source          `json:"source"`
	Degraded      bool                      `json:"degraded,omitempty"`
	ModelVersion  string                    `json:"model_version,omitempty"`
}

// BatchPrediction is one element of a batch response. Rejected items carry
// Error and no category.
type BatchPrediction struct {
	Index             int              `json:"index"`
	Description       string           `json:"description"`
	Amount            float64          `json:"amount"`
	UserID            string           `json:"user_id,omitempty"`
	PredictedCategory core.Category    `json:"predicted_category,omitempty"`
	Confidence        float64          `json:"confidence"`
	Source            predictor.Source `json:"source,omitempty"`
	Degraded          bool             `json:"degraded,omitempty"`
	Error             string           `json:"error,omitempty"`
}

// BatchResponse is the body of POST /predict-batch.
type BatchResponse struct {
	Predictions       []BatchPrediction `json:"predictions"`
	Insights          insights.Report   `json:"insights"`
	TotalTransactions int               `json:"total_transactions"`
	ModelVersion      string            `json:"model_version,omitempty"`
}

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// HealthResponse is the body of GET /healthz (alias /health) and GET /readyz.
type HealthResponse struct {
	Status       string `json:"status"`
	State        string `json:"state"`
	ModelLoaded  bool   `json:"model_loaded"`
	ModelVersion string `json:"model_version,omitempty"`
	Timestamp    string `json:"timestamp"`
	Uptime       string `json:"uptime,omitempty"`
}

func newPredictionResponse(tx core.Transaction, res predictor.Result) PredictionResponse {
	return PredictionResponse{
		Category:      res.Category,
		Confidence:    res.Confidence,
		Description:   tx.Description,
		Amount:        tx.Amount.InexactFloat64(),
		Probabilities: res.Probabilities,
		Source:        res.Source,
		Degraded:      res.Degraded,
		ModelVersion:  res.ModelVersion,
	}
}

// writeJSON encodes v with the given status. Encoding failures can only be
// logged since the header is already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logpkg.FromContext(r.Context()).WarnContext(r.Context(), "Failed to write response",
			logpkg.FieldError, err)
	}
}

// writeError maps an error onto a status code and a JSON error body.
// Validation problems are the caller's fault; anything else is not.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *core.ValidationError
	var xerr *features.ExtractionError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.As(err, &xerr):
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: xerr.Error(), Field: "amount"})
	case errors.Is(err, predictor.ErrNotReady):
		writeJSON(w, r, http.StatusServiceUnavailable, ErrorResponse{Error: "service is starting, retry shortly"})
	default:
		logpkg.NewStructuredLogger(logpkg.FromContext(r.Context())).
			LogError(r.Context(), "Request failed", err, logpkg.OpPredict, nil)
		writeJSON(w, r, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, ErrorResponse{Error: msg})
}
