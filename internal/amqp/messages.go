package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"txcat/internal/insights"
)

// Transaction is one item of a categorization request. Amount is kept as
// the sender wrote it.
type Transaction struct {
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
	Date        string      `json:"date,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
}

// CategorizeRequest asks the worker to categorize a batch.
type CategorizeRequest struct {
	RequestID    string        `json:"request_id"`
	Transactions []Transaction `json:"transactions"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Prediction is the categorization of the transaction at Index.
type Prediction struct {
	Index             int                `json:"index"`
	Description       string             `json:"description"`
	Amount            json.Number        `json:"amount"`
	UserID            string             `json:"user_id,omitempty"`
	PredictedCategory string             `json:"predicted_category"`
	Confidence        float64            `json:"confidence"`
	Probabilities     map[string]float64 `json:"probabilities,omitempty"`
	Source            string             `json:"source"`
	Degraded          bool               `json:"degraded,omitempty"`
	ModelVersion      string             `json:"model_version,omitempty"`
}

// ItemError reports a transaction that could not be categorized.
type ItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// CategorizeResult answers a CategorizeRequest.
type CategorizeResult struct {
	RequestID   string          `json:"request_id"`
	Predictions []Prediction    `json:"predictions"`
	Errors      []ItemError     `json:"errors,omitempty"`
	Insights    insights.Report `json:"insights"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewCategorizeRequest creates a request with a fresh id.
func NewCategorizeRequest(txs []Transaction) *CategorizeRequest {
	return &CategorizeRequest{
		RequestID:    uuid.NewString(),
		Transactions: txs,
		Timestamp:    time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *CategorizeRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CategorizeRequestFromJSON decodes a request. A request without id is
// malformed.
func CategorizeRequestFromJSON(data []byte) (*CategorizeRequest, error) {
	var msg CategorizeRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.RequestID == "" {
		return nil, errors.New("missing request_id")
	}
	return &msg, nil
}

// ToJSON converts the message to JSON bytes
func (m *CategorizeResult) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func CategorizeResultFromJSON(data []byte) (*CategorizeResult, error) {
	var msg CategorizeResult
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
