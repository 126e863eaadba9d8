// Package http serves the categorization engine as a JSON API.
//
// This file decodes and validates request bodies into domain transactions.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"txcat/internal/core"
	logpkg "txcat/internal/log"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// TransactionRequest is one transaction as posted by clients. Amount is
// kept as a json.Number so decimal amounts survive decoding exactly.
type TransactionRequest struct {
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
	Date        string      `json:"date,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
}

// BatchRequest is the body of POST /predict-batch.
type BatchRequest struct {
	Transactions []TransactionRequest `json:"transactions"`
}

// decodeJSON reads a single JSON document from the body into dst. Unknown
// fields are tolerated; trailing garbage is not.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return &core.ValidationError{Field: "body", Reason: fmt.Sprintf("exceeds %d bytes", tooLarge.Limit)}
		case errors.Is(err, io.EOF):
			return &core.ValidationError{Field: "body", Reason: "must not be empty"}
		default:
			return &core.ValidationError{Field: "body", Reason: "malformed JSON", Err: err}
		}
	}
	if dec.More() {
		return &core.ValidationError{Field: "body", Reason: "must contain a single JSON object"}
	}
	return nil
}

// toTransaction validates a request item. A missing or unparseable date is
// replaced by today so the result does not depend on when it is served
// from cache.
func (s *Server) toTransaction(r *http.Request, req TransactionRequest) (core.Transaction, error) {
	amount, err := core.ParseNumber(req.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	tx := core.Transaction{
		Description: strings.TrimSpace(req.Description),
		Amount:      amount,
		UserID:      strings.TrimSpace(req.UserID),
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	date, err := core.ParseDate(req.Date)
	if err != nil {
		logpkg.FromContext(r.Context()).WarnContext(r.Context(), "Unparseable date, using processing date",
			"date", req.Date)
		date = time.Time{}
	}
	if date.IsZero() {
		now := s.now()
		date = core.NewDate(now.Year(), int(now.Month()), now.Day())
	}
	tx.Date = date
	return tx, nil
}
