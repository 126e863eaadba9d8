package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"txcat/internal/core"
)

// DefaultSheetName is the tab read when none is configured.
const DefaultSheetName = "Transactions"

// SheetsSource reads a labeled tab whose first row is the CSV header.
type SheetsSource struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	labels        core.CategorySet
}

func NewSheetsSource(ctx context.Context, spreadsheetID, sheetName string, labels core.CategorySet) (*SheetsSource, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(sheetName) == "" {
		sheetName = DefaultSheetName
	}
	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &SheetsSource{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName, labels: labels}, nil
}

// newSheetsService uses GOOGLE_SERVICE_ACCOUNT_JSON or
// GOOGLE_SERVICE_ACCOUNT_FILE when set, otherwise Application Default
// Credentials.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	opts := []goption.ClientOption{goption.WithScopes(gsheet.SpreadsheetsReadonlyScope)}

	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	switch {
	case serviceAccountJSON != "":
		slog.DebugContext(ctx, "Using inline JSON credentials")
		opts = append(opts, goption.WithCredentialsJSON([]byte(serviceAccountJSON)))
	case serviceAccountFile != "":
		slog.DebugContext(ctx, "Reading credentials from file", "path", serviceAccountFile)
		data, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		opts = append(opts, goption.WithCredentialsJSON(data))
	default:
		slog.DebugContext(ctx, "Using application default credentials")
	}

	service, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func (s *SheetsSource) Name() string { return string(KindSheets) }

func (s *SheetsSource) Load(ctx context.Context) ([]core.LabeledTransaction, error) {
	rng := fmt.Sprintf("%s!A:Z", s.sheetName)
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return parseValues(resp.Values, s.labels)
}

// parseValues converts a values matrix as returned by the Sheets API.
func parseValues(values [][]interface{}, labels core.CategorySet) ([]core.LabeledTransaction, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if len(labels) == 0 {
		labels = core.DefaultCategories
	}
	p, err := newRowParser(toStrings(values[0]), labels)
	if err != nil {
		return nil, err
	}
	var out []core.LabeledTransaction
	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		if blank(row) {
			continue
		}
		lt, err := p.parse(row, i+1)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, nil
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		if v == nil {
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}
