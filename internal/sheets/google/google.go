package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"tidytab/internal/core"
	ports "tidytab/internal/sheets"
)

type Client struct {
	svc              *gsheet.Service
	spreadsheetID    string
	settlementsSheet string
}

// Ensure interface conformance
var _ ports.SettlementWriter = (*Client)(nil)

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Optional: GOOGLE_SETTLEMENTS_SHEET_NAME (default "Settlements"); the
// current year is prefixed automatically so each year gets its own sheet.
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	base := strings.TrimSpace(os.Getenv("GOOGLE_SETTLEMENTS_SHEET_NAME"))
	if base == "" {
		base = "Settlements"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:              svc,
		spreadsheetID:    spreadsheetID,
		settlementsSheet: yearPrefixedName(base, time.Now().Year()),
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))

	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error

	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return service, nil
}

// AppendSettlement writes one row per member share below the current end
// of the settlements sheet. Rows for one tab are written in a single
// update so a retry after partial failure rewrites the whole block.
func (c *Client) AppendSettlement(ctx context.Context, s core.Settlement) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	rows := settlementRows(s)
	if len(rows) == 0 {
		return "", fmt.Errorf("settlement for tab %s has no member shares", s.TabID)
	}

	// Find the next empty row by getting the sheet dimensions first
	rng := fmt.Sprintf("%s!A:A", c.settlementsSheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get sheet dimensions for %s: %w", c.settlementsSheet, err)
	}

	firstRow := len(resp.Values) + 1
	lastRow := firstRow + len(rows) - 1
	dataRange := fmt.Sprintf("%s!A%d:G%d", c.settlementsSheet, firstRow, lastRow)
	vr := &gsheet.ValueRange{Values: rows}

	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, dataRange, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to update %s: %w", dataRange, err)
	}

	slog.InfoContext(ctx, "Appended settlement to Google Sheets",
		"tab_id", s.TabID,
		"rows", len(rows),
		"range", dataRange)

	return dataRange, nil
}

// settlementRows flattens a settlement into sheet rows:
// date, tab name, category, member, net, tab total, tab id.
func settlementRows(s core.Settlement) [][]any {
	date := s.ResolvedAt.Format("2006-01-02")
	total := float64(s.Total.Cents) / 100.0

	rows := make([][]any, 0, len(s.Shares))
	for _, share := range s.Shares {
		net := float64(share.Net.Cents) / 100.0
		rows = append(rows, []any{date, s.TabName, string(s.Category), share.DisplayName, net, total, s.TabID})
	}
	return rows
}

// yearPrefixedName prepends the year unless the base already carries one.
func yearPrefixedName(base string, year int) string {
	prefix := fmt.Sprintf("%d ", year)
	if strings.HasPrefix(base, prefix) {
		return base
	}
	return prefix + base
}
