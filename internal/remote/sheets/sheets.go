// Package sheets reads taxonomy value lists from a Google spreadsheet. The
// sheet holds one column per taxonomy key; row 1 is the key
// ("category/expense", "paymentMethod", ...) and the values follow below.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"bookkeep/internal/remote"
)

const DefaultSheetName = "Taxonomy"

// tableRange bounds the read; the taxonomy is a handful of short columns.
const tableRange = "A1:Z500"

var _ remote.TaxonomySource = (*Client)(nil)

type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// New creates a client authenticated with the configured service account.
// Extra options are appended last, so tests can point it at a fake endpoint.
func New(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = DefaultSheetName
	}

	var all []goption.ClientOption
	if len(opts) == 0 {
		creds, err := credentials(ctx, cfg)
		if err != nil {
			return nil, err
		}
		all = append(all,
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	}
	all = append(all, opts...)

	svc, err := gsheet.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets taxonomy source ready",
		"spreadsheet_id", cfg.SpreadsheetID, "sheet", cfg.SheetName)

	return &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID, sheetName: cfg.SheetName}, nil
}

// FetchCategoryValues returns the column headed by key. A missing column is
// an empty list, not an error. The spreadsheet is per book, so bookID is
// unused.
func (c *Client) FetchCategoryValues(ctx context.Context, _ int64, key remote.TaxonomyKey) ([]string, error) {
	rows, err := c.readTable(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := -1
	for i, h := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(fmt.Sprint(h)), key.String()) {
			col = i
			break
		}
	}
	if col < 0 {
		slog.DebugContext(ctx, "No taxonomy column in sheet", "key", key.String())
		return nil, nil
	}

	var out []string
	seen := map[string]struct{}{}
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		v := strings.TrimSpace(fmt.Sprint(row[col]))
		if v == "" || strings.HasPrefix(v, "#") {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

func (c *Client) readTable(ctx context.Context) ([][]any, error) {
	rng := fmt.Sprintf("%s!%s", c.sheetName, tableRange)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

func credentials(ctx context.Context, cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.ServiceAccountJSON) != "":
		slog.DebugContext(ctx, "Using inline service account credentials")
		return []byte(cfg.ServiceAccountJSON), nil
	case strings.TrimSpace(cfg.ServiceAccountFile) != "":
		b, err := os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}
