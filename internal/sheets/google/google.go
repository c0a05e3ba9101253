package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"conti/internal/core"
	ports "conti/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Config selects the spreadsheet and the credentials used to write it: a
// service account, or an OAuth client plus a token from conti-sheets-auth.
type Config struct {
	SpreadsheetID string
	// SheetName is the base tab name; the transaction year is prefixed.
	SheetName       string
	CredentialsJSON string
	CredentialsFile string

	OAuthClientJSON string
	OAuthClientFile string
	OAuthTokenFile  string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	location      *time.Location
}

// Ensure interface conformance
var _ ports.TransactionWriter = (*Client)(nil)

// New creates a Sheets client from cfg. Dates in the mirrored rows are
// rendered in loc.
func New(ctx context.Context, cfg Config, loc *time.Location) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Transactions"
	}
	if loc == nil {
		loc = time.UTC
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     base,
		location:      loc,
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account
// credentials, inline or from a file, or a saved OAuth token.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	credentialsJSON := []byte(strings.TrimSpace(cfg.CredentialsJSON))
	file := strings.TrimSpace(cfg.CredentialsFile)
	tokenFile := strings.TrimSpace(cfg.OAuthTokenFile)

	var opt goption.ClientOption
	switch {
	case len(credentialsJSON) > 0:
		slog.InfoContext(ctx, "Using inline JSON credentials")
		opt = goption.WithCredentialsJSON(credentialsJSON)
	case file != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", file)
		var err error
		credentialsJSON, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		opt = goption.WithCredentialsJSON(credentialsJSON)
	case tokenFile != "":
		slog.InfoContext(ctx, "Using OAuth token", "path", tokenFile)
		oauthCfg, err := OAuthConfig(cfg.OAuthClientJSON, cfg.OAuthClientFile)
		if err != nil {
			return nil, err
		}
		tok, err := LoadToken(tokenFile)
		if err != nil {
			return nil, err
		}
		opt = goption.WithTokenSource(oauthCfg.TokenSource(ctx, tok))
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_OAUTH_TOKEN_FILE)")
	}

	service, err := gsheet.NewService(ctx, opt, goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created successfully")
	return service, nil
}

// AppendTransaction adds one row for tx to the tab of the transaction's year.
func (c *Client) AppendTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := yearPrefixedName(c.sheetBase, tx.CreatedAt.In(c.location).Year())
	rng := fmt.Sprintf("%s!A:I", sheet)
	vr := &gsheet.ValueRange{Values: [][]any{transactionRow(tx, c.location)}}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		return resp.Updates.UpdatedRange, nil
	}
	return sheet, nil
}

// transactionRow lays out tx as: date, id, type, description, amount,
// currency, from account, to account, schedule.
func transactionRow(tx core.Transaction, loc *time.Location) []any {
	return []any{
		tx.CreatedAt.In(loc).Format(time.DateOnly),
		tx.ID,
		string(tx.Type),
		tx.Description,
		tx.Amount.Decimal().StringFixed(tx.Amount.Currency.Scale()),
		string(tx.Amount.Currency),
		optionalID(tx.FromAccountID),
		optionalID(tx.ToAccountID),
		optionalID(tx.ScheduleID),
	}
}

func optionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
