// Package sheets exports prospects to Google Sheets over the REST API,
// authenticating with a service account.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"

	"github.com/NofaBC/prospector-api/internal/prospector"
)

const (
	defaultSheetsBaseURL = "https://sheets.googleapis.com"
	defaultDriveBaseURL  = "https://www.googleapis.com"

	scopeSpreadsheets = "https://www.googleapis.com/auth/spreadsheets"
	scopeDrive        = "https://www.googleapis.com/auth/drive"
)

// headerRow is the first row written to every new sheet. Its column
// order matches the rows appended per prospect.
var headerRow = []string{
	"Name", "Phone", "Address", "Website", "Emails",
	"Rating", "Rating Count", "Categories", "Place ID",
}

// Config holds Sheets client settings.
type Config struct {
	CredentialsJSON []byte
	Timeout         time.Duration
	SheetsBaseURL   string
	DriveBaseURL    string
}

// Client implements prospector.ExportSink on the Sheets and Drive REST
// APIs.
type Client struct {
	httpClient    *http.Client
	sheetsBaseURL string
	driveBaseURL  string
	logger        *zap.Logger
}

// New builds a Client authenticated with the service account credentials
// in cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	jwtCfg, err := google.JWTConfigFromJSON(cfg.CredentialsJSON, scopeSpreadsheets, scopeDrive)
	if err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	httpClient := jwtCfg.Client(ctx)
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}
	return newWithHTTPClient(httpClient, cfg, logger), nil
}

// NewWithHTTPClient builds a Client around a pre-authenticated HTTP
// client. Used in tests.
func NewWithHTTPClient(httpClient *http.Client, cfg Config, logger *zap.Logger) *Client {
	return newWithHTTPClient(httpClient, cfg, logger)
}

func newWithHTTPClient(httpClient *http.Client, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	sheetsBase := cfg.SheetsBaseURL
	if sheetsBase == "" {
		sheetsBase = defaultSheetsBaseURL
	}
	driveBase := cfg.DriveBaseURL
	if driveBase == "" {
		driveBase = defaultDriveBaseURL
	}
	return &Client{
		httpClient:    httpClient,
		sheetsBaseURL: sheetsBase,
		driveBaseURL:  driveBase,
		logger:        logger,
	}
}

// CreateSheet creates a spreadsheet with the given title and writes the
// header row.
func (c *Client) CreateSheet(ctx context.Context, title string) (string, string, error) {
	body := map[string]any{
		"properties": map[string]any{"title": title},
	}
	var created struct {
		SpreadsheetID  string `json:"spreadsheetId"`
		SpreadsheetURL string `json:"spreadsheetUrl"`
	}
	endpoint := c.sheetsBaseURL + "/v4/spreadsheets"
	if err := c.post(ctx, endpoint, body, &created); err != nil {
		return "", "", err
	}

	if err := c.AppendRows(ctx, created.SpreadsheetID, [][]string{headerRow}); err != nil {
		return "", "", fmt.Errorf("writing header row: %w", err)
	}

	c.logger.Info("spreadsheet created",
		zap.String("sheet_id", created.SpreadsheetID),
		zap.String("title", title),
	)
	return created.SpreadsheetID, created.SpreadsheetURL, nil
}

// AppendRows appends rows after the last populated row of the sheet.
func (c *Client) AppendRows(ctx context.Context, sheetID string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([][]any, len(rows))
	for i, row := range rows {
		cells := make([]any, len(row))
		for j, cell := range row {
			cells[j] = cell
		}
		values[i] = cells
	}
	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s:append?valueInputOption=RAW",
		c.sheetsBaseURL, url.PathEscape(sheetID), url.PathEscape("A1"))
	return c.post(ctx, endpoint, map[string]any{"values": values}, nil)
}

// MakePublic grants anyone-with-the-link read access via the Drive
// permissions API.
func (c *Client) MakePublic(ctx context.Context, sheetID string) error {
	body := map[string]any{
		"role": "reader",
		"type": "anyone",
	}
	endpoint := fmt.Sprintf("%s/drive/v3/files/%s/permissions", c.driveBaseURL, url.PathEscape(sheetID))
	if err := c.post(ctx, endpoint, body, nil); err != nil {
		return err
	}
	c.logger.Info("spreadsheet shared publicly", zap.String("sheet_id", sheetID))
	return nil
}

// post issues a JSON POST and decodes the response into out when out is
// non-nil. Non-2xx responses map to ProviderError so the retry envelope
// can classify them.
func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling sheets api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &prospector.ProviderError{
			Provider:   "sheets",
			StatusCode: resp.StatusCode,
			Message:    string(snippet),
		}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

var _ prospector.ExportSink = (*Client)(nil)
