package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// DefaultRange is the A1 range read from the first sheet when none is configured
const DefaultRange = "A1:Z"

// ValueReader reads the raw cell grid of a spreadsheet's first sheet,
// header row included.
type ValueReader interface {
	ReadValues(ctx context.Context, spreadsheetID string) ([][]string, error)
}

// ClientConfig configures the Google Sheets backed ValueReader
type ClientConfig struct {
	// CredentialsFile is a service account or authorized user JSON key
	CredentialsFile string

	// APIKey is used for publicly readable sheets when no credentials file is set
	APIKey string

	// Endpoint overrides the Sheets API base URL
	Endpoint string

	// Range is the A1 range requested, defaults to DefaultRange
	Range string

	// HTTPClient replaces the transport entirely, skipping credential lookup
	HTTPClient *http.Client
}

// Client reads spreadsheet values through the Google Sheets v4 API
type Client struct {
	svc     *sheetsapi.Service
	rangeA1 string
}

// NewClient creates a Sheets API client. Without a credentials file, API key or
// HTTP client it falls back to application default credentials.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	var opts []option.ClientOption

	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, sheetsapi.SpreadsheetsReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	rangeA1 := cfg.Range
	if rangeA1 == "" {
		rangeA1 = DefaultRange
	}

	return &Client{svc: svc, rangeA1: rangeA1}, nil
}

// ReadValues implements ValueReader. A range without a sheet name addresses the first sheet.
func (c *Client) ReadValues(ctx context.Context, spreadsheetID string) ([][]string, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, c.rangeA1).Context(ctx).Do()
	if err != nil {
		return nil, classifyAPIError(err)
	}

	grid := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, cell := range row {
			if s, ok := cell.(string); ok {
				cells[j] = s
			} else if cell != nil {
				cells[j] = fmt.Sprint(cell)
			}
		}
		grid[i] = cells
	}
	return grid, nil
}

// classifyAPIError maps a Sheets API failure onto the fetch error taxonomy
func classifyAPIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return &SourceError{Op: "read values", Kind: ErrInvalidLocator, Err: err}
		case http.StatusBadRequest:
			return &SourceError{Op: "read values", Kind: ErrSchemaMismatch, Err: err}
		}
	}
	return &SourceError{Op: "read values", Kind: ErrSourceUnavailable, Err: err}
}
