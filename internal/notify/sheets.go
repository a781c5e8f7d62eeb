package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/pkg/logger"
)

// LedgerColumns defines the column headers for the lifecycle ledger sheet
var LedgerColumns = []string{
	"At",
	"Submission ID",
	"Name",
	"URL",
	"Event",
	"From",
	"To",
	"Score",
	"Reasons",
}

// SheetsSink appends every lifecycle event as a row of a Google Sheet
type SheetsSink struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	log           *logger.Logger

	initOnce sync.Once
	initErr  error
}

// NewSheetsSink creates a Google Sheets ledger sink. Returns nil when the tracker is disabled.
// Extra client options are appended after the credentials.
func NewSheetsSink(ctx context.Context, cfg config.TrackerConfig, log *logger.Logger, opts ...option.ClientOption) (*SheetsSink, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var clientOpts []option.ClientOption
	// Try service account JSON first (for env var injection)
	if cfg.ServiceAccountJSON != "" {
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	} else if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	} else if len(opts) == 0 {
		return nil, fmt.Errorf("no Google credentials provided: set credentials_file or service_account_json")
	}
	clientOpts = append(clientOpts, opts...)

	srv, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	sheetName := cfg.SheetName
	if sheetName == "" {
		sheetName = "Lifecycle"
	}

	return &SheetsSink{
		service:       srv,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
		log:           log.WithComponent("sheets-ledger"),
	}, nil
}

// InitializeSheet creates the sheet and headers if they don't exist
func (s *SheetsSink) InitializeSheet(ctx context.Context) error {
	if err := s.ensureSheetExists(ctx); err != nil {
		return err
	}

	readRange := fmt.Sprintf("%s!A1:I1", s.sheetName)
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read sheet: %w", err)
	}
	if len(resp.Values) > 0 {
		return nil
	}

	var headerRow []interface{}
	for _, col := range LedgerColumns {
		headerRow = append(headerRow, col)
	}
	valueRange := &sheets.ValueRange{Values: [][]interface{}{headerRow}}
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, fmt.Sprintf("%s!A1", s.sheetName), valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	s.log.Info().Msg("Ledger sheet headers initialized")
	return nil
}

func (s *SheetsSink) ensureSheetExists(ctx context.Context) error {
	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.sheetName {
			return nil
		}
	}

	s.log.Info().Str("sheet", s.sheetName).Msg("Creating ledger sheet")
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{
						Title: s.sheetName,
					},
				},
			},
		},
	}
	if _, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	return nil
}

// Emit appends the event as a ledger row. The sheet is initialized on first use.
func (s *SheetsSink) Emit(ctx context.Context, e Event) error {
	s.initOnce.Do(func() { s.initErr = s.InitializeSheet(ctx) })
	if s.initErr != nil {
		return s.initErr
	}

	row := []interface{}{
		e.At.UTC().Format(time.RFC3339),
		e.SubmissionID,
		e.Name,
		e.URL,
		string(e.Type),
		string(e.From),
		string(e.To),
		e.Score,
		strings.Join(e.Reasons, "; "),
	}

	appendRange := fmt.Sprintf("%s!A:I", s.sheetName)
	valueRange := &sheets.ValueRange{Values: [][]interface{}{row}}
	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, appendRange, valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append ledger row: %w", err)
	}
	return nil
}
