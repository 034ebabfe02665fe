package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"reportsync/internal/logging"
)

// GoogleSheet writes to one spreadsheet through the Sheets v4 API.
type GoogleSheet struct {
	svc           *sheets.Service
	spreadsheetID string
	logger        logging.Logger
}

// NewGoogleSheet opens spreadsheetID. With no options it authenticates with
// the service-account key in credentialsFile.
func NewGoogleSheet(ctx context.Context, spreadsheetID, credentialsFile string, logger logging.Logger, opts ...option.ClientOption) (*GoogleSheet, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if logger == nil {
		logger = logging.New("sheets")
	}
	if len(opts) == 0 {
		opts = []option.ClientOption{
			option.WithCredentialsFile(credentialsFile),
			option.WithScopes(sheets.SpreadsheetsScope),
		}
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return &GoogleSheet{svc: svc, spreadsheetID: spreadsheetID, logger: logger}, nil
}

type tabGrid struct {
	id         int64
	rows, cols int64
}

func (g *GoogleSheet) grid(ctx context.Context, tab string) (tabGrid, error) {
	ss, err := g.svc.Spreadsheets.Get(g.spreadsheetID).
		Fields("sheets.properties").
		Context(ctx).
		Do()
	if err != nil {
		return tabGrid{}, fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties == nil || s.Properties.Title != tab {
			continue
		}
		grid := tabGrid{id: s.Properties.SheetId}
		if gp := s.Properties.GridProperties; gp != nil {
			grid.rows, grid.cols = gp.RowCount, gp.ColumnCount
		}
		return grid, nil
	}
	return tabGrid{}, fmt.Errorf("tab %q not found in spreadsheet %s", tab, g.spreadsheetID)
}

// ReplaceAll clears every cell value of tab and writes rows from A1 in a
// single batchUpdate, which the API applies atomically. The grid is grown
// first when rows do not fit.
func (g *GoogleSheet) ReplaceAll(ctx context.Context, tab string, rows [][]string) error {
	grid, err := g.grid(ctx, tab)
	if err != nil {
		return err
	}
	req := replaceAllRequest(grid, rows)
	if _, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("batch update: %w", err)
	}
	g.logger.Printf("📊 Replaced %q with %d rows", tab, len(rows))
	return nil
}

func replaceAllRequest(grid tabGrid, rows [][]string) *sheets.BatchUpdateSpreadsheetRequest {
	var requests []*sheets.Request

	width := int64(0)
	for _, r := range rows {
		if int64(len(r)) > width {
			width = int64(len(r))
		}
	}
	if extra := int64(len(rows)) - grid.rows; extra > 0 {
		requests = append(requests, &sheets.Request{AppendDimension: &sheets.AppendDimensionRequest{
			SheetId:         grid.id,
			Dimension:       "ROWS",
			Length:          extra,
			ForceSendFields: []string{"SheetId"},
		}})
	}
	if extra := width - grid.cols; extra > 0 {
		requests = append(requests, &sheets.Request{AppendDimension: &sheets.AppendDimensionRequest{
			SheetId:         grid.id,
			Dimension:       "COLUMNS",
			Length:          extra,
			ForceSendFields: []string{"SheetId"},
		}})
	}

	requests = append(requests,
		&sheets.Request{UpdateCells: &sheets.UpdateCellsRequest{
			Range:  &sheets.GridRange{SheetId: grid.id, ForceSendFields: []string{"SheetId"}},
			Fields: "userEnteredValue",
		}},
		&sheets.Request{UpdateCells: &sheets.UpdateCellsRequest{
			Start:  &sheets.GridCoordinate{SheetId: grid.id, ForceSendFields: []string{"SheetId"}},
			Rows:   rowData(rows),
			Fields: "userEnteredValue",
		}},
	)
	return &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}
}

func rowData(rows [][]string) []*sheets.RowData {
	out := make([]*sheets.RowData, 0, len(rows))
	for _, r := range rows {
		cells := make([]*sheets.CellData, 0, len(r))
		for _, v := range r {
			cells = append(cells, cellData(v))
		}
		out = append(out, &sheets.RowData{Values: cells})
	}
	return out
}

// cellData types a CSV value: numbers as numbers, empty as a cleared cell,
// everything else as a string.
func cellData(v string) *sheets.CellData {
	if v == "" {
		return &sheets.CellData{}
	}
	if f, ok := numeric(v); ok {
		return &sheets.CellData{UserEnteredValue: &sheets.ExtendedValue{
			NumberValue:     &f,
			ForceSendFields: []string{"NumberValue"},
		}}
	}
	s := v
	return &sheets.CellData{UserEnteredValue: &sheets.ExtendedValue{StringValue: &s}}
}

// numeric accepts plain decimal numbers a float64 holds exactly enough to
// round-trip: at most 15 significant digits, or an exact re-format.
// Identifiers with leading zeros and spellings such as "NaN" or "Inf" stay
// strings.
func numeric(v string) (float64, bool) {
	digits := strings.TrimLeft(v, "+-")
	if digits == "" || !strings.ContainsAny(digits[:1], "0123456789.") {
		return 0, false
	}
	if len(digits) > 1 && digits[0] == '0' && digits[1] != '.' {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	if significantDigits(digits) > 15 && strconv.FormatFloat(f, 'f', -1, 64) != strings.TrimPrefix(v, "+") {
		return 0, false
	}
	return f, true
}

// significantDigits counts the mantissa digits of v from the first non-zero.
func significantDigits(v string) int {
	if i := strings.IndexAny(v, "eE"); i >= 0 {
		v = v[:i]
	}
	n, started := 0, false
	for _, r := range v {
		if r < '0' || r > '9' {
			continue
		}
		if r != '0' {
			started = true
		}
		if started {
			n++
		}
	}
	return n
}
