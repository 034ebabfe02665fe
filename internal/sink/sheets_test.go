package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"reportsync/internal/logging"
)

type fakeSheetsAPI struct {
	mu      sync.Mutex
	batches []*sheets.BatchUpdateSpreadsheetRequest
}

func (f *fakeSheetsAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/spreadsheets/sheet-123"):
			_ = json.NewEncoder(w).Encode(&sheets.Spreadsheet{
				SpreadsheetId: "sheet-123",
				Sheets: []*sheets.Sheet{
					{Properties: &sheets.SheetProperties{SheetId: 0, Title: "Other",
						GridProperties: &sheets.GridProperties{RowCount: 1000, ColumnCount: 26}}},
					{Properties: &sheets.SheetProperties{SheetId: 734921183, Title: "Base Pending",
						GridProperties: &sheets.GridProperties{RowCount: 2, ColumnCount: 1}}},
				},
			})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":batchUpdate"):
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			var req sheets.BatchUpdateSpreadsheetRequest
			require.NoError(t, json.Unmarshal(body, &req))
			f.mu.Lock()
			f.batches = append(f.batches, &req)
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(&sheets.BatchUpdateSpreadsheetResponse{SpreadsheetId: "sheet-123"})
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestSheet(t *testing.T) (*GoogleSheet, *fakeSheetsAPI) {
	api := &fakeSheetsAPI{}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	g, err := NewGoogleSheet(context.Background(), "sheet-123", "", logging.Nop{},
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return g, api
}

func TestGoogleSheetReplaceAllIsOneBatch(t *testing.T) {
	g, api := newTestSheet(t)

	err := g.ReplaceAll(context.Background(), "Base Pending", [][]string{
		{"id", "qty"},
		{"a", "1"},
		{"b", ""},
	})
	require.NoError(t, err)

	require.Len(t, api.batches, 1)
	reqs := api.batches[0].Requests
	require.Len(t, reqs, 4)

	// Grid has 2 rows x 1 column; 3 rows x 2 columns must fit.
	assert.Equal(t, "ROWS", reqs[0].AppendDimension.Dimension)
	assert.EqualValues(t, 1, reqs[0].AppendDimension.Length)
	assert.Equal(t, "COLUMNS", reqs[1].AppendDimension.Dimension)
	assert.EqualValues(t, 1, reqs[1].AppendDimension.Length)

	wipe := reqs[2].UpdateCells
	assert.EqualValues(t, 734921183, wipe.Range.SheetId)
	assert.Equal(t, "userEnteredValue", wipe.Fields)
	assert.Empty(t, wipe.Rows)

	write := reqs[3].UpdateCells
	require.Len(t, write.Rows, 3)
	assert.Equal(t, "id", *write.Rows[0].Values[0].UserEnteredValue.StringValue)
	assert.Equal(t, "a", *write.Rows[1].Values[0].UserEnteredValue.StringValue)
	assert.Equal(t, 1.0, *write.Rows[1].Values[1].UserEnteredValue.NumberValue)
	assert.Nil(t, write.Rows[2].Values[1].UserEnteredValue)
}

func TestGoogleSheetUnknownTab(t *testing.T) {
	g, api := newTestSheet(t)

	err := g.ReplaceAll(context.Background(), "Missing", [][]string{{"id"}, {"a"}})

	assert.ErrorContains(t, err, `tab "Missing" not found`)
	assert.Empty(t, api.batches)
}

func TestCellTyping(t *testing.T) {
	cases := []struct {
		in     string
		number bool
	}{
		{"1", true},
		{"-2.5", true},
		{"0", true},
		{"0.75", true},
		{"007", false},
		{"NaN", false},
		{"Inf", false},
		{"SPX123", false},
		{"2026-01-01", false},
		{"123456789012345", true},
		{"9007199254740992", true},
		{"12345678901234567", false},
		{"9007199254740993", false},
		{"123456789012345678901234", false},
	}
	for _, c := range cases {
		_, ok := numeric(c.in)
		assert.Equal(t, c.number, ok, c.in)
	}
	assert.Nil(t, cellData("").UserEnteredValue)
	assert.Equal(t, "x", *cellData("x").UserEnteredValue.StringValue)

	long := cellData("123456789012345678901234").UserEnteredValue
	assert.Nil(t, long.NumberValue)
	assert.Equal(t, "123456789012345678901234", *long.StringValue)
}
