package sink

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// MalformedArtifactError marks an artifact that cannot be published: empty,
// unreadable, or a header with no data rows. Publishing treats it as a
// logged no-op, never as a run failure.
type MalformedArtifactError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MalformedArtifactError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed artifact %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed artifact %s: %s", e.Path, e.Reason)
}

func (e *MalformedArtifactError) Unwrap() error { return e.Err }

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadTable parses the CSV file at path into header + data rows. Every row
// is padded with empty strings to the widest row.
func ReadTable(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &MalformedArtifactError{Path: path, Reason: "unreadable", Err: err}
	}
	return ParseTable(path, data)
}

// ParseTable is ReadTable over bytes already in memory. name only labels
// errors.
func ParseTable(name string, data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &MalformedArtifactError{Path: name, Reason: "empty file"}
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	width := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &MalformedArtifactError{Path: name, Reason: "unparseable", Err: err}
		}
		if len(rec) > width {
			width = len(rec)
		}
		rows = append(rows, rec)
	}
	if len(rows) < 2 {
		return nil, &MalformedArtifactError{Path: name, Reason: "header only, no data rows"}
	}

	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}
		rows[i] = row
	}
	return rows, nil
}
