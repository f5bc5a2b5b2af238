// Package csvrows turns an uploaded CSV document into per-row JSON payloads.
// The first record is the header; each following record becomes an object
// keyed by the header fields.
package csvrows

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"

	imerrors "github.com/imagemill/imagemill/internal/errors"
)

// Parse reads a CSV document and returns one JSON object per data row.
func Parse(r io.Reader) ([]json.RawMessage, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, imerrors.Validation("csv document is empty")
	}
	if err != nil {
		return nil, imerrors.Wrap(err, imerrors.ErrCodeValidation, "read csv header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
		if header[i] == "" {
			return nil, imerrors.Validationf("csv header column %d is empty", i)
		}
	}

	var rows []json.RawMessage
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, imerrors.Wrapf(err, imerrors.ErrCodeValidation, "read csv line %d", line)
		}

		fields := make(map[string]string, len(header))
		for i, name := range header {
			fields[name] = record[i]
		}
		row, err := json.Marshal(fields)
		if err != nil {
			return nil, imerrors.Wrapf(err, imerrors.ErrCodeInternal, "encode csv line %d", line)
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, imerrors.Validation("csv document has no data rows")
	}
	return rows, nil
}
