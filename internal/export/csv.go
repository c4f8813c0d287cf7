// Package export renders the flat analytic projection as CSV for download
// and offline analysis.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/eduthreat/cti-pipeline/internal/repository"
)

// WriteFlatCSV streams every flat projection row to w, header first, columns
// in the canonical order.
func WriteFlatCSV(ctx context.Context, enrichments repository.EnrichmentRepository, w io.Writer) error {
	columns := enrichments.FlatColumns()

	rows, err := enrichments.FlatRows(ctx)
	if err != nil {
		return fmt.Errorf("failed to load flat rows: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			record[i] = formatCell(row[col])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", val)
	}
}
