// Package export writes the stored repositories to a flat file.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Sternrassler/repo-harvester/pkg/model"
	"github.com/Sternrassler/repo-harvester/pkg/sink"
)

// Header is the first CSV row.
var Header = []string{"id", "name", "stargazer_count", "crawled_at"}

// CSV writes every row of src to w in id order and returns the row count.
func CSV(ctx context.Context, src sink.Reader, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	rows := 0
	err := src.Each(ctx, func(r model.Repository) error {
		record := []string{
			r.ID,
			r.Name,
			strconv.Itoa(r.Stars),
			r.SeenAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.ID, err)
		}
		rows++
		return nil
	})
	if err != nil {
		return rows, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("flush csv: %w", err)
	}
	return rows, nil
}
