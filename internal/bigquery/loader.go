package bigquery

import (
	"context"
	"errors"
	"fmt"

	bq "cloud.google.com/go/bigquery"

	"github.com/stacklok/reviews-etl/internal/config"
	"github.com/stacklok/reviews-etl/internal/etl"
)

// DefaultBatchSize is the number of rows sent per streaming insert request
const DefaultBatchSize = 500

// inserter is satisfied by *bq.Inserter
type inserter interface {
	Put(ctx context.Context, src any) error
}

// Loader streams reviews into the reviews table. Every row carries the review
// id as its insert ID so that rows re-sent by a later run are deduplicated.
type Loader struct {
	inserter  inserter
	batchSize int
}

var _ etl.Loader = (*Loader)(nil)

// NewLoader creates a Loader writing to target
func NewLoader(client *bq.Client, target config.Target) *Loader {
	return newLoader(client.Dataset(target.DatasetID).Table(target.TableID).Inserter(), DefaultBatchSize)
}

func newLoader(ins inserter, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{inserter: ins, batchSize: batchSize}
}

// Load inserts reviews in batches and returns the number of rows accepted.
// It stops at the first failed batch.
func (l *Loader) Load(ctx context.Context, reviews []etl.Review) (int, error) {
	loaded := 0
	for start := 0; start < len(reviews); start += l.batchSize {
		end := min(start+l.batchSize, len(reviews))

		rows := make([]*reviewSaver, 0, end-start)
		for i := start; i < end; i++ {
			rows = append(rows, &reviewSaver{review: &reviews[i]})
		}

		if err := l.inserter.Put(ctx, rows); err != nil {
			var multi bq.PutMultiError
			if errors.As(err, &multi) {
				loaded += len(rows) - failedRows(multi)
				return loaded, fmt.Errorf("%d of %d rows rejected: %w", failedRows(multi), len(rows), err)
			}
			return loaded, fmt.Errorf("failed to insert rows: %w", err)
		}
		loaded += len(rows)
	}
	return loaded, nil
}

func failedRows(multi bq.PutMultiError) int {
	seen := make(map[int]struct{}, len(multi))
	for _, rowErr := range multi {
		seen[rowErr.RowIndex] = struct{}{}
	}
	return len(seen)
}

// reviewSaver implements bq.ValueSaver for a review
type reviewSaver struct {
	review *etl.Review
}

// Save returns the row values and the insert ID used for deduplication
func (s *reviewSaver) Save() (map[string]bq.Value, string, error) {
	values := s.review.Values()
	row := make(map[string]bq.Value, len(values))
	for k, v := range values {
		row[k] = v
	}
	return row, s.review.InsertID(), nil
}
