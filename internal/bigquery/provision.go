package bigquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/stacklok/reviews-etl/internal/config"
)

// Table is the subset of table operations used for provisioning
type Table interface {
	// Exists reports whether the table is present
	Exists(ctx context.Context) (bool, error)

	// Create creates the table with the given schema
	Create(ctx context.Context, schema bq.Schema) error
}

// remoteTable adapts a *bq.Table to Table
type remoteTable struct {
	table *bq.Table
}

// NewTable returns the Table for target
func NewTable(client *bq.Client, target config.Target) Table {
	return &remoteTable{table: client.Dataset(target.DatasetID).Table(target.TableID)}
}

func (t *remoteTable) Exists(ctx context.Context) (bool, error) {
	if _, err := t.table.Metadata(ctx); err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *remoteTable) Create(ctx context.Context, schema bq.Schema) error {
	return t.table.Create(ctx, &bq.TableMetadata{Schema: schema})
}

// EnsureTable creates the reviews table when it does not exist. An existing
// table is left untouched, including its schema.
func EnsureTable(ctx context.Context, table Table, fullID string) error {
	exists, err := table.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to look up table %s: %w", fullID, err)
	}
	if exists {
		slog.InfoContext(ctx, "Table already exists", "table", fullID)
		return nil
	}

	if err := table.Create(ctx, ReviewSchema()); err != nil {
		// Lost a race with another provisioner
		if hasStatus(err, http.StatusConflict) {
			slog.InfoContext(ctx, "Table already exists", "table", fullID)
			return nil
		}
		return fmt.Errorf("failed to create table %s: %w", fullID, err)
	}

	slog.InfoContext(ctx, "Table created successfully with schema", "table", fullID)
	return nil
}

// Provision ensures the configured table exists. It fails fast when the
// target identifiers are missing.
func Provision(ctx context.Context, cfg config.BigQueryConfig) error {
	client, target, err := NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close BigQuery client", "error", err)
		}
	}()

	return EnsureTable(ctx, NewTable(client, target), target.FullID())
}

func hasStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
