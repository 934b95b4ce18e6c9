package bigquery

import (
	"context"
	"fmt"
	"log/slog"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/option"

	"github.com/stacklok/reviews-etl/internal/config"
)

// ClientOptions returns the credential options for the configured account.
// Service account fields from the environment win over a key file; without
// either, application default credentials are used.
func ClientOptions(cfg config.BigQueryConfig) ([]option.ClientOption, error) {
	switch {
	case cfg.ServiceAccount != nil:
		data, err := cfg.ServiceAccount.JSON()
		if err != nil {
			return nil, fmt.Errorf("invalid service account: %w", err)
		}
		return []option.ClientOption{option.WithCredentialsJSON(data)}, nil
	case cfg.CredentialsFile != "":
		return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}, nil
	default:
		slog.Debug("No service account configured, using application default credentials")
		return nil, nil
	}
}

// NewClient creates a BigQuery client for the configured target project
func NewClient(ctx context.Context, cfg config.BigQueryConfig) (*bq.Client, config.Target, error) {
	target, err := cfg.Target()
	if err != nil {
		return nil, config.Target{}, err
	}

	opts, err := ClientOptions(cfg)
	if err != nil {
		return nil, config.Target{}, err
	}

	client, err := bq.NewClient(ctx, target.ProjectID, opts...)
	if err != nil {
		return nil, config.Target{}, fmt.Errorf("failed to create BigQuery client: %w", err)
	}
	client.Location = cfg.GetLocation()

	slog.Debug("BigQuery client created",
		"project", target.ProjectID,
		"location", client.Location)
	return client, target, nil
}
