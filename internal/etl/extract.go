package etl

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/stacklok/reviews-etl/internal/httpclient"
)

const (
	queryPage     = "page"
	queryPageSize = "page_size"
)

// Extractor reads review records page by page from the source API
type Extractor struct {
	client      httpclient.Client
	baseURL     string
	pageSize    int
	maxPages    int
	recordsPath string
}

// NewExtractor creates an Extractor. Pages are numbered from 1.
func NewExtractor(client httpclient.Client, baseURL string, pageSize, maxPages int, recordsPath string) *Extractor {
	return &Extractor{
		client:      client,
		baseURL:     baseURL,
		pageSize:    pageSize,
		maxPages:    maxPages,
		recordsPath: recordsPath,
	}
}

// PageFunc receives the records of one non-empty page
type PageFunc func(ctx context.Context, page int, records []gjson.Result) error

// Each fetches pages until the source returns an empty page or the page bound
// is reached, calling fn for every non-empty page. It returns the number of
// pages requested.
func (e *Extractor) Each(ctx context.Context, fn PageFunc) (int, error) {
	pages := 0
	for page := 1; page <= e.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		records, err := e.fetch(ctx, page)
		pages++
		if err != nil {
			return pages, err
		}
		if len(records) == 0 {
			slog.DebugContext(ctx, "Source returned an empty page, extraction complete", "page", page)
			return pages, nil
		}

		if err := fn(ctx, page, records); err != nil {
			return pages, err
		}
	}

	slog.WarnContext(ctx, "Page limit reached before the source was exhausted",
		"max_pages", e.maxPages,
		"page_size", e.pageSize)
	return pages, nil
}

func (e *Extractor) fetch(ctx context.Context, page int) ([]gjson.Result, error) {
	query := url.Values{}
	query.Set(queryPage, strconv.Itoa(page))
	query.Set(queryPageSize, strconv.Itoa(e.pageSize))

	body, err := e.client.Get(ctx, e.baseURL, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page %d: %w", page, err)
	}
	if len(body) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("page %d is not valid JSON", page)
	}

	doc := gjson.ParseBytes(body)
	if e.recordsPath != "" {
		doc = doc.Get(e.recordsPath)
		if !doc.Exists() {
			return nil, nil
		}
	}
	if doc.Type == gjson.Null {
		return nil, nil
	}
	if !doc.IsArray() {
		return nil, fmt.Errorf("page %d: expected an array of records, got %s", page, doc.Type)
	}
	return doc.Array(), nil
}
