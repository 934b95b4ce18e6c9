package etl

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/reviews-etl/internal/otel"
)

// Pipeline is the Runner that extracts review pages, transforms every record
// and loads each page as it is read. Pipeline holds no per-run state, so
// concurrent runs are independent.
type Pipeline struct {
	extractor *Extractor
	loader    Loader
	tracer    trace.Tracer
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithPipelineTracer sets the tracer used for page spans
func WithPipelineTracer(tracer trace.Tracer) PipelineOption {
	return func(p *Pipeline) {
		p.tracer = tracer
	}
}

// NewPipeline creates a Pipeline
func NewPipeline(extractor *Extractor, loader Loader, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		extractor: extractor,
		loader:    loader,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one extract, transform and load pass. Rows loaded before a
// failure stay loaded; the returned Result reflects the work done so far.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	pages, err := p.extractor.Each(ctx, func(ctx context.Context, page int, records []gjson.Result) error {
		return p.processPage(ctx, page, records, result)
	})
	result.Pages = pages
	if err != nil {
		return result, fmt.Errorf("etl pass failed after %d pages: %w", pages, err)
	}
	return result, nil
}

func (p *Pipeline) processPage(ctx context.Context, page int, records []gjson.Result, result *Result) error {
	ctx, span := otel.StartSpan(ctx, p.tracer, "etl.page",
		trace.WithAttributes(
			otel.AttrPage.Int(page),
			otel.AttrResultCount.Int(len(records)),
		),
	)
	defer span.End()

	result.Extracted += len(records)

	reviews := make([]Review, 0, len(records))
	skipped := 0
	for _, record := range records {
		review, err := Transform(record)
		if err != nil {
			skipped++
			slog.DebugContext(ctx, "Skipping record", "page", page, "error", err)
			continue
		}
		reviews = append(reviews, *review)
	}
	result.Skipped += skipped
	span.SetAttributes(otel.AttrSkipped.Int(skipped))

	if len(reviews) == 0 {
		return nil
	}

	loaded, err := p.loader.Load(ctx, reviews)
	result.Loaded += loaded
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to load page %d: %w", page, err)
	}

	slog.DebugContext(ctx, "Page loaded",
		"page", page,
		"records", len(records),
		"loaded", loaded,
		"skipped", skipped)
	return nil
}
