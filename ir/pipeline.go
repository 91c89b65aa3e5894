package ir

import (
	"context"
	"fmt"
	"io"

	"github.com/wudi/handoutify/ir/raw"
	"github.com/wudi/handoutify/observability"
	"github.com/wudi/handoutify/optimize"
	"github.com/wudi/handoutify/parser"
	"github.com/wudi/handoutify/writer"
)

// Config wires the document provider. Zero values select strict parsing,
// default limits and a no-op logger and tracer.
type Config struct {
	Parser parser.Config
	Writer writer.Config
	Logger observability.Logger
	Tracer observability.Tracer
}

// Pipeline loads, post-processes and saves raw documents.
type Pipeline struct {
	rawParser raw.Parser
	writerCfg writer.Config
	logger    observability.Logger
	tracer    observability.Tracer
}

// NewDefault constructs a pipeline with strict parsing and default limits.
func NewDefault() *Pipeline {
	return New(Config{})
}

func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	return &Pipeline{
		rawParser: parser.NewDocumentParser(cfg.Parser),
		writerCfg: cfg.Writer,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
	}
}

// Load parses r into an object graph.
func (p *Pipeline) Load(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanLoad)
	defer span.Finish()

	doc, err := p.rawParser.Parse(ctx, r)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("raw parsing failed: %w", err)
	}
	span.SetTag("objects", len(doc.Objects))
	p.logger.Debug("document loaded",
		observability.String("version", doc.Version),
		observability.Int("objects", len(doc.Objects)))
	return doc, nil
}

// Save serializes doc to w.
func (p *Pipeline) Save(ctx context.Context, doc *raw.Document, w io.Writer) error {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanSave)
	defer span.Finish()

	stats := &writeStats{}
	wr := (&writer.WriterBuilder{}).WithInterceptor(stats).Build()
	if err := wr.Write(ctx, doc, w, p.writerCfg); err != nil {
		span.SetError(err)
		return fmt.Errorf("writing failed: %w", err)
	}
	span.SetTag("objects", stats.objects)
	p.logger.Debug("document written",
		observability.Int("objects", stats.objects),
		observability.Int64("object_bytes", stats.bytes))
	return nil
}

// Prune removes objects unreachable from the trailer.
func (p *Pipeline) Prune(ctx context.Context, doc *raw.Document) optimize.PruneStats {
	_, span := p.tracer.StartSpan(ctx, observability.SpanPrune)
	defer span.Finish()

	stats := optimize.Prune(doc)
	span.SetTag("removed", stats.Removed)
	p.logger.Debug("pruned unreachable objects",
		observability.Int("removed", stats.Removed),
		observability.Int("kept", stats.Reachable))
	return stats
}

// Renumber relabels objects sequentially from 1.
func (p *Pipeline) Renumber(ctx context.Context, doc *raw.Document) map[raw.ObjectRef]raw.ObjectRef {
	_, span := p.tracer.StartSpan(ctx, observability.SpanRenumber)
	defer span.Finish()

	mapping := optimize.Renumber(doc)
	p.logger.Debug("renumbered objects", observability.Int("objects", len(mapping)))
	return mapping
}

type writeStats struct {
	objects int
	bytes   int64
}

func (s *writeStats) BeforeWrite(context.Context, raw.ObjectRef, raw.Object) error { return nil }

func (s *writeStats) AfterWrite(_ context.Context, _ raw.ObjectRef, n int64) error {
	s.objects++
	s.bytes += n
	return nil
}
