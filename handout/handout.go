// Package handout collapses the reveal steps of a presentation into one page
// per slide. Consecutive pages whose content only appends to the previous
// page are grouped; every group is reduced to its last page and all
// references to the dropped pages are moved to that page.
package handout

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/handoutify/filters"
	"github.com/wudi/handoutify/ir/raw"
	"github.com/wudi/handoutify/observability"
)

var (
	ErrNoCatalog = errors.New("document has no catalog")
	ErrNoPages   = errors.New("document has no pages")
	// ErrStructure reports a page tree that cannot be mutated safely. The
	// document is left untouched when it is returned.
	ErrStructure = errors.New("page tree structure error")
)

type WarningKind int

const (
	// UnreadableContent: the page's content could not be decoded; it was
	// kept as a slide of its own.
	UnreadableContent WarningKind = iota + 1
	// DanglingReference: a destination already pointed at a missing object
	// before conversion; it was left as is.
	DanglingReference
	// DroppedReference: an entry referred to a removed page and had no
	// meaningful target; it was removed.
	DroppedReference
)

func (k WarningKind) String() string {
	switch k {
	case UnreadableContent:
		return "unreadable content"
	case DanglingReference:
		return "dangling reference"
	case DroppedReference:
		return "dropped reference"
	default:
		return fmt.Sprintf("WarningKind(%d)", int(k))
	}
}

// Warning is a non-fatal anomaly found during conversion.
type Warning struct {
	Kind WarningKind
	// Page is the 0-based input page index, or -1.
	Page  int
	Ref   raw.ObjectRef
	Where string
	Err   error
}

func (w Warning) String() string {
	msg := w.Kind.String()
	if w.Page >= 0 {
		msg += fmt.Sprintf(" on page %d", w.Page+1)
	}
	if w.Where != "" {
		msg += " in " + w.Where
	}
	if w.Ref != (raw.ObjectRef{}) {
		msg += " (" + w.Ref.String() + ")"
	}
	if w.Err != nil {
		msg += ": " + w.Err.Error()
	}
	return msg
}

// Result summarizes a conversion.
type Result struct {
	InputPages  int
	OutputPages int
	Groups      []Group
	// Removed lists the deleted page objects in input order.
	Removed []raw.ObjectRef
	// Retargeted counts references moved from a removed page to its
	// group's terminal page.
	Retargeted int
	Warnings   []Warning
}

type options struct {
	logger   observability.Logger
	tracer   observability.Tracer
	decoders *filters.Pipeline
}

type Option func(*options)

func WithLogger(l observability.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithTracer(t observability.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithDecoders sets the pipeline used to decode content streams.
func WithDecoders(p *filters.Pipeline) Option {
	return func(o *options) { o.decoders = p }
}

// Convert reduces doc in place to one page per slide. On error the document
// has not been modified.
func Convert(ctx context.Context, doc *raw.Document, opts ...Option) (*Result, error) {
	o := options{logger: observability.NopLogger{}, tracer: observability.NopTracer()}
	for _, opt := range opts {
		opt(&o)
	}
	if doc == nil {
		return nil, ErrNoCatalog
	}
	catalog, _, ok := doc.Catalog()
	if !ok {
		return nil, ErrNoCatalog
	}
	pages, root, err := collectPages(doc, catalog)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	res := &Result{InputPages: len(pages)}

	fps, warnings, err := extract(ctx, o, doc, pages)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, warnings...)

	_, span := o.tracer.StartSpan(ctx, observability.SpanGroup)
	res.Groups = GroupPages(fps)
	span.SetTag("groups", len(res.Groups))
	span.Finish()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, span = o.tracer.StartSpan(ctx, observability.SpanReduce)
	defer span.Finish()
	r, err := planReduction(doc, catalog, root, pages, res.Groups)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	r.apply()
	span.SetTag("removed", len(r.removed))

	for _, p := range r.removed {
		res.Removed = append(res.Removed, p.Ref)
	}
	res.OutputPages = len(r.survivors)
	res.Retargeted = r.retargeted
	for _, w := range r.warnings {
		o.logger.Warn(w.Kind.String(),
			observability.String("where", w.Where),
			observability.String("ref", w.Ref.String()))
	}
	res.Warnings = append(res.Warnings, r.warnings...)

	o.logger.Info("collapsed reveal steps",
		observability.Int("input_pages", res.InputPages),
		observability.Int("output_pages", res.OutputPages),
		observability.Int("retargeted", res.Retargeted),
		observability.Int("warnings", len(res.Warnings)))
	return res, nil
}

func extract(ctx context.Context, o options, doc *raw.Document, pages []Page) ([]Fingerprint, []Warning, error) {
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanExtract)
	defer span.Finish()

	ex := NewExtractor(doc, o.decoders)
	fps := make([]Fingerprint, len(pages))
	var warnings []Warning
	for i, p := range pages {
		fps[i] = ex.Fingerprint(ctx, p)
		if err := ctx.Err(); err != nil {
			span.SetError(err)
			return nil, nil, err
		}
		if fps[i].Err == nil {
			continue
		}
		warnings = append(warnings, Warning{Kind: UnreadableContent, Page: i, Ref: p.Ref, Err: fps[i].Err})
		o.logger.Warn("page content unreadable, keeping it as its own slide",
			observability.Int("page", i+1),
			observability.String("ref", p.Ref.String()),
			observability.Error("error", fps[i].Err))
	}
	return fps, warnings, nil
}
