package writer

import (
	"context"
	"io"

	"github.com/wudi/handoutify/ir/raw"
)

type PDFVersion string

const (
	PDF14 PDFVersion = "1.4"
	PDF17 PDFVersion = "1.7"
)

// Config controls serialization. The zero value writes a classic xref file
// whose header is at least PDF 1.4.
type Config struct {
	// MinVersion is the lowest header version written; the document's own
	// version wins when it is higher.
	MinVersion PDFVersion
}

type Writer interface {
	Write(ctx context.Context, doc *raw.Document, w io.Writer, cfg Config) error
	SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error)
}

// Interceptor observes each indirect object as it is written.
type Interceptor interface {
	BeforeWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object) error
	AfterWrite(ctx context.Context, ref raw.ObjectRef, bytesWritten int64) error
}

type WriterBuilder struct{ interceptors []Interceptor }

func (b *WriterBuilder) WithInterceptor(i Interceptor) *WriterBuilder {
	b.interceptors = append(b.interceptors, i)
	return b
}
func (b *WriterBuilder) Build() Writer { return &impl{interceptors: b.interceptors} }

// Write serializes doc with the default writer.
func Write(ctx context.Context, doc *raw.Document, w io.Writer, cfg Config) error {
	return (&WriterBuilder{}).Build().Write(ctx, doc, w, cfg)
}
