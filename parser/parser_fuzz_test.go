package parser

import (
	"bytes"
	"context"
	"testing"

	"github.com/wudi/handoutify/recovery"
)

func FuzzDocumentParser(f *testing.F) {
	f.Add([]byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n..."))
	f.Add(buildClassicPDF())
	f.Add(buildIncrementalPDF())

	f.Fuzz(func(t *testing.T, data []byte) {
		for _, strategy := range []recovery.Strategy{recovery.NewStrictStrategy(), recovery.NewLenientStrategy(nil)} {
			p := NewDocumentParser(Config{Recovery: strategy})
			_, _ = p.Parse(context.Background(), bytes.NewReader(data))
		}
	})
}
