package ir

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wudi/handoutify/filters"
	"github.com/wudi/handoutify/ir/raw"
)

func buildPDF(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, 6)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>",
		"",
		"<< /Note (orphan) >>",
	}
	hexData := "48656c6c6f20776f726c64"
	for i, body := range objects {
		num := i + 1
		offsets[num] = buf.Len()
		if num == 4 {
			fmt.Fprintf(buf, "4 0 obj\n<< /Length %d /Filter /ASCIIHexDecode >>\nstream\n%s>\nendstream\nendobj\n", len(hexData)+1, hexData)
			continue
		}
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	xrefOff := buf.Len()
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for num := 1; num <= 5; num++ {
		fmt.Fprintf(buf, "%010d 00000 n \n", offsets[num])
	}
	buf.WriteString("trailer << /Size 6 /Root 1 0 R >>\nstartxref\n")
	fmt.Fprintf(buf, "%d\n%%%%EOF\n", xrefOff)
	return buf.Bytes()
}

func TestPipelineLoadPruneRenumberSave(t *testing.T) {
	ctx := context.Background()
	p := NewDefault()

	doc, err := p.Load(ctx, bytes.NewReader(buildPDF(t)))
	require.NoError(t, err)
	require.Len(t, doc.Objects, 5)
	require.Equal(t, "1.7", doc.Version)

	stats := p.Prune(ctx, doc)
	require.Equal(t, 1, stats.Removed)
	require.NotContains(t, doc.Objects, raw.ObjectRef{Num: 5})

	mapping := p.Renumber(ctx, doc)
	require.Len(t, mapping, 4)

	var out bytes.Buffer
	require.NoError(t, p.Save(ctx, doc, &out))

	reloaded, err := p.Load(ctx, bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	require.Len(t, reloaded.Objects, 4)

	var stream *raw.StreamObj
	for _, obj := range reloaded.Objects {
		if st, ok := obj.(*raw.StreamObj); ok {
			stream = st
		}
	}
	require.NotNil(t, stream)
	data, err := filters.NewDefaultPipeline(filters.Limits{}).DecodeStream(ctx, stream)
	require.NoError(t, err)
	require.Equal(t, "Hello world", string(data))
}

func TestPipelineLoadError(t *testing.T) {
	_, err := NewDefault().Load(context.Background(), bytes.NewReader([]byte("not a pdf")))
	require.ErrorContains(t, err, "raw parsing failed")
}
