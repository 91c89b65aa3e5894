package writer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/wudi/handoutify/ir/raw"
)

// ErrNoRoot is returned when the trailer has no /Root reference.
var ErrNoRoot = errors.New("trailer has no /Root reference")

type impl struct{ interceptors []Interceptor }

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	if obj == nil {
		buf.WriteString("null")
	} else {
		buf.Write(serializePrimitive(obj))
	}
	buf.WriteString("\nendobj\n")
	return buf.Bytes(), nil
}

type xrefEntry struct {
	offset int64
	gen    int
}

func (w *impl) Write(ctx context.Context, doc *raw.Document, out io.Writer, cfg Config) error {
	if doc == nil || doc.Trailer == nil {
		return ErrNoRoot
	}
	root, ok := doc.Trailer.Get(raw.NameLiteral("Root"))
	if !ok {
		return ErrNoRoot
	}
	if _, ok := root.(raw.Reference); !ok {
		return ErrNoRoot
	}

	cw := &countingWriter{w: bufio.NewWriter(out)}
	version := headerVersion(doc.Version, cfg.MinVersion)
	fmt.Fprintf(cw, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version)

	offsets := make(map[int]xrefEntry, len(doc.Objects))
	for _, ref := range doc.Refs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ref.Num <= 0 {
			continue
		}
		obj := doc.Objects[ref]
		for _, ic := range w.interceptors {
			if err := ic.BeforeWrite(ctx, ref, obj); err != nil {
				return fmt.Errorf("object %d: %w", ref.Num, err)
			}
		}
		serialized, err := w.SerializeObject(ref, obj)
		if err != nil {
			return fmt.Errorf("object %d: %w", ref.Num, err)
		}
		offsets[ref.Num] = xrefEntry{offset: cw.n, gen: ref.Gen}
		if _, err := cw.Write(serialized); err != nil {
			return err
		}
		for _, ic := range w.interceptors {
			if err := ic.AfterWrite(ctx, ref, int64(len(serialized))); err != nil {
				return fmt.Errorf("object %d: %w", ref.Num, err)
			}
		}
	}

	size := doc.MaxObjectNumber() + 1
	xrefOffset := cw.n
	writeXRef(cw, offsets, size)

	trailer := raw.Dict()
	trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(size)))
	for _, key := range []string{"Root", "Info", "ID"} {
		if v, ok := doc.Trailer.Get(raw.NameLiteral(key)); ok {
			trailer.Set(raw.NameLiteral(key), v)
		}
	}
	cw.WriteString("trailer\n")
	cw.Write(serializePrimitive(trailer))
	fmt.Fprintf(cw, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	if cw.err != nil {
		return cw.err
	}
	return cw.w.Flush()
}

// writeXRef emits a single-section classic table. Free entries are chained
// through their offset field, starting at entry 0 and ending back at 0.
func writeXRef(w io.StringWriter, offsets map[int]xrefEntry, size int) {
	var free []int
	for i := 1; i < size; i++ {
		if _, ok := offsets[i]; !ok {
			free = append(free, i)
		}
	}
	next := make(map[int]int, len(free)+1)
	prev := 0
	for _, n := range free {
		next[prev] = n
		prev = n
	}
	next[prev] = 0

	w.WriteString(fmt.Sprintf("xref\n0 %d\n", size))
	w.WriteString(fmt.Sprintf("%010d 65535 f \n", next[0]))
	for i := 1; i < size; i++ {
		if e, ok := offsets[i]; ok {
			w.WriteString(fmt.Sprintf("%010d %05d n \n", e.offset, e.gen))
			continue
		}
		w.WriteString(fmt.Sprintf("%010d 00001 f \n", next[i]))
	}
}

func headerVersion(docVersion string, minVersion PDFVersion) string {
	floor := string(minVersion)
	if !validVersion(floor) {
		floor = string(PDF14)
	}
	if validVersion(docVersion) && docVersion > floor {
		return docVersion
	}
	return floor
}

// validVersion accepts "d.d"; for that shape string order is version order.
func validVersion(v string) bool {
	return len(v) == 3 && v[1] == '.' && v[0] >= '0' && v[0] <= '9' && v[2] >= '0' && v[2] <= '9'
}

func serializePrimitive(o raw.Object) []byte {
	switch v := o.(type) {
	case raw.NameObj:
		return []byte("/" + pdfNameLiteral(v.Value()))
	case raw.NumberObj:
		return []byte(formatNumber(v))
	case raw.BoolObj:
		if v.Value() {
			return []byte("true")
		}
		return []byte("false")
	case raw.NullObj:
		return []byte("null")
	case raw.StringObj:
		if v.IsHex() {
			return hexString(v.Value())
		}
		return escapeLiteralString(v.Value())
	case *raw.ArrayObj:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.Write(serializePrimitive(it))
		}
		b.WriteByte(']')
		return b.Bytes()
	case *raw.DictObj:
		return serializeDict(v, nil)
	case *raw.StreamObj:
		var b bytes.Buffer
		dict := v.Dict
		if dict == nil {
			dict = raw.Dict()
		}
		b.Write(serializeDict(dict, map[string]raw.Object{
			"Length": raw.NumberInt(int64(len(v.Data))),
		}))
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
		return b.Bytes()
	case raw.RefObj:
		return []byte(fmt.Sprintf("%d %d R", v.Ref().Num, v.Ref().Gen))
	default:
		return []byte("null")
	}
}

// serializeDict writes d with sorted keys; entries in override replace or
// extend d's entries without modifying d.
func serializeDict(d *raw.DictObj, override map[string]raw.Object) []byte {
	keys := make([]string, 0, len(d.KV)+len(override))
	for k := range d.KV {
		if _, ok := override[k]; !ok {
			keys = append(keys, k)
		}
	}
	for k := range override {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	b.WriteString("<<")
	for _, k := range keys {
		v, ok := override[k]
		if !ok {
			v = d.KV[k]
		}
		b.WriteString("/" + pdfNameLiteral(k) + " ")
		b.Write(serializePrimitive(v))
	}
	b.WriteString(">>")
	return b.Bytes()
}

func formatNumber(n raw.NumberObj) string {
	if n.IsInteger() {
		return strconv.FormatInt(n.Int(), 10)
	}
	f := n.Float()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if s == "-0" {
		return "0"
	}
	return s
}

// pdfNameLiteral escapes bytes outside the regular character set as #xx.
func pdfNameLiteral(value string) string {
	var b bytes.Buffer
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch < 0x21 || ch > 0x7e || isDelimiter(ch) || ch == '#' {
			fmt.Fprintf(&b, "#%02X", ch)
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func isDelimiter(ch byte) bool {
	switch ch {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\b':
			b.WriteString("\\b")
		case '\f':
			b.WriteString("\\f")
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

func hexString(data []byte) []byte {
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, 2*len(data)+2)
	out = append(out, '<')
	for _, c := range data {
		out = append(out, digits[c>>4], digits[c&0x0f])
	}
	return append(out, '>')
}

// countingWriter tracks the byte offset and keeps the first error.
type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

func (c *countingWriter) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}
