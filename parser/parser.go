package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wudi/handoutify/filters"
	"github.com/wudi/handoutify/ir/raw"
	"github.com/wudi/handoutify/recovery"
	"github.com/wudi/handoutify/security"
	"github.com/wudi/handoutify/xref"
)

var (
	// ErrEncrypted is returned for documents whose trailer carries /Encrypt.
	ErrEncrypted = errors.New("encrypted documents are not supported")
	// ErrNoTrailer is returned when no trailer with a /Root entry can be found.
	ErrNoTrailer = errors.New("document has no usable trailer")
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Limits   security.Limits
	Decoders *filters.Pipeline
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.Decoders == nil {
		cfg.Decoders = filters.NewDefaultPipeline(filters.Limits{
			MaxDecompressedSize: cfg.Limits.MaxDecompressedSize,
			MaxDecodeTime:       cfg.Limits.MaxDecodeTime,
		})
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	if cfg.XRef.Decoders == nil {
		cfg.XRef.Decoders = cfg.Decoders
	}
	if cfg.XRef.MaxXRefDepth == 0 {
		cfg.XRef.MaxXRefDepth = cfg.Limits.MaxXRefDepth
	}
	return &DocumentParser{cfg: cfg}
}

// Parse loads every object of the file into the arena. Objects stored in
// object streams are loaded individually; the /ObjStm and /XRef container
// streams themselves are not kept.
func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	resolver := xref.NewResolver(p.cfg.XRef)
	table, err := resolver.Resolve(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	trailer := table.Trailer()
	if trailer == nil {
		return nil, ErrNoTrailer
	}
	if _, ok := trailer.Get(raw.NameLiteral("Root")); !ok {
		return nil, ErrNoTrailer
	}
	if _, ok := trailer.Get(raw.NameLiteral("Encrypt")); ok {
		return nil, ErrEncrypted
	}

	loader, err := (&ObjectLoaderBuilder{
		data:      data,
		xrefTable: table,
		limits:    p.cfg.Limits,
		recovery:  p.cfg.Recovery,
		decoders:  p.cfg.Decoders,
	}).build()
	if err != nil {
		return nil, err
	}

	doc := raw.NewDocument(detectHeaderVersion(data))
	var objStreams []raw.ObjectRef
	for _, objNum := range table.Objects() {
		if objNum == 0 {
			continue // free head entry
		}
		e, _ := table.Lookup(objNum)
		ref := raw.ObjectRef{Num: objNum, Gen: e.Gen}
		if e.Kind == xref.EntryCompressed {
			ref.Gen = 0
		}
		obj, err := loader.Load(ctx, ref)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			loc := recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, ByteOffset: e.Offset, Component: "parser"}
			if recovery.Decide(p.cfg.Recovery, err, loc) == recovery.ActionFail {
				return nil, fmt.Errorf("load object %d: %w", objNum, err)
			}
			continue
		}
		if isContainer(obj, "ObjStm") {
			objStreams = append(objStreams, ref)
		}
		doc.Objects[ref] = obj
	}

	for _, ref := range objStreams {
		members, err := loader.unlistedMembers(ctx, ref.Num)
		if err != nil {
			if recovery.Decide(p.cfg.Recovery, err, recovery.Location{ObjectNum: ref.Num, Component: "parser:objstm"}) == recovery.ActionFail {
				return nil, err
			}
			continue
		}
		for num, obj := range members {
			doc.Objects[raw.ObjectRef{Num: num}] = obj
		}
	}

	for ref, obj := range doc.Objects {
		if isContainer(obj, "ObjStm") || isContainer(obj, "XRef") {
			delete(doc.Objects, ref)
		}
	}

	doc.Trailer = cleanTrailer(trailer)
	if v := catalogVersion(doc); compareVersions(v, doc.Version) > 0 {
		doc.Version = v
	}
	return doc, nil
}

func isContainer(obj raw.Object, typ string) bool {
	st, ok := obj.(*raw.StreamObj)
	if !ok || st.Dict == nil {
		return false
	}
	v, ok := st.Dict.Get(raw.NameLiteral("Type"))
	if !ok {
		return false
	}
	n, ok := v.(raw.Name)
	return ok && n.Value() == typ
}

// cleanTrailer keeps the document-level trailer entries; file-structure keys
// are recomputed by the writer.
func cleanTrailer(t *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	for _, k := range t.SortedKeys() {
		switch k {
		case "Size", "Prev", "XRefStm":
			continue
		}
		out.KV[k] = t.KV[k]
	}
	return out
}

func catalogVersion(doc *raw.Document) string {
	cat, _, ok := doc.Catalog()
	if !ok {
		return ""
	}
	v, ok := cat.Get(raw.NameLiteral("Version"))
	if !ok {
		return ""
	}
	n, ok := doc.Resolve(v).(raw.Name)
	if !ok {
		return ""
	}
	return n.Value()
}

// compareVersions orders "major.minor" strings; malformed versions sort lowest.
func compareVersions(a, b string) int {
	am, an, aok := splitVersion(a)
	bm, bn, bok := splitVersion(b)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	case am != bm:
		return am - bm
	default:
		return an - bn
	}
}

func splitVersion(v string) (int, int, bool) {
	if len(v) != 3 || v[1] != '.' || v[0] < '0' || v[0] > '9' || v[2] < '0' || v[2] > '9' {
		return 0, 0, false
	}
	return int(v[0] - '0'), int(v[2] - '0'), true
}

func detectHeaderVersion(data []byte) string {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	// Some files carry junk before the header.
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		return ""
	}
	line := string(head[idx+5:])
	for _, sep := range []string{"\r\n", "\n", "\r"} {
		if i := strings.Index(line, sep); i >= 0 {
			line = line[:i]
			break
		}
	}
	line = strings.TrimSpace(line)
	if len(line) > 3 {
		line = line[:3]
	}
	if _, _, ok := splitVersion(line); !ok {
		return ""
	}
	return line
}

func readAll(r io.ReaderAt) ([]byte, error) {
	var buf bytes.Buffer
	const chunk = int64(64 * 1024)
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		buf.Write(tmp[:n])
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		if int64(n) < chunk {
			return buf.Bytes(), nil
		}
	}
}
