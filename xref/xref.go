package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/wudi/handoutify/filters"
	"github.com/wudi/handoutify/ir/raw"
	"github.com/wudi/handoutify/recovery"
	"github.com/wudi/handoutify/scanner"
)

// ErrNoXRef is returned when no usable cross-reference data exists and repair is not allowed.
var ErrNoXRef = errors.New("cross-reference data not found")

type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryInUse
	EntryCompressed
)

// Entry locates one object. In-use entries carry a byte offset; compressed
// entries name the object stream and the index inside it.
type Entry struct {
	Kind      EntryKind
	Offset    int64
	Gen       int
	StreamNum int
	Index     int
}

// Table is the merged view over every cross-reference section of a file.
type Table interface {
	Lookup(objNum int) (Entry, bool)
	Objects() []int
	Trailer() *raw.DictObj
	Type() string
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (Table, error)
	// Incremental reports the number of sections merged by the last Resolve.
	Incremental() int
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Decoders     *filters.Pipeline
}

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 64
	}
	if cfg.Decoders == nil {
		cfg.Decoders = filters.NewDefaultPipeline(filters.Limits{})
	}
	return &resolver{cfg: cfg}
}

type resolver struct {
	cfg      ResolverConfig
	sections int
}

func (r *resolver) Incremental() int { return r.sections }

func (r *resolver) Resolve(ctx context.Context, ra io.ReaderAt) (Table, error) {
	data := readAll(ra)
	t, err := r.resolveChain(ctx, data)
	if err == nil {
		return t, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	action := recovery.Decide(r.cfg.Recovery, err, recovery.Location{Component: "xref"})
	if action != recovery.ActionFix && action != recovery.ActionWarn {
		return nil, err
	}
	return repair(ctx, data, r.cfg)
}

func (r *resolver) resolveChain(ctx context.Context, data []byte) (*table, error) {
	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	t := &table{entries: make(map[int]Entry), kind: "table"}
	visited := make(map[int64]bool)
	r.sections = 0
	for offset := start; offset >= 0; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if visited[offset] {
			break // /Prev loop
		}
		if len(visited) >= r.cfg.MaxXRefDepth {
			return nil, fmt.Errorf("xref chain deeper than %d sections", r.cfg.MaxXRefDepth)
		}
		visited[offset] = true

		sec, err := r.readSection(ctx, data, offset)
		if err != nil {
			return nil, fmt.Errorf("xref section at %d: %w", offset, err)
		}
		r.sections++
		t.mergeSection(sec)
		if r.sections == 1 && sec.stream {
			t.kind = "stream"
		}
		if sec.hybrid {
			t.kind = "hybrid"
		}
		offset = prevOffset(sec.trailer)
	}
	if t.trailer == nil {
		return nil, errors.New("no trailer found")
	}
	return t, nil
}

// section is one xref table or stream with its trailer.
type section struct {
	inUse   map[int]Entry
	free    map[int]Entry
	trailer *raw.DictObj
	stream  bool
	hybrid  bool
}

func (r *resolver) readSection(ctx context.Context, data []byte, offset int64) (*section, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("offset out of range")
	}
	s := scanner.NewBytes(data, scanner.Config{Recovery: r.cfg.Recovery})
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	p := scanner.NewObjectParser(s, 0)
	tok, err := p.Next()
	if err != nil {
		return nil, err
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		sec, err := parseClassic(p)
		if err != nil {
			return nil, err
		}
		// Hybrid file: the table is complemented by an xref stream.
		if stmOff, ok := intEntry(sec.trailer, "XRefStm"); ok {
			stm, err := r.readStream(ctx, data, stmOff)
			if err == nil {
				for num, e := range stm.inUse {
					if _, exists := sec.inUse[num]; !exists {
						sec.inUse[num] = e
					}
				}
				sec.hybrid = true
			} else if recovery.Decide(r.cfg.Recovery, err, recovery.Location{ByteOffset: stmOff, Component: "xref:XRefStm"}) == recovery.ActionFail {
				return nil, err
			}
		}
		return sec, nil
	}
	return r.readStream(ctx, data, offset)
}

func parseClassic(p *scanner.ObjectParser) (*section, error) {
	sec := &section{inUse: make(map[int]Entry), free: make(map[int]Entry)}
	for {
		tok, err := p.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := p.ParseObject()
			if err != nil {
				return nil, fmt.Errorf("trailer: %w", err)
			}
			dict, ok := obj.(*raw.DictObj)
			if !ok {
				return nil, errors.New("trailer is not a dictionary")
			}
			sec.trailer = dict
			return sec, nil
		}
		countTok, err := p.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt || countTok.Type != scanner.TokenNumber || !countTok.IsInt {
			return nil, fmt.Errorf("invalid xref subsection header at offset %d", tok.Pos)
		}
		first, count := int(tok.Int), int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err := p.Next()
			if err != nil {
				return nil, err
			}
			genTok, err := p.Next()
			if err != nil {
				return nil, err
			}
			kindTok, err := p.Next()
			if err != nil {
				return nil, err
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber || kindTok.Type != scanner.TokenKeyword {
				return nil, fmt.Errorf("invalid xref entry at offset %d", offTok.Pos)
			}
			num := first + i
			switch kindTok.Str {
			case "n":
				if offTok.Int == 0 {
					// Some writers mark missing objects as in use at offset 0.
					sec.free[num] = Entry{Kind: EntryFree}
					continue
				}
				sec.inUse[num] = Entry{Kind: EntryInUse, Offset: offTok.Int, Gen: int(genTok.Int)}
			case "f":
				sec.free[num] = Entry{Kind: EntryFree, Gen: int(genTok.Int)}
			default:
				return nil, fmt.Errorf("invalid xref entry type %q", kindTok.Str)
			}
		}
	}
}

func (r *resolver) readStream(ctx context.Context, data []byte, offset int64) (*section, error) {
	s := scanner.NewBytes(data, scanner.Config{Recovery: r.cfg.Recovery})
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	p := scanner.NewObjectParser(s, 0)
	_, obj, err := p.ParseIndirect()
	if err != nil {
		return nil, err
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("xref offset does not point at a table or stream")
	}
	if t, ok := stm.Dict.Get(raw.NameLiteral("Type")); ok {
		if n, ok := t.(raw.Name); !ok || n.Value() != "XRef" {
			return nil, fmt.Errorf("object at %d is not an xref stream", offset)
		}
	}
	decoded, err := r.cfg.Decoders.DecodeStream(ctx, stm)
	if err != nil {
		return nil, fmt.Errorf("decode xref stream: %w", err)
	}
	sec, err := parseStreamEntries(stm.Dict, decoded)
	if err != nil {
		return nil, err
	}
	sec.trailer = stm.Dict
	sec.stream = true
	return sec, nil
}

func parseStreamEntries(dict *raw.DictObj, data []byte) (*section, error) {
	wObj, ok := dict.Get(raw.NameLiteral("W"))
	wArr, isArr := wObj.(*raw.ArrayObj)
	if !ok || !isArr || wArr.Len() < 3 {
		return nil, errors.New("xref stream missing /W")
	}
	var widths [3]int
	rowLen := 0
	for i := 0; i < 3; i++ {
		n, ok := wArr.Items[i].(raw.Number)
		if !ok || n.Int() < 0 || n.Int() > 8 {
			return nil, errors.New("invalid /W entry")
		}
		widths[i] = int(n.Int())
		rowLen += widths[i]
	}
	if rowLen == 0 {
		return nil, errors.New("xref stream row width is zero")
	}

	var index []int
	if idx, ok := dict.Get(raw.NameLiteral("Index")); ok {
		arr, ok := idx.(*raw.ArrayObj)
		if !ok || arr.Len()%2 != 0 {
			return nil, errors.New("invalid /Index")
		}
		for _, item := range arr.Items {
			n, ok := item.(raw.Number)
			if !ok {
				return nil, errors.New("invalid /Index entry")
			}
			index = append(index, int(n.Int()))
		}
	} else {
		size, ok := intEntry(dict, "Size")
		if !ok {
			return nil, errors.New("xref stream missing /Size")
		}
		index = []int{0, int(size)}
	}

	sec := &section{inUse: make(map[int]Entry), free: make(map[int]Entry)}
	pos := 0
	for i := 0; i < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowLen > len(data) {
				return sec, nil
			}
			row := data[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1) // default when the type field is absent
			if widths[0] > 0 {
				typ = beInt(row[:widths[0]])
			}
			f2 := beInt(row[widths[0] : widths[0]+widths[1]])
			f3 := beInt(row[widths[0]+widths[1]:])
			num := first + j
			switch typ {
			case 0:
				sec.free[num] = Entry{Kind: EntryFree, Gen: int(f3)}
			case 1:
				sec.inUse[num] = Entry{Kind: EntryInUse, Offset: f2, Gen: int(f3)}
			case 2:
				sec.inUse[num] = Entry{Kind: EntryCompressed, StreamNum: int(f2), Index: int(f3)}
			}
		}
	}
	return sec, nil
}

func beInt(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

type table struct {
	entries map[int]Entry
	trailer *raw.DictObj
	kind    string
}

// mergeSection folds an older section under what is already known: entries
// and trailer keys from newer sections win.
func (t *table) mergeSection(sec *section) {
	for num, e := range sec.inUse {
		if _, ok := t.entries[num]; !ok {
			t.entries[num] = e
		}
	}
	for num, e := range sec.free {
		if _, ok := t.entries[num]; !ok {
			t.entries[num] = e
		}
	}
	if sec.trailer == nil {
		return
	}
	if t.trailer == nil {
		t.trailer = raw.Dict()
	}
	for _, k := range sec.trailer.SortedKeys() {
		switch k {
		case "Prev", "XRefStm", "W", "Index", "Length", "Filter", "DecodeParms", "Type":
			continue
		}
		if _, ok := t.trailer.KV[k]; !ok {
			t.trailer.KV[k] = sec.trailer.KV[k]
		}
	}
}

func (t *table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind == EntryFree {
		return Entry{}, false
	}
	return e, true
}

// Objects returns the numbers of all in-use and compressed objects.
func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Kind != EntryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *table) Trailer() *raw.DictObj { return t.trailer }
func (t *table) Type() string          { return t.kind }

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, errors.Join(ErrNoXRef, errors.New("startxref not found"))
	}
	rest := bytes.TrimLeft(data[idx+len("startxref"):], " \t\r\n\f\x00")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	off, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	if off <= 0 || off >= int64(len(data)) {
		return 0, fmt.Errorf("xref offset out of range: %d", off)
	}
	return off, nil
}

func prevOffset(trailer *raw.DictObj) int64 {
	if off, ok := intEntry(trailer, "Prev"); ok && off > 0 {
		return off
	}
	return -1
}

func intEntry(d *raw.DictObj, key string) (int64, bool) {
	if d == nil {
		return 0, false
	}
	v, ok := d.Get(raw.NameLiteral(key))
	if !ok {
		return 0, false
	}
	n, ok := v.(raw.Number)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

func readAll(r io.ReaderAt) []byte {
	var buf bytes.Buffer
	const chunk = int64(32 * 1024)
	for off := int64(0); ; off += chunk {
		tmp := make([]byte, chunk)
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil {
			break
		}
		if int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
