package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/handoutify/filters"
	"github.com/wudi/handoutify/ir/raw"
	"github.com/wudi/handoutify/recovery"
	"github.com/wudi/handoutify/scanner"
	"github.com/wudi/handoutify/security"
	"github.com/wudi/handoutify/xref"
)

type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	data      []byte
	xrefTable xref.Table
	limits    security.Limits
	recovery  recovery.Strategy
	decoders  *filters.Pipeline
}

func (b *ObjectLoaderBuilder) WithXRef(table xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithData(data []byte) *ObjectLoaderBuilder {
	b.data = data
	return b
}
func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}
func (b *ObjectLoaderBuilder) WithRecovery(r recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = r
	return b
}
func (b *ObjectLoaderBuilder) WithDecoders(p *filters.Pipeline) *ObjectLoaderBuilder {
	b.decoders = p
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	return b.build()
}

func (b *ObjectLoaderBuilder) build() (*objectLoader, error) {
	if b.data == nil || b.xrefTable == nil {
		return nil, errors.New("data and xrefTable required")
	}
	limits := b.limits.WithDefaults()
	dec := b.decoders
	if dec == nil {
		dec = filters.NewDefaultPipeline(filters.Limits{
			MaxDecompressedSize: limits.MaxDecompressedSize,
			MaxDecodeTime:       limits.MaxDecodeTime,
		})
	}
	return &objectLoader{
		data:      b.data,
		xrefTable: b.xrefTable,
		limits:    limits,
		recovery:  b.recovery,
		decoders:  dec,
		objstm:    make(map[int]*objectStream),
		loading:   make(map[int]bool),
	}, nil
}

type objectLoader struct {
	data      []byte
	xrefTable xref.Table
	limits    security.Limits
	recovery  recovery.Strategy
	decoders  *filters.Pipeline
	mu        sync.Mutex
	objstm    map[int]*objectStream
	loading   map[int]bool
}

// objectStream is a decoded /Type /ObjStm with its member directory.
type objectStream struct {
	nums    []int
	offsets []int
	body    []byte
	objects map[int]raw.Object
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.load(ctx, ref.Num)
}

func (o *objectLoader) load(ctx context.Context, num int) (raw.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.loading[num] {
		return nil, fmt.Errorf("object %d refers to itself while loading", num)
	}
	o.loading[num] = true
	defer delete(o.loading, num)

	e, found := o.xrefTable.Lookup(num)
	if !found {
		return nil, fmt.Errorf("object %d not found in xref", num)
	}
	if e.Kind == xref.EntryCompressed {
		return o.loadFromObjectStream(ctx, num, e.StreamNum, e.Index)
	}
	_, obj, err := o.loadAtOffset(ctx, num, e.Offset)
	return obj, err
}

func (o *objectLoader) scannerConfig() scanner.Config {
	return scanner.Config{
		Recovery:        o.recovery,
		MaxStringLength: o.limits.MaxStringLength,
		MaxStreamLength: o.limits.MaxStreamLength,
	}
}

func (o *objectLoader) loadAtOffset(ctx context.Context, objNum int, offset int64) (raw.ObjectRef, raw.Object, error) {
	s := scanner.NewBytes(o.data, o.scannerConfig())
	if err := s.SeekTo(offset); err != nil {
		return raw.ObjectRef{}, nil, fmt.Errorf("object %d: %w", objNum, err)
	}
	p := scanner.NewObjectParser(s, o.limits.MaxNestingDepth)
	p.LengthOf = func(v raw.Object) (int64, bool) {
		ref, ok := v.(raw.Reference)
		if !ok {
			return 0, false
		}
		obj, err := o.load(ctx, ref.Ref().Num)
		if err != nil {
			return 0, false
		}
		n, ok := obj.(raw.Number)
		if !ok {
			return 0, false
		}
		return n.Int(), true
	}
	ref, obj, err := p.ParseIndirect()
	if err != nil {
		return ref, nil, fmt.Errorf("object %d at offset %d: %w", objNum, offset, err)
	}
	if ref.Num != objNum {
		return ref, nil, fmt.Errorf("xref offset %d for object %d points at object %d", offset, objNum, ref.Num)
	}
	return ref, obj, nil
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, num, streamNum, idx int) (raw.Object, error) {
	stm, err := o.objectStream(ctx, streamNum)
	if err != nil {
		return nil, err
	}
	// The index is a hint; fall back to a directory search when it disagrees.
	if idx < 0 || idx >= len(stm.nums) || stm.nums[idx] != num {
		idx = -1
		for i, n := range stm.nums {
			if n == num {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("object %d not found in object stream %d", num, streamNum)
		}
	}
	return o.objectStreamMember(stm, idx)
}

func (o *objectLoader) objectStreamMember(stm *objectStream, idx int) (raw.Object, error) {
	num := stm.nums[idx]
	if obj, ok := stm.objects[num]; ok {
		return obj, nil
	}
	off := stm.offsets[idx]
	if off < 0 || off > len(stm.body) {
		return nil, fmt.Errorf("object %d offset %d outside object stream", num, off)
	}
	p := scanner.NewObjectParser(scanner.NewBytes(stm.body[off:], o.scannerConfig()), o.limits.MaxNestingDepth)
	obj, err := p.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("object %d in object stream: %w", num, err)
	}
	stm.objects[num] = obj
	return obj, nil
}

func (o *objectLoader) objectStream(ctx context.Context, streamNum int) (*objectStream, error) {
	if stm, ok := o.objstm[streamNum]; ok {
		return stm, nil
	}
	obj, err := o.load(ctx, streamNum)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object stream %d is not a stream", streamNum)
	}
	stm, err := o.decodeObjectStream(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
	}
	o.objstm[streamNum] = stm
	return stm, nil
}

func (o *objectLoader) decodeObjectStream(ctx context.Context, st *raw.StreamObj) (*objectStream, error) {
	n := int(getIntFromDict(st.Dict, "N"))
	first := int(getIntFromDict(st.Dict, "First"))
	data, err := o.decoders.DecodeStream(ctx, st)
	if err != nil {
		return nil, err
	}
	if first < 0 || first > len(data) {
		return nil, errors.New("object stream /First exceeds length")
	}
	stm := &objectStream{body: data[first:], objects: make(map[int]raw.Object)}
	s := scanner.NewBytes(data[:first], o.scannerConfig())
	for len(stm.nums) < n {
		numTok, err := s.Next()
		if err != nil {
			break
		}
		offTok, err := s.Next()
		if err != nil {
			break
		}
		if numTok.Type != scanner.TokenNumber || !numTok.IsInt || offTok.Type != scanner.TokenNumber || !offTok.IsInt {
			return nil, errors.New("malformed object stream header")
		}
		stm.nums = append(stm.nums, int(numTok.Int))
		stm.offsets = append(stm.offsets, int(offTok.Int))
	}
	return stm, nil
}

func getIntFromDict(d *raw.DictObj, key string) int64 {
	if v, ok := d.Get(raw.NameObj{Val: key}); ok {
		if n, ok := v.(raw.Number); ok {
			return n.Int()
		}
	}
	return 0
}

// unlistedMembers loads the members of object stream streamNum that the xref
// table does not know about. Only repaired tables produce such members.
func (o *objectLoader) unlistedMembers(ctx context.Context, streamNum int) (map[int]raw.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	stm, err := o.objectStream(ctx, streamNum)
	if err != nil {
		return nil, err
	}
	out := make(map[int]raw.Object)
	for idx, num := range stm.nums {
		if _, listed := o.xrefTable.Lookup(num); listed {
			continue
		}
		obj, err := o.objectStreamMember(stm, idx)
		if err != nil {
			return nil, err
		}
		out[num] = obj
	}
	return out, nil
}
