package xref

import (
	"context"
	"errors"
	"io"

	"github.com/wudi/handoutify/ir/raw"
	"github.com/wudi/handoutify/scanner"
)

// repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" patterns and "trailer" dictionaries; a later
// definition of the same object number replaces an earlier one.
func repair(ctx context.Context, data []byte, cfg ResolverConfig) (Table, error) {
	s := scanner.NewBytes(data, scanner.Config{Recovery: cfg.Recovery})
	p := scanner.NewObjectParser(s, 0)
	t := &table{entries: make(map[int]Entry), kind: "repaired"}
	var trailers []*raw.DictObj
	var catalog *raw.ObjectRef

	var window [2]scanner.Token
	filled := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := p.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Skip the offending byte and keep scanning.
			if serr := s.SeekTo(s.Position() + 1); serr != nil {
				break
			}
			filled = 0
			continue
		}

		switch {
		case tok.Type == scanner.TokenKeyword && tok.Str == "obj" && filled == 2 &&
			window[0].Type == scanner.TokenNumber && window[0].IsInt &&
			window[1].Type == scanner.TokenNumber && window[1].IsInt:
			ref := raw.ObjectRef{Num: int(window[0].Int), Gen: int(window[1].Int)}
			t.entries[ref.Num] = Entry{Kind: EntryInUse, Offset: window[0].Pos, Gen: ref.Gen}
			filled = 0
			after := s.Position()
			obj, err := p.ParseObject()
			if err != nil {
				_ = s.SeekTo(after)
				continue
			}
			dict, ok := obj.(*raw.DictObj)
			if !ok {
				continue
			}
			switch nameEntry(dict, "Type") {
			case "XRef":
				trailers = append(trailers, dict)
			case "Catalog":
				r := ref
				catalog = &r
			}
			continue
		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			filled = 0
			obj, err := p.ParseObject()
			if err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					trailers = append(trailers, dict)
				}
			}
			continue
		}

		// Keep the last two tokens for header detection.
		if filled == 2 {
			window[0] = window[1]
			filled = 1
		}
		window[filled] = tok
		filled++
	}

	if len(t.entries) == 0 {
		return nil, errors.Join(ErrNoXRef, errors.New("repair failed: no objects found"))
	}

	// Newest trailer first so its keys win.
	for i := len(trailers) - 1; i >= 0; i-- {
		t.mergeSection(&section{trailer: trailers[i]})
	}
	if t.trailer == nil {
		t.trailer = raw.Dict()
	}
	if _, ok := t.trailer.Get(raw.NameLiteral("Root")); !ok && catalog != nil {
		t.trailer.Set(raw.NameLiteral("Root"), raw.RefTo(*catalog))
	}
	if _, ok := t.trailer.Get(raw.NameLiteral("Size")); !ok {
		t.trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(maxKey(t.entries)+1)))
	}
	return t, nil
}

func nameEntry(d *raw.DictObj, key string) string {
	v, ok := d.Get(raw.NameLiteral(key))
	if !ok {
		return ""
	}
	n, ok := v.(raw.Name)
	if !ok {
		return ""
	}
	return n.Value()
}

func maxKey(m map[int]Entry) int {
	highest := 0
	for k := range m {
		if k > highest {
			highest = k
		}
	}
	return highest
}
