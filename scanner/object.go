package scanner

import (
	"errors"
	"fmt"

	"github.com/wudi/handoutify/ir/raw"
)

// ErrDepth is returned when arrays and dictionaries nest deeper than allowed.
var ErrDepth = errors.New("object nesting too deep")

// ObjectParser assembles raw objects from a token stream.
type ObjectParser struct {
	s        Scanner
	maxDepth int
	peeked   []Token

	// LengthOf resolves a stream's /Length value. It is consulted for
	// indirect lengths; direct integers are used as-is.
	LengthOf func(raw.Object) (int64, bool)
}

func NewObjectParser(s Scanner, maxDepth int) *ObjectParser {
	if maxDepth <= 0 {
		maxDepth = 100
	}
	return &ObjectParser{s: s, maxDepth: maxDepth}
}

func (p *ObjectParser) Next() (Token, error) {
	if n := len(p.peeked); n > 0 {
		tok := p.peeked[n-1]
		p.peeked = p.peeked[:n-1]
		return tok, nil
	}
	return p.s.Next()
}

// Unread pushes tok back so the following Next returns it.
func (p *ObjectParser) Unread(tok Token) { p.peeked = append(p.peeked, tok) }

// ParseObject reads one direct object or reference.
func (p *ObjectParser) ParseObject() (raw.Object, error) {
	return p.parseObject(0)
}

func (p *ObjectParser) parseObject(depth int) (raw.Object, error) {
	if depth > p.maxDepth {
		return nil, ErrDepth
	}
	tok, err := p.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case TokenName:
		return raw.NameLiteral(tok.Str), nil
	case TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case TokenRef:
		return raw.Ref(int(tok.Int), tok.Gen), nil
	case TokenArray:
		return p.parseArray(depth + 1)
	case TokenDict:
		return p.parseDict(depth + 1)
	default:
		return nil, fmt.Errorf("%w: unexpected %s %q at offset %d", ErrSyntax, tok.Type, tok.Str, tok.Pos)
	}
}

func (p *ObjectParser) parseArray(depth int) (*raw.ArrayObj, error) {
	arr := raw.NewArray()
	for {
		tok, err := p.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		p.Unread(tok)
		item, err := p.parseObject(depth)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func (p *ObjectParser) parseDict(depth int) (*raw.DictObj, error) {
	dict := raw.Dict()
	for {
		tok, err := p.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			return dict, nil
		}
		if tok.Type != TokenName {
			return nil, fmt.Errorf("%w: dictionary key must be a name, got %s at offset %d", ErrSyntax, tok.Type, tok.Pos)
		}
		val, err := p.parseObject(depth)
		if err != nil {
			return nil, err
		}
		// A null value is equivalent to an absent key.
		if _, isNull := val.(raw.NullObj); isNull {
			continue
		}
		dict.Set(raw.NameLiteral(tok.Str), val)
	}
}

// ParseIndirect reads "<num> <gen> obj <object> [stream] endobj".
func (p *ObjectParser) ParseIndirect() (raw.ObjectRef, raw.Object, error) {
	numTok, err := p.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	genTok, err := p.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	objTok, err := p.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	if numTok.Type != TokenNumber || !numTok.IsInt || genTok.Type != TokenNumber || !genTok.IsInt ||
		objTok.Type != TokenKeyword || objTok.Str != "obj" {
		return raw.ObjectRef{}, nil, fmt.Errorf("%w: missing object header at offset %d", ErrSyntax, numTok.Pos)
	}
	ref := raw.ObjectRef{Num: int(numTok.Int), Gen: int(genTok.Int)}

	obj, err := p.parseObject(0)
	if err != nil {
		return ref, nil, err
	}

	if dict, ok := obj.(*raw.DictObj); ok {
		p.s.SetNextStreamLength(p.streamLength(dict))
		tok, err := p.Next()
		p.s.SetNextStreamLength(-1)
		if err == nil {
			if tok.Type == TokenStream {
				obj = raw.NewStream(dict, tok.Bytes)
			} else {
				p.Unread(tok)
			}
		}
	}

	tok, err := p.Next()
	if err == nil && !(tok.Type == TokenKeyword && tok.Str == "endobj") {
		// Missing endobj is common; leave the token for the caller.
		p.Unread(tok)
	}
	return ref, obj, nil
}

func (p *ObjectParser) streamLength(dict *raw.DictObj) int64 {
	v, ok := dict.Get(raw.NameLiteral("Length"))
	if !ok {
		return -1
	}
	if n, ok := v.(raw.Number); ok && n.IsInteger() && n.Int() >= 0 {
		return n.Int()
	}
	if p.LengthOf != nil {
		if n, ok := p.LengthOf(v); ok && n >= 0 {
			return n
		}
	}
	return -1
}
