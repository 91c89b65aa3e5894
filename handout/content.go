package handout

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/wudi/handoutify/filters"
	"github.com/wudi/handoutify/ir/raw"
)

var errMissingContent = errors.New("content stream missing")

// Fingerprint is the comparable form of a page: its decoded content and the
// identities of the resources it can use.
type Fingerprint struct {
	Content   []byte
	Resources []string
	Err       error
}

// Extractor builds page fingerprints. It never modifies the document.
type Extractor struct {
	doc      *raw.Document
	decoders *filters.Pipeline
}

func NewExtractor(doc *raw.Document, decoders *filters.Pipeline) *Extractor {
	if decoders == nil {
		decoders = filters.NewDefaultPipeline(filters.Limits{})
	}
	return &Extractor{doc: doc, decoders: decoders}
}

// Fingerprint decodes every stream in the page's /Contents, in array order,
// joined by a single newline. A page without /Contents has empty content.
func (e *Extractor) Fingerprint(ctx context.Context, page Page) Fingerprint {
	content, err := e.content(ctx, page)
	if err != nil {
		return Fingerprint{Err: err}
	}
	return Fingerprint{
		Content:   content,
		Resources: e.resourceKeys(page.Resources),
	}
}

func (e *Extractor) content(ctx context.Context, page Page) ([]byte, error) {
	contents, ok := page.Dict.Get(raw.NameLiteral("Contents"))
	if !ok {
		return nil, nil
	}

	var streams []raw.Object
	switch v := e.doc.Resolve(contents).(type) {
	case *raw.StreamObj:
		streams = []raw.Object{contents}
	case *raw.ArrayObj:
		streams = v.Items
	case nil:
		return nil, fmt.Errorf("/Contents %s: %w", describe(contents), errMissingContent)
	default:
		return nil, fmt.Errorf("/Contents is a %s", v.Type())
	}

	var buf bytes.Buffer
	for i, item := range streams {
		st, ok := e.doc.Resolve(item).(*raw.StreamObj)
		if !ok {
			return nil, fmt.Errorf("content stream %d (%s): %w", i, describe(item), errMissingContent)
		}
		data, err := e.decoders.DecodeStream(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("content stream %d (%s): %w", i, describe(item), err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// resourceKeys lists one key per resource entry: "Category/Name=N G R" for
// indirect values and a digest of the serialized value for direct ones.
func (e *Extractor) resourceKeys(resources raw.Object) []string {
	res, ok := resolveDict(e.doc, resources)
	if !ok {
		return nil
	}
	var keys []string
	for _, category := range res.SortedKeys() {
		value := res.KV[category]
		entries, ok := resolveDict(e.doc, value)
		if !ok {
			keys = append(keys, category+"="+identity(value))
			continue
		}
		for _, name := range entries.SortedKeys() {
			keys = append(keys, category+"/"+name+"="+identity(entries.KV[name]))
		}
	}
	sort.Strings(keys)
	return keys
}

func identity(obj raw.Object) string {
	if r, ok := obj.(raw.Reference); ok {
		return r.Ref().String()
	}
	return hashObject(obj)
}

func describe(obj raw.Object) string {
	if r, ok := obj.(raw.Reference); ok {
		return r.Ref().String()
	}
	return "direct"
}

func hashObject(obj raw.Object) string {
	h := sha256.New()
	writeHash(h, obj)
	return hex.EncodeToString(h.Sum(nil))
}

func writeHash(h interface{ Write([]byte) (int, error) }, obj raw.Object) {
	if obj == nil {
		fmt.Fprint(h, "nil")
		return
	}
	fmt.Fprint(h, obj.Type(), ":")
	switch t := obj.(type) {
	case raw.Name:
		fmt.Fprint(h, t.Value())
	case raw.Number:
		if t.IsInteger() {
			fmt.Fprint(h, t.Int())
		} else {
			fmt.Fprint(h, t.Float())
		}
	case raw.Boolean:
		fmt.Fprint(h, t.Value())
	case raw.String:
		fmt.Fprintf(h, "%d:%s", len(t.Value()), t.Value())
	case raw.Reference:
		fmt.Fprint(h, t.Ref().String())
	case *raw.ArrayObj:
		fmt.Fprint(h, "[")
		for _, v := range t.Items {
			writeHash(h, v)
			fmt.Fprint(h, ",")
		}
		fmt.Fprint(h, "]")
	case *raw.DictObj:
		fmt.Fprint(h, "<<")
		for _, k := range t.SortedKeys() {
			fmt.Fprint(h, k)
			writeHash(h, t.KV[k])
		}
		fmt.Fprint(h, ">>")
	case *raw.StreamObj:
		writeHash(h, t.Dict)
		h.Write(t.Data)
	}
}
