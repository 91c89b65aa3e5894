package handout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wudi/handoutify/ir/raw"
)

// deck builds small presentation documents: catalog 1 0 R, root pages node
// 2 0 R, then fonts, content streams and pages as they are added.
type deck struct {
	doc     *raw.Document
	catalog *raw.DictObj
	root    *raw.DictObj
	kids    *raw.ArrayObj
	fonts   map[string]raw.ObjectRef
	pages   []raw.ObjectRef
}

func newDeck() *deck {
	doc := raw.NewDocument("1.5")
	d := &deck{doc: doc, catalog: raw.Dict(), root: raw.Dict(), kids: raw.NewArray(), fonts: make(map[string]raw.ObjectRef)}
	d.catalog.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	d.catalog.Set(raw.NameLiteral("Pages"), raw.Ref(2, 0))
	d.root.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	d.root.Set(raw.NameLiteral("Kids"), d.kids)
	doc.Objects[raw.ObjectRef{Num: 1}] = d.catalog
	doc.Objects[raw.ObjectRef{Num: 2}] = d.root
	doc.Trailer.Set(raw.NameLiteral("Root"), raw.Ref(1, 0))
	return d
}

func (d *deck) font(name string) raw.ObjectRef {
	if ref, ok := d.fonts[name]; ok {
		return ref
	}
	f := raw.Dict()
	f.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
	f.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral(name))
	ref := d.doc.Add(f)
	d.fonts[name] = ref
	return ref
}

func (d *deck) stream(content string) raw.ObjectRef {
	return d.doc.Add(raw.NewStream(raw.Dict(), []byte(content)))
}

// page appends a page under the root node whose fonts are shared by name.
func (d *deck) page(content string, fonts ...string) raw.ObjectRef {
	return d.pageUnder(raw.ObjectRef{Num: 2}, d.kids, content, fonts...)
}

func (d *deck) pageUnder(parent raw.ObjectRef, kids *raw.ArrayObj, content string, fonts ...string) raw.ObjectRef {
	p := raw.Dict()
	p.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
	p.Set(raw.NameLiteral("Parent"), raw.RefTo(parent))
	p.Set(raw.NameLiteral("Contents"), raw.RefTo(d.stream(content)))
	if len(fonts) > 0 {
		fontDict := raw.Dict()
		for _, f := range fonts {
			fontDict.Set(raw.NameLiteral(f), raw.RefTo(d.font(f)))
		}
		res := raw.Dict()
		res.Set(raw.NameLiteral("Font"), fontDict)
		p.Set(raw.NameLiteral("Resources"), res)
	}
	ref := d.doc.Add(p)
	kids.Append(raw.RefTo(ref))
	d.pages = append(d.pages, ref)
	return ref
}

func (d *deck) pageDict(i int) *raw.DictObj {
	return d.doc.Objects[d.pages[i]].(*raw.DictObj)
}

// build sets /Count on the root node.
func (d *deck) build() *raw.Document {
	if _, ok := d.root.Get(raw.NameLiteral("Count")); !ok {
		d.root.Set(raw.NameLiteral("Count"), raw.NumberInt(int64(len(d.pages))))
	}
	return d.doc
}

// reveal returns the content of reveal step n (1-based) of a slide.
func reveal(slide string, n int) string {
	out := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += "\n"
		}
		out += "BT (" + slide + string(rune('0'+i)) + ") Tj ET"
	}
	return out
}

func explicitDest(page raw.ObjectRef) *raw.ArrayObj {
	return raw.NewArray(raw.RefTo(page), raw.NameLiteral("Fit"))
}

func goTo(dest raw.Object) *raw.DictObj {
	a := raw.Dict()
	a.Set(raw.NameLiteral("S"), raw.NameLiteral("GoTo"))
	a.Set(raw.NameLiteral("D"), dest)
	return a
}

func addLink(doc *raw.Document, page *raw.DictObj, key string, target raw.Object) raw.ObjectRef {
	annot := raw.Dict()
	annot.Set(raw.NameLiteral("Type"), raw.NameLiteral("Annot"))
	annot.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Link"))
	annot.Set(raw.NameLiteral(key), target)
	ref := doc.Add(annot)
	annots, ok := page.Get(raw.NameLiteral("Annots"))
	if !ok {
		annots = raw.NewArray()
		page.Set(raw.NameLiteral("Annots"), annots)
	}
	annots.(*raw.ArrayObj).Append(raw.RefTo(ref))
	return ref
}

// firstRef returns the page reference of an explicit destination array.
func firstRef(t *testing.T, obj raw.Object) raw.ObjectRef {
	t.Helper()
	arr, ok := obj.(*raw.ArrayObj)
	require.True(t, ok, "expected destination array, got %T", obj)
	ref, ok := arr.Items[0].(raw.Reference)
	require.True(t, ok)
	return ref.Ref()
}

func kidRefs(t *testing.T, doc *raw.Document, node raw.ObjectRef) []raw.ObjectRef {
	t.Helper()
	kids := doc.Objects[node].(*raw.DictObj).KV["Kids"].(*raw.ArrayObj)
	var out []raw.ObjectRef
	for _, k := range kids.Items {
		out = append(out, k.(raw.Reference).Ref())
	}
	return out
}

func countOf(doc *raw.Document, node raw.ObjectRef) int64 {
	return doc.Objects[node].(*raw.DictObj).KV["Count"].(raw.Number).Int()
}

// requireNoDanglingRefs checks that every reference in the arena and the
// trailer resolves.
func requireNoDanglingRefs(t *testing.T, doc *raw.Document) {
	t.Helper()
	check := func(ref raw.ObjectRef) {
		_, ok := doc.Objects[ref]
		require.True(t, ok, "dangling reference %s", ref)
	}
	for _, obj := range doc.Objects {
		raw.VisitRefs(obj, check)
	}
	raw.VisitRefs(doc.Trailer, check)
}
