package handout

import (
	"fmt"

	"github.com/wudi/handoutify/ir/raw"
)

// Page is one leaf of the page tree in document order.
type Page struct {
	Index int
	Ref   raw.ObjectRef
	Dict  *raw.DictObj
	// Parent is the tree node whose /Kids lists the page.
	Parent raw.ObjectRef
	// Ancestors runs from Parent up to the root /Pages node.
	Ancestors []raw.ObjectRef
	// Resources is the effective resource dictionary after inheritance.
	Resources raw.Object
}

// collectPages flattens the page tree below the catalog's /Pages entry.
func collectPages(doc *raw.Document, catalog *raw.DictObj) ([]Page, raw.ObjectRef, error) {
	rootObj, ok := catalog.Get(raw.NameLiteral("Pages"))
	if !ok {
		return nil, raw.ObjectRef{}, fmt.Errorf("%w: catalog has no /Pages", ErrStructure)
	}
	rootRef, ok := rootObj.(raw.Reference)
	if !ok {
		return nil, raw.ObjectRef{}, fmt.Errorf("%w: /Pages is not an indirect reference", ErrStructure)
	}
	w := &treeWalker{doc: doc, visited: make(map[raw.ObjectRef]bool)}
	if err := w.walk(rootRef.Ref(), nil, nil); err != nil {
		return nil, raw.ObjectRef{}, err
	}
	return w.pages, rootRef.Ref(), nil
}

type treeWalker struct {
	doc     *raw.Document
	visited map[raw.ObjectRef]bool
	pages   []Page
}

func (w *treeWalker) walk(ref raw.ObjectRef, ancestors []raw.ObjectRef, inherited raw.Object) error {
	if w.visited[ref] {
		return fmt.Errorf("%w: page tree cycle at %s", ErrStructure, ref)
	}
	w.visited[ref] = true

	dict, ok := w.doc.Objects[ref].(*raw.DictObj)
	if !ok {
		return fmt.Errorf("%w: page tree node %s is not a dictionary", ErrStructure, ref)
	}

	if res, ok := dict.Get(raw.NameLiteral("Resources")); ok {
		inherited = res
	}

	if !isPagesNode(dict) {
		if len(ancestors) == 0 {
			return fmt.Errorf("%w: page tree root %s is a page", ErrStructure, ref)
		}
		w.pages = append(w.pages, Page{
			Index:     len(w.pages),
			Ref:       ref,
			Dict:      dict,
			Parent:    ancestors[0],
			Ancestors: ancestors,
			Resources: inherited,
		})
		return nil
	}

	kids, ok := w.doc.Resolve(dictGet(dict, "Kids")).(*raw.ArrayObj)
	if !ok {
		return fmt.Errorf("%w: pages node %s has no /Kids array", ErrStructure, ref)
	}
	chain := make([]raw.ObjectRef, 0, len(ancestors)+1)
	chain = append(chain, ref)
	chain = append(chain, ancestors...)
	for _, kid := range kids.Items {
		kidRef, ok := kid.(raw.Reference)
		if !ok {
			return fmt.Errorf("%w: pages node %s lists a direct object", ErrStructure, ref)
		}
		if err := w.walk(kidRef.Ref(), chain, inherited); err != nil {
			return err
		}
	}
	return nil
}

// isPagesNode reports whether dict is an intermediate node. Without /Type
// the presence of /Kids decides.
func isPagesNode(dict *raw.DictObj) bool {
	switch nameOf(dictGet(dict, "Type")) {
	case "Pages":
		return true
	case "Page":
		return false
	}
	_, hasKids := dict.Get(raw.NameLiteral("Kids"))
	return hasKids
}

func dictGet(d *raw.DictObj, key string) raw.Object {
	if d == nil {
		return nil
	}
	v, _ := d.Get(raw.NameLiteral(key))
	return v
}

func nameOf(obj raw.Object) string {
	if n, ok := obj.(raw.Name); ok {
		return n.Value()
	}
	return ""
}

func resolveDict(doc *raw.Document, obj raw.Object) (*raw.DictObj, bool) {
	d, ok := doc.Resolve(obj).(*raw.DictObj)
	return d, ok
}

func resolveArray(doc *raw.Document, obj raw.Object) (*raw.ArrayObj, bool) {
	a, ok := doc.Resolve(obj).(*raw.ArrayObj)
	return a, ok
}
