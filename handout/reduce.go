package handout

import (
	"fmt"

	"github.com/wudi/handoutify/ir/raw"
)

// reduction holds a checked plan and, once applied, its outcome.
type reduction struct {
	doc     *raw.Document
	catalog *raw.DictObj
	root    raw.ObjectRef

	// retarget maps every removed page to its group's terminal page.
	retarget  map[raw.ObjectRef]raw.ObjectRef
	removed   []Page
	survivors []Page

	// deletedNodes are intermediate /Pages nodes left empty and removed.
	deletedNodes map[raw.ObjectRef]bool
	seenActions  map[*raw.DictObj]bool
	retargeted   int
	warnings     []Warning
}

// planReduction validates groups against the page tree without mutating
// anything.
func planReduction(doc *raw.Document, catalog *raw.DictObj, root raw.ObjectRef, pages []Page, groups []Group) (*reduction, error) {
	next := 0
	for _, g := range groups {
		if g.First != next || g.Last < g.First || g.Last >= len(pages) {
			return nil, fmt.Errorf("%w: groups do not partition %d pages", ErrStructure, len(pages))
		}
		next = g.Last + 1
	}
	if next != len(pages) {
		return nil, fmt.Errorf("%w: groups do not partition %d pages", ErrStructure, len(pages))
	}

	r := &reduction{
		doc:          doc,
		catalog:      catalog,
		root:         root,
		retarget:     make(map[raw.ObjectRef]raw.ObjectRef),
		deletedNodes: make(map[raw.ObjectRef]bool),
		seenActions:  make(map[*raw.DictObj]bool),
	}
	for _, g := range groups {
		terminal := pages[g.Terminal()]
		for i := g.First; i < g.Last; i++ {
			p := pages[i]
			if !listedInKids(doc, p) {
				return nil, fmt.Errorf("%w: page %d (%s) is not listed in /Kids of %s", ErrStructure, i+1, p.Ref, p.Parent)
			}
			r.retarget[p.Ref] = terminal.Ref
			r.removed = append(r.removed, p)
		}
		r.survivors = append(r.survivors, terminal)
	}
	return r, nil
}

func listedInKids(doc *raw.Document, p Page) bool {
	parent, ok := doc.Objects[p.Parent].(*raw.DictObj)
	if !ok {
		return false
	}
	kids, ok := resolveArray(doc, dictGet(parent, "Kids"))
	if !ok {
		return false
	}
	for _, kid := range kids.Items {
		if ref, ok := kid.(raw.Reference); ok && ref.Ref() == p.Ref {
			return true
		}
	}
	return false
}

// apply performs the planned mutation. Every check that can fail ran in
// planReduction.
func (r *reduction) apply() {
	if len(r.removed) == 0 {
		r.retargetDestinations()
		return
	}
	for _, p := range r.removed {
		r.unlinkPage(p)
	}
	for _, p := range r.removed {
		r.dropEmptyAncestors(p)
	}
	for _, p := range r.removed {
		r.doc.Delete(p.Ref)
	}
	r.retargetDestinations()
	r.rebuildPageLabels()
	r.sweep()
}

func (r *reduction) unlinkPage(p Page) {
	removeKid(r.doc, p.Parent, p.Ref)
	for _, a := range p.Ancestors {
		node, ok := r.doc.Objects[a].(*raw.DictObj)
		if !ok {
			continue
		}
		count, ok := dictGet(node, "Count").(raw.Number)
		if !ok || !count.IsInteger() || count.Int() <= 0 {
			continue
		}
		node.Set(raw.NameLiteral("Count"), raw.NumberInt(count.Int()-1))
	}
}

// dropEmptyAncestors removes intermediate nodes above p that lost their last
// kid. The root node always stays.
func (r *reduction) dropEmptyAncestors(p Page) {
	for i := 0; i < len(p.Ancestors)-1; i++ {
		node := p.Ancestors[i]
		if r.deletedNodes[node] {
			continue
		}
		dict, ok := r.doc.Objects[node].(*raw.DictObj)
		if !ok {
			return
		}
		if kids, ok := resolveArray(r.doc, dictGet(dict, "Kids")); ok && len(kids.Items) > 0 {
			return
		}
		removeKid(r.doc, p.Ancestors[i+1], node)
		r.doc.Delete(node)
		r.deletedNodes[node] = true
	}
}

func removeKid(doc *raw.Document, parent, kid raw.ObjectRef) {
	node, ok := doc.Objects[parent].(*raw.DictObj)
	if !ok {
		return
	}
	kids, ok := resolveArray(doc, dictGet(node, "Kids"))
	if !ok {
		return
	}
	items := kids.Items[:0]
	for _, item := range kids.Items {
		if ref, ok := item.(raw.Reference); ok && ref.Ref() == kid {
			continue
		}
		items = append(items, item)
	}
	kids.Items = items
}

// sweep moves every reference still pointing at a removed page to the
// terminal page and nulls references to deleted tree nodes.
func (r *reduction) sweep() {
	r.doc.RewriteAll(func(ref raw.ObjectRef) (raw.Object, bool) {
		if to, ok := r.retarget[ref]; ok {
			r.retargeted++
			return raw.RefTo(to), true
		}
		if r.deletedNodes[ref] {
			return raw.NullObj{}, true
		}
		return nil, false
	})
}

func (r *reduction) warn(w Warning) {
	r.warnings = append(r.warnings, w)
}
