package handout

import (
	"fmt"

	"github.com/wudi/handoutify/ir/raw"
)

// maxTreeDepth bounds recursion through name trees and action chains.
const maxTreeDepth = 64

func (r *reduction) retargetDestinations() {
	r.retargetOutlines()
	r.retargetNamedDests()
	r.retargetLinks()
	if open, ok := r.catalog.Get(raw.NameLiteral("OpenAction")); ok {
		r.fixTarget(open, "/OpenAction", 0)
	}
}

// fixPageRef retargets a reference that should point at a page.
func (r *reduction) fixPageRef(ref raw.ObjectRef, where string) (raw.Object, bool) {
	if to, ok := r.retarget[ref]; ok {
		r.retargeted++
		return raw.RefTo(to), true
	}
	if _, ok := r.doc.Objects[ref]; !ok && !r.deletedNodes[ref] {
		r.warn(Warning{Kind: DanglingReference, Page: -1, Ref: ref, Where: where})
	}
	return nil, false
}

// fixExplicitDest rewrites the page element of an explicit destination
// array such as [page /XYZ left top zoom].
func (r *reduction) fixExplicitDest(arr *raw.ArrayObj, where string) {
	if len(arr.Items) == 0 {
		return
	}
	ref, ok := arr.Items[0].(raw.Reference)
	if !ok {
		return
	}
	if repl, ok := r.fixPageRef(ref.Ref(), where); ok {
		arr.Items[0] = repl
	}
}

// fixTarget handles the values found under /Dest, /D and /OpenAction: an
// explicit destination, a dictionary carrying /D, or an action. Named
// destinations are left for retargetNamedDests.
func (r *reduction) fixTarget(obj raw.Object, where string, depth int) {
	if depth > maxTreeDepth {
		return
	}
	switch v := r.doc.Resolve(obj).(type) {
	case *raw.ArrayObj:
		r.fixExplicitDest(v, where)
	case *raw.DictObj:
		if _, isAction := v.Get(raw.NameLiteral("S")); isAction {
			r.fixAction(v, where, depth)
			return
		}
		if d, ok := v.Get(raw.NameLiteral("D")); ok {
			r.fixTarget(d, where, depth+1)
		}
	}
}

// fixAction retargets GoTo actions, following /Next chains.
func (r *reduction) fixAction(act *raw.DictObj, where string, depth int) {
	if depth > maxTreeDepth || r.seenActions[act] {
		return
	}
	r.seenActions[act] = true
	if nameOf(dictGet(act, "S")) == "GoTo" {
		if d, ok := act.Get(raw.NameLiteral("D")); ok {
			r.fixTarget(d, where, depth+1)
		}
	}
	next, ok := act.Get(raw.NameLiteral("Next"))
	if !ok {
		return
	}
	if arr, ok := resolveArray(r.doc, next); ok {
		for _, item := range arr.Items {
			if a, ok := resolveDict(r.doc, item); ok {
				r.fixAction(a, where, depth+1)
			}
		}
		return
	}
	if a, ok := resolveDict(r.doc, next); ok {
		r.fixAction(a, where, depth+1)
	}
}

func (r *reduction) retargetOutlines() {
	outlines, ok := resolveDict(r.doc, dictGet(r.catalog, "Outlines"))
	if !ok {
		return
	}
	visited := make(map[raw.ObjectRef]bool)
	var stack []raw.Object
	if first, ok := outlines.Get(raw.NameLiteral("First")); ok {
		stack = append(stack, first)
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for cur != nil {
			ref, isRef := cur.(raw.Reference)
			if isRef {
				if visited[ref.Ref()] {
					break
				}
				visited[ref.Ref()] = true
			}
			item, ok := resolveDict(r.doc, cur)
			if !ok {
				break
			}
			where := fmt.Sprintf("outline item %q", decodeTextString(stringValue(dictGet(item, "Title"))))
			if dest, ok := item.Get(raw.NameLiteral("Dest")); ok {
				r.fixTarget(dest, where, 0)
			}
			if act, ok := resolveDict(r.doc, dictGet(item, "A")); ok {
				r.fixAction(act, where, 0)
			}
			if first, ok := item.Get(raw.NameLiteral("First")); ok {
				stack = append(stack, first)
			}
			cur = dictGet(item, "Next")
		}
	}
}

func (r *reduction) retargetNamedDests() {
	if dests, ok := resolveDict(r.doc, dictGet(r.catalog, "Dests")); ok {
		for _, key := range dests.SortedKeys() {
			where := fmt.Sprintf("named destination %q", key)
			if !r.fixNamedValue(dests.KV[key], where) {
				dests.Delete(raw.NameLiteral(key))
			}
		}
	}
	names, ok := resolveDict(r.doc, dictGet(r.catalog, "Names"))
	if !ok {
		return
	}
	if root, ok := names.Get(raw.NameLiteral("Dests")); ok {
		r.fixNameTree(root, make(map[raw.ObjectRef]bool), 0)
	}
}

func (r *reduction) fixNameTree(node raw.Object, visited map[raw.ObjectRef]bool, depth int) {
	if depth > maxTreeDepth {
		return
	}
	if ref, ok := node.(raw.Reference); ok {
		if visited[ref.Ref()] {
			return
		}
		visited[ref.Ref()] = true
	}
	dict, ok := resolveDict(r.doc, node)
	if !ok {
		return
	}
	if kids, ok := resolveArray(r.doc, dictGet(dict, "Kids")); ok {
		for _, kid := range kids.Items {
			r.fixNameTree(kid, visited, depth+1)
		}
	}
	pairs, ok := resolveArray(r.doc, dictGet(dict, "Names"))
	if !ok {
		return
	}
	kept := pairs.Items[:0]
	for i := 0; i+1 < len(pairs.Items); i += 2 {
		key, value := pairs.Items[i], pairs.Items[i+1]
		where := fmt.Sprintf("named destination %q", decodeTextString(stringValue(key)))
		if r.fixNamedValue(value, where) {
			kept = append(kept, key, value)
		}
	}
	pairs.Items = kept
}

// fixNamedValue retargets a named destination value. It returns false when
// the entry refers to a removed page without being a destination and must
// be dropped.
func (r *reduction) fixNamedValue(value raw.Object, where string) bool {
	switch v := r.doc.Resolve(value).(type) {
	case *raw.ArrayObj:
		r.fixExplicitDest(v, where)
		return true
	case *raw.DictObj:
		if _, ok := v.Get(raw.NameLiteral("D")); ok {
			r.fixTarget(v, where, 0)
			return true
		}
	}
	if r.refersToRemoved(value) {
		r.warn(Warning{Kind: DroppedReference, Page: -1, Where: where})
		return false
	}
	return true
}

func (r *reduction) refersToRemoved(obj raw.Object) bool {
	found := false
	check := func(ref raw.ObjectRef) {
		if _, ok := r.retarget[ref]; ok {
			found = true
		}
	}
	raw.VisitRefs(obj, check)
	if ref, ok := obj.(raw.Reference); ok {
		raw.VisitRefs(r.doc.Resolve(ref), check)
	}
	return found
}

// retargetLinks fixes link annotations on the surviving pages.
func (r *reduction) retargetLinks() {
	for _, p := range r.survivors {
		annots, ok := resolveArray(r.doc, dictGet(p.Dict, "Annots"))
		if !ok {
			continue
		}
		where := fmt.Sprintf("link annotation on page %d", p.Index+1)
		for _, a := range annots.Items {
			annot, ok := resolveDict(r.doc, a)
			if !ok || nameOf(dictGet(annot, "Subtype")) != "Link" {
				continue
			}
			if dest, ok := annot.Get(raw.NameLiteral("Dest")); ok {
				r.fixTarget(dest, where, 0)
			}
			if act, ok := resolveDict(r.doc, dictGet(annot, "A")); ok {
				r.fixAction(act, where, 0)
			}
		}
	}
}

func stringValue(obj raw.Object) []byte {
	if s, ok := obj.(raw.String); ok {
		return s.Value()
	}
	return nil
}
