// Package optimize provides whole-graph post-processing passes over a
// raw.Document: unreferenced-object collection and sequential renumbering.
package optimize

import (
	"github.com/wudi/handoutify/ir/raw"
)

// PruneStats reports the outcome of Prune.
type PruneStats struct {
	Reachable int
	Removed   int
}

// Prune deletes every object that cannot be reached from the trailer.
func Prune(doc *raw.Document) PruneStats {
	if doc == nil {
		return PruneStats{}
	}

	reachable := make(map[raw.ObjectRef]bool)
	if doc.Trailer != nil {
		markReachable(doc, doc.Trailer, reachable)
	}

	var stats PruneStats
	for ref := range doc.Objects {
		if !reachable[ref] {
			delete(doc.Objects, ref)
			stats.Removed++
			continue
		}
		stats.Reachable++
	}
	return stats
}

func markReachable(doc *raw.Document, obj raw.Object, reachable map[raw.ObjectRef]bool) {
	if obj == nil {
		return
	}

	switch t := obj.(type) {
	case raw.Reference:
		ref := t.Ref()
		if reachable[ref] {
			return
		}
		target, ok := doc.Objects[ref]
		if !ok {
			return
		}
		reachable[ref] = true
		markReachable(doc, target, reachable)
	case raw.Array:
		for i := 0; i < t.Len(); i++ {
			v, _ := t.Get(i)
			markReachable(doc, v, reachable)
		}
	case raw.Dictionary:
		for _, k := range t.Keys() {
			v, _ := t.Get(k)
			markReachable(doc, v, reachable)
		}
	case raw.Stream:
		markReachable(doc, t.Dictionary(), reachable)
	}
}

// trailerOrder lists the trailer keys visited first when numbering.
var trailerOrder = []string{"Root", "Info", "Encrypt"}

// Renumber relabels every object to 1..n with generation 0 in breadth-first
// order from the trailer. Objects not reachable from the trailer follow in
// their previous order. All references, including the trailer's, are
// rewritten; references to objects that do not exist become null. The
// returned map goes from old to new identity.
func Renumber(doc *raw.Document) map[raw.ObjectRef]raw.ObjectRef {
	mapping := make(map[raw.ObjectRef]raw.ObjectRef, len(doc.Objects))
	next := 1
	var queue []raw.ObjectRef
	discover := func(ref raw.ObjectRef) {
		if _, seen := mapping[ref]; seen {
			return
		}
		if _, ok := doc.Objects[ref]; !ok {
			return
		}
		mapping[ref] = raw.ObjectRef{Num: next}
		next++
		queue = append(queue, ref)
	}

	if doc.Trailer != nil {
		for _, key := range trailerOrder {
			if v, ok := doc.Trailer.Get(raw.NameLiteral(key)); ok {
				raw.VisitRefs(v, discover)
			}
		}
		raw.VisitRefs(doc.Trailer, discover)
	}
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		raw.VisitRefs(doc.Objects[ref], discover)
	}
	for _, ref := range doc.Refs() {
		discover(ref)
	}

	rewrite := func(ref raw.ObjectRef) (raw.Object, bool) {
		if to, ok := mapping[ref]; ok {
			return raw.RefTo(to), true
		}
		return raw.NullObj{}, true
	}
	objects := make(map[raw.ObjectRef]raw.Object, len(doc.Objects))
	for old, obj := range doc.Objects {
		objects[mapping[old]] = raw.RewriteRefs(obj, rewrite)
	}
	doc.Objects = objects
	if doc.Trailer != nil {
		raw.RewriteRefs(doc.Trailer, rewrite)
	}
	return mapping
}
