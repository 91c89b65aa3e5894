package raw

// VisitRefs calls fn for every indirect reference contained in obj,
// descending into arrays, dictionaries and stream dictionaries. It does not
// follow references.
func VisitRefs(obj Object, fn func(ObjectRef)) {
	switch t := obj.(type) {
	case Reference:
		fn(t.Ref())
	case *ArrayObj:
		for _, item := range t.Items {
			VisitRefs(item, fn)
		}
	case *DictObj:
		for _, k := range t.SortedKeys() {
			VisitRefs(t.KV[k], fn)
		}
	case *StreamObj:
		if t.Dict != nil {
			VisitRefs(t.Dict, fn)
		}
	}
}

// RewriteRefs replaces references inside obj in place. fn receives each
// reference and returns the replacement object and true, or false to keep the
// reference. The returned Object is obj itself unless obj was a reference that
// got replaced.
func RewriteRefs(obj Object, fn func(ObjectRef) (Object, bool)) Object {
	switch t := obj.(type) {
	case Reference:
		if repl, ok := fn(t.Ref()); ok {
			return repl
		}
	case *ArrayObj:
		for i, item := range t.Items {
			t.Items[i] = RewriteRefs(item, fn)
		}
	case *DictObj:
		for k, v := range t.KV {
			t.KV[k] = RewriteRefs(v, fn)
		}
	case *StreamObj:
		if t.Dict != nil {
			RewriteRefs(t.Dict, fn)
		}
	}
	return obj
}

// RewriteAll applies RewriteRefs to every object in the arena and to the trailer.
func (d *Document) RewriteAll(fn func(ObjectRef) (Object, bool)) {
	for ref, obj := range d.Objects {
		d.Objects[ref] = RewriteRefs(obj, fn)
	}
	if d.Trailer != nil {
		RewriteRefs(d.Trailer, fn)
	}
}
