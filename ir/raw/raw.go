package raw

import (
	"context"
	"fmt"
	"io"
	"sort"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Dictionary represents a PDF dictionary object.
type Dictionary interface {
	Object
	Get(key Name) (Object, bool)
	Set(key Name, value Object)
	Delete(key Name)
	Keys() []Name
	Len() int
}

// Array represents a PDF array object.
type Array interface {
	Object
	Get(index int) (Object, bool)
	Len() int
	Append(obj Object)
}

// Stream represents a raw (undecoded) PDF stream.
type Stream interface {
	Object
	Dictionary() Dictionary
	RawData() []byte
	Length() int64
}

// Name represents a PDF name object.
type Name interface {
	Object
	Value() string
}

// String represents a PDF string (literal or hex).
type String interface {
	Object
	Value() []byte
	IsHex() bool
}

// Number represents a PDF numeric value.
type Number interface {
	Object
	Int() int64
	Float() float64
	IsInteger() bool
}

// Boolean represents a PDF boolean.
type Boolean interface {
	Object
	Value() bool
}

// Null represents the PDF null object.
type Null interface{ Object }

// Reference represents an indirect object reference.
type Reference interface {
	Object
	Ref() ObjectRef
}

// Document is the mutable object graph of one PDF file. Objects are
// addressed by their stable ObjectRef; all structure is expressed as
// references between entries of Objects and the Trailer.
type Document struct {
	Objects map[ObjectRef]Object
	Trailer *DictObj
	Version string // e.g., "1.7"
}

// NewDocument returns an empty document with an initialized arena.
func NewDocument(version string) *Document {
	return &Document{
		Objects: make(map[ObjectRef]Object),
		Trailer: Dict(),
		Version: version,
	}
}

// Lookup returns the object stored under ref.
func (d *Document) Lookup(ref ObjectRef) (Object, bool) {
	obj, ok := d.Objects[ref]
	return obj, ok
}

// Resolve follows a single indirect reference. Direct objects are returned
// unchanged; a reference to a missing object resolves to nil.
func (d *Document) Resolve(obj Object) Object {
	ref, ok := obj.(Reference)
	if !ok {
		return obj
	}
	target, ok := d.Objects[ref.Ref()]
	if !ok {
		return nil
	}
	return target
}

// Add stores obj under the next free object number and returns its reference.
func (d *Document) Add(obj Object) ObjectRef {
	ref := ObjectRef{Num: d.MaxObjectNumber() + 1}
	d.Objects[ref] = obj
	return ref
}

// Delete removes ref from the arena. References to it elsewhere are not touched.
func (d *Document) Delete(ref ObjectRef) {
	delete(d.Objects, ref)
}

// MaxObjectNumber returns the highest object number in use.
func (d *Document) MaxObjectNumber() int {
	highest := 0
	for ref := range d.Objects {
		if ref.Num > highest {
			highest = ref.Num
		}
	}
	return highest
}

// Refs returns all object references in ascending (Num, Gen) order.
func (d *Document) Refs() []ObjectRef {
	refs := make([]ObjectRef, 0, len(d.Objects))
	for ref := range d.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})
	return refs
}

// Catalog resolves the trailer's /Root entry.
func (d *Document) Catalog() (*DictObj, ObjectRef, bool) {
	if d.Trailer == nil {
		return nil, ObjectRef{}, false
	}
	root, ok := d.Trailer.Get(NameLiteral("Root"))
	if !ok {
		return nil, ObjectRef{}, false
	}
	ref, ok := root.(Reference)
	if !ok {
		return nil, ObjectRef{}, false
	}
	cat, ok := d.Objects[ref.Ref()].(*DictObj)
	if !ok {
		return nil, ObjectRef{}, false
	}
	return cat, ref.Ref(), true
}

// Parser converts bytes into a raw.Document.
type Parser interface {
	Parse(ctx context.Context, r io.ReaderAt) (*Document, error)
}
