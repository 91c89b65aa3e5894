package optimize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wudi/handoutify/ir/raw"
)

func ref(num int) raw.ObjectRef { return raw.ObjectRef{Num: num} }

// graph: trailer -> 10 (catalog) -> 20 -> 30; 30 -> 20 (cycle);
// 40 <-> 50 is an unreachable cycle; 60 is an unreachable leaf.
func sampleGraph() *raw.Document {
	doc := raw.NewDocument("1.7")
	catalog := raw.Dict()
	catalog.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	catalog.Set(raw.NameLiteral("Pages"), raw.Ref(20, 0))
	doc.Objects[ref(10)] = catalog

	pages := raw.Dict()
	pages.Set(raw.NameLiteral("Kids"), raw.NewArray(raw.Ref(30, 0)))
	doc.Objects[ref(20)] = pages

	page := raw.Dict()
	page.Set(raw.NameLiteral("Parent"), raw.Ref(20, 0))
	contents := raw.Dict()
	page.Set(raw.NameLiteral("Contents"), raw.Ref(70, 0))
	doc.Objects[ref(30)] = page
	doc.Objects[ref(70)] = raw.NewStream(contents, []byte("q Q"))

	a := raw.Dict()
	a.Set(raw.NameLiteral("Next"), raw.Ref(50, 0))
	b := raw.Dict()
	b.Set(raw.NameLiteral("Next"), raw.Ref(40, 0))
	doc.Objects[ref(40)] = a
	doc.Objects[ref(50)] = b
	doc.Objects[ref(60)] = raw.NumberInt(7)

	doc.Trailer.Set(raw.NameLiteral("Root"), raw.Ref(10, 0))
	return doc
}

func TestPruneRemovesUnreachable(t *testing.T) {
	doc := sampleGraph()
	stats := Prune(doc)
	require.Equal(t, PruneStats{Reachable: 4, Removed: 3}, stats)
	for _, num := range []int{10, 20, 30, 70} {
		require.Contains(t, doc.Objects, ref(num))
	}
	for _, num := range []int{40, 50, 60} {
		require.NotContains(t, doc.Objects, ref(num))
	}

	// A second pass finds nothing to do.
	require.Equal(t, PruneStats{Reachable: 4}, Prune(doc))
}

func TestPruneKeepsInfoAndStreamDictRefs(t *testing.T) {
	doc := sampleGraph()
	info := raw.Dict()
	info.Set(raw.NameLiteral("Title"), raw.Str([]byte("x")))
	doc.Objects[ref(80)] = info
	doc.Trailer.Set(raw.NameLiteral("Info"), raw.Ref(80, 0))

	st := doc.Objects[ref(70)].(*raw.StreamObj)
	st.Dict.Set(raw.NameLiteral("Length"), raw.Ref(60, 0))

	Prune(doc)
	require.Contains(t, doc.Objects, ref(80))
	require.Contains(t, doc.Objects, ref(60), "stream dictionary references are followed")
}

func TestPruneDanglingReference(t *testing.T) {
	doc := sampleGraph()
	doc.Objects[ref(20)].(*raw.DictObj).Set(raw.NameLiteral("Extra"), raw.Ref(999, 0))
	stats := Prune(doc)
	require.Equal(t, 4, stats.Reachable)
	require.Len(t, doc.Objects, 4)
}

func TestRenumberBreadthFirst(t *testing.T) {
	doc := sampleGraph()
	mapping := Renumber(doc)

	require.Equal(t, map[raw.ObjectRef]raw.ObjectRef{
		ref(10): ref(1),
		ref(20): ref(2),
		ref(30): ref(3),
		ref(70): ref(4),
		ref(40): ref(5),
		ref(50): ref(6),
		ref(60): ref(7),
	}, mapping)

	require.Len(t, doc.Objects, 7)
	require.Equal(t, 7, doc.MaxObjectNumber())
	root, _ := doc.Trailer.Get(raw.NameLiteral("Root"))
	require.Equal(t, ref(1), root.(raw.Reference).Ref())

	cat, _, ok := doc.Catalog()
	require.True(t, ok)
	pages, _ := cat.Get(raw.NameLiteral("Pages"))
	require.Equal(t, ref(2), pages.(raw.Reference).Ref())

	page := doc.Objects[ref(3)].(*raw.DictObj)
	parent, _ := page.Get(raw.NameLiteral("Parent"))
	require.Equal(t, ref(2), parent.(raw.Reference).Ref())

	next, _ := doc.Objects[ref(5)].(*raw.DictObj).Get(raw.NameLiteral("Next"))
	require.Equal(t, ref(6), next.(raw.Reference).Ref())
}

func TestRenumberConsistentRelabeling(t *testing.T) {
	doc := sampleGraph()
	doc.Objects[raw.ObjectRef{Num: 90, Gen: 3}] = raw.NumberInt(1)
	doc.Objects[ref(30)].(*raw.DictObj).Set(raw.NameLiteral("Old"), raw.Ref(90, 3))

	mapping := Renumber(doc)
	require.Len(t, mapping, 8)

	seen := make(map[int]bool)
	for r := range doc.Objects {
		require.Zero(t, r.Gen)
		require.GreaterOrEqual(t, r.Num, 1)
		require.LessOrEqual(t, r.Num, len(doc.Objects))
		seen[r.Num] = true
	}
	require.Len(t, seen, len(doc.Objects))

	for _, obj := range doc.Objects {
		raw.VisitRefs(obj, func(r raw.ObjectRef) {
			require.Contains(t, doc.Objects, r)
		})
	}
}

func TestRenumberDanglingBecomesNull(t *testing.T) {
	doc := sampleGraph()
	doc.Objects[ref(20)].(*raw.DictObj).Set(raw.NameLiteral("Extra"), raw.Ref(3, 0))
	Renumber(doc)
	pages := doc.Objects[ref(2)].(*raw.DictObj)
	extra, ok := pages.Get(raw.NameLiteral("Extra"))
	require.True(t, ok)
	require.Equal(t, raw.NullObj{}, extra)
}

func TestRenumberIsStable(t *testing.T) {
	doc := sampleGraph()
	Prune(doc)
	Renumber(doc)
	second := Renumber(doc)
	for from, to := range second {
		require.Equal(t, from, to)
	}
}
