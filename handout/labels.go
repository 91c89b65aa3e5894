package handout

import (
	"sort"

	"github.com/wudi/handoutify/ir/raw"
)

type labelRange struct {
	start int
	style *raw.DictObj
}

// rebuildPageLabels rewrites the catalog's /PageLabels number tree over the
// new page indices so every surviving page keeps the label it had. Nested
// /Kids are flattened into a single /Nums array.
func (r *reduction) rebuildPageLabels() {
	tree, ok := resolveDict(r.doc, dictGet(r.catalog, "PageLabels"))
	if !ok {
		return
	}
	ranges := collectLabelRanges(r.doc, tree, make(map[raw.ObjectRef]bool), 0)
	if len(ranges) == 0 {
		return
	}
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	var nums []raw.Object
	prevRange, prevNumber := -2, 0
	for newIndex, p := range r.survivors {
		ri := sort.Search(len(ranges), func(i int) bool { return ranges[i].start > p.Index }) - 1
		var style *raw.DictObj
		number := p.Index + 1
		if ri >= 0 {
			style = ranges[ri].style
			number = labelStart(style) + p.Index - ranges[ri].start
		}
		if newIndex == 0 || ri != prevRange || number != prevNumber+1 {
			nums = append(nums, raw.NumberInt(int64(newIndex)), labelDict(style, number))
		}
		prevRange, prevNumber = ri, number
	}

	tree.Set(raw.NameLiteral("Nums"), raw.NewArray(nums...))
	tree.Delete(raw.NameLiteral("Kids"))
	tree.Delete(raw.NameLiteral("Limits"))
}

func collectLabelRanges(doc *raw.Document, node *raw.DictObj, visited map[raw.ObjectRef]bool, depth int) []labelRange {
	if depth > maxTreeDepth {
		return nil
	}
	var out []labelRange
	if nums, ok := resolveArray(doc, dictGet(node, "Nums")); ok {
		for i := 0; i+1 < len(nums.Items); i += 2 {
			key, ok := doc.Resolve(nums.Items[i]).(raw.Number)
			if !ok || !key.IsInteger() || key.Int() < 0 {
				continue
			}
			style, _ := resolveDict(doc, nums.Items[i+1])
			if style == nil {
				style = raw.Dict()
			}
			out = append(out, labelRange{start: int(key.Int()), style: style})
		}
	}
	if kids, ok := resolveArray(doc, dictGet(node, "Kids")); ok {
		for _, kid := range kids.Items {
			if ref, ok := kid.(raw.Reference); ok {
				if visited[ref.Ref()] {
					continue
				}
				visited[ref.Ref()] = true
			}
			if child, ok := resolveDict(doc, kid); ok {
				out = append(out, collectLabelRanges(doc, child, visited, depth+1)...)
			}
		}
	}
	return out
}

func labelStart(style *raw.DictObj) int {
	if n, ok := dictGet(style, "St").(raw.Number); ok && n.IsInteger() && n.Int() >= 1 {
		return int(n.Int())
	}
	return 1
}

// labelDict copies the numbering style and prefix of style and starts it at
// number. A nil style means plain decimal numbering.
func labelDict(style *raw.DictObj, number int) *raw.DictObj {
	d := raw.Dict()
	if style == nil {
		d.Set(raw.NameLiteral("S"), raw.NameLiteral("D"))
	} else {
		for _, key := range []string{"S", "P"} {
			if v, ok := style.Get(raw.NameLiteral(key)); ok {
				d.Set(raw.NameLiteral(key), v)
			}
		}
	}
	if number != 1 {
		d.Set(raw.NameLiteral("St"), raw.NumberInt(int64(number)))
	}
	return d
}
