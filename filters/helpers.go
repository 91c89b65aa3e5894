package filters

import "github.com/wudi/handoutify/ir/raw"

// ExtractFilters lists the /Filter chain of a stream dictionary with its
// /DecodeParms aligned by index. A parameter that is null, absent or not a
// dictionary is nil.
func ExtractFilters(dict raw.Dictionary) ([]string, []raw.Dictionary) {
	names := filterNames(dictValue(dict, "Filter"))
	if len(names) == 0 {
		return nil, nil
	}
	params := make([]raw.Dictionary, len(names))
	switch p := dictValue(dict, "DecodeParms").(type) {
	case *raw.DictObj:
		params[0] = p
	case *raw.ArrayObj:
		for i := 0; i < len(p.Items) && i < len(names); i++ {
			if d, ok := p.Items[i].(*raw.DictObj); ok {
				params[i] = d
			}
		}
	}
	return names, params
}

func filterNames(obj raw.Object) []string {
	switch f := obj.(type) {
	case raw.Name:
		return []string{f.Value()}
	case *raw.ArrayObj:
		names := make([]string, 0, len(f.Items))
		for _, item := range f.Items {
			if n, ok := item.(raw.Name); ok {
				names = append(names, n.Value())
			}
		}
		return names
	}
	return nil
}

func dictValue(dict raw.Dictionary, key string) raw.Object {
	if dict == nil {
		return nil
	}
	v, _ := dict.Get(raw.NameLiteral(key))
	return v
}
